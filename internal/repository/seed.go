package repository

import (
	"context"
	"fmt"

	"go.yaml.in/yaml/v3"

	"github.com/pesio-ai/be-asset-custody/internal/domain"
)

// Seed is a YAML fixture of sub-areas and assets loaded by cmd/migrate.
type Seed struct {
	SubAreas []SeedSubArea `yaml:"sub_areas"`
	Assets   []SeedAsset   `yaml:"assets"`
}

type SeedSubArea struct {
	ID             string `yaml:"id"`
	BuildingRoomID string `yaml:"building_room_id"`
	Name           string `yaml:"name"`
}

type SeedAsset struct {
	ID                 string  `yaml:"id"`
	PropertyNumber     string  `yaml:"property_number"`
	Description        string  `yaml:"description"`
	BuildingID         string  `yaml:"building_id"`
	BuildingRoomID     string  `yaml:"building_room_id"`
	UnitOrDepartmentID string  `yaml:"unit_or_department_id"`
	SubAreaID          *string `yaml:"sub_area_id"`
}

// SeedTarget is where a Seed is written.
type SeedTarget interface {
	CreateSubArea(ctx context.Context, sa *domain.SubArea) error
	Create(ctx context.Context, a *domain.Asset) error
}

// ParseSeed decodes a YAML seed and checks that every asset's sub-area is
// declared in the same file.
func ParseSeed(data []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	areas := make(map[string]string, len(s.SubAreas))
	for i, sa := range s.SubAreas {
		if sa.ID == "" || sa.BuildingRoomID == "" {
			return nil, fmt.Errorf("sub_areas[%d]: id and building_room_id are required", i)
		}
		areas[sa.ID] = sa.BuildingRoomID
	}
	for i, a := range s.Assets {
		if a.ID == "" || a.PropertyNumber == "" {
			return nil, fmt.Errorf("assets[%d]: id and property_number are required", i)
		}
		if a.SubAreaID == nil {
			continue
		}
		room, ok := areas[*a.SubAreaID]
		if !ok {
			return nil, fmt.Errorf("assets[%d]: unknown sub_area_id %q", i, *a.SubAreaID)
		}
		if room != a.BuildingRoomID {
			return nil, fmt.Errorf("assets[%d]: sub-area %q is not in room %q", i, *a.SubAreaID, a.BuildingRoomID)
		}
	}
	return &s, nil
}

// Apply writes the seed to t, sub-areas first.
func (s *Seed) Apply(ctx context.Context, t SeedTarget) error {
	for _, sa := range s.SubAreas {
		if err := t.CreateSubArea(ctx, &domain.SubArea{ID: sa.ID, BuildingRoomID: sa.BuildingRoomID, Name: sa.Name}); err != nil {
			return fmt.Errorf("sub-area %s: %w", sa.ID, err)
		}
	}
	for _, a := range s.Assets {
		site := domain.Site{BuildingID: a.BuildingID, BuildingRoomID: a.BuildingRoomID, UnitOrDepartmentID: a.UnitOrDepartmentID}
		err := t.Create(ctx, &domain.Asset{
			ID:             a.ID,
			PropertyNumber: a.PropertyNumber,
			Description:    a.Description,
			Location:       site.At(a.SubAreaID),
		})
		if err != nil {
			return fmt.Errorf("asset %s: %w", a.ID, err)
		}
	}
	return nil
}
