package repository

import (
	"context"
	"sort"

	"github.com/pesio-ai/be-asset-custody/internal/domain"
	"github.com/pesio-ai/be-asset-custody/internal/platform/database"
	"github.com/pesio-ai/be-asset-custody/internal/platform/errors"
)

// AssetRepository reads and relocates inventory assets. Location columns
// are written only through Relocate.
type AssetRepository struct {
	db *database.DB
}

// NewAssetRepository creates a new asset repository.
func NewAssetRepository(db *database.DB) *AssetRepository {
	return &AssetRepository{db: db}
}

// Create inserts an asset.
func (r *AssetRepository) Create(ctx context.Context, a *domain.Asset) error {
	query := `
		INSERT INTO assets (id, property_number, description,
		                    building_id, building_room_id, unit_or_department_id, sub_area_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		a.ID,
		a.PropertyNumber,
		a.Description,
		a.Location.BuildingID,
		a.Location.BuildingRoomID,
		a.Location.UnitOrDepartmentID,
		a.Location.SubAreaID,
	).Scan(&a.UpdatedAt)
	if database.HasCode(err, database.CodeUniqueViolation) {
		return errors.Conflict("asset " + a.PropertyNumber + " already exists")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create asset")
	}
	return nil
}

// GetByID retrieves one asset.
func (r *AssetRepository) GetByID(ctx context.Context, id string) (*domain.Asset, error) {
	query := `
		SELECT id, property_number, description,
		       building_id, building_room_id, unit_or_department_id, sub_area_id,
		       updated_at
		FROM assets
		WHERE id = $1
	`

	a := &domain.Asset{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&a.ID,
		&a.PropertyNumber,
		&a.Description,
		&a.Location.BuildingID,
		&a.Location.BuildingRoomID,
		&a.Location.UnitOrDepartmentID,
		&a.Location.SubAreaID,
		&a.UpdatedAt,
	)
	if isNoRows(err) {
		return nil, errors.NotFound("asset", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get asset")
	}
	return a, nil
}

// LockLocations returns the current location of every existing asset in
// ids and row-locks them. Ids are locked in sorted order.
func (r *AssetRepository) LockLocations(ctx context.Context, ids []string) (map[string]domain.Location, error) {
	out := make(map[string]domain.Location, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	query := `
		SELECT id, building_id, building_room_id, unit_or_department_id, sub_area_id
		FROM assets
		WHERE id = ANY($1::uuid[])
		ORDER BY id
		FOR UPDATE
	`

	rows, err := r.db.Query(ctx, query, sorted)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to lock assets")
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var loc domain.Location
		if err := rows.Scan(&id, &loc.BuildingID, &loc.BuildingRoomID, &loc.UnitOrDepartmentID, &loc.SubAreaID); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan asset location")
		}
		out[id] = loc
	}
	if err := rows.Err(); err != nil {
		return nil, lockError(err, "asset", "")
	}
	return out, nil
}

// Relocate moves an asset. A deleted asset is reported as not found.
func (r *AssetRepository) Relocate(ctx context.Context, id string, loc domain.Location) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE assets
		SET building_id           = $2,
		    building_room_id      = $3,
		    unit_or_department_id = $4,
		    sub_area_id           = $5,
		    updated_at            = NOW()
		WHERE id = $1
	`, id, loc.BuildingID, loc.BuildingRoomID, loc.UnitOrDepartmentID, loc.SubAreaID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to relocate asset")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("asset", id)
	}
	return nil
}

// ExistingSubAreas returns which of ids exist.
func (r *AssetRepository) ExistingSubAreas(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.db.Query(ctx, `SELECT id FROM sub_areas WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get sub-areas")
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan sub-area")
		}
		out[id] = true
	}
	return out, rows.Err()
}

// CreateSubArea inserts a sub-area.
func (r *AssetRepository) CreateSubArea(ctx context.Context, sa *domain.SubArea) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO sub_areas (id, building_room_id, name) VALUES ($1, $2, $3)`,
		sa.ID, sa.BuildingRoomID, sa.Name)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create sub-area")
	}
	return nil
}
