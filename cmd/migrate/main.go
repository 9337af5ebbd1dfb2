// Command migrate applies the custody schema and optionally loads a YAML seed
// of sub-areas and assets.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pesio-ai/be-asset-custody/internal/platform/config"
	"github.com/pesio-ai/be-asset-custody/internal/platform/database"
	"github.com/pesio-ai/be-asset-custody/internal/platform/logger"
	"github.com/pesio-ai/be-asset-custody/internal/repository"
)

func main() {
	seedPath := flag.String("seed", "", "YAML file of sub-areas and assets to load after migrating")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall timeout")
	flag.Parse()

	var cfg config.Config
	if err := config.ParseEnv(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name + "-migrate",
		Version:     cfg.Service.Version,
	})

	var seed *repository.Seed
	if *seedPath != "" {
		data, err := os.ReadFile(*seedPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *seedPath).Msg("Failed to read seed")
		}
		seed, err = repository.ParseSeed(data)
		if err != nil {
			log.Fatal().Err(err).Str("path", *seedPath).Msg("Invalid seed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: 2,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if _, err := db.Exec(ctx, repository.Schema()); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply schema")
	}
	log.Info().Str("database", cfg.Database.Database).Msg("Schema applied")

	if seed == nil {
		return
	}
	err = db.InTransaction(ctx, func(ctx context.Context) error {
		return seed.Apply(ctx, repository.NewAssetRepository(db))
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load seed")
	}
	log.Info().
		Int("sub_areas", len(seed.SubAreas)).
		Int("assets", len(seed.Assets)).
		Msg("Seed loaded")
}
