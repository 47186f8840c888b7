// Command import_catalog loads a crawler snapshot (records and diagnostics)
// into a project.
//
//	import_catalog -project 3 -file snapshot.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"

	"github.com/storepilot/backend/internal/config"
	"github.com/storepilot/backend/internal/models"
	"github.com/storepilot/backend/internal/services"
	"github.com/storepilot/backend/pkg/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config.yaml")
	projectID := flag.Uint("project", 0, "target project id")
	file := flag.String("file", "", "snapshot JSON file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load config")
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	if *projectID == 0 || *file == "" {
		logger.Fatal().Msg("-project and -file are required")
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		logger.Fatal().Err(err).Str("file", *file).Msg("Failed to read snapshot")
	}
	var snap services.CatalogSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		logger.Fatal().Err(err).Msg("Failed to parse snapshot")
	}

	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect database")
	}
	if err := models.AutoMigrate(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to migrate database")
	}

	res, err := services.ImportCatalog(context.Background(), models.GetDB(), uint(*projectID), &snap)
	if err != nil {
		logger.Fatal().Err(err).Uint("project_id", uint(*projectID)).Msg("Import failed")
	}
	logger.Info().
		Uint("project_id", uint(*projectID)).
		Int("records_upserted", res.RecordsUpserted).
		Int("issues_resolved", res.IssuesResolved).
		Int("issues_created", res.IssuesCreated).
		Msg("Catalog imported")
}
