package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dukex/procflow/pkg/config"
	"github.com/dukex/procflow/pkg/log"
	"github.com/dukex/procflow/pkg/models"
	cli "github.com/urfave/cli/v3"
)

var errInvalidFiles = errors.New("one or more files are invalid")

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate a catalog file and process definition JSON files without starting the engine",
		ArgsUsage: "[process.json ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "catalog-path",
				Usage:   "YAML catalog of global step templates and API connections",
				Sources: cli.EnvVars("CATALOG_PATH"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("validate")

			failed := false

			if path := command.String("catalog-path"); path != "" {
				catalog, err := config.LoadCatalog(path)
				if err != nil {
					logger.ErrorContext(ctx, "Invalid catalog", "path", path, "error", err)

					failed = true
				} else {
					logger.InfoContext(ctx, "Catalog is valid",
						"path", path,
						"step_templates", len(catalog.StepTemplates),
						"api_connections", len(catalog.APIConnections))
				}
			}

			for _, path := range command.Args().Slice() {
				def, err := loadDefinition(path)
				if err != nil {
					logger.ErrorContext(ctx, "Invalid process definition", "path", path, "error", err)

					failed = true

					continue
				}

				logger.InfoContext(ctx, "Process definition is valid", "path", path, "name", def.Name, "steps", len(def.Steps))
			}

			if failed {
				return errInvalidFiles
			}

			return nil
		},
	}
}

func loadDefinition(path string) (*models.ProcessDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var def models.ProcessDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	return &def, nil
}
