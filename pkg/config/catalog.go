// Package config loads the YAML catalog of global step templates and API
// connections that is seeded into the store at startup.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"gopkg.in/yaml.v3"
)

// CatalogActor is recorded as the author of seeded entries.
const CatalogActor = "catalog"

// CatalogFile represents the structure of the catalog.yaml file.
type CatalogFile struct {
	StepTemplates  []any `yaml:"step_templates"`
	APIConnections []any `yaml:"api_connections"`
}

// Catalog is the decoded catalog.
type Catalog struct {
	StepTemplates  []*models.StepTemplate
	APIConnections []*models.APIConnection
}

// LoadCatalog loads the catalog from a YAML file. Entries are decoded through
// their JSON form so they accept the same shapes as the HTTP API.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file %s: %w", path, err)
	}

	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var file CatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML catalog: %w", err)
	}

	catalog := &Catalog{}

	for i, raw := range file.StepTemplates {
		var tmpl models.StepTemplate
		if err := reencode(raw, &tmpl); err != nil {
			return nil, fmt.Errorf("step_templates[%d]: %w", i, err)
		}

		catalog.StepTemplates = append(catalog.StepTemplates, &tmpl)
	}

	for i, raw := range file.APIConnections {
		var conn models.APIConnection
		if err := reencode(raw, &conn); err != nil {
			return nil, fmt.Errorf("api_connections[%d]: %w", i, err)
		}

		catalog.APIConnections = append(catalog.APIConnections, &conn)
	}

	return catalog, ValidateCatalog(catalog)
}

// LoadCatalogOrEmpty returns an empty catalog when path is empty or missing.
func LoadCatalogOrEmpty(path string) (*Catalog, error) {
	if path == "" {
		return &Catalog{}, nil
	}

	catalog, err := LoadCatalog(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Catalog{}, nil
	}

	return catalog, err
}

// ValidateCatalog checks every entry and requires ids to be set and unique.
func ValidateCatalog(catalog *Catalog) error {
	seen := make(map[string]struct{})

	for i, tmpl := range catalog.StepTemplates {
		if tmpl.ID == "" {
			return fmt.Errorf("step_templates[%d]: id is required", i)
		}

		if _, dup := seen["template/"+tmpl.ID]; dup {
			return fmt.Errorf("step_templates[%d]: duplicate id %q", i, tmpl.ID)
		}

		seen["template/"+tmpl.ID] = struct{}{}

		if err := tmpl.Validate(); err != nil {
			return fmt.Errorf("step_templates[%d]: %w", i, err)
		}
	}

	for i, conn := range catalog.APIConnections {
		if conn.ID == "" {
			return fmt.Errorf("api_connections[%d]: id is required", i)
		}

		if _, dup := seen["connection/"+conn.ID]; dup {
			return fmt.Errorf("api_connections[%d]: duplicate id %q", i, conn.ID)
		}

		seen["connection/"+conn.ID] = struct{}{}

		if err := conn.Validate(); err != nil {
			return fmt.Errorf("api_connections[%d]: %w", i, err)
		}
	}

	return nil
}

// Seed writes the catalog into the store, replacing entries with the same id.
func (c *Catalog) Seed(ctx context.Context, store persistence.Persistence, now time.Time) error {
	for _, tmpl := range c.StepTemplates {
		tmpl.Touch(CatalogActor, now)

		if err := store.StepTemplateRepository().Save(ctx, tmpl); err != nil {
			return fmt.Errorf("failed to seed step template %s: %w", tmpl.ID, err)
		}
	}

	for _, conn := range c.APIConnections {
		conn.Touch(CatalogActor, now)

		if err := store.APIConnectionRepository().Save(ctx, conn); err != nil {
			return fmt.Errorf("failed to seed api connection %s: %w", conn.ID, err)
		}
	}

	return nil
}

func reencode(in any, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}

	return json.Unmarshal(raw, out)
}
