// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/dukex/procflow/pkg/registry"
)

// NewRegistry creates a step registry and loads step plugins from
// pluginsPath/steps when that directory exists. Built-in handlers are
// registered by the engine.
func NewRegistry(log *slog.Logger, pluginsPath string) (*registry.Registry, error) {
	reg := registry.NewRegistry(log)

	if pluginsPath == "" {
		return reg, nil
	}

	if _, err := os.Stat(pluginsPath + "/steps"); os.IsNotExist(err) {
		return reg, nil
	}

	if err := reg.LoadStepPlugins(pluginsPath); err != nil {
		return nil, fmt.Errorf("failed to load step plugins: %w", err)
	}

	return reg, nil
}
