// Package registry holds the step handler table the executor dispatches on.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"plugin"
	"slices"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/protocol"
)

var ErrNoHandler = errors.New("no handler registered for step type")

// Registry maps step types to handlers. Registration is additive; a later
// registration for the same type replaces the earlier one.
type Registry struct {
	logger   *slog.Logger
	handlers map[models.StepType]protocol.StepHandler
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:   log,
		handlers: make(map[models.StepType]protocol.StepHandler),
	}
}

func (r *Registry) Register(handler protocol.StepHandler) {
	r.handlers[handler.Type()] = handler
	r.logger.Debug("Registered step handler", "type", handler.Type())
}

// RegisterDefault registers handler unless its type already has one, so
// plugins loaded earlier take precedence over built-ins.
func (r *Registry) RegisterDefault(handler protocol.StepHandler) {
	if _, ok := r.handlers[handler.Type()]; ok {
		r.logger.Info("Keeping plugin step handler", "type", handler.Type())

		return
	}

	r.Register(handler)
}

// Handler returns the handler for stepType or ErrNoHandler.
func (r *Registry) Handler(stepType models.StepType) (protocol.StepHandler, error) {
	handler, ok := r.handlers[stepType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, stepType)
	}

	return handler, nil
}

// Types returns the registered step types in sorted order.
func (r *Registry) Types() []models.StepType {
	types := make([]models.StepType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}

	slices.Sort(types)

	return types
}

// LoadStepPlugins loads every <pluginsPath>/steps/**/*.so exporting a
// StepHandler symbol and registers it.
func (r *Registry) LoadStepPlugins(pluginsPath string) error {
	handlers, err := loadPlugin[protocol.StepHandler](r.logger, pluginsPath+"/steps", "StepHandler")
	if err != nil {
		return err
	}

	for _, h := range handlers {
		r.Register(h)
	}

	return nil
}

func loadPlugin[T any](logger *slog.Logger, rootPath string, symbolName string) ([]T, error) {
	root := os.DirFS(rootPath)

	pluginPathList, err := fs.Glob(root, "**/*.so")
	if err != nil {
		return nil, fmt.Errorf("failed to list plugins in %s: %w", rootPath, err)
	}

	l := logger.With(slog.String("path", rootPath), slog.String("symbol", symbolName))
	l.Info("Loading plugins", "count", len(pluginPathList))

	pluginList := make([]T, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(rootPath + "/" + p)
		if err != nil {
			return nil, fmt.Errorf("failed to open plugin %s: %w", p, err)
		}

		v, err := plg.Lookup(symbolName)
		if err != nil {
			return nil, fmt.Errorf("failed to lookup %s in plugin %s: %w", symbolName, p, err)
		}

		castV, ok := v.(T)
		if !ok {
			return nil, fmt.Errorf("plugin %s: symbol %s has unexpected type %T", p, symbolName, v)
		}

		pluginList = append(pluginList, castV)

		l.Info("Loaded plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}
