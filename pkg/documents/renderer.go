// Package documents renders document_generation templates into files under a
// root directory, one folder per company and instance.
package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dukex/procflow/pkg/protocol"
	"github.com/dukex/procflow/pkg/template"
	"github.com/google/uuid"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrInvalidJSON       = errors.New("rendered document is not valid JSON")

	unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

var formats = map[string]struct{}{"txt": {}, "md": {}, "html": {}, "json": {}, "csv": {}}

type FileRenderer struct {
	root   string
	logger *slog.Logger
}

func NewFileRenderer(root string, logger *slog.Logger) *FileRenderer {
	return &FileRenderer{root: root, logger: logger.With("module", "documents")}
}

// Render executes req.Template against req.Data and writes the result.
// Documents are never overwritten; every render gets a fresh id.
func (r *FileRenderer) Render(ctx context.Context, req protocol.DocumentRequest) (*protocol.Document, error) {
	format := strings.ToLower(req.Format)
	if _, ok := formats[format]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, req.Format)
	}

	content, err := template.RenderString(req.Template, req.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to render document template: %w", err)
	}

	if format == "json" && !json.Valid([]byte(content)) {
		return nil, ErrInvalidJSON
	}

	id := uuid.Must(uuid.NewV7()).String()

	name := sanitize(req.Name)
	if name == "" {
		name = "document"
	}

	if !strings.HasSuffix(name, "."+format) {
		name += "." + format
	}

	dir := filepath.Join(r.root, sanitize(req.CompanyID), sanitize(req.InstanceID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create document directory: %w", err)
	}

	path := filepath.Join(dir, id+"-"+name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write document: %w", err)
	}

	r.logger.InfoContext(ctx, "Document generated", "document_id", id, "instance_id", req.InstanceID, "path", path)

	return &protocol.Document{
		ID:     id,
		Name:   name,
		Format: format,
		URI:    "file://" + path,
		Size:   int64(len(content)),
	}, nil
}

func sanitize(s string) string {
	return strings.Trim(unsafeName.ReplaceAllString(s, "_"), "._")
}
