package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// collection reads and writes one JSON document per entity in a directory.
// Callers hold the persistence lock.
type collection[T any] struct {
	dir string
}

func newCollection[T any](root, name string) collection[T] {
	return collection[T]{dir: filepath.Join(root, name)}
}

// validateID validates that the ID is safe for file operations.
func validateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return errors.New("id contains invalid characters")
	}

	return nil
}

func (c collection[T]) path(id string) (string, error) {
	if err := validateID(id); err != nil {
		return "", fmt.Errorf("invalid id %q: %w", id, err)
	}

	return filepath.Join(c.dir, id+".json"), nil
}

// get returns the entity or nil when it does not exist.
func (c collection[T]) get(id string) (*T, error) {
	filePath, err := c.path(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath) // #nosec G304 -- id is validated
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read %s: %w", filePath, err)
	}

	var entity T
	if err := json.Unmarshal(data, &entity); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", filePath, err)
	}

	return &entity, nil
}

// put writes the entity atomically through a temporary file and a rename.
func (c collection[T]) put(id string, entity *T) error {
	filePath, err := c.path(id)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(c.dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", c.dir, err)
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}

	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", id, err)
	}

	if err := os.Rename(tmp, filePath); err != nil {
		return fmt.Errorf("failed to replace %s: %w", id, err)
	}

	return nil
}

func (c collection[T]) remove(id string) error {
	filePath, err := c.path(id)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", id, err)
	}

	return nil
}

// list returns every entity matching keep, or all of them when keep is nil.
func (c collection[T]) list(keep func(*T) bool) ([]*T, error) {
	jsonFiles, err := fs.Glob(os.DirFS(c.dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", c.dir, err)
	}

	out := make([]*T, 0, len(jsonFiles))

	for _, name := range jsonFiles {
		entity, err := c.get(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}

		if entity == nil || (keep != nil && !keep(entity)) {
			continue
		}

		out = append(out, entity)
	}

	return out, nil
}
