package workflows

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadDir reads workflow definition documents (*.json) from dir. Each
// document must pass schema validation; one bad file fails the whole
// load so a typo cannot silently drop a workflow.
func LoadDir(dir string) ([]Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read workflow dir: %w", err)
	}
	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}

	var defs []Definition
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read workflow %s: %w", entry.Name(), err)
		}
		var def Definition
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("parse workflow %s: %w", entry.Name(), err)
		}
		if err := validator.Validate(def); err != nil {
			return nil, fmt.Errorf("workflow %s: %w", entry.Name(), err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Seed loads definitions from dir into store. Existing same-version
// entries are replaced, so re-seeding is safe.
func Seed(ctx context.Context, store Store, dir string) (int, error) {
	defs, err := LoadDir(dir)
	if err != nil {
		return 0, err
	}
	for i, def := range defs {
		if err := store.Put(ctx, def); err != nil {
			return i, fmt.Errorf("store workflow %s: %w", def.WorkflowID, err)
		}
	}
	return len(defs), nil
}
