package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	_ "embed"
)

//go:embed tree_schema.json
var defaultTrees []byte

// Tree describes one placeable tree species: the node it references in the
// game assets and the height range instances are scaled into.
type Tree struct {
	Name        string  `json:"name"`
	ReferenceID int     `json:"reference_id"`
	MinHeight   float64 `json:"min_height"`
	MaxHeight   float64 `json:"max_height"`
}

// DefaultTrees returns the embedded tree schema.
func DefaultTrees() []Tree {
	trees, err := LoadTrees(bytes.NewReader(defaultTrees))
	if err != nil {
		panic("schema: embedded tree schema invalid: " + err.Error())
	}
	return trees
}

// LoadTreesFile reads and validates a tree schema from a JSON file.
func LoadTreesFile(path string) ([]Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("schema: open tree schema: %w", err)
	}
	defer f.Close()
	return LoadTrees(f)
}

// LoadTrees reads and validates a tree schema from JSON.
func LoadTrees(r io.Reader) ([]Tree, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var trees []Tree
	if err := dec.Decode(&trees); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSchema, err)
	}
	if len(trees) == 0 {
		return nil, fmt.Errorf("%w: no trees", ErrBadSchema)
	}
	seen := make(map[string]struct{}, len(trees))
	for _, t := range trees {
		if t.Name == "" {
			return nil, fmt.Errorf("%w: tree without a name", ErrBadSchema)
		}
		if _, ok := seen[t.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate tree %s", ErrBadSchema, t.Name)
		}
		seen[t.Name] = struct{}{}
		if t.MinHeight <= 0 || t.MaxHeight < t.MinHeight {
			return nil, fmt.Errorf("%w: tree %s has height range %v..%v", ErrBadSchema, t.Name, t.MinHeight, t.MaxHeight)
		}
	}
	return trees, nil
}
