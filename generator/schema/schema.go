// Package schema loads the texture, tree and building schema files that
// drive feature mapping, and hot-reloads them in serve mode when edited on
// disk.
package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/maps4go/maps4go/generator/texture"
)

// ErrBadSchema wraps all schema validation failures.
var ErrBadSchema = errors.New("schema: invalid schema")

// Paths names the schema files to load. Empty paths select the embedded
// defaults.
type Paths struct {
	Texture   string
	Trees     string
	Buildings string
}

// Set holds one consistent view of all loaded schemas. It is safe for
// concurrent use; a reload swaps all three at once.
type Set struct {
	log   *slog.Logger
	paths Paths

	mu        sync.RWMutex
	texture   *texture.Schema
	trees     []Tree
	buildings []Building
}

// Load reads all schema files and returns the set.
func Load(log *slog.Logger, paths Paths) (*Set, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Set{log: log, paths: paths}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads all schema files. On failure the previous view remains
// in place.
func (s *Set) Reload() error {
	tex := texture.DefaultSchema()
	if s.paths.Texture != "" {
		loaded, err := texture.LoadSchemaFile(s.paths.Texture)
		if err != nil {
			return err
		}
		tex = loaded
	}
	trees := DefaultTrees()
	if s.paths.Trees != "" {
		loaded, err := LoadTreesFile(s.paths.Trees)
		if err != nil {
			return err
		}
		trees = loaded
	}
	buildings := DefaultBuildings()
	if s.paths.Buildings != "" {
		loaded, err := LoadBuildingsFile(s.paths.Buildings)
		if err != nil {
			return err
		}
		buildings = loaded
	}

	s.mu.Lock()
	s.texture, s.trees, s.buildings = tex, trees, buildings
	s.mu.Unlock()
	return nil
}

// Texture returns the current texture schema.
func (s *Set) Texture() *texture.Schema {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.texture
}

// Trees returns the current tree schema.
func (s *Set) Trees() []Tree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trees
}

// Buildings returns the current building schema.
func (s *Set) Buildings() []Building {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buildings
}

// watchDebounce coalesces the event bursts editors produce on save.
const watchDebounce = 200 * time.Millisecond

// Watch reloads the set whenever one of the configured schema files
// changes, until the context is cancelled. Sets with only embedded
// defaults return immediately.
func (s *Set) Watch(ctx context.Context) error {
	files := make(map[string]struct{})
	dirs := make(map[string]struct{})
	for _, p := range []string{s.paths.Texture, s.paths.Trees, s.paths.Buildings} {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("schema: resolve %s: %w", p, err)
		}
		files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	if len(files) == 0 {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("schema: create watcher: %w", err)
	}
	defer w.Close()
	// Watch the parent directories so atomic saves (write to temp file,
	// rename over the schema) are seen too.
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("schema: watch %s: %w", dir, err)
		}
	}

	var timer *time.Timer
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil {
				continue
			}
			if _, watched := files[abs]; !watched {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				pending = timer.C
			} else {
				timer.Reset(watchDebounce)
			}
		case <-pending:
			timer, pending = nil, nil
			if err := s.Reload(); err != nil {
				s.log.Error("Schema reload failed, keeping previous schemas.", "err", err)
				continue
			}
			s.log.Info("Schemas reloaded.")
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Error("Schema watcher error.", "err", err)
		}
	}
}
