// Package catalog loads the designer/ops-facing manifest that declares
// which component types the rollback world tracks and how it is tuned.
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"puckstorm/client/frame"
	"puckstorm/client/timewarp"
)

type source interface {
	Load() ([]byte, error)
	Path() string
}

type fileSource struct {
	path string
}

func (f fileSource) Load() ([]byte, error) {
	return os.ReadFile(f.path)
}

func (f fileSource) Path() string {
	return f.path
}

// Resolver merges one or more manifest sources into a stable lookup table.
// Call Reload to pick up on-disk changes (used for dev hot reload).
type Resolver struct {
	mu    sync.RWMutex
	srcs  []source
	world WorldDocument
	types map[string]TypeDocument
	order []string
}

// DefaultPaths returns the canonical manifest locations relative to the
// module root. Callers may pass these to Load.
func DefaultPaths() []string {
	return []string{
		filepath.Join("config", "timewarp", "tracked_types.json"),
		filepath.Join("..", "config", "timewarp", "tracked_types.json"),
	}
}

// Load constructs a Resolver backed by the provided manifest file paths.
// Missing files are skipped; later sources override earlier ones.
func Load(paths ...string) (*Resolver, error) {
	sources := make([]source, 0, len(paths))
	for _, path := range paths {
		trimmed := strings.TrimSpace(path)
		if trimmed == "" {
			continue
		}
		sources = append(sources, fileSource{path: trimmed})
	}
	return NewResolver(sources...)
}

// NewResolver constructs a Resolver from arbitrary sources. Tests can supply
// in-memory sources while production code uses fileSource.
func NewResolver(sources ...source) (*Resolver, error) {
	r := &Resolver{
		srcs:  append([]source(nil), sources...),
		types: make(map[string]TypeDocument),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-parses all manifest sources and validates the result.
func (r *Resolver) Reload() error {
	if r == nil {
		return nil
	}
	var world WorldDocument
	types := make(map[string]TypeDocument)
	order := make([]string, 0)
	loaded := false

	for _, src := range r.srcs {
		data, err := src.Load()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("catalog: failed loading %s: %w", src.Path(), err)
		}
		doc, err := decodeDocument(data)
		if err != nil {
			return fmt.Errorf("catalog: failed parsing %s: %w", src.Path(), err)
		}
		if err := validateWorld(doc.World); err != nil {
			return fmt.Errorf("catalog: %s: %w", src.Path(), err)
		}
		seen := make(map[string]struct{}, len(doc.Types))
		for _, td := range doc.Types {
			name := strings.TrimSpace(td.Name)
			if name == "" {
				return fmt.Errorf("catalog: type missing name in %s", src.Path())
			}
			if _, dup := seen[name]; dup {
				return fmt.Errorf("catalog: duplicate type %q in %s", name, src.Path())
			}
			seen[name] = struct{}{}
			td.Name = name
			if _, known := types[name]; !known {
				order = append(order, name)
			}
			types[name] = td
		}
		world = doc.World
		loaded = true
	}

	if loaded && len(types) == 0 {
		return errors.New("catalog: manifest declares no tracked types")
	}

	r.mu.Lock()
	r.world = world
	r.types = types
	r.order = order
	r.mu.Unlock()
	return nil
}

// WorldConfig converts the manifest's world options into a timewarp.Config.
// An empty manifest yields the zero config, which timewarp normalizes.
func (r *Resolver) WorldConfig() timewarp.Config {
	if r == nil {
		return timewarp.Config{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return timewarp.Config{
		RollbackWindow:        frame.Number(r.world.RollbackWindow),
		ConsolidationStrategy: timewarp.ConsolidationStrategy(r.world.ConsolidationStrategy),
		SnapshotScale:         r.world.SnapshotScale,
		ForceRollback:         r.world.ForceRollback,
	}
}

// Type returns the manifest entry for the named component type.
func (r *Resolver) Type(name string) (TypeDocument, bool) {
	if r == nil {
		return TypeDocument{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	td, ok := r.types[name]
	return td, ok
}

// Types returns the declared component types in manifest order.
func (r *Resolver) Types() []TypeDocument {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TypeDocument, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.types[name])
	}
	return out
}

func validateWorld(world WorldDocument) error {
	switch world.ConsolidationStrategy {
	case "", string(timewarp.ConsolidateOldest), string(timewarp.ConsolidateNewest):
	default:
		return fmt.Errorf("unknown consolidation strategy %q", world.ConsolidationStrategy)
	}
	if world.SnapshotScale < 0 {
		return fmt.Errorf("snapshot scale must be positive, got %d", world.SnapshotScale)
	}
	return nil
}

func decodeDocument(data []byte) (Document, error) {
	var doc Document
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return doc, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&doc); err != nil {
		return doc, err
	}
	return doc, nil
}
