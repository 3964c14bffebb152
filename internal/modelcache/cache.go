// Package modelcache owns the lifecycle of loaded inference engines. It
// guarantees that the expensive load routine runs at most once per model
// identifier, even under concurrent acquisition.
package modelcache

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/MeKo-Tech/vigil/internal/engine"
	"github.com/MeKo-Tech/vigil/internal/models"
)

// UnknownModelError reports an identifier missing from the static catalog.
type UnknownModelError struct {
	ID string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model: %s", e.ID)
}

// LoadError reports a failed engine load. The identifier stays unloaded, so a
// later Acquire retries from scratch.
type LoadError struct {
	ID  string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load model %s: %v", e.ID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// LoadedModel describes one currently loaded engine for snapshot reporting.
type LoadedModel struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Filename string `json:"filename"`
}

// Cache maps model identifiers to loaded engines. Construct one per process
// and share it by reference; tests can build isolated instances with stub
// loaders.
type Cache struct {
	catalog *models.Catalog
	loader  engine.Loader

	// mu guards engines and gates. Gate-table mutation only ever happens
	// under mu; a gate, once created, lives as long as the cache so no
	// waiter can be orphaned by a concurrent unload.
	mu      sync.Mutex
	engines map[string]engine.Engine
	gates   map[string]*sync.Mutex
}

// New creates an empty cache over the given catalog and loader.
func New(catalog *models.Catalog, loader engine.Loader) *Cache {
	return &Cache{
		catalog: catalog,
		loader:  loader,
		engines: make(map[string]engine.Engine),
		gates:   make(map[string]*sync.Mutex),
	}
}

// Acquire returns the loaded engine for id, loading it on first use. For a
// given id the load executes at most once; concurrent callers for the same id
// wait on its gate while callers for other ids proceed independently.
func (c *Cache) Acquire(id string) (engine.Engine, error) {
	desc, ok := c.catalog.Get(id)
	if !ok {
		return nil, &UnknownModelError{ID: id}
	}

	c.mu.Lock()
	if eng, loaded := c.engines[id]; loaded {
		c.mu.Unlock()
		return eng, nil
	}
	gate, ok := c.gates[id]
	if !ok {
		gate = &sync.Mutex{}
		c.gates[id] = gate
	}
	c.mu.Unlock()

	gate.Lock()
	defer gate.Unlock()

	// Re-check: another caller may have finished the load while we waited.
	c.mu.Lock()
	if eng, loaded := c.engines[id]; loaded {
		c.mu.Unlock()
		return eng, nil
	}
	c.mu.Unlock()

	slog.Info("Loading model", "model", id, "name", desc.Name, "size", desc.Size)

	eng, err := c.loader.Load(desc)
	if err != nil {
		// Nothing is cached on failure; the next Acquire retries.
		return nil, &LoadError{ID: id, Err: err}
	}

	c.mu.Lock()
	c.engines[id] = eng
	c.mu.Unlock()

	slog.Info("Model loaded", "model", id)
	return eng, nil
}

// Unload evicts and closes the engine for id if one is loaded. Unloading an
// id that is not loaded is a no-op.
func (c *Cache) Unload(id string) {
	c.mu.Lock()
	eng, loaded := c.engines[id]
	if loaded {
		delete(c.engines, id)
	}
	c.mu.Unlock()

	if !loaded {
		return
	}

	slog.Info("Unloading model", "model", id)
	if err := eng.Close(); err != nil {
		slog.Warn("Error closing engine", "model", id, "error", err)
	}
}

// Clear evicts and closes every loaded engine.
func (c *Cache) Clear() {
	c.mu.Lock()
	evicted := c.engines
	c.engines = make(map[string]engine.Engine)
	c.mu.Unlock()

	if len(evicted) == 0 {
		return
	}

	slog.Info("Clearing model cache", "count", len(evicted))
	for id, eng := range evicted {
		if err := eng.Close(); err != nil {
			slog.Warn("Error closing engine", "model", id, "error", err)
		}
	}
}

// Snapshot returns the currently loaded identifiers with display metadata,
// sorted by identifier. It has no side effects.
func (c *Cache) Snapshot() []LoadedModel {
	c.mu.Lock()
	ids := make([]string, 0, len(c.engines))
	for id := range c.engines {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	sort.Strings(ids)

	out := make([]LoadedModel, 0, len(ids))
	for _, id := range ids {
		desc, _ := c.catalog.Get(id)
		out = append(out, LoadedModel{
			ID:       id,
			Name:     desc.Name,
			Filename: desc.Filename,
		})
	}
	return out
}

// Len returns the number of currently loaded engines.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.engines)
}
