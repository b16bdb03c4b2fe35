package modelcatalog

import (
	"errors"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrModelUnavailable is returned for unknown or disabled models. Callers
// must resolve a model here before metering its cost.
var ErrModelUnavailable = errors.New("model unavailable")

// Model describes one administered model and its cost multipliers. The
// multipliers are raw per-token units; the cost meter divides by its
// scale constant to convert them into credit units.
type Model struct {
	ID               string `yaml:"id" json:"id"`
	InputMultiplier  int64  `yaml:"input_multiplier" json:"input_multiplier"`
	OutputMultiplier int64  `yaml:"output_multiplier" json:"output_multiplier"`
	Enabled          bool   `yaml:"enabled" json:"enabled"`
}

// Catalog holds the administered model set with simple lookups.
// Read-mostly; admin updates swap or patch entries under the write lock.
type Catalog struct {
	mu     sync.RWMutex
	models map[string]Model
	source string
}

// Logger is a minimal logging interface.
type Logger interface {
	Printf(format string, args ...any)
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{models: make(map[string]Model)}
}

// Resolve returns the model config, or ErrModelUnavailable when the id is
// unknown or the model is disabled.
func (c *Catalog) Resolve(id string) (Model, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[normalize(id)]
	if !ok || !m.Enabled {
		return Model{}, ErrModelUnavailable
	}
	return m, nil
}

// Upsert inserts or replaces a model config.
func (c *Catalog) Upsert(m Model) error {
	key := normalize(m.ID)
	if key == "" {
		return errors.New("modelcatalog: empty model id")
	}
	m.ID = key
	c.mu.Lock()
	c.models[key] = m
	c.mu.Unlock()
	return nil
}

// SetEnabled toggles a model without touching its multipliers.
func (c *Catalog) SetEnabled(id string, enabled bool) error {
	key := normalize(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.models[key]
	if !ok {
		return ErrModelUnavailable
	}
	m.Enabled = enabled
	c.models[key] = m
	return nil
}

// List returns all models sorted by id, enabled or not.
func (c *Catalog) List() []Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Model, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadFile replaces the catalog from a YAML list of models; returns the
// number of entries loaded.
func (c *Catalog) LoadFile(path string) (int, error) {
	if strings.TrimSpace(path) == "" {
		return 0, errors.New("modelcatalog: empty path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var models []Model
	if err := yaml.Unmarshal(b, &models); err != nil {
		return 0, err
	}
	c.apply(models, path)
	return len(models), nil
}

// apply replaces current entries.
func (c *Catalog) apply(models []Model, src string) {
	m := make(map[string]Model)
	for _, entry := range models {
		key := normalize(entry.ID)
		if key == "" {
			continue
		}
		entry.ID = key
		m[key] = entry
	}
	c.mu.Lock()
	c.models = m
	c.source = src
	c.mu.Unlock()
}

func normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
