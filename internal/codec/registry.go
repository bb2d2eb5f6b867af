// internal/codec/registry.go
package codec

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// WildcardFamily is the table used when no family matches exactly
const WildcardFamily = "*"

// Registry manages wire tables per model family
type Registry struct {
	tables map[string]*Table
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tables: make(map[string]*Table),
		logger: logger,
	}
}

// DefaultRegistry returns a registry with every built-in family registered
func DefaultRegistry(logger *zap.Logger) *Registry {
	r := NewRegistry(logger)
	RegisterDefaultTables(r)
	return r
}

// RegisterDefaultTables registers the built-in tables
func RegisterDefaultTables(r *Registry) {
	marantz := Marantz2016()
	r.Register(marantz.Family, marantz)

	// Unknown families get the Marantz grammar; unmatched lines still
	// degrade to opaque events.
	r.Register(WildcardFamily, marantz)
}

// Register registers a table under a family name
func (r *Registry) Register(family string, table *Table) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tables[family] = table
	r.logger.Debug("Wire table registered",
		zap.String("family", family),
		zap.String("table_family", table.Family),
		zap.String("version", table.Version),
		zap.Int("kinds", len(table.entries)),
	)
}

// Lookup returns the table for a family, falling back to the wildcard table
func (r *Registry) Lookup(family string) (*Table, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if table, exists := r.tables[family]; exists {
		return table, nil
	}
	if table, exists := r.tables[WildcardFamily]; exists {
		return table, nil
	}
	return nil, fmt.Errorf("no wire table for model family %q", family)
}

// IsSupported checks whether a family has its own table
func (r *Registry) IsSupported(family string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.tables[family]
	return exists
}

// Families returns the registered family names, sorted
func (r *Registry) Families() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	families := make([]string, 0, len(r.tables))
	for family := range r.tables {
		families = append(families, family)
	}
	sort.Strings(families)
	return families
}
