// Package formatter holds optional per-type output canonicalizers.
// A formatter reshapes a node's raw output into a stable mapping, e.g.
// folding a provider specific {response} field into {text}. Formatters
// are pure; one that panics or returns nil is treated as absent and
// the raw output is used.
package formatter

import (
	"sort"
	"sync"
)

// Func canonicalizes a raw node output. It must not mutate its
// argument.
type Func func(output map[string]interface{}) map[string]interface{}

// Registry maps node types to formatters. Safe for concurrent use;
// executions share one read-only registry.
type Registry struct {
	mu     sync.RWMutex
	byType map[string]Func
}

// New creates an empty formatter registry
func New() *Registry {
	return &Registry{
		byType: make(map[string]Func),
	}
}

// Register installs a formatter for a node type, replacing any
// previous one.
func (r *Registry) Register(nodeType string, f Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[nodeType] = f
}

// Contains reports whether a formatter exists for the type
func (r *Registry) Contains(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byType[nodeType]
	return ok
}

// Types returns the node types with registered formatters, sorted
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.byType))
	for t := range r.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Format canonicalizes an output through the type's formatter. When no
// formatter is registered, or the formatter panics or returns nil, the
// raw output is returned unchanged.
func (r *Registry) Format(nodeType string, output map[string]interface{}) map[string]interface{} {
	r.mu.RLock()
	f, ok := r.byType[nodeType]
	r.mu.RUnlock()
	if !ok || output == nil {
		return output
	}

	formatted := safeFormat(f, output)
	if formatted == nil {
		return output
	}
	return formatted
}

func safeFormat(f Func, output map[string]interface{}) (formatted map[string]interface{}) {
	defer func() {
		if r := recover(); r != nil {
			formatted = nil
		}
	}()
	return f(output)
}
