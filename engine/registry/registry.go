// Package registry maps node types to their handlers and metadata.
// The orchestrator validates workflows against it and the executor
// resolves handlers through it.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/xeipuuv/gojsonschema"
)

// ProgressFunc reports mid-execution progress for long running nodes.
// Fraction is in [0, 1].
type ProgressFunc func(fraction float64, message string)

// PartialFunc streams a partial output chunk, e.g. a token delta from
// a generation node.
type PartialFunc func(chunk interface{})

// SecretsLookup resolves provider credentials for handlers. The engine
// never logs or digests resolved values.
type SecretsLookup func(key string) (string, bool)

// NodeContext carries everything a handler needs for one invocation.
// Config is the node's static configuration merged over the type's
// defaults; Inputs is the collected input map.
type NodeContext struct {
	ExecutionID string
	WorkflowID  string
	NodeID      string
	NodeType    string
	Config      map[string]interface{}
	Inputs      map[string]interface{}
	Progress    ProgressFunc
	Partial     PartialFunc
	Secrets     SecretsLookup
}

// ReportProgress invokes the progress callback when one is attached
func (nc *NodeContext) ReportProgress(fraction float64, message string) {
	if nc.Progress != nil {
		nc.Progress(fraction, message)
	}
}

// EmitPartial streams a partial output chunk when a sink is attached
func (nc *NodeContext) EmitPartial(chunk interface{}) {
	if nc.Partial != nil {
		nc.Partial(chunk)
	}
}

// Secret resolves a credential through the attached lookup
func (nc *NodeContext) Secret(key string) (string, bool) {
	if nc.Secrets == nil {
		return "", false
	}
	return nc.Secrets(key)
}

// Handler executes one node. Implementations must honor context
// cancellation and return either an output map or an error, never both.
type Handler interface {
	Execute(ctx context.Context, nc *NodeContext) (map[string]interface{}, error)
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, nc *NodeContext) (map[string]interface{}, error)

// Execute implements Handler
func (f HandlerFunc) Execute(ctx context.Context, nc *NodeContext) (map[string]interface{}, error) {
	return f(ctx, nc)
}

// Metadata describes a node type to the engine and to clients
type Metadata struct {
	DisplayName string `json:"display_name"`
	Category    string `json:"category"`

	// StepType and SpanType classify the node in traces
	StepType string `json:"step_type"`
	SpanType string `json:"span_type"`

	// RetrievalPattern marks types whose list outputs feed prompt
	// context downstream
	RetrievalPattern bool `json:"retrieval_pattern"`

	// FatalOnError escalates this node's failure to the whole execution
	FatalOnError bool `json:"fatal_on_error"`

	// ConfigDefaults is merged under each node's config before execution
	ConfigDefaults map[string]interface{} `json:"config_defaults,omitempty"`

	// ConfigSchema, when set, validates node config at workflow
	// validation time
	ConfigSchema json.RawMessage `json:"config_schema,omitempty"`
}

type entry struct {
	handler Handler
	meta    Metadata
	schema  *gojsonschema.Schema
}

// Registry is a concurrency safe map of node type to handler and
// metadata.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		entries: make(map[string]entry),
	}
}

// Register adds a node type. Registering an empty type, a nil handler,
// or a type that already exists is an error.
func (r *Registry) Register(nodeType string, h Handler, meta Metadata) error {
	if strings.TrimSpace(nodeType) == "" {
		return fmt.Errorf("node type must not be empty")
	}
	if h == nil {
		return fmt.Errorf("handler for %q must not be nil", nodeType)
	}

	var compiled *gojsonschema.Schema
	if len(meta.ConfigSchema) > 0 {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(meta.ConfigSchema))
		if err != nil {
			return fmt.Errorf("failed to compile config schema for %q: %w", nodeType, err)
		}
		compiled = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[nodeType]; exists {
		return fmt.Errorf("node type %q already registered", nodeType)
	}
	r.entries[nodeType] = entry{handler: h, meta: meta, schema: compiled}
	return nil
}

// MustRegister is Register for static wiring at startup
func (r *Registry) MustRegister(nodeType string, h Handler, meta Metadata) {
	if err := r.Register(nodeType, h, meta); err != nil {
		panic(err)
	}
}

// Contains reports whether the type is registered
func (r *Registry) Contains(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[nodeType]
	return ok
}

// Lookup returns the handler and metadata for a type
func (r *Registry) Lookup(nodeType string) (Handler, Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[nodeType]
	if !ok {
		return nil, Metadata{}, false
	}
	return e.handler, e.meta, true
}

// Metadata returns the metadata for a type
func (r *Registry) Metadata(nodeType string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[nodeType]
	if !ok {
		return Metadata{}, false
	}
	return e.meta, true
}

// Types returns the registered type names in sorted order
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.entries))
	for t := range r.entries {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ResolveConfig merges a node's config over the type's defaults. The
// node's own keys win; nested objects merge per RFC 7386.
func (r *Registry) ResolveConfig(nodeType string, config map[string]interface{}) (map[string]interface{}, error) {
	r.mu.RLock()
	e, ok := r.entries[nodeType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("node type %q not registered", nodeType)
	}
	if len(e.meta.ConfigDefaults) == 0 {
		if config == nil {
			return map[string]interface{}{}, nil
		}
		return config, nil
	}
	if len(config) == 0 {
		return e.meta.ConfigDefaults, nil
	}

	base, err := json.Marshal(e.meta.ConfigDefaults)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config defaults for %q: %w", nodeType, err)
	}
	overlay, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal node config: %w", err)
	}
	merged, err := jsonpatch.MergePatch(base, overlay)
	if err != nil {
		return nil, fmt.Errorf("failed to merge config for %q: %w", nodeType, err)
	}

	var out map[string]interface{}
	if err := json.Unmarshal(merged, &out); err != nil {
		return nil, fmt.Errorf("failed to decode merged config: %w", err)
	}
	return out, nil
}

// ValidateConfig checks a node's config against the type's schema.
// Types without a schema accept any config.
func (r *Registry) ValidateConfig(nodeType string, config map[string]interface{}) error {
	r.mu.RLock()
	e, ok := r.entries[nodeType]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("node type %q not registered", nodeType)
	}
	if e.schema == nil {
		return nil
	}

	if config == nil {
		config = map[string]interface{}{}
	}
	result, err := e.schema.Validate(gojsonschema.NewGoLoader(config))
	if err != nil {
		return fmt.Errorf("failed to validate config for %q: %w", nodeType, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("invalid config for %q: %s", nodeType, strings.Join(msgs, "; "))
	}
	return nil
}
