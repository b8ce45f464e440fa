package collector

import (
	"fmt"
	"sort"
	"sync"
)

// TransformFunc reshapes a source value before it is written to the
// target's input. Returning false drops the write.
type TransformFunc func(value interface{}) (interface{}, bool)

// FieldRule routes one input field for a target node type. Candidates
// are scanned in order against the source output; the first present
// field supplies the value.
type FieldRule struct {
	// Field is the input key written on the target
	Field string
	// Candidates are the source output fields accepted, in preference
	// order
	Candidates []string
	// Transform reshapes the value; nil copies it verbatim
	Transform TransformFunc
}

// MappingTable is the heuristic routing policy, keyed by target node
// type. Types without an entry fall back to a verbatim copy of every
// source field. The table is read-only during execution; Add is for
// process start wiring.
type MappingTable struct {
	mu    sync.RWMutex
	rules map[string][]FieldRule
}

// NewMappingTable creates an empty table
func NewMappingTable() *MappingTable {
	return &MappingTable{
		rules: make(map[string][]FieldRule),
	}
}

// Add appends routing rules for a target node type
func (t *MappingTable) Add(targetType string, rules ...FieldRule) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rules[targetType] = append(t.rules[targetType], rules...)
}

// Rules returns the routing rules for a target type
func (t *MappingTable) Rules(targetType string) ([]FieldRule, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rules, ok := t.rules[targetType]
	return rules, ok
}

// Types returns the mapped target types, sorted
func (t *MappingTable) Types() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	types := make([]string, 0, len(t.rules))
	for typ := range t.rules {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}

// queryRule accepts a query string from the usual producer fields
func queryRule() FieldRule {
	return FieldRule{Field: "query", Candidates: []string{"query", "text", "question"}}
}

// DefaultTable returns the routing policy for the built-in node types.
//
// Per-type policy:
//   - embed: query from query|text|question; chunks accepted verbatim,
//     a bare text derives a single-element list
//   - retrieve: embedding passed through, never re-derived; query for
//     stores that search by text
//   - rerank: results verbatim plus the query
//   - generate, llm: query; context rendered from a direct source's
//     results; results passed through for citation use
//   - tool_call: query plus verbatim results
//   - output: the final text from response|text|answer, results kept
//     for display
func DefaultTable() *MappingTable {
	t := NewMappingTable()

	t.Add("embed",
		queryRule(),
		FieldRule{Field: "chunks", Candidates: []string{"chunks", "documents", "text"}, Transform: DeriveChunks},
	)
	t.Add("retrieve",
		FieldRule{Field: "embedding", Candidates: []string{"embedding", "embeddings"}},
		queryRule(),
	)
	t.Add("rerank",
		FieldRule{Field: "results", Candidates: []string{"results"}},
		queryRule(),
	)
	for _, typ := range []string{"generate", "llm"} {
		t.Add(typ,
			queryRule(),
			FieldRule{Field: "context", Candidates: []string{"results"}, Transform: RenderContext},
			FieldRule{Field: "results", Candidates: []string{"results"}},
		)
	}
	t.Add("tool_call",
		queryRule(),
		FieldRule{Field: "results", Candidates: []string{"results"}},
	)
	t.Add("output",
		FieldRule{Field: "text", Candidates: []string{"response", "text", "answer"}},
		FieldRule{Field: "results", Candidates: []string{"results"}},
	)

	return t
}

// RenderContext flattens a retrieval result list into a prompt-ready
// string: each chunk's text on its own block with a [n] index prefix.
func RenderContext(value interface{}) (interface{}, bool) {
	items, ok := value.([]interface{})
	if !ok {
		return nil, false
	}

	parts := make([]string, 0, len(items))
	for i, item := range items {
		parts = append(parts, fmt.Sprintf("[%d] %s", i+1, chunkText(item)))
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n\n"
		}
		out += p
	}
	return out, true
}

func chunkText(item interface{}) string {
	switch v := item.(type) {
	case map[string]interface{}:
		if s, ok := v["text"].(string); ok {
			return s
		}
		if s, ok := v["content"].(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

// DeriveChunks accepts a chunk list verbatim and wraps a bare string
// into a single-element list.
func DeriveChunks(value interface{}) (interface{}, bool) {
	switch v := value.(type) {
	case []interface{}:
		return v, true
	case string:
		return []interface{}{v}, true
	default:
		return nil, false
	}
}
