// Package nodes holds the builtin node catalog: deterministic local
// handlers for the retrieval pipeline types plus their formatters.
// Provider-backed handlers register through the same seam at startup.
package nodes

import (
	"encoding/json"

	"github.com/nodeai/nodeai/engine/formatter"
	"github.com/nodeai/nodeai/engine/registry"
)

// Register installs every builtin node type
func Register(reg *registry.Registry) error {
	builtins := []struct {
		nodeType string
		handler  registry.Handler
		meta     registry.Metadata
	}{
		{
			nodeType: "text_input",
			handler:  registry.HandlerFunc(executeTextInput),
			meta: registry.Metadata{
				DisplayName: "Text Input",
				Category:    "input",
				StepType:    "input",
				SpanType:    "input",
				ConfigSchema: schema(`{
					"type": "object",
					"properties": {
						"text": {"type": "string"}
					}
				}`),
			},
		},
		{
			nodeType: "embed",
			handler:  registry.HandlerFunc(executeEmbed),
			meta: registry.Metadata{
				DisplayName:      "Embedder",
				Category:         "ai",
				StepType:         "embed",
				SpanType:         "embedding",
				RetrievalPattern: true,
				ConfigDefaults: map[string]interface{}{
					"model":      "local-hash-embedder",
					"dimensions": float64(16),
				},
				ConfigSchema: schema(`{
					"type": "object",
					"properties": {
						"model": {"type": "string"},
						"dimensions": {"type": "number", "minimum": 1, "maximum": 4096}
					}
				}`),
			},
		},
		{
			nodeType: "retrieve",
			handler:  registry.HandlerFunc(executeRetrieve),
			meta: registry.Metadata{
				DisplayName:      "Retriever",
				Category:         "retrieval",
				StepType:         "retrieve",
				SpanType:         "retrieval",
				RetrievalPattern: true,
				ConfigDefaults: map[string]interface{}{
					"top_k": float64(4),
				},
				ConfigSchema: schema(`{
					"type": "object",
					"properties": {
						"corpus": {"type": "array"},
						"top_k": {"type": "number", "minimum": 1}
					}
				}`),
			},
		},
		{
			nodeType: "rerank",
			handler:  registry.HandlerFunc(executeRerank),
			meta: registry.Metadata{
				DisplayName:      "Reranker",
				Category:         "retrieval",
				StepType:         "rerank",
				SpanType:         "rerank",
				RetrievalPattern: true,
				ConfigDefaults: map[string]interface{}{
					"top_n": float64(3),
				},
			},
		},
		{
			nodeType: "generate",
			handler:  registry.HandlerFunc(executeGenerate),
			meta: registry.Metadata{
				DisplayName:      "Generator",
				Category:         "ai",
				StepType:         "generate",
				SpanType:         "llm",
				RetrievalPattern: true,
				ConfigDefaults: map[string]interface{}{
					"template":            "{{context}}\n\nQ: {{query}}\nA:",
					"price_per_1k_tokens": float64(0),
				},
				ConfigSchema: schema(`{
					"type": "object",
					"properties": {
						"template": {"type": "string"},
						"model": {"type": "string"},
						"price_per_1k_tokens": {"type": "number", "minimum": 0}
					}
				}`),
			},
		},
		{
			nodeType: "tool_call",
			handler:  registry.HandlerFunc(executeToolCall),
			meta: registry.Metadata{
				DisplayName: "Tool Call",
				Category:    "tool",
				StepType:    "tool_call",
				SpanType:    "tool",
				ConfigSchema: schema(`{
					"type": "object",
					"required": ["tool"],
					"properties": {
						"tool": {"type": "string", "enum": ["echo", "concat", "word_count"]}
					}
				}`),
			},
		},
		{
			nodeType: "output",
			handler:  registry.HandlerFunc(executeOutput),
			meta: registry.Metadata{
				DisplayName: "Output",
				Category:    "output",
				StepType:    "output",
				SpanType:    "output",
			},
		},
	}

	for _, b := range builtins {
		if err := reg.Register(b.nodeType, b.handler, b.meta); err != nil {
			return err
		}
	}
	return nil
}

// RegisterFormatters installs the builtin output formatters. Formatters
// shape the stored output; a missing formatter leaves the handler
// output untouched.
func RegisterFormatters(f *formatter.Registry) {
	// Generator output doubles as plain text for downstream consumers
	f.Register("generate", func(output map[string]interface{}) map[string]interface{} {
		response, ok := output["response"].(string)
		if !ok {
			return output
		}
		shaped := make(map[string]interface{}, len(output)+1)
		for k, v := range output {
			shaped[k] = v
		}
		shaped["text"] = response
		return shaped
	})

	// Retrieval hits are normalized to {text, score} objects
	f.Register("retrieve", func(output map[string]interface{}) map[string]interface{} {
		raw, ok := output["results"].([]interface{})
		if !ok {
			return output
		}
		shaped := make(map[string]interface{}, len(output))
		for k, v := range output {
			shaped[k] = v
		}
		normalized := make([]interface{}, 0, len(raw))
		for _, hit := range raw {
			switch h := hit.(type) {
			case map[string]interface{}:
				normalized = append(normalized, h)
			case string:
				normalized = append(normalized, map[string]interface{}{"text": h, "score": float64(0)})
			default:
				normalized = append(normalized, hit)
			}
		}
		shaped["results"] = normalized
		return shaped
	})
}

func schema(s string) json.RawMessage {
	return json.RawMessage(s)
}
