package nodes

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/nodeai/nodeai/engine/model"
	"github.com/nodeai/nodeai/engine/registry"
)

// executeTextInput seeds the pipeline with a query string taken from
// config or, when absent, from upstream inputs.
func executeTextInput(ctx context.Context, nc *registry.NodeContext) (map[string]interface{}, error) {
	text, _ := nc.Config["text"].(string)
	if text == "" {
		text = stringInput(nc, "text", "query")
	}
	if text == "" {
		return nil, model.NewNodeError(model.KindBadOutput, "text_input requires a text value in config or inputs", nil)
	}

	return map[string]interface{}{
		"query": text,
		"text":  text,
	}, nil
}

// executeEmbed produces a deterministic hash-based embedding. It stands
// in for a provider embedder so pipelines run end to end offline.
func executeEmbed(ctx context.Context, nc *registry.NodeContext) (map[string]interface{}, error) {
	query := stringInput(nc, "query", "text")
	if query == "" {
		return nil, model.NewNodeError(model.KindBadOutput, "embed requires a query input", nil)
	}

	dims := configInt(nc.Config, "dimensions", 16)
	embedding := hashEmbedding(query, dims)
	nc.ReportProgress(1, "embedded")

	out := map[string]interface{}{
		"embedding": embedding,
		"query":     query,
		"_meta": usageMeta(len(terms(query)), 0, 0,
			"local", configString(nc.Config, "model", "local-hash-embedder")),
	}
	if chunks, ok := nc.Inputs["chunks"].([]interface{}); ok {
		out["chunks"] = chunks
	}
	return out, nil
}

// executeRetrieve scores the configured corpus against the query by
// term overlap and returns the top_k hits.
func executeRetrieve(ctx context.Context, nc *registry.NodeContext) (map[string]interface{}, error) {
	query := stringInput(nc, "query", "text")
	if query == "" {
		return nil, model.NewNodeError(model.KindBadOutput, "retrieve requires a query input", nil)
	}

	corpus, _ := nc.Config["corpus"].([]interface{})
	queryTerms := termSet(query)

	type scored struct {
		text  string
		score float64
		index int
	}
	hits := make([]scored, 0, len(corpus))
	for i, doc := range corpus {
		text := hitText(doc)
		if text == "" {
			continue
		}
		hits = append(hits, scored{text: text, score: overlapScore(queryTerms, text), index: i})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].index < hits[j].index
	})

	topK := configInt(nc.Config, "top_k", 4)
	if topK < len(hits) {
		hits = hits[:topK]
	}

	results := make([]interface{}, 0, len(hits))
	for _, h := range hits {
		results = append(results, map[string]interface{}{
			"text":  h.text,
			"score": h.score,
		})
	}

	return map[string]interface{}{
		"results": results,
		"query":   query,
	}, nil
}

// executeRerank reorders upstream hits against the query and keeps the
// top_n.
func executeRerank(ctx context.Context, nc *registry.NodeContext) (map[string]interface{}, error) {
	raw, ok := nc.Inputs["results"].([]interface{})
	if !ok {
		return nil, model.NewNodeError(model.KindBadOutput, "rerank requires a results input", nil)
	}
	query := stringInput(nc, "query", "text")
	queryTerms := termSet(query)

	type scored struct {
		hit   interface{}
		score float64
		index int
	}
	rescored := make([]scored, 0, len(raw))
	for i, hit := range raw {
		rescored = append(rescored, scored{
			hit:   hit,
			score: overlapScore(queryTerms, hitText(hit)),
			index: i,
		})
	}
	sort.SliceStable(rescored, func(i, j int) bool {
		if rescored[i].score != rescored[j].score {
			return rescored[i].score > rescored[j].score
		}
		return rescored[i].index < rescored[j].index
	})

	topN := configInt(nc.Config, "top_n", 3)
	if topN < len(rescored) {
		rescored = rescored[:topN]
	}

	results := make([]interface{}, 0, len(rescored))
	for _, s := range rescored {
		if m, ok := s.hit.(map[string]interface{}); ok {
			reranked := make(map[string]interface{}, len(m)+1)
			for k, v := range m {
				reranked[k] = v
			}
			reranked["score"] = s.score
			results = append(results, reranked)
		} else {
			results = append(results, s.hit)
		}
	}

	return map[string]interface{}{
		"results": results,
		"query":   query,
	}, nil
}

// executeGenerate renders the configured template against the query and
// retrieved context. A local stand-in for a provider LLM; usage
// accounting flows through _meta the same way a real one would report
// it.
func executeGenerate(ctx context.Context, nc *registry.NodeContext) (map[string]interface{}, error) {
	query := stringInput(nc, "query", "text")
	contextText := stringInput(nc, "context")

	template := configString(nc.Config, "template", "{{context}}\n\nQ: {{query}}\nA:")
	prompt := strings.ReplaceAll(template, "{{query}}", query)
	prompt = strings.ReplaceAll(prompt, "{{context}}", contextText)

	response := strings.TrimSpace(prompt)
	if response == "" {
		return nil, model.NewNodeError(model.KindBadOutput, "generate produced an empty response", nil)
	}

	inputTokens := len(terms(prompt))
	outputTokens := len(terms(response))
	price := configFloat(nc.Config, "price_per_1k_tokens", 0)

	return map[string]interface{}{
		"response": response,
		"_meta": usageMeta(inputTokens, outputTokens, price,
			"local", configString(nc.Config, "model", "template")),
	}, nil
}

// executeToolCall dispatches to a builtin tool by name
func executeToolCall(ctx context.Context, nc *registry.NodeContext) (map[string]interface{}, error) {
	tool, _ := nc.Config["tool"].(string)
	query := stringInput(nc, "query", "text")

	var value interface{}
	switch tool {
	case "echo":
		value = query
	case "word_count":
		value = float64(len(terms(query)))
	case "concat":
		raw, _ := nc.Inputs["results"].([]interface{})
		parts := make([]string, 0, len(raw))
		for _, hit := range raw {
			if text := hitText(hit); text != "" {
				parts = append(parts, text)
			}
		}
		value = strings.Join(parts, " ")
	default:
		return nil, model.NewNodeError(model.KindBadOutput,
			fmt.Sprintf("unknown tool: %q", tool), nil)
	}

	return map[string]interface{}{
		"results": []interface{}{
			map[string]interface{}{"tool": tool, "value": value},
		},
		"query": query,
	}, nil
}

// executeOutput collects the pipeline's final text
func executeOutput(ctx context.Context, nc *registry.NodeContext) (map[string]interface{}, error) {
	text := stringInput(nc, "text", "response", "answer")

	out := map[string]interface{}{
		"text": text,
	}
	if results, ok := nc.Inputs["results"].([]interface{}); ok {
		out["results"] = results
	}
	return out, nil
}

// stringInput returns the first non-empty string input among keys
func stringInput(nc *registry.NodeContext, keys ...string) string {
	for _, key := range keys {
		if s, ok := nc.Inputs[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func configString(config map[string]interface{}, key, fallback string) string {
	if s, ok := config[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func configInt(config map[string]interface{}, key string, fallback int) int {
	switch v := config[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

func configFloat(config map[string]interface{}, key string, fallback float64) float64 {
	switch v := config[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return fallback
}

// terms lowercases and splits text on non-alphanumeric runes
func terms(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
}

func termSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range terms(text) {
		set[t] = true
	}
	return set
}

// overlapScore is the fraction of query terms present in the document
func overlapScore(queryTerms map[string]bool, docText string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	seen := make(map[string]bool)
	matched := 0
	for _, t := range terms(docText) {
		if queryTerms[t] && !seen[t] {
			seen[t] = true
			matched++
		}
	}
	return float64(matched) / float64(len(queryTerms))
}

// hitText extracts display text from a retrieval hit
func hitText(hit interface{}) string {
	switch h := hit.(type) {
	case string:
		return h
	case map[string]interface{}:
		if s, ok := h["text"].(string); ok {
			return s
		}
		if s, ok := h["content"].(string); ok {
			return s
		}
	}
	return ""
}

// hashEmbedding derives a deterministic unit-range vector from text
func hashEmbedding(text string, dims int) []interface{} {
	if dims < 1 {
		dims = 1
	}
	embedding := make([]interface{}, dims)
	for i := 0; i < dims; i++ {
		sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", text, i)))
		n := binary.BigEndian.Uint32(sum[:4])
		embedding[i] = float64(n)/float64(1<<31) - 1
	}
	return embedding
}

// usageMeta builds the _meta block the cost tracker understands
func usageMeta(inputTokens, outputTokens int, pricePer1K float64, provider, model string) map[string]interface{} {
	total := inputTokens + outputTokens
	return map[string]interface{}{
		"cost": pricePer1K * float64(total) / 1000,
		"tokens": map[string]interface{}{
			"input":  float64(inputTokens),
			"output": float64(outputTokens),
			"total":  float64(total),
		},
		"provider": provider,
		"model":    model,
	}
}
