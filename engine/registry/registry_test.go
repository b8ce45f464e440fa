package registry

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func noopHandler() Handler {
	return HandlerFunc(func(ctx context.Context, nc *NodeContext) (map[string]interface{}, error) {
		return map[string]interface{}{}, nil
	})
}

// TestRegister tests registration and the rejection cases
func TestRegister(t *testing.T) {
	r := New()

	if err := r.Register("embed", noopHandler(), Metadata{}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !r.Contains("embed") {
		t.Errorf("Expected embed to be registered")
	}
	if r.Contains("missing") {
		t.Errorf("Expected missing to be unregistered")
	}

	if err := r.Register("embed", noopHandler(), Metadata{}); err == nil {
		t.Errorf("Expected error for duplicate registration")
	}
	if err := r.Register("  ", noopHandler(), Metadata{}); err == nil {
		t.Errorf("Expected error for blank type")
	}
	if err := r.Register("nil_handler", nil, Metadata{}); err == nil {
		t.Errorf("Expected error for nil handler")
	}
}

// TestRegister_BadSchema tests that an invalid config schema is
// rejected at registration time.
func TestRegister_BadSchema(t *testing.T) {
	r := New()
	err := r.Register("broken", noopHandler(), Metadata{
		ConfigSchema: json.RawMessage(`{"type": ["not, valid"`),
	})
	if err == nil {
		t.Errorf("Expected error for malformed schema")
	}
}

// TestMustRegister tests the panic on failure
func TestMustRegister(t *testing.T) {
	r := New()
	defer func() {
		if recover() == nil {
			t.Errorf("Expected panic for duplicate MustRegister")
		}
	}()
	r.MustRegister("dup", noopHandler(), Metadata{})
	r.MustRegister("dup", noopHandler(), Metadata{})
}

// TestLookup tests handler and metadata resolution
func TestLookup(t *testing.T) {
	r := New()
	meta := Metadata{DisplayName: "Embedder", Category: "ai", StepType: "embed"}
	if err := r.Register("embed", noopHandler(), meta); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	h, got, ok := r.Lookup("embed")
	if !ok || h == nil {
		t.Fatalf("Expected handler for embed")
	}
	if got.DisplayName != "Embedder" || got.StepType != "embed" {
		t.Errorf("Unexpected metadata: %+v", got)
	}

	if _, _, ok := r.Lookup("missing"); ok {
		t.Errorf("Expected miss for unknown type")
	}
}

// TestTypes tests sorted type listing
func TestTypes(t *testing.T) {
	r := New()
	for _, typ := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(typ, noopHandler(), Metadata{}); err != nil {
			t.Fatalf("Register %s failed: %v", typ, err)
		}
	}

	got := r.Types()
	if !reflect.DeepEqual(got, []string{"alpha", "mid", "zeta"}) {
		t.Errorf("Expected sorted types, got %v", got)
	}
}

// TestResolveConfig tests merging node config over type defaults
func TestResolveConfig(t *testing.T) {
	r := New()
	if err := r.Register("generate", noopHandler(), Metadata{
		ConfigDefaults: map[string]interface{}{
			"model":       "default-model",
			"temperature": 0.7,
			"options":     map[string]interface{}{"stream": true, "retries": 2.0},
		},
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	t.Run("node_keys_win", func(t *testing.T) {
		got, err := r.ResolveConfig("generate", map[string]interface{}{
			"model": "custom-model",
		})
		if err != nil {
			t.Fatalf("ResolveConfig failed: %v", err)
		}
		if got["model"] != "custom-model" {
			t.Errorf("Expected node config to win, got %v", got["model"])
		}
		if got["temperature"] != 0.7 {
			t.Errorf("Expected default temperature to survive, got %v", got["temperature"])
		}
	})

	t.Run("nested_merge", func(t *testing.T) {
		got, err := r.ResolveConfig("generate", map[string]interface{}{
			"options": map[string]interface{}{"stream": false},
		})
		if err != nil {
			t.Fatalf("ResolveConfig failed: %v", err)
		}
		opts := got["options"].(map[string]interface{})
		if opts["stream"] != false {
			t.Errorf("Expected nested override, got %v", opts["stream"])
		}
		if opts["retries"] != 2.0 {
			t.Errorf("Expected nested default to survive, got %v", opts["retries"])
		}
	})

	t.Run("empty_config_returns_defaults", func(t *testing.T) {
		got, err := r.ResolveConfig("generate", nil)
		if err != nil {
			t.Fatalf("ResolveConfig failed: %v", err)
		}
		if got["model"] != "default-model" {
			t.Errorf("Expected defaults for nil config, got %v", got)
		}
	})

	t.Run("unknown_type", func(t *testing.T) {
		if _, err := r.ResolveConfig("missing", nil); err == nil {
			t.Errorf("Expected error for unknown type")
		}
	})
}

// TestResolveConfig_NoDefaults tests the passthrough path
func TestResolveConfig_NoDefaults(t *testing.T) {
	r := New()
	if err := r.Register("plain", noopHandler(), Metadata{}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, err := r.ResolveConfig("plain", map[string]interface{}{"k": "v"})
	if err != nil {
		t.Fatalf("ResolveConfig failed: %v", err)
	}
	if got["k"] != "v" {
		t.Errorf("Expected config passthrough, got %v", got)
	}

	empty, err := r.ResolveConfig("plain", nil)
	if err != nil {
		t.Fatalf("ResolveConfig failed: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("Expected empty non-nil map, got %v", empty)
	}
}

// TestValidateConfig tests schema enforcement
func TestValidateConfig(t *testing.T) {
	r := New()
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"dimensions": {"type": "integer", "minimum": 1}
		},
		"required": ["dimensions"]
	}`)
	if err := r.Register("embed", noopHandler(), Metadata{ConfigSchema: schema}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register("free", noopHandler(), Metadata{}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := r.ValidateConfig("embed", map[string]interface{}{"dimensions": 16}); err != nil {
		t.Errorf("Expected valid config to pass, got %v", err)
	}

	err := r.ValidateConfig("embed", map[string]interface{}{"dimensions": "many"})
	if err == nil {
		t.Fatalf("Expected error for wrong type")
	}
	if !strings.Contains(err.Error(), "dimensions") {
		t.Errorf("Expected defect to name the field, got %v", err)
	}

	if err := r.ValidateConfig("embed", nil); err == nil {
		t.Errorf("Expected error for missing required field")
	}

	// Types without a schema accept anything
	if err := r.ValidateConfig("free", map[string]interface{}{"whatever": true}); err != nil {
		t.Errorf("Expected schemaless type to accept any config, got %v", err)
	}

	if err := r.ValidateConfig("missing", nil); err == nil {
		t.Errorf("Expected error for unknown type")
	}
}

// TestNodeContext tests the callback helpers tolerate nil hooks
func TestNodeContext(t *testing.T) {
	nc := &NodeContext{NodeID: "a"}

	// Nil hooks must not panic
	nc.ReportProgress(0.5, "halfway")
	nc.EmitPartial("chunk")
	if _, ok := nc.Secret("api_key"); ok {
		t.Errorf("Expected miss without a secrets lookup")
	}

	var fraction float64
	var partial interface{}
	nc.Progress = func(f float64, msg string) { fraction = f }
	nc.Partial = func(chunk interface{}) { partial = chunk }
	nc.Secrets = func(key string) (string, bool) {
		if key == "api_key" {
			return "s3cret", true
		}
		return "", false
	}

	nc.ReportProgress(0.25, "working")
	nc.EmitPartial("tok")
	if fraction != 0.25 || partial != "tok" {
		t.Errorf("Expected hooks to fire, got %v/%v", fraction, partial)
	}
	if v, ok := nc.Secret("api_key"); !ok || v != "s3cret" {
		t.Errorf("Expected secret resolution, got %v/%v", v, ok)
	}
}
