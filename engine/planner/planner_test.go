package planner

import (
	"reflect"
	"testing"

	"github.com/nodeai/nodeai/engine/model"
	"github.com/nodeai/nodeai/engine/workflow"
)

// typeSet is a fixed TypeSet for tests
type typeSet map[string]bool

func (s typeSet) Contains(nodeType string) bool { return s[nodeType] }

var knownTypes = typeSet{"input": true, "work": true, "output": true}

func nodes(ids ...string) []workflow.Node {
	out := make([]workflow.Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, workflow.Node{ID: id, Type: "work"})
	}
	return out
}

func edges(pairs ...[2]string) []workflow.Edge {
	out := make([]workflow.Edge, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, workflow.Edge{Source: p[0], Target: p[1]})
	}
	return out
}

// TestValidate tests defect detection, one defect class per case
func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		wf        *workflow.Workflow
		wantKinds []model.ErrorKind
	}{
		{
			name: "valid_linear",
			wf: &workflow.Workflow{
				Nodes: nodes("a", "b", "c"),
				Edges: edges([2]string{"a", "b"}, [2]string{"b", "c"}),
			},
		},
		{
			name: "duplicate_node_id",
			wf: &workflow.Workflow{
				Nodes: []workflow.Node{
					{ID: "a", Type: "work"},
					{ID: "a", Type: "work"},
				},
			},
			wantKinds: []model.ErrorKind{model.KindDuplicateNodeID},
		},
		{
			name: "unknown_node_type",
			wf: &workflow.Workflow{
				Nodes: []workflow.Node{{ID: "a", Type: "quantum"}},
			},
			wantKinds: []model.ErrorKind{model.KindUnknownNodeType},
		},
		{
			name: "dangling_edge_source",
			wf: &workflow.Workflow{
				Nodes: nodes("b"),
				Edges: edges([2]string{"ghost", "b"}),
			},
			wantKinds: []model.ErrorKind{model.KindDanglingEdge},
		},
		{
			name: "dangling_edge_target",
			wf: &workflow.Workflow{
				Nodes: nodes("a"),
				Edges: edges([2]string{"a", "ghost"}),
			},
			wantKinds: []model.ErrorKind{model.KindDanglingEdge},
		},
		{
			name: "edge_missing_endpoint",
			wf: &workflow.Workflow{
				Nodes: nodes("a"),
				Edges: []workflow.Edge{{Source: "a", Target: ""}},
			},
			wantKinds: []model.ErrorKind{model.KindInvalidEdge},
		},
		{
			name: "self_loop",
			wf: &workflow.Workflow{
				Nodes: nodes("a"),
				Edges: edges([2]string{"a", "a"}),
			},
			wantKinds: []model.ErrorKind{model.KindInvalidEdge},
		},
		{
			name: "duplicate_edge",
			wf: &workflow.Workflow{
				Nodes: nodes("a", "b"),
				Edges: edges([2]string{"a", "b"}, [2]string{"a", "b"}),
			},
			wantKinds: []model.ErrorKind{model.KindInvalidEdge},
		},
		{
			name: "cycle",
			wf: &workflow.Workflow{
				Nodes: nodes("a", "b"),
				Edges: edges([2]string{"a", "b"}, [2]string{"b", "a"}),
			},
			wantKinds: []model.ErrorKind{model.KindCyclicWorkflow},
		},
		{
			name: "multiple_defects_collected",
			wf: &workflow.Workflow{
				Nodes: []workflow.Node{
					{ID: "a", Type: "quantum"},
					{ID: "a", Type: "work"},
				},
				Edges: edges([2]string{"a", "ghost"}),
			},
			wantKinds: []model.ErrorKind{
				model.KindUnknownNodeType,
				model.KindDuplicateNodeID,
				model.KindDanglingEdge,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(tt.wf, knownTypes)

			if len(tt.wantKinds) == 0 {
				if errs != nil {
					t.Fatalf("Expected no defects, got %v", errs)
				}
				return
			}
			if len(errs) != len(tt.wantKinds) {
				t.Fatalf("Expected %d defects, got %d: %v", len(tt.wantKinds), len(errs), errs)
			}
			for _, kind := range tt.wantKinds {
				found := false
				for _, e := range errs {
					if e.Kind == kind {
						found = true
						break
					}
				}
				if !found {
					t.Errorf("Expected defect kind %s in %v", kind, errs)
				}
			}
		})
	}
}

// TestValidate_ParallelEdgesWithDistinctHandles tests that edges
// between the same pair are legal when their handles differ.
func TestValidate_ParallelEdgesWithDistinctHandles(t *testing.T) {
	wf := &workflow.Workflow{
		Nodes: nodes("a", "b"),
		Edges: []workflow.Edge{
			{Source: "a", Target: "b", SourceHandle: "text"},
			{Source: "a", Target: "b", SourceHandle: "score"},
		},
	}
	if errs := Validate(wf, knownTypes); errs != nil {
		t.Errorf("Expected distinct handles to be legal, got %v", errs)
	}

	// Identical quadruple is a duplicate
	wf.Edges[1].SourceHandle = "text"
	errs := Validate(wf, knownTypes)
	if len(errs) != 1 || errs[0].Kind != model.KindInvalidEdge {
		t.Errorf("Expected one InvalidEdge for identical quadruple, got %v", errs)
	}
}

// TestValidate_CyclePath tests the closed cycle path in the defect
func TestValidate_CyclePath(t *testing.T) {
	wf := &workflow.Workflow{
		Nodes: nodes("a", "b"),
		Edges: edges([2]string{"a", "b"}, [2]string{"b", "a"}),
	}

	errs := Validate(wf, knownTypes)
	if len(errs) != 1 {
		t.Fatalf("Expected one defect, got %v", errs)
	}
	if !reflect.DeepEqual(errs[0].Cycle, []string{"a", "b", "a"}) {
		t.Errorf("Expected closed cycle path [a b a], got %v", errs[0].Cycle)
	}
}

// TestValidate_CycleBehindChain tests cycle detection past an acyclic
// prefix.
func TestValidate_CycleBehindChain(t *testing.T) {
	wf := &workflow.Workflow{
		Nodes: nodes("start", "x", "y", "z"),
		Edges: edges(
			[2]string{"start", "x"},
			[2]string{"x", "y"},
			[2]string{"y", "z"},
			[2]string{"z", "x"},
		),
	}

	errs := Validate(wf, knownTypes)
	if len(errs) != 1 || errs[0].Kind != model.KindCyclicWorkflow {
		t.Fatalf("Expected one CyclicWorkflow defect, got %v", errs)
	}
	cycle := errs[0].Cycle
	if len(cycle) != 4 || cycle[0] != cycle[len(cycle)-1] {
		t.Errorf("Expected a closed 3-node cycle, got %v", cycle)
	}
}

// TestPlan tests deterministic topological ordering
func TestPlan(t *testing.T) {
	tests := []struct {
		name string
		wf   *workflow.Workflow
		want []string
	}{
		{
			name: "linear",
			wf: &workflow.Workflow{
				Nodes: nodes("c", "a", "b"),
				Edges: edges([2]string{"c", "a"}, [2]string{"a", "b"}),
			},
			want: []string{"c", "a", "b"},
		},
		{
			name: "roots_lexicographic",
			wf: &workflow.Workflow{
				Nodes: nodes("z", "m", "a"),
			},
			want: []string{"a", "m", "z"},
		},
		{
			name: "diamond",
			wf: &workflow.Workflow{
				Nodes: nodes("top", "left", "right", "bottom"),
				Edges: edges(
					[2]string{"top", "left"},
					[2]string{"top", "right"},
					[2]string{"left", "bottom"},
					[2]string{"right", "bottom"},
				),
			},
			want: []string{"top", "left", "right", "bottom"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, err := Plan(tt.wf)
			if err != nil {
				t.Fatalf("Plan failed: %v", err)
			}
			if !reflect.DeepEqual(order, tt.want) {
				t.Errorf("Expected order %v, got %v", tt.want, order)
			}
		})
	}
}

// TestPlan_Cycle tests that planning a cyclic graph fails with the
// cycle encoded in the error.
func TestPlan_Cycle(t *testing.T) {
	wf := &workflow.Workflow{
		Nodes: nodes("a", "b"),
		Edges: edges([2]string{"a", "b"}, [2]string{"b", "a"}),
	}

	_, err := Plan(wf)
	if err == nil {
		t.Fatalf("Expected error for cyclic graph")
	}
	verr, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("Expected ValidationError, got %T", err)
	}
	if verr.Kind != model.KindCyclicWorkflow {
		t.Errorf("Expected CyclicWorkflow, got %s", verr.Kind)
	}
	if !reflect.DeepEqual(verr.Cycle, []string{"a", "b", "a"}) {
		t.Errorf("Expected cycle [a b a], got %v", verr.Cycle)
	}
}

// TestValidationErrors_Error tests the aggregated message
func TestValidationErrors_Error(t *testing.T) {
	errs := ValidationErrors{
		{Kind: model.KindUnknownNodeType, Message: "first"},
		{Kind: model.KindDanglingEdge, Message: "second"},
	}
	msg := errs.Error()
	if msg != "UnknownNodeType: first; DanglingEdge: second" {
		t.Errorf("Unexpected aggregated message: %s", msg)
	}
}
