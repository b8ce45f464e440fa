// Package workflow defines the workflow graph: nodes, edges, and the
// JSON envelope they arrive in.
package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Node is a unit of work in the graph. Type selects the registered
// handler, Config carries the node's static parameters.
type Node struct {
	ID     string                 `json:"id"`
	Type   string                 `json:"type"`
	Config map[string]interface{} `json:"config,omitempty"`
}

// Edge connects a source node's output to a target node's input.
// Handles, when present, override the collector's routing heuristics.
// Condition, when present, is an expression evaluated against the
// source node's output; a false result marks the edge not taken.
type Edge struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty"`
	Condition    string `json:"condition,omitempty"`
}

// Workflow is a directed graph of nodes. Edge order is significant:
// the collector merges direct inputs in declaration order.
type Workflow struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Parse decodes a workflow envelope. Structural validation (unknown
// types, dangling edges, cycles) is the planner's job; Parse only
// rejects malformed JSON.
func Parse(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse workflow: %w", err)
	}
	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}
	return &wf, nil
}

// Node returns the node with the given id
func (w *Workflow) Node(id string) (*Node, bool) {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i], true
		}
	}
	return nil, false
}

// Incoming returns the edges targeting a node, in declaration order
func (w *Workflow) Incoming(nodeID string) []Edge {
	var edges []Edge
	for _, e := range w.Edges {
		if e.Target == nodeID {
			edges = append(edges, e)
		}
	}
	return edges
}

// Outgoing returns the edges leaving a node, in declaration order
func (w *Workflow) Outgoing(nodeID string) []Edge {
	var edges []Edge
	for _, e := range w.Edges {
		if e.Source == nodeID {
			edges = append(edges, e)
		}
	}
	return edges
}

// NodeIDs returns all node ids in declaration order
func (w *Workflow) NodeIDs() []string {
	ids := make([]string, 0, len(w.Nodes))
	for _, n := range w.Nodes {
		ids = append(ids, n.ID)
	}
	return ids
}
