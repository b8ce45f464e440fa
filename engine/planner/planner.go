// Package planner validates workflow graphs and produces deterministic
// execution plans.
package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nodeai/nodeai/engine/model"
	"github.com/nodeai/nodeai/engine/workflow"
)

// TypeSet reports whether a node type is registered. Satisfied by
// registry.Registry.
type TypeSet interface {
	Contains(nodeType string) bool
}

// ValidationError is one structural defect found in a workflow
type ValidationError struct {
	Kind    model.ErrorKind `json:"kind"`
	Message string          `json:"message"`
	NodeID  string          `json:"node_id,omitempty"`
	Cycle   []string        `json:"cycle,omitempty"`
}

// Error implements the error interface
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ValidationErrors aggregates every defect found in one pass
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, v := range e {
		msgs = append(msgs, v.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks a workflow for structural defects. It collects every
// defect rather than stopping at the first, so callers can report the
// full list. A nil return means the workflow is executable.
func Validate(wf *workflow.Workflow, types TypeSet) ValidationErrors {
	var errs ValidationErrors

	seen := make(map[string]bool, len(wf.Nodes))
	for _, n := range wf.Nodes {
		if seen[n.ID] {
			errs = append(errs, ValidationError{
				Kind:    model.KindDuplicateNodeID,
				Message: fmt.Sprintf("node id %q declared more than once", n.ID),
				NodeID:  n.ID,
			})
			continue
		}
		seen[n.ID] = true

		if !types.Contains(n.Type) {
			errs = append(errs, ValidationError{
				Kind:    model.KindUnknownNodeType,
				Message: fmt.Sprintf("node %q has unregistered type %q", n.ID, n.Type),
				NodeID:  n.ID,
			})
		}
	}

	type edgeKey struct {
		source, sourceHandle, target, targetHandle string
	}
	seenEdges := make(map[edgeKey]bool, len(wf.Edges))
	for _, e := range wf.Edges {
		if e.Source == "" || e.Target == "" {
			errs = append(errs, ValidationError{
				Kind:    model.KindInvalidEdge,
				Message: fmt.Sprintf("edge %q -> %q is missing an endpoint", e.Source, e.Target),
			})
			continue
		}
		if e.Source == e.Target {
			errs = append(errs, ValidationError{
				Kind:    model.KindInvalidEdge,
				Message: fmt.Sprintf("edge %q -> %q is self-referential", e.Source, e.Target),
				NodeID:  e.Source,
			})
			continue
		}
		key := edgeKey{e.Source, e.SourceHandle, e.Target, e.TargetHandle}
		if seenEdges[key] {
			errs = append(errs, ValidationError{
				Kind:    model.KindInvalidEdge,
				Message: fmt.Sprintf("edge %q -> %q declared more than once", e.Source, e.Target),
			})
			continue
		}
		seenEdges[key] = true
		if !seen[e.Source] {
			errs = append(errs, ValidationError{
				Kind:    model.KindDanglingEdge,
				Message: fmt.Sprintf("edge source %q is not a declared node", e.Source),
				NodeID:  e.Source,
			})
		}
		if !seen[e.Target] {
			errs = append(errs, ValidationError{
				Kind:    model.KindDanglingEdge,
				Message: fmt.Sprintf("edge target %q is not a declared node", e.Target),
				NodeID:  e.Target,
			})
		}
	}

	// Cycle detection only makes sense on a graph whose edges resolve
	if len(errs) == 0 {
		if cycle := findCycle(wf); cycle != nil {
			errs = append(errs, ValidationError{
				Kind:    model.KindCyclicWorkflow,
				Message: fmt.Sprintf("workflow contains a cycle: %s", strings.Join(cycle, " -> ")),
				Cycle:   cycle,
			})
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Plan returns a topological order over the workflow's nodes. Nodes
// whose dependencies are all satisfied are emitted in lexicographic
// order, so the plan is deterministic for a given graph.
func Plan(wf *workflow.Workflow) ([]string, error) {
	indegree := make(map[string]int, len(wf.Nodes))
	adjacent := make(map[string][]string, len(wf.Nodes))
	for _, n := range wf.Nodes {
		indegree[n.ID] = 0
	}
	for _, e := range wf.Edges {
		adjacent[e.Source] = append(adjacent[e.Source], e.Target)
		indegree[e.Target]++
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, len(wf.Nodes))
	for len(ready) > 0 {
		sort.Strings(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, t := range adjacent[next] {
			indegree[t]--
			if indegree[t] == 0 {
				ready = append(ready, t)
			}
		}
	}

	if len(order) != len(wf.Nodes) {
		cycle := findCycle(wf)
		return nil, ValidationError{
			Kind:    model.KindCyclicWorkflow,
			Message: fmt.Sprintf("workflow contains a cycle: %s", strings.Join(cycle, " -> ")),
			Cycle:   cycle,
		}
	}
	return order, nil
}

// findCycle locates one cycle via DFS and returns it as a closed path,
// e.g. ["a", "b", "a"]. Roots and neighbors are visited in
// lexicographic order so the reported cycle is stable. Returns nil for
// acyclic graphs.
func findCycle(wf *workflow.Workflow) []string {
	adjacent := make(map[string][]string, len(wf.Nodes))
	for _, e := range wf.Edges {
		adjacent[e.Source] = append(adjacent[e.Source], e.Target)
	}
	for _, targets := range adjacent {
		sort.Strings(targets)
	}

	roots := make([]string, 0, len(wf.Nodes))
	for _, n := range wf.Nodes {
		roots = append(roots, n.ID)
	}
	sort.Strings(roots)

	visited := make(map[string]bool, len(wf.Nodes))
	onStack := make(map[string]bool, len(wf.Nodes))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		visited[id] = true
		onStack[id] = true
		stack = append(stack, id)

		for _, next := range adjacent[id] {
			if onStack[next] {
				// Back edge: slice the stack from the first
				// occurrence of next and close the loop
				for i, s := range stack {
					if s == next {
						cycle = append(append([]string{}, stack[i:]...), next)
						return true
					}
				}
			}
			if !visited[next] && visit(next) {
				return true
			}
		}

		onStack[id] = false
		stack = stack[:len(stack)-1]
		return false
	}

	for _, root := range roots {
		if !visited[root] && visit(root) {
			return cycle
		}
	}
	return nil
}
