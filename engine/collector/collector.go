// Package collector builds the input mapping for a node from the
// terminal results of its upstream nodes.
//
// Direct sources (one edge away) are processed first, in edge
// declaration order; their writes are unconditional and every write is
// also preserved under a {source_id}_{field} alias. Indirect sources
// (transitive ancestors) write conditionally, closest ancestor first.
// Edge handles override the heuristic table entirely for their edge.
package collector

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/nodeai/nodeai/engine/condition"
	"github.com/nodeai/nodeai/engine/model"
	"github.com/nodeai/nodeai/engine/workflow"
)

// ProvenanceKey is the metadata key recording list merge contributors
const ProvenanceKey = "_provenance"

// SkipError signals the target must be skipped instead of executed
type SkipError struct {
	Reason string
}

// Error implements the error interface
func (e *SkipError) Error() string {
	return "inputs unavailable: " + e.Reason
}

// Logger is the logging surface the collector needs
type Logger interface {
	Warn(msg string, args ...any)
}

// Options configures a collector
type Options struct {
	// IntelligentRouting additionally exposes every upstream field
	// under a {source_id}.{field} key. Off by default; never overrides
	// heuristic writes.
	IntelligentRouting bool
	Logger             Logger
}

// Collector gathers node inputs. One collector serves every execution;
// it holds no per-execution state.
type Collector struct {
	table       *MappingTable
	conditions  *condition.Evaluator
	intelligent bool
	log         Logger
}

// New creates a collector over a routing table. A nil table uses the
// default policy; a nil evaluator is created internally.
func New(table *MappingTable, conditions *condition.Evaluator, opts Options) *Collector {
	if table == nil {
		table = DefaultTable()
	}
	if conditions == nil {
		conditions, _ = condition.NewEvaluator()
	}
	return &Collector{
		table:       table,
		conditions:  conditions,
		intelligent: opts.IntelligentRouting,
		log:         opts.Logger,
	}
}

// Collect produces the input mapping for target from the terminal
// upstream results. Callers must only pass results maps in which every
// upstream node of target is terminal.
//
// A SkipError with reason missing_input means no direct source
// completed; branch_not_taken means direct sources completed but every
// edge condition evaluated false.
func (c *Collector) Collect(target *workflow.Node, results map[string]*model.NodeResult, wf *workflow.Workflow) (map[string]interface{}, error) {
	st := &state{
		inputs:   make(map[string]interface{}),
		direct:   make(map[string]bool),
		indirect: make(map[string]bool),
		writers:  make(map[string][]string),
		merged:   make(map[string]bool),
	}

	directEdges := wf.Incoming(target.ID)
	directSet := make(map[string]bool, len(directEdges))
	for _, e := range directEdges {
		directSet[e.Source] = true
	}

	if len(directEdges) > 0 {
		taken := make([]workflow.Edge, 0, len(directEdges))
		anyCompleted := false
		for _, e := range directEdges {
			res := results[e.Source]
			if res == nil || res.Status != model.NodeCompleted {
				continue
			}
			anyCompleted = true
			if c.edgeTaken(e, res) {
				taken = append(taken, e)
			}
		}
		if !anyCompleted {
			return nil, &SkipError{Reason: model.SkipMissingInput}
		}
		if len(taken) == 0 {
			return nil, &SkipError{Reason: model.SkipBranchNotTaken}
		}

		for _, e := range taken {
			out := results[e.Source].Output
			if e.SourceHandle != "" || e.TargetHandle != "" {
				c.routeHandle(st, e, out)
				continue
			}
			c.applyPolicy(st, target.Type, e.Source, out, true)
		}
	}

	ancestors := indirectAncestors(target.ID, wf, directSet)
	for _, anc := range ancestors {
		res := results[anc.id]
		if res == nil || res.Status != model.NodeCompleted {
			continue
		}
		c.applyPolicy(st, target.Type, anc.id, res.Output, false)
	}

	if c.intelligent {
		c.routeNamespaced(st, directSet, ancestors, results)
	}

	st.finalize()
	return st.inputs, nil
}

// edgeTaken evaluates an edge condition against the source output. An
// unevaluable condition counts as not taken.
func (c *Collector) edgeTaken(e workflow.Edge, res *model.NodeResult) bool {
	if e.Condition == "" {
		return true
	}
	ok, err := c.conditions.Evaluate(e.Condition, res.Output)
	if err != nil {
		if c.log != nil {
			c.log.Warn("failed to evaluate edge condition",
				"source", e.Source,
				"target", e.Target,
				"error", err)
		}
		return false
	}
	return ok
}

// routeHandle routes exactly the named handle field, bypassing the
// heuristic table. A missing handle on one side mirrors the other.
func (c *Collector) routeHandle(st *state, e workflow.Edge, out map[string]interface{}) {
	sourceField := e.SourceHandle
	targetField := e.TargetHandle
	if sourceField == "" {
		sourceField = targetField
	}
	if targetField == "" {
		targetField = sourceField
	}

	value, ok := lookupField(out, sourceField)
	if !ok {
		return
	}
	st.writeDirect(e.Source, targetField, value)
}

// applyPolicy runs the target type's routing rules against one source
// output. Types without table rules copy every field verbatim.
func (c *Collector) applyPolicy(st *state, targetType, sourceID string, out map[string]interface{}, direct bool) {
	if out == nil {
		return
	}

	rules, ok := c.table.Rules(targetType)
	if !ok {
		for _, field := range sortedFields(out) {
			st.write(sourceID, field, out[field], direct)
		}
		return
	}

	for _, rule := range rules {
		for _, candidate := range rule.Candidates {
			raw, present := out[candidate]
			if !present {
				continue
			}
			value := raw
			if rule.Transform != nil {
				transformed, usable := rule.Transform(raw)
				if !usable {
					continue
				}
				value = transformed
			}
			st.write(sourceID, rule.Field, value, direct)
			break
		}
	}
}

// routeNamespaced exposes every completed upstream field under
// {source_id}.{field}, without touching heuristic writes.
func (c *Collector) routeNamespaced(st *state, directSet map[string]bool, ancestors []ancestor, results map[string]*model.NodeResult) {
	upstream := make([]string, 0, len(directSet)+len(ancestors))
	for id := range directSet {
		upstream = append(upstream, id)
	}
	for _, anc := range ancestors {
		upstream = append(upstream, anc.id)
	}
	sort.Strings(upstream)

	for _, id := range upstream {
		res := results[id]
		if res == nil || res.Status != model.NodeCompleted || res.Output == nil {
			continue
		}
		for _, field := range sortedFields(res.Output) {
			key := id + "." + field
			if _, exists := st.inputs[key]; exists {
				continue
			}
			st.inputs[key] = res.Output[field]
		}
	}
}

// state accumulates writes for one Collect call
type state struct {
	inputs   map[string]interface{}
	direct   map[string]bool
	indirect map[string]bool
	writers  map[string][]string
	merged   map[string]bool
}

func (s *state) write(sourceID, field string, value interface{}, direct bool) {
	if direct {
		s.writeDirect(sourceID, field, value)
		return
	}
	s.writeIndirect(field, value)
}

// writeDirect assigns unconditionally. Two direct list writes to the
// same field concatenate in edge order; scalars follow last writer
// wins. Every direct write also lands under the source alias.
func (s *state) writeDirect(sourceID, field string, value interface{}) {
	s.inputs[sourceID+"_"+field] = value
	s.writers[field] = append(s.writers[field], sourceID)

	if existing, ok := s.inputs[field]; ok && s.direct[field] {
		existingList, eOK := existing.([]interface{})
		valueList, vOK := value.([]interface{})
		if eOK && vOK {
			mergedList := make([]interface{}, 0, len(existingList)+len(valueList))
			mergedList = append(mergedList, existingList...)
			mergedList = append(mergedList, valueList...)
			s.inputs[field] = mergedList
			s.merged[field] = true
			return
		}
	}

	s.inputs[field] = value
	s.direct[field] = true
}

// writeIndirect assigns only fields no direct or closer indirect
// source has claimed.
func (s *state) writeIndirect(field string, value interface{}) {
	if s.direct[field] || s.indirect[field] {
		return
	}
	if _, exists := s.inputs[field]; exists {
		return
	}
	s.inputs[field] = value
	s.indirect[field] = true
}

// finalize attaches merge provenance when any list concatenation
// happened.
func (s *state) finalize() {
	if len(s.merged) == 0 {
		return
	}

	fields := make([]string, 0, len(s.merged))
	for field := range s.merged {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	entries := make([]interface{}, 0)
	for _, field := range fields {
		for _, sourceID := range s.writers[field] {
			entries = append(entries, map[string]interface{}{
				"source_id": sourceID,
				"field":     field,
			})
		}
	}
	s.inputs[ProvenanceKey] = entries
}

// ancestor is an indirect source with its hop distance to the target
type ancestor struct {
	id   string
	dist int
}

// indirectAncestors walks the reversed graph from the target and
// returns transitive ancestors ordered by hop distance, then id.
// Direct sources are excluded even when a longer path also reaches
// them.
func indirectAncestors(targetID string, wf *workflow.Workflow, directSet map[string]bool) []ancestor {
	reverse := make(map[string][]string)
	for _, e := range wf.Edges {
		reverse[e.Target] = append(reverse[e.Target], e.Source)
	}

	dist := map[string]int{targetID: 0}
	queue := []string{targetID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, prev := range reverse[current] {
			if _, seen := dist[prev]; seen {
				continue
			}
			dist[prev] = dist[current] + 1
			queue = append(queue, prev)
		}
	}

	ancestors := make([]ancestor, 0, len(dist))
	for id, d := range dist {
		if id == targetID || directSet[id] {
			continue
		}
		ancestors = append(ancestors, ancestor{id: id, dist: d})
	}
	sort.Slice(ancestors, func(i, j int) bool {
		if ancestors[i].dist != ancestors[j].dist {
			return ancestors[i].dist < ancestors[j].dist
		}
		return ancestors[i].id < ancestors[j].id
	})
	return ancestors
}

// lookupField resolves a field by name, falling back to a gjson path
// for nested handles like "meta.title".
func lookupField(out map[string]interface{}, path string) (interface{}, bool) {
	if v, ok := out[path]; ok {
		return v, true
	}
	if !strings.Contains(path, ".") {
		return nil, false
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, false
	}
	result := gjson.GetBytes(data, path)
	if !result.Exists() {
		return nil, false
	}
	return result.Value(), true
}

// sortedFields returns an output's routable field names in sorted
// order, excluding metadata keys.
func sortedFields(out map[string]interface{}) []string {
	fields := make([]string, 0, len(out))
	for k := range out {
		if strings.HasPrefix(k, "_") {
			continue
		}
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}
