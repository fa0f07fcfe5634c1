package workflow

import (
	"sync"
	"time"

	"dario.cat/mergo"
)

// ErrorRecord is one node failure captured in the execution context.
type ErrorRecord struct {
	NodeID     string    `json:"node_id"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ExecutionContext is the run-scoped, concurrency-safe store of node
// outputs, workflow variables, error records, and condition branch choices.
//
// A single mutex guards all internal maps. This is intentionally
// coarse-grained: node execution happens outside the lock, so the lock only
// covers cheap bookkeeping reads and writes and contention stays negligible
// at the tens-of-parallel-nodes this engine targets.
type ExecutionContext struct {
	mu        sync.Mutex
	outputs   map[string]map[string]any
	variables map[string]any
	errors    []ErrorRecord
	branches  map[string]string
}

// NewExecutionContext creates a context for one run, seeding the workflow
// variables from the run input. Variables are never removed during a run.
func NewExecutionContext(input map[string]any) *ExecutionContext {
	vars := make(map[string]any, len(input))
	for k, v := range input {
		vars[k] = v
	}
	return &ExecutionContext{
		outputs:   make(map[string]map[string]any),
		variables: vars,
		branches:  make(map[string]string),
	}
}

// Input resolves a node's effective input: the current workflow variables
// merged with the outputs of every source node referenced by the incoming
// edges. Edges are consulted in declaration order and later edges overwrite
// on key collision; an edge's Remap is applied to its source output before
// the merge. Sources without a committed output are skipped.
func (c *ExecutionContext) Input(incoming []Edge) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	merged := make(map[string]any, len(c.variables))
	for k, v := range c.variables {
		merged[k] = v
	}

	for _, edge := range incoming {
		output, ok := c.outputs[edge.From]
		if !ok {
			continue
		}
		src := output
		if len(edge.Remap) > 0 {
			src = remapKeys(output, edge.Remap)
		}
		// WithOverride makes the later edge win on collisions.
		if err := mergo.Merge(&merged, src, mergo.WithOverride); err != nil {
			// Merge only fails on non-map inputs, which cannot happen
			// here; fall back to shallow overwrite.
			for k, v := range src {
				merged[k] = v
			}
		}
	}
	return merged
}

// SetOutput commits a node's completed output.
func (c *ExecutionContext) SetOutput(nodeID string, output map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs[nodeID] = output
}

// Output returns a node's committed output.
func (c *ExecutionContext) Output(nodeID string) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, ok := c.outputs[nodeID]
	return out, ok
}

// SetVariable sets a workflow-scope variable.
func (c *ExecutionContext) SetVariable(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[name] = value
}

// Variable returns a workflow-scope variable.
func (c *ExecutionContext) Variable(name string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.variables[name]
	return v, ok
}

// RecordError appends a node error record.
func (c *ExecutionContext) RecordError(nodeID, code, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, ErrorRecord{
		NodeID:     nodeID,
		Code:       code,
		Message:    message,
		RecordedAt: time.Now(),
	})
}

// Errors returns a copy of the recorded node errors.
func (c *ExecutionContext) Errors() []ErrorRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ErrorRecord, len(c.errors))
	copy(out, c.errors)
	return out
}

// SetBranch records the outgoing edge target a condition node selected.
// Condition nodes record their chosen branch here instead of producing a
// generic output.
func (c *ExecutionContext) SetBranch(nodeID, target string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.branches[nodeID] = target
}

// Branch returns the branch target a condition node selected, if any.
func (c *ExecutionContext) Branch(nodeID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.branches[nodeID]
	return t, ok
}

// remapKeys builds a copy of output with keys renamed according to the
// edge's remap table (destination key -> source key). Keys not named in the
// table pass through unchanged unless a remapped entry claims them.
func remapKeys(output map[string]any, remap map[string]string) map[string]any {
	claimed := make(map[string]bool, len(remap))
	for _, srcKey := range remap {
		claimed[srcKey] = true
	}
	out := make(map[string]any, len(output))
	for k, v := range output {
		if !claimed[k] {
			out[k] = v
		}
	}
	for dstKey, srcKey := range remap {
		if v, ok := output[srcKey]; ok {
			out[dstKey] = v
		}
	}
	return out
}
