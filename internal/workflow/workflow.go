package workflow

import (
	"time"

	"github.com/cascade-labs/cascade/internal/graph"
	"github.com/cascade-labs/cascade/internal/types"
)

// RunStatus represents the terminal (or in-flight) status of a workflow run.
type RunStatus string

const (
	// RunStatusPending indicates the run is ready but not yet started.
	RunStatusPending RunStatus = "pending"
	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"
	// RunStatusCompleted indicates every executed node succeeded.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed indicates a failure occurred and no terminal output
	// was produced.
	RunStatusFailed RunStatus = "failed"
	// RunStatusPartial indicates some branches completed while others
	// failed or were skipped because of a failure.
	RunStatusPartial RunStatus = "partial"
	// RunStatusCancelled indicates cancellation preempted the run.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the status is a final run state.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusPartial, RunStatusCancelled:
		return true
	}
	return false
}

// Workflow is one workflow snapshot at a given version: the full set of
// nodes and edges handed to the validator and executor. A workflow passed
// to the executor must already have been validated.
type Workflow struct {
	// ID is the unique identifier for this workflow.
	ID types.ID `json:"id" yaml:"-"`

	// Name is a human-readable name for the workflow.
	Name string `json:"name" yaml:"name"`

	// Description provides additional context about what the workflow does.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Version identifies the snapshot of the definition.
	Version int `json:"version,omitempty" yaml:"version,omitempty"`

	// Nodes contains all nodes, indexed by node ID.
	Nodes map[string]*Node `json:"nodes" yaml:"-"`

	// Edges contains all directed edges, in declaration order. Declaration
	// order matters: the execution context consults incoming edges in this
	// order when merging predecessor outputs.
	Edges []Edge `json:"edges" yaml:"-"`

	// Variables seed the run's workflow-scope variables.
	Variables map[string]any `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Metadata contains additional custom metadata.
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// CreatedAt is the timestamp when the workflow snapshot was created.
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// GetNode retrieves a node by ID, or nil if not found.
func (w *Workflow) GetNode(id string) *Node {
	if w.Nodes == nil {
		return nil
	}
	return w.Nodes[id]
}

// TriggerNodes returns the IDs of all trigger-typed nodes.
func (w *Workflow) TriggerNodes() []string {
	var ids []string
	for id, node := range w.Nodes {
		if node != nil && node.Type == NodeTypeTrigger {
			ids = append(ids, id)
		}
	}
	return ids
}

// IncomingEdges returns the edges entering the node, in declaration order.
func (w *Workflow) IncomingEdges(nodeID string) []Edge {
	var in []Edge
	for _, e := range w.Edges {
		if e.To == nodeID {
			in = append(in, e)
		}
	}
	return in
}

// OutgoingEdges returns the edges leaving the node, in declaration order.
func (w *Workflow) OutgoingEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range w.Edges {
		if e.From == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// TerminalNodes returns the IDs of nodes with no outgoing edges. Their
// outputs form the run's final output set.
func (w *Workflow) TerminalNodes() []string {
	hasOutgoing := make(map[string]bool, len(w.Nodes))
	for _, e := range w.Edges {
		hasOutgoing[e.From] = true
	}
	var ids []string
	for id := range w.Nodes {
		if !hasOutgoing[id] {
			ids = append(ids, id)
		}
	}
	return ids
}

// Graph builds the adjacency-list graph over the workflow's nodes and
// edges. The result is read-only after construction.
func (w *Workflow) Graph() *graph.Directed {
	g := graph.New()
	for id := range w.Nodes {
		g.AddNode(id)
	}
	for _, e := range w.Edges {
		g.AddEdge(e.From, e.To)
	}
	return g
}
