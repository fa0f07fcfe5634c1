package workflow

import (
	"time"

	"github.com/cascade-labs/cascade/internal/types"
)

// NodeResult is the outcome of one node's execution in a run. A node
// produces exactly one NodeResult per run regardless of how many attempts
// were made; it reflects the final attempt.
type NodeResult struct {
	NodeID      string         `json:"node_id"`
	Status      NodeStatus     `json:"status"`
	Output      map[string]any `json:"output,omitempty"`
	Error       *NodeError     `json:"error,omitempty"`
	RetryCount  int            `json:"retry_count"`
	Duration    time.Duration  `json:"duration"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`

	// SkipReason explains why a node ended SKIPPED or CANCELLED without
	// executing.
	SkipReason string `json:"skip_reason,omitempty"`
}

// ExecutionResult aggregates the outcome of one workflow run. The engine
// always returns a result object for ordinary node failures; only
// structural validation errors surface as Go errors alongside it.
type ExecutionResult struct {
	// RunID identifies this execution.
	RunID types.ID `json:"run_id"`

	// WorkflowID identifies the workflow definition that was executed.
	WorkflowID types.ID `json:"workflow_id"`

	// Status is the terminal workflow status.
	Status RunStatus `json:"status"`

	// NodeResults holds one result per node, ordered by execution level and
	// node ID within a level.
	NodeResults []*NodeResult `json:"node_results"`

	// Outputs maps each terminal node (no successors) that completed to its
	// output payload.
	Outputs map[string]map[string]any `json:"outputs,omitempty"`

	// Error carries the run-level error, if any. Validation failures attach
	// the first structural error here.
	Error *WorkflowError `json:"error,omitempty"`

	// ValidationErrors carries all structural errors when validation
	// aborted the run before any node executed.
	ValidationErrors []*WorkflowError `json:"validation_errors,omitempty"`

	TotalDuration time.Duration `json:"total_duration"`
	NodesExecuted int           `json:"nodes_executed"`
	NodesFailed   int           `json:"nodes_failed"`
	NodesSkipped  int           `json:"nodes_skipped"`
}

// Result returns the NodeResult for the given node, or nil.
func (r *ExecutionResult) Result(nodeID string) *NodeResult {
	for _, nr := range r.NodeResults {
		if nr.NodeID == nodeID {
			return nr
		}
	}
	return nil
}
