package workflow

import (
	"math"
	"time"
)

// BackoffStrategy selects how retry delays grow between attempts.
type BackoffStrategy string

const (
	// BackoffConstant keeps the same delay for every retry attempt.
	BackoffConstant BackoffStrategy = "constant"
	// BackoffLinear grows the delay linearly with the attempt number.
	BackoffLinear BackoffStrategy = "linear"
	// BackoffExponential grows the delay as initial * multiplier^attempt.
	BackoffExponential BackoffStrategy = "exponential"
)

// NodeType identifies the behavior of a workflow node. The set is closed;
// the validator rejects unknown types.
type NodeType string

const (
	// NodeTypeTrigger starts a workflow; its output is the run input.
	NodeTypeTrigger NodeType = "trigger"
	// NodeTypeTool invokes a registered tool with the node's resolved input.
	NodeTypeTool NodeType = "tool"
	// NodeTypeAgent delegates to a registered agent.
	NodeTypeAgent NodeType = "agent"
	// NodeTypeCondition selects one outgoing edge by evaluating edge
	// conditions against the node's resolved input.
	NodeTypeCondition NodeType = "condition"
	// NodeTypeAdapter reshapes its input through a key mapping.
	NodeTypeAdapter NodeType = "adapter"
	// NodeTypeAggregator collects the outputs of all its predecessors.
	NodeTypeAggregator NodeType = "aggregator"
)

// IsValid reports whether t is one of the known node types.
func (t NodeType) IsValid() bool {
	switch t {
	case NodeTypeTrigger, NodeTypeTool, NodeTypeAgent,
		NodeTypeCondition, NodeTypeAdapter, NodeTypeAggregator:
		return true
	}
	return false
}

// NodeStatus represents the execution status of a workflow node.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusRetrying  NodeStatus = "retrying"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
	NodeStatusCancelled NodeStatus = "cancelled"
)

// IsTerminal reports whether the status is a final per-node state.
func (s NodeStatus) IsTerminal() bool {
	switch s {
	case NodeStatusCompleted, NodeStatusFailed, NodeStatusSkipped, NodeStatusCancelled:
		return true
	}
	return false
}

// Node is a single node in a workflow DAG. Nodes are immutable inputs to
// the engine; the executor never mutates them during a run.
type Node struct {
	// Core identity fields
	ID          string   `json:"id" yaml:"id"`
	Type        NodeType `json:"type" yaml:"type"`
	Name        string   `json:"name,omitempty" yaml:"name,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`

	// Tool node fields
	ToolName  string         `json:"tool_name,omitempty" yaml:"tool,omitempty"`
	ToolInput map[string]any `json:"tool_input,omitempty" yaml:"input,omitempty"`

	// Agent node fields
	AgentName string         `json:"agent_name,omitempty" yaml:"agent,omitempty"`
	AgentTask map[string]any `json:"agent_task,omitempty" yaml:"task,omitempty"`

	// Adapter node fields: output key -> input key rename map.
	AdapterMapping map[string]string `json:"adapter_mapping,omitempty" yaml:"mapping,omitempty"`

	// Execution control fields
	Timeout     time.Duration `json:"timeout,omitempty" yaml:"-"`
	RetryPolicy *RetryPolicy  `json:"retry_policy,omitempty" yaml:"-"`

	// NonRetryable lists error codes that must not be retried even when a
	// retry policy is configured.
	NonRetryable []string `json:"non_retryable,omitempty" yaml:"non_retryable,omitempty"`

	// Additional metadata
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// RetryPolicy defines the retry behavior for a workflow node.
type RetryPolicy struct {
	// MaxRetries is the number of retry attempts after the first failure.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
	// BackoffStrategy determines how delays are calculated between retries.
	BackoffStrategy BackoffStrategy `json:"backoff_strategy" yaml:"backoff"`
	// InitialDelay is the delay before the first retry attempt.
	InitialDelay time.Duration `json:"initial_delay" yaml:"-"`
	// MaxDelay caps the delay between attempts for growing strategies.
	MaxDelay time.Duration `json:"max_delay" yaml:"-"`
	// Multiplier is the exponential growth factor.
	Multiplier float64 `json:"multiplier" yaml:"multiplier"`
}

// Delay returns the backoff delay to apply after the given zero-based
// failed attempt.
func (rp *RetryPolicy) Delay(attempt int) time.Duration {
	var delay time.Duration
	switch rp.BackoffStrategy {
	case BackoffConstant:
		delay = rp.InitialDelay
	case BackoffLinear:
		delay = rp.InitialDelay + rp.InitialDelay*time.Duration(attempt)
	case BackoffExponential:
		multiplier := rp.Multiplier
		if multiplier <= 0 {
			multiplier = 2.0
		}
		delay = time.Duration(float64(rp.InitialDelay) * math.Pow(multiplier, float64(attempt)))
	default:
		delay = rp.InitialDelay
	}
	if rp.MaxDelay > 0 && delay > rp.MaxDelay {
		return rp.MaxDelay
	}
	return delay
}
