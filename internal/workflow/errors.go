package workflow

import (
	"fmt"
	"strings"
)

// WorkflowErrorCode classifies errors raised by validation and execution.
type WorkflowErrorCode string

const (
	// Structural errors: always fatal to validation, never retried.
	WorkflowErrorCycleDetected    WorkflowErrorCode = "cycle_detected"
	WorkflowErrorSizeLimit        WorkflowErrorCode = "size_limit_exceeded"
	WorkflowErrorMissingReference WorkflowErrorCode = "missing_reference"
	WorkflowErrorInvalidWorkflow  WorkflowErrorCode = "invalid_workflow"
	WorkflowErrorValidationTimeout WorkflowErrorCode = "validation_timed_out"

	// Node-level errors recorded during execution.
	WorkflowErrorNodeTimeout     WorkflowErrorCode = "node_timeout"
	WorkflowErrorNodeExecution   WorkflowErrorCode = "node_execution_failed"
	WorkflowErrorCondition       WorkflowErrorCode = "condition_evaluation_failed"
	WorkflowErrorExpression      WorkflowErrorCode = "expression_invalid"
	WorkflowErrorCancelled       WorkflowErrorCode = "execution_cancelled"
	WorkflowErrorRetriesExceeded WorkflowErrorCode = "max_retries_exceeded"

	// Contract violations raised synchronously.
	WorkflowErrorRunNotFound WorkflowErrorCode = "run_not_found"
)

// WorkflowError is an error raised by the engine. Structural errors carry
// the offending cycle path in Path for diagnosability.
type WorkflowError struct {
	Code    WorkflowErrorCode `json:"code"`
	Message string            `json:"message"`
	NodeID  string            `json:"node_id,omitempty"`
	Path    []string          `json:"path,omitempty"`
	Cause   error             `json:"-"`
}

// Error implements the error interface.
func (e *WorkflowError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.NodeID != "" {
		fmt.Fprintf(&b, " [node: %s]", e.NodeID)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Path) > 0 {
		fmt.Fprintf(&b, " (path: %s)", strings.Join(e.Path, " -> "))
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Cause)
	}
	return b.String()
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *WorkflowError) Unwrap() error {
	return e.Cause
}

// IsStructural reports whether the error aborts validation outright.
func (e *WorkflowError) IsStructural() bool {
	switch e.Code {
	case WorkflowErrorCycleDetected, WorkflowErrorSizeLimit,
		WorkflowErrorMissingReference, WorkflowErrorInvalidWorkflow,
		WorkflowErrorValidationTimeout:
		return true
	}
	return false
}

// NodeError describes the failure of one node execution attempt. The Code
// is matched against a node's NonRetryable allowlist to suppress retries.
type NodeError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

// Node error codes produced by the engine's own runners. External node
// behavior providers may return their own codes.
const (
	NodeErrTimeout          = "NODE_TIMEOUT"
	NodeErrExecution        = "NODE_EXECUTION_FAILED"
	NodeErrCondition        = "CONDITION_EVALUATION_FAILED"
	NodeErrInvalidNode      = "INVALID_NODE"
	NodeErrUnknownType      = "UNKNOWN_NODE_TYPE"
	NodeErrRetriesExhausted = "MAX_RETRIES_EXCEEDED"
)

// Error implements the error interface.
func (e *NodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *NodeError) Unwrap() error {
	return e.Cause
}
