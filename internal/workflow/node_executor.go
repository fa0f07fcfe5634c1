package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cascade-labs/cascade/internal/events"
	"github.com/cascade-labs/cascade/internal/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// executeNode runs a single node to its terminal state: input resolution,
// bounded attempts with per-attempt timeout, backoff between retries, and
// output/branch commit on success. It always returns exactly one
// NodeResult reflecting the final attempt.
func (e *Executor) executeNode(
	ctx context.Context,
	node *Node,
	w *Workflow,
	ectx *ExecutionContext,
	state *runState,
	handle *runHandle,
	runID types.ID,
	sem chan struct{},
) *NodeResult {
	var span trace.Span
	if e.tracer != nil {
		ctx, span = e.tracer.Start(ctx, "workflow.execute_node",
			trace.WithAttributes(
				attribute.String("node.id", node.ID),
				attribute.String("node.type", string(node.Type)),
				attribute.String("run.id", runID.String()),
			),
		)
		defer span.End()
	}

	state.markRunning(node.ID)
	e.emitNode(ctx, runID, w, node.ID, events.NodeStarted, events.LevelInfo, "node started")
	e.logger.InfoContext(ctx, "executing node",
		"run_id", runID,
		"node_id", node.ID,
		"node_type", node.Type,
	)

	startedAt := time.Now()

	runner, err := e.runners.Get(node.Type)
	if err != nil {
		return e.failNode(ctx, node, w, ectx, runID, span, startedAt, 0, asNodeError(err))
	}

	req := RunRequest{
		Node:     node,
		Input:    ectx.Input(w.IncomingEdges(node.ID)),
		Outgoing: w.OutgoingEdges(node.ID),
	}

	maxAttempts := 1
	if node.RetryPolicy != nil && node.RetryPolicy.MaxRetries > 0 {
		maxAttempts = 1 + node.RetryPolicy.MaxRetries
	}

	var lastErr *NodeError
	attemptsUsed := 0
	for attempt := 0; attempt < maxAttempts; attempt++ {
		attemptsUsed = attempt + 1
		output, attemptErr := e.runAttempt(ctx, runner, req, node, sem)
		if attemptErr == nil {
			e.commitSuccess(node, ectx, output)
			completedAt := time.Now()
			e.emitNode(ctx, runID, w, node.ID, events.NodeCompleted, events.LevelInfo, "node completed")
			e.logger.InfoContext(ctx, "node completed",
				"run_id", runID,
				"node_id", node.ID,
				"attempts", attempt+1,
			)
			if span != nil {
				span.SetStatus(codes.Ok, "node completed")
			}
			return &NodeResult{
				NodeID:      node.ID,
				Status:      NodeStatusCompleted,
				Output:      output,
				RetryCount:  attempt,
				Duration:    completedAt.Sub(startedAt),
				StartedAt:   startedAt,
				CompletedAt: completedAt,
			}
		}

		lastErr = attemptErr
		if attempt == maxAttempts-1 || !e.retryable(node, attemptErr) {
			break
		}
		// Cancellation takes effect at the retry decision point: the
		// finished attempt stands, no further attempts start.
		if e.isCancelled(ctx, handle) {
			break
		}

		delay := node.RetryPolicy.Delay(attempt)
		state.markRetrying(node.ID)
		e.emitNode(ctx, runID, w, node.ID, events.NodeRetrying, events.LevelWarn,
			fmt.Sprintf("attempt %d failed, retrying in %s", attempt+1, delay))
		e.logger.WarnContext(ctx, "retrying node",
			"run_id", runID,
			"node_id", node.ID,
			"attempt", attempt+1,
			"max_retries", node.RetryPolicy.MaxRetries,
			"delay", delay,
			"error", attemptErr,
		)

		select {
		case <-ctx.Done():
			// Caller context gone; no further attempts.
			attempt = maxAttempts
			continue
		case <-time.After(delay):
		}
		state.markRunning(node.ID)
	}

	// A retryable failure that consumed every attempt is tagged as retry
	// exhaustion; early breaks keep their original error code.
	if lastErr != nil && attemptsUsed == maxAttempts && maxAttempts > 1 && e.retryable(node, lastErr) {
		lastErr = &NodeError{
			Code:    NodeErrRetriesExhausted,
			Message: fmt.Sprintf("all %d attempts failed", maxAttempts),
			Cause:   lastErr,
		}
	}

	return e.failNode(ctx, node, w, ectx, runID, span, startedAt, attemptsUsed-1, lastErr)
}

// runAttempt executes one attempt under the concurrency limiter and the
// node's per-attempt timeout. The limiter is held only for the attempt's
// external-call duration, never across backoff delays.
func (e *Executor) runAttempt(
	ctx context.Context,
	runner NodeRunner,
	req RunRequest,
	node *Node,
	sem chan struct{},
) (map[string]any, *NodeError) {
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, &NodeError{
			Code:    NodeErrExecution,
			Message: "run context cancelled before attempt start",
			Cause:   ctx.Err(),
		}
	}
	defer func() { <-sem }()

	timeout := node.Timeout
	if timeout <= 0 {
		timeout = e.nodeTimeout
	}
	attemptCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	output, err := runner.Run(attemptCtx, req)

	// A timed-out attempt is a failure for retry purposes but tagged
	// distinctly in the final error.
	if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return nil, &NodeError{
			Code:    NodeErrTimeout,
			Message: fmt.Sprintf("node timed out after %s", timeout),
		}
	}
	if err != nil {
		return nil, asNodeError(err)
	}
	return output, nil
}

// commitSuccess writes the node's output into the context; condition nodes
// record their chosen branch instead of a generic output.
func (e *Executor) commitSuccess(node *Node, ectx *ExecutionContext, output map[string]any) {
	if node.Type == NodeTypeCondition {
		if branch, ok := output[BranchKey].(string); ok && branch != "" {
			ectx.SetBranch(node.ID, branch)
		}
		return
	}
	ectx.SetOutput(node.ID, output)
}

// retryable reports whether a failed attempt may be retried: the node must
// carry a retry policy, the error code must not be in the node's
// non-retryable allowlist, and deterministic failures (invalid node
// config, condition evaluation) are never retried.
func (e *Executor) retryable(node *Node, nodeErr *NodeError) bool {
	if node.RetryPolicy == nil || node.RetryPolicy.MaxRetries <= 0 {
		return false
	}
	switch nodeErr.Code {
	case NodeErrCondition, NodeErrInvalidNode, NodeErrUnknownType:
		return false
	}
	for _, code := range node.NonRetryable {
		if code == nodeErr.Code {
			return false
		}
	}
	return true
}

// failNode records a FAILED result and the matching context error record.
func (e *Executor) failNode(
	ctx context.Context,
	node *Node,
	w *Workflow,
	ectx *ExecutionContext,
	runID types.ID,
	span trace.Span,
	startedAt time.Time,
	retries int,
	nodeErr *NodeError,
) *NodeResult {
	if nodeErr == nil {
		nodeErr = &NodeError{Code: NodeErrExecution, Message: "node failed"}
	}

	ectx.RecordError(node.ID, nodeErr.Code, nodeErr.Message)
	e.emitNode(ctx, runID, w, node.ID, events.NodeFailed, events.LevelError, nodeErr.Error())
	e.logger.ErrorContext(ctx, "node failed",
		"run_id", runID,
		"node_id", node.ID,
		"retries", retries,
		"error", nodeErr,
	)
	if span != nil {
		span.SetStatus(codes.Error, nodeErr.Error())
		span.RecordError(nodeErr)
	}

	completedAt := time.Now()
	return &NodeResult{
		NodeID:      node.ID,
		Status:      NodeStatusFailed,
		Error:       nodeErr,
		RetryCount:  retries,
		Duration:    completedAt.Sub(startedAt),
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	}
}

// asNodeError normalizes arbitrary errors into NodeError.
func asNodeError(err error) *NodeError {
	var ne *NodeError
	if errors.As(err, &ne) {
		return ne
	}
	return &NodeError{
		Code:    NodeErrExecution,
		Message: err.Error(),
		Cause:   err,
	}
}
