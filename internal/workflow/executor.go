package workflow

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cascade-labs/cascade/internal/events"
	"github.com/cascade-labs/cascade/internal/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Executor drives workflow runs: it validates the graph, computes the
// level topology, and executes each level's nodes concurrently with
// bounded parallelism, per-node timeout and retry, failure isolation, and
// cooperative cancellation.
type Executor struct {
	validator   *DAGValidator
	runners     *RunnerRegistry
	logger      *slog.Logger
	tracer      trace.Tracer
	bus         *events.Bus
	maxParallel int
	nodeTimeout time.Duration
	valOpts     ValidationOptions

	mu   sync.Mutex
	runs map[types.ID]*runHandle
}

// runHandle tracks one in-flight run for cooperative cancellation. The
// flag is checked before each level begins and at every retry decision
// point; in-flight attempts are never forcibly terminated.
type runHandle struct {
	cancelled atomic.Bool
}

// ExecutorOption is a functional option for configuring an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the structured logger for execution logging.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer enables OpenTelemetry spans for runs and node executions.
func WithTracer(tracer trace.Tracer) ExecutorOption {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

// WithEventBus publishes run and node lifecycle events to the bus. The
// engine only emits; it never reads events back during a run.
func WithEventBus(bus *events.Bus) ExecutorOption {
	return func(e *Executor) {
		e.bus = bus
	}
}

// WithMaxParallel bounds the number of nodes executing concurrently within
// a level. Values below one are ignored.
func WithMaxParallel(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxParallel = n
		}
	}
}

// WithDefaultNodeTimeout applies a timeout to nodes that declare none.
func WithDefaultNodeTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.nodeTimeout = d
		}
	}
}

// WithValidationOptions overrides the pre-flight validation options.
func WithValidationOptions(opts ValidationOptions) ExecutorOption {
	return func(e *Executor) {
		e.valOpts = opts
	}
}

// WithRunnerRegistry replaces the runner registry.
func WithRunnerRegistry(r *RunnerRegistry) ExecutorOption {
	return func(e *Executor) {
		if r != nil {
			e.runners = r
		}
	}
}

// NewExecutor creates an Executor. Defaults: slog.Default() logging, no
// tracer, no event bus, max parallelism 10, built-in runners with no
// external tool/agent collaborators.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		validator:   NewDAGValidator(),
		runners:     DefaultRunnerRegistry(nil, nil),
		logger:      slog.Default(),
		maxParallel: 10,
		runs:        make(map[types.ID]*runHandle),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the workflow to a terminal state and returns its
// ExecutionResult. Ordinary node failures never surface as a Go error; the
// result carries them. Structural validation failures abort before any
// node runs and are returned both in the result and as the error.
func (e *Executor) Execute(ctx context.Context, w *Workflow, input map[string]any) (*ExecutionResult, error) {
	runID := types.NewID()

	var span trace.Span
	if e.tracer != nil {
		ctx, span = e.tracer.Start(ctx, "workflow.execute",
			trace.WithAttributes(
				attribute.String("workflow.id", w.ID.String()),
				attribute.String("run.id", runID.String()),
				attribute.Int("workflow.node_count", len(w.Nodes)),
			),
		)
		defer span.End()
	}

	e.logger.InfoContext(ctx, "starting workflow run",
		"run_id", runID,
		"workflow_id", w.ID,
		"workflow_name", w.Name,
		"node_count", len(w.Nodes),
	)

	// Pre-flight validation; a failure aborts before any node runs.
	validation := e.validator.Validate(w, e.valOpts)
	if !validation.Valid {
		first := validation.Errors[0]
		e.logger.ErrorContext(ctx, "workflow validation failed",
			"run_id", runID,
			"error", first,
		)
		if span != nil {
			span.SetStatus(codes.Error, first.Error())
		}
		result := &ExecutionResult{
			RunID:            runID,
			WorkflowID:       w.ID,
			Status:           RunStatusFailed,
			Error:            first,
			ValidationErrors: validation.Errors,
		}
		return result, first
	}

	handle := &runHandle{}
	e.mu.Lock()
	e.runs[runID] = handle
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.runs, runID)
		e.mu.Unlock()
	}()

	ectx := NewExecutionContext(seedVariables(w, input))
	state := newRunState(w)
	startedAt := time.Now()

	e.emit(ctx, events.Event{
		Type:       events.RunStarted,
		Level:      events.LevelInfo,
		RunID:      runID.String(),
		WorkflowID: w.ID.String(),
		Message:    "run started",
	})

	cancelled := e.runLevels(ctx, w, validation.Levels, ectx, state, handle, runID)

	result := e.buildResult(w, validation.Levels, state, runID, startedAt, cancelled)

	e.logger.InfoContext(ctx, "workflow run finished",
		"run_id", runID,
		"status", result.Status,
		"duration", result.TotalDuration,
		"nodes_executed", result.NodesExecuted,
		"nodes_failed", result.NodesFailed,
		"nodes_skipped", result.NodesSkipped,
	)
	if span != nil {
		if result.Status == RunStatusFailed {
			span.SetStatus(codes.Error, "run failed")
		} else {
			span.SetStatus(codes.Ok, string(result.Status))
		}
	}

	eventType := events.RunCompleted
	level := events.LevelInfo
	switch result.Status {
	case RunStatusFailed:
		eventType = events.RunFailed
		level = events.LevelError
	case RunStatusCancelled:
		eventType = events.RunCancelled
		level = events.LevelWarn
	case RunStatusPartial:
		level = events.LevelWarn
	}
	e.emit(ctx, events.Event{
		Type:       eventType,
		Level:      level,
		RunID:      runID.String(),
		WorkflowID: w.ID.String(),
		Message:    "run " + string(result.Status),
	})

	return result, nil
}

// Cancel requests cooperative cancellation of a run. In-flight node
// attempts finish; no further retries or levels start. Calling Cancel on
// an unknown run is a contract violation and returns an error.
func (e *Executor) Cancel(runID types.ID) error {
	e.mu.Lock()
	handle, ok := e.runs[runID]
	e.mu.Unlock()
	if !ok {
		return &WorkflowError{
			Code:    WorkflowErrorRunNotFound,
			Message: "no in-flight run with id " + runID.String(),
		}
	}
	handle.cancelled.Store(true)
	e.logger.Info("run cancellation requested", "run_id", runID)
	return nil
}

// Validate exposes pre-flight validation with the executor's configured
// options.
func (e *Executor) Validate(w *Workflow) *ValidationResult {
	return e.validator.Validate(w, e.valOpts)
}

// Topology exposes the level topology for diagnostic display.
func (e *Executor) Topology(w *Workflow) ([][]string, error) {
	return e.validator.Topology(w)
}

// runLevels executes every level in order, joining each level before the
// next begins so predecessor outputs are always committed. Returns true
// when cancellation preempted the run.
func (e *Executor) runLevels(
	ctx context.Context,
	w *Workflow,
	levels [][]string,
	ectx *ExecutionContext,
	state *runState,
	handle *runHandle,
	runID types.ID,
) bool {
	sem := make(chan struct{}, e.maxParallel)
	doomed := make(map[string]bool)

	for levelIdx, level := range levels {
		if e.isCancelled(ctx, handle) {
			state.cancelPending("run cancelled before level start")
			return true
		}

		var wg sync.WaitGroup
		for _, nodeID := range level {
			node := w.GetNode(nodeID)

			if reason, skip := e.shouldSkip(w, ectx, state, doomed, nodeID); skip {
				state.skip(nodeID, reason)
				e.emitNode(ctx, runID, w, nodeID, events.NodeSkipped, events.LevelWarn, reason)
				continue
			}

			wg.Add(1)
			go func(n *Node) {
				defer wg.Done()
				result := e.executeNode(ctx, n, w, ectx, state, handle, runID, sem)
				state.commit(result)
			}(node)
		}
		// Structured concurrency: no task outlives its level.
		wg.Wait()

		for _, nodeID := range level {
			if state.nodeStatus(nodeID) == NodeStatusFailed {
				markDownstream(w, nodeID, doomed)
			}
		}

		e.logger.DebugContext(ctx, "level complete",
			"run_id", runID,
			"level", levelIdx,
			"nodes", len(level),
		)
	}

	if e.isCancelled(ctx, handle) {
		// Cancellation arrived during the last level's drain.
		state.cancelPending("run cancelled")
		return true
	}
	return false
}

// shouldSkip decides whether a node must be skipped instead of executed.
// Every node in a failed node's downstream cone is skipped, even a join
// whose other predecessors completed; only nodes reachable exclusively
// through other branches are exempt. A node that survives that check
// still needs at least one live incoming edge: the source completed and,
// for condition sources, the recorded branch selected this edge's target.
func (e *Executor) shouldSkip(w *Workflow, ectx *ExecutionContext, state *runState, doomed map[string]bool, nodeID string) (string, bool) {
	if doomed[nodeID] {
		return "upstream node failed", true
	}

	incoming := w.IncomingEdges(nodeID)
	if len(incoming) == 0 {
		return "", false
	}

	for _, edge := range incoming {
		if state.nodeStatus(edge.From) != NodeStatusCompleted {
			continue
		}
		src := w.GetNode(edge.From)
		if src != nil && src.Type == NodeTypeCondition {
			branch, ok := ectx.Branch(edge.From)
			if !ok || branch != edge.To {
				continue
			}
		}
		return "", false
	}
	return "no live incoming branch", true
}

// markDownstream records every node reachable from a failed node so the
// skip decision covers the full downstream cone, breadth first.
func markDownstream(w *Workflow, from string, doomed map[string]bool) {
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, edge := range w.OutgoingEdges(cur) {
			if doomed[edge.To] {
				continue
			}
			doomed[edge.To] = true
			queue = append(queue, edge.To)
		}
	}
}

// isCancelled checks both the cooperative flag and the caller's context.
func (e *Executor) isCancelled(ctx context.Context, handle *runHandle) bool {
	if handle.cancelled.Load() {
		return true
	}
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// buildResult assembles the final ExecutionResult: node results ordered by
// level, terminal outputs, counts, and the run's terminal status.
func (e *Executor) buildResult(
	w *Workflow,
	levels [][]string,
	state *runState,
	runID types.ID,
	startedAt time.Time,
	cancelled bool,
) *ExecutionResult {
	var ordered []*NodeResult
	for _, level := range levels {
		for _, nodeID := range level {
			if r := state.result(nodeID); r != nil {
				ordered = append(ordered, r)
			}
		}
	}

	outputs := make(map[string]map[string]any)
	for _, nodeID := range w.TerminalNodes() {
		if r := state.result(nodeID); r != nil && r.Status == NodeStatusCompleted {
			outputs[nodeID] = r.Output
		}
	}

	executed, failed, skipped := state.counts()

	status := RunStatusCompleted
	var runErr *WorkflowError
	switch {
	case cancelled:
		status = RunStatusCancelled
		runErr = &WorkflowError{
			Code:    WorkflowErrorCancelled,
			Message: "run was cancelled",
		}
	case failed > 0 && len(outputs) > 0:
		status = RunStatusPartial
	case failed > 0:
		status = RunStatusFailed
		runErr = &WorkflowError{
			Code:    WorkflowErrorNodeExecution,
			Message: "run failed: no terminal output was produced",
		}
	}

	return &ExecutionResult{
		RunID:         runID,
		WorkflowID:    w.ID,
		Status:        status,
		NodeResults:   ordered,
		Outputs:       outputs,
		Error:         runErr,
		TotalDuration: time.Since(startedAt),
		NodesExecuted: executed,
		NodesFailed:   failed,
		NodesSkipped:  skipped,
	}
}

// seedVariables layers the run input over the workflow's declared
// variables.
func seedVariables(w *Workflow, input map[string]any) map[string]any {
	seeded := make(map[string]any, len(w.Variables)+len(input))
	for k, v := range w.Variables {
		seeded[k] = v
	}
	for k, v := range input {
		seeded[k] = v
	}
	return seeded
}

// emit publishes an event when a bus is configured.
func (e *Executor) emit(ctx context.Context, ev events.Event) {
	if e.bus == nil {
		return
	}
	_ = e.bus.Publish(ctx, ev)
}

func (e *Executor) emitNode(ctx context.Context, runID types.ID, w *Workflow, nodeID string, t events.EventType, level events.Level, msg string) {
	e.emit(ctx, events.Event{
		Type:       t,
		Level:      level,
		RunID:      runID.String(),
		WorkflowID: w.ID.String(),
		NodeID:     nodeID,
		Message:    msg,
	})
}
