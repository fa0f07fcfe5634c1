package workflow

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cascade-labs/cascade/internal/events"
	"github.com/cascade-labs/cascade/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestExecutor(tools ToolInvoker, opts ...ExecutorOption) *Executor {
	base := []ExecutorOption{
		WithRunnerRegistry(DefaultRunnerRegistry(tools, nil)),
	}
	return NewExecutor(append(base, opts...)...)
}

func TestExecute_DiamondCompletes(t *testing.T) {
	tools := newFakeTools()
	tools.register("scan", func(_ context.Context, input map[string]any) (map[string]any, error) {
		return map[string]any{"scan_result": input["target"]}, nil
	})
	tools.register("probe", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return map[string]any{"probe_result": "open"}, nil
	})

	w := testWorkflow(
		[]*Node{
			{ID: "start", Type: NodeTypeTrigger},
			{ID: "left", Type: NodeTypeTool, ToolName: "scan"},
			{ID: "right", Type: NodeTypeTool, ToolName: "probe"},
			{ID: "join", Type: NodeTypeAggregator},
		},
		[]Edge{
			{From: "start", To: "left"},
			{From: "start", To: "right"},
			{From: "left", To: "join"},
			{From: "right", To: "join"},
		},
	)

	e := newTestExecutor(tools)
	result, err := e.Execute(context.Background(), w, map[string]any{"target": "example.com"})

	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, result.Status)
	assert.Equal(t, 4, result.NodesExecuted)
	assert.Equal(t, 0, result.NodesFailed)
	assert.Equal(t, 0, result.NodesSkipped)
	assert.False(t, result.RunID.IsZero())

	require.Contains(t, result.Outputs, "join")
	joined := result.Outputs["join"]
	assert.Equal(t, "example.com", joined["scan_result"], "left branch output reaches the aggregator")
	assert.Equal(t, "open", joined["probe_result"], "right branch output reaches the aggregator")

	require.Len(t, result.NodeResults, 4)
	assert.Equal(t, "start", result.NodeResults[0].NodeID, "results are ordered by level")
	assert.Equal(t, "join", result.NodeResults[3].NodeID)
	for _, nr := range result.NodeResults {
		assert.Equal(t, NodeStatusCompleted, nr.Status)
	}
}

func TestExecute_ConditionBranching(t *testing.T) {
	tools := newFakeTools()
	tools.register("escalate", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return map[string]any{"escalated": true}, nil
	})
	tools.register("archive", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return map[string]any{"archived": true}, nil
	})

	w := testWorkflow(
		[]*Node{
			{ID: "start", Type: NodeTypeTrigger},
			{ID: "gate", Type: NodeTypeCondition},
			{ID: "high", Type: NodeTypeTool, ToolName: "escalate"},
			{ID: "low", Type: NodeTypeTool, ToolName: "archive"},
		},
		[]Edge{
			{From: "start", To: "gate"},
			{From: "gate", To: "high", Condition: `severity >= 7`, Priority: 1},
			{From: "gate", To: "low", Priority: 2},
		},
	)

	t.Run("condition true takes the matching branch", func(t *testing.T) {
		e := newTestExecutor(tools)
		result, err := e.Execute(context.Background(), w, map[string]any{"severity": 9})

		require.NoError(t, err)
		assert.Equal(t, RunStatusCompleted, result.Status)
		assert.Equal(t, NodeStatusCompleted, result.Result("high").Status)
		assert.Equal(t, NodeStatusSkipped, result.Result("low").Status)
		assert.Contains(t, result.Outputs, "high")
		assert.NotContains(t, result.Outputs, "low")
	})

	t.Run("condition false takes the default branch", func(t *testing.T) {
		e := newTestExecutor(tools)
		result, err := e.Execute(context.Background(), w, map[string]any{"severity": 2})

		require.NoError(t, err)
		assert.Equal(t, RunStatusCompleted, result.Status)
		assert.Equal(t, NodeStatusSkipped, result.Result("high").Status)
		assert.Equal(t, "no live incoming branch", result.Result("high").SkipReason)
		assert.Equal(t, NodeStatusCompleted, result.Result("low").Status)
	})
}

func TestExecute_RetryExhaustion(t *testing.T) {
	tools := newFakeTools()
	tools.register("flaky", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return nil, &NodeError{Code: NodeErrExecution, Message: "transient"}
	})

	w := testWorkflow(
		[]*Node{
			{ID: "start", Type: NodeTypeTrigger},
			{ID: "flaky", Type: NodeTypeTool, ToolName: "flaky", RetryPolicy: &RetryPolicy{
				MaxRetries:      3,
				BackoffStrategy: BackoffConstant,
				InitialDelay:    time.Millisecond,
			}},
		},
		[]Edge{{From: "start", To: "flaky"}},
	)

	e := newTestExecutor(tools)
	result, err := e.Execute(context.Background(), w, nil)

	require.NoError(t, err, "node failures surface in the result, not as a Go error")
	assert.Equal(t, 4, tools.callCount("flaky"), "1 initial attempt + 3 retries")

	nr := result.Result("flaky")
	require.NotNil(t, nr)
	assert.Equal(t, NodeStatusFailed, nr.Status)
	assert.Equal(t, 3, nr.RetryCount)
	require.NotNil(t, nr.Error)
	assert.Equal(t, NodeErrRetriesExhausted, nr.Error.Code)
	assert.Equal(t, RunStatusFailed, result.Status, "the only terminal node failed")
	require.NotNil(t, result.Error)
}

func TestExecute_RetryThenSucceed(t *testing.T) {
	var attempts atomic.Int32
	tools := newFakeTools()
	tools.register("flaky", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		if attempts.Add(1) < 3 {
			return nil, &NodeError{Code: NodeErrExecution, Message: "transient"}
		}
		return map[string]any{"ok": true}, nil
	})

	w := testWorkflow(
		[]*Node{
			{ID: "start", Type: NodeTypeTrigger},
			{ID: "flaky", Type: NodeTypeTool, ToolName: "flaky", RetryPolicy: &RetryPolicy{
				MaxRetries:      5,
				BackoffStrategy: BackoffConstant,
				InitialDelay:    time.Millisecond,
			}},
		},
		[]Edge{{From: "start", To: "flaky"}},
	)

	e := newTestExecutor(tools)
	result, err := e.Execute(context.Background(), w, nil)

	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, result.Status)
	nr := result.Result("flaky")
	assert.Equal(t, NodeStatusCompleted, nr.Status)
	assert.Equal(t, 2, nr.RetryCount, "succeeded on the third attempt")
	assert.Equal(t, int32(3), attempts.Load())
}

func TestExecute_NonRetryableCode(t *testing.T) {
	tools := newFakeTools()
	tools.register("fatal", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return nil, &NodeError{Code: "AUTH_REVOKED", Message: "credentials gone"}
	})

	w := testWorkflow(
		[]*Node{
			{ID: "start", Type: NodeTypeTrigger},
			{ID: "fatal", Type: NodeTypeTool, ToolName: "fatal",
				NonRetryable: []string{"AUTH_REVOKED"},
				RetryPolicy: &RetryPolicy{
					MaxRetries:      5,
					BackoffStrategy: BackoffConstant,
					InitialDelay:    time.Millisecond,
				}},
		},
		[]Edge{{From: "start", To: "fatal"}},
	)

	e := newTestExecutor(tools)
	result, err := e.Execute(context.Background(), w, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, tools.callCount("fatal"), "allowlisted error code suppresses retries")

	nr := result.Result("fatal")
	assert.Equal(t, NodeStatusFailed, nr.Status)
	assert.Equal(t, 0, nr.RetryCount)
	assert.Equal(t, "AUTH_REVOKED", nr.Error.Code)
}

func TestExecute_FailureIsolation(t *testing.T) {
	tools := newFakeTools()
	tools.register("boom", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return nil, &NodeError{Code: NodeErrExecution, Message: "boom"}
	})
	tools.register("ok", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return map[string]any{"fine": true}, nil
	})

	w := testWorkflow(
		[]*Node{
			{ID: "start", Type: NodeTypeTrigger},
			{ID: "bad", Type: NodeTypeTool, ToolName: "boom"},
			{ID: "good", Type: NodeTypeTool, ToolName: "ok"},
			{ID: "bad_child", Type: NodeTypeTool, ToolName: "ok"},
			{ID: "good_child", Type: NodeTypeTool, ToolName: "ok"},
		},
		[]Edge{
			{From: "start", To: "bad"},
			{From: "start", To: "good"},
			{From: "bad", To: "bad_child"},
			{From: "good", To: "good_child"},
		},
	)

	e := newTestExecutor(tools)
	result, err := e.Execute(context.Background(), w, nil)

	require.NoError(t, err)
	assert.Equal(t, NodeStatusFailed, result.Result("bad").Status)
	assert.Equal(t, NodeStatusSkipped, result.Result("bad_child").Status)
	assert.Equal(t, "upstream node failed", result.Result("bad_child").SkipReason)
	assert.Equal(t, NodeStatusCompleted, result.Result("good").Status)
	assert.Equal(t, NodeStatusCompleted, result.Result("good_child").Status, "sibling branch is unaffected")

	assert.Equal(t, RunStatusPartial, result.Status, "some terminal output was still produced")
	assert.Contains(t, result.Outputs, "good_child")
	assert.NotContains(t, result.Outputs, "bad_child")
	assert.Equal(t, 1, result.NodesFailed)
	assert.Equal(t, 1, result.NodesSkipped)
}

func TestExecute_NodeTimeout(t *testing.T) {
	tools := newFakeTools()
	tools.register("slow", func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
			return map[string]any{"done": true}, nil
		}
	})

	w := testWorkflow(
		[]*Node{
			{ID: "start", Type: NodeTypeTrigger},
			{ID: "slow", Type: NodeTypeTool, ToolName: "slow", Timeout: 20 * time.Millisecond},
		},
		[]Edge{{From: "start", To: "slow"}},
	)

	e := newTestExecutor(tools)
	start := time.Now()
	result, err := e.Execute(context.Background(), w, nil)

	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second, "timeout preempts the attempt")

	nr := result.Result("slow")
	require.NotNil(t, nr)
	assert.Equal(t, NodeStatusFailed, nr.Status)
	require.NotNil(t, nr.Error)
	assert.Equal(t, NodeErrTimeout, nr.Error.Code)
}

func TestExecute_ValidationFailureAborts(t *testing.T) {
	tools := newFakeTools()
	tools.register("t", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	})

	w := testWorkflow(
		[]*Node{
			{ID: "a", Type: NodeTypeTool, ToolName: "t"},
			{ID: "b", Type: NodeTypeTool, ToolName: "t"},
		},
		[]Edge{{From: "a", To: "b"}, {From: "b", To: "a"}},
	)

	e := newTestExecutor(tools)
	result, err := e.Execute(context.Background(), w, nil)

	require.Error(t, err)
	var werr *WorkflowError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, WorkflowErrorCycleDetected, werr.Code)

	require.NotNil(t, result)
	assert.Equal(t, RunStatusFailed, result.Status)
	assert.NotEmpty(t, result.ValidationErrors)
	assert.Empty(t, result.NodeResults, "no node ran")
	assert.Equal(t, 0, tools.callCount("t"))
}

func TestExecute_MaxParallelBound(t *testing.T) {
	var inFlight, peak atomic.Int32
	tools := newFakeTools()
	tools.register("worker", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return map[string]any{}, nil
	})

	nodes := []*Node{{ID: "start", Type: NodeTypeTrigger}}
	edges := []Edge{}
	for _, id := range []string{"w1", "w2", "w3", "w4", "w5"} {
		nodes = append(nodes, &Node{ID: id, Type: NodeTypeTool, ToolName: "worker"})
		edges = append(edges, Edge{From: "start", To: id})
	}

	e := newTestExecutor(tools, WithMaxParallel(2))
	result, err := e.Execute(context.Background(), testWorkflow(nodes, edges), nil)

	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, result.Status)
	assert.LessOrEqual(t, peak.Load(), int32(2), "the semaphore bounds concurrent attempts")
}

func TestExecute_CancelMidRun(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	release := make(chan struct{})
	tools := newFakeTools()
	tools.register("blocking", func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		select {
		case <-release:
			return map[string]any{"done": true}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	tools.register("after", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	})

	w := testWorkflow(
		[]*Node{
			{ID: "start", Type: NodeTypeTrigger},
			{ID: "blocking", Type: NodeTypeTool, ToolName: "blocking"},
			{ID: "after", Type: NodeTypeTool, ToolName: "after"},
		},
		[]Edge{
			{From: "start", To: "blocking"},
			{From: "blocking", To: "after"},
		},
	)

	e := newTestExecutor(tools, WithEventBus(bus))

	started, cancelSub := bus.Subscribe(events.Filter{Types: []events.EventType{events.NodeStarted}}, 8)
	defer cancelSub()

	// Cancel while the blocking node's attempt is in flight, then release
	// it. The attempt is allowed to finish; cancellation takes effect at
	// the next level boundary.
	go func() {
		defer close(release)
		for ev := range started {
			if ev.NodeID != "blocking" {
				continue
			}
			runID, err := types.ParseID(ev.RunID)
			if err != nil {
				return
			}
			_ = e.Cancel(runID)
			return
		}
	}()

	result, err := e.Execute(context.Background(), w, nil)

	require.NoError(t, err)
	assert.Equal(t, RunStatusCancelled, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, WorkflowErrorCancelled, result.Error.Code)

	assert.Equal(t, NodeStatusCompleted, result.Result("blocking").Status, "in-flight attempt finished")
	after := result.Result("after")
	require.NotNil(t, after)
	assert.Equal(t, NodeStatusCancelled, after.Status, "pending downstream node was cancelled")
	assert.Equal(t, 0, tools.callCount("after"))
}

func TestCancel_UnknownRun(t *testing.T) {
	e := NewExecutor()
	err := e.Cancel(types.NewID())

	require.Error(t, err)
	var werr *WorkflowError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, WorkflowErrorRunNotFound, werr.Code)
}

func TestExecute_ContextCancellation(t *testing.T) {
	tools := newFakeTools()
	tools.register("slow", func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
			return map[string]any{}, nil
		}
	})

	w := testWorkflow(
		[]*Node{
			{ID: "start", Type: NodeTypeTrigger},
			{ID: "slow", Type: NodeTypeTool, ToolName: "slow"},
			{ID: "after", Type: NodeTypeTool, ToolName: "slow"},
		},
		[]Edge{
			{From: "start", To: "slow"},
			{From: "slow", To: "after"},
		},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	e := newTestExecutor(tools)
	start := time.Now()
	result, err := e.Execute(ctx, w, nil)

	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, RunStatusCancelled, result.Status)
}

func TestExecute_WorkflowVariablesSeedInput(t *testing.T) {
	tools := newFakeTools()
	var seen map[string]any
	tools.register("inspect", func(_ context.Context, input map[string]any) (map[string]any, error) {
		seen = input
		return map[string]any{}, nil
	})

	w := testWorkflow(
		[]*Node{
			{ID: "start", Type: NodeTypeTrigger},
			{ID: "n", Type: NodeTypeTool, ToolName: "inspect"},
		},
		[]Edge{{From: "start", To: "n"}},
	)
	w.Variables = map[string]any{"env": "staging", "target": "default.example"}

	e := newTestExecutor(tools)
	_, err := e.Execute(context.Background(), w, map[string]any{"target": "run.example"})

	require.NoError(t, err)
	assert.Equal(t, "staging", seen["env"], "workflow variable flows to node input")
	assert.Equal(t, "run.example", seen["target"], "run input overrides workflow variable")
}

func TestExecute_EmitsLifecycleEvents(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	tools := newFakeTools()
	tools.register("t", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	})

	ch, cancelSub := bus.Subscribe(events.Filter{}, 32)
	defer cancelSub()

	w := testWorkflow(
		[]*Node{
			{ID: "start", Type: NodeTypeTrigger},
			{ID: "n", Type: NodeTypeTool, ToolName: "t"},
		},
		[]Edge{{From: "start", To: "n"}},
	)

	e := newTestExecutor(tools, WithEventBus(bus))
	result, err := e.Execute(context.Background(), w, nil)
	require.NoError(t, err)

	seen := make(map[events.EventType]int)
	deadline := time.After(time.Second)
collect:
	for {
		select {
		case ev := <-ch:
			assert.Equal(t, result.RunID.String(), ev.RunID)
			seen[ev.Type]++
			if ev.Type == events.RunCompleted {
				break collect
			}
		case <-deadline:
			t.Fatal("timed out waiting for run.completed")
		}
	}

	assert.Equal(t, 1, seen[events.RunStarted])
	assert.Equal(t, 2, seen[events.NodeStarted])
	assert.Equal(t, 2, seen[events.NodeCompleted])
	assert.Equal(t, 1, seen[events.RunCompleted])
}

func TestExecute_EmitsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	tools := newFakeTools()
	tools.register("t", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	})

	w := testWorkflow(
		[]*Node{
			{ID: "start", Type: NodeTypeTrigger},
			{ID: "n", Type: NodeTypeTool, ToolName: "t"},
		},
		[]Edge{{From: "start", To: "n"}},
	)

	e := newTestExecutor(tools, WithTracer(tp.Tracer("test")))
	_, err := e.Execute(context.Background(), w, nil)
	require.NoError(t, err)

	names := make(map[string]int)
	for _, span := range recorder.Ended() {
		names[span.Name()]++
	}
	assert.Equal(t, 1, names["workflow.execute"])
	assert.Equal(t, 2, names["workflow.execute_node"])
}

func TestExecute_FailedBranchSkipsJoin(t *testing.T) {
	tools := newFakeTools()
	tools.register("boom", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return nil, &NodeError{Code: NodeErrExecution, Message: "boom"}
	})
	tools.register("ok", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return map[string]any{"fine": true}, nil
	})

	w := testWorkflow(
		[]*Node{
			{ID: "start", Type: NodeTypeTrigger},
			{ID: "bad", Type: NodeTypeTool, ToolName: "boom"},
			{ID: "good", Type: NodeTypeTool, ToolName: "ok"},
			{ID: "join", Type: NodeTypeAggregator},
			{ID: "after", Type: NodeTypeTool, ToolName: "ok"},
		},
		[]Edge{
			{From: "start", To: "bad"},
			{From: "start", To: "good"},
			{From: "bad", To: "join"},
			{From: "good", To: "join"},
			{From: "join", To: "after"},
		},
	)

	e := newTestExecutor(tools)
	result, err := e.Execute(context.Background(), w, nil)

	require.NoError(t, err)
	assert.Equal(t, NodeStatusFailed, result.Result("bad").Status)
	assert.Equal(t, NodeStatusCompleted, result.Result("good").Status,
		"the sibling branch still runs")

	// The join sits in the failed node's downstream cone: it is skipped
	// even though its other predecessor completed, and the skip carries
	// through the rest of the cone.
	require.Equal(t, NodeStatusSkipped, result.Result("join").Status)
	assert.Equal(t, "upstream node failed", result.Result("join").SkipReason)
	require.Equal(t, NodeStatusSkipped, result.Result("after").Status)
	assert.Equal(t, "upstream node failed", result.Result("after").SkipReason)

	assert.Equal(t, RunStatusFailed, result.Status, "no terminal output was produced")
	assert.Empty(t, result.Outputs)
	assert.Equal(t, 1, result.NodesFailed)
	assert.Equal(t, 2, result.NodesSkipped)
}
