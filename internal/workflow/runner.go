package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// RunRequest carries everything a NodeRunner needs for one node attempt:
// the node definition, its resolved input, and its outgoing edges (used by
// the condition runner for branch selection).
type RunRequest struct {
	Node     *Node
	Input    map[string]any
	Outgoing []Edge
}

// NodeRunner executes the behavior of one node type. Implementations must
// honor ctx cancellation and deadlines; the executor wraps each attempt in
// a per-attempt timeout context.
type NodeRunner interface {
	Run(ctx context.Context, req RunRequest) (map[string]any, error)
}

// ToolInvoker is the external tool registry collaborator: it supplies the
// "do work" step for tool nodes. Implementations live outside the engine.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, input map[string]any) (map[string]any, error)
	HasTool(name string) bool
}

// AgentInvoker is the external agent registry collaborator for agent nodes.
type AgentInvoker interface {
	Delegate(ctx context.Context, name string, task map[string]any, input map[string]any) (map[string]any, error)
	HasAgent(name string) bool
}

// RunnerRegistry maps node types to their runners. Dispatching through the
// registry keeps the executor free of a growing type-switch.
type RunnerRegistry struct {
	mu      sync.RWMutex
	runners map[NodeType]NodeRunner
}

// NewRunnerRegistry creates an empty registry.
func NewRunnerRegistry() *RunnerRegistry {
	return &RunnerRegistry{runners: make(map[NodeType]NodeRunner)}
}

// DefaultRunnerRegistry creates a registry with all built-in runners
// registered. Tool and agent runners delegate to the supplied external
// collaborators; either may be nil, in which case nodes of that type fail
// at execution time.
func DefaultRunnerRegistry(tools ToolInvoker, agents AgentInvoker) *RunnerRegistry {
	r := NewRunnerRegistry()
	r.Register(NodeTypeTrigger, &TriggerRunner{})
	r.Register(NodeTypeTool, &ToolRunner{Tools: tools})
	r.Register(NodeTypeAgent, &AgentRunner{Agents: agents})
	r.Register(NodeTypeCondition, &ConditionRunner{Evaluator: NewConditionEvaluator()})
	r.Register(NodeTypeAdapter, &AdapterRunner{})
	r.Register(NodeTypeAggregator, &AggregatorRunner{})
	return r
}

// Register binds a runner to a node type, replacing any existing binding.
func (r *RunnerRegistry) Register(t NodeType, runner NodeRunner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[t] = runner
}

// Get returns the runner for a node type.
func (r *RunnerRegistry) Get(t NodeType) (NodeRunner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runner, ok := r.runners[t]
	if !ok {
		return nil, &NodeError{
			Code:    NodeErrUnknownType,
			Message: fmt.Sprintf("no runner registered for node type %q", t),
		}
	}
	return runner, nil
}

// TriggerRunner starts a workflow: its output is simply its resolved input,
// which for a level-0 trigger is the run input.
type TriggerRunner struct{}

func (*TriggerRunner) Run(_ context.Context, req RunRequest) (map[string]any, error) {
	return req.Input, nil
}

// ToolRunner invokes the external tool registry.
type ToolRunner struct {
	Tools ToolInvoker
}

func (tr *ToolRunner) Run(ctx context.Context, req RunRequest) (map[string]any, error) {
	node := req.Node
	if node.ToolName == "" {
		return nil, &NodeError{
			Code:    NodeErrInvalidNode,
			Message: "tool node has no tool name",
		}
	}
	if tr.Tools == nil {
		return nil, &NodeError{
			Code:    NodeErrExecution,
			Message: "no tool invoker configured",
		}
	}

	// Static tool input overlays the resolved input.
	input := req.Input
	if len(node.ToolInput) > 0 {
		input = make(map[string]any, len(req.Input)+len(node.ToolInput))
		for k, v := range req.Input {
			input[k] = v
		}
		for k, v := range node.ToolInput {
			input[k] = v
		}
	}

	output, err := tr.Tools.Invoke(ctx, node.ToolName, input)
	if err != nil {
		return nil, wrapProviderError(err, fmt.Sprintf("tool %q failed", node.ToolName))
	}
	return output, nil
}

// AgentRunner delegates to the external agent registry.
type AgentRunner struct {
	Agents AgentInvoker
}

func (ar *AgentRunner) Run(ctx context.Context, req RunRequest) (map[string]any, error) {
	node := req.Node
	if node.AgentName == "" {
		return nil, &NodeError{
			Code:    NodeErrInvalidNode,
			Message: "agent node has no agent name",
		}
	}
	if ar.Agents == nil {
		return nil, &NodeError{
			Code:    NodeErrExecution,
			Message: "no agent invoker configured",
		}
	}
	output, err := ar.Agents.Delegate(ctx, node.AgentName, node.AgentTask, req.Input)
	if err != nil {
		return nil, wrapProviderError(err, fmt.Sprintf("agent %q failed", node.AgentName))
	}
	return output, nil
}

// Keys under which the condition runner reports its decision.
const (
	BranchKey     = "branch"
	BranchMatched = "matched_condition"
)

// ConditionRunner evaluates the conditions on the node's outgoing edges in
// ascending priority order (declaration order breaks ties) and selects the
// first matching branch. A default edge — one with an empty condition —
// matches when nothing else does. When no edge matches and no default
// exists, no branch is selected and every downstream branch is skipped.
type ConditionRunner struct {
	Evaluator *ConditionEvaluator
}

func (cr *ConditionRunner) Run(_ context.Context, req RunRequest) (map[string]any, error) {
	if len(req.Outgoing) == 0 {
		return nil, &NodeError{
			Code:    NodeErrInvalidNode,
			Message: "condition node has no outgoing edges",
		}
	}

	edges := make([]Edge, len(req.Outgoing))
	copy(edges, req.Outgoing)
	sort.SliceStable(edges, func(i, j int) bool {
		return edges[i].Priority < edges[j].Priority
	})

	ev := cr.Evaluator
	if ev == nil {
		ev = NewConditionEvaluator()
	}

	var defaultEdge *Edge
	for i := range edges {
		e := edges[i]
		if e.IsDefault() {
			if defaultEdge == nil {
				defaultEdge = &edges[i]
			}
			continue
		}
		matched, err := ev.Evaluate(e.Condition, req.Input)
		if err != nil {
			return nil, &NodeError{
				Code:    NodeErrCondition,
				Message: fmt.Sprintf("condition on edge %s -> %s could not be evaluated", e.From, e.To),
				Details: map[string]any{"expression": e.Condition},
				Cause:   err,
			}
		}
		if matched {
			return map[string]any{BranchKey: e.To, BranchMatched: e.Condition}, nil
		}
	}

	if defaultEdge != nil {
		return map[string]any{BranchKey: defaultEdge.To, BranchMatched: ""}, nil
	}
	return map[string]any{BranchKey: nil}, nil
}

// AdapterRunner reshapes its input through the node's key mapping
// (output key -> input key). Without a mapping the input passes through.
type AdapterRunner struct{}

func (*AdapterRunner) Run(_ context.Context, req RunRequest) (map[string]any, error) {
	if len(req.Node.AdapterMapping) == 0 {
		return req.Input, nil
	}
	out := make(map[string]any, len(req.Node.AdapterMapping))
	for dstKey, srcKey := range req.Node.AdapterMapping {
		if v, ok := req.Input[srcKey]; ok {
			out[dstKey] = v
		}
	}
	return out, nil
}

// AggregatorRunner collects the merged outputs of all predecessors. The
// execution context has already merged them into the input, so the runner
// passes the input through as this terminal-typed node's output.
type AggregatorRunner struct{}

func (*AggregatorRunner) Run(_ context.Context, req RunRequest) (map[string]any, error) {
	return req.Input, nil
}

// wrapProviderError keeps provider NodeErrors intact (so their codes can
// match a node's NonRetryable allowlist) and wraps everything else.
func wrapProviderError(err error, msg string) error {
	if ne, ok := err.(*NodeError); ok {
		return ne
	}
	return &NodeError{
		Code:    NodeErrExecution,
		Message: msg,
		Cause:   err,
	}
}
