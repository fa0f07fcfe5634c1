package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/cascade-labs/cascade/internal/graph"
)

// ValidationDepth controls how much work Validate performs.
type ValidationDepth string

const (
	// DepthMinimal runs only structural checks: size ceilings, edge
	// integrity, and cycle detection.
	DepthMinimal ValidationDepth = "minimal"
	// DepthStandard adds trigger presence, dangling-node, reachability,
	// and dead-end analysis.
	DepthStandard ValidationDepth = "standard"
	// DepthStrict additionally resolves node-type-specific references
	// against the external registry.
	DepthStrict ValidationDepth = "strict"
)

// Default size ceilings applied when ValidationOptions leaves them zero.
const (
	DefaultMaxNodes = 500
	DefaultMaxEdges = 2000
)

// ReferenceResolver is the narrow view of the external tool/agent registry
// the validator needs for strict-mode reference checks.
type ReferenceResolver interface {
	HasTool(name string) bool
	HasAgent(name string) bool
}

// ValidationOptions configures a validation run.
type ValidationOptions struct {
	// Depth selects the validation depth; empty means DepthStandard.
	Depth ValidationDepth
	// MaxNodes and MaxEdges are size ceilings; graphs exceeding them are
	// rejected before any algorithm runs. Zero means the package default.
	MaxNodes int
	MaxEdges int
	// Budget bounds the wall-clock time of the whole validation run. Zero
	// means no budget. Exceeding it is a distinct timed-out error, never
	// silently truncated output.
	Budget time.Duration
	// Resolver supplies strict-mode reference checks. Required at
	// DepthStrict.
	Resolver ReferenceResolver
}

func (o ValidationOptions) depth() ValidationDepth {
	if o.Depth == "" {
		return DepthStandard
	}
	return o.Depth
}

func (o ValidationOptions) maxNodes() int {
	if o.MaxNodes <= 0 {
		return DefaultMaxNodes
	}
	return o.MaxNodes
}

func (o ValidationOptions) maxEdges() int {
	if o.MaxEdges <= 0 {
		return DefaultMaxEdges
	}
	return o.MaxEdges
}

// ValidationWarning is a soft finding: the workflow can still execute, but
// the shape is suspicious.
type ValidationWarning struct {
	Code    string `json:"code"`
	NodeID  string `json:"node_id,omitempty"`
	Message string `json:"message"`
}

// Warning codes.
const (
	WarnDeadEnd = "dead_end_node"
)

// ValidationResult carries the findings of one validation run, classified
// into hard errors and soft warnings, plus the execution topology when the
// graph is sound.
type ValidationResult struct {
	Valid    bool                 `json:"valid"`
	Errors   []*WorkflowError     `json:"errors,omitempty"`
	Warnings []*ValidationWarning `json:"warnings,omitempty"`

	// Levels is the level-based execution topology. Only populated when no
	// structural error was found.
	Levels [][]string `json:"levels,omitempty"`

	// CriticalPath is the longest path by edge count, for diagnostics.
	CriticalPath []string `json:"critical_path,omitempty"`
}

func (r *ValidationResult) addError(err *WorkflowError) {
	r.Errors = append(r.Errors, err)
	r.Valid = false
}

func (r *ValidationResult) addWarning(code, nodeID, msg string) {
	r.Warnings = append(r.Warnings, &ValidationWarning{Code: code, NodeID: nodeID, Message: msg})
}

// DAGValidator orchestrates the graph algorithms against a workflow and
// classifies findings. It is stateless and safe for concurrent use.
type DAGValidator struct{}

// NewDAGValidator creates a new DAGValidator.
func NewDAGValidator() *DAGValidator {
	return &DAGValidator{}
}

// Validate checks the workflow for structural soundness at the configured
// depth. It never returns partial topology for an unsound graph.
func (v *DAGValidator) Validate(w *Workflow, opts ValidationOptions) *ValidationResult {
	result := &ValidationResult{Valid: true}

	var deadline time.Time
	if opts.Budget > 0 {
		deadline = time.Now().Add(opts.Budget)
	}

	if w == nil || len(w.Nodes) == 0 {
		result.addError(&WorkflowError{
			Code:    WorkflowErrorInvalidWorkflow,
			Message: "workflow must contain at least one node",
		})
		return result
	}

	// Size ceilings come first so worst-case validation cost stays bounded.
	if len(w.Nodes) > opts.maxNodes() {
		result.addError(&WorkflowError{
			Code:    WorkflowErrorSizeLimit,
			Message: fmt.Sprintf("workflow has %d nodes, limit is %d", len(w.Nodes), opts.maxNodes()),
		})
		return result
	}
	if len(w.Edges) > opts.maxEdges() {
		result.addError(&WorkflowError{
			Code:    WorkflowErrorSizeLimit,
			Message: fmt.Sprintf("workflow has %d edges, limit is %d", len(w.Edges), opts.maxEdges()),
		})
		return result
	}

	v.checkNodes(w, result)
	v.checkEdgeIntegrity(w, result)
	if len(result.Errors) > 0 {
		// Graph construction needs sane endpoints; stop here.
		return result
	}

	if expired(deadline, result) {
		return result
	}

	g := w.Graph()

	// Cycle detection always runs; a cycle is a hard error carrying the
	// offending path.
	if cycle := g.DetectCycle(); cycle != nil {
		result.addError(&WorkflowError{
			Code:    WorkflowErrorCycleDetected,
			Message: fmt.Sprintf("cycle detected in workflow: %s", strings.Join(cycle, " -> ")),
			Path:    cycle,
		})
		return result
	}

	if expired(deadline, result) {
		return result
	}

	if opts.depth() != DepthMinimal {
		v.checkConnectivity(w, g, result)
		if expired(deadline, result) {
			return result
		}
	}

	if opts.depth() == DepthStrict {
		v.checkReferences(w, opts.Resolver, result)
		if expired(deadline, result) {
			return result
		}
	}

	if result.Valid {
		result.Levels = g.Levels()
		result.CriticalPath, _ = g.CriticalPath()
	}
	return result
}

// Topology computes the level-based execution order for an acyclic
// workflow. Returns an error when the workflow contains a cycle.
func (v *DAGValidator) Topology(w *Workflow) ([][]string, error) {
	if w == nil || len(w.Nodes) == 0 {
		return nil, &WorkflowError{
			Code:    WorkflowErrorInvalidWorkflow,
			Message: "workflow must contain at least one node",
		}
	}
	g := w.Graph()
	if cycle := g.DetectCycle(); cycle != nil {
		return nil, &WorkflowError{
			Code:    WorkflowErrorCycleDetected,
			Message: fmt.Sprintf("cycle detected in workflow: %s", strings.Join(cycle, " -> ")),
			Path:    cycle,
		}
	}
	return g.Levels(), nil
}

// CheckEdges reports whether the proposed edges can be added to the
// workflow without creating a cycle, without re-validating the whole
// graph. It returns false and the offending path on the first edge that
// would close a cycle. Intended for interactive editing.
func (v *DAGValidator) CheckEdges(w *Workflow, proposed []Edge) (bool, []string) {
	g := w.Graph()
	for _, e := range proposed {
		if e.From == e.To {
			return false, []string{e.From, e.To}
		}
		if g.WouldCycle(e.From, e.To) {
			path := []string{e.From, e.To}
			// Adding (from, to) cycles because a path to -> from exists;
			// report from -> to -> ... -> from for diagnosability.
			if cyclePath := reconstructPath(g, e.To, e.From); cyclePath != nil {
				path = append([]string{e.From}, cyclePath...)
			}
			return false, path
		}
		g.AddEdge(e.From, e.To)
	}
	return true, nil
}

// checkNodes validates node identity and type tags.
func (v *DAGValidator) checkNodes(w *Workflow, result *ValidationResult) {
	for id, node := range w.Nodes {
		if node == nil || node.ID == "" {
			result.addError(&WorkflowError{
				Code:    WorkflowErrorInvalidWorkflow,
				NodeID:  id,
				Message: "node is nil or has an empty ID",
			})
			continue
		}
		if node.ID != id {
			result.addError(&WorkflowError{
				Code:    WorkflowErrorInvalidWorkflow,
				NodeID:  id,
				Message: fmt.Sprintf("node map key %q does not match node ID %q", id, node.ID),
			})
		}
		if !node.Type.IsValid() {
			result.addError(&WorkflowError{
				Code:    WorkflowErrorInvalidWorkflow,
				NodeID:  id,
				Message: fmt.Sprintf("unknown node type %q", node.Type),
			})
		}
	}
}

// checkEdgeIntegrity verifies edge endpoints, forbids self-edges and
// duplicate (from, to, from_port, to_port) tuples, and restricts condition
// descriptors to edges leaving condition nodes.
func (v *DAGValidator) checkEdgeIntegrity(w *Workflow, result *ValidationResult) {
	seen := make(map[string]bool, len(w.Edges))
	for _, e := range w.Edges {
		if _, ok := w.Nodes[e.From]; !ok {
			result.addError(&WorkflowError{
				Code:    WorkflowErrorMissingReference,
				Message: fmt.Sprintf("edge references non-existent source node %q", e.From),
			})
			continue
		}
		if _, ok := w.Nodes[e.To]; !ok {
			result.addError(&WorkflowError{
				Code:    WorkflowErrorMissingReference,
				Message: fmt.Sprintf("edge references non-existent target node %q", e.To),
			})
			continue
		}
		if e.From == e.To {
			result.addError(&WorkflowError{
				Code:    WorkflowErrorInvalidWorkflow,
				NodeID:  e.From,
				Message: "self-edges are forbidden",
			})
			continue
		}
		if seen[e.Key()] {
			result.addError(&WorkflowError{
				Code:    WorkflowErrorInvalidWorkflow,
				Message: fmt.Sprintf("duplicate edge %s -> %s", e.From, e.To),
			})
			continue
		}
		seen[e.Key()] = true

		if e.Condition != "" && w.Nodes[e.From].Type != NodeTypeCondition {
			result.addError(&WorkflowError{
				Code:    WorkflowErrorInvalidWorkflow,
				NodeID:  e.From,
				Message: fmt.Sprintf("edge %s -> %s carries a condition but %q is not a condition node", e.From, e.To, e.From),
			})
		}
	}
}

// checkConnectivity flags missing triggers, dangling nodes, nodes
// unreachable from any trigger, and dead ends.
func (v *DAGValidator) checkConnectivity(w *Workflow, g *graph.Directed, result *ValidationResult) {
	triggers := w.TriggerNodes()
	if len(triggers) == 0 {
		result.addError(&WorkflowError{
			Code:    WorkflowErrorInvalidWorkflow,
			Message: "workflow must contain at least one trigger node",
		})
		return
	}

	// A single trigger-only workflow is degenerate but legal.
	singleTrigger := len(w.Nodes) == 1

	reached := g.Reachable(triggers)
	for _, id := range g.Nodes() {
		node := w.Nodes[id]
		if g.InDegree(id) == 0 && g.OutDegree(id) == 0 && !singleTrigger {
			result.addError(&WorkflowError{
				Code:    WorkflowErrorInvalidWorkflow,
				NodeID:  id,
				Message: fmt.Sprintf("node %q is dangling: no incoming or outgoing edges", id),
			})
			continue
		}
		if !reached[id] {
			result.addError(&WorkflowError{
				Code:    WorkflowErrorInvalidWorkflow,
				NodeID:  id,
				Message: fmt.Sprintf("node %q is unreachable from any trigger", id),
			})
			continue
		}
		// A workflow may legitimately terminate at a non-aggregator node,
		// so dead ends are warnings rather than errors.
		if g.OutDegree(id) == 0 && node.Type != NodeTypeAggregator && !singleTrigger {
			result.addWarning(WarnDeadEnd, id,
				fmt.Sprintf("node %q of type %q has no outgoing edges", id, node.Type))
		}
	}
}

// checkReferences resolves tool and agent references against the external
// registry. Only runs at DepthStrict.
func (v *DAGValidator) checkReferences(w *Workflow, resolver ReferenceResolver, result *ValidationResult) {
	if resolver == nil {
		result.addError(&WorkflowError{
			Code:    WorkflowErrorInvalidWorkflow,
			Message: "strict validation requires a reference resolver",
		})
		return
	}
	for id, node := range w.Nodes {
		switch node.Type {
		case NodeTypeTool:
			if node.ToolName == "" {
				result.addError(&WorkflowError{
					Code:    WorkflowErrorMissingReference,
					NodeID:  id,
					Message: "tool node has no tool name",
				})
			} else if !resolver.HasTool(node.ToolName) {
				result.addError(&WorkflowError{
					Code:    WorkflowErrorMissingReference,
					NodeID:  id,
					Message: fmt.Sprintf("tool %q is not registered", node.ToolName),
				})
			}
		case NodeTypeAgent:
			if node.AgentName == "" {
				result.addError(&WorkflowError{
					Code:    WorkflowErrorMissingReference,
					NodeID:  id,
					Message: "agent node has no agent name",
				})
			} else if !resolver.HasAgent(node.AgentName) {
				result.addError(&WorkflowError{
					Code:    WorkflowErrorMissingReference,
					NodeID:  id,
					Message: fmt.Sprintf("agent %q is not registered", node.AgentName),
				})
			}
		}
	}
}

// expired records a timed-out error when the deadline has passed.
func expired(deadline time.Time, result *ValidationResult) bool {
	if deadline.IsZero() || time.Now().Before(deadline) {
		return false
	}
	result.addError(&WorkflowError{
		Code:    WorkflowErrorValidationTimeout,
		Message: "validation exceeded its time budget",
	})
	return true
}

// reconstructPath returns the node path from src to dst, or nil when no
// path exists. BFS keeps the path shortest for readable diagnostics.
func reconstructPath(g *graph.Directed, src, dst string) []string {
	if src == dst {
		return []string{src}
	}
	parent := map[string]string{src: ""}
	queue := []string{src}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.Successors(cur) {
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = cur
			if next == dst {
				path := []string{dst}
				for p := cur; p != ""; p = parent[p] {
					path = append([]string{p}, path...)
				}
				return path
			}
			queue = append(queue, next)
		}
	}
	return nil
}
