package workflow

import (
	"fmt"
	"time"

	"github.com/cascade-labs/cascade/internal/types"
)

// Builder provides a fluent API for constructing workflows in code. It
// accumulates errors while building and reports them all at Build() time.
type Builder struct {
	workflow *Workflow
	errors   []error
}

// NewBuilder creates a Builder for a named workflow.
func NewBuilder(name string) *Builder {
	return &Builder{
		workflow: &Workflow{
			ID:        types.NewID(),
			Name:      name,
			Version:   1,
			Nodes:     make(map[string]*Node),
			Edges:     []Edge{},
			Variables: make(map[string]any),
			CreatedAt: time.Now(),
		},
	}
}

// WithDescription sets the workflow description.
func (b *Builder) WithDescription(desc string) *Builder {
	b.workflow.Description = desc
	return b
}

// WithVariable declares a workflow-scope variable seeded into every run.
func (b *Builder) WithVariable(name string, value any) *Builder {
	b.workflow.Variables[name] = value
	return b
}

// AddNode adds a fully-specified node.
func (b *Builder) AddNode(node *Node) *Builder {
	if node == nil {
		b.errors = append(b.errors, fmt.Errorf("cannot add nil node"))
		return b
	}
	if node.ID == "" {
		b.errors = append(b.errors, fmt.Errorf("node must have an ID"))
		return b
	}
	if _, exists := b.workflow.Nodes[node.ID]; exists {
		b.errors = append(b.errors, fmt.Errorf("node %q already exists", node.ID))
		return b
	}
	b.workflow.Nodes[node.ID] = node
	return b
}

// AddTriggerNode adds a trigger node.
func (b *Builder) AddTriggerNode(id string) *Builder {
	return b.AddNode(&Node{ID: id, Type: NodeTypeTrigger, Name: id})
}

// AddToolNode adds a tool node with optional static input.
func (b *Builder) AddToolNode(id, toolName string, input map[string]any) *Builder {
	if toolName == "" {
		b.errors = append(b.errors, fmt.Errorf("tool node %q must name a tool", id))
		return b
	}
	return b.AddNode(&Node{
		ID:        id,
		Type:      NodeTypeTool,
		Name:      toolName,
		ToolName:  toolName,
		ToolInput: input,
	})
}

// AddAgentNode adds an agent node with its task payload.
func (b *Builder) AddAgentNode(id, agentName string, task map[string]any) *Builder {
	if agentName == "" {
		b.errors = append(b.errors, fmt.Errorf("agent node %q must name an agent", id))
		return b
	}
	return b.AddNode(&Node{
		ID:        id,
		Type:      NodeTypeAgent,
		Name:      agentName,
		AgentName: agentName,
		AgentTask: task,
	})
}

// AddConditionNode adds a condition node. Branch expressions live on the
// node's outgoing edges; use AddConditionalEdge and AddDefaultEdge.
func (b *Builder) AddConditionNode(id string) *Builder {
	return b.AddNode(&Node{ID: id, Type: NodeTypeCondition, Name: "condition:" + id})
}

// AddAdapterNode adds an adapter node with its key mapping.
func (b *Builder) AddAdapterNode(id string, mapping map[string]string) *Builder {
	return b.AddNode(&Node{
		ID:             id,
		Type:           NodeTypeAdapter,
		Name:           id,
		AdapterMapping: mapping,
	})
}

// AddAggregatorNode adds an aggregator node.
func (b *Builder) AddAggregatorNode(id string) *Builder {
	return b.AddNode(&Node{ID: id, Type: NodeTypeAggregator, Name: id})
}

// AddEdge adds a plain directed edge.
func (b *Builder) AddEdge(from, to string) *Builder {
	if from == "" || to == "" {
		b.errors = append(b.errors, fmt.Errorf("edge endpoints must be non-empty"))
		return b
	}
	b.workflow.Edges = append(b.workflow.Edges, Edge{From: from, To: to})
	return b
}

// AddConditionalEdge adds a condition branch with an expression and a
// priority; lower priorities are evaluated first.
func (b *Builder) AddConditionalEdge(from, to, condition string, priority int) *Builder {
	if condition == "" {
		b.errors = append(b.errors, fmt.Errorf("conditional edge %s -> %s must have an expression", from, to))
		return b
	}
	b.workflow.Edges = append(b.workflow.Edges, Edge{
		From:      from,
		To:        to,
		Condition: condition,
		Priority:  priority,
	})
	return b
}

// AddDefaultEdge adds the else branch of a condition node, taken when no
// conditional edge matches.
func (b *Builder) AddDefaultEdge(from, to string, priority int) *Builder {
	b.workflow.Edges = append(b.workflow.Edges, Edge{From: from, To: to, Priority: priority})
	return b
}

// WithTimeout sets the per-attempt timeout on an existing node.
func (b *Builder) WithTimeout(nodeID string, timeout time.Duration) *Builder {
	node, ok := b.workflow.Nodes[nodeID]
	if !ok {
		b.errors = append(b.errors, fmt.Errorf("cannot set timeout on unknown node %q", nodeID))
		return b
	}
	node.Timeout = timeout
	return b
}

// WithRetry sets the retry policy on an existing node.
func (b *Builder) WithRetry(nodeID string, policy *RetryPolicy) *Builder {
	node, ok := b.workflow.Nodes[nodeID]
	if !ok {
		b.errors = append(b.errors, fmt.Errorf("cannot set retry policy on unknown node %q", nodeID))
		return b
	}
	node.RetryPolicy = policy
	return b
}

// Build validates the assembled workflow at minimal depth and returns it,
// or every accumulated error.
func (b *Builder) Build() (*Workflow, error) {
	if len(b.errors) > 0 {
		return nil, fmt.Errorf("workflow build failed with %d error(s): %v", len(b.errors), b.errors)
	}

	result := NewDAGValidator().Validate(b.workflow, ValidationOptions{Depth: DepthMinimal})
	if !result.Valid {
		return nil, result.Errors[0]
	}
	return b.workflow, nil
}
