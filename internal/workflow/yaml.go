package workflow

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cascade-labs/cascade/internal/types"
	"gopkg.in/yaml.v3"
)

// workflowDoc is the YAML representation of a workflow definition.
type workflowDoc struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Version     int            `yaml:"version"`
	Variables   map[string]any `yaml:"variables"`
	Nodes       []nodeDoc      `yaml:"nodes"`
	Edges       []edgeDoc      `yaml:"edges"`
}

type nodeDoc struct {
	ID           string            `yaml:"id"`
	Type         string            `yaml:"type"`
	Name         string            `yaml:"name"`
	Tool         string            `yaml:"tool"`
	ToolInput    map[string]any    `yaml:"tool_input"`
	Agent        string            `yaml:"agent"`
	AgentTask    map[string]any    `yaml:"agent_task"`
	Mapping      map[string]string `yaml:"mapping"`
	Timeout      string            `yaml:"timeout"`
	Retry        *retryDoc         `yaml:"retry"`
	NonRetryable []string          `yaml:"non_retryable"`
	Metadata     map[string]any    `yaml:"metadata"`
}

type retryDoc struct {
	MaxRetries int     `yaml:"max_retries"`
	Delay      string  `yaml:"delay"`
	Backoff    string  `yaml:"backoff"`
	MaxDelay   string  `yaml:"max_delay"`
	Multiplier float64 `yaml:"multiplier"`
}

type edgeDoc struct {
	From      string            `yaml:"from"`
	To        string            `yaml:"to"`
	FromPort  string            `yaml:"from_port"`
	ToPort    string            `yaml:"to_port"`
	Condition string            `yaml:"condition"`
	Priority  int               `yaml:"priority"`
	Remap     map[string]string `yaml:"remap"`
}

// LoadYAML reads a workflow definition from a YAML file.
func LoadYAML(path string) (*Workflow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening workflow file: %w", err)
	}
	defer f.Close()
	return ParseYAML(f)
}

// ParseYAML decodes a workflow definition from a YAML stream.
func ParseYAML(r io.Reader) (*Workflow, error) {
	var doc workflowDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding workflow yaml: %w", err)
	}
	return doc.toWorkflow()
}

func (d *workflowDoc) toWorkflow() (*Workflow, error) {
	if d.Name == "" {
		return nil, &WorkflowError{
			Code:    WorkflowErrorInvalidWorkflow,
			Message: "workflow must have a name",
		}
	}

	w := &Workflow{
		ID:          types.NewID(),
		Name:        d.Name,
		Description: d.Description,
		Version:     d.Version,
		Nodes:       make(map[string]*Node, len(d.Nodes)),
		Edges:       make([]Edge, 0, len(d.Edges)),
		Variables:   d.Variables,
		CreatedAt:   time.Now(),
	}
	if w.Version == 0 {
		w.Version = 1
	}
	if w.Variables == nil {
		w.Variables = make(map[string]any)
	}

	for i := range d.Nodes {
		node, err := d.Nodes[i].toNode()
		if err != nil {
			return nil, err
		}
		if _, exists := w.Nodes[node.ID]; exists {
			return nil, &WorkflowError{
				Code:    WorkflowErrorInvalidWorkflow,
				Message: fmt.Sprintf("duplicate node id %q", node.ID),
				NodeID:  node.ID,
			}
		}
		w.Nodes[node.ID] = node
	}

	for _, e := range d.Edges {
		w.Edges = append(w.Edges, Edge{
			From:      e.From,
			To:        e.To,
			FromPort:  e.FromPort,
			ToPort:    e.ToPort,
			Condition: e.Condition,
			Priority:  e.Priority,
			Remap:     e.Remap,
		})
	}
	return w, nil
}

func (d *nodeDoc) toNode() (*Node, error) {
	nodeType := NodeType(d.Type)
	if !nodeType.IsValid() {
		return nil, &WorkflowError{
			Code:    WorkflowErrorInvalidWorkflow,
			Message: fmt.Sprintf("node %q has unknown type %q", d.ID, d.Type),
			NodeID:  d.ID,
		}
	}

	node := &Node{
		ID:             d.ID,
		Type:           nodeType,
		Name:           d.Name,
		ToolName:       d.Tool,
		ToolInput:      d.ToolInput,
		AgentName:      d.Agent,
		AgentTask:      d.AgentTask,
		AdapterMapping: d.Mapping,
		Metadata:       d.Metadata,
	}
	if node.Name == "" {
		node.Name = d.ID
	}

	if d.Timeout != "" {
		timeout, err := time.ParseDuration(d.Timeout)
		if err != nil {
			return nil, &WorkflowError{
				Code:    WorkflowErrorInvalidWorkflow,
				Message: fmt.Sprintf("node %q has invalid timeout %q", d.ID, d.Timeout),
				NodeID:  d.ID,
				Cause:   err,
			}
		}
		node.Timeout = timeout
	}

	if d.Retry != nil {
		policy, err := d.Retry.toPolicy(d.ID)
		if err != nil {
			return nil, err
		}
		node.RetryPolicy = policy
	}
	node.NonRetryable = append(node.NonRetryable, d.NonRetryable...)
	return node, nil
}

func (d *retryDoc) toPolicy(nodeID string) (*RetryPolicy, error) {
	policy := &RetryPolicy{
		MaxRetries:      d.MaxRetries,
		BackoffStrategy: BackoffExponential,
		Multiplier:      d.Multiplier,
	}
	if policy.Multiplier <= 0 {
		policy.Multiplier = 2.0
	}
	if d.Backoff != "" {
		backoff := BackoffStrategy(d.Backoff)
		switch backoff {
		case BackoffConstant, BackoffLinear, BackoffExponential:
			policy.BackoffStrategy = backoff
		default:
			return nil, &WorkflowError{
				Code:    WorkflowErrorInvalidWorkflow,
				Message: fmt.Sprintf("node %q has unknown backoff strategy %q", nodeID, d.Backoff),
				NodeID:  nodeID,
			}
		}
	}
	if d.Delay != "" {
		delay, err := time.ParseDuration(d.Delay)
		if err != nil {
			return nil, &WorkflowError{
				Code:    WorkflowErrorInvalidWorkflow,
				Message: fmt.Sprintf("node %q has invalid retry delay %q", nodeID, d.Delay),
				NodeID:  nodeID,
				Cause:   err,
			}
		}
		policy.InitialDelay = delay
	}
	if d.MaxDelay != "" {
		maxDelay, err := time.ParseDuration(d.MaxDelay)
		if err != nil {
			return nil, &WorkflowError{
				Code:    WorkflowErrorInvalidWorkflow,
				Message: fmt.Sprintf("node %q has invalid retry max delay %q", nodeID, d.MaxDelay),
				NodeID:  nodeID,
				Cause:   err,
			}
		}
		policy.MaxDelay = maxDelay
	}
	return policy, nil
}
