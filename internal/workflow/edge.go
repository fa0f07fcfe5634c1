package workflow

import "fmt"

// Edge is a directed edge in the workflow DAG. Ports distinguish multiple
// outputs or inputs on a single node; Condition and Priority only apply to
// edges leaving a condition node.
type Edge struct {
	// From is the source node ID.
	From string `json:"from" yaml:"from"`
	// To is the destination node ID.
	To string `json:"to" yaml:"to"`
	// FromPort optionally names the source output port.
	FromPort string `json:"from_port,omitempty" yaml:"from_port,omitempty"`
	// ToPort optionally names the destination input port.
	ToPort string `json:"to_port,omitempty" yaml:"to_port,omitempty"`
	// Condition is a boolean expression evaluated against the condition
	// node's input. An empty condition on a condition-node edge marks the
	// default branch, taken when no other edge matches.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
	// Priority breaks ties when multiple condition branches could match;
	// lower values are evaluated first.
	Priority int `json:"priority,omitempty" yaml:"priority,omitempty"`
	// Remap renames keys of the source output before it is merged into the
	// destination input: destination key -> source key.
	Remap map[string]string `json:"remap,omitempty" yaml:"remap,omitempty"`
}

// Key returns the identity tuple used to detect duplicate edges.
func (e Edge) Key() string {
	return fmt.Sprintf("%s\x00%s\x00%s\x00%s", e.From, e.To, e.FromPort, e.ToPort)
}

// IsDefault reports whether the edge is a default (else) condition branch.
func (e Edge) IsDefault() bool {
	return e.Condition == ""
}
