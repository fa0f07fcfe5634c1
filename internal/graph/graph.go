// Package graph provides the directed-graph representation and the
// structural algorithms the workflow engine is built on: cycle detection,
// level-based topological sorting, reachability, and critical-path analysis.
//
// The graph is a plain adjacency list over opaque string node IDs. It knows
// nothing about node types, conditions, or execution; the workflow package
// layers those semantics on top.
package graph

import "sort"

// Directed is an adjacency-list directed graph over opaque node IDs.
// Edge insertion is O(1); traversals are O(V+E). The zero value is not
// usable; construct with New.
//
// Directed is not safe for concurrent mutation. The engine builds a graph
// once during validation and treats it as read-only afterwards.
type Directed struct {
	nodes map[string]struct{}
	succ  map[string][]string
	pred  map[string][]string
}

// New creates an empty directed graph.
func New() *Directed {
	return &Directed{
		nodes: make(map[string]struct{}),
		succ:  make(map[string][]string),
		pred:  make(map[string][]string),
	}
}

// AddNode adds a node to the graph. Adding an existing node is a no-op.
func (g *Directed) AddNode(id string) {
	g.nodes[id] = struct{}{}
}

// AddEdge adds a directed edge from source to target. Both endpoints are
// added as nodes if not already present. Parallel edges are kept; the
// workflow validator rejects duplicates before they reach the graph.
func (g *Directed) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	g.succ[from] = append(g.succ[from], to)
	g.pred[to] = append(g.pred[to], from)
}

// HasNode reports whether the node exists in the graph.
func (g *Directed) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Successors returns the targets of all edges leaving id, in insertion order.
func (g *Directed) Successors(id string) []string {
	return g.succ[id]
}

// Predecessors returns the sources of all edges entering id, in insertion order.
func (g *Directed) Predecessors(id string) []string {
	return g.pred[id]
}

// InDegree returns the number of edges entering id.
func (g *Directed) InDegree(id string) int {
	return len(g.pred[id])
}

// OutDegree returns the number of edges leaving id.
func (g *Directed) OutDegree(id string) int {
	return len(g.succ[id])
}

// Len returns the number of nodes in the graph.
func (g *Directed) Len() int {
	return len(g.nodes)
}

// Nodes returns all node IDs in sorted order. Sorting keeps traversal
// results deterministic across runs despite map iteration order.
func (g *Directed) Nodes() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
