package graph

import "sort"

// Colors for the cycle-detection DFS: white = unvisited, gray = on the
// current DFS stack, black = fully explored.
const (
	colorWhite = iota
	colorGray
	colorBlack
)

// DetectCycle runs a three-color depth-first search over the whole graph.
// If a cycle exists it returns the cycle as an ordered node list whose first
// and last elements are the same node; otherwise it returns nil.
func (g *Directed) DetectCycle() []string {
	color := make(map[string]int, len(g.nodes))
	parent := make(map[string]string, len(g.nodes))

	var dfs func(id string) []string
	dfs = func(id string) []string {
		color[id] = colorGray

		for _, next := range g.succ[id] {
			switch color[next] {
			case colorWhite:
				parent[next] = id
				if cycle := dfs(next); cycle != nil {
					return cycle
				}
			case colorGray:
				// Back edge: walk parents from id back to next to
				// reconstruct the cycle path.
				cycle := []string{next}
				for cur := id; cur != next; cur = parent[cur] {
					cycle = append([]string{cur}, cycle...)
				}
				return append([]string{next}, cycle...)
			}
		}

		color[id] = colorBlack
		return nil
	}

	for _, id := range g.Nodes() {
		if color[id] == colorWhite {
			if cycle := dfs(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// HasPath reports whether a path exists from src to dst using breadth-first
// search. A node always has a path to itself.
func (g *Directed) HasPath(src, dst string) bool {
	if src == dst {
		return g.HasNode(src)
	}
	visited := map[string]bool{src: true}
	queue := []string{src}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.succ[cur] {
			if next == dst {
				return true
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// WouldCycle reports whether adding the edge (from, to) would create a cycle.
// Adding (from, to) closes a cycle exactly when a path already exists from
// to back to from, so this is a point query that avoids copying the graph.
// A self-edge always cycles.
func (g *Directed) WouldCycle(from, to string) bool {
	if from == to {
		return true
	}
	return g.HasPath(to, from)
}

// Levels computes a level-based topological order using Kahn's algorithm:
// level 0 holds every node with in-degree zero, and each subsequent level
// holds the nodes whose remaining in-degree drops to zero once the previous
// level is removed. Nodes within a level are sorted for determinism.
//
// Levels assumes the graph is acyclic; callers must reject cycles first via
// DetectCycle. If a cycle is present anyway, Levels returns nil rather than
// a partial order.
func (g *Directed) Levels() [][]string {
	inDegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		inDegree[id] = len(g.pred[id])
	}

	var current []string
	for id, deg := range inDegree {
		if deg == 0 {
			current = append(current, id)
		}
	}

	var levels [][]string
	processed := 0
	for len(current) > 0 {
		sort.Strings(current)
		levels = append(levels, current)
		processed += len(current)

		var next []string
		for _, id := range current {
			for _, succ := range g.succ[id] {
				inDegree[succ]--
				if inDegree[succ] == 0 {
					next = append(next, succ)
				}
			}
		}
		current = next
	}

	if processed != len(g.nodes) {
		return nil
	}
	return levels
}

// Reachable returns the set of nodes reachable from any of the start nodes,
// including the start nodes themselves. Start nodes absent from the graph
// are ignored.
func (g *Directed) Reachable(starts []string) map[string]bool {
	reached := make(map[string]bool)
	var queue []string
	for _, id := range starts {
		if g.HasNode(id) && !reached[id] {
			reached[id] = true
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.succ[cur] {
			if !reached[next] {
				reached[next] = true
				queue = append(queue, next)
			}
		}
	}
	return reached
}

// CriticalPath returns the longest path in the graph by edge count, as an
// ordered node list, along with its length in edges. It runs dynamic
// programming over the topological order, so the graph must be acyclic;
// cyclic input yields (nil, 0). An empty graph yields (nil, 0); a single
// node yields a one-element path of length 0.
func (g *Directed) CriticalPath() ([]string, int) {
	levels := g.Levels()
	if levels == nil || len(g.nodes) == 0 {
		return nil, 0
	}

	// dist[id] = longest path (in edges) ending at id; prev[id] = the
	// predecessor on that path.
	dist := make(map[string]int, len(g.nodes))
	prev := make(map[string]string, len(g.nodes))

	best := ""
	for _, level := range levels {
		for _, id := range level {
			for _, p := range g.pred[id] {
				if dist[p]+1 > dist[id] {
					dist[id] = dist[p] + 1
					prev[id] = p
				}
			}
			if best == "" || dist[id] > dist[best] {
				best = id
			}
		}
	}

	path := []string{best}
	for cur := best; ; {
		p, ok := prev[cur]
		if !ok {
			break
		}
		path = append([]string{p}, path...)
		cur = p
	}
	return path, dist[best]
}
