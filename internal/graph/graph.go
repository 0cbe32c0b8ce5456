// Package graph tracks which build outputs depend on which other outputs.
//
// Nodes are logical output paths. An edge from A to B means A declared B as a
// dependency, so B must be resolved before A. Dependencies that are never
// declared as nodes themselves (raw input files) are kept on the edge list but
// play no part in ordering.
//
// The graph must stay acyclic. Declare refuses an edge set that would close a
// cycle through the declared node, and Order refuses to order a graph that
// contains one.
package graph

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// CycleError reports a dependency cycle. Path starts and ends with the same node.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Path, " -> ")
}

// Graph is a thread-safe dependency graph over logical output paths.
type Graph struct {
	mu    sync.RWMutex
	deps  map[string][]string
	order []string // declaration order, for stable output
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{deps: make(map[string][]string)}
}

// Declare records node and its dependencies, replacing any earlier
// declaration of the same node. If the new edges close a cycle that passes
// through node, the graph is left unchanged and a *CycleError is returned.
func (g *Graph) Declare(node string, deps []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	prev, existed := g.deps[node]
	g.deps[node] = dedupe(deps)

	if path := g.cycleThrough(node); path != nil {
		if existed {
			g.deps[node] = prev
		} else {
			delete(g.deps, node)
		}
		return &CycleError{Path: path}
	}

	if !existed {
		g.order = append(g.order, node)
	}
	return nil
}

// Has reports whether node has been declared.
func (g *Graph) Has(node string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.deps[node]
	return ok
}

// Deps returns the declared dependencies of node, in declaration order.
func (g *Graph) Deps(node string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.deps[node]...)
}

// Dependents returns the declared nodes that list node as a dependency.
func (g *Graph) Dependents(node string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []string
	for _, n := range g.order {
		for _, d := range g.deps[n] {
			if d == node {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

// Nodes returns all declared nodes in declaration order.
func (g *Graph) Nodes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.order...)
}

// FindCycle returns one cycle in the graph, or nil if it is acyclic.
func (g *Graph) FindCycle() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.deps))
	var stack []string
	var found []string

	var visit func(n string) bool
	visit = func(n string) bool {
		color[n] = grey
		stack = append(stack, n)
		for _, d := range g.deps[n] {
			if _, declared := g.deps[d]; !declared {
				continue
			}
			switch color[d] {
			case grey:
				for i, s := range stack {
					if s == d {
						found = append(append([]string(nil), stack[i:]...), d)
						break
					}
				}
				return true
			case white:
				if visit(d) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		return false
	}

	for _, n := range g.order {
		if color[n] == white && visit(n) {
			return found
		}
	}
	return nil
}

// Order returns the declared nodes so that every node comes after all of its
// declared dependencies. Ties keep declaration order.
func (g *Graph) Order() ([]string, error) {
	if cycle := g.FindCycle(); cycle != nil {
		return nil, &CycleError{Path: cycle}
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	indegree := make(map[string]int, len(g.deps))
	dependents := make(map[string][]string, len(g.deps))
	for _, n := range g.order {
		for _, d := range g.deps[n] {
			if _, declared := g.deps[d]; !declared {
				continue
			}
			indegree[n]++
			dependents[d] = append(dependents[d], n)
		}
	}

	position := make(map[string]int, len(g.order))
	for i, n := range g.order {
		position[n] = i
	}

	var ready []string
	for _, n := range g.order {
		if indegree[n] == 0 {
			ready = append(ready, n)
		}
	}

	out := make([]string, 0, len(g.order))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		out = append(out, n)

		var next []string
		for _, m := range dependents[n] {
			indegree[m]--
			if indegree[m] == 0 {
				next = append(next, m)
			}
		}
		ready = append(ready, next...)
		sort.SliceStable(ready, func(i, j int) bool {
			return position[ready[i]] < position[ready[j]]
		})
	}
	return out, nil
}

// WriteDOT writes the graph in Graphviz DOT format. Undeclared dependencies
// (input files) are drawn as boxes.
func (g *Graph) WriteDOT(w io.Writer) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var b strings.Builder
	b.WriteString("digraph build {\n")
	b.WriteString("  rankdir=LR;\n")

	inputs := make(map[string]bool)
	for _, n := range g.order {
		fmt.Fprintf(&b, "  %q;\n", n)
		for _, d := range g.deps[n] {
			if _, declared := g.deps[d]; !declared {
				inputs[d] = true
			}
		}
	}

	names := make([]string, 0, len(inputs))
	for d := range inputs {
		names = append(names, d)
	}
	sort.Strings(names)
	for _, d := range names {
		fmt.Fprintf(&b, "  %q [shape=box];\n", d)
	}

	for _, n := range g.order {
		for _, d := range g.deps[n] {
			fmt.Fprintf(&b, "  %q -> %q;\n", d, n)
		}
	}
	b.WriteString("}\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// cycleThrough returns a path node -> ... -> node if one exists. Caller
// holds the lock.
func (g *Graph) cycleThrough(node string) []string {
	visited := make(map[string]bool)
	var path []string

	var walk func(n string) bool
	walk = func(n string) bool {
		for _, d := range g.deps[n] {
			if d == node {
				path = append(path, d, n)
				return true
			}
			if visited[d] {
				continue
			}
			visited[d] = true
			if walk(d) {
				path = append(path, n)
				return true
			}
		}
		return false
	}

	if !walk(node) {
		return nil
	}

	// path was built leaf-first; reverse it so it reads node -> ... -> node.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

func dedupe(deps []string) []string {
	seen := make(map[string]bool, len(deps))
	out := make([]string, 0, len(deps))
	for _, d := range deps {
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}
