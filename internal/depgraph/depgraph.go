// Package depgraph implements a small generic directed acyclic graph used
// to track dependencies between packages, commands, and tasks.
package depgraph

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// DepGraph is a directed acyclic graph over comparable elements of type T.
// Edges point from a node to the nodes it depends on. It is safe for
// concurrent reads once Build has returned; it is not safe to mutate
// concurrently with reads.
type DepGraph[T comparable] struct {
	roots []T
	edges map[T][]T
	seen  map[T]bool
}

// Expander returns the immediate dependencies of el, along with ok. When ok
// is false the returned deps are ignored: el is still recorded as a node,
// but with no outgoing edges and no further expansion.
type Expander[T comparable] func(el T) (deps []T, ok bool, err error)

// Build constructs a DepGraph by starting from roots and repeatedly calling
// expand on every newly discovered node until the frontier is empty. It
// returns an error if expand fails or if the expanded graph contains a
// cycle.
func Build[T comparable](roots []T, expand Expander[T]) (*DepGraph[T], error) {
	g := &DepGraph[T]{
		roots: append([]T(nil), roots...),
		edges: make(map[T][]T),
		seen:  make(map[T]bool),
	}

	stack := make([]T, len(roots))
	copy(stack, roots)
	onStack := make(map[T]bool, len(roots))
	for _, r := range roots {
		onStack[r] = true
	}

	for len(stack) > 0 {
		n := len(stack) - 1
		el := stack[n]
		stack = stack[:n]
		onStack[el] = false

		if g.seen[el] {
			continue
		}
		g.seen[el] = true

		deps, ok, err := expand(el)
		if err != nil {
			return nil, errors.Wrapf(err, "expanding %v", el)
		}
		if !ok {
			g.edges[el] = nil
			continue
		}
		g.edges[el] = append([]T(nil), deps...)
		for _, d := range deps {
			if !g.seen[d] {
				stack = append(stack, d)
			}
		}
	}

	if cyc, ok := g.findCycle(); ok {
		return nil, errors.Errorf("dependency cycle detected: %v", cyc)
	}

	return g, nil
}

// Nodes returns every node known to the graph, in no particular order.
func (g *DepGraph[T]) Nodes() []T {
	out := make([]T, 0, len(g.edges))
	for n := range g.edges {
		out = append(out, n)
	}
	return out
}

// Roots returns the nodes the graph was built from.
func (g *DepGraph[T]) Roots() []T {
	return append([]T(nil), g.roots...)
}

// ImmediateDepsFor returns the direct dependencies of el.
func (g *DepGraph[T]) ImmediateDepsFor(el T) []T {
	return append([]T(nil), g.edges[el]...)
}

// AllDepsFor returns every transitive dependency of el (excluding el
// itself), in postorder: a dependency always appears before the nodes that
// depend on it.
func (g *DepGraph[T]) AllDepsFor(el T) []T {
	visited := make(map[T]bool)
	var out []T
	var visit func(T)
	visit = func(n T) {
		for _, d := range g.edges[n] {
			if !visited[d] {
				visited[d] = true
				visit(d)
				out = append(out, d)
			}
		}
	}
	visit(el)
	return out
}

// IsDependentOn reports whether el transitively depends on dep.
func (g *DepGraph[T]) IsDependentOn(el T, dep T) bool {
	for _, d := range g.AllDepsFor(el) {
		if d == dep {
			return true
		}
	}
	return false
}

// findCycle performs a DFS with a recursion stack; if it revisits a node
// already on the stack, it reports the cycle as the slice of nodes from
// that node back to itself.
func (g *DepGraph[T]) findCycle() ([]T, bool) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[T]int, len(g.edges))
	var path []T
	var cyc []T

	var visit func(T) bool
	visit = func(n T) bool {
		color[n] = gray
		path = append(path, n)
		for _, d := range g.edges[n] {
			switch color[d] {
			case gray:
				for i := len(path) - 1; i >= 0; i-- {
					cyc = append(cyc, path[i])
					if path[i] == d {
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
		path = path[:len(path)-1]
		color[n] = black
		return false
	}

	// Sort for determinism: iterating a Go map has randomized order, and we
	// want cycle detection to be reproducible across runs.
	nodes := g.Nodes()
	sort.Slice(nodes, func(i, j int) bool {
		return fmt.Sprint(nodes[i]) < fmt.Sprint(nodes[j])
	})

	for _, n := range nodes {
		if color[n] == white {
			if visit(n) {
				return cyc, true
			}
		}
	}
	return nil, false
}
