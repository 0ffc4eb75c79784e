// Package graph provides an index-based dependency graph over plan parts.
package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCycleDetected indicates a circular dependency was found.
var ErrCycleDetected = errors.New("circular dependency detected")

// DependencyGraph is a directed graph over nodes 0..n-1.
// An edge from a to b means a depends on (is blocked by) b.
type DependencyGraph struct {
	n     int
	edges [][]int
}

// New creates a graph with n nodes and no edges.
func New(n int) *DependencyGraph {
	return &DependencyGraph{n: n, edges: make([][]int, n)}
}

// Build constructs a graph from per-node dependency lists.
// It fails if any dependency references a node outside the graph.
func Build(deps [][]int) (*DependencyGraph, error) {
	g := New(len(deps))
	for from, list := range deps {
		for _, to := range list {
			if err := g.AddEdge(from, to); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// AddEdge records that node from depends on node to.
func (g *DependencyGraph) AddEdge(from, to int) error {
	if from < 0 || from >= g.n {
		return fmt.Errorf("node %d out of range [0,%d)", from, g.n)
	}
	if to < 0 || to >= g.n {
		return fmt.Errorf("node %d depends on unknown node %d", from, to)
	}
	g.edges[from] = append(g.edges[from], to)
	return nil
}

// FindCycle returns the first cycle found by a depth-first traversal started
// from every node in index order, as a closed path (first == last).
// It returns nil when the graph is acyclic.
func (g *DependencyGraph) FindCycle() []int {
	// 0 = unvisited, 1 = on the current path, 2 = done.
	colors := make([]int, g.n)
	var path []int

	var visit func(node int) []int
	visit = func(node int) []int {
		colors[node] = 1
		path = append(path, node)

		for _, dep := range g.edges[node] {
			switch colors[dep] {
			case 1:
				// Back edge: the cycle is the path suffix starting at dep.
				for i, p := range path {
					if p == dep {
						cycle := append([]int(nil), path[i:]...)
						return append(cycle, dep)
					}
				}
			case 0:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		path = path[:len(path)-1]
		colors[node] = 2
		return nil
	}

	for node := 0; node < g.n; node++ {
		if colors[node] == 0 {
			if cycle := visit(node); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// HasCycle returns true if the graph contains a circular dependency.
func (g *DependencyGraph) HasCycle() bool {
	return g.FindCycle() != nil
}

// TopologicalSort returns nodes ordered so that every node appears after
// the nodes it depends on. Ties keep index order.
func (g *DependencyGraph) TopologicalSort() ([]int, error) {
	if g.HasCycle() {
		return nil, ErrCycleDetected
	}

	visited := make([]bool, g.n)
	result := make([]int, 0, g.n)

	var visit func(node int)
	visit = func(node int) {
		if visited[node] {
			return
		}
		visited[node] = true
		for _, dep := range g.edges[node] {
			visit(dep)
		}
		result = append(result, node)
	}

	for node := 0; node < g.n; node++ {
		visit(node)
	}
	return result, nil
}

// FormatCycle renders a cycle as "0 -> 1 -> 0".
func FormatCycle(cycle []int) string {
	parts := make([]string, len(cycle))
	for i, n := range cycle {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return strings.Join(parts, " -> ")
}
