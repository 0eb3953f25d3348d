// Package subquery executes a dependency graph of decomposed sub-queries in
// topological order. Nodes whose dependencies are satisfied run concurrently;
// a node never starts before every dependency has completed.
package subquery

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	grounderr "github.com/sweetpotato0/grounded/errors"
)

// Node is one sub-query with its dependency ids.
type Node struct {
	ID        string   `json:"id"`
	Query     string   `json:"query"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// Graph is a validated acyclic sub-query graph.
type Graph struct {
	nodes []Node
	byID  map[string]int
}

// NewGraph validates the nodes and returns a graph. Duplicate ids and unknown
// dependency ids are invalid input; a cycle returns ErrCyclicDependency
// before any execution can happen.
func NewGraph(nodes []Node) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: graph has no nodes", grounderr.ErrInvalidInput)
	}
	byID := make(map[string]int, len(nodes))
	for i, n := range nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("%w: node %d has empty id", grounderr.ErrInvalidInput, i)
		}
		if _, ok := byID[n.ID]; ok {
			return nil, fmt.Errorf("%w: duplicate node id %q", grounderr.ErrInvalidInput, n.ID)
		}
		byID[n.ID] = i
	}
	for _, n := range nodes {
		for _, dep := range n.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("%w: node %q depends on unknown id %q", grounderr.ErrInvalidInput, n.ID, dep)
			}
			if dep == n.ID {
				return nil, fmt.Errorf("%w: node %q depends on itself", grounderr.ErrCyclicDependency, n.ID)
			}
		}
	}

	g := &Graph{nodes: nodes, byID: byID}
	if g.hasCycle() {
		return nil, grounderr.ErrCyclicDependency
	}
	return g, nil
}

// Nodes returns the graph's nodes in declaration order.
func (g *Graph) Nodes() []Node {
	return g.nodes
}

// hasCycle runs Kahn's algorithm and reports whether any node was left
// unprocessed.
func (g *Graph) hasCycle() bool {
	indegree := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string, len(g.nodes))
	for _, n := range g.nodes {
		indegree[n.ID] += 0
		for _, dep := range n.DependsOn {
			indegree[n.ID]++
			dependents[dep] = append(dependents[dep], n.ID)
		}
	}

	queue := make([]string, 0, len(g.nodes))
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return processed != len(g.nodes)
}

// Execute runs every node in dependency order. Ready nodes within one wave
// run concurrently; the first error cancels outstanding work and is returned.
func (g *Graph) Execute(ctx context.Context, run func(ctx context.Context, node Node) error) error {
	completed := make(map[string]bool, len(g.nodes))
	var mu sync.Mutex

	remaining := len(g.nodes)
	for remaining > 0 {
		var wave []Node
		for _, n := range g.nodes {
			if completed[n.ID] {
				continue
			}
			ready := true
			for _, dep := range n.DependsOn {
				if !completed[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, n)
			}
		}
		if len(wave) == 0 {
			// unreachable after NewGraph's cycle check, kept as a guard
			return grounderr.ErrCyclicDependency
		}

		eg, waveCtx := errgroup.WithContext(ctx)
		for _, node := range wave {
			eg.Go(func() error {
				if err := run(waveCtx, node); err != nil {
					return fmt.Errorf("sub-query %q failed: %w", node.ID, err)
				}
				mu.Lock()
				completed[node.ID] = true
				mu.Unlock()
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}
		remaining -= len(wave)
	}
	return nil
}
