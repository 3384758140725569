package emulator

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"seedemu/internal/errdefs"
)

// graph holds edges dependency -> dependent between layer indices
type graph struct {
	n     int
	edges []map[int]struct{}
}

func newGraph(n int) *graph {
	g := &graph{n: n, edges: make([]map[int]struct{}, n)}
	for i := range g.edges {
		g.edges[i] = make(map[int]struct{})
	}
	return g
}

func (g *graph) add(from, to int) {
	g.edges[from][to] = struct{}{}
}

func (g *graph) reaches(from, to int) bool {
	seen := make([]bool, g.n)
	stack := []int{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == to {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		for next := range g.edges[cur] {
			stack = append(stack, next)
		}
	}
	return false
}

// cycle returns one cycle as a list of indices, first == last, or nil
func (g *graph) cycle() []int {
	const (
		white = iota
		grey
		black
	)
	color := make([]int, g.n)
	var path []int
	var found []int

	var visit func(int) bool
	visit = func(v int) bool {
		color[v] = grey
		path = append(path, v)
		for w := 0; w < g.n; w++ {
			if _, ok := g.edges[v][w]; !ok {
				continue
			}
			switch color[w] {
			case grey:
				for i, p := range path {
					if p == w {
						found = append(append([]int{}, path[i:]...), w)
						return true
					}
				}
			case white:
				if visit(w) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[v] = black
		return false
	}

	for v := 0; v < g.n; v++ {
		if color[v] == white && visit(v) {
			return found
		}
	}
	return nil
}

// sort runs Kahn's algorithm, always taking the ready layer registered first
func (g *graph) sort() []int {
	indegree := make([]int, g.n)
	for _, targets := range g.edges {
		for to := range targets {
			indegree[to]++
		}
	}
	done := make([]bool, g.n)
	order := make([]int, 0, g.n)
	for len(order) < g.n {
		next := -1
		for i := 0; i < g.n; i++ {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			break
		}
		done[next] = true
		order = append(order, next)
		for to := range g.edges[next] {
			indegree[to]--
		}
	}
	return order
}

// resolveOrder computes the render order of the attached layers. Hard
// dependencies must be attached and acyclic. Soft dependencies are added in
// registration order and dropped when they would close a cycle. Remaining
// ties go to the layer registered first.
func (e *Emulator) resolveOrder() ([]Layer, error) {
	index := make(map[string]int, len(e.layers))
	for i, l := range e.layers {
		index[l.Name()] = i
	}

	g := newGraph(len(e.layers))
	for i, l := range e.layers {
		for _, dep := range l.Dependencies() {
			if dep.Optional {
				continue
			}
			j, ok := index[dep.Layer]
			if !ok {
				return nil, fmt.Errorf("layer %s depends on %s: layer %w", l.Name(), dep.Layer, errdefs.ErrNotFound)
			}
			g.add(j, i)
		}
	}
	if c := g.cycle(); c != nil {
		// edges run from a dependency to its dependent
		names := make([]string, len(c))
		for k, idx := range c {
			names[len(c)-1-k] = e.layers[idx].Name()
		}
		return nil, fmt.Errorf("%s: %w", strings.Join(names, " requires "), errdefs.ErrDependencyCycle)
	}

	for i, l := range e.layers {
		for _, dep := range l.Dependencies() {
			if !dep.Optional {
				continue
			}
			j, ok := index[dep.Layer]
			if !ok || j == i {
				continue
			}
			if g.reaches(i, j) {
				e.logger.Debug("dropping soft dependency that closes a cycle",
					zap.String("layer", l.Name()), zap.String("dependency", dep.Layer))
				continue
			}
			g.add(j, i)
		}
	}

	sorted := g.sort()
	order := make([]Layer, len(sorted))
	for k, idx := range sorted {
		order[k] = e.layers[idx]
	}
	return order, nil
}
