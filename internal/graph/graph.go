// Package graph models the inter-robot communication graph: neighbour
// lists, the undirected edge set, and the graph Laplacian used by the
// consensus controller. A Graph is immutable after construction.
package graph

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Edge is an undirected communication link between two robots.
// Robot indices are 1-based throughout the module. Edges are stored in
// discovery order: (I,J) where I is the first robot whose neighbour list
// mentioned the pair.
type Edge struct {
	I, J int
}

// String renders the edge the way recorded series name their columns.
func (e Edge) String() string {
	return fmt.Sprintf("Edge(%d,%d)", e.I, e.J)
}

// Graph is the communication topology for N robots.
type Graph struct {
	n          int
	neighbours [][]int
	edges      []Edge
	laplacian  *mat.SymDense
}

// Complete returns the complete graph on n robots: every robot is a
// neighbour of every other robot.
func Complete(n int) (*Graph, error) {
	neighbours := make([][]int, n)
	for i := 0; i < n; i++ {
		list := make([]int, 0, n-1)
		for j := 1; j <= n; j++ {
			if j != i+1 {
				list = append(list, j)
			}
		}
		neighbours[i] = list
	}
	return New(neighbours)
}

// New builds a Graph from per-robot neighbour lists. Lists use 1-based
// robot indices. The lists must be symmetric (j listing i whenever i
// lists j), free of self-loops and duplicates, and in range.
func New(neighbours [][]int) (*Graph, error) {
	n := len(neighbours)
	if n == 0 {
		return nil, fmt.Errorf("graph: no robots")
	}

	seen := make([]map[int]bool, n)
	for i, list := range neighbours {
		seen[i] = make(map[int]bool, len(list))
		for _, j := range list {
			if j < 1 || j > n {
				return nil, fmt.Errorf("graph: robot %d lists neighbour %d, out of range [1,%d]", i+1, j, n)
			}
			if j == i+1 {
				return nil, fmt.Errorf("graph: robot %d lists itself as a neighbour", i+1)
			}
			if seen[i][j] {
				return nil, fmt.Errorf("graph: robot %d lists neighbour %d twice", i+1, j)
			}
			seen[i][j] = true
		}
	}
	for i := range neighbours {
		for j := range seen[i] {
			if !seen[j-1][i+1] {
				return nil, fmt.Errorf("graph: asymmetric neighbour lists: robot %d lists %d but not vice versa", i+1, j)
			}
		}
	}

	g := &Graph{n: n, neighbours: neighbours}

	// L = D - A. With symmetric lists each unordered pair is first seen
	// from its lower-indexed robot, which fixes the edge order.
	lap := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		lap.SetSym(i, i, float64(len(neighbours[i])))
		for _, j := range neighbours[i] {
			lap.SetSym(i, j-1, -1)
			if j > i+1 {
				g.edges = append(g.edges, Edge{I: i + 1, J: j})
			}
		}
	}
	g.laplacian = lap

	return g, nil
}

// N returns the number of robots.
func (g *Graph) N() int { return g.n }

// Neighbours returns the 1-based neighbour list of robot i (1-based).
func (g *Graph) Neighbours(i int) []int { return g.neighbours[i-1] }

// Edges returns the unique undirected edges in discovery order.
func (g *Graph) Edges() []Edge { return g.edges }

// Laplacian returns the graph Laplacian L = D - A. Row sums are zero and
// L is positive semi-definite by construction.
func (g *Graph) Laplacian() *mat.SymDense { return g.laplacian }

// Connected reports whether every robot is reachable from robot 1.
// The consensus law only converges on a connected graph.
func (g *Graph) Connected() bool {
	if g.n == 0 {
		return false
	}
	visited := make([]bool, g.n)
	queue := []int{0}
	visited[0] = true
	count := 1
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		for _, j := range g.neighbours[i] {
			if !visited[j-1] {
				visited[j-1] = true
				count++
				queue = append(queue, j-1)
			}
		}
	}
	return count == g.n
}
