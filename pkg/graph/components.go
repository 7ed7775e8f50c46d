package graph

import (
	"github.com/OFFIS-RIT/ctilinker/pkg/common"
)

// Component is a maximal set of mutually reachable entity ids, listed in
// traversal order.
type Component []common.EntityID

// FindComponents partitions g into its connected components.
//
// Nodes are visited in first-insertion order with an iterative depth-first
// traversal, so both the order of the components and the order of the ids
// inside each component are deterministic for a given triplet order.
func FindComponents(g *Graph) []Component {
	if g == nil || g.Len() == 0 {
		return nil
	}

	visited := make(map[common.EntityID]bool, g.Len())
	components := make([]Component, 0)

	for _, start := range g.order {
		if visited[start] {
			continue
		}

		component := Component{}
		stack := []common.EntityID{start}
		for len(stack) > 0 {
			current := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[current] {
				continue
			}
			visited[current] = true
			component = append(component, current)

			// Push in reverse so neighbors are explored in adjacency order.
			neighbors := g.adjacency[current]
			for i := len(neighbors) - 1; i >= 0; i-- {
				if !visited[neighbors[i]] {
					stack = append(stack, neighbors[i])
				}
			}
		}

		components = append(components, component)
	}

	return components
}

// Subgraphs converts components into the id lists written to output records.
func Subgraphs(components []Component) [][]common.EntityID {
	out := make([][]common.EntityID, len(components))
	for i, c := range components {
		ids := make([]common.EntityID, len(c))
		copy(ids, c)
		out[i] = ids
	}
	return out
}
