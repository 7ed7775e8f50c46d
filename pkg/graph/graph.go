package graph

import (
	"github.com/OFFIS-RIT/ctilinker/pkg/common"
)

// Graph is an undirected multigraph over entity ids built from the triplets
// of one report.
//
// Every edge is recorded in the adjacency lists of both endpoints. Parallel
// edges and self loops are kept, so adjacency lists reflect multiplicity.
// Nodes remember the order in which they were first seen, which makes every
// traversal over a Graph reproducible.
type Graph struct {
	order     []common.EntityID
	adjacency map[common.EntityID][]common.EntityID
}

// Build creates the graph of the given triplets.
func Build(triplets []common.Triplet) *Graph {
	g := &Graph{
		order:     make([]common.EntityID, 0, len(triplets)),
		adjacency: make(map[common.EntityID][]common.EntityID, len(triplets)),
	}

	for _, t := range triplets {
		s, o := t.Subject.EntityID, t.Object.EntityID
		g.addNode(s)
		g.addNode(o)
		g.adjacency[s] = append(g.adjacency[s], o)
		g.adjacency[o] = append(g.adjacency[o], s)
	}

	return g
}

func (g *Graph) addNode(id common.EntityID) {
	if _, ok := g.adjacency[id]; ok {
		return
	}
	g.adjacency[id] = []common.EntityID{}
	g.order = append(g.order, id)
}

// Nodes returns the node ids in first-insertion order.
func (g *Graph) Nodes() []common.EntityID {
	out := make([]common.EntityID, len(g.order))
	copy(out, g.order)
	return out
}

// Neighbors returns the adjacency list of id, including repeated neighbors.
func (g *Graph) Neighbors(id common.EntityID) []common.EntityID {
	return g.adjacency[id]
}

// Has reports whether id is a node of the graph.
func (g *Graph) Has(id common.EntityID) bool {
	_, ok := g.adjacency[id]
	return ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.order)
}
