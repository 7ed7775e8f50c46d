package graph

import (
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/ctilinker/pkg/common"
)

// ErrNoMainNode is returned for a component without any member of positive
// degree. Build never produces one, so it points at broken input.
var ErrNoMainNode = errors.New("component has no main node")

// DegreeTable maps an entity id to the number of triplet endpoints touching
// it. Direction is ignored.
type DegreeTable map[common.EntityID]int

// Degrees counts subject and object appearances over all triplets,
// duplicates included.
func Degrees(triplets []common.Triplet) DegreeTable {
	deg := make(DegreeTable, len(triplets)*2)
	for _, t := range triplets {
		deg[t.Subject.EntityID]++
		deg[t.Object.EntityID]++
	}
	return deg
}

// MainNodeOf returns the member of c with the highest degree. On ties the
// member listed first wins.
func MainNodeOf(c Component, deg DegreeTable) (common.EntityID, error) {
	var (
		main common.EntityID
		best int
	)
	for _, id := range c {
		if d := deg[id]; d > best {
			main, best = id, d
		}
	}
	if best == 0 {
		return "", fmt.Errorf("%w (size %d)", ErrNoMainNode, len(c))
	}
	return main, nil
}

// LargestComponent returns the index of the component with the most members.
// On ties the first one wins. It returns -1 for an empty slice.
func LargestComponent(components []Component) int {
	idx, size := -1, -1
	for i, c := range components {
		if len(c) > size {
			idx, size = i, len(c)
		}
	}
	return idx
}

// LookupEntity returns the entity behind id as it appears in its first
// triplet, either as subject or as object.
func LookupEntity(triplets []common.Triplet, id common.EntityID) (common.Entity, bool) {
	for _, t := range triplets {
		if t.Subject.EntityID == id {
			return t.Subject, true
		}
		if t.Object.EntityID == id {
			return t.Object, true
		}
	}
	return common.Entity{}, false
}

// TopicNodeOf returns the main node of the largest component.
func TopicNodeOf(components []Component, triplets []common.Triplet) (common.Entity, error) {
	idx := LargestComponent(components)
	if idx < 0 {
		return common.Entity{}, errors.New("graph has no components")
	}

	id, err := MainNodeOf(components[idx], Degrees(triplets))
	if err != nil {
		return common.Entity{}, fmt.Errorf("topic component %d: %w", idx, err)
	}

	entity, ok := LookupEntity(triplets, id)
	if !ok {
		return common.Entity{}, fmt.Errorf("topic node %s not found in triplets", id)
	}
	return entity, nil
}

// MainNodes returns the main node of every component in component order,
// leaving out the topic node.
func MainNodes(
	components []Component,
	deg DegreeTable,
	triplets []common.Triplet,
	topic common.Entity,
) ([]common.Entity, error) {
	nodes := make([]common.Entity, 0, len(components))
	for i, c := range components {
		id, err := MainNodeOf(c, deg)
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", i, err)
		}
		if id == topic.EntityID {
			continue
		}

		entity, ok := LookupEntity(triplets, id)
		if !ok {
			return nil, fmt.Errorf("main node %s not found in triplets", id)
		}
		nodes = append(nodes, entity)
	}
	return nodes, nil
}
