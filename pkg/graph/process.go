package graph

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/ctilinker/pkg/common"
	"github.com/OFFIS-RIT/ctilinker/pkg/logger"
)

// PredictLinks runs the full link prediction pipeline for one record: it
// builds the report graph, splits it into components, selects the topic node
// and the main nodes and infers one edge per main node.
//
// A record without triplets yields an empty result and no oracle calls.
func (l *Linker) PredictLinks(ctx context.Context, rec *common.Record) (*common.LinkPredictionResult, error) {
	triplets := rec.Triplets()
	if len(triplets) == 0 {
		return &common.LinkPredictionResult{
			PredictedLinks: []common.PredictedEdge{},
			Model:          l.oracle.Model(),
			MainNodes:      []common.NodeRef{},
			Subgraphs:      [][]common.EntityID{},
		}, nil
	}

	g := Build(triplets)
	components := FindComponents(g)
	deg := Degrees(triplets)

	topic, err := TopicNodeOf(components, triplets)
	if err != nil {
		return nil, fmt.Errorf("failed to select topic node: %w", err)
	}

	mainNodes, err := MainNodes(components, deg, triplets, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to select main nodes: %w", err)
	}

	logger.Debug(
		"[Link] Graph decomposed",
		"nodes", g.Len(),
		"components", len(components),
		"topic", topic.Text(),
		"main_nodes", len(mainNodes),
	)

	res, err := l.InferLinks(ctx, mainNodes, topic, rec.CTI.Text)
	if err != nil {
		return nil, err
	}

	res.Subgraphs = Subgraphs(components)
	res.SubgraphNum = len(components)
	return res, nil
}
