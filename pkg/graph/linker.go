package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/ctilinker/internal/metrics"
	"github.com/OFFIS-RIT/ctilinker/pkg/common"
	"github.com/OFFIS-RIT/ctilinker/pkg/logger"
)

type accumulator struct {
	edges   []common.PredictedEdge
	elapsed time.Duration
	usage   common.Usage
}

func (a accumulator) add(edge common.PredictedEdge, res common.OracleResponse) accumulator {
	a.edges = append(a.edges, edge)
	a.elapsed += res.Elapsed
	a.usage = a.usage.Add(res.Usage)
	return a
}

// InferLinks asks the oracle for one relation per main node and returns the
// predicted edges in main node order.
//
// Answers naming other entities than the requested pair are kept as edges
// between hallucination sentinels. An oracle error aborts the whole call so
// that no partial result is ever persisted.
func (l *Linker) InferLinks(
	ctx context.Context,
	mainNodes []common.Entity,
	topic common.Entity,
	report string,
) (*common.LinkPredictionResult, error) {
	acc := accumulator{edges: make([]common.PredictedEdge, 0, len(mainNodes))}

	for _, node := range mainNodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req := common.LinkRequest{
			MainNode:   node.Text(),
			TopicNode:  topic.Text(),
			ReportText: report,
		}
		res, err := l.oracle.Infer(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("failed to infer link for %q: %w", node.Text(), err)
		}

		edge, err := resolveEdge(res.Answer, node, topic)
		if err != nil {
			metrics.MalformedAnswers.Inc()
			logger.Warn("[Link] Malformed oracle answer", "main_node", node.Text(), "topic_node", topic.Text(), "err", err)
		} else if edge.IsHallucination() {
			metrics.Hallucinations.Inc()
			logger.Debug("[Link] Oracle named other entities", "main_node", node.Text(), "topic_node", topic.Text())
		}

		acc = acc.add(edge, res)
	}

	mainRefs := make([]common.NodeRef, len(mainNodes))
	for i, n := range mainNodes {
		mainRefs[i] = common.NodeRef{EntityID: n.EntityID, EntityText: n.Text()}
	}
	t := topic

	return &common.LinkPredictionResult{
		PredictedLinks: acc.edges,
		ResponseTime:   acc.elapsed.Seconds(),
		Model:          l.oracle.Model(),
		Usage:          acc.usage,
		TopicNode:      &t,
		MainNodes:      mainRefs,
	}, nil
}

// resolveEdge maps an oracle answer onto the requested (main, topic) pair.
// A malformed answer yields a sentinel edge with an empty relation together
// with an error wrapping common.ErrMalformedAnswer.
func resolveEdge(answer common.Answer, main, topic common.Entity) (common.PredictedEdge, error) {
	triple, err := common.TripleOf(answer)
	if err != nil {
		return hallucination(""), err
	}

	subject := common.NormalizeText(triple.Subject)
	object := common.NormalizeText(triple.Object)
	mainText := common.NormalizeText(main.Text())
	topicText := common.NormalizeText(topic.Text())

	switch {
	case subject == mainText && object == topicText:
		return common.PredictedEdge{Subject: main, Relation: triple.Relation, Object: topic}, nil
	case subject == topicText && object == mainText:
		return common.PredictedEdge{Subject: topic, Relation: triple.Relation, Object: main}, nil
	default:
		return hallucination(triple.Relation), nil
	}
}

func hallucination(relation string) common.PredictedEdge {
	return common.PredictedEdge{
		Subject:  common.HallucinatedEntity(),
		Relation: relation,
		Object:   common.HallucinatedEntity(),
	}
}
