package graph

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/ctilinker/pkg/common"
)

// Oracle infers the relation between a main node and the topic node of a
// report. Implementations usually call a language model; the answer is
// untrusted and validated by the Linker.
type Oracle interface {
	Infer(ctx context.Context, req common.LinkRequest) (common.OracleResponse, error)
	Model() string
}

// Linker predicts links between the disconnected clusters of a report graph.
//
// A Linker should be created using NewLinker. It holds no per-report state
// and is safe for concurrent use as long as its Oracle is.
type Linker struct {
	oracle Oracle
}

// NewLinkerParams defines the configuration parameters for creating a new
// Linker.
//
// Oracle answers the relation inference requests, one per main node.
type NewLinkerParams struct {
	Oracle Oracle
}

// NewLinker creates and returns a new Linker.
//
// Example:
//
//	linker, err := graph.NewLinker(graph.NewLinkerParams{
//		Oracle: oracle,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	res, err := linker.PredictLinks(ctx, record)
func NewLinker(params NewLinkerParams) (*Linker, error) {
	if params.Oracle == nil {
		return nil, errors.New("linker needs an oracle")
	}
	return &Linker{oracle: params.Oracle}, nil
}

// Model returns the model identifier of the underlying oracle.
func (l *Linker) Model() string {
	return l.oracle.Model()
}
