package common

import (
	"errors"
	"fmt"
	"time"
)

// ErrMalformedAnswer is returned when an oracle answer does not contain
// enough values to form a (subject, relation, object) triple.
var ErrMalformedAnswer = errors.New("malformed oracle answer")

// Answer is the structured answer of a relation inference oracle.
// It is either a PredictedTriple or RawFields.
type Answer interface {
	isAnswer()
}

// PredictedTriple is a well-formed answer carrying the predicted_triple
// subject, relation and object.
type PredictedTriple struct {
	Subject  string `json:"subject" jsonschema_description:"Exact name of the subject entity, copied from the question"`
	Relation string `json:"relation" jsonschema_description:"Short verb phrase describing how the subject relates to the object"`
	Object   string `json:"object" jsonschema_description:"Exact name of the object entity, copied from the question"`
}

// Field is one key/value pair of an answer, in declaration order.
type Field struct {
	Key   string
	Value string
}

// RawFields is an answer that lacks the expected keys. The values are kept in
// the order the oracle declared them.
type RawFields []Field

func (PredictedTriple) isAnswer() {}
func (RawFields) isAnswer()       {}

// Triple assigns the first three values to subject, relation and object.
func (f RawFields) Triple() (PredictedTriple, error) {
	if len(f) < 3 {
		return PredictedTriple{}, fmt.Errorf("%w: %d values, need 3", ErrMalformedAnswer, len(f))
	}
	return PredictedTriple{
		Subject:  f[0].Value,
		Relation: f[1].Value,
		Object:   f[2].Value,
	}, nil
}

// TripleOf converts any answer variant into a triple.
func TripleOf(a Answer) (PredictedTriple, error) {
	switch v := a.(type) {
	case PredictedTriple:
		return v, nil
	case RawFields:
		return v.Triple()
	case nil:
		return PredictedTriple{}, fmt.Errorf("%w: empty answer", ErrMalformedAnswer)
	default:
		return PredictedTriple{}, fmt.Errorf("%w: unsupported answer type %T", ErrMalformedAnswer, a)
	}
}

// LinkRequest carries the three values a relation inference prompt needs.
type LinkRequest struct {
	MainNode   string
	TopicNode  string
	ReportText string
}

// OracleResponse is the result of a single relation inference call.
type OracleResponse struct {
	Answer  Answer
	Elapsed time.Duration
	Usage   Usage
}
