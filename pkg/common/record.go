package common

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator"
)

const (
	keyReport    = "CTI"
	keyAlignment = "EA"
	keyLinks     = "LP"
)

var validate = validator.New()

// ErrInvalidRecord marks input records that can never be processed, no matter
// how often they are retried.
var ErrInvalidRecord = errors.New("invalid record")

// Report is the source text of a threat intelligence report.
type Report struct {
	Text string `json:"text"`
}

// Alignment holds the aligned triplets of the merging stage.
type Alignment struct {
	AlignedTriplets []Triplet `json:"aligned_triplets" validate:"dive"`
}

// Record is one input file: a report and its aligned triplets.
//
// All top-level sections of the file are kept verbatim, so an output record
// written with MarshalWithResult is the original input plus the "LP" section.
type Record struct {
	CTI Report
	EA  Alignment

	raw map[string]json.RawMessage
}

// ParseRecord decodes an input record.
func ParseRecord(data []byte) (*Record, error) {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: failed to decode record: %w", ErrInvalidRecord, err)
	}

	rec := &Record{raw: raw}
	if section, ok := raw[keyReport]; ok {
		if err := json.Unmarshal(section, &rec.CTI); err != nil {
			return nil, fmt.Errorf("%w: failed to decode %s section: %w", ErrInvalidRecord, keyReport, err)
		}
	}
	section, ok := raw[keyAlignment]
	if !ok {
		return nil, fmt.Errorf("%w: no %s section", ErrInvalidRecord, keyAlignment)
	}
	if err := json.Unmarshal(section, &rec.EA); err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s section: %w", ErrInvalidRecord, keyAlignment, err)
	}

	return rec, nil
}

// Validate checks that every triplet endpoint carries an entity id.
func (r *Record) Validate() error {
	if err := validate.Struct(r.EA); err != nil {
		return fmt.Errorf("%w: aligned triplets: %w", ErrInvalidRecord, err)
	}
	return nil
}

// Triplets returns the aligned triplets of the record.
func (r *Record) Triplets() []Triplet {
	return r.EA.AlignedTriplets
}

// MarshalWithResult encodes the original record with the link prediction
// result attached as "LP". The record itself is not modified.
func (r *Record) MarshalWithResult(res *LinkPredictionResult) ([]byte, error) {
	lp, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to encode link prediction result: %w", err)
	}

	out := make(map[string]json.RawMessage, len(r.raw)+1)
	for k, v := range r.raw {
		out[k] = v
	}
	out[keyLinks] = lp

	return json.MarshalIndent(out, "", "  ")
}
