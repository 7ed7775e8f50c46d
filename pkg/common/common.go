package common

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// HallucinationID is the entity id written for both endpoints of a predicted
// edge whose oracle answer could not be mapped onto the requested entities.
const HallucinationID EntityID = "hallucination"

// EntityID identifies a merged entity within one report.
//
// Upstream ids are numbers, the hallucination sentinel is a string. EntityID
// keeps the textual form and re-encodes number literals as JSON numbers so
// that written records keep the shape of the input.
type EntityID string

// UnmarshalJSON accepts both JSON numbers and JSON strings.
func (id *EntityID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = EntityID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("entity id must be a number or a string: %w", err)
	}
	*id = EntityID(n.String())
	return nil
}

// MarshalJSON writes ids that are JSON number literals as numbers and
// everything else as strings, so every id read from a number is written back
// as the same number.
func (id EntityID) MarshalJSON() ([]byte, error) {
	if isNumberLiteral(string(id)) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func isNumberLiteral(s string) bool {
	if s == "" {
		return false
	}
	if c := s[0]; c != '-' && (c < '0' || c > '9') {
		return false
	}
	if c := s[len(s)-1]; c < '0' || c > '9' {
		return false
	}
	return json.Valid([]byte(s))
}

// Entity is a canonical referent produced by the merging stage. It is
// read-only for link prediction.
type Entity struct {
	EntityID    EntityID `json:"entity_id" validate:"required"`
	MentionText string   `json:"mention_text,omitempty"`
	EntityText  string   `json:"entity_text,omitempty"`
	EntityType  string   `json:"entity_type,omitempty"`
}

// Text returns the display text of the entity.
func (e Entity) Text() string {
	if e.MentionText != "" {
		return e.MentionText
	}
	return e.EntityText
}

// HallucinatedEntity returns the sentinel used in place of an entity the
// oracle named but was never asked about.
func HallucinatedEntity() Entity {
	return Entity{
		EntityID:    HallucinationID,
		MentionText: string(HallucinationID),
	}
}

// Triplet is a (subject, predicate, object) statement extracted from a
// report. Triplets form the edge list of a report graph.
type Triplet struct {
	Subject   Entity `json:"subject"`
	Predicate string `json:"predicate"`
	Object    Entity `json:"object"`
}

// UnmarshalJSON accepts "relation" as an alias of "predicate".
func (t *Triplet) UnmarshalJSON(data []byte) error {
	var aux struct {
		Subject   Entity  `json:"subject"`
		Predicate *string `json:"predicate"`
		Relation  *string `json:"relation"`
		Object    Entity  `json:"object"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	t.Subject = aux.Subject
	t.Object = aux.Object
	t.Predicate = ""
	switch {
	case aux.Predicate != nil:
		t.Predicate = *aux.Predicate
	case aux.Relation != nil:
		t.Predicate = *aux.Relation
	}
	return nil
}

// PredictedEdge is an edge inferred between a main node and the topic node.
type PredictedEdge struct {
	Subject  Entity `json:"subject"`
	Relation string `json:"relation"`
	Object   Entity `json:"object"`
}

// IsHallucination reports whether the edge carries the hallucination
// sentinel instead of resolved entities.
func (e PredictedEdge) IsHallucination() bool {
	return e.Subject.EntityID == HallucinationID || e.Object.EntityID == HallucinationID
}

// NodeRef is the short form of an entity used for the main node listing.
type NodeRef struct {
	EntityID   EntityID `json:"entity_id"`
	EntityText string   `json:"entity_text"`
}

// TokenCost pairs a token count with its price.
type TokenCost struct {
	Tokens int     `json:"tokens"`
	Cost   float64 `json:"cost"`
}

// Usage is the token and cost usage of one or more oracle calls.
type Usage struct {
	Input  TokenCost `json:"input"`
	Output TokenCost `json:"output"`
	Total  TokenCost `json:"total"`
}

// Add returns the pointwise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		Input:  TokenCost{Tokens: u.Input.Tokens + o.Input.Tokens, Cost: u.Input.Cost + o.Input.Cost},
		Output: TokenCost{Tokens: u.Output.Tokens + o.Output.Tokens, Cost: u.Output.Cost + o.Output.Cost},
		Total:  TokenCost{Tokens: u.Total.Tokens + o.Total.Tokens, Cost: u.Total.Cost + o.Total.Cost},
	}
}

// LinkPredictionResult is the "LP" section of an output record.
//
// It holds one predicted edge per main node (hallucinated ones included), the
// summed oracle response time in seconds, the model that answered, the summed
// usage, the topic node, the main nodes without the topic node and the
// connected components of the report graph.
type LinkPredictionResult struct {
	PredictedLinks []PredictedEdge `json:"predicted_links"`
	ResponseTime   float64         `json:"response_time"`
	Model          string          `json:"model"`
	Usage          Usage           `json:"usage"`
	TopicNode      *Entity         `json:"topic_node"`
	MainNodes      []NodeRef       `json:"main_nodes"`
	Subgraphs      [][]EntityID    `json:"subgraphs"`
	SubgraphNum    int             `json:"subgraph_num"`
}

// Hallucinations returns the number of predicted edges carrying the
// hallucination sentinel.
func (r *LinkPredictionResult) Hallucinations() int {
	n := 0
	for _, e := range r.PredictedLinks {
		if e.IsHallucination() {
			n++
		}
	}
	return n
}

// NormalizeText trims the whitespace an oracle tends to put around entity
// mentions.
func NormalizeText(s string) string {
	return strings.TrimSpace(s)
}
