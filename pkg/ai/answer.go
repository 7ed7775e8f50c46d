package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/ctilinker/pkg/common"
)

// LinkAnswer is the structured output requested from the model.
type LinkAnswer struct {
	PredictedTriple common.PredictedTriple `json:"predicted_triple" jsonschema_description:"The relation between the two entities"`
}

type rawField struct {
	key   string
	value json.RawMessage
}

// ParseAnswer converts raw model output into an answer. A predicted_triple
// object carrying subject, relation and object becomes a PredictedTriple.
// Anything else becomes RawFields in declaration order, taken from the
// predicted_triple object, from a single wrapping object, or from the top
// level, in that order of preference. An error is only returned when the
// output is not JSON at all, even after repair.
func ParseAnswer(raw string) (common.Answer, error) {
	repaired, err := RepairJSON(raw)
	if err != nil {
		return nil, err
	}
	data := []byte(repaired)

	top, ok, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	if !ok {
		return scalarFields(data)
	}

	if v, found := lookup(top, "predicted_triple"); found {
		if inner, isObj, err := decodeObject(v); err == nil && isObj {
			return answerOf(inner), nil
		}
	}

	if len(top) == 1 {
		if inner, isObj, err := decodeObject(top[0].value); err == nil && isObj {
			return answerOf(inner), nil
		}
	}

	return answerOf(top), nil
}

func answerOf(fields []rawField) common.Answer {
	subject, hasSubject := lookup(fields, "subject")
	relation, hasRelation := lookup(fields, "relation")
	object, hasObject := lookup(fields, "object")
	if hasSubject && hasRelation && hasObject {
		return common.PredictedTriple{
			Subject:  render(subject),
			Relation: render(relation),
			Object:   render(object),
		}
	}

	out := make(common.RawFields, 0, len(fields))
	for _, f := range fields {
		out = append(out, common.Field{Key: f.key, Value: render(f.value)})
	}
	return out
}

// scalarFields handles answers that are a bare array or scalar.
func scalarFields(data []byte) (common.Answer, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return common.RawFields{{Key: "0", Value: render(data)}}, nil
	}
	out := make(common.RawFields, 0, len(items))
	for i, item := range items {
		out = append(out, common.Field{Key: fmt.Sprint(i), Value: render(item)})
	}
	return out, nil
}

func lookup(fields []rawField, key string) (json.RawMessage, bool) {
	for _, f := range fields {
		if f.key == key {
			return f.value, true
		}
	}
	return nil, false
}

// render returns strings unquoted and any other value as its JSON text.
func render(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(v))
}

// decodeObject reads a JSON object keeping the key order. ok is false when
// data holds valid JSON that is not an object.
func decodeObject(data []byte) (fields []rawField, ok bool, err error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, false, fmt.Errorf("read answer: %w", err)
	}
	if delim, isDelim := tok.(json.Delim); !isDelim || delim != '{' {
		return nil, false, nil
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, false, fmt.Errorf("read answer key: %w", err)
		}
		key, _ := keyTok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, false, fmt.Errorf("read answer value %q: %w", key, err)
		}
		fields = append(fields, rawField{key: key, value: value})
	}

	return fields, true, nil
}
