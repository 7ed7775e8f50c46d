package ai

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

func stripDuplicateLeadingBrace(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		rest := strings.TrimSpace(s[1:])
		if strings.HasPrefix(rest, "{") {
			return rest
		}
	}
	return s
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// GenerateSchema creates a JSON Schema from the given Go type.
// It uses reflection to inspect the type structure and generates
// a schema suitable for use with AI structured output.
func GenerateSchema(value any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	t := reflect.TypeOf(value)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	v := reflect.New(t).Interface()
	return reflector.Reflect(v)
}

// RepairJSON turns model output into valid JSON text. It accepts plain
// JSON, double-encoded JSON strings, fenced code blocks and malformed
// JSON that jsonrepair can fix.
//
// Example:
//
//	RepairJSON(`{"name": "test"}`)       // unchanged
//	RepairJSON(`"{\"name\": \"test\"}"`) // double-encoded
//	RepairJSON(`{name: 'test',}`)        // repaired
func RepairJSON(input string) (string, error) {
	input = stripCodeFence(input)

	if json.Valid([]byte(input)) {
		var asString string
		if err := json.Unmarshal([]byte(input), &asString); err != nil {
			return input, nil
		}
		input = stripCodeFence(asString)
		if json.Valid([]byte(input)) {
			return input, nil
		}
	}

	input = stripDuplicateLeadingBrace(input)
	repaired, err := jsonrepair.JSONRepair(input)
	if err != nil {
		return "", fmt.Errorf("json repair failed: %w (input: %s)", err, input)
	}
	if !json.Valid([]byte(repaired)) {
		return "", fmt.Errorf("invalid json after repair: input=%s repaired=%s", input, repaired)
	}

	return repaired, nil
}

// UnmarshalFlexible repairs the input with RepairJSON and unmarshals it into out.
func UnmarshalFlexible(input string, out any) error {
	repaired, err := RepairJSON(input)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("unmarshal failed after repair: input=%s repaired=%s: %w", input, repaired, err)
	}
	return nil
}
