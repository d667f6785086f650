package ai

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

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

// UnmarshalFlexible attempts to unmarshal JSON into the target with multiple
// fallback strategies: standard unmarshaling first, then double-encoded JSON
// strings, then a repair pass for malformed output.
//
// Model-generated JSON is occasionally wrapped, truncated, or missing quotes;
// this keeps a single bad record from failing an otherwise usable batch.
func UnmarshalFlexible(input string, out any) error {
	input = strings.TrimSpace(input)

	if err := json.Unmarshal([]byte(input), out); err == nil {
		return nil
	}

	var wrapped string
	if err := json.Unmarshal([]byte(input), &wrapped); err == nil {
		if err := json.Unmarshal([]byte(wrapped), out); err == nil {
			return nil
		}
	}

	repaired, err := jsonrepair.JSONRepair(input)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(repaired), out)
}
