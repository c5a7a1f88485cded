package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidateAndCoerce validates model-supplied arguments against the tool's
// declared JSON Schema and returns the (possibly coerced) arguments or a
// descriptive error.
//
// Models routinely quote numbers and booleans, so a first strict pass is
// followed by one coercion pass over top-level properties:
//   - "5" → 5 when the schema expects number/integer
//   - 42 → "42" when the schema expects string
//   - "true"/"false" → bool when the schema expects boolean
//
// A schema that fails to compile is treated as absent (fail open): bad
// manifests must not brick every call to the tool.
func ValidateAndCoerce(t Tool, args map[string]any) (map[string]any, error) {
	raw := t.Definition().Parameters
	if len(raw) == 0 {
		return args, nil
	}

	schema, err := compileSchema(raw)
	if err != nil {
		return args, nil
	}

	if validateMap(schema, args) == nil {
		return args, nil
	}

	coerced := coerceArgs(args, raw)
	if err := validateMap(schema, coerced); err != nil {
		return nil, validationError(t.Definition().Name, args, err)
	}
	return coerced, nil
}

// compileSchema compiles raw schema bytes with a fresh compiler each call to
// avoid resource-collision errors across tools.
func compileSchema(raw []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	const url = "mem://tool/schema"
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(url)
}

func validateMap(schema *jsonschema.Schema, args map[string]any) error {
	b, err := json.Marshal(args)
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return err
	}
	return schema.Validate(inst)
}

func coerceArgs(args map[string]any, raw []byte) map[string]any {
	var def struct {
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
	}
	_ = json.Unmarshal(raw, &def)

	out := make(map[string]any, len(args))
	for k, v := range args {
		prop, ok := def.Properties[k]
		if !ok {
			out[k] = v
			continue
		}
		out[k] = coerceValue(v, prop.Type)
	}
	return out
}

func coerceValue(v any, want string) any {
	switch want {
	case "number", "integer":
		if s, ok := v.(string); ok {
			var n float64
			if err := json.Unmarshal([]byte(s), &n); err == nil {
				if want == "integer" {
					return int64(n)
				}
				return n
			}
		}
	case "string":
		switch n := v.(type) {
		case float64:
			return fmt.Sprintf("%g", n)
		case int64:
			return fmt.Sprintf("%d", n)
		case json.Number:
			return n.String()
		}
	case "boolean":
		if s, ok := v.(string); ok {
			switch strings.ToLower(s) {
			case "true":
				return true
			case "false":
				return false
			}
		}
	}
	return v
}

func validationError(toolName string, args map[string]any, err error) error {
	argsJSON, _ := json.MarshalIndent(args, "", "  ")
	return fmt.Errorf("tool %q argument validation failed:\n%v\n\nReceived:\n%s",
		toolName, err, argsJSON)
}
