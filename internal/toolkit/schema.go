package toolkit

import (
	"encoding/json"
	"fmt"

	"github.com/codesage-ai/codesage/pkg/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// compileParamSchema builds and compiles a draft-07 JSON object schema
// from a tool's declared ToolParamSpec list ({name, type, required,
// default, description}), mirroring
// pkg/pluginsdk/validation.go's compileSchema/sync.Map caching approach
// but generated from that declared list rather than hand-authored JSON.
func compileParamSchema(name string, params []models.ToolParamSpec) (*jsonschema.Schema, error) {
	properties := make(map[string]any, len(params))
	var required []string
	for _, p := range params {
		properties[p.Name] = map[string]any{
			"type":        jsonSchemaType(p.Type),
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}

	raw := map[string]any{
		"$schema":    "http://json-schema.org/draft-07/schema#",
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		raw["required"] = required
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal schema for tool %q: %w", name, err)
	}

	compiled, err := jsonschema.CompileString(name+".schema.json", string(data))
	if err != nil {
		return nil, fmt.Errorf("compile schema for tool %q: %w", name, err)
	}
	return compiled, nil
}

func jsonSchemaType(specType string) string {
	switch specType {
	case "string", "number", "boolean", "object", "array":
		return specType
	case "int", "integer":
		return "integer"
	default:
		return "string"
	}
}

// dropUnknownKeys removes any key from params that isn't declared in
// the schema: extraneous keys are silently dropped rather than
// rejected.
func dropUnknownKeys(params map[string]any, specs []models.ToolParamSpec) map[string]any {
	declared := make(map[string]struct{}, len(specs))
	for _, p := range specs {
		declared[p.Name] = struct{}{}
	}
	cleaned := make(map[string]any, len(params))
	for k, v := range params {
		if _, ok := declared[k]; ok {
			cleaned[k] = v
		}
	}
	return cleaned
}
