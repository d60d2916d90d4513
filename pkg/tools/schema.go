package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// Schema reflects the argument struct v into the schema subset accepted by
// function declarations: inline definitions, upper-case type names and no
// meta keys.
func Schema(v any) map[string]any {
	r := jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	s := r.Reflect(v)

	data, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("tools: marshal schema: %v", err))
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		panic(fmt.Sprintf("tools: unmarshal schema: %v", err))
	}
	return sanitize(m)
}

var droppedKeys = []string{"$schema", "$id", "$ref", "$defs", "additionalProperties", "title", "default"}

func sanitize(m map[string]any) map[string]any {
	for _, k := range droppedKeys {
		delete(m, k)
	}
	if t, ok := m["type"].(string); ok {
		m["type"] = strings.ToUpper(t)
	}
	if props, ok := m["properties"].(map[string]any); ok {
		for k, v := range props {
			if pm, ok := v.(map[string]any); ok {
				props[k] = sanitize(pm)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		m["items"] = sanitize(items)
	}
	return m
}

// decodeArgs converts loosely typed call arguments into the struct dst.
func decodeArgs(args map[string]any, dst any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return nil
}
