package models

import (
	"encoding/json"
	"fmt"
)

// ToMap renders a model through its JSON shape so it can travel as event data
// or a protobuf Struct.
func ToMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal %T: %w", v, err)
	}
	return out, nil
}

// MustMap is ToMap with encoding failures reported inside the returned map.
func MustMap(v any) map[string]any {
	out, err := ToMap(v)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	return out
}

// FromMap decodes a JSON-like map into out.
func FromMap(in map[string]any, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal map: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode into %T: %w", out, err)
	}
	return nil
}
