// Package schema reads operation input schemas and validates call arguments against them.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"toolmesh/internal/domain"
)

type rawObjectSchema struct {
	Type       any                        `json:"type,omitempty"`
	Properties map[string]json.RawMessage `json:"properties,omitempty"`
	Required   []string                   `json:"required,omitempty"`
}

type rawPropertySchema struct {
	Type        any               `json:"type,omitempty"`
	Description string            `json:"description,omitempty"`
	Title       string            `json:"title,omitempty"`
	Enum        []any             `json:"enum,omitempty"`
	Default     json.RawMessage   `json:"default,omitempty"`
	AnyOf       []json.RawMessage `json:"anyOf,omitempty"`
	OneOf       []json.RawMessage `json:"oneOf,omitempty"`
}

// Parse reads an advertised input schema. value may be raw JSON, a decoded
// map, or any JSON-marshalable schema value. A nil schema yields an empty object schema.
func Parse(value any) (domain.InputSchema, error) {
	raw, err := toJSON(value)
	if err != nil {
		return domain.InputSchema{}, err
	}
	if len(raw) == 0 {
		return domain.InputSchema{Raw: json.RawMessage(`{"type":"object"}`)}, nil
	}

	var obj rawObjectSchema
	if err := json.Unmarshal(raw, &obj); err != nil {
		return domain.InputSchema{}, fmt.Errorf("decode input schema: %w", err)
	}
	if t := typeName(obj.Type); t != "" && t != "object" {
		return domain.InputSchema{}, fmt.Errorf("input schema type must be object, got %q", t)
	}

	props := make(map[string]domain.PropertySchema, len(obj.Properties))
	for name, rawProp := range obj.Properties {
		prop, err := parseProperty(rawProp)
		if err != nil {
			return domain.InputSchema{}, fmt.Errorf("property %q: %w", name, err)
		}
		props[name] = prop
	}

	required := make([]string, 0, len(obj.Required))
	seen := make(map[string]struct{}, len(obj.Required))
	for _, name := range obj.Required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		required = append(required, name)
	}

	return domain.InputSchema{
		Properties: props,
		Required:   required,
		Raw:        raw,
	}, nil
}

func parseProperty(raw json.RawMessage) (domain.PropertySchema, error) {
	var prop rawPropertySchema
	if err := json.Unmarshal(raw, &prop); err != nil {
		return domain.PropertySchema{}, err
	}
	out := domain.PropertySchema{
		Type:        typeName(prop.Type),
		Description: prop.Description,
		Enum:        prop.Enum,
		Default:     prop.Default,
	}
	if out.Description == "" {
		out.Description = prop.Title
	}
	if out.Type == "" {
		out.Type = unionType(prop.AnyOf)
	}
	if out.Type == "" {
		out.Type = unionType(prop.OneOf)
	}
	return out, nil
}

// unionType picks the first non-null type of an optional-style union.
func unionType(variants []json.RawMessage) string {
	for _, variant := range variants {
		var v rawPropertySchema
		if err := json.Unmarshal(variant, &v); err != nil {
			continue
		}
		if t := typeName(v.Type); t != "" {
			return t
		}
	}
	return ""
}

func typeName(value any) string {
	switch typed := value.(type) {
	case string:
		if typed == "null" {
			return ""
		}
		return typed
	case []any:
		for _, item := range typed {
			if s, ok := item.(string); ok && s != "null" {
				return s
			}
		}
	}
	return ""
}

// Optional returns the property names that are not required, sorted.
func Optional(input domain.InputSchema) []string {
	required := make(map[string]struct{}, len(input.Required))
	for _, name := range input.Required {
		required[name] = struct{}{}
	}
	out := make([]string, 0, len(input.Properties))
	for name := range input.Properties {
		if _, ok := required[name]; ok {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Validator checks call arguments locally before any connection is made.
type Validator struct {
	required []string
	resolved *jsonschema.Resolved
}

// Compile prepares a validator. Schemas the JSON Schema engine cannot resolve
// still get the required-argument check; the resolve error is returned
// alongside the usable validator.
func Compile(input domain.InputSchema) (*Validator, error) {
	v := &Validator{required: append([]string(nil), input.Required...)}
	if len(input.Raw) == 0 {
		return v, nil
	}
	var generic map[string]any
	if err := json.Unmarshal(input.Raw, &generic); err != nil {
		return v, fmt.Errorf("decode input schema: %w", err)
	}
	// Servers advertise a mix of drafts; validate with the engine's default dialect.
	delete(generic, "$schema")
	delete(generic, "$id")
	normalized, err := json.Marshal(generic)
	if err != nil {
		return v, err
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(normalized, &s); err != nil {
		return v, fmt.Errorf("parse input schema: %w", err)
	}
	resolved, err := s.Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return v, fmt.Errorf("resolve input schema: %w", err)
	}
	v.resolved = resolved
	return v, nil
}

// Validate reports missing required arguments first, then schema violations.
func (v *Validator) Validate(op string, args map[string]any) error {
	if v == nil {
		return nil
	}
	var missing []string
	for _, name := range v.required {
		if _, ok := args[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return domain.E(domain.CodeInvalidArgument, op,
			fmt.Sprintf("missing required argument(s): %s", strings.Join(missing, ", ")),
			domain.ErrValidation)
	}
	if v.resolved == nil {
		return nil
	}
	instance, err := normalize(args)
	if err != nil {
		return domain.E(domain.CodeInvalidArgument, op, "arguments are not valid JSON", err)
	}
	if err := v.resolved.Validate(instance); err != nil {
		return domain.E(domain.CodeInvalidArgument, op, err.Error(), domain.ErrValidation)
	}
	return nil
}

// normalize converts typed Go values into the generic JSON shapes the validator expects.
func normalize(args map[string]any) (map[string]any, error) {
	if args == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func toJSON(value any) (json.RawMessage, error) {
	switch typed := value.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return append(json.RawMessage(nil), typed...), nil
	case []byte:
		return append(json.RawMessage(nil), typed...), nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode input schema: %w", err)
	}
	if string(data) == "null" {
		return nil, nil
	}
	return data, nil
}
