package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"toolmesh/internal/domain"
	"toolmesh/internal/infra/schema"
)

// Wrapper is the local stand-in for one remote operation. It holds no
// results; every Call is a fresh round trip through the invoker.
type Wrapper struct {
	endpoint   string
	descriptor domain.OperationDescriptor
	validator  *schema.Validator
	invoker    *Invoker
}

func newWrapper(endpoint string, desc domain.OperationDescriptor, validator *schema.Validator, invoker *Invoker) *Wrapper {
	return &Wrapper{
		endpoint:   endpoint,
		descriptor: desc,
		validator:  validator,
		invoker:    invoker,
	}
}

func (w *Wrapper) Name() string {
	return w.descriptor.Name
}

func (w *Wrapper) Endpoint() string {
	return w.endpoint
}

// Description falls back to a generic line when the remote gave none.
func (w *Wrapper) Description() string {
	if desc := strings.TrimSpace(w.descriptor.Description); desc != "" {
		return desc
	}
	return fmt.Sprintf("execute `%s` remotely", w.descriptor.Name)
}

func (w *Wrapper) Descriptor() domain.OperationDescriptor {
	return w.descriptor
}

// Parameters returns the JSON object schema of the accepted arguments.
func (w *Wrapper) Parameters() map[string]any {
	if raw := w.descriptor.InputSchema.Raw; len(raw) > 0 {
		var params map[string]any
		if err := json.Unmarshal(raw, &params); err == nil && params != nil {
			if _, ok := params["properties"]; !ok {
				params["properties"] = map[string]any{}
			}
			if _, ok := params["required"]; !ok {
				params["required"] = []any{}
			}
			return params
		}
	}
	props := make(map[string]any, len(w.descriptor.InputSchema.Properties))
	for name, prop := range w.descriptor.InputSchema.Properties {
		entry := map[string]any{}
		if prop.Type != "" {
			entry["type"] = prop.Type
		}
		if prop.Description != "" {
			entry["description"] = prop.Description
		}
		if len(prop.Enum) > 0 {
			entry["enum"] = prop.Enum
		}
		props[name] = entry
	}
	required := make([]any, 0, len(w.descriptor.InputSchema.Required))
	for _, name := range w.descriptor.InputSchema.Required {
		required = append(required, name)
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func (w *Wrapper) Required() []string {
	return append([]string(nil), w.descriptor.InputSchema.Required...)
}

func (w *Wrapper) Optional() []string {
	return schema.Optional(w.descriptor.InputSchema)
}

// Validate checks args against the operation schema without any network I/O.
func (w *Wrapper) Validate(args map[string]any) error {
	return w.validator.Validate(w.op(), args)
}

// Call validates args and performs the remote operation tagged with conversationID.
func (w *Wrapper) Call(ctx context.Context, conversationID string, args map[string]any) (any, error) {
	return w.invoker.Invoke(ctx, w, conversationID, args)
}

func (w *Wrapper) op() string {
	return w.endpoint + "." + w.descriptor.Name
}
