package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Func is a tool body. It receives arguments that already passed schema
// validation with defaults applied.
type Func[In any] func(ctx context.Context, inv *Invocation, in In) (any, error)

// Tool is one named, schema-validated operation.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema

	resolved *jsonschema.Resolved
	call     func(ctx context.Context, inv *Invocation, args json.RawMessage) (any, error)
}

// SchemaOption adjusts a schema derived from a Go input type.
type SchemaOption func(*jsonschema.Schema) error

// WithDefault sets the default value of a top-level property.
func WithDefault(property string, value any) SchemaOption {
	return func(s *jsonschema.Schema) error {
		p, err := lookupProperty(s, property)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal default for %q: %w", property, err)
		}
		p.Default = raw
		return nil
	}
}

// WithNullable allows JSON null for a top-level string property.
func WithNullable(property string) SchemaOption {
	return func(s *jsonschema.Schema) error {
		p, err := lookupProperty(s, property)
		if err != nil {
			return err
		}
		p.Type = ""
		p.Types = []string{"null", "string"}
		return nil
	}
}

func lookupProperty(s *jsonschema.Schema, name string) (*jsonschema.Schema, error) {
	p, ok := s.Properties[name]
	if !ok {
		return nil, fmt.Errorf("schema has no property %q", name)
	}
	return p, nil
}

// NewTool builds a Tool whose schema is inferred from In. Fields without
// omitempty are required; jsonschema struct tags become descriptions.
// Unknown argument keys are tolerated.
func NewTool[In any](name, description string, fn Func[In], opts ...SchemaOption) (*Tool, error) {
	schema, err := jsonschema.For[In](nil)
	if err != nil {
		return nil, fmt.Errorf("tool %s: infer schema: %w", name, err)
	}
	schema.AdditionalProperties = nil

	for _, opt := range opts {
		if err := opt(schema); err != nil {
			return nil, fmt.Errorf("tool %s: %w", name, err)
		}
	}

	resolved, err := schema.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
	if err != nil {
		return nil, fmt.Errorf("tool %s: resolve schema: %w", name, err)
	}

	return &Tool{
		Name:        name,
		Description: description,
		InputSchema: schema,
		resolved:    resolved,
		call: func(ctx context.Context, inv *Invocation, args json.RawMessage) (any, error) {
			var in In
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, &Error{Code: CodeInvalidParams, Message: err.Error(), Err: err}
			}
			return fn(ctx, inv, in)
		},
	}, nil
}

// validate checks raw arguments against the schema and returns them
// re-encoded with defaults filled in.
func (t *Tool) validate(raw json.RawMessage) (json.RawMessage, map[string]any, error) {
	args := make(map[string]any)
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, nil, fmt.Errorf("arguments must be a JSON object: %w", err)
		}
	}
	if err := t.resolved.ApplyDefaults(&args); err != nil {
		return nil, nil, err
	}
	if err := t.resolved.Validate(&args); err != nil {
		return nil, nil, err
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, nil, err
	}
	return data, args, nil
}
