package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"reflect"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolharness/pkg/llms"
	"github.com/effective-security/toolharness/pkg/schema"
)

var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Arguments is the decoded JSON object a model supplied for a tool call.
type Arguments map[string]any

// Func is the tool implementation.
// It returns a string, or any value that can be serialized as JSON.
type Func func(ctx context.Context, args Arguments) (any, error)

// InputSchema is the JSON schema of the tool input, an object schema.
type InputSchema struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	Required   []string       `json:"required,omitempty"`
}

// Tool describes a capability the model may invoke.
type Tool struct {
	name        string
	description string
	schema      []byte
	validator   *schema.Validator
	fn          Func
}

// New returns a tool with the provided input schema.
func New(name, description string, input InputSchema, fn Func) (*Tool, error) {
	if input.Type == "" {
		input.Type = "object"
	}
	if input.Type != "object" {
		return nil, errors.Newf("tool %q: input schema must be an object, got %q", name, input.Type)
	}
	js, err := json.Marshal(input)
	if err != nil {
		return nil, errors.Wrapf(err, "tool %q: unable to encode input schema", name)
	}
	return newTool(name, description, js, fn)
}

// NewTyped returns a tool whose input schema is reflected from I.
// The call arguments are decoded into a new I before fn is called.
func NewTyped[I any](name, description string, fn func(ctx context.Context, input *I) (any, error)) (*Tool, error) {
	if fn == nil {
		return nil, errors.Newf("tool %q: implementation is required", name)
	}
	sc, err := schema.New(reflect.TypeOf((*I)(nil)).Elem())
	if err != nil {
		return nil, errors.WithMessagef(err, "tool %q", name)
	}

	return newTool(name, description, sc.JSON(), func(ctx context.Context, args Arguments) (any, error) {
		js, err := json.Marshal(args)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		input := new(I)
		if err = json.Unmarshal(js, input); err != nil {
			return nil, invalidArguments("%v", err)
		}
		return fn(ctx, input)
	})
}

func newTool(name, description string, schemaJSON []byte, fn Func) (*Tool, error) {
	if !nameRegex.MatchString(name) {
		return nil, errors.Newf("invalid tool name %q: must match %s", name, nameRegex.String())
	}
	if fn == nil {
		return nil, errors.Newf("tool %q: implementation is required", name)
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, schemaJSON); err != nil {
		return nil, errors.Wrapf(err, "tool %q: invalid input schema", name)
	}
	v, err := schema.Compile(buf.Bytes())
	if err != nil {
		return nil, errors.WithMessagef(err, "tool %q", name)
	}

	return &Tool{
		name:        name,
		description: strings.TrimSpace(description),
		schema:      buf.Bytes(),
		validator:   v,
		fn:          fn,
	}, nil
}

// Name returns the unique name of the tool.
func (t *Tool) Name() string {
	return t.name
}

// Description returns the description shown to the model.
func (t *Tool) Description() string {
	return t.description
}

// InputSchema returns a copy of the JSON schema of the tool input.
func (t *Tool) InputSchema() json.RawMessage {
	return bytes.Clone(t.schema)
}

// Definition returns the tool definition advertised to the model.
func (t *Tool) Definition() llms.Tool {
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        t.name,
			Description: t.description,
			Parameters:  t.InputSchema(),
		},
	}
}

// ParseArguments decodes the raw JSON arguments of a tool call.
// Empty arguments decode to an empty object.
func ParseArguments(raw string) (Arguments, error) {
	args := Arguments{}
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, invalidArguments("expected a JSON object")
	}
	return args, nil
}

// Validate validates the arguments against the input schema.
func (t *Tool) Validate(args Arguments) error {
	if args == nil {
		args = Arguments{}
	}
	// the validator switches on the plain map type
	if err := t.validator.Validate(map[string]any(args)); err != nil {
		return invalidArguments("%v", err)
	}
	return nil
}

// Call invokes the implementation.
// Panics are recovered and returned as errors.
func (t *Tool) Call(ctx context.Context, args Arguments) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic: %v", r)
		}
	}()
	return t.fn(ctx, args)
}
