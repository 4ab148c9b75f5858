package tools

import (
	"iter"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolharness/pkg/llms"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Registry is a set of tools keyed by name, in registration order.
// It is not safe for concurrent use.
type Registry struct {
	tools *orderedmap.OrderedMap[string, *Tool]
}

// NewEmptyRegistry returns a registry without tools.
func NewEmptyRegistry() *Registry {
	return &Registry{
		tools: orderedmap.New[string, *Tool](),
	}
}

// NewRegistry returns a registry with the given tools.
func NewRegistry(list ...*Tool) (*Registry, error) {
	r := NewEmptyRegistry()
	for _, t := range list {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds the tool.
// Names are unique: a second tool with the same name is rejected with ErrDuplicateTool.
func (r *Registry) Register(t *Tool) error {
	if t == nil {
		return errors.New("tool is nil")
	}
	if _, exists := r.tools.Get(t.Name()); exists {
		return errors.Wrapf(ErrDuplicateTool, "%q", t.Name())
	}
	r.tools.Set(t.Name(), t)
	return nil
}

// Lookup returns the tool by exact name, or ErrUnknownTool.
func (r *Registry) Lookup(name string) (*Tool, error) {
	if t, ok := r.tools.Get(name); ok {
		return t, nil
	}
	return nil, errors.Wrapf(ErrUnknownTool, "%q", name)
}

// All returns the registered tools in registration order.
func (r *Registry) All() iter.Seq[*Tool] {
	return func(yield func(*Tool) bool) {
		for pair := r.tools.Oldest(); pair != nil; pair = pair.Next() {
			if !yield(pair.Value) {
				return
			}
		}
	}
}

// Names returns the tool names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, 0, r.tools.Len())
	for t := range r.All() {
		names = append(names, t.Name())
	}
	return names
}

// Definitions returns the tool definitions to advertise to the model.
func (r *Registry) Definitions() []llms.Tool {
	if r.tools.Len() == 0 {
		return nil
	}
	defs := make([]llms.Tool, 0, r.tools.Len())
	for t := range r.All() {
		defs = append(defs, t.Definition())
	}
	return defs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return r.tools.Len()
}
