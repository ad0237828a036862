package job

import "context"

// Definition is a typed job definition. T is the params type and must be
// JSON-serializable.
type Definition[T any] struct {
	// Name is the handler name stored in the payload descriptor.
	Name string

	// Handler processes the decoded params.
	Handler func(ctx context.Context, params T) error

	// Opts are applied to every record enqueued for this definition.
	Opts Options
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](name string, handler func(ctx context.Context, params T) error, opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Name:    name,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}

// Options returns the definition's defaults as functional options, so
// they can be prepended to per-call overrides.
func (d *Definition[T]) Options() []Option {
	o := d.Opts
	return []Option{func(dst *Options) { *dst = o }}
}
