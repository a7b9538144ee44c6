package observability

import "context"

// Checker reports the health of one dependency for the readiness probe.
// Implementations must respect the context deadline.
type Checker interface {
	// Name identifies the component in the probe response (e.g., "redis").
	Name() string
	// Check returns nil when the component is healthy.
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function into a named Checker.
type CheckerFunc struct {
	Component string
	Fn        func(ctx context.Context) error
}

// Name returns the component name.
func (c CheckerFunc) Name() string { return c.Component }

// Check calls Fn.
func (c CheckerFunc) Check(ctx context.Context) error { return c.Fn(ctx) }
