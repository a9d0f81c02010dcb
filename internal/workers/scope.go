package workers

import "context"

// Scope identifies who and what a worker invocation runs for.
type Scope struct {
	RunID     string
	SessionID string
	UserID    string
	StepID    string
	// Task is the step's own instruction, without injected context.
	Task string
}

type scopeKey struct{}

// WithScope attaches s to ctx.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFromContext returns the scope attached to ctx, or the zero Scope.
func ScopeFromContext(ctx context.Context) Scope {
	s, _ := ctx.Value(scopeKey{}).(Scope)
	return s
}
