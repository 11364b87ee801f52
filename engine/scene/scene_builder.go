package scene

import (
	"go.uber.org/zap"
)

// GraphBuilderOption is a functional option for configuring a Graph.
// Use the With* functions to create options.
type GraphBuilderOption func(g *graph)

// WithName sets the graph's identifier.
//
// Parameters:
//   - name: the graph name
//
// Returns:
//   - GraphBuilderOption: option function to apply
func WithName(name string) GraphBuilderOption {
	return func(g *graph) {
		g.name = name
	}
}

// WithActive sets whether the graph is active for rendering.
//
// Parameters:
//   - active: whether the graph is active
//
// Returns:
//   - GraphBuilderOption: option function to apply
func WithActive(active bool) GraphBuilderOption {
	return func(g *graph) {
		g.active = active
	}
}

// WithLogger replaces the graph's logger.
//
// Parameters:
//   - l: the logger to use
//
// Returns:
//   - GraphBuilderOption: option function to apply
func WithLogger(l *zap.Logger) GraphBuilderOption {
	return func(g *graph) {
		if l != nil {
			g.log = l
		}
	}
}
