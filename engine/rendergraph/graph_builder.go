package rendergraph

import (
	"go.uber.org/zap"
)

// GraphBuilderOption is a functional option for configuring a Graph.
// Use the With* functions to create options.
type GraphBuilderOption func(g *graph)

// WithParallelRecording lets consecutive passes with disjoint read and write sets record
// their commands concurrently. Submission stays serialized in schedule order. Off by default.
//
// Parameters:
//   - enabled: whether to record disjoint passes concurrently
//
// Returns:
//   - GraphBuilderOption: option function to apply
func WithParallelRecording(enabled bool) GraphBuilderOption {
	return func(g *graph) {
		g.parallel = enabled
	}
}

// WithLogger sets the graph's logger.
//
// Parameters:
//   - l: the logger, nil keeps the default
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
