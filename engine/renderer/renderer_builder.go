package renderer

import (
	"go.uber.org/zap"
)

// RendererBuilderOption is a functional option applied to a renderer during construction via NewRenderer.
type RendererBuilderOption func(*renderer)

// WithLogger replaces the renderer's logger.
//
// Parameters:
//   - l: the logger to use
//
// Returns:
//   - RendererBuilderOption: a function that applies the logger option to a renderer
func WithLogger(l *zap.Logger) RendererBuilderOption {
	return func(r *renderer) {
		if l != nil {
			r.log = l
		}
	}
}

// WithCulling toggles frustum culling in scene passes. Culling is on by default.
//
// Parameters:
//   - enabled: true to cull draw items against the view frustum
//
// Returns:
//   - RendererBuilderOption: a function that applies the culling option to a renderer
func WithCulling(enabled bool) RendererBuilderOption {
	return func(r *renderer) {
		r.culling = enabled
	}
}
