package shader

import (
	"go.uber.org/zap"
)

// CacheBuilderOption is a function that configures a cache instance during construction.
type CacheBuilderOption func(*cache)

// WithInclude is an option builder that registers an in-memory #include file. Registered
// files take precedence over the embedded library and the search paths.
//
// Parameters:
//   - name: the name used in the #include directive
//   - source: the GLSL text of the file
//
// Returns:
//   - CacheBuilderOption: a function that registers the include on a cache
func WithInclude(name, source string) CacheBuilderOption {
	return func(c *cache) {
		c.includes[name] = source
	}
}

// WithLogger is an option builder that replaces the cache's logger.
//
// Parameters:
//   - l: the logger to use
//
// Returns:
//   - CacheBuilderOption: a function that applies the logger option to a cache
func WithLogger(l *zap.Logger) CacheBuilderOption {
	return func(c *cache) {
		if l != nil {
			c.log = l
		}
	}
}
