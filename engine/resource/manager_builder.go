package resource

import (
	"go.uber.org/zap"
)

// ManagerBuilderOption is a function that configures a manager instance during construction.
type ManagerBuilderOption func(*manager)

// WithLogger is an option builder that replaces the manager's logger.
//
// Parameters:
//   - l: the logger to use
//
// Returns:
//   - ManagerBuilderOption: a function that applies the logger option to a manager
func WithLogger(l *zap.Logger) ManagerBuilderOption {
	return func(m *manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithSearchPaths is an option builder that seeds the asset search paths.
//
// Parameters:
//   - dirs: directories searched in order by LocateFile
//
// Returns:
//   - ManagerBuilderOption: a function that applies the search path option to a manager
func WithSearchPaths(dirs ...string) ManagerBuilderOption {
	return func(m *manager) {
		for _, d := range dirs {
			m.AddSearchPath(d)
		}
	}
}
