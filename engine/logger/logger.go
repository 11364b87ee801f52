// Package logger holds the engine-wide zap logger. Library packages log through
// Named loggers derived from Log; the host decides verbosity by calling Init.
// Until Init is called Log is a no-op logger so embedding applications stay quiet.
package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu sync.RWMutex

	// Log is the root engine logger.
	Log = zap.NewNop()
)

// Init replaces the root logger with a production or development zap logger at the given level.
//
// Parameters:
//   - level: one of debug, info, warn, error
//   - development: true for the human-readable console encoder
//
// Returns:
//   - error: error if the level is unknown or the logger cannot be built
func Init(level string, development bool) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	Set(l)
	return nil
}

// Set installs l as the root logger. A nil logger resets to a no-op logger.
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	Log = l
	mu.Unlock()
}

// Named returns a child of the current root logger tagged with the component name.
func Named(component string) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return Log.Named(component)
}

// Sync flushes any buffered log entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = Log.Sync()
}
