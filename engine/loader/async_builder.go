package loader

import (
	"time"

	"go.uber.org/zap"
)

// AsyncBuilderOption is a functional option for configuring an AsyncImporter.
type AsyncBuilderOption func(*asyncImporter)

// WithWorkers sets the number of decode workers.
//
// Parameters:
//   - n: the worker count, values below 1 mean 1
//
// Returns:
//   - AsyncBuilderOption: option function to apply
func WithWorkers(n int) AsyncBuilderOption {
	return func(a *asyncImporter) {
		a.workers = max(n, 1)
	}
}

// WithQueueSize sets the capacity of the task and result queues.
//
// Parameters:
//   - n: the queue capacity, values below 1 mean 1
//
// Returns:
//   - AsyncBuilderOption: option function to apply
func WithQueueSize(n int) AsyncBuilderOption {
	return func(a *asyncImporter) {
		a.queueSize = max(n, 1)
	}
}

// WithIdleTimeout sets how long an idle worker waits for a task.
func WithIdleTimeout(d time.Duration) AsyncBuilderOption {
	return func(a *asyncImporter) {
		a.idleTimeout = d
	}
}

// WithAsyncLogger sets the async importer's logger.
func WithAsyncLogger(l *zap.Logger) AsyncBuilderOption {
	return func(a *asyncImporter) {
		if l != nil {
			a.log = l
		}
	}
}
