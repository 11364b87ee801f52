package resource

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-gles/engine/gpu"
)

var (
	// ErrStaleHandle is returned when a handle's generation no longer matches its record,
	// either because the record was destroyed or because it was rebuilt after context loss.
	ErrStaleHandle = errors.New("stale resource handle")

	// ErrInvalidResource is returned when resolving a record whose GPU object is gone,
	// between InvalidateAll and a successful RebuildAll. It matches gpu.ErrContextLost.
	ErrInvalidResource = fmt.Errorf("resource invalidated: %w", gpu.ErrContextLost)

	// ErrKindMismatch is returned when a handle is used where a different kind is expected.
	ErrKindMismatch = errors.New("resource kind mismatch")

	// ErrFileNotFound is returned by LocateFile when no search path holds the file.
	ErrFileNotFound = errors.New("file not found in search paths")
)
