package gpu

import (
	"errors"
	"fmt"
)

var (
	// ErrContextLost is returned by object creation and readback while the GL ES context is gone.
	ErrContextLost = errors.New("gpu context lost")

	// ErrContextCreation reports that no GL ES context could be created; it is fatal to the process.
	ErrContextCreation = errors.New("gpu context creation failed")

	// ErrUnknownObject is returned when an identifier does not name a live object of the requested kind.
	ErrUnknownObject = errors.New("unknown gpu object")

	// ErrOutOfMemory is returned when the driver cannot allocate an object.
	ErrOutOfMemory = errors.New("gpu out of memory")
)

// CompileFailure carries the driver's info log for a rejected shader stage or link step.
type CompileFailure struct {
	Stage Stage
	Log   string
}

func (e *CompileFailure) Error() string {
	return fmt.Sprintf("%s shader failed: %s", e.Stage, e.Log)
}
