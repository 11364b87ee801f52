package rendergraph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrWrongState is returned when an operation is called outside the state it belongs to.
	ErrWrongState = errors.New("render graph in wrong state")

	// ErrInvalidPass is returned by DeclarePass for a pass without a name or callback, or
	// with a name already declared this frame.
	ErrInvalidPass = errors.New("invalid pass")

	// ErrPassPanicked wraps a panic recovered from a pass callback.
	ErrPassPanicked = errors.New("pass panicked")
)

// GraphCycleError reports passes whose declared dependencies form a cycle. The frame is
// dropped and the graph returns to Declaring.
type GraphCycleError struct {
	// Passes are the passes left unscheduled, in declaration order.
	Passes []string
}

func (e *GraphCycleError) Error() string {
	return fmt.Sprintf("render graph cycle between passes %s", strings.Join(e.Passes, ", "))
}

// PassError is the failure of one pass. The rest of the frame is dropped.
type PassError struct {
	Pass string
	Err  error
}

func (e *PassError) Error() string {
	return fmt.Sprintf("pass %s: %v", e.Pass, e.Err)
}

func (e *PassError) Unwrap() error {
	return e.Err
}
