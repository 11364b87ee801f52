package resource

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-gles/engine/gpu"
)

// Kind is the class of GPU object a record owns.
type Kind = gpu.ObjectKind

const (
	KindBuffer      = gpu.ObjectBuffer
	KindTexture     = gpu.ObjectTexture
	KindSampler     = gpu.ObjectSampler
	KindProgram     = gpu.ObjectProgram
	KindFramebuffer = gpu.ObjectFramebuffer
)

// Handle is a stable, generation-checked reference to a record in a Manager. Handles are
// plain values and may be copied freely; the zero Handle is never valid.
type Handle struct {
	index      uint32
	generation uint32
	kind       Kind
}

// IsZero reports whether the handle is the zero value.
func (h Handle) IsZero() bool {
	return h.generation == 0
}

// Kind returns the kind of object the handle refers to.
func (h Handle) Kind() Kind {
	return h.kind
}

// Generation returns the generation the handle was issued for.
func (h Handle) Generation() uint32 {
	return h.generation
}

func (h Handle) String() string {
	if h.IsZero() {
		return "handle(nil)"
	}
	return fmt.Sprintf("%s#%d@%d", h.kind, h.index, h.generation)
}

// Remap is the old to new handle table produced by RebuildAll.
type Remap map[Handle]Handle

// Apply returns the replacement for h, or h itself if it was not rebuilt.
func (r Remap) Apply(h Handle) Handle {
	if n, ok := r[h]; ok {
		return n
	}
	return h
}
