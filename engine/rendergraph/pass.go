package rendergraph

import (
	"context"

	"github.com/Carmen-Shannon/oxy-gles/engine/resource"
)

// ResourceID names a resource passes depend on. Dependencies are tracked by ID only, so two
// passes share a dependency exactly when they use the same ID.
type ResourceID string

// Named returns the ID of a logical resource such as "gbuffer" or "backbuffer".
func Named(name string) ResourceID {
	return ResourceID(name)
}

// HandleID returns the ID of a resource held by the resource manager.
func HandleID(h resource.Handle) ResourceID {
	return ResourceID("handle:" + h.String())
}

// Transient is a resource a pass needs only while it runs. It is acquired from the manager
// before the pass executes and released when the pass returns, errors or panics.
type Transient struct {
	ID         ResourceID
	Descriptor resource.Descriptor
}

// Pass is one unit of frame work. A pass lives for a single frame.
type Pass struct {
	Name   string
	Reads  []ResourceID
	Writes []ResourceID

	// Transients are acquired before Execute and released after. A transient ID also
	// counts as a write of the pass.
	Transients []Transient

	// Execute records the pass's work into ctx.Commands. With parallel recording enabled
	// it may run concurrently with other passes of its batch and must not mutate shared
	// state; the recorded commands are always submitted on the calling goroutine in
	// scheduled order.
	Execute func(ctx *PassContext) error
}

// writeSet returns the pass's writes including its transients.
func (p *Pass) writeSet() []ResourceID {
	out := make([]ResourceID, 0, len(p.Writes)+len(p.Transients))
	out = append(out, p.Writes...)
	for _, t := range p.Transients {
		out = append(out, t.ID)
	}
	return out
}

// PassContext is handed to a pass's Execute callback.
type PassContext struct {
	ctx        context.Context
	pass       string
	manager    resource.Manager
	transients map[ResourceID]resource.Handle

	// Commands receives the pass's recorded work.
	Commands *CommandList
}

// Context returns the frame's context.
func (pc *PassContext) Context() context.Context {
	return pc.ctx
}

// Pass returns the name of the executing pass.
func (pc *PassContext) Pass() string {
	return pc.pass
}

// Manager returns the resource manager transients are acquired from.
func (pc *PassContext) Manager() resource.Manager {
	return pc.manager
}

// Transient returns the handle acquired for one of the pass's transients.
func (pc *PassContext) Transient(id ResourceID) (resource.Handle, bool) {
	h, ok := pc.transients[id]
	return h, ok
}

// CommandList is an ordered list of recorded GPU work.
type CommandList struct {
	cmds []func() error
}

// Record appends fn to the list.
func (l *CommandList) Record(fn func() error) {
	l.cmds = append(l.cmds, fn)
}

// Len returns the number of recorded commands.
func (l *CommandList) Len() int {
	return len(l.cmds)
}

// submit runs the commands in order and stops at the first error.
func (l *CommandList) submit() error {
	for _, fn := range l.cmds {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}
