package rendergraph

import (
	"context"
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-gles/engine/logger"
	"github.com/Carmen-Shannon/oxy-gles/engine/resource"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// State is the phase of the current frame.
type State uint8

const (
	// StateDeclaring accepts DeclarePass.
	StateDeclaring State = iota

	// StateCompiling holds a compiled schedule ready for Execute.
	StateCompiling

	// StateExecuting is set while passes run.
	StateExecuting

	// StateRetired marks an executed frame waiting for Retire.
	StateRetired
)

func (s State) String() string {
	switch s {
	case StateDeclaring:
		return "declaring"
	case StateCompiling:
		return "compiling"
	case StateExecuting:
		return "executing"
	case StateRetired:
		return "retired"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Stats counts frames over the graph's lifetime.
type Stats struct {
	Frames  uint64
	Dropped uint64

	// Passes and Batches describe the last executed frame.
	Passes  int
	Batches int
}

// graph is the implementation of the Graph interface.
type graph struct {
	manager  resource.Manager
	log      *zap.Logger
	parallel bool

	state   State
	passes  []Pass
	names   map[string]bool
	order   []int
	batches [][]int

	lastOrder []string
	stats     Stats
}

// Graph is the per-frame render graph. Passes are declared with their resource reads and
// writes, compiled into a dependency order and executed; the frame is then retired and the
// graph is empty again. All methods belong to the render thread.
type Graph interface {
	// DeclarePass registers a pass for the current frame.
	//
	// Parameters:
	//   - p: the pass
	//
	// Returns:
	//   - error: ErrWrongState outside Declaring, ErrInvalidPass for a bad pass
	DeclarePass(p Pass) error

	// Compile orders the declared passes so that writers run before readers, breaking ties
	// by declaration order. On a cycle the frame is dropped, the graph returns to Declaring
	// and LastOrder keeps the previous frame's order.
	//
	// Returns:
	//   - []string: the pass names in execution order
	//   - error: a *GraphCycleError, or ErrWrongState outside Declaring
	Compile() ([]string, error)

	// Execute runs the compiled passes. Each pass's transients are acquired before it runs
	// and released after, also when it fails or panics. The first failing pass drops the
	// rest of the frame. The graph is Retired afterwards either way.
	//
	// Parameters:
	//   - ctx: cancels the frame between batches
	//
	// Returns:
	//   - error: a *PassError, the context error, or ErrWrongState if not compiled
	Execute(ctx context.Context) error

	// Retire discards the frame and returns the graph to Declaring.
	Retire()

	// ExecuteFrame compiles, executes and retires the declared frame.
	//
	// Parameters:
	//   - ctx: cancels the frame between batches
	//
	// Returns:
	//   - error: the Compile or Execute error
	ExecuteFrame(ctx context.Context) error

	// State returns the current phase.
	State() State

	// LastOrder returns the pass order of the last successfully compiled frame.
	LastOrder() []string

	// Stats returns the frame counters.
	Stats() Stats
}

var _ Graph = &graph{}

// NewGraph creates an empty render graph acquiring transients from manager.
//
// Parameters:
//   - manager: the resource manager transients are acquired from
//   - options: variadic list of GraphBuilderOption functions
//
// Returns:
//   - Graph: the render graph, in Declaring
func NewGraph(manager resource.Manager, options ...GraphBuilderOption) Graph {
	g := &graph{
		manager: manager,
		log:     logger.Named("rendergraph"),
		names:   make(map[string]bool),
	}
	for _, opt := range options {
		opt(g)
	}
	return g
}

func (g *graph) State() State {
	return g.state
}

func (g *graph) LastOrder() []string {
	return append([]string(nil), g.lastOrder...)
}

func (g *graph) Stats() Stats {
	return g.stats
}

func (g *graph) DeclarePass(p Pass) error {
	if g.state != StateDeclaring {
		return fmt.Errorf("declare %s while %s: %w", p.Name, g.state, ErrWrongState)
	}
	switch {
	case p.Name == "":
		return fmt.Errorf("pass has no name: %w", ErrInvalidPass)
	case p.Execute == nil:
		return fmt.Errorf("pass %s has no callback: %w", p.Name, ErrInvalidPass)
	case g.names[p.Name]:
		return fmt.Errorf("pass %s declared twice: %w", p.Name, ErrInvalidPass)
	}
	for _, t := range p.Transients {
		if t.Descriptor == nil {
			return fmt.Errorf("pass %s transient %s has no descriptor: %w", p.Name, t.ID, ErrInvalidPass)
		}
	}
	g.names[p.Name] = true
	g.passes = append(g.passes, p)
	return nil
}

func (g *graph) Compile() ([]string, error) {
	if g.state != StateDeclaring {
		return nil, fmt.Errorf("compile while %s: %w", g.state, ErrWrongState)
	}
	g.state = StateCompiling

	order, err := schedule(g.passes)
	if err != nil {
		g.log.Warn("frame dropped", zap.Error(err))
		g.stats.Dropped++
		g.Retire()
		return nil, err
	}

	g.order = order
	g.batches = batch(g.passes, order, g.parallel)
	names := make([]string, len(order))
	for i, idx := range order {
		names[i] = g.passes[idx].Name
	}
	g.lastOrder = names
	return append([]string(nil), names...), nil
}

func (g *graph) Execute(ctx context.Context) error {
	if g.state != StateCompiling {
		return fmt.Errorf("execute while %s: %w", g.state, ErrWrongState)
	}
	g.state = StateExecuting
	defer func() { g.state = StateRetired }()

	g.stats.Passes = len(g.order)
	g.stats.Batches = len(g.batches)
	for _, b := range g.batches {
		if err := ctx.Err(); err != nil {
			g.stats.Dropped++
			return err
		}
		if err := g.runBatch(ctx, b); err != nil {
			g.log.Warn("frame dropped", zap.Error(err))
			g.stats.Dropped++
			return err
		}
	}
	g.stats.Frames++
	return nil
}

func (g *graph) Retire() {
	g.passes = nil
	g.order = nil
	g.batches = nil
	clear(g.names)
	g.state = StateDeclaring
}

func (g *graph) ExecuteFrame(ctx context.Context) error {
	if _, err := g.Compile(); err != nil {
		return err
	}
	defer g.Retire()
	return g.Execute(ctx)
}

// runBatch acquires the transients of every pass in the batch, records the passes and
// submits their commands in schedule order. Transients are released when the batch ends.
func (g *graph) runBatch(ctx context.Context, b []int) (err error) {
	pcs := make([]*PassContext, len(b))
	defer func() {
		for _, pc := range pcs {
			if pc == nil {
				continue
			}
			if relErr := g.releaseTransients(pc); relErr != nil {
				err = errors.Join(err, relErr)
			}
		}
	}()

	for i, idx := range b {
		p := &g.passes[idx]
		pc, acqErr := g.acquireTransients(ctx, p)
		pcs[i] = pc
		if acqErr != nil {
			return &PassError{Pass: p.Name, Err: acqErr}
		}
	}

	if len(b) == 1 || !g.parallel {
		for i, idx := range b {
			if err := record(&g.passes[idx], pcs[i]); err != nil {
				return err
			}
		}
	} else {
		eg, egCtx := errgroup.WithContext(ctx)
		for i, idx := range b {
			pcs[i].ctx = egCtx
			eg.Go(func() error {
				return record(&g.passes[idx], pcs[i])
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}
	}

	for i, idx := range b {
		if err := pcs[i].Commands.submit(); err != nil {
			return &PassError{Pass: g.passes[idx].Name, Err: err}
		}
	}
	return nil
}

// record runs a pass callback, turning a panic into a *PassError.
func record(p *Pass, pc *PassContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PassError{Pass: p.Name, Err: fmt.Errorf("%w: %v", ErrPassPanicked, r)}
		}
	}()
	if err := p.Execute(pc); err != nil {
		return &PassError{Pass: p.Name, Err: err}
	}
	return nil
}

// acquireTransients returns the pass context with every transient acquired. On failure the
// returned context holds the transients acquired so far.
func (g *graph) acquireTransients(ctx context.Context, p *Pass) (*PassContext, error) {
	pc := &PassContext{
		ctx:        ctx,
		pass:       p.Name,
		manager:    g.manager,
		transients: make(map[ResourceID]resource.Handle, len(p.Transients)),
		Commands:   &CommandList{},
	}
	for _, t := range p.Transients {
		h, err := g.manager.Acquire(t.Descriptor)
		if err != nil {
			return pc, fmt.Errorf("transient %s: %w", t.ID, err)
		}
		pc.transients[t.ID] = h
	}
	return pc, nil
}

func (g *graph) releaseTransients(pc *PassContext) error {
	var errs []error
	for id, h := range pc.transients {
		if err := g.manager.Release(h); err != nil {
			errs = append(errs, fmt.Errorf("pass %s transient %s: %w", pc.pass, id, err))
		}
	}
	clear(pc.transients)
	return errors.Join(errs...)
}
