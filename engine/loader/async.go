package loader

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-gles/engine/scene"
	"go.uber.org/zap"
)

// Ticket tracks one asynchronous import from Submit until it is settled by Drain or Close.
type Ticket struct {
	id        int
	name      string
	path      string
	cancelled atomic.Bool
	done      chan struct{}

	node *scene.Node
	err  error
}

// Name returns the asset name the ticket was submitted with.
func (t *Ticket) Name() string {
	return t.name
}

// Cancel discards the import. A result that arrives after Cancel is dropped without
// touching the resource manager. Cancel has no effect once the ticket is settled and may
// be called from any goroutine.
func (t *Ticket) Cancel() {
	t.cancelled.Store(true)
}

// Done is closed when the ticket is settled.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Settled reports whether the ticket has a result.
func (t *Ticket) Settled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Result returns the committed node, or the decode, commit or cancellation error. It is
// only meaningful once the ticket is settled.
func (t *Ticket) Result() (*scene.Node, error) {
	return t.node, t.err
}

func (t *Ticket) settle(node *scene.Node, err error) {
	t.node, t.err = node, err
	close(t.done)
}

// completion is a decoded result travelling from a worker to the render thread.
type completion struct {
	ticket *Ticket
	res    *ImportResult
	err    error
}

// asyncImporter is the implementation of the AsyncImporter interface.
type asyncImporter struct {
	importer Importer
	log      *zap.Logger
	pool     worker.DynamicWorkerPool

	workers     int
	queueSize   int
	idleTimeout time.Duration

	ctx           context.Context
	cancel        context.CancelFunc
	completed     chan completion
	results       *resultQueue
	collectorDone chan struct{}

	nextID      int
	outstanding map[*Ticket]struct{}
	closed      bool
}

// AsyncImporter decodes assets on a worker pool and commits them on the render thread.
// Workers only ever produce immutable ImportResults; the manager and the scene graph are
// touched exclusively by Drain. Submit, Drain, Pending and Close belong to the render thread.
type AsyncImporter interface {
	// Submit resolves an asset name against the search paths and queues it for decoding.
	// It never blocks: with a full queue of unsettled tickets it fails with ErrQueueFull.
	//
	// Parameters:
	//   - name: the asset name or path
	//
	// Returns:
	//   - *Ticket: the ticket tracking the import
	//   - error: ErrFileNotFound from the search paths, ErrQueueFull or ErrQueueClosed
	Submit(name string) (*Ticket, error)

	// Drain commits up to max decoded results, settling their tickets. Results of cancelled
	// tickets and failed decodes settle without touching the manager. A max of zero or less
	// drains everything ready.
	//
	// Parameters:
	//   - max: the maximum number of results to settle
	//
	// Returns:
	//   - []*Ticket: the tickets settled by this call, in completion order
	Drain(max int) []*Ticket

	// Pending returns the number of submitted tickets not yet settled.
	Pending() int

	// Close stops the workers and settles every outstanding ticket with ErrQueueClosed.
	Close()
}

var _ AsyncImporter = &asyncImporter{}

// NewAsyncImporter starts a worker pool decoding for imp.
//
// Parameters:
//   - imp: the importer decoding on workers and committing on Drain
//   - options: variadic list of AsyncBuilderOption functions
//
// Returns:
//   - AsyncImporter: the running async importer
func NewAsyncImporter(imp Importer, options ...AsyncBuilderOption) AsyncImporter {
	a := &asyncImporter{
		importer:    imp,
		log:         zap.NewNop(),
		workers:     2,
		queueSize:   64,
		idleTimeout: time.Second,
		outstanding: make(map[*Ticket]struct{}),
	}
	if l, ok := imp.(*importer); ok {
		a.log = l.log
	}
	for _, opt := range options {
		opt(a)
	}

	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.completed = make(chan completion, a.queueSize)
	a.results = newResultQueue(a.queueSize)
	a.collectorDone = make(chan struct{})
	a.pool = worker.NewDynamicWorkerPool(a.workers, a.queueSize, a.idleTimeout)
	a.pool.Start()
	go a.collect()
	return a
}

func (a *asyncImporter) Submit(name string) (*Ticket, error) {
	if a.closed {
		return nil, ErrQueueClosed
	}
	// every stage between Submit and Drain holds queueSize entries, so bounding the
	// unsettled tickets keeps workers and the collector from blocking on the render thread
	if len(a.outstanding) >= a.queueSize {
		return nil, fmt.Errorf("%s: %w", name, ErrQueueFull)
	}
	path, err := a.importer.Locate(name)
	if err != nil {
		return nil, err
	}

	a.nextID++
	t := &Ticket{id: a.nextID, name: name, path: path, done: make(chan struct{})}
	a.outstanding[t] = struct{}{}

	a.pool.SubmitTask(worker.Task{
		ID:      t.id,
		Payload: path,
		Do: func() (any, error) {
			c := completion{ticket: t}
			if t.cancelled.Load() {
				c.err = ErrCancelled
			} else {
				c.res, c.err = a.importer.DecodeFile(path)
			}
			select {
			case a.completed <- c:
			case <-a.ctx.Done():
			}
			return c.res, c.err
		},
	})
	a.log.Debug("import submitted", zap.Int("ticket", t.id), zap.String("path", path))
	return t, nil
}

// collect is the single producer of the result queue.
func (a *asyncImporter) collect() {
	defer close(a.collectorDone)
	for {
		select {
		case c := <-a.completed:
			if !a.results.push(a.ctx, c) {
				return
			}
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *asyncImporter) Drain(max int) []*Ticket {
	var settled []*Ticket
	for max <= 0 || len(settled) < max {
		c, ok := a.results.pop()
		if !ok {
			break
		}
		t := c.ticket
		if _, live := a.outstanding[t]; !live {
			continue
		}
		delete(a.outstanding, t)

		switch {
		case t.cancelled.Load():
			t.settle(nil, ErrCancelled)
		case c.err != nil:
			a.log.Warn("import failed", zap.String("asset", t.name), zap.Error(c.err))
			t.settle(nil, c.err)
		default:
			node, err := a.importer.Commit(c.res)
			if err != nil {
				a.log.Warn("import commit failed", zap.String("asset", t.name), zap.Error(err))
			}
			t.settle(node, err)
		}
		settled = append(settled, t)
	}
	return settled
}

func (a *asyncImporter) Pending() int {
	return len(a.outstanding)
}

func (a *asyncImporter) Close() {
	if a.closed {
		return
	}
	a.closed = true
	a.cancel()
	a.pool.ClearTaskQueue()
	a.pool.Stop()
	<-a.collectorDone

	for t := range a.outstanding {
		t.settle(nil, fmt.Errorf("%s: %w", t.name, ErrQueueClosed))
	}
	clear(a.outstanding)
}

// resultQueue is the bounded single-producer, single-consumer handoff between the
// collector goroutine and the render thread.
type resultQueue struct {
	ch chan completion
}

func newResultQueue(size int) *resultQueue {
	return &resultQueue{ch: make(chan completion, max(size, 1))}
}

// push blocks until there is room or ctx is done, and reports whether c was queued.
func (q *resultQueue) push(ctx context.Context, c completion) bool {
	select {
	case q.ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// pop returns the oldest result without blocking.
func (q *resultQueue) pop() (completion, bool) {
	select {
	case c := <-q.ch:
		return c, true
	default:
		return completion{}, false
	}
}
