package rendergraph

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Carmen-Shannon/oxy-gles/common"
	"github.com/Carmen-Shannon/oxy-gles/engine/gpu"
	"github.com/Carmen-Shannon/oxy-gles/engine/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(*PassContext) error { return nil }

func pass(name string, reads, writes []ResourceID) Pass {
	return Pass{Name: name, Reads: reads, Writes: writes, Execute: noop}
}

func ids(names ...string) []ResourceID {
	out := make([]ResourceID, len(names))
	for i, n := range names {
		out[i] = Named(n)
	}
	return out
}

func newTestGraph(options ...GraphBuilderOption) (*gpu.SoftwareDevice, resource.Manager, Graph) {
	dev := gpu.NewSoftwareDevice()
	m := resource.NewManager(dev)
	return dev, m, NewGraph(m, options...)
}

func declareAll(t *testing.T, g Graph, passes ...Pass) {
	t.Helper()
	for _, p := range passes {
		require.NoError(t, g.DeclarePass(p))
	}
}

func TestCompileKeepsDeclarationOrderWithoutSharedResources(t *testing.T) {
	_, _, g := newTestGraph()
	declareAll(t, g,
		pass("a", ids("ra"), ids("wa")),
		pass("b", nil, ids("wb")),
		pass("c", ids("rc"), nil),
		pass("d", nil, ids("wd")),
	)

	order, err := g.Compile()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
	assert.Equal(t, StateCompiling, g.State())
}

func TestCompileOrdersWritersBeforeReaders(t *testing.T) {
	_, _, g := newTestGraph()
	declareAll(t, g,
		pass("composite", ids("color", "overlay"), ids("backbuffer")),
		pass("ui", nil, ids("overlay")),
		pass("scene", ids("shadowmap"), ids("color")),
		pass("shadow", nil, ids("shadowmap")),
	)

	order, err := g.Compile()
	require.NoError(t, err)
	assert.Equal(t, []string{"ui", "shadow", "scene", "composite"}, order)
}

func TestWritersOfOneResourceRunInDeclarationOrder(t *testing.T) {
	_, _, g := newTestGraph()
	declareAll(t, g,
		pass("opaque", ids("color"), ids("color")),
		pass("transparent", ids("color"), ids("color")),
		pass("clear", nil, ids("color")),
		pass("present", ids("color"), nil),
	)

	order, err := g.Compile()
	require.NoError(t, err)
	assert.Equal(t, []string{"opaque", "transparent", "clear", "present"}, order)
}

func TestCompileCycleDropsFrameAndKeepsLastOrder(t *testing.T) {
	_, _, g := newTestGraph()
	declareAll(t, g, pass("scene", nil, ids("color")), pass("post", ids("color"), ids("backbuffer")))
	require.NoError(t, g.ExecuteFrame(context.Background()))
	previous := g.LastOrder()
	require.Equal(t, []string{"scene", "post"}, previous)

	declareAll(t, g,
		pass("A", ids("Y"), ids("X")),
		pass("B", ids("X"), ids("Y")),
		pass("C", nil, ids("Z")),
	)
	_, err := g.Compile()
	var cyc *GraphCycleError
	require.ErrorAs(t, err, &cyc)
	assert.Equal(t, []string{"A", "B"}, cyc.Passes)

	assert.Equal(t, previous, g.LastOrder())
	assert.Equal(t, StateDeclaring, g.State())
	assert.Equal(t, uint64(1), g.Stats().Dropped)
	assert.Equal(t, uint64(1), g.Stats().Frames)

	// the next frame starts clean, so a dropped pass name may be declared again
	declareAll(t, g, pass("A", nil, ids("X")))
	order, err := g.Compile()
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, order)
}

func TestDeclarePassValidation(t *testing.T) {
	_, _, g := newTestGraph()

	assert.ErrorIs(t, g.DeclarePass(Pass{Execute: noop}), ErrInvalidPass)
	assert.ErrorIs(t, g.DeclarePass(Pass{Name: "x"}), ErrInvalidPass)
	assert.ErrorIs(t, g.DeclarePass(Pass{Name: "x", Execute: noop, Transients: []Transient{{ID: "t"}}}), ErrInvalidPass)

	require.NoError(t, g.DeclarePass(pass("x", nil, nil)))
	assert.ErrorIs(t, g.DeclarePass(pass("x", nil, nil)), ErrInvalidPass)

	assert.ErrorIs(t, g.Execute(context.Background()), ErrWrongState)
	_, err := g.Compile()
	require.NoError(t, err)
	assert.ErrorIs(t, g.DeclarePass(pass("y", nil, nil)), ErrWrongState)
	_, err = g.Compile()
	assert.ErrorIs(t, err, ErrWrongState)

	require.NoError(t, g.Execute(context.Background()))
	assert.Equal(t, StateRetired, g.State())
	g.Retire()
	assert.Equal(t, StateDeclaring, g.State())
}

func TestExecuteSubmitsCommandsInScheduleOrder(t *testing.T) {
	_, _, g := newTestGraph()
	var log []string
	recorder := func(name string) func(*PassContext) error {
		return func(pc *PassContext) error {
			assert.Equal(t, name, pc.Pass())
			pc.Commands.Record(func() error {
				log = append(log, name)
				return nil
			})
			return nil
		}
	}

	declareAll(t, g,
		Pass{Name: "post", Reads: ids("color"), Writes: ids("backbuffer"), Execute: recorder("post")},
		Pass{Name: "scene", Writes: ids("color"), Execute: recorder("scene")},
	)
	require.NoError(t, g.ExecuteFrame(context.Background()))
	assert.Equal(t, []string{"scene", "post"}, log)
	assert.Equal(t, StateDeclaring, g.State())
	assert.Equal(t, 2, g.Stats().Passes)
}

func colorTarget(name string) Transient {
	return Transient{
		ID:         Named(name),
		Descriptor: resource.FramebufferDescriptor{Name: name, FramebufferSpec: gpu.FramebufferSpec{Width: 4, Height: 4, Color: common.PixelFormatRGBA8}},
	}
}

func TestTransientsLiveForTheirPass(t *testing.T) {
	dev, m, g := newTestGraph()
	var seen resource.Handle

	declareAll(t, g,
		Pass{
			Name:       "blur",
			Transients: []Transient{colorTarget("scratch")},
			Execute: func(pc *PassContext) error {
				h, ok := pc.Transient(Named("scratch"))
				require.True(t, ok)
				_, err := pc.Manager().Resolve(h)
				require.NoError(t, err)
				seen = h
				assert.Equal(t, 1, dev.Live(gpu.ObjectFramebuffer))
				return nil
			},
		},
	)
	require.NoError(t, g.ExecuteFrame(context.Background()))

	assert.False(t, seen.IsZero())
	_, err := m.Resolve(seen)
	assert.ErrorIs(t, err, resource.ErrStaleHandle)
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 0, dev.Live(gpu.ObjectFramebuffer))
}

func TestFailingPassReleasesTransientsAndDropsFrame(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name    string
		execute func(*PassContext) error
		want    error
	}{
		{name: "error", execute: func(*PassContext) error { return boom }, want: boom},
		{name: "panic", execute: func(*PassContext) error { panic("driver exploded") }, want: ErrPassPanicked},
		{
			name: "command error",
			execute: func(pc *PassContext) error {
				pc.Commands.Record(func() error { return boom })
				return nil
			},
			want: boom,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, m, g := newTestGraph()
			laterRan := false
			declareAll(t, g,
				Pass{Name: "bad", Writes: ids("color"), Transients: []Transient{colorTarget("scratch")}, Execute: tt.execute},
				Pass{Name: "later", Reads: ids("color"), Execute: func(*PassContext) error { laterRan = true; return nil }},
			)

			err := g.ExecuteFrame(context.Background())
			var pe *PassError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, "bad", pe.Pass)
			assert.ErrorIs(t, err, tt.want)
			assert.False(t, laterRan)
			assert.Equal(t, 0, m.Len())
			assert.Equal(t, StateDeclaring, g.State())
			assert.Equal(t, uint64(1), g.Stats().Dropped)
		})
	}
}

func TestExecuteStopsOnCancelledContext(t *testing.T) {
	_, _, g := newTestGraph()
	ran := false
	declareAll(t, g, Pass{Name: "a", Execute: func(*PassContext) error { ran = true; return nil }})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, g.ExecuteFrame(ctx), context.Canceled)
	assert.False(t, ran)
}

func TestParallelRecordingBatchesDisjointPasses(t *testing.T) {
	_, m, g := newTestGraph(WithParallelRecording(true))

	var (
		mu  sync.Mutex
		log []string
	)
	recorder := func(name string) func(*PassContext) error {
		return func(pc *PassContext) error {
			pc.Commands.Record(func() error {
				mu.Lock()
				defer mu.Unlock()
				log = append(log, name)
				return nil
			})
			return nil
		}
	}

	declareAll(t, g,
		Pass{Name: "shadow", Writes: ids("shadowmap"), Transients: []Transient{colorTarget("shadow_scratch")}, Execute: recorder("shadow")},
		Pass{Name: "ui", Reads: ids("font"), Writes: ids("overlay"), Execute: recorder("ui")},
		Pass{Name: "hud", Reads: ids("font"), Writes: ids("hud"), Execute: recorder("hud")},
		Pass{Name: "composite", Reads: ids("shadowmap", "overlay", "hud"), Writes: ids("backbuffer"), Execute: recorder("composite")},
	)

	require.NoError(t, g.ExecuteFrame(context.Background()))
	assert.Equal(t, []string{"shadow", "ui", "hud", "composite"}, log)
	assert.Equal(t, 2, g.Stats().Batches)
	assert.Equal(t, 0, m.Len())
}

func TestBatchSplitsOnConflicts(t *testing.T) {
	passes := []Pass{
		pass("a", ids("x"), ids("y")),
		pass("b", ids("x"), ids("z")),
		pass("c", ids("y"), nil),
		pass("d", nil, ids("w")),
	}
	order, err := schedule(passes)
	require.NoError(t, err)

	// a and b share only a read; c reads what a wrote
	assert.Equal(t, [][]int{{0, 1}, {2, 3}}, batch(passes, order, true))
	assert.Equal(t, [][]int{{0}, {1}, {2}, {3}}, batch(passes, order, false))
}
