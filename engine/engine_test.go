package engine

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-gles/engine/config"
	"github.com/Carmen-Shannon/oxy-gles/engine/gpu"
	"github.com/Carmen-Shannon/oxy-gles/engine/loader"
	"github.com/Carmen-Shannon/oxy-gles/engine/renderer"
	"github.com/Carmen-Shannon/oxy-gles/engine/rendergraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// triangleAsset is a glTF document with one triangle in the z=0 plane.
func triangleAsset(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, 0, 44)
	for _, v := range []float32{0, 0, 0, 1, 0, 0, 0, 1, 0} {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	for _, i := range []uint16{0, 1, 2} {
		buf = binary.LittleEndian.AppendUint16(buf, i)
	}
	doc := map[string]any{
		"asset":  map[string]any{"version": "2.0"},
		"scenes": []any{map[string]any{"name": "triangle", "nodes": []int{0}}},
		"nodes":  []any{map[string]any{"name": "tri", "mesh": 0}},
		"meshes": []any{map[string]any{"primitives": []any{
			map[string]any{"attributes": map[string]any{"POSITION": 0}, "indices": 1},
		}}},
		"accessors": []any{
			map[string]any{"bufferView": 0, "componentType": 5126, "count": 3, "type": "VEC3"},
			map[string]any{"bufferView": 1, "componentType": 5123, "count": 3, "type": "SCALAR"},
		},
		"bufferViews": []any{
			map[string]any{"buffer": 0, "byteOffset": 0, "byteLength": 36},
			map[string]any{"buffer": 0, "byteOffset": 36, "byteLength": 6},
		},
		"buffers": []any{map[string]any{
			"byteLength": len(buf),
			"uri":        "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(buf),
		}},
	}
	out, err := json.Marshal(doc)
	require.NoError(t, err)
	return out
}

func newHeadless(t *testing.T, options ...EngineBuilderOption) (*gpu.SoftwareDevice, Engine) {
	t.Helper()
	dev := gpu.NewSoftwareDevice()
	base := []EngineBuilderOption{WithDevice(dev), WithViewport(64, 64), WithLogger(zaptest.NewLogger(t))}
	e, err := NewEngine(append(base, options...)...)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, e.Close()) })
	return dev, e
}

// importTriangle imports the triangle asset, rendering frames until it is committed.
func importTriangle(t *testing.T, e Engine) *loader.Ticket {
	t.Helper()
	ticket, err := e.Import("triangle.gltf")
	require.NoError(t, err)
	deadline := time.Now().Add(5 * time.Second)
	for !ticket.Settled() {
		require.True(t, time.Now().Before(deadline), "import never settled")
		require.NoError(t, e.RenderFrame(context.Background(), 1.0/60))
		time.Sleep(time.Millisecond)
	}
	return ticket
}

func assetDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "triangle.gltf"), triangleAsset(t), 0o644))
	return dir
}

func TestRenderFrameCommitsImportsAndDraws(t *testing.T) {
	dev, e := newHeadless(t, WithSearchPaths(assetDir(t)))

	var settled []string
	e.SetImportCallback(func(tk *loader.Ticket) { settled = append(settled, tk.Name()) })

	ticket := importTriangle(t, e)
	node, err := ticket.Result()
	require.NoError(t, err)
	assert.Equal(t, e.Scene().Root(), node.Parent())
	assert.Equal(t, []string{"triangle.gltf"}, settled)

	dev.ResetDraws()
	require.NoError(t, e.RenderFrame(context.Background(), 1.0/60))
	assert.Len(t, dev.Draws(), 1)
	assert.Equal(t, []uint32{0}, dev.Passes(), "the scene pass draws to the default surface")
	assert.Empty(t, e.Diagnostics())
	assert.Equal(t, 1, e.Renderer().Stats().Drawn)
	assert.Positive(t, e.Stats().Frames)
	assert.Zero(t, e.Stats().Dropped)
}

func TestImportFailureSettlesWithError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.gltf"), []byte("{not json"), 0o644))
	_, e := newHeadless(t, WithSearchPaths(dir))

	_, err := e.Import("missing.gltf")
	assert.Error(t, err, "names are resolved on submit")

	var failed error
	e.SetImportCallback(func(tk *loader.Ticket) { _, failed = tk.Result() })

	ticket, err := e.Import("broken.gltf")
	require.NoError(t, err)
	deadline := time.Now().Add(5 * time.Second)
	for !ticket.Settled() {
		require.True(t, time.Now().Before(deadline))
		require.NoError(t, e.RenderFrame(context.Background(), 0))
		time.Sleep(time.Millisecond)
	}
	assert.Error(t, failed)
	assert.Equal(t, 1, e.Scene().Len(), "only the root")
}

func TestTickAndFrameCallbacks(t *testing.T) {
	_, e := newHeadless(t)

	var ticks []float32
	e.SetTickCallback(func(dt float32) { ticks = append(ticks, dt) })

	var order []string
	var frameView renderer.View
	e.SetFrameCallback(func(g rendergraph.Graph, view renderer.View) error {
		frameView = view
		return g.DeclarePass(rendergraph.Pass{
			Name:  "post",
			Reads: []rendergraph.ResourceID{rendergraph.Named("color")},
			Execute: func(pc *rendergraph.PassContext) error {
				order = append(order, pc.Pass())
				return nil
			},
		})
	})

	require.NoError(t, e.RenderFrame(context.Background(), 0.25))
	require.NoError(t, e.RenderFrame(context.Background(), 0.5))

	assert.Equal(t, []float32{0.25, 0.5}, ticks)
	assert.Equal(t, []string{"post", "post"}, order)
	assert.Equal(t, gpu.Viewport{Width: 64, Height: 64}, frameView.Viewport)
	assert.InDelta(t, 0.75, frameView.Time, 1e-6)
	assert.Equal(t, e.Camera().View(), frameView.View)
}

func TestFrameCallbackErrorDropsFrame(t *testing.T) {
	dev, e := newHeadless(t)
	boom := errors.New("boom")
	e.SetFrameCallback(func(rendergraph.Graph, renderer.View) error { return boom })

	err := e.RenderFrame(context.Background(), 0)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(1), e.Stats().Dropped)
	assert.Empty(t, dev.Passes(), "nothing of a dropped frame executes")

	e.SetFrameCallback(nil)
	require.NoError(t, e.RenderFrame(context.Background(), 0))
	assert.Equal(t, []uint32{0}, dev.Passes())
}

func TestContextLossRebuildsAndRemaps(t *testing.T) {
	dev, e := newHeadless(t, WithSearchPaths(assetDir(t)))
	importTriangle(t, e)
	ctx := context.Background()
	require.NoError(t, e.RenderFrame(ctx, 0))
	records := e.Resources().Len()
	require.Positive(t, records)

	dev.LoseContext()
	dev.ResetDraws()
	require.NoError(t, e.RenderFrame(ctx, 0))
	require.NoError(t, e.RenderFrame(ctx, 0))
	assert.True(t, e.Resources().Invalidated())
	assert.Equal(t, uint64(2), e.Stats().Skipped)
	assert.Empty(t, dev.Draws(), "no draws while the context is lost")

	dev.RestoreContext()
	require.NoError(t, e.RenderFrame(ctx, 0))
	assert.False(t, e.Resources().Invalidated())
	assert.Equal(t, uint64(1), e.Stats().Rebuilds)
	assert.Equal(t, records, e.Resources().Len())
	assert.Len(t, dev.Draws(), 1, "the scene draws with remapped handles")
	assert.Empty(t, e.Diagnostics())
}

// liveObjects counts every object the device still holds.
func liveObjects(dev *gpu.SoftwareDevice) int {
	n := 0
	for _, kind := range gpu.ObjectKinds {
		n += dev.Live(kind)
	}
	return n
}

func TestPartialRebuildRetriesWithoutLeaking(t *testing.T) {
	dev, e := newHeadless(t, WithSearchPaths(assetDir(t)))
	importTriangle(t, e)
	ctx := context.Background()
	require.NoError(t, e.RenderFrame(ctx, 0))
	records := e.Resources().Len()
	require.Greater(t, records, 1)

	dev.LoseContext()
	require.NoError(t, e.RenderFrame(ctx, 0))
	dev.RestoreContext()
	dev.FailAfter(1)

	require.NoError(t, e.RenderFrame(ctx, 0))
	assert.True(t, e.Resources().Invalidated())
	assert.Zero(t, e.Stats().Rebuilds)
	assert.Equal(t, 1, liveObjects(dev))

	dev.FailAfter(-1)
	dev.ResetDraws()
	require.NoError(t, e.RenderFrame(ctx, 0))
	require.NoError(t, e.RenderFrame(ctx, 0))
	assert.False(t, e.Resources().Invalidated())
	assert.Equal(t, uint64(1), e.Stats().Rebuilds)
	assert.Equal(t, records, liveObjects(dev), "one object per record")
	assert.Len(t, dev.Draws(), 2)
	assert.Empty(t, e.Diagnostics())
}

func TestContextLostDuringRebuildKeepsHandlesUsable(t *testing.T) {
	dev, e := newHeadless(t, WithSearchPaths(assetDir(t)))
	importTriangle(t, e)
	ctx := context.Background()
	require.NoError(t, e.RenderFrame(ctx, 0))
	records := e.Resources().Len()
	require.Greater(t, records, 1)

	dev.LoseContext()
	require.NoError(t, e.RenderFrame(ctx, 0))
	dev.RestoreContext()
	dev.LoseContextAfter(1)

	require.NoError(t, e.RenderFrame(ctx, 0))
	assert.True(t, dev.ContextLost())
	require.NoError(t, e.RenderFrame(ctx, 0))
	assert.Equal(t, uint64(3), e.Stats().Skipped)

	dev.RestoreContext()
	dev.ResetDraws()
	require.NoError(t, e.RenderFrame(ctx, 0))
	assert.Len(t, dev.Draws(), 1, "scene and shader handles follow the final rebuild")
	assert.Empty(t, e.Diagnostics())
	assert.Equal(t, records, liveObjects(dev))
	for _, h := range e.Resources().Handles() {
		_, err := e.Resources().Resolve(h)
		assert.NoError(t, err)
	}
}

func TestNotifyContextLostInvalidatesResources(t *testing.T) {
	dev, e := newHeadless(t, WithSearchPaths(assetDir(t)))
	importTriangle(t, e)
	ctx := context.Background()

	e.NotifyContextLost()
	assert.True(t, dev.ContextLost())
	dev.ResetDraws()
	require.NoError(t, e.RenderFrame(ctx, 0))
	assert.True(t, e.Resources().Invalidated())
	assert.Empty(t, dev.Draws())

	dev.RestoreContext()
	require.NoError(t, e.RenderFrame(ctx, 0))
	assert.Len(t, dev.Draws(), 1)
}

func TestImportFailsFastWhenQueueIsFull(t *testing.T) {
	_, e := newHeadless(t, WithSearchPaths(assetDir(t)), WithImportWorkers(1, 1))

	first, err := e.Import("triangle.gltf")
	require.NoError(t, err)
	_, err = e.Import("triangle.gltf")
	assert.ErrorIs(t, err, loader.ErrQueueFull)

	deadline := time.Now().Add(5 * time.Second)
	for !first.Settled() {
		require.True(t, time.Now().Before(deadline), "import never settled")
		require.NoError(t, e.RenderFrame(context.Background(), 0))
		time.Sleep(time.Millisecond)
	}
	_, err = e.Import("triangle.gltf")
	assert.NoError(t, err)
}

func TestCancelledContextSkipsFrame(t *testing.T) {
	dev, e := newHeadless(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, e.RenderFrame(ctx, 0), context.Canceled)
	assert.Empty(t, dev.Passes())
}

func TestRunRequiresWindow(t *testing.T) {
	_, e := newHeadless(t)
	assert.ErrorIs(t, e.Run(context.Background()), ErrNoWindow)
}

func TestWithConfigAppliesSettings(t *testing.T) {
	cfg, err := config.Parse([]byte(`
window:
  width: 320
  height: 200
render:
  parallel_passes: true
  frame_limit: 50
  frustum_culling: false
  clear_color: [1, 0, 0, 1]
import:
  workers: 3
  search_paths: [assets]
  generate_mipmaps: false
profiler:
  enabled: true
`))
	require.NoError(t, err)

	_, e := newHeadless(t, WithConfig(cfg))
	impl := e.(*engine)
	assert.Equal(t, 320, impl.width)
	assert.Equal(t, 200, impl.height)
	assert.True(t, impl.parallel)
	assert.False(t, impl.culling)
	assert.False(t, impl.mipmaps)
	assert.Equal(t, 20*time.Millisecond, impl.renderFrameLimit)
	assert.Equal(t, [4]float32{1, 0, 0, 1}, impl.clearColor)
	assert.Equal(t, 3, impl.workers)
	assert.True(t, impl.profilingEnabled)
	assert.Contains(t, e.Resources().SearchPaths(), "assets")
	assert.InDelta(t, 1.6, e.Camera().Aspect(), 1e-6)
}
