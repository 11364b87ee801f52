package loader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAsset(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

// drainUntil drains on the calling goroutine until the ticket settles.
func drainUntil(t *testing.T, a AsyncImporter, ticket *Ticket) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !ticket.Settled() {
		require.True(t, time.Now().Before(deadline), "ticket %s never settled", ticket.Name())
		a.Drain(0)
		time.Sleep(time.Millisecond)
	}
}

func TestAsyncImporterDrainCommits(t *testing.T) {
	dir := t.TempDir()
	writeAsset(t, dir, "crate.gltf", hierarchyAsset(t))
	writeAsset(t, dir, "shared.gltf", texturedAsset(t))
	_, m, g, imp := newTestImporter(dir)

	a := NewAsyncImporter(imp, WithWorkers(2), WithQueueSize(4))
	defer a.Close()

	crate, err := a.Submit("crate.gltf")
	require.NoError(t, err)
	shared, err := a.Submit("shared.gltf")
	require.NoError(t, err)
	assert.Equal(t, 2, a.Pending())
	assert.Equal(t, 0, m.Len(), "nothing is committed before Drain")

	drainUntil(t, a, crate)
	drainUntil(t, a, shared)
	assert.Equal(t, 0, a.Pending())

	node, err := crate.Result()
	require.NoError(t, err)
	assert.Equal(t, "crate", node.Name())
	assert.Equal(t, g.Root(), node.Parent())

	node, err = shared.Result()
	require.NoError(t, err)
	assert.NotNil(t, g.Find("a"))
	require.NoError(t, g.Remove(node))
}

func TestAsyncImporterCancelLeavesManagerUntouched(t *testing.T) {
	dir := t.TempDir()
	writeAsset(t, dir, "shared.gltf", texturedAsset(t))
	_, m, g, imp := newTestImporter(dir)

	a := NewAsyncImporter(imp, WithWorkers(1))
	defer a.Close()

	ticket, err := a.Submit("shared.gltf")
	require.NoError(t, err)
	ticket.Cancel()

	drainUntil(t, a, ticket)
	node, err := ticket.Result()
	assert.Nil(t, node)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 1, g.Len())
}

func TestAsyncImporterReportsDecodeFailures(t *testing.T) {
	dir := t.TempDir()
	writeAsset(t, dir, "broken.gltf", []byte(`{"asset":{"version":"1.0"}}`))
	_, m, _, imp := newTestImporter(dir)

	a := NewAsyncImporter(imp)
	defer a.Close()

	ticket, err := a.Submit("broken.gltf")
	require.NoError(t, err)
	drainUntil(t, a, ticket)

	_, err = ticket.Result()
	var mae *MalformedAssetError
	assert.ErrorAs(t, err, &mae)
	assert.Equal(t, 0, m.Len())
}

func TestAsyncImporterSubmitErrors(t *testing.T) {
	dir := t.TempDir()
	writeAsset(t, dir, "crate.gltf", hierarchyAsset(t))
	_, _, _, imp := newTestImporter(dir)
	a := NewAsyncImporter(imp)

	_, err := a.Submit("missing.gltf")
	assert.Error(t, err)
	assert.Equal(t, 0, a.Pending())

	a.Close()
	_, err = a.Submit("crate.gltf")
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestAsyncImporterSubmitFailsWhenFull(t *testing.T) {
	dir := t.TempDir()
	writeAsset(t, dir, "crate.gltf", hierarchyAsset(t))
	_, _, g, imp := newTestImporter(dir)
	a := NewAsyncImporter(imp, WithWorkers(1), WithQueueSize(2))
	defer a.Close()

	first, err := a.Submit("crate.gltf")
	require.NoError(t, err)
	second, err := a.Submit("crate.gltf")
	require.NoError(t, err)

	// nothing drains here, which must not stall the caller
	done := make(chan error, 1)
	go func() {
		_, err := a.Submit("crate.gltf")
		done <- err
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrQueueFull)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "Submit blocked on a full queue")
	}
	assert.Equal(t, 2, a.Pending())

	drainUntil(t, a, first)
	drainUntil(t, a, second)
	third, err := a.Submit("crate.gltf")
	require.NoError(t, err, "draining makes room")
	drainUntil(t, a, third)
	assert.Len(t, g.Root().Children(), 3)
}

func TestAsyncImporterCloseSettlesOutstanding(t *testing.T) {
	dir := t.TempDir()
	writeAsset(t, dir, "crate.gltf", hierarchyAsset(t))
	_, m, _, imp := newTestImporter(dir)
	a := NewAsyncImporter(imp)

	ticket, err := a.Submit("crate.gltf")
	require.NoError(t, err)
	a.Close()

	require.True(t, ticket.Settled())
	_, err = ticket.Result()
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.Equal(t, 0, m.Len())
	assert.Empty(t, a.Drain(0))
}
