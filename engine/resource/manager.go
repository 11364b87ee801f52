package resource

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-gles/engine/gpu"
	"github.com/Carmen-Shannon/oxy-gles/engine/logger"
	"go.uber.org/zap"
)

// record is one slot of the manager's arena.
type record struct {
	kind        Kind
	fingerprint Fingerprint
	refCount    int
	gpuID       uint32
	valid       bool
	live        bool
	generation  uint32
	bytes       int
	desc        Descriptor
	info        gpu.ProgramInfo
}

// Record is a read-only snapshot of a record, for diagnostics and tests.
type Record struct {
	Kind        Kind
	Fingerprint Fingerprint
	RefCount    int
	GPUID       uint32
	Valid       bool
	Bytes       int
}

// Stats is the manager's VRAM and lifetime accounting.
type Stats struct {
	// Live counts live records per kind, indexed by Kind.
	Live [len(gpu.ObjectKinds)]int

	// Bytes is the estimated GPU memory held by live records.
	Bytes int64

	Creates  int
	Deletes  int
	Rebuilds int
}

// manager is the implementation of the Manager interface.
type manager struct {
	device gpu.Device
	log    *zap.Logger

	slots         []record
	free          []uint32
	byFingerprint map[Fingerprint]uint32
	invalidated   bool
	stats         Stats

	searchPaths []string
}

// Manager owns every GPU object of the engine behind generation-checked handles. Identical
// descriptors share one record, reference counted across acquirers. The manager is the
// only component that creates or deletes GPU objects, which makes it the single source of
// VRAM accounting.
//
// A Manager belongs to the rendering thread and must not be used concurrently.
type Manager interface {
	// Acquire returns a handle to the record matching the descriptor's fingerprint, creating
	// the GPU object on first use. Every successful Acquire must be paired with a Release.
	//
	// Parameters:
	//   - desc: the descriptor of the object
	//
	// Returns:
	//   - Handle: the handle to the shared record
	//   - error: the device error if the object could not be created, no record is left behind
	Acquire(desc Descriptor) (Handle, error)

	// Retain adds a reference to an existing record, as if it were acquired again.
	//
	// Parameters:
	//   - h: a live handle
	//
	// Returns:
	//   - error: ErrStaleHandle if h is not live
	Retain(h Handle) error

	// Release drops one reference. The GPU object is deleted exactly once, when the count
	// reaches zero, after which every handle to the record is stale.
	//
	// Parameters:
	//   - h: a live handle
	//
	// Returns:
	//   - error: ErrStaleHandle if h is not live
	Release(h Handle) error

	// Resolve returns the GPU identifier behind a handle.
	//
	// Parameters:
	//   - h: the handle to resolve
	//
	// Returns:
	//   - uint32: the GL object name
	//   - error: ErrStaleHandle on a generation mismatch, ErrInvalidResource while the context is lost
	Resolve(h Handle) (uint32, error)

	// ProgramInfo returns the reflection data of a program record.
	//
	// Parameters:
	//   - h: a live program handle
	//
	// Returns:
	//   - gpu.ProgramInfo: the uniform and attribute slots
	//   - error: ErrStaleHandle or ErrKindMismatch
	ProgramInfo(h Handle) (gpu.ProgramInfo, error)

	// Descriptor returns the descriptor a record was created from.
	Descriptor(h Handle) (Descriptor, error)

	// RefCount returns the current reference count of the record behind h, or 0 if h is stale.
	RefCount(h Handle) int

	// Lookup finds the live handle for a fingerprint without acquiring it.
	Lookup(fp Fingerprint) (Handle, bool)

	// Record returns a snapshot of the record behind h.
	Record(h Handle) (Record, error)

	// Handles returns every live handle in slot order.
	Handles() []Handle

	// Len returns the number of live records.
	Len() int

	// Stats returns the accounting counters.
	Stats() Stats

	// InvalidateAll forgets every GPU identifier after a context loss. Descriptors and
	// reference counts are preserved; no device deletes are issued because the objects
	// died with the context.
	InvalidateAll()

	// RebuildAll recreates every invalid live record from its stored descriptor and assigns
	// each recreated record a new generation. Handles of recreated records become stale;
	// callers translate them through the returned Remap. Records that fail keep their
	// handle and stay invalid, so a later call retries only those. If the context is lost
	// again mid-rebuild the whole pass is undone and the Remap is empty.
	//
	// Returns:
	//   - Remap: the old to new handle table of the records recreated by this call
	//   - error: the joined errors of every record that could not be recreated
	RebuildAll() (Remap, error)

	// Invalidated reports whether InvalidateAll has been called without a successful RebuildAll.
	Invalidated() bool

	// AddSearchPath appends a directory to the asset search paths.
	AddSearchPath(dir string)

	// PopSearchPath removes a directory from the asset search paths.
	PopSearchPath(dir string)

	// SearchPaths returns the asset search paths in lookup order.
	SearchPaths() []string

	// LocateFile resolves a file name against the search paths.
	//
	// Parameters:
	//   - name: an absolute path, or a path relative to one of the search paths
	//
	// Returns:
	//   - string: the path of the first existing match
	//   - error: ErrFileNotFound if no match exists
	LocateFile(name string) (string, error)
}

var _ Manager = &manager{}

// NewManager creates a Manager that creates its objects on the given device.
//
// Parameters:
//   - device: the GPU device the manager owns objects on
//   - options: variadic list of ManagerBuilderOption functions to configure the manager
//
// Returns:
//   - Manager: a new, empty manager
func NewManager(device gpu.Device, options ...ManagerBuilderOption) Manager {
	m := &manager{
		device:        device,
		log:           logger.Named("resource"),
		byFingerprint: make(map[Fingerprint]uint32),
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

func (m *manager) Acquire(desc Descriptor) (Handle, error) {
	if desc == nil {
		return Handle{}, errors.New("acquire: nil descriptor")
	}
	fp := desc.Fingerprint()
	if idx, ok := m.byFingerprint[fp]; ok {
		rec := &m.slots[idx]
		rec.refCount++
		return m.handleOf(idx), nil
	}

	obj, err := desc.create(m.device)
	if err != nil {
		return Handle{}, fmt.Errorf("acquire %s: %w", desc.Kind(), err)
	}

	var idx uint32
	if n := len(m.free); n > 0 {
		idx = m.free[n-1]
		m.free = m.free[:n-1]
	} else {
		idx = uint32(len(m.slots))
		m.slots = append(m.slots, record{})
	}

	rec := &m.slots[idx]
	*rec = record{
		kind:        desc.Kind(),
		fingerprint: fp,
		refCount:    1,
		gpuID:       obj.id,
		valid:       true,
		live:        true,
		generation:  rec.generation + 1,
		bytes:       desc.ByteSize(),
		desc:        retain(desc),
		info:        obj.info,
	}
	m.byFingerprint[fp] = idx
	m.stats.Live[rec.kind]++
	m.stats.Bytes += int64(rec.bytes)
	m.stats.Creates++

	m.log.Debug("created", zap.Stringer("kind", rec.kind), zap.Stringer("fingerprint", fp), zap.Uint32("gpu_id", obj.id), zap.Int("bytes", rec.bytes))
	return m.handleOf(idx), nil
}

func (m *manager) Retain(h Handle) error {
	rec, err := m.lookup(h)
	if err != nil {
		return err
	}
	rec.refCount++
	return nil
}

func (m *manager) Release(h Handle) error {
	rec, err := m.lookup(h)
	if err != nil {
		return err
	}
	rec.refCount--
	if rec.refCount > 0 {
		return nil
	}

	if rec.valid {
		m.device.Delete(rec.kind, rec.gpuID)
	}
	m.stats.Live[rec.kind]--
	m.stats.Bytes -= int64(rec.bytes)
	m.stats.Deletes++
	delete(m.byFingerprint, rec.fingerprint)

	m.log.Debug("destroyed", zap.Stringer("kind", rec.kind), zap.Stringer("fingerprint", rec.fingerprint), zap.Uint32("gpu_id", rec.gpuID))

	// bumping the generation stales every outstanding copy of the handle
	*rec = record{generation: rec.generation + 1}
	m.free = append(m.free, h.index)
	return nil
}

func (m *manager) Resolve(h Handle) (uint32, error) {
	rec, err := m.lookup(h)
	if err != nil {
		return 0, err
	}
	if !rec.valid {
		return 0, fmt.Errorf("resolve %s: %w", h, ErrInvalidResource)
	}
	return rec.gpuID, nil
}

func (m *manager) ProgramInfo(h Handle) (gpu.ProgramInfo, error) {
	rec, err := m.lookup(h)
	if err != nil {
		return gpu.ProgramInfo{}, err
	}
	if rec.kind != KindProgram {
		return gpu.ProgramInfo{}, fmt.Errorf("%s is not a program: %w", h, ErrKindMismatch)
	}
	return rec.info, nil
}

func (m *manager) Descriptor(h Handle) (Descriptor, error) {
	rec, err := m.lookup(h)
	if err != nil {
		return nil, err
	}
	return rec.desc, nil
}

func (m *manager) RefCount(h Handle) int {
	rec, err := m.lookup(h)
	if err != nil {
		return 0
	}
	return rec.refCount
}

func (m *manager) Lookup(fp Fingerprint) (Handle, bool) {
	idx, ok := m.byFingerprint[fp]
	if !ok {
		return Handle{}, false
	}
	return m.handleOf(idx), true
}

func (m *manager) Record(h Handle) (Record, error) {
	rec, err := m.lookup(h)
	if err != nil {
		return Record{}, err
	}
	return Record{
		Kind:        rec.kind,
		Fingerprint: rec.fingerprint,
		RefCount:    rec.refCount,
		GPUID:       rec.gpuID,
		Valid:       rec.valid,
		Bytes:       rec.bytes,
	}, nil
}

func (m *manager) Handles() []Handle {
	out := make([]Handle, 0, len(m.byFingerprint))
	for i := range m.slots {
		if m.slots[i].live {
			out = append(out, m.handleOf(uint32(i)))
		}
	}
	return out
}

func (m *manager) Len() int {
	return len(m.byFingerprint)
}

func (m *manager) Stats() Stats {
	return m.stats
}

func (m *manager) InvalidateAll() {
	n := 0
	for i := range m.slots {
		rec := &m.slots[i]
		if !rec.live {
			continue
		}
		rec.valid = false
		rec.gpuID = 0
		n++
	}
	m.invalidated = true
	m.log.Warn("context lost, resources invalidated", zap.Int("records", n))
}

func (m *manager) RebuildAll() (Remap, error) {
	remap := make(Remap)
	var rebuilt []uint32
	var errs []error

	for i := range m.slots {
		rec := &m.slots[i]
		if !rec.live || rec.valid {
			continue
		}
		obj, err := rec.desc.create(m.device)
		if errors.Is(err, gpu.ErrContextLost) {
			// everything recreated in this pass died with the context
			for _, j := range rebuilt {
				r := &m.slots[j]
				r.generation--
				r.valid = false
				r.gpuID = 0
			}
			m.log.Warn("context lost during rebuild", zap.Int("undone", len(rebuilt)))
			return Remap{}, fmt.Errorf("rebuild %s %s: %w", rec.kind, rec.fingerprint, err)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("rebuild %s %s: %w", rec.kind, rec.fingerprint, err))
			continue
		}
		old := m.handleOf(uint32(i))
		rec.generation++
		rec.gpuID = obj.id
		rec.info = obj.info
		rec.valid = true
		remap[old] = m.handleOf(uint32(i))
		rebuilt = append(rebuilt, uint32(i))
	}

	m.stats.Rebuilds++
	err := errors.Join(errs...)
	if err == nil {
		m.invalidated = false
	}
	m.log.Info("resources rebuilt", zap.Int("records", len(remap)), zap.Int("failed", len(errs)))
	return remap, err
}

func (m *manager) Invalidated() bool {
	return m.invalidated
}

// lookup validates a handle against the arena.
func (m *manager) lookup(h Handle) (*record, error) {
	if h.IsZero() || int(h.index) >= len(m.slots) {
		return nil, fmt.Errorf("%s: %w", h, ErrStaleHandle)
	}
	rec := &m.slots[h.index]
	if !rec.live || rec.generation != h.generation || rec.kind != h.kind {
		return nil, fmt.Errorf("%s: %w", h, ErrStaleHandle)
	}
	return rec, nil
}

func (m *manager) handleOf(idx uint32) Handle {
	rec := &m.slots[idx]
	return Handle{index: idx, generation: rec.generation, kind: rec.kind}
}

// retain copies caller-owned byte slices so the stored descriptor stays replayable.
func retain(desc Descriptor) Descriptor {
	switch d := desc.(type) {
	case BufferDescriptor:
		d.Data = bytes.Clone(d.Data)
		return d
	case TextureDescriptor:
		d.Pixels = bytes.Clone(d.Pixels)
		return d
	}
	return desc
}
