package hostsim

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Backend is the host-side storage behind the simulated pmem range. Persist
// is the durability point: a flush must not be acknowledged before it
// returns.
type Backend interface {
	// WriteAt dirties the backing store, simulating guest writes into the
	// mapped range.
	WriteAt(p []byte, off int64) (int, error)
	// Persist makes all prior writes durable.
	Persist() error
	// Persists returns how many times Persist has completed.
	Persists() uint64
	// Close releases the backend.
	Close() error
}

// MemBackend is a volatile in-memory backend. Persist only counts; there is
// nothing durable about it, which is exactly what tests want to observe.
type MemBackend struct {
	mu       sync.Mutex
	data     []byte
	persists atomic.Uint64
}

// NewMemBackend allocates a volatile backend of the given size.
func NewMemBackend(size uint64) *MemBackend {
	return &MemBackend{data: make([]byte, size)}
}

// WriteAt implements Backend.
func (m *MemBackend) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, fmt.Errorf("hostsim: write outside range: off=%d len=%d", off, len(p))
	}
	copy(m.data[off:], p)
	return len(p), nil
}

// Persist implements Backend.
func (m *MemBackend) Persist() error {
	m.persists.Add(1)
	return nil
}

// Persists implements Backend.
func (m *MemBackend) Persists() uint64 {
	return m.persists.Load()
}

// Close implements Backend.
func (m *MemBackend) Close() error {
	return nil
}

var _ Backend = (*MemBackend)(nil)
