//go:build unix

package hostsim

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// FileBackend maps a file and persists writes with msync, the same way a
// host-side pmem implementation would back a guest range with a file.
type FileBackend struct {
	mu       sync.Mutex
	file     *os.File
	data     []byte
	persists atomic.Uint64
}

// NewFileBackend creates or truncates path to size and maps it.
func NewFileBackend(path string, size uint64) (*FileBackend, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("hostsim: open backing file: %w", err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("hostsim: size backing file: %w", err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("hostsim: mmap backing file: %w", err)
	}
	return &FileBackend{file: f, data: data}, nil
}

// WriteAt implements Backend, writing straight into the mapping.
func (b *FileBackend) WriteAt(p []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return 0, fmt.Errorf("hostsim: backend closed")
	}
	if off < 0 || off+int64(len(p)) > int64(len(b.data)) {
		return 0, fmt.Errorf("hostsim: write outside range: off=%d len=%d", off, len(p))
	}
	copy(b.data[off:], p)
	return len(p), nil
}

// Persist implements Backend with msync(MS_SYNC) over the whole mapping.
func (b *FileBackend) Persist() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return fmt.Errorf("hostsim: backend closed")
	}
	if err := unix.Msync(b.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("hostsim: msync: %w", err)
	}
	b.persists.Add(1)
	return nil
}

// Persists implements Backend.
func (b *FileBackend) Persists() uint64 {
	return b.persists.Load()
}

// Close implements Backend.
func (b *FileBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return nil
	}
	err := unix.Munmap(b.data)
	b.data = nil
	if cerr := b.file.Close(); err == nil {
		err = cerr
	}
	return err
}

var _ Backend = (*FileBackend)(nil)
