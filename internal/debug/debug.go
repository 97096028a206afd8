// Package debug is a thread-safe binary trace logger. The driver core writes
// flush-path trace records through it; a disabled logger costs one atomic load
// per record.
//
// Each record is a header followed by a source tag and a message:
//   - 2 bytes kind (0 = invalid, 1 = bytes, 2 = string)
//   - 2 bytes source length
//   - 4 bytes message length
//   - 8 bytes timestamp (nanoseconds since epoch)
//   - source bytes, then message bytes
//
// Thread safety comes from atomically reserving a file offset per record, so
// concurrent writers never interleave.
package debug

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Writer is the sink trace records are written to.
type Writer interface {
	io.WriterAt
	io.Closer
}

type sink struct {
	w Writer
}

var (
	active atomic.Pointer[sink]
	offset atomic.Uint64
)

// OpenFile starts tracing to the named file, truncating any previous run.
func OpenFile(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	return Open(f)
}

// Open starts tracing to w. If tracing was already open the old writer is
// discarded; the returned error is a warning about that, not a failure.
func Open(w Writer) error {
	offset.Store(0)
	if active.Swap(&sink{w: w}) != nil {
		return fmt.Errorf("debug: already open, discarded old writer")
	}
	return nil
}

// Close stops tracing and closes the current writer, if any.
func Close() error {
	s := active.Swap(nil)
	offset.Store(0)
	if s == nil {
		return nil
	}
	return s.w.Close()
}

// Kind discriminates record payload types.
type Kind uint16

const (
	KindInvalid Kind = iota
	KindBytes
	KindString
)

const headerSize = 16

func writeRecord(kind Kind, source string, data []byte) {
	s := active.Load()
	if s == nil {
		return
	}

	size := headerSize + len(source) + len(data)
	var header [headerSize]byte
	binary.LittleEndian.PutUint16(header[0:2], uint16(kind))
	binary.LittleEndian.PutUint16(header[2:4], uint16(len(source)))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(data)))
	binary.LittleEndian.PutUint64(header[8:16], uint64(time.Now().UnixNano()))

	off := int64(offset.Add(uint64(size)) - uint64(size))
	buf := make([]byte, 0, size)
	buf = append(buf, header[:]...)
	buf = append(buf, source...)
	buf = append(buf, data...)
	// Tracing is best-effort; a failed sink drops the record.
	_, _ = s.w.WriteAt(buf, off)
}

// WriteBytes records a binary payload under the given source tag.
func WriteBytes(source string, data []byte) {
	writeRecord(KindBytes, source, data)
}

// Write records a string message under the given source tag.
func Write(source string, data string) {
	writeRecord(KindString, source, []byte(data))
}

// Writef records a formatted message under the given source tag.
func Writef(source string, format string, args ...any) {
	writeRecord(KindString, source, fmt.Appendf(nil, format, args...))
}

// MemoryBuffer is an in-memory Writer, useful in tests. Records can be
// replayed with Each after tracing is closed.
type MemoryBuffer struct {
	mu   sync.Mutex
	data []byte
}

// WriteAt implements Writer.
func (m *MemoryBuffer) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	end := off + int64(len(p))
	if int64(len(m.data)) < end {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[off:], p)
	return len(p), nil
}

// Close implements Writer.
func (m *MemoryBuffer) Close() error { return nil }

// Each replays every complete record in write order.
func (m *MemoryBuffer) Each(fn func(ts time.Time, kind Kind, source string, data []byte) error) error {
	m.mu.Lock()
	data := m.data
	m.mu.Unlock()

	for off := 0; off+headerSize <= len(data); {
		kind := Kind(binary.LittleEndian.Uint16(data[off : off+2]))
		sourceLen := int(binary.LittleEndian.Uint16(data[off+2 : off+4]))
		dataLen := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		ts := time.Unix(0, int64(binary.LittleEndian.Uint64(data[off+8:off+16])))
		off += headerSize
		if off+sourceLen+dataLen > len(data) {
			break
		}
		source := string(data[off : off+sourceLen])
		payload := data[off+sourceLen : off+sourceLen+dataLen]
		off += sourceLen + dataLen
		if kind == KindInvalid {
			continue
		}
		if err := fn(ts, kind, source, payload); err != nil {
			return err
		}
	}
	return nil
}
