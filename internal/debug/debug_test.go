package debug

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func replaySources(t *testing.T, buf *MemoryBuffer) []string {
	t.Helper()
	var seen []string
	if err := buf.Each(func(ts time.Time, kind Kind, source string, data []byte) error {
		seen = append(seen, source)
		return nil
	}); err != nil {
		t.Fatalf("Each: %v", err)
	}
	return seen
}

func TestDebugWrite(t *testing.T) {
	buf := new(MemoryBuffer)
	func() {
		Open(buf)
		defer Close()

		Write("test", "hello, world")
	}()

	seen := replaySources(t, buf)
	if len(seen) != 1 {
		t.Fatalf("expected 1 record, got %d", len(seen))
	}
	if seen[0] != "test" {
		t.Fatalf("expected source to be 'test', got %s", seen[0])
	}
}

func TestDebugTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.log")
	func() {
		if err := OpenFile(path); err != nil {
			t.Fatalf("OpenFile: %v", err)
		}
		defer Close()

		Writef("test", "hello, world %d", 42)
	}()
}

func TestDebugRecordOrdering(t *testing.T) {
	buf := new(MemoryBuffer)
	func() {
		Open(buf)
		defer Close()

		for i := 0; i < 10; i++ {
			Write("test", fmt.Sprintf("hello, world %d", i))
		}
	}()

	var payloads []string
	if err := buf.Each(func(ts time.Time, kind Kind, source string, data []byte) error {
		payloads = append(payloads, string(data))
		return nil
	}); err != nil {
		t.Fatalf("Each: %v", err)
	}
	if len(payloads) != 10 {
		t.Fatalf("expected 10 records, got %d", len(payloads))
	}
	for i := 0; i < 10; i++ {
		want := fmt.Sprintf("hello, world %d", i)
		if payloads[i] != want {
			t.Fatalf("record %d: expected %q, got %q", i, want, payloads[i])
		}
	}
}

func TestDebugConcurrentWriters(t *testing.T) {
	buf := new(MemoryBuffer)
	func() {
		Open(buf)
		defer Close()

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				for n := 0; n < 10; n++ {
					Write("test", fmt.Sprintf("writer %d", i))
				}
			}()
		}
		wg.Wait()
	}()

	seen := replaySources(t, buf)
	if len(seen) != 40 {
		t.Fatalf("expected 40 records, got %d", len(seen))
	}
	for i, s := range seen {
		if s != "test" {
			t.Fatalf("record %d: corrupted source %q", i, s)
		}
	}
}

func TestDebugDisabled(t *testing.T) {
	// Writes without an open sink must be a silent no-op.
	Write("test", "dropped")
	Writef("test", "dropped %d", 1)
	WriteBytes("test", []byte{1, 2, 3})
}

func BenchmarkWriteString(b *testing.B) {
	buf := new(MemoryBuffer)
	Open(buf)
	defer Close()

	for i := 0; i < b.N; i++ {
		Write("test", "hello, world")
	}
}
