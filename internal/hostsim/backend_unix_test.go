//go:build unix

package hostsim

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestFileBackendPersistsToDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pmem.img")
	b, err := NewFileBackend(path, 1<<16)
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}
	defer b.Close()

	payload := []byte("durable bytes")
	if _, err := b.WriteAt(payload, 4096); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	if err := b.Persist(); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	if b.Persists() != 1 {
		t.Fatalf("expected 1 persist, got %d", b.Persists())
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading backing file: %v", err)
	}
	if !bytes.Equal(got[4096:4096+len(payload)], payload) {
		t.Fatal("persisted bytes do not match the write")
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := b.WriteAt(payload, 0); err == nil {
		t.Fatal("write after close must fail")
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close must be a no-op, got %v", err)
	}
}
