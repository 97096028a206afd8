//go:build !unix

package hostsim

import "fmt"

// NewFileBackend is unavailable without mmap/msync support.
func NewFileBackend(path string, size uint64) (Backend, error) {
	return nil, fmt.Errorf("hostsim: file backend not supported on this platform")
}
