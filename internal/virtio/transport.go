package virtio

import "errors"

// Transport abstracts the virtio transport (MMIO or PCI) as seen from the
// driver side. It covers the small slice of the transport contract the pmem
// driver needs: device identity, config space access, shared memory region
// discovery, queue setup and device lifecycle signals.
//
// Enumeration and feature negotiation happen before a Transport is handed to
// a driver and are not part of this interface.
type Transport interface {
	// DeviceID returns the virtio device type identifier.
	DeviceID() uint16

	// ConfigAccess reports whether device config space can be read.
	// Drivers must check this before any config access.
	ConfigAccess() bool

	// ReadConfigLE64 reads a little-endian 64-bit field from the
	// device-specific configuration structure at the given byte offset.
	ReadConfigLE64(offset uint16) (uint64, error)

	// ShmRegion looks up a shared memory region capability by its fixed
	// region index. Returns the region and true if the capability exists.
	ShmRegion(id uint8) (ShmRegion, bool)

	// FindQueue requests the single named virtqueue from the transport.
	// used is invoked by the transport whenever the host marks buffers
	// used; the transport guarantees at most one invocation of used runs
	// at a time per queue.
	FindQueue(name string, used func()) (Queue, error)

	// DeleteQueues releases all queues obtained from FindQueue. After it
	// returns no used callback will be invoked.
	DeleteQueues()

	// SetReady marks the device ready for traffic (DRIVER_OK).
	SetReady()

	// Reset resets the device, quiescing all traffic.
	Reset()
}

// ShmRegion describes a shared memory region exposed by the device, either
// guest-absolute or BAR-relative depending on the transport.
type ShmRegion struct {
	Addr uint64
	Len  uint64
}

// Used describes one completed buffer harvested from a queue.
type Used struct {
	// Token is the value passed to Submit for this buffer.
	Token uint64
	// Len is the number of bytes the device wrote into the in buffer.
	Len uint32
}

// Queue is one virtqueue as seen from the driver side.
type Queue interface {
	// Submit places a buffer pair on the queue: out is read by the device,
	// in is written by the device. token identifies the buffer when it
	// comes back from Harvest. Returns ErrQueueFull when no descriptor
	// slot is free; the caller may retry after completions free slots.
	Submit(out, in []byte, token uint64) error

	// Kick notifies the device that buffers are available.
	Kick() error

	// Harvest removes and returns every buffer the device has marked used,
	// in the order the device returned them. Only valid from within the
	// used callback passed to FindQueue.
	Harvest() []Used
}

var (
	// ErrQueueFull is returned by Submit when the queue has no free slot.
	// It is transient: slots free up as the host completes buffers.
	ErrQueueFull = errors.New("virtio: queue full")

	// ErrNoQueue is returned when the transport cannot provide the
	// requested queue.
	ErrNoQueue = errors.New("virtio: no queue available")

	// ErrConfigAccess is returned when device config space access is
	// disabled on the transport.
	ErrConfigAccess = errors.New("virtio: config access disabled")
)
