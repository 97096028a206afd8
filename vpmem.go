// Package vpmem provides the driver core for a paravirtualized persistent
// memory device: it discovers the host-backed address range over a virtio
// transport, registers it as an nvdimm region, and implements the
// asynchronous flush protocol that guarantees a durability barrier is not
// reported complete before the host has persisted the writes behind it.
package vpmem

import (
	"github.com/virtkit/vpmem/internal/nvdimm"
	"github.com/virtkit/vpmem/internal/pmem"
	"github.com/virtkit/vpmem/internal/virtio"
)

// -----------------------------------------------------------------------------
// Type Aliases - These re-export types from the internal packages
// -----------------------------------------------------------------------------

// Device represents one probed pmem provider instance.
type Device = pmem.Device

// Options configure a probe.
type Options = pmem.Options

// Transport is the virtio transport contract a Device is probed on.
type Transport = virtio.Transport

// Queue is one virtqueue as seen from the driver side.
type Queue = virtio.Queue

// ShmRegion is a shared memory region capability.
type ShmRegion = virtio.ShmRegion

// Used is one completed buffer harvested from a queue.
type Used = virtio.Used

// Range is a physical address range.
type Range = nvdimm.Range

// Region is a created pmem region; its Flush method is the durability
// barrier upper layers call.
type Region = nvdimm.Region

// Topology resolves NUMA placement for physical addresses.
type Topology = nvdimm.Topology

// MemRange associates a physical range with its NUMA placement.
type MemRange = nvdimm.MemRange

// NoNode means no NUMA node could be resolved for an address.
const NoNode = nvdimm.NoNode

// NewTopology builds a topology from the given ranges.
func NewTopology(ranges ...MemRange) *Topology {
	return nvdimm.NewTopology(ranges...)
}

// Probe brings up a pmem device on the transport. See pmem.Probe.
func Probe(transport Transport, opts Options) (*Device, error) {
	return pmem.Probe(transport, opts)
}

// Common sentinel errors.
var (
	ErrWrongDevice   = pmem.ErrWrongDevice
	ErrBadRange      = pmem.ErrBadRange
	ErrDeviceRemoved = pmem.ErrDeviceRemoved
	ErrFlushIO       = pmem.ErrFlushIO

	ErrQueueFull    = virtio.ErrQueueFull
	ErrNoQueue      = virtio.ErrNoQueue
	ErrConfigAccess = virtio.ErrConfigAccess

	// ErrBusGone is returned by Region.Flush once the owning device has been
	// removed out from under the region.
	ErrBusGone = nvdimm.ErrBusGone
)
