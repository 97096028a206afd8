// Package pmem implements the driver core of a paravirtualized persistent
// memory provider: the device lifecycle that discovers the backing range and
// registers it as an nvdimm region, and the asynchronous flush protocol that
// reports a durability barrier complete only once the host has persisted the
// corresponding writes.
package pmem

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/virtkit/vpmem/internal/nvdimm"
	"github.com/virtkit/vpmem/internal/virtio"
)

// Provider identity, diagnostics only.
const (
	ProviderName = "virtio-pmem"
	ProviderDesc = "Virtio pmem driver"
)

var (
	// ErrWrongDevice is returned by Probe when the transport does not
	// carry a pmem device.
	ErrWrongDevice = errors.New("pmem: not a virtio-pmem device")

	// ErrBadRange is returned when the resolved address range is empty or
	// wraps the address space.
	ErrBadRange = errors.New("pmem: invalid pmem range")

	// ErrDeviceRemoved is the result every flush still pending at teardown
	// resolves to.
	ErrDeviceRemoved = errors.New("pmem: device removed")

	// ErrFlushIO is returned when the host reports a flush failure.
	ErrFlushIO = errors.New("pmem: host flush failed")
)

// Lifecycle states, diagnostic. The protocol itself is gated by resource
// handles and the removed flag, not by state comparisons.
type devState int

const (
	stateCreated devState = iota
	stateChannelReady
	stateRangeResolved
	stateRegionRegistered
	stateDeviceReady
	stateActive
	stateAborted
	stateRemoved
)

func (s devState) String() string {
	switch s {
	case stateCreated:
		return "created"
	case stateChannelReady:
		return "channel-ready"
	case stateRangeResolved:
		return "range-resolved"
	case stateRegionRegistered:
		return "region-registered"
	case stateDeviceReady:
		return "device-ready"
	case stateActive:
		return "active"
	case stateAborted:
		return "aborted"
	case stateRemoved:
		return "removed"
	default:
		return "invalid"
	}
}

// Options configure a probe.
type Options struct {
	// Topology resolves NUMA placement for the pmem range. nil places
	// everything on node 0.
	Topology *nvdimm.Topology
	// Logger receives lifecycle and flush-path logs. nil uses the default.
	Logger *slog.Logger
}

// Device is one provider instance. Created by Probe, destroyed by Remove.
// The range and channel fields are written once during probe and read-only
// afterward.
type Device struct {
	transport virtio.Transport
	start     uint64
	size      uint64

	tracker *tracker
	ch      *channel
	bus     *nvdimm.Bus
	region  *nvdimm.Region

	logger  *slog.Logger
	state   devState
	removed atomic.Bool
}

// Probe brings up a pmem device on the transport: opens the flush channel,
// resolves the backing range, registers the nvdimm bus and region, and marks
// the device ready. Every failure unwinds the steps already completed, in
// reverse order, and returns a stage-specific error.
func Probe(transport virtio.Transport, opts Options) (*Device, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Wildcard vendor match: any transport carrying the pmem device type.
	if transport.DeviceID() != virtio.VIRTIO_ID_PMEM {
		return nil, fmt.Errorf("%w: device id %d", ErrWrongDevice, transport.DeviceID())
	}
	if !transport.ConfigAccess() {
		logger.Error("pmem: probe failure: config access disabled")
		return nil, fmt.Errorf("pmem: probe: %w", virtio.ErrConfigAccess)
	}

	dev := &Device{
		transport: transport,
		tracker:   newTracker(),
		logger:    logger,
		state:     stateCreated,
	}

	// Resources acquired so far, released in reverse on failure.
	var guards []func()
	abort := func(stage string, err error) (*Device, error) {
		dev.state = stateAborted
		for i := len(guards) - 1; i >= 0; i-- {
			guards[i]()
		}
		logger.Error("pmem: probe failed", "stage", stage, "err", err)
		return nil, fmt.Errorf("pmem: %s: %w", stage, err)
	}

	ch, err := openChannel(transport, dev.tracker, logger)
	if err != nil {
		return abort("init flush queue", err)
	}
	dev.ch = ch
	guards = append(guards, func() { ch.shutdown(ErrDeviceRemoved) })
	dev.state = stateChannelReady

	if err := dev.resolveRange(); err != nil {
		return abort("resolve range", err)
	}
	dev.state = stateRangeResolved

	bus, err := nvdimm.RegisterBus(&nvdimm.BusDesc{Provider: ProviderName}, logger)
	if err != nil {
		return abort("register nvdimm bus", err)
	}
	dev.bus = bus
	guards = append(guards, bus.Unregister)
	dev.state = stateRegionRegistered

	res := nvdimm.Range{Start: dev.start, Size: dev.size}
	desc := &nvdimm.RegionDesc{
		Res:          res,
		NumaNode:     opts.Topology.MemAddrToNode(res.Start),
		TargetNode:   opts.Topology.PhysToTargetNode(res.Start),
		Flush:        dev.Flush,
		ProviderData: dev,
		Flags:        nvdimm.RegionPageMap | nvdimm.RegionAsync,
	}
	if desc.TargetNode == nvdimm.NoNode {
		desc.TargetNode = desc.NumaNode
		logger.Debug("pmem: changing target node",
			"from", nvdimm.NoNode, "to", desc.TargetNode)
	}

	// The region may start issuing flushes the moment it exists, so the
	// device must be able to carry traffic first.
	transport.SetReady()
	guards = append(guards, transport.Reset)
	dev.state = stateDeviceReady

	region, err := nvdimm.CreatePmemRegion(bus, desc)
	if err != nil {
		return abort("create pmem region", err)
	}
	dev.region = region
	dev.state = stateActive

	logger.Info("pmem: device active",
		"provider", ProviderName,
		"start", fmt.Sprintf("%#x", dev.start),
		"size", dev.size,
		"numa_node", desc.NumaNode,
		"target_node", desc.TargetNode)
	return dev, nil
}

// resolveRange discovers the pmem range. The shared memory region capability
// wins when present (the address may be BAR-relative); otherwise the two
// little-endian config fields are read. Mutually exclusive sources, no retry.
func (d *Device) resolveRange() error {
	if shm, ok := d.transport.ShmRegion(virtio.VIRTIO_PMEM_SHMCAP_ID_PMEM_REGION); ok {
		d.start = shm.Addr
		d.size = shm.Len
	} else {
		start, err := d.transport.ReadConfigLE64(virtio.PmemConfigStart)
		if err != nil {
			return err
		}
		size, err := d.transport.ReadConfigLE64(virtio.PmemConfigSize)
		if err != nil {
			return err
		}
		d.start = start
		d.size = size
	}
	if r := (nvdimm.Range{Start: d.start, Size: d.size}); !r.Valid() {
		return fmt.Errorf("%w: start %#x size %d", ErrBadRange, d.start, d.size)
	}
	return nil
}

// Remove tears the device down. The bus is unregistered while the channel is
// still alive so in-flight flushes can complete or be drained; then the
// channel is deleted (draining any stragglers) and the transport reset.
func (d *Device) Remove() {
	if !d.removed.CompareAndSwap(false, true) {
		return
	}
	if d.bus != nil {
		d.bus.Unregister()
	}
	d.ch.shutdown(ErrDeviceRemoved)
	d.transport.Reset()
	d.state = stateRemoved
	d.logger.Info("pmem: device removed", "provider", ProviderName)
}

// Range returns the resolved pmem range.
func (d *Device) Range() nvdimm.Range {
	return nvdimm.Range{Start: d.start, Size: d.size}
}

// Region returns the created nvdimm region, nil before probe completes.
func (d *Device) Region() *nvdimm.Region {
	return d.region
}

// Bus returns the registered nvdimm bus.
func (d *Device) Bus() *nvdimm.Bus {
	return d.bus
}
