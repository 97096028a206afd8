package nvdimm

import (
	"fmt"
	"math"
	"sync/atomic"
)

// Range is a physical address range.
type Range struct {
	Start uint64
	Size  uint64
}

// End returns the last address covered by the range.
func (r Range) End() uint64 {
	return r.Start + r.Size - 1
}

// Valid reports whether the range is non-empty and does not wrap.
func (r Range) Valid() bool {
	return r.Size > 0 && r.Start <= math.MaxUint64-(r.Size-1)
}

// Contains reports whether addr falls inside the range.
func (r Range) Contains(addr uint64) bool {
	return addr >= r.Start && addr-r.Start < r.Size
}

// FlushFunc is the provider's durability barrier. It must not return until
// all prior writes to the region are persisted on the host.
type FlushFunc func() error

// RegionFlags carry region capabilities.
type RegionFlags uint32

const (
	// RegionPageMap marks the region as backed by the page map (usable for
	// direct access).
	RegionPageMap RegionFlags = 1 << iota
	// RegionAsync marks the region as requiring an asynchronous flush
	// through FlushFunc rather than CPU cache flushing alone.
	RegionAsync
)

// RegionDesc describes a pmem region to create.
type RegionDesc struct {
	Res        Range
	NumaNode   int
	TargetNode int
	Flush      FlushFunc
	// ProviderData is opaque provider state, available back from the region.
	ProviderData any
	Flags        RegionFlags
}

// Region is one created pmem region. Flush dispatches the durability barrier
// to the provider while the owning bus is registered.
type Region struct {
	desc     RegionDesc
	detached atomic.Bool
}

// CreatePmemRegion creates a pmem-backed region on the bus.
func CreatePmemRegion(bus *Bus, desc *RegionDesc) (*Region, error) {
	if desc == nil || !desc.Res.Valid() {
		return nil, fmt.Errorf("%w: invalid resource range", ErrRegionCreate)
	}
	if desc.Flags&RegionAsync != 0 && desc.Flush == nil {
		return nil, fmt.Errorf("%w: async region without flush callback", ErrRegionCreate)
	}
	if desc.NumaNode < 0 || desc.TargetNode < 0 {
		return nil, fmt.Errorf("%w: unresolved numa placement (node %d, target %d)",
			ErrRegionCreate, desc.NumaNode, desc.TargetNode)
	}
	r := &Region{desc: *desc}
	if err := bus.addRegion(r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegionCreate, err)
	}
	bus.logger.Debug("nvdimm: created pmem region",
		"provider", bus.desc.Provider,
		"start", fmt.Sprintf("%#x", desc.Res.Start),
		"size", desc.Res.Size,
		"numa_node", desc.NumaNode,
		"target_node", desc.TargetNode)
	return r, nil
}

// Flush issues a durability barrier for the region. For async regions this
// blocks until the provider acknowledges persistence.
func (r *Region) Flush() error {
	if r.detached.Load() {
		return ErrBusGone
	}
	if r.desc.Flags&RegionAsync == 0 || r.desc.Flush == nil {
		// Synchronous region: writes are durable once CPU caches are
		// flushed, which is the caller's job. Nothing to signal.
		return nil
	}
	return r.desc.Flush()
}

// Res returns the region's physical range.
func (r *Region) Res() Range {
	return r.desc.Res
}

// NumaNode returns the memory-affinity node of the region.
func (r *Region) NumaNode() int {
	return r.desc.NumaNode
}

// TargetNode returns the placement target node of the region.
func (r *Region) TargetNode() int {
	return r.desc.TargetNode
}

// ProviderData returns the provider's opaque data.
func (r *Region) ProviderData() any {
	return r.desc.ProviderData
}

func (r *Region) detach() {
	r.detached.Store(true)
}
