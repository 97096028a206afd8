package nvdimm

import (
	"errors"
	"testing"
)

func testBus(t *testing.T) *Bus {
	t.Helper()
	bus, err := RegisterBus(&BusDesc{Provider: "test-pmem"}, nil)
	if err != nil {
		t.Fatalf("RegisterBus failed: %v", err)
	}
	return bus
}

func TestRangeValid(t *testing.T) {
	cases := []struct {
		name  string
		r     Range
		valid bool
	}{
		{"Simple", Range{Start: 0x1000, Size: 0x1000}, true},
		{"ZeroSize", Range{Start: 0x1000, Size: 0}, false},
		{"EndsAtTop", Range{Start: ^uint64(0) - 0xfff, Size: 0x1000}, true},
		{"Wraps", Range{Start: ^uint64(0) - 10, Size: 100}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.r.Valid(); got != tc.valid {
				t.Fatalf("Valid() = %v, want %v", got, tc.valid)
			}
		})
	}
}

func TestRegisterBusRequiresProvider(t *testing.T) {
	if _, err := RegisterBus(&BusDesc{}, nil); !errors.Is(err, ErrBusRegister) {
		t.Fatalf("expected ErrBusRegister, got %v", err)
	}
	if _, err := RegisterBus(nil, nil); !errors.Is(err, ErrBusRegister) {
		t.Fatalf("expected ErrBusRegister for nil desc, got %v", err)
	}
}

func TestRegionFlushDispatch(t *testing.T) {
	bus := testBus(t)
	defer bus.Unregister()

	flushes := 0
	region, err := CreatePmemRegion(bus, &RegionDesc{
		Res:   Range{Start: 0x1000, Size: 0x1000},
		Flush: func() error { flushes++; return nil },
		Flags: RegionPageMap | RegionAsync,
	})
	if err != nil {
		t.Fatalf("CreatePmemRegion failed: %v", err)
	}
	if err := region.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if flushes != 1 {
		t.Fatalf("expected 1 provider flush, got %d", flushes)
	}
}

func TestSyncRegionFlushIsNoop(t *testing.T) {
	bus := testBus(t)
	defer bus.Unregister()

	region, err := CreatePmemRegion(bus, &RegionDesc{
		Res:   Range{Start: 0x1000, Size: 0x1000},
		Flags: RegionPageMap,
	})
	if err != nil {
		t.Fatalf("CreatePmemRegion failed: %v", err)
	}
	if err := region.Flush(); err != nil {
		t.Fatalf("sync region flush: %v", err)
	}
}

func TestRegionCreateValidation(t *testing.T) {
	bus := testBus(t)
	defer bus.Unregister()

	t.Run("BadRange", func(t *testing.T) {
		_, err := CreatePmemRegion(bus, &RegionDesc{Res: Range{Start: 1, Size: 0}})
		if !errors.Is(err, ErrRegionCreate) {
			t.Fatalf("expected ErrRegionCreate, got %v", err)
		}
	})
	t.Run("AsyncWithoutFlush", func(t *testing.T) {
		_, err := CreatePmemRegion(bus, &RegionDesc{
			Res:   Range{Start: 0x1000, Size: 0x1000},
			Flags: RegionAsync,
		})
		if !errors.Is(err, ErrRegionCreate) {
			t.Fatalf("expected ErrRegionCreate, got %v", err)
		}
	})
	t.Run("NegativeNode", func(t *testing.T) {
		_, err := CreatePmemRegion(bus, &RegionDesc{
			Res:      Range{Start: 0x1000, Size: 0x1000},
			NumaNode: -1,
		})
		if !errors.Is(err, ErrRegionCreate) {
			t.Fatalf("expected ErrRegionCreate, got %v", err)
		}
	})
}

func TestUnregisterDetachesRegions(t *testing.T) {
	bus := testBus(t)
	region, err := CreatePmemRegion(bus, &RegionDesc{
		Res:   Range{Start: 0x1000, Size: 0x1000},
		Flush: func() error { return nil },
		Flags: RegionAsync,
	})
	if err != nil {
		t.Fatalf("CreatePmemRegion failed: %v", err)
	}

	bus.Unregister()
	if bus.Active() {
		t.Fatal("bus still active after Unregister")
	}
	if err := region.Flush(); !errors.Is(err, ErrBusGone) {
		t.Fatalf("expected ErrBusGone after unregister, got %v", err)
	}

	// Unregister is idempotent, and new regions are refused.
	bus.Unregister()
	if _, err := CreatePmemRegion(bus, &RegionDesc{Res: Range{Start: 0x1000, Size: 0x1000}}); !errors.Is(err, ErrRegionCreate) {
		t.Fatalf("expected ErrRegionCreate on dead bus, got %v", err)
	}
}

func TestTopologyLookup(t *testing.T) {
	topo := NewTopology(
		MemRange{Res: Range{Start: 0x0, Size: 0x1000_0000}, Node: 0, TargetNode: NoNode},
		MemRange{Res: Range{Start: 0x1000_0000, Size: 0x1000_0000}, Node: 1, TargetNode: 2},
	)

	if n := topo.MemAddrToNode(0x500); n != 0 {
		t.Fatalf("expected node 0, got %d", n)
	}
	if n := topo.MemAddrToNode(0x1000_0500); n != 1 {
		t.Fatalf("expected node 1, got %d", n)
	}
	if n := topo.PhysToTargetNode(0x1000_0500); n != 2 {
		t.Fatalf("expected target node 2, got %d", n)
	}
	if n := topo.PhysToTargetNode(0x500); n != NoNode {
		t.Fatalf("expected NoNode, got %d", n)
	}

	// Uncovered addresses and nil topologies degrade to node 0 / NoNode.
	if n := topo.MemAddrToNode(0xffff_ffff_0000); n != 0 {
		t.Fatalf("expected default node 0, got %d", n)
	}
	var nilTopo *Topology
	if n := nilTopo.MemAddrToNode(0x500); n != 0 {
		t.Fatalf("nil topology: expected node 0, got %d", n)
	}
	if n := nilTopo.PhysToTargetNode(0x500); n != NoNode {
		t.Fatalf("nil topology: expected NoNode, got %d", n)
	}
}
