package nvdimm

// NoNode means no NUMA node could be resolved for an address.
const NoNode = -1

// MemRange associates a physical range with its NUMA placement.
type MemRange struct {
	Res Range
	// Node is the memory-affinity node of the range.
	Node int
	// TargetNode is the explicit placement target, or NoNode when the
	// platform does not define one for this range.
	TargetNode int
}

// Topology resolves physical addresses to NUMA nodes. A nil or empty
// topology places everything on node 0 with no target node, matching
// platforms without an affinity table.
type Topology struct {
	ranges []MemRange
}

// NewTopology builds a topology from the given ranges.
func NewTopology(ranges ...MemRange) *Topology {
	return &Topology{ranges: ranges}
}

// MemAddrToNode returns the memory-affinity node for addr, defaulting to
// node 0 when the address is not covered by the topology.
func (t *Topology) MemAddrToNode(addr uint64) int {
	if t == nil {
		return 0
	}
	for _, mr := range t.ranges {
		if mr.Res.Contains(addr) {
			return mr.Node
		}
	}
	return 0
}

// PhysToTargetNode returns the placement target node for addr, or NoNode
// when none is defined.
func (t *Topology) PhysToTargetNode(addr uint64) int {
	if t == nil {
		return NoNode
	}
	for _, mr := range t.ranges {
		if mr.Res.Contains(addr) {
			return mr.TargetNode
		}
	}
	return NoNode
}
