// Package addrmap implements the compute-side address map (C1): it
// translates a tree-node identifier and level into a remote address on a
// specific memory node, and tells the engine which channel to route a
// request through once it has an address.
package addrmap

import (
	"fmt"
	"log"
)

// Address is a byte offset into the combined remote address space of every
// memory node, starting at Config.Base.
type Address uint64

// Config describes the memory-node slab layout addresses are placed into.
// It is derived once from the tree's fanout and memory-node count and never
// changes for the lifetime of a tree.
type Config struct {
	Base           Address // start of the combined address space
	SlabSize       uint64  // bytes owned by each memory node
	NumMemoryNodes uint32  // N
	NodeSize       uint64  // constant on-wire node size, from node.Size(fanout)
	Level1BandSize uint64  // L1: band width reserved per internal level
	KBand          uint64  // node_id mod K_band slots per non-leaf band
	InternalLevels uint32  // number of internal levels above the leaves the bands are sized for
}

// DefaultSlabSize matches the reference memory server's default 16 MiB slab
// (spec.md §6.1).
const DefaultSlabSize = 16 << 20

// Offset 0 of each slab's advisory lock sub-range (spec.md §6.1) is reserved
// by convention for a future lock at that memory node; this engine never
// reads or writes it.

// NewConfig builds a Config sized for the given fanout, node size and
// memory-node count, choosing a leaf-band-friendly default layout: a small
// root band, one fixed-width band per internal level, and the remainder of
// the slab for leaves.
func NewConfig(base Address, slabSize uint64, numMemoryNodes uint32, nodeSize uint64, maxInternalLevels uint32) Config {
	if numMemoryNodes == 0 {
		numMemoryNodes = 1
	}
	// Reserve a modest number of slots per internal level; leaves get
	// whatever remains after the root and internal bands are carved out.
	const slotsPerInternalBand = 4096
	level1Band := nodeSize * slotsPerInternalBand
	return Config{
		Base:           base,
		SlabSize:       slabSize,
		NumMemoryNodes: numMemoryNodes,
		NodeSize:       nodeSize,
		Level1BandSize: level1Band,
		KBand:          slotsPerInternalBand,
		InternalLevels: maxInternalLevels,
	}
}

// leafBandOffset returns the byte offset within a slab where the leaf band
// begins: past the root's single-node band and every internal level's band.
func (c Config) leafBandOffset() uint64 {
	return c.NodeSize + uint64(c.InternalLevels)*c.Level1BandSize
}

// band returns the byte offset within a slab where nodes of the given
// level are placed, per the §4.1 layout table.
func (c Config) band(level uint32) uint64 {
	switch {
	case level == 0:
		return 0
	default:
		return c.NodeSize + uint64(level-1)*c.Level1BandSize
	}
}

// Allocate computes the remote address for a node with the given id and
// level, per spec.md §4.1: choose a memory node by node_id mod N, then an
// offset within that node's band by node_id mod K_band.
func Allocate(cfg Config, nodeID uint64, level uint32, isLeaf bool) Address {
	m := nodeID % uint64(cfg.NumMemoryNodes)
	slabStart := uint64(cfg.Base) + m*cfg.SlabSize

	if level == 0 {
		// Only one root node ever exists; level-0 always resolves to
		// offset 0 within whichever slab currently hosts the root.
		return Address(slabStart)
	}

	var offset uint64
	if isLeaf {
		leafBand := cfg.leafBandOffset()
		leafBandSize := cfg.SlabSize - leafBand
		slots := leafBandSize / cfg.NodeSize
		if slots == 0 {
			slots = 1
		}
		offset = leafBand + (nodeID%slots)*cfg.NodeSize
	} else {
		offset = cfg.band(level) + (nodeID%cfg.KBand)*cfg.NodeSize
	}
	return Address(slabStart + offset)
}

// MemoryNode returns the memory-node index that owns address, per
// spec.md §4.1: memory_node(address) = (address - base) / slab_size.
// Out-of-range addresses fall back to channel 0 with a warning, matching
// the reference implementation's degradation rather than a hard failure.
func MemoryNode(cfg Config, addr Address) uint32 {
	if addr < cfg.Base {
		log.Printf("addrmap: address %d below base %d, routing to channel 0", addr, cfg.Base)
		return 0
	}
	idx := uint64(addr-cfg.Base) / cfg.SlabSize
	if idx >= uint64(cfg.NumMemoryNodes) {
		log.Printf("addrmap: address %d out of range for %d memory nodes, routing to channel 0", addr, cfg.NumMemoryNodes)
		return 0
	}
	return uint32(idx)
}

// String renders an address as an absolute hexadecimal value for logging.
func (a Address) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}
