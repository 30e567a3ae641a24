// Package node implements the fixed-layout tree node and its codec (C2):
// every node occupies exactly the same number of bytes regardless of how
// many keys it holds, so a remote read can use a size computed once at
// startup instead of a two-phase read of an out-of-band length.
package node

import "dmbtree/addrmap"

// Node mirrors spec.md §3's tree-node entity. Keys/Values/Children are
// always allocated to their full Fanout width; only the first NumKeys (or
// NumKeys+1 children) are meaningful, but the codec still serializes the
// whole array so every on-wire node is the same size.
type Node struct {
	NumKeys  uint32
	Fanout   uint32
	IsLeaf   bool
	Address  addrmap.Address
	Keys     []uint64
	Values   []uint64          // meaningful for leaves
	Children []addrmap.Address // meaningful for internal nodes, len = Fanout+1
}

// New allocates a zeroed node of the given fanout at address, ready to be
// filled in by the caller before the first write.
func New(fanout uint32, isLeaf bool, address addrmap.Address) *Node {
	return &Node{
		Fanout:   fanout,
		IsLeaf:   isLeaf,
		Address:  address,
		Keys:     make([]uint64, fanout),
		Values:   make([]uint64, fanout),
		Children: make([]addrmap.Address, fanout+1),
	}
}

// ChildIndex implements the traversal's linear scan from spec.md §4.4.1:
// the smallest i such that key < Keys[i], else NumKeys. Equal keys route to
// the right child (strict "<", not "<=").
func (n *Node) ChildIndex(key uint64) int {
	for i := 0; i < int(n.NumKeys); i++ {
		if key < n.Keys[i] {
			return i
		}
	}
	return int(n.NumKeys)
}

// Find scans a leaf's sorted keys for an exact match, stopping early at the
// first strictly-greater key per the sortedness invariant (spec.md §4.4.2).
func (n *Node) Find(key uint64) (value uint64, found bool) {
	for i := 0; i < int(n.NumKeys); i++ {
		if n.Keys[i] == key {
			return n.Values[i], true
		}
		if n.Keys[i] > key {
			break
		}
	}
	return 0, false
}

// InsertPosition returns the first index i with key <= Keys[i] (or NumKeys
// if key is greater than every existing key), the position a new key is
// inserted at or an existing one is found at for update semantics.
func (n *Node) InsertPosition(key uint64) int {
	for i := 0; i < int(n.NumKeys); i++ {
		if key <= n.Keys[i] {
			return i
		}
	}
	return int(n.NumKeys)
}

// Clone returns a deep copy so the engine can mutate a node in place while a
// previous snapshot still lives on an operation's path.
func (n *Node) Clone() *Node {
	c := &Node{
		NumKeys: n.NumKeys,
		Fanout:  n.Fanout,
		IsLeaf:  n.IsLeaf,
		Address: n.Address,
	}
	c.Keys = append([]uint64(nil), n.Keys...)
	c.Values = append([]uint64(nil), n.Values...)
	c.Children = append([]addrmap.Address(nil), n.Children...)
	return c
}
