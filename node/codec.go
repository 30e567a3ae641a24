package node

import (
	"encoding/binary"

	"dmbtree/addrmap"
)

// headerSize covers NumKeys(4) + Fanout(4) + IsLeaf(1) + Address(8), the
// fixed prefix before the key/value/child arrays (spec.md §4.2).
const headerSize = 4 + 4 + 1 + 8

// Size returns the constant on-wire size of a node with the given fanout,
// per spec.md invariant 7: 2*u32 + bool + u64 + fanout*u64 (keys) +
// fanout*u64 (values) + (fanout+1)*u64 (children).
func Size(fanout uint32) uint64 {
	return uint64(headerSize) + uint64(fanout)*8 + uint64(fanout)*8 + uint64(fanout+1)*8
}

// Encode serializes n into a buffer of exactly Size(n.Fanout) bytes.
// Unused key/value/child slots beyond NumKeys are zero-filled, and the full
// arrays are always written (not just the meaningful prefix) so the node
// occupies the same number of bytes no matter how full it is.
func Encode(n *Node) []byte {
	size := Size(n.Fanout)
	buf := make([]byte, size)
	offset := 0

	binary.LittleEndian.PutUint32(buf[offset:], n.NumKeys)
	offset += 4
	binary.LittleEndian.PutUint32(buf[offset:], n.Fanout)
	offset += 4
	if n.IsLeaf {
		buf[offset] = 1
	}
	offset += 1
	binary.LittleEndian.PutUint64(buf[offset:], uint64(n.Address))
	offset += 8

	for i := 0; i < int(n.Fanout); i++ {
		var k uint64
		if i < len(n.Keys) {
			k = n.Keys[i]
		}
		binary.LittleEndian.PutUint64(buf[offset:], k)
		offset += 8
	}
	for i := 0; i < int(n.Fanout); i++ {
		var v uint64
		if i < len(n.Values) {
			v = n.Values[i]
		}
		binary.LittleEndian.PutUint64(buf[offset:], v)
		offset += 8
	}
	for i := 0; i < int(n.Fanout)+1; i++ {
		var c addrmap.Address
		if i < len(n.Children) {
			c = n.Children[i]
		}
		binary.LittleEndian.PutUint64(buf[offset:], uint64(c))
		offset += 8
	}

	return buf
}

// Decode deserializes a node previously produced by Encode. A payload
// shorter than the fixed header is treated as a known degradation (a lost
// or corrupt remote read): it returns a default-constructed, empty node
// rather than an error, matching spec.md §4.5/§7 ("Corrupt payload").
func Decode(buf []byte) (*Node, error) {
	if len(buf) < headerSize {
		return &Node{}, nil
	}

	n := &Node{}
	offset := 0
	n.NumKeys = binary.LittleEndian.Uint32(buf[offset:])
	offset += 4
	n.Fanout = binary.LittleEndian.Uint32(buf[offset:])
	offset += 4
	n.IsLeaf = buf[offset] != 0
	offset += 1
	n.Address = addrmap.Address(binary.LittleEndian.Uint64(buf[offset:]))
	offset += 8

	want := Size(n.Fanout)
	if uint64(len(buf)) < want {
		return &Node{}, nil
	}

	n.Keys = make([]uint64, n.Fanout)
	for i := range n.Keys {
		n.Keys[i] = binary.LittleEndian.Uint64(buf[offset:])
		offset += 8
	}
	n.Values = make([]uint64, n.Fanout)
	for i := range n.Values {
		n.Values[i] = binary.LittleEndian.Uint64(buf[offset:])
		offset += 8
	}
	n.Children = make([]addrmap.Address, n.Fanout+1)
	for i := range n.Children {
		n.Children[i] = addrmap.Address(binary.LittleEndian.Uint64(buf[offset:]))
		offset += 8
	}

	return n, nil
}
