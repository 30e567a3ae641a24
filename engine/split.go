package engine

import (
	"dmbtree/addrmap"
	"dmbtree/node"
)

// allocateNodeID returns a fresh, engine-process-wide unique node id.
func (e *Engine) allocateNodeID() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextNodeID
	e.nextNodeID++
	return id
}

func (e *Engine) currentRootAddr() addrmap.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rootAddress
}

// incrementHeight bumps tree height after a root split. The root address
// itself never changes — writeNewRoot already wrote the new internal
// root's content at the existing root address (spec.md §9, "Root split
// as address reuse") — only the height invariant needs updating here.
func (e *Engine) incrementHeight() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.treeHeight++
}

// beginLeafSplit implements spec.md §4.4.3, steps 1-6 up to issuing the
// write-old request. op.Kind becomes KindSplitLeaf; the operation only
// completes once the whole split sequence (and any cascading parent
// split) has committed.
func (e *Engine) beginLeafSplit(op *Op, leaf *node.Node) {
	fanout := int(leaf.Fanout)

	pos := leaf.InsertPosition(op.Key)
	keys := make([]uint64, 0, fanout+1)
	vals := make([]uint64, 0, fanout+1)
	keys = append(keys, leaf.Keys[:pos]...)
	keys = append(keys, op.Key)
	keys = append(keys, leaf.Keys[pos:fanout]...)
	vals = append(vals, leaf.Values[:pos]...)
	vals = append(vals, op.Value)
	vals = append(vals, leaf.Values[pos:fanout]...)

	s := fanout / 2
	oldKeys, oldVals := keys[:s], vals[:s]
	newKeys, newVals := keys[s:], vals[s:]
	separator := newKeys[0]

	isRootSplit := leaf.Address == e.currentRootAddr()
	newLevel := op.CurrentLevel
	if isRootSplit {
		newLevel = op.CurrentLevel + 1
	}

	newID := e.allocateNodeID()
	newAddr := addrmap.Allocate(e.cfg, newID, newLevel, true)

	oldAddr := leaf.Address
	if isRootSplit {
		oldID := e.allocateNodeID()
		oldAddr = addrmap.Allocate(e.cfg, oldID, newLevel, true)
	}

	oldNode := node.New(leaf.Fanout, true, oldAddr)
	copy(oldNode.Keys, oldKeys)
	copy(oldNode.Values, oldVals)
	oldNode.NumKeys = uint32(len(oldKeys))

	newNode := node.New(leaf.Fanout, true, newAddr)
	copy(newNode.Keys, newKeys)
	copy(newNode.Values, newVals)
	newNode.NumKeys = uint32(len(newKeys))

	op.Kind = KindSplitLeaf
	op.OldNode = oldNode
	op.NewNode = newNode
	op.SeparatorKey = separator
	op.IsRootSplit = isRootSplit
	op.IncomingKey = separator
	op.IncomingChild = newAddr

	if !isRootSplit {
		if parent, ok := op.parentFromPath(); ok {
			op.ParentAddress = parent.Address
		} else {
			e.logger.Printf("engine: debug: %v, falling back to separator-guided re-traversal", errPathTooShort)
			op.ParentAddress = 0
		}
	}

	op.SplitPhase = PhaseWriteOld
	e.issueWrite(op, oldNode.Address, oldNode)
}

// beginInternalSplit implements spec.md §4.4.4: the same shape as a leaf
// split, except the middle key is promoted rather than duplicated, and
// the assembled arrays carry fanout+1 keys / fanout+2 children.
func (e *Engine) beginInternalSplit(op *Op, parent *node.Node) {
	fanout := int(parent.Fanout)

	pos := parent.InsertPosition(op.IncomingKey)
	keys := make([]uint64, 0, fanout+1)
	children := make([]addrmap.Address, 0, fanout+2)

	keys = append(keys, parent.Keys[:pos]...)
	keys = append(keys, op.IncomingKey)
	keys = append(keys, parent.Keys[pos:fanout]...)

	children = append(children, parent.Children[:pos+1]...)
	children = append(children, op.IncomingChild)
	children = append(children, parent.Children[pos+1:fanout+1]...)

	mid := len(keys) / 2
	promoted := keys[mid]

	oldKeys := keys[:mid]
	oldChildren := children[:mid+1]
	newKeys := keys[mid+1:]
	newChildren := children[mid+1:]

	isRootSplit := parent.Address == e.currentRootAddr()
	newLevel := op.CurrentLevel
	if isRootSplit {
		newLevel = op.CurrentLevel + 1
	}

	newID := e.allocateNodeID()
	newAddr := addrmap.Allocate(e.cfg, newID, newLevel, false)

	oldAddr := parent.Address
	if isRootSplit {
		oldID := e.allocateNodeID()
		oldAddr = addrmap.Allocate(e.cfg, oldID, newLevel, false)
	}

	oldNode := node.New(parent.Fanout, false, oldAddr)
	copy(oldNode.Keys, oldKeys)
	copy(oldNode.Children, oldChildren)
	oldNode.NumKeys = uint32(len(oldKeys))

	newNode := node.New(parent.Fanout, false, newAddr)
	copy(newNode.Keys, newKeys)
	copy(newNode.Children, newChildren)
	newNode.NumKeys = uint32(len(newKeys))

	op.Kind = KindSplitInternal
	op.OldNode = oldNode
	op.NewNode = newNode
	op.SeparatorKey = promoted
	op.IsRootSplit = isRootSplit
	op.IncomingKey = promoted
	op.IncomingChild = newAddr

	if !isRootSplit {
		// The parent-of-parent is one entry further back on the path
		// than the node that was just split (its own parent lookup may
		// already have consumed the tail of Path, so fall back to
		// separator-guided recovery whenever it is missing).
		op.ParentAddress = 0
		for i := len(op.Path) - 1; i > 0; i-- {
			if op.Path[i].Address == parent.Address {
				op.ParentAddress = op.Path[i-1].Address
				break
			}
		}
	}

	op.SplitPhase = PhaseWriteOld
	e.issueWrite(op, oldNode.Address, oldNode)
}

// continueSplit advances a split sequence after the write/read that just
// completed, per the state table in spec.md §4.4.6.
func (e *Engine) continueSplit(op *Op) {
	switch op.SplitPhase {
	case PhaseWriteOld:
		op.SplitPhase = PhaseWriteNew
		e.issueWrite(op, op.NewNode.Address, op.NewNode)

	case PhaseWriteNew:
		if op.IsRootSplit {
			e.writeNewRoot(op)
			return
		}
		e.beginParentLookup(op)

	case PhaseWriteRoot:
		e.incrementHeight()
		e.finish(op, Result{Inserted: true, SplitHappened: true})

	case PhaseUpdateParent:
		e.finish(op, Result{Inserted: true, SplitHappened: true})

	default:
		e.logger.Printf("engine: continueSplit called with phase %v", op.SplitPhase)
	}
}

// writeNewRoot builds the fresh internal root (one key, two children) at
// the stable root address and writes it, per spec.md §4.4.3 step 6 /
// §9 "Root split as address reuse": the old root's content has already
// been relocated to OldNode.Address by the write-old step, so the root
// address itself is free to be repurposed as the new internal root.
func (e *Engine) writeNewRoot(op *Op) {
	rootAddr := e.currentRootAddr()
	newRoot := node.New(op.OldNode.Fanout, false, rootAddr)
	newRoot.Keys[0] = op.SeparatorKey
	newRoot.Children[0] = op.OldNode.Address
	newRoot.Children[1] = op.NewNode.Address
	newRoot.NumKeys = 1

	op.SplitPhase = PhaseWriteRoot
	e.issueWrite(op, rootAddr, newRoot)
}

// beginParentLookup starts the read-parent phase: a direct read if the
// path gave us the parent's address, otherwise a separator-guided
// re-traversal from the root (spec.md §4.4.3 step 6, §4.4.5).
func (e *Engine) beginParentLookup(op *Op) {
	// The parent sits one level up from the node that just split.
	if op.CurrentLevel > 0 {
		op.CurrentLevel--
	}
	op.SplitPhase = PhaseReadParent
	addr := op.ParentAddress
	if addr == 0 {
		addr = e.currentRootAddr()
	}
	e.issueRead(op, addr)
}

// continueParentLookup handles a read completion while SplitPhase is
// PhaseReadParent: either the node just read is the authoritative parent
// (its address was known from the path), or it is a candidate encountered
// while descending from the root and must be checked for containment of
// the split node's old/new address (spec.md §4.4.3 step 6's recovery
// path, re-entering this same phase per §4.4.6 until the parent is
// found).
func (e *Engine) continueParentLookup(op *Op, n *node.Node) {
	if op.ParentAddress != 0 && n.Address == op.ParentAddress {
		e.applyParentUpdate(op, n)
		return
	}

	for i := 0; i < int(n.NumKeys)+1; i++ {
		if n.Children[i] == op.OldNode.Address || n.Children[i] == op.NewNode.Address {
			e.applyParentUpdate(op, n)
			return
		}
	}

	// Not the parent: descend toward it using the separator key, staying
	// in PhaseReadParent so this continuation fires again on the next
	// read.
	idx := n.ChildIndex(op.SeparatorKey)
	e.issueRead(op, n.Children[idx])
}

// applyParentUpdate inserts (separator, new-child) into the parent in
// sorted position and writes it back, or launches an internal split if
// the parent is already full (spec.md §4.4.3 step 6's final paragraph).
func (e *Engine) applyParentUpdate(op *Op, parent *node.Node) {
	if e.hints != nil {
		e.hints.Set(op.OldNode.Address, parent.Address, 1)
		e.hints.Set(op.NewNode.Address, parent.Address, 1)
	}

	if parent.NumKeys >= parent.Fanout {
		e.beginInternalSplit(op, parent)
		return
	}

	pos := parent.InsertPosition(op.IncomingKey)
	written := parent.Clone()
	n := int(written.NumKeys)
	written.Keys = append(written.Keys[:pos], append([]uint64{op.IncomingKey}, written.Keys[pos:n]...)...)
	written.Children = append(written.Children[:pos+1], append([]addrmap.Address{op.IncomingChild}, written.Children[pos+1:n+1]...)...)
	written.NumKeys++

	op.SplitPhase = PhaseUpdateParent
	e.issueWrite(op, parent.Address, written)
}
