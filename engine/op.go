package engine

import (
	"time"

	"github.com/google/uuid"

	"dmbtree/addrmap"
	"dmbtree/node"
	"dmbtree/workload"
)

// Kind is the operation-record kind from spec.md §3. An insert transitions
// into one of the split kinds in place when its target leaf is full; it
// never becomes a brand-new record, matching "discarded only when the
// operation completes".
type Kind int

const (
	KindInsert Kind = iota
	KindSearch
	KindSplitLeaf
	KindSplitInternal
)

// Phase is the split-sequence sub-state from spec.md §4.4.6. PhaseWriteRoot
// is this implementation's name for the state spec.md describes inline as
// "write the new internal root, then on completion update root_address and
// increment tree_height" — the reference text folds it into "write-new"'s
// continuation; keeping it as its own phase here makes the state machine's
// switch exhaustive instead of overloading write-new's meaning.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseWriteOld
	PhaseWriteNew
	PhaseWriteRoot
	PhaseReadParent
	PhaseUpdateParent
)

// Result is what a faithful re-implementation should hand back to an
// external caller per spec.md §7, since the reference surfaces nothing
// beyond statistics/logs. It is an alias of workload.Result so that a
// workload.Item's completion callback and an Op's Done field are the same
// type without engine and workload importing each other.
type Result = workload.Result

// Op is the per-in-flight-operation record of spec.md §3.
type Op struct {
	ID uuid.UUID

	Kind  Kind
	Key   uint64
	Value uint64

	CurrentLevel   uint32
	CurrentAddress addrmap.Address

	// Path holds node snapshots read during traversal, oldest to newest,
	// so a split node's parent can be identified without a secondary
	// lookup (spec.md §4.4.5).
	Path []*node.Node

	SplitPhase Phase

	OldNode      *node.Node
	NewNode      *node.Node
	SeparatorKey uint64

	ParentAddress addrmap.Address
	IsRootSplit   bool

	// IncomingChild/IncomingKey carry the (separator, new child) pair an
	// internal-split inherits from the split below it; zero for a leaf
	// split, which instead derives them from the leaf's own contents.
	IncomingKey   uint64
	IncomingChild addrmap.Address

	StartTime time.Time

	// Done is invoked exactly once, when the operation terminates.
	Done func(Result)

	// writeDone, when set, marks this request state as a plain terminal
	// write (leaf insert, parent update) rather than a step in the split
	// continuation chain: onWriteComplete runs it instead of advancing
	// SplitPhase.
	writeDone func()
}

// clone returns a shallow copy used whenever the engine advances an
// operation under a new request id: "clone the operation into a new
// request state with current_level++ ... drop the old record"
// (spec.md §4.4.1). Path is copied by reference since it is only ever
// appended to, never mutated in place.
func (op *Op) clone() *Op {
	c := *op
	return &c
}

func (op *Op) withPath(n *node.Node) *Op {
	c := op.clone()
	c.Path = append(append([]*node.Node(nil), op.Path...), n)
	return c
}

// parentFromPath returns the authoritative parent recorded on the
// traversal path, if one was captured: the node at path[len-2], the node
// that referenced the splitting node as a child (spec.md §4.4.5).
func (op *Op) parentFromPath() (*node.Node, bool) {
	if len(op.Path) < 2 {
		return nil, false
	}
	return op.Path[len(op.Path)-2], true
}
