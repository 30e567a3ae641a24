// Package engine implements the operation state machine and B+tree engine
// (C4/C5): traversal, insert, search, leaf-split, internal-split and
// root-promotion as event-driven continuations over remote-I/O
// completions. The engine is cache-free by specification — every
// traversal re-reads nodes from the gateway rather than consulting a
// local copy (spec.md §5, "Cache omission").
package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"

	"dmbtree/addrmap"
	"dmbtree/node"
	"dmbtree/rmem"
	"dmbtree/workload"
)

// rootNodeID is the fixed node id the root always occupies. Combined with
// level 0 always resolving to offset 0 within its slab (spec.md §4.1),
// this makes the root's address a pure function of addrmap.Config —
// stable across root splits, which instead rewrite the content at this
// address (spec.md §9, "Root split as address reuse").
const rootNodeID = 0

// Engine is the compute-side B+tree engine. All tree-metadata mutation
// happens on the goroutine that calls Run; Submit may be called
// from other goroutines and only ever touch the pending map, which is
// guarded because of that.
type Engine struct {
	cfg    addrmap.Config
	fanout uint32
	gw     rmem.Gateway
	logger *log.Logger

	mu      sync.Mutex
	pending map[uint64]*Op

	// hints is the optional, non-authoritative address->address child-to-
	// parent hint map from spec.md §4.4.5. The engine records entries in it
	// but never reads them back: parent lookup always uses the path
	// snapshot or a separator-guided re-traversal.
	hints *ristretto.Cache[addrmap.Address, addrmap.Address]

	rootAddress addrmap.Address
	treeHeight  uint32
	nextNodeID  uint64

	Stats Stats
}

// New builds an engine for a tree of the given fanout, talking to gw for
// all remote I/O. It does not create the root; call Init for that.
func New(cfg addrmap.Config, fanout uint32, gw rmem.Gateway, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	hints, err := ristretto.NewCache(&ristretto.Config[addrmap.Address, addrmap.Address]{
		NumCounters: 10000,
		MaxCost:     1000,
		BufferItems: 64,
	})
	if err != nil {
		// A hint-map cache is an optimization, never load-bearing; fall
		// back to operating without one rather than failing startup.
		logger.Printf("engine: hint map disabled: %v", err)
		hints = nil
	}

	return &Engine{
		cfg:         cfg,
		fanout:      fanout,
		gw:          gw,
		logger:      logger,
		pending:     make(map[uint64]*Op),
		hints:       hints,
		rootAddress: addrmap.Allocate(cfg, rootNodeID, 0, true),
		treeHeight:  1,
		nextNodeID:  1, // 0 is reserved for the root
	}
}

// Init creates the initial empty leaf root and writes it to remote
// memory, per spec.md §3 "Tree initialization". It must be called before
// Run, and blocks until the write is acknowledged.
func (e *Engine) Init(ctx context.Context) error {
	root := node.New(e.fanout, true, e.rootAddress)
	buf := node.Encode(root)
	id := e.gw.SendWrite(e.rootAddress, buf)
	e.Stats.recordWrite()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case wc := <-e.gw.WriteCompletions():
			if wc.RequestID == id {
				return nil
			}
			// Not our completion (shouldn't happen before Run starts,
			// but stay defensive): put it back for Run to pick up isn't
			// possible on a receive-only channel, so just drop it — the
			// engine has issued no other requests yet.
			e.logger.Printf("engine: unexpected write completion %d during init", wc.RequestID)
		}
	}
}

// Submit starts a new operation. done is invoked exactly once, when the
// operation's leaf mutation is written, its search resolves, or its
// split sequence fully commits.
func (e *Engine) Submit(kind Kind, key, value uint64, done func(Result)) error {
	if kind != KindInsert && kind != KindSearch {
		return ErrDeleteUnsupported
	}
	op := &Op{
		ID:             uuid.New(),
		Kind:           kind,
		Key:            key,
		Value:          value,
		CurrentLevel:   0,
		CurrentAddress: e.currentRoot(),
		StartTime:      time.Now(),
		Done:           done,
	}
	e.startTraversal(op)
	return nil
}

func (e *Engine) currentRoot() addrmap.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rootAddress
}

func (e *Engine) startTraversal(op *Op) {
	op.CurrentAddress = e.currentRoot()
	e.issueRead(op, op.CurrentAddress)
}

func (e *Engine) issueRead(op *Op, addr addrmap.Address) {
	id := e.gw.SendRead(addr, node.Size(e.fanout))
	e.Stats.recordRead()
	e.mu.Lock()
	e.pending[id] = op
	e.mu.Unlock()
}

func (e *Engine) issueWrite(op *Op, addr addrmap.Address, n *node.Node) {
	id := e.gw.SendWrite(addr, node.Encode(n))
	e.Stats.recordWrite()
	e.mu.Lock()
	e.pending[id] = op
	e.mu.Unlock()
}

func (e *Engine) takePending(id uint64) (*Op, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	op, ok := e.pending[id]
	if ok {
		delete(e.pending, id)
	}
	return op, ok
}

// Run drives the engine's event loop: it dispatches gateway completions
// and, on each tick, launches a bounded prefix of due operations from q.
// It returns when ctx is cancelled or the queue is exhausted and past its
// deadline with no operations in flight.
func (e *Engine) Run(ctx context.Context, q *workload.Queue, tickInterval time.Duration, maxPerTick int) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case rc := <-e.gw.ReadCompletions():
			e.onReadComplete(rc)
		case wc := <-e.gw.WriteCompletions():
			e.onWriteComplete(wc)
		case now := <-ticker.C:
			e.tick(q, now, maxPerTick)
			e.mu.Lock()
			idle := len(e.pending) == 0
			e.mu.Unlock()
			if idle && q.Len() == 0 && q.Deadline().Before(now) {
				return
			}
		}
	}
}

// tick pulls a bounded prefix of due operations and launches each one,
// per spec.md §5 "Scheduling model". Past the queue's deadline it stops
// scheduling new operations but does not touch operations already
// in flight.
func (e *Engine) tick(q *workload.Queue, now time.Time, maxPerTick int) {
	if q.Deadline().Before(now) {
		return
	}
	for i := 0; i < maxPerTick; i++ {
		item, ok := q.PopDue(now)
		if !ok {
			return
		}
		kind := KindSearch
		if item.Kind == workload.OpInsert {
			kind = KindInsert
		} else if item.Kind == workload.OpDelete {
			if item.Done != nil {
				item.Done(Result{})
			}
			continue
		}
		if err := e.Submit(kind, item.Key, item.Value, item.Done); err != nil {
			e.logger.Printf("engine: dropping unsupported op: %v", err)
		}
	}
}

// onReadComplete implements the traversal continuation of spec.md
// §4.4.1, plus the read-parent phase of a split in progress.
func (e *Engine) onReadComplete(rc rmem.ReadCompletion) {
	op, ok := e.takePending(rc.RequestID)
	if !ok {
		e.logger.Printf("engine: debug: late read completion for request %d", rc.RequestID)
		return
	}

	n, _ := node.Decode(rc.Bytes)

	if op.SplitPhase == PhaseReadParent {
		e.continueParentLookup(op, n)
		return
	}

	op = op.withPath(n)

	if n.IsLeaf || op.CurrentLevel+1 >= e.currentHeight() {
		e.handleLeaf(op, n)
		return
	}

	idx := n.ChildIndex(op.Key)
	childAddr := n.Children[idx]
	if e.hints != nil {
		e.hints.Set(childAddr, n.Address, 1)
	}

	next := op.clone()
	next.CurrentLevel = op.CurrentLevel + 1
	next.CurrentAddress = childAddr
	e.issueRead(next, childAddr)
}

func (e *Engine) currentHeight() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.treeHeight
}

// handleLeaf implements spec.md §4.4.2.
func (e *Engine) handleLeaf(op *Op, leaf *node.Node) {
	switch op.Kind {
	case KindSearch:
		value, found := leaf.Find(op.Key)
		e.Stats.recordSearch()
		e.finish(op, Result{Found: found, Value: value})

	case KindInsert:
		pos := leaf.InsertPosition(op.Key)
		isUpdate := pos < int(leaf.NumKeys) && leaf.Keys[pos] == op.Key
		// A duplicate key always overwrites in place, even on a full leaf:
		// splitting is only for genuinely new keys (spec.md §8.2 scenario 4).
		if isUpdate || leaf.NumKeys < leaf.Fanout {
			e.insertIntoLeaf(op, leaf)
			return
		}
		e.beginLeafSplit(op, leaf)

	default:
		e.logger.Printf("engine: handleLeaf called with unexpected kind %v", op.Kind)
	}
}

func (e *Engine) insertIntoLeaf(op *Op, leaf *node.Node) {
	pos := leaf.InsertPosition(op.Key)
	updated := pos < int(leaf.NumKeys) && leaf.Keys[pos] == op.Key

	written := leaf.Clone()
	if updated {
		written.Values[pos] = op.Value
	} else {
		n := int(written.NumKeys)
		written.Keys = append(written.Keys[:pos], append([]uint64{op.Key}, written.Keys[pos:n]...)...)
		written.Values = append(written.Values[:pos], append([]uint64{op.Value}, written.Values[pos:n]...)...)
		written.NumKeys++
	}

	result := Result{Inserted: !updated, Updated: updated}
	e.finishAfterWrite(op, leaf.Address, written, result)
}

// finishAfterWrite writes n and completes op with result once the write
// is acknowledged.
func (e *Engine) finishAfterWrite(op *Op, addr addrmap.Address, n *node.Node, result Result) {
	op.SplitPhase = PhaseNone
	pendingResult := result
	e.issueWriteWithCallback(op, addr, n, func() {
		e.finish(op, pendingResult)
	})
}

func (e *Engine) issueWriteWithCallback(op *Op, addr addrmap.Address, n *node.Node, cb func()) {
	marker := op.clone()
	marker.SplitPhase = PhaseNone
	marker.writeDone = cb
	e.issueWrite(marker, addr, n)
}

func (e *Engine) finish(op *Op, result Result) {
	latency := time.Since(op.StartTime)
	e.Stats.recordCompletion(latency.Nanoseconds())
	if op.Kind == KindInsert {
		e.Stats.recordInsert()
	}
	e.logger.Printf("engine: op %s (key=%d) completed in %s", op.ID, op.Key, latency)
	if op.Done != nil {
		op.Done(result)
	}
}

// onWriteComplete dispatches a write completion either to a plain
// terminal callback (leaf insert, parent update) or into the split
// continuation chain.
func (e *Engine) onWriteComplete(wc rmem.WriteCompletion) {
	op, ok := e.takePending(wc.RequestID)
	if !ok {
		e.logger.Printf("engine: debug: late write completion for request %d", wc.RequestID)
		return
	}

	if op.writeDone != nil {
		op.writeDone()
		return
	}

	e.continueSplit(op)
}
