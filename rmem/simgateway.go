package rmem

import (
	"context"
	"encoding/binary"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"dmbtree/addrmap"
)

// SimGateway is an in-process stand-in for the out-of-scope memory server
// and transport layer (spec.md §6.1, §6.2): a passive per-memory-node byte
// store, fed by one worker goroutine per memory node so a request is always
// routed to the channel its address maps to, with a small simulated
// latency so completions genuinely arrive out of send order. It exists so
// the engine in package engine can be driven end to end in tests and the
// demo command; it is not part of the core's specified scope.
type SimGateway struct {
	cfg addrmap.Config

	stores []*store // one per memory node

	reqCh []chan request

	readCompl  chan ReadCompletion
	writeCompl chan WriteCompletion

	counter uint64 // atomic

	minLatency, maxLatency time.Duration

	group  *errgroup.Group
	cancel context.CancelFunc
}

type reqKind int

const (
	reqRead reqKind = iota
	reqWrite
)

type request struct {
	id   uint64
	kind reqKind
	addr addrmap.Address
	size uint64
	data []byte
}

type store struct {
	mu   sync.Mutex
	data map[addrmap.Address][]byte
}

func newStore() *store {
	return &store{data: make(map[addrmap.Address][]byte)}
}

// read returns size bytes at addr, zero-filled for never-written ranges,
// matching spec.md §6.1: "returns zeros for previously-unwritten addresses".
func (s *store) read(addr addrmap.Address, size uint64) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, size)
	if existing, ok := s.data[addr]; ok {
		copy(buf, existing)
	}
	return buf
}

func (s *store) write(addr addrmap.Address, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.data[addr] = cp
}

// NewSimGateway starts one worker per memory node and returns a Gateway
// ready to serve the engine. Call Close to stop the workers.
func NewSimGateway(ctx context.Context, cfg addrmap.Config, minLatency, maxLatency time.Duration) *SimGateway {
	ctx, cancel := context.WithCancel(ctx)
	g, groupCtx := errgroup.WithContext(ctx)

	sg := &SimGateway{
		cfg:        cfg,
		stores:     make([]*store, cfg.NumMemoryNodes),
		reqCh:      make([]chan request, cfg.NumMemoryNodes),
		readCompl:  make(chan ReadCompletion, 256),
		writeCompl: make(chan WriteCompletion, 256),
		minLatency: minLatency,
		maxLatency: maxLatency,
		group:      g,
		cancel:     cancel,
	}

	log.Printf("rmem: starting %d memory-node channels, %s slabs each",
		cfg.NumMemoryNodes, humanize.Bytes(cfg.SlabSize))

	for i := range sg.stores {
		sg.stores[i] = newStore()
		sg.reqCh[i] = make(chan request, 256)
		idx := i
		sg.group.Go(func() error {
			return sg.worker(groupCtx, idx)
		})
	}

	return sg
}

func (sg *SimGateway) worker(ctx context.Context, idx int) error {
	st := sg.stores[idx]
	ch := sg.reqCh[idx]
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-ch:
			sg.jitter()
			switch req.kind {
			case reqRead:
				bytes := st.read(req.addr, req.size)
				select {
				case sg.readCompl <- ReadCompletion{RequestID: req.id, Bytes: bytes}:
				case <-ctx.Done():
					return nil
				}
			case reqWrite:
				st.write(req.addr, req.data)
				select {
				case sg.writeCompl <- WriteCompletion{RequestID: req.id}:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

func (sg *SimGateway) jitter() {
	if sg.maxLatency <= sg.minLatency {
		return
	}
	span := sg.maxLatency - sg.minLatency
	d := sg.minLatency + time.Duration(rand.Int63n(int64(span)))
	time.Sleep(d)
}

// newRequestID derives a request id from a monotonic counter salted
// through xxhash, so ids stay unique per compute node (spec.md §4.3 /
// invariant 9) without colliding with ids a real transport layer might
// assign using a different scheme.
func (sg *SimGateway) newRequestID() uint64 {
	n := atomic.AddUint64(&sg.counter, 1)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], n)
	return xxhash.Sum64(buf[:])
}

func (sg *SimGateway) SendRead(addr addrmap.Address, size uint64) uint64 {
	id := sg.newRequestID()
	ch := sg.reqCh[addrmap.MemoryNode(sg.cfg, addr)]
	ch <- request{id: id, kind: reqRead, addr: addr, size: size}
	return id
}

func (sg *SimGateway) SendWrite(addr addrmap.Address, data []byte) uint64 {
	id := sg.newRequestID()
	ch := sg.reqCh[addrmap.MemoryNode(sg.cfg, addr)]
	ch <- request{id: id, kind: reqWrite, addr: addr, data: data}
	return id
}

func (sg *SimGateway) ReadCompletions() <-chan ReadCompletion   { return sg.readCompl }
func (sg *SimGateway) WriteCompletions() <-chan WriteCompletion { return sg.writeCompl }

// Close stops every worker goroutine and waits for them to exit.
func (sg *SimGateway) Close() error {
	sg.cancel()
	return sg.group.Wait()
}
