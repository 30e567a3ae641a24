package engine

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmbtree/addrmap"
	"dmbtree/node"
	"dmbtree/rmem"
)

const testFanout = 4

func newTestEngine(t *testing.T) (*Engine, *rmem.SimGateway) {
	t.Helper()
	cfg := addrmap.NewConfig(0, 1<<20, 2, node.Size(testFanout), 6)
	ctx := context.Background()
	gw := rmem.NewSimGateway(ctx, cfg, 0, 0)
	t.Cleanup(func() { _ = gw.Close() })

	e := New(cfg, testFanout, gw, log.New(nopWriter{}, "", 0))
	require.NoError(t, e.Init(ctx))
	return e, gw
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

// pump drives the engine's completion handlers directly (bypassing Run's
// ticker, which these tests don't need) until doneCh fires or the deadline
// is reached.
func pump(t *testing.T, e *Engine, gw *rmem.SimGateway, doneCh chan Result) Result {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case rc := <-gw.ReadCompletions():
			e.onReadComplete(rc)
		case wc := <-gw.WriteCompletions():
			e.onWriteComplete(wc)
		case r := <-doneCh:
			return r
		case <-deadline:
			t.Fatal("timed out waiting for operation to complete")
			return Result{}
		}
	}
}

func runOp(t *testing.T, e *Engine, gw *rmem.SimGateway, kind Kind, key, value uint64) Result {
	t.Helper()
	doneCh := make(chan Result, 1)
	require.NoError(t, e.Submit(kind, key, value, func(r Result) { doneCh <- r }))
	return pump(t, e, gw, doneCh)
}

func TestSingleInsertThenSearch(t *testing.T) {
	e, gw := newTestEngine(t)

	insertRes := runOp(t, e, gw, KindInsert, 42, 4242)
	assert.True(t, insertRes.Inserted)
	assert.False(t, insertRes.SplitHappened)

	searchRes := runOp(t, e, gw, KindSearch, 42, 0)
	assert.True(t, searchRes.Found)
	assert.Equal(t, uint64(4242), searchRes.Value)
}

func TestSearchMissingKeyNotFound(t *testing.T) {
	e, gw := newTestEngine(t)
	res := runOp(t, e, gw, KindSearch, 999, 0)
	assert.False(t, res.Found)
}

func TestFillLeafWithoutSplit(t *testing.T) {
	e, gw := newTestEngine(t)

	// testFanout keys fit in a single leaf; none of these should split.
	for i := uint64(1); i <= testFanout; i++ {
		res := runOp(t, e, gw, KindInsert, i*10, i*100)
		assert.False(t, res.SplitHappened, "leaf should not split until it overflows")
	}
	assert.Equal(t, uint32(1), e.currentHeight())
}

func TestDuplicateInsertUpdatesValueWithoutSplit(t *testing.T) {
	e, gw := newTestEngine(t)

	first := runOp(t, e, gw, KindInsert, 7, 100)
	require.True(t, first.Inserted)

	second := runOp(t, e, gw, KindInsert, 7, 200)
	assert.True(t, second.Updated)
	assert.False(t, second.Inserted)
	assert.False(t, second.SplitHappened)

	res := runOp(t, e, gw, KindSearch, 7, 0)
	require.True(t, res.Found)
	assert.Equal(t, uint64(200), res.Value)
}

func TestDuplicateInsertOnFullLeafUpdatesWithoutSplit(t *testing.T) {
	e, gw := newTestEngine(t)

	// Fill the root leaf to capacity: keys [1,2,3,4].
	for _, k := range []uint64{3, 1, 4, 2} {
		res := runOp(t, e, gw, KindInsert, k, k*1000)
		require.False(t, res.SplitHappened)
	}
	require.Equal(t, uint32(1), e.currentHeight())

	res := runOp(t, e, gw, KindInsert, 2, 2000)
	assert.True(t, res.Updated)
	assert.False(t, res.Inserted)
	assert.False(t, res.SplitHappened, "a duplicate key on a full leaf must update, not split")
	assert.Equal(t, uint32(1), e.currentHeight())

	search := runOp(t, e, gw, KindSearch, 2, 0)
	require.True(t, search.Found)
	assert.Equal(t, uint64(2000), search.Value)

	for _, k := range []uint64{1, 3, 4} {
		s := runOp(t, e, gw, KindSearch, k, 0)
		require.True(t, s.Found)
		assert.Equal(t, k*1000, s.Value, "unrelated keys must be untouched")
	}
}

func TestLeafSplitPromotesRoot(t *testing.T) {
	e, gw := newTestEngine(t)

	var lastSplit bool
	for i := uint64(1); i <= testFanout+1; i++ {
		res := runOp(t, e, gw, KindInsert, i*10, i)
		lastSplit = lastSplit || res.SplitHappened
	}
	assert.True(t, lastSplit, "overflowing the root leaf must trigger a split")
	assert.Equal(t, uint32(2), e.currentHeight())

	for i := uint64(1); i <= testFanout+1; i++ {
		res := runOp(t, e, gw, KindSearch, i*10, 0)
		assert.True(t, res.Found, "key %d must survive the split", i*10)
	}
}

func TestCascadingSplitReachesHeightThree(t *testing.T) {
	e, gw := newTestEngine(t)

	const n = 60
	for i := uint64(1); i <= n; i++ {
		runOp(t, e, gw, KindInsert, i, i*7)
	}

	assert.GreaterOrEqual(t, e.currentHeight(), uint32(3))

	for i := uint64(1); i <= n; i += 5 {
		res := runOp(t, e, gw, KindSearch, i, 0)
		assert.True(t, res.Found, "key %d must be reachable after cascading splits", i)
	}
}

func TestSubmitRejectsDelete(t *testing.T) {
	e, gw := newTestEngine(t)
	_ = gw
	err := e.Submit(Kind(99), 1, 1, nil)
	assert.ErrorIs(t, err, ErrDeleteUnsupported)
}

func TestAsyncOperationsAcrossMemoryNodesDoNotCorruptEachOther(t *testing.T) {
	e, gw := newTestEngine(t)

	const n = 20
	doneCh := make(chan Result, n)
	for i := uint64(1); i <= n; i++ {
		require.NoError(t, e.Submit(KindInsert, i, i*3, func(r Result) { doneCh <- r }))
	}

	deadline := time.After(2 * time.Second)
	completed := 0
	for completed < n {
		select {
		case rc := <-gw.ReadCompletions():
			e.onReadComplete(rc)
		case wc := <-gw.WriteCompletions():
			e.onWriteComplete(wc)
		case <-doneCh:
			completed++
		case <-deadline:
			t.Fatalf("timed out with %d/%d operations completed", completed, n)
		}
	}

	for i := uint64(1); i <= n; i++ {
		res := runOp(t, e, gw, KindSearch, i, 0)
		assert.True(t, res.Found, "key %d must be present after concurrent inserts", i)
		assert.Equal(t, i*3, res.Value)
	}
}
