package rmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmbtree/addrmap"
)

func testGateway(t *testing.T) (*SimGateway, addrmap.Config) {
	t.Helper()
	cfg := addrmap.NewConfig(0, 1<<20, 2, 64, 2)
	sg := NewSimGateway(context.Background(), cfg, time.Microsecond, 10*time.Microsecond)
	t.Cleanup(func() { _ = sg.Close() })
	return sg, cfg
}

func TestReadUnwrittenAddressReturnsZeros(t *testing.T) {
	sg, cfg := testGateway(t)
	addr := addrmap.Allocate(cfg, 1, 1, true)

	id := sg.SendRead(addr, 16)
	rc := waitForRead(t, sg, id)
	assert.Equal(t, make([]byte, 16), rc.Bytes)
}

func TestWriteThenReadReturnsWrittenBytes(t *testing.T) {
	sg, cfg := testGateway(t)
	addr := addrmap.Allocate(cfg, 1, 1, true)
	payload := []byte{1, 2, 3, 4}

	wid := sg.SendWrite(addr, payload)
	waitForWrite(t, sg, wid)

	rid := sg.SendRead(addr, uint64(len(payload)))
	rc := waitForRead(t, sg, rid)
	assert.Equal(t, payload, rc.Bytes)
}

func TestRequestIDsAreUnique(t *testing.T) {
	sg, cfg := testGateway(t)
	addr := addrmap.Allocate(cfg, 1, 1, true)

	seen := make(map[uint64]bool)
	for i := 0; i < 50; i++ {
		id := sg.SendRead(addr, 8)
		require.False(t, seen[id], "request id must not repeat")
		seen[id] = true
		waitForRead(t, sg, id)
	}
}

func waitForRead(t *testing.T, sg *SimGateway, id uint64) ReadCompletion {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case rc := <-sg.ReadCompletions():
			if rc.RequestID == id {
				return rc
			}
		case <-deadline:
			t.Fatalf("timed out waiting for read completion %d", id)
		}
	}
}

func waitForWrite(t *testing.T, sg *SimGateway, id uint64) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case wc := <-sg.WriteCompletions():
			if wc.RequestID == id {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for write completion %d", id)
		}
	}
}
