package replicore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shardkv/replicore/internal/testingutil"
	"github.com/shardkv/replicore/memcatalog"
	"github.com/shardkv/replicore/memstore"
	"github.com/shardkv/replicore/mock"
)

// unreachableSource is the error a background sync routine sees when it
// dials a test's fake client; it never actually touches the network, so
// any scan dispatch test that lets a worker pool run to completion fails
// fast instead of panicking on a nil client.
var unreachableSource = errors.New("test source unreachable")

func newTestClient() *mock.Client {
	return &mock.Client{
		ConnectFunc: func(host string, port int, timeout time.Duration) error { return unreachableSource },
		CloseFunc:   func() error { return nil },
	}
}

func newTestManager(t *testing.T, n int) (*ReplManager, []*memstore.Store, *memcatalog.Catalog) {
	t.Helper()

	stores := make([]*memstore.Store, n)
	ifaceStores := make([]Store, n)
	for i := range stores {
		stores[i] = memstore.New(0)
		ifaceStores[i] = stores[i]
	}

	cat := memcatalog.New()
	segMgr := NewSegmentManager(ifaceStores)
	m := NewReplManager(cat, segMgr, ifaceStores, testHost("test"), func() BlockingClient { return newTestClient() }, func(string) error { return nil }, Config{
		N:        n,
		DumpPath: testingutil.TempDir(t),
	})
	return m, stores, cat
}

type testHost string

func (h testHost) HostID() string { return string(h) }

func TestReplManager_Startup(t *testing.T) {
	// S1: an empty catalog gets DefaultStoreMeta synthesized and persisted
	// for every store.
	m, _, cat := newTestManager(t, 4)

	if err := m.Startup(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	for i := 0; i < 4; i++ {
		meta, err := cat.GetStoreMeta(i)
		if err != nil {
			t.Fatalf("store %d: %v", i, err)
		}
		if meta.ReplState != StateNone {
			t.Fatalf("store %d: repl state = %v, want StateNone", i, meta.ReplState)
		}
		if meta.BinlogID != TXNIDUninited {
			t.Fatalf("store %d: binlog id = %d, want TXNIDUninited", i, meta.BinlogID)
		}
	}
}

func TestReplManager_Startup_PositionsCursorFromExistingBinlog(t *testing.T) {
	stores := []*memstore.Store{memstore.New(0)}
	stores[0].Put("k", "v")
	stores[0].Put("k", "v2")

	ifaceStores := []Store{stores[0]}
	cat := memcatalog.New()
	m := NewReplManager(cat, NewSegmentManager(ifaceStores), ifaceStores, testHost("test"), func() BlockingClient { return newTestClient() }, func(string) error { return nil }, Config{
		N:        1,
		DumpPath: testingutil.TempDir(t),
	})

	if err := m.Startup(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	if got := m.logRecycStatus[0].FirstBinlogID; got != 1 {
		t.Fatalf("FirstBinlogID = %d, want 1", got)
	}
}

func TestReplManager_ScanSlaves_SkipsRunning(t *testing.T) {
	m, _, _ := newTestManager(t, 1)
	m.syncMeta = []StoreMeta{{ID: 0, ReplState: StateConnect}}
	m.syncStats = []SPovStatus{{}}
	m.pushStatus = []map[string]*MPovStatus{{}}
	m.logRecycStatus = []RecycleBinlogStatus{{}}
	m.fullRecvPool = NewWorkerPool("full-recv", 1, 1)
	m.incrCheckPool = NewWorkerPool("incr-check", 1, 1)
	defer m.fullRecvPool.Close()
	defer m.incrCheckPool.Close()

	m.mu.Lock()
	dispatched := m.scanSlaves(time.Now())
	m.mu.Unlock()
	if !dispatched {
		t.Fatal("expected CONNECT state to dispatch")
	}
	if !m.syncStats[0].IsRunning {
		t.Fatal("expected IsRunning to be set once dispatched")
	}

	m.mu.Lock()
	dispatched = m.scanSlaves(time.Now())
	m.mu.Unlock()
	if dispatched {
		t.Fatal("expected a second scan to skip an already-running store")
	}
}

func TestReplManager_ScanSlaves_TransferIsFatal(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected observing TRANSFER in dispatch to panic")
		}
	}()

	m, _, _ := newTestManager(t, 1)
	m.syncMeta = []StoreMeta{{ID: 0, ReplState: StateTransfer}}
	m.syncStats = []SPovStatus{{}}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanSlaves(time.Now())
}

func TestReplManager_ScanMaster_DispatchesReadyClients(t *testing.T) {
	m, _, _ := newTestManager(t, 1)
	m.pushStatus = []map[string]*MPovStatus{{
		"c1": {BinlogPos: 0},
	}}

	m.mu.Lock()
	ready := m.scanMaster(time.Now())
	m.mu.Unlock()
	if len(ready) != 1 {
		t.Fatalf("len(ready) = %d, want 1", len(ready))
	}
	if ready[0].storeID != 0 || ready[0].clientID != "c1" {
		t.Fatalf("ready[0] = %+v, want {0 c1}", ready[0])
	}
	if !m.pushStatus[0]["c1"].IsRunning {
		t.Fatal("expected IsRunning to be set")
	}
}

func TestReplManager_ScanMaster_RespectsBackoff(t *testing.T) {
	m, _, _ := newTestManager(t, 1)
	m.pushStatus = []map[string]*MPovStatus{{
		"c1": {NextSchedTime: time.Now().Add(time.Hour)},
	}}

	m.mu.Lock()
	ready := m.scanMaster(time.Now())
	m.mu.Unlock()
	if len(ready) != 0 {
		t.Fatalf("len(ready) = %d, want 0", len(ready))
	}
}

// TestReplManager_ScanMaster_DispatchOutsideLock guards against the
// dispatch-under-lock deadlock this scan used to have: an unbounded number
// of ready clients must never be Submit-ed while m.mu is held, since
// masterPushRoutine itself locks m.mu as its first step.
func TestReplManager_ScanMaster_DispatchOutsideLock(t *testing.T) {
	m, _, _ := newTestManager(t, 1)
	clients := make(map[string]*MPovStatus, 8)
	for i := 0; i < 8; i++ {
		clients[string(rune('a'+i))] = &MPovStatus{}
	}
	m.pushStatus = []map[string]*MPovStatus{clients}
	m.incrPushPool = NewWorkerPool("incr-push", 1, 1) // queue smaller than len(clients)
	defer m.incrPushPool.Close()

	m.mu.Lock()
	ready := m.scanMaster(time.Now())
	m.mu.Unlock()
	if len(ready) != len(clients) {
		t.Fatalf("len(ready) = %d, want %d", len(ready), len(clients))
	}

	done := make(chan struct{})
	go func() {
		for _, d := range ready {
			sid, cid := d.storeID, d.clientID
			m.incrPushPool.Submit(func() { m.masterPushRoutine(sid, cid) })
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit-ing more ready clients than the pool queue holds blocked, want it to drain without holding m.mu")
	}
}

func TestReplManager_AttachDetachMasterClient(t *testing.T) {
	m, _, _ := newTestManager(t, 1)
	m.pushStatus = []map[string]*MPovStatus{{}}

	m.AttachMasterClient(0, "c1", 0, 5, nil)
	m.mu.Lock()
	_, ok := m.pushStatus[0]["c1"]
	m.mu.Unlock()
	if !ok {
		t.Fatal("expected client to be attached")
	}

	m.DetachMasterClient(0, "c1")
	m.mu.Lock()
	_, ok = m.pushStatus[0]["c1"]
	m.mu.Unlock()
	if ok {
		t.Fatal("expected client to be detached")
	}

	// Detaching an already-absent client must be a no-op, not a panic.
	m.DetachMasterClient(0, "c1")
}
