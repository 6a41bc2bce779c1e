package replicore

import (
	"testing"

	"github.com/shardkv/replicore/memcatalog"
	"github.com/shardkv/replicore/memstore"
)

func TestRecycleBinlog_NoOpWhenNothingTruncatable(t *testing.T) {
	store := memstore.New(0)
	ifaceStores := []Store{store}
	m := NewReplManager(memcatalog.New(), NewSegmentManager(ifaceStores), ifaceStores, testHost("test"), func() BlockingClient { return nil }, func(string) error { return nil }, Config{N: 1})
	m.logRecycStatus = []RecycleBinlogStatus{{FirstBinlogID: 1}}
	m.pushStatus = []map[string]*MPovStatus{{}}

	// end == start means GetTruncateLog returns newStart == start (§8 S5).
	m.recycleBinlog(0, 1, 1, false)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.logRecycStatus[0].FirstBinlogID != 1 {
		t.Fatalf("FirstBinlogID = %d, want 1 (unchanged)", m.logRecycStatus[0].FirstBinlogID)
	}
	if m.logRecycStatus[0].IsRunning {
		t.Fatal("expected IsRunning to be cleared")
	}
}

func TestRecycleBinlog_TruncatesUpToMinDownstreamPosition(t *testing.T) {
	// §8 S6: two master clients at binlog positions 3 and 5; recycling must
	// not truncate past the slower client's position.
	store := memstore.New(0)
	store.Put("a", "1")
	store.Put("b", "2")
	store.Put("c", "3")
	store.Put("d", "4")
	store.Put("e", "5")

	ifaceStores := []Store{store}
	m := NewReplManager(memcatalog.New(), NewSegmentManager(ifaceStores), ifaceStores, testHost("test"), func() BlockingClient { return nil }, func(string) error { return nil }, Config{N: 1})
	m.logRecycStatus = []RecycleBinlogStatus{{FirstBinlogID: 1}}
	m.pushStatus = []map[string]*MPovStatus{{
		"fast": {BinlogPos: 5},
		"slow": {BinlogPos: 3},
	}}

	m.mu.Lock()
	end := noDownstream
	for _, pov := range m.pushStatus[0] {
		if pov.BinlogPos < end {
			end = pov.BinlogPos
		}
	}
	m.mu.Unlock()
	if end != 3 {
		t.Fatalf("computed end = %d, want 3", end)
	}

	m.recycleBinlog(0, 1, end, len(m.pushStatus[0]) == 0)

	m.mu.Lock()
	defer m.mu.Unlock()
	if got := m.logRecycStatus[0].FirstBinlogID; got != 3 {
		t.Fatalf("FirstBinlogID = %d, want 3", got)
	}

	// Entries below the slow client's position are gone; entries at or
	// above it survive.
	remaining, _ := store.ReadBinlogEntries(0, 100, nil)
	if len(remaining) != 3 {
		t.Fatalf("remaining entries = %d, want 3", len(remaining))
	}
}
