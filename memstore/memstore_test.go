package memstore_test

import (
	"bytes"
	"testing"

	"github.com/shardkv/replicore"
	"github.com/shardkv/replicore/memstore"
)

func TestStore_PutGet(t *testing.T) {
	s := memstore.New(0)
	id := s.Put("k", "v")
	if id != 1 {
		t.Fatalf("first txn id = %d, want 1", id)
	}

	v, ok := s.Get("k")
	if !ok || v != "v" {
		t.Fatalf("Get(k) = (%q, %v), want (\"v\", true)", v, ok)
	}
}

func TestStore_FullDumpRoundTrip(t *testing.T) {
	src := memstore.New(0)
	src.Put("a", "1")
	src.Put("b", "2")

	var buf bytes.Buffer
	if err := src.WriteFullDump(&buf, nil); err != nil {
		t.Fatal(err)
	}

	dst := memstore.New(0)
	terminal, err := dst.ApplyFullDump(&buf, nil)
	if err != nil {
		t.Fatal(err)
	}
	if terminal != 2 {
		t.Fatalf("terminal txn id = %d, want 2", terminal)
	}

	for _, kv := range [][2]string{{"a", "1"}, {"b", "2"}} {
		v, ok := dst.Get(kv[0])
		if !ok || v != kv[1] {
			t.Fatalf("Get(%q) = (%q, %v), want (%q, true)", kv[0], v, ok, kv[1])
		}
	}
}

func TestStore_ReadBinlogEntries(t *testing.T) {
	s := memstore.New(0)
	s.Put("a", "1")
	s.Put("b", "2")
	s.Put("c", "3")

	entries, err := s.ReadBinlogEntries(2, 100, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].TxnID != 2 || entries[1].TxnID != 3 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestStore_ReadBinlogEntries_RespectsLimit(t *testing.T) {
	s := memstore.New(0)
	for i := 0; i < 5; i++ {
		s.Put("k", "v")
	}

	entries, err := s.ReadBinlogEntries(0, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
}

func TestStore_ApplyBinlogEntries(t *testing.T) {
	src := memstore.New(0)
	src.Put("a", "1")
	entries, err := src.ReadBinlogEntries(0, 100, nil)
	if err != nil {
		t.Fatal(err)
	}

	dst := memstore.New(0)
	if err := dst.ApplyBinlogEntries(entries, nil); err != nil {
		t.Fatal(err)
	}
	v, ok := dst.Get("a")
	if !ok || v != "1" {
		t.Fatalf("Get(a) = (%q, %v), want (\"1\", true)", v, ok)
	}
}

func TestStore_TruncateBinlog(t *testing.T) {
	s := memstore.New(0)
	s.Put("a", "1")
	s.Put("b", "2")
	s.Put("c", "3")

	entries, err := s.ReadBinlogEntries(0, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.TruncateBinlog(entries, nil); err != nil {
		t.Fatal(err)
	}

	remaining, err := s.ReadBinlogEntries(0, 100, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].TxnID != 3 {
		t.Fatalf("remaining = %+v, want a single entry with txn id 3", remaining)
	}
}

func TestStore_CreateBinlogCursor(t *testing.T) {
	s := memstore.New(0)
	s.Put("a", "1")
	s.Put("b", "2")

	txn, err := s.CreateTransaction(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer txn.Rollback()

	cur, err := txn.CreateBinlogCursor(2)
	if err != nil {
		t.Fatal(err)
	}

	entry, err := cur.Next()
	if err != nil {
		t.Fatal(err)
	}
	if entry.TxnID != 2 {
		t.Fatalf("txn id = %d, want 2", entry.TxnID)
	}

	if _, err := cur.Next(); err != replicore.ErrExhausted {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
}

func TestStore_SetMode(t *testing.T) {
	s := memstore.New(0)
	if s.Mode() != replicore.ModeReadWrite {
		t.Fatalf("default mode = %v, want ModeReadWrite", s.Mode())
	}
	if err := s.SetMode(replicore.ModeReplicateOnly); err != nil {
		t.Fatal(err)
	}
	if s.Mode() != replicore.ModeReplicateOnly {
		t.Fatalf("mode = %v, want ModeReplicateOnly", s.Mode())
	}
}
