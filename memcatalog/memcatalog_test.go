package memcatalog_test

import (
	"errors"
	"testing"

	"github.com/shardkv/replicore"
	"github.com/shardkv/replicore/memcatalog"
)

func TestCatalog_GetStoreMeta_NotFound(t *testing.T) {
	c := memcatalog.New()
	if _, err := c.GetStoreMeta(0); !errors.Is(err, replicore.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCatalog_SetGetStoreMeta(t *testing.T) {
	c := memcatalog.New()
	want := replicore.DefaultStoreMeta(3)
	want.SyncFromHost = "master.local"

	if err := c.SetStoreMeta(want); err != nil {
		t.Fatal(err)
	}

	got, err := c.GetStoreMeta(3)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestCatalog_SetStoreMeta_DoesNotAliasCaller(t *testing.T) {
	c := memcatalog.New()
	meta := replicore.DefaultStoreMeta(0)
	if err := c.SetStoreMeta(meta); err != nil {
		t.Fatal(err)
	}

	meta.SyncFromHost = "mutated-after-set"

	got, err := c.GetStoreMeta(0)
	if err != nil {
		t.Fatal(err)
	}
	if got.SyncFromHost != "" {
		t.Fatal("expected the stored meta to be unaffected by mutating the caller's copy")
	}
}
