package replicore_test

import (
	"context"
	"testing"
	"time"

	"github.com/shardkv/replicore"
	"golang.org/x/sync/errgroup"
)

func TestRWMutex_TryLock(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		var mu replicore.RWMutex
		g := mu.TryLock()
		if g == nil {
			t.Fatal("expected lock")
		} else if mu.TryLock() != nil {
			t.Fatal("expected lock failure")
		}
		g.Unlock()
	})

	t.Run("BlockedBySharedLock", func(t *testing.T) {
		var mu replicore.RWMutex
		g0 := mu.TryRLock()
		if g0 == nil {
			t.Fatal("expected lock")
		}
		if mu.TryLock() != nil {
			t.Fatal("expected lock failure")
		}
		g0.Unlock()

		if mu.TryLock() == nil {
			t.Fatal("expected lock after shared unlock")
		}
	})
}

func TestRWMutex_Lock(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		var mu replicore.RWMutex
		g0 := mu.TryLock()
		if g0 == nil {
			t.Fatal("expected lock")
		}

		ch := make(chan struct{})
		var g errgroup.Group
		g.Go(func() error {
			g1, err := mu.Lock(context.Background())
			if err != nil {
				return err
			}
			close(ch)
			g1.Unlock()
			return nil
		})

		select {
		case <-ch:
			t.Fatal("lock obtained too soon")
		case <-time.After(50 * time.Millisecond):
		}

		g0.Unlock()

		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for lock")
		}

		if err := g.Wait(); err != nil {
			t.Fatalf("goroutine failed: %s", err)
		}
	})

	t.Run("ContextCanceled", func(t *testing.T) {
		var mu replicore.RWMutex
		g0 := mu.TryLock()
		if g0 == nil {
			t.Fatal("expected lock")
		}
		defer g0.Unlock()

		ctx, cancel := context.WithCancel(context.Background())
		var g errgroup.Group
		g.Go(func() error {
			if _, err := mu.Lock(ctx); err != context.Canceled {
				return err
			}
			return nil
		})

		time.Sleep(50 * time.Millisecond)
		cancel()

		if err := g.Wait(); err != nil {
			t.Fatalf("goroutine failed: %s", err)
		}
	})
}

func TestRWMutexGuard_TryLock_Upgrade(t *testing.T) {
	var mu replicore.RWMutex
	g := mu.TryRLock()
	if g == nil {
		t.Fatal("expected shared lock")
	}
	if !g.TryLock() {
		t.Fatal("expected upgrade to succeed when sole shared holder")
	}
	if mu.State() != replicore.RWMutexStateExclusive {
		t.Fatalf("state=%s, want exclusive", mu.State())
	}
	g.Unlock()
}

func TestRWMutexGuard_TryLock_UpgradeBlocked(t *testing.T) {
	var mu replicore.RWMutex
	g0 := mu.TryRLock()
	g1 := mu.TryRLock()
	if g0 == nil || g1 == nil {
		t.Fatal("expected two shared locks")
	}
	if g0.TryLock() {
		t.Fatal("expected upgrade to fail with another shared holder")
	}
	g0.Unlock()
	g1.Unlock()
}

func TestRWMutexGuard_RLock_Downgrade(t *testing.T) {
	var mu replicore.RWMutex
	g := mu.TryLock()
	if g == nil {
		t.Fatal("expected exclusive lock")
	}
	g.RLock()
	if mu.State() != replicore.RWMutexStateShared {
		t.Fatalf("state=%s, want shared", mu.State())
	}
	if mu.TryRLock() == nil {
		t.Fatal("expected another shared lock after downgrade")
	}
	g.Unlock()
}

func TestRWMutex_State(t *testing.T) {
	var mu replicore.RWMutex
	if got, want := mu.State(), replicore.RWMutexStateUnlocked; got != want {
		t.Fatalf("state=%s, want %s", got, want)
	}
}
