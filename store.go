package replicore

import (
	"context"
	"io"
)

// ReplLog is one opaque binlog entry: a committed mutation keyed by a
// monotonically increasing transaction id. The payload itself is never
// interpreted by the replication core.
type ReplLog struct {
	TxnID   uint64
	Payload []byte
}

// Cursor iterates forward over a store's binlog starting at the position it
// was created with. Next returns ErrExhausted once no further entries are
// available without blocking.
type Cursor interface {
	Next() (ReplLog, error)
}

// Transaction is a single store's unit of work. It is owned exclusively by
// whichever worker or SessionCtx created it.
type Transaction interface {
	// Commit finalizes the transaction and returns the txn id it was
	// assigned.
	Commit() (txnID uint64, err error)
	Rollback() error
	// CreateBinlogCursor returns a cursor positioned at the first entry
	// with txn id >= minTxnID.
	CreateBinlogCursor(minTxnID uint64) (Cursor, error)
}

// Store is the opaque per-store KV engine contract. Concrete
// implementations live outside this package (memstore, and whatever engine
// a deployment wires in).
type Store interface {
	CreateTransaction(session *SessionCtx) (Transaction, error)
	SetMode(mode StoreMode) error
	// GetTruncateLog returns the entries in [start, end) that are safe to
	// archive, plus the new safe truncation start. newStart == start means
	// there is nothing truncatable yet.
	GetTruncateLog(start, end uint64, txn Transaction) (newStart uint64, entries []ReplLog, err error)
	TruncateBinlog(entries []ReplLog, txn Transaction) error

	// ApplyFullDump consumes a full-sync snapshot from r within txn and
	// returns the terminal txn id the dump positions the store at.
	ApplyFullDump(r io.Reader, txn Transaction) (terminalTxnID uint64, err error)
	// ApplyBinlogEntries applies incremental binlog entries in order within
	// txn.
	ApplyBinlogEntries(entries []ReplLog, txn Transaction) error
	// WriteFullDump streams a full snapshot as of txn to w.
	WriteFullDump(w io.Writer, txn Transaction) error
	// ReadBinlogEntries returns up to limit entries with txn id >= pos, in
	// increasing order.
	ReadBinlogEntries(pos uint64, limit int, txn Transaction) ([]ReplLog, error)
}

// LockMode is the granularity requested from the segment manager.
type LockMode int

const (
	LockShared LockMode = iota
	LockIntentExclusive
	LockExclusive
)

// Lock is a held handle returned by SegmentManager.GetDB. Callers release it
// with Unlock exactly once.
type Lock interface {
	Unlock()
}

// DBHandle bundles a store with whatever lock the segment manager acquired
// on its behalf.
type DBHandle struct {
	Store Store
	Lock  Lock
}

// SegmentManager hands out per-store locks and the store behind them. It is
// the single arbiter of concurrent access to a store across sessions,
// slave/master routines, and the recycler.
type SegmentManager interface {
	GetDB(ctx context.Context, session *SessionCtx, storeID int, mode LockMode) (*DBHandle, error)
}

// rwMutexLock adapts an *RWMutexGuard to the Lock interface.
type rwMutexLock struct {
	guard *RWMutexGuard
}

func (l *rwMutexLock) Unlock() { l.guard.Unlock() }

// segmentManager is the reference SegmentManager implementation: one
// RWMutex per store, guarding access to the store's Store implementation.
// LockIntentExclusive is granted as a full exclusive lock — this module has
// no finer-grained intention mode to distinguish it from LockExclusive, but
// callers that only need intention-exclusive semantics (the recycler) still
// request it explicitly so the call site documents its actual need.
type segmentManager struct {
	stores []Store
	locks  []RWMutex
}

// NewSegmentManager returns a SegmentManager fronting stores, one lock per
// store in stores.
func NewSegmentManager(stores []Store) SegmentManager {
	return &segmentManager{
		stores: stores,
		locks:  make([]RWMutex, len(stores)),
	}
}

func (m *segmentManager) GetDB(ctx context.Context, session *SessionCtx, storeID int, mode LockMode) (*DBHandle, error) {
	assert(storeID >= 0 && storeID < len(m.stores), "store id out of range")

	var guard *RWMutexGuard
	var err error
	switch mode {
	case LockShared:
		guard, err = m.locks[storeID].RLock(ctx)
	case LockIntentExclusive, LockExclusive:
		guard, err = m.locks[storeID].Lock(ctx)
	default:
		assert(false, "invalid lock mode")
	}
	if err != nil {
		return nil, err
	}

	return &DBHandle{
		Store: m.stores[storeID],
		Lock:  &rwMutexLock{guard: guard},
	}, nil
}
