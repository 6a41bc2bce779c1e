package replicore

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shardkv/replicore/internal/chunk"
)

// incrBatchSize bounds how many binlog entries masterPushRoutine reads and
// delivers per tick of the incr-push pool.
const incrBatchSize = 256

// masterPushRoutine streams the next batch of binlog entries to one
// downstream client (§4.5). On transport error it tears down the
// MPovStatus entry itself; the scheduler never retries a dead connection.
func (m *ReplManager) masterPushRoutine(storeID int, clientID string) {
	m.mu.Lock()
	pov, ok := m.pushStatus[storeID][clientID]
	if !ok {
		m.mu.Unlock()
		return
	}
	pos := pov.BinlogPos
	client := pov.Client
	m.mu.Unlock()

	entries, delivered, err := m.pushBatch(storeID, pos, client)
	if err != nil {
		log.Printf("replicore: master push disconnecting: store=%d client=%s err=%v", storeID, clientID, err)
		m.mu.Lock()
		m.removePushStatusLocked(storeID, clientID)
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	pov, ok = m.pushStatus[storeID][clientID]
	if ok {
		pov.IsRunning = false
		if delivered {
			pov.BinlogPos = entries[len(entries)-1].TxnID + 1
		} else {
			pov.NextSchedTime = time.Now().Add(minBackoff)
		}
	}
	m.mu.Unlock()
}

func (m *ReplManager) pushBatch(storeID int, pos uint64, client Client) ([]ReplLog, bool, error) {
	handle, err := m.segMgr.GetDB(context.Background(), nil, storeID, LockShared)
	if err != nil {
		return nil, false, fmt.Errorf("acquire store lock for push: %w", err)
	}
	defer handle.Lock.Unlock()

	txn, err := handle.Store.CreateTransaction(nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin push transaction: %w", err)
	}
	defer txn.Rollback()

	entries, err := handle.Store.ReadBinlogEntries(pos, incrBatchSize, txn)
	if err != nil {
		return nil, false, fmt.Errorf("read binlog entries: %w", err)
	}
	if len(entries) == 0 {
		return nil, false, nil
	}

	if err := writeReplLogBatch(&rateLimitedWriter{w: client.Writer(), limiter: m.limiter}, entries); err != nil {
		return nil, false, fmt.Errorf("write binlog entry batch: %w", err)
	}
	return entries, true, nil
}

// masterPushFullDump serves a full-sync request for dstStoreID over
// client, streaming the dump chunk-framed so the receiver can read until
// EOF without knowing the size up front.
func (m *ReplManager) masterPushFullDump(ctx context.Context, dstStoreID int, client Client) error {
	handle, err := m.segMgr.GetDB(ctx, nil, dstStoreID, LockShared)
	if err != nil {
		return fmt.Errorf("acquire store lock for full dump: %w", err)
	}
	defer handle.Lock.Unlock()

	txn, err := handle.Store.CreateTransaction(nil)
	if err != nil {
		return fmt.Errorf("begin full dump transaction: %w", err)
	}
	defer txn.Rollback()

	cw := chunk.NewWriter(&rateLimitedWriter{w: client.Writer(), limiter: m.limiter})
	if err := handle.Store.WriteFullDump(cw, txn); err != nil {
		return fmt.Errorf("write full dump: %w", err)
	}
	return cw.Close()
}

// ServeFullSync handles a replica's FULLSYNC request for storeID by
// streaming a full dump over client. Used by the wire package's accept
// loop to answer the master side of the line protocol.
func (m *ReplManager) ServeFullSync(ctx context.Context, storeID int, client Client) error {
	return m.masterPushFullDump(ctx, storeID, client)
}

// ServeIncrSync handles a replica's INCRSYNC request for storeID by
// registering client as an active master-push downstream starting at
// startPos; the controller's master scan takes it from there.
func (m *ReplManager) ServeIncrSync(storeID int, clientID string, startPos uint64, client Client) {
	m.AttachMasterClient(storeID, clientID, storeID, startPos, client)
}

// AttachMasterClient registers a new downstream as an active master-push
// target, used (via ServeIncrSync) when a replica issues INCRSYNC.
func (m *ReplManager) AttachMasterClient(storeID int, clientID string, dstStoreID int, startPos uint64, client Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pushStatus[storeID][clientID] = &MPovStatus{
		ClientID:   clientID,
		DstStoreID: dstStoreID,
		BinlogPos:  startPos,
		Client:     client,
	}
	masterStreamCountGauge.Inc()
}

// DetachMasterClient removes a downstream, e.g. on explicit disconnect.
func (m *ReplManager) DetachMasterClient(storeID int, clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removePushStatusLocked(storeID, clientID)
}

// removePushStatusLocked removes a pushStatus entry and keeps the stream
// count gauge in sync. Must be called with m.mu held.
func (m *ReplManager) removePushStatusLocked(storeID int, clientID string) {
	if _, ok := m.pushStatus[storeID][clientID]; !ok {
		return
	}
	delete(m.pushStatus[storeID], clientID)
	masterStreamCountGauge.Dec()
}
