package replicore

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shardkv/replicore/internal/chunk"
)

// Timeouts bound the line-protocol round trips used to establish and drive
// a slave connection to a master.
const (
	connectTimeout = 5 * time.Second
	authTimeout    = 5 * time.Second
	lineTimeout    = 5 * time.Second
)

// slaveSyncRoutine drives one store through CONNECT → TRANSFER → CONNECTED
// (§4.4). TRANSFER is never written back to m.syncMeta, so the scheduler
// never observes it; only the terminal outcome (CONNECTED, or CONNECT left
// in place for retry) is published.
func (m *ReplManager) slaveSyncRoutine(storeID int) {
	defer func() {
		m.mu.Lock()
		m.syncStats[storeID].IsRunning = false
		m.mu.Unlock()
		m.cond.Broadcast()
	}()

	m.mu.Lock()
	meta := m.syncMeta[storeID]
	m.mu.Unlock()

	var err error
	switch meta.ReplState {
	case StateConnect:
		err = m.slaveFullSync(storeID, meta)
	case StateConnected:
		err = m.slaveIncrSync(storeID, meta)
	default:
		assert(false, "slaveSyncRoutine invoked in unexpected state")
	}

	if err != nil {
		log.Printf("replicore: slave sync failed: store=%d state=%s err=%v", storeID, meta.ReplState, err)
		slaveSyncErrorCountVec.WithLabelValues(fmt.Sprint(storeID)).Inc()
		m.mu.Lock()
		m.syncStats[storeID].NextSchedTime = time.Now().Add(minBackoff)
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	m.syncStats[storeID].LastSyncTime = time.Now()
	m.mu.Unlock()
}

// slaveFullSync requests a full dump from meta's source, applies it, and on
// success advances the store to CONNECTED with binlogId set to the dump's
// terminal txn id.
func (m *ReplManager) slaveFullSync(storeID int, meta StoreMeta) error {
	client := m.newClient()
	defer client.Close()

	if err := client.Connect(meta.SyncFromHost, meta.SyncFromPort, connectTimeout); err != nil {
		return fmt.Errorf("connect to source: %w", err)
	}
	if err := m.authenticate(client); err != nil {
		return err
	}

	if err := client.WriteLine(fmt.Sprintf("FULLSYNC %d %d", storeID, meta.SyncFromID), lineTimeout); err != nil {
		return fmt.Errorf("request full sync: %w", err)
	}
	reply, err := client.ReadLine(lineTimeout)
	if err != nil {
		return fmt.Errorf("read full sync reply: %w", err)
	}
	if len(reply) > 0 && reply[0] == '-' {
		return fmt.Errorf("source refused full sync: %s", reply)
	}

	// TRANSFER exists only for the duration of this function; it is
	// deliberately never written to m.syncMeta, so the scheduler can never
	// observe it.
	handle, err := m.segMgr.GetDB(context.Background(), nil, storeID, LockExclusive)
	if err != nil {
		return fmt.Errorf("acquire store lock for full sync: %w", err)
	}
	defer handle.Lock.Unlock()

	txn, err := handle.Store.CreateTransaction(nil)
	if err != nil {
		return fmt.Errorf("begin full sync transaction: %w", err)
	}

	cr := chunk.NewReader(&rateLimitedReader{r: client.Reader(), limiter: m.limiter})
	terminalTxnID, err := handle.Store.ApplyFullDump(cr, txn)
	if err != nil {
		_ = txn.Rollback()
		return fmt.Errorf("apply full dump: %w", err)
	}
	if _, err := txn.Commit(); err != nil {
		return fmt.Errorf("commit full dump: %w", err)
	}

	newMeta := meta
	newMeta.ReplState = StateConnected
	newMeta.BinlogID = terminalTxnID
	if err := m.catalog.SetStoreMeta(newMeta); err != nil {
		return fmt.Errorf("persist post-full-sync meta: %w", err)
	}

	m.mu.Lock()
	m.syncMeta[storeID] = newMeta
	m.mu.Unlock()

	return nil
}

// slaveIncrSync polls the master for new binlog entries past meta.BinlogID,
// applies them in order under the store's lock, and advances BinlogID.
func (m *ReplManager) slaveIncrSync(storeID int, meta StoreMeta) error {
	client := m.newClient()
	defer client.Close()

	if err := client.Connect(meta.SyncFromHost, meta.SyncFromPort, connectTimeout); err != nil {
		return fmt.Errorf("connect to source: %w", err)
	}
	if err := m.authenticate(client); err != nil {
		return err
	}

	if err := client.WriteLine(fmt.Sprintf("INCRSYNC %d %d", storeID, meta.BinlogID), lineTimeout); err != nil {
		return fmt.Errorf("request incremental sync: %w", err)
	}
	reply, err := client.ReadLine(lineTimeout)
	if err != nil {
		return fmt.Errorf("read incremental sync reply: %w", err)
	}
	if len(reply) > 0 && reply[0] == '-' {
		return fmt.Errorf("source refused incremental sync: %s", reply)
	}

	entries, err := readReplLogBatch(client.Reader())
	if err != nil {
		return fmt.Errorf("read binlog entry batch: %w", err)
	}
	if len(entries) == 0 {
		m.mu.Lock()
		m.syncStats[storeID].NextSchedTime = time.Now().Add(minBackoff)
		m.mu.Unlock()
		return nil
	}

	handle, err := m.segMgr.GetDB(context.Background(), nil, storeID, LockExclusive)
	if err != nil {
		return fmt.Errorf("acquire store lock for incremental sync: %w", err)
	}
	defer handle.Lock.Unlock()

	txn, err := handle.Store.CreateTransaction(nil)
	if err != nil {
		return fmt.Errorf("begin incremental sync transaction: %w", err)
	}
	if err := handle.Store.ApplyBinlogEntries(entries, txn); err != nil {
		_ = txn.Rollback()
		return fmt.Errorf("apply binlog entries: %w", err)
	}
	if _, err := txn.Commit(); err != nil {
		return fmt.Errorf("commit incremental sync: %w", err)
	}

	newMeta := meta
	newMeta.BinlogID = entries[len(entries)-1].TxnID + 1
	if err := m.catalog.SetStoreMeta(newMeta); err != nil {
		return fmt.Errorf("persist post-incremental-sync meta: %w", err)
	}

	m.mu.Lock()
	m.syncMeta[storeID] = newMeta
	m.mu.Unlock()

	return nil
}

func (m *ReplManager) authenticate(client Client) error {
	if m.cfg.MasterAuth == "" {
		return nil
	}
	if err := client.WriteLine(fmt.Sprintf("AUTH %s", m.cfg.MasterAuth), authTimeout); err != nil {
		return fmt.Errorf("write AUTH: %w", err)
	}
	reply, err := client.ReadLine(authTimeout)
	if err != nil {
		return fmt.Errorf("read AUTH reply: %w", err)
	}
	if len(reply) > 0 && reply[0] == '-' {
		return fmt.Errorf("AUTH rejected by source: %s", reply)
	}
	return nil
}
