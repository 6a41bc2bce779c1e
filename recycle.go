package replicore

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shardkv/replicore/internal"
	"github.com/shardkv/replicore/internal/chunk"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Defaults governing dump-file rotation during archival.
const (
	DefaultDumpFileMaxSize = 64 << 20 // 64 MiB
	DefaultDumpFileMaxAge  = time.Hour
)

// recycleBinlog asks storeID's store for the truncatable range [start, end),
// where end is the safe bound scanRecycle computed, and, if anything is
// truncatable, optionally archives the truncated range to a
// rotating dump file before truncating it from the store (§4.6). The scope
// guard at the end always clears IsRunning and publishes the resulting
// start back to FirstBinlogID, whether or not anything advanced.
func (m *ReplManager) recycleBinlog(storeID int, start, end uint64, saveLogs bool) {
	newStart := start

	defer func() {
		m.mu.Lock()
		m.logRecycStatus[storeID].IsRunning = false
		m.logRecycStatus[storeID].FirstBinlogID = newStart
		m.mu.Unlock()
	}()

	handle, err := m.segMgr.GetDB(context.Background(), nil, storeID, LockIntentExclusive)
	if err != nil {
		log.Printf("replicore: recycle: acquire store lock: store=%d err=%v", storeID, err)
		m.scheduleRecycleRetry(storeID)
		return
	}
	defer handle.Lock.Unlock()

	txn, err := handle.Store.CreateTransaction(nil)
	if err != nil {
		log.Printf("replicore: recycle: begin transaction: store=%d err=%v", storeID, err)
		m.scheduleRecycleRetry(storeID)
		return
	}
	committed := false
	defer func() {
		if !committed {
			_ = txn.Rollback()
		}
	}()

	gotStart, entries, err := handle.Store.GetTruncateLog(start, end, txn)
	if err != nil {
		log.Printf("replicore: recycle: get truncate log: store=%d err=%v", storeID, err)
		m.scheduleRecycleRetry(storeID)
		return
	}
	if gotStart == start {
		// Nothing truncatable yet; §8 S5.
		m.scheduleRecycleRetry(storeID)
		return
	}

	if saveLogs {
		if err := m.archiveEntries(storeID, entries); err != nil {
			log.Printf("replicore: recycle: archive entries: store=%d err=%v", storeID, err)
			m.scheduleRecycleRetry(storeID)
			return
		}
	}

	if err := handle.Store.TruncateBinlog(entries, txn); err != nil {
		log.Printf("replicore: recycle: truncate: store=%d err=%v", storeID, err)
		m.scheduleRecycleRetry(storeID)
		return
	}
	if _, err := txn.Commit(); err != nil {
		log.Printf("replicore: recycle: commit: store=%d err=%v", storeID, err)
		m.scheduleRecycleRetry(storeID)
		return
	}
	committed = true

	newStart = gotStart
	binlogRecycleCountVec.WithLabelValues(fmt.Sprint(storeID)).Add(float64(len(entries)))
}

// scheduleRecycleRetry backs off one second per spec.md §4.6 step 2/§8 S5.
func (m *ReplManager) scheduleRecycleRetry(storeID int) {
	m.mu.Lock()
	m.logRecycStatus[storeID].NextSchedTime = time.Now().Add(minBackoff)
	m.mu.Unlock()
}

// archiveEntries writes entries to the store's current dump file, rotating
// into a new file by size or age as needed. Archival and the caller's
// truncation are treated as one logical unit per batch (§9 Open
// Questions): if archival fails, the caller never truncates, so the
// already-retained entries simply get re-offered to the next recycler run.
func (m *ReplManager) archiveEntries(storeID int, entries []ReplLog) error {
	if len(entries) == 0 {
		return nil
	}

	m.mu.Lock()
	rst := &m.logRecycStatus[storeID]
	needsRotate := rst.fs == nil ||
		rst.FileSize >= DefaultDumpFileMaxSize ||
		time.Since(rst.FileCreateTime) >= DefaultDumpFileMaxAge
	m.mu.Unlock()

	if needsRotate {
		if err := m.rotateDumpFile(storeID); err != nil {
			return fmt.Errorf("rotate dump file: %w", err)
		}
	}

	m.mu.Lock()
	f := m.logRecycStatus[storeID].fs
	m.mu.Unlock()

	cw := chunk.NewWriter(&rateLimitedWriter{w: f, limiter: m.limiter})
	for _, entry := range entries {
		if _, err := cw.Write(entry.Payload); err != nil {
			return fmt.Errorf("write entry: %w", err)
		}
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("close chunk stream: %w", err)
	} else if err := internal.Sync(dumpDir(m.cfg.DumpPath, storeID)); err != nil {
		return fmt.Errorf("sync dump dir: %w", err)
	}

	n := 0
	for _, e := range entries {
		n += len(e.Payload)
	}

	m.mu.Lock()
	m.logRecycStatus[storeID].FileSize += int64(n)
	m.mu.Unlock()

	return nil
}

// rotateDumpFile closes any currently-open dump file for storeID and swaps
// in a fresh lumberjack.Logger named per the dumpFileName scheme, advancing
// FileSeq so maxDumpFileSeq observes it on a future restart. We drive
// rotation ourselves (by size and age, tracked in RecycleBinlogStatus)
// rather than letting lumberjack's own MaxSize/MaxAge fire, so that each
// rotated file keeps the sequence-numbered name §6 requires instead of one
// of lumberjack's own timestamped backup names.
func (m *ReplManager) rotateDumpFile(storeID int) error {
	m.mu.Lock()
	rst := &m.logRecycStatus[storeID]
	oldFS := rst.fs
	seq := rst.FileSeq
	m.mu.Unlock()

	if oldFS != nil {
		_ = oldFS.Close()
	}

	dir := dumpDir(m.cfg.DumpPath, storeID)
	now := time.Now()
	name := dumpFileName(storeID, seq, strconv.FormatInt(now.Unix(), 10))
	path := filepath.Join(dir, name)

	f := &lumberjack.Logger{
		Filename: path,
		MaxSize:  DefaultDumpFileMaxSize >> 20, // lumberjack sizes in MiB
	}

	m.mu.Lock()
	rst.fs = f
	rst.FileSeq = seq + 1
	rst.FileCreateTime = now
	rst.FileSize = 0
	m.mu.Unlock()

	return nil
}
