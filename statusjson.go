package replicore

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// syncDestJSON is one entry of a store's "sync_dest" map: one active
// master-push downstream.
type syncDestJSON struct {
	IsRunning  bool   `json:"is_running"`
	DstStoreID int    `json:"dst_store_id"`
	BinlogPos  uint64 `json:"binlog_pos"`
	Remote     string `json:"remote"`
}

// storeStatusJSON is the per-store object in the status JSON schema (§4.8).
type storeStatusJSON struct {
	FirstBinlog  uint64                  `json:"first_binlog"`
	IncrPaused   bool                    `json:"incr_paused"`
	SyncDest     map[string]syncDestJSON `json:"sync_dest"`
	SyncSource   string                  `json:"sync_source"`
	BinlogID     uint64                  `json:"binlog_id"`
	ReplState    ReplState               `json:"repl_state"`
	LastSyncTime time.Time               `json:"last_sync_time"`
}

// WriteStatusJSON writes the status JSON object described in §4.8 to w. It
// builds one map of per-store status objects under the manager mutex and
// encodes it to w with json.Encoder while the mutex is still held. The map
// grows with the number of stores and attached downstreams, not with
// binlog history.
func (m *ReplManager) WriteStatusJSON(w io.Writer) error {
	enc := json.NewEncoder(w)

	var writeErr error
	m.withLock(func() {
		out := make(map[string]storeStatusJSON, m.cfg.N)
		for i := 0; i < m.cfg.N; i++ {
			meta := m.syncMeta[i]
			rst := m.logRecycStatus[i]
			spov := m.syncStats[i]

			dest := make(map[string]syncDestJSON, len(m.pushStatus[i]))
			for clientID, pov := range m.pushStatus[i] {
				remote := ""
				if pov.Client != nil {
					remote = pov.Client.GetRemoteRepr()
				}
				dest[clientID] = syncDestJSON{
					IsRunning:  pov.IsRunning,
					DstStoreID: pov.DstStoreID,
					BinlogPos:  pov.BinlogPos,
					Remote:     remote,
				}
			}

			syncSource := ""
			if meta.SyncFromHost != "" {
				syncSource = fmt.Sprintf("%s:%d:%d", meta.SyncFromHost, meta.SyncFromPort, meta.SyncFromID)
			}

			out[fmt.Sprint(i)] = storeStatusJSON{
				FirstBinlog:  rst.FirstBinlogID,
				IncrPaused:   meta.ReplState == StateConnected && !spov.IsRunning && len(dest) == 0,
				SyncDest:     dest,
				SyncSource:   syncSource,
				BinlogID:     meta.BinlogID,
				ReplState:    meta.ReplState,
				LastSyncTime: spov.LastSyncTime,
			}
		}
		writeErr = enc.Encode(out)
	})
	return writeErr
}
