package replicore

import (
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NoSession is the sentinel SPovStatus.SessionID value meaning "no
// incremental-sync session is currently associated with this store".
const NoSession = ""

// SPovStatus is the slave point-of-view runtime state for one store. It is
// never persisted.
type SPovStatus struct {
	IsRunning     bool
	SessionID     string
	NextSchedTime time.Time
	LastSyncTime  time.Time
}

// MPovStatus is the master point-of-view runtime state for one
// (store, client) pair.
type MPovStatus struct {
	IsRunning     bool
	ClientID      string
	DstStoreID    int
	BinlogPos     uint64
	Client        Client
	NextSchedTime time.Time
}

// RecycleBinlogStatus is the per-store binlog-recycling state.
type RecycleBinlogStatus struct {
	IsRunning      bool
	NextSchedTime  time.Time
	FirstBinlogID  uint64
	FileSeq        uint32
	FileCreateTime time.Time
	FileSize       int64
	fs             *lumberjack.Logger // open dump file, nil when not archiving
}
