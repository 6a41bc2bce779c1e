package replicore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Default configuration values, matching the defaults spec.md §6 calls out.
const (
	DefaultRateLimitBytesPerSec = 64 << 20 // 64 MiB/s
	DefaultSchedInterval        = 10 * time.Millisecond
	minBackoff                  = time.Second
)

// noDownstream is the scanRecycle sentinel meaning "no master client is
// currently attached", so nothing bounds the safe truncation point from
// above.
const noDownstream = ^uint64(0)

// ReplHost is the non-owning back-reference the manager holds to whatever
// owns it. The manager never owns its host; the host owns the manager
// exclusively, so there is no ownership cycle.
type ReplHost interface {
	// HostID identifies this server node in logs and status dumps, e.g.
	// for GetRemoteRepr()-style reporting.
	HostID() string
}

// Config carries every startup input spec.md §6 names under "Configuration
// inputs".
type Config struct {
	N                    int
	DumpPath             string
	MasterAuth           string
	MaxFullParal         int
	IncrPoolSize         int
	RateLimitBytesPerSec float64
	SchedInterval        time.Duration
}

func (c Config) withDefaults() Config {
	if c.RateLimitBytesPerSec <= 0 {
		c.RateLimitBytesPerSec = DefaultRateLimitBytesPerSec
	}
	if c.SchedInterval <= 0 {
		c.SchedInterval = DefaultSchedInterval
	}
	if c.MaxFullParal <= 0 {
		c.MaxFullParal = 1
	}
	if c.IncrPoolSize <= 0 {
		c.IncrPoolSize = 1
	}
	return c
}

// ReplManager is the single per-server replication controller. It owns N
// parallel replication contexts plus a global scheduler goroutine.
type ReplManager struct {
	cfg    Config
	host   ReplHost
	logger *log.Logger

	catalog Catalog
	segMgr  SegmentManager
	stores  []Store

	newClient     func() BlockingClient
	cancelSession func(sessionID string) error

	mu        sync.Mutex
	cond      *sync.Cond
	syncMeta  []StoreMeta
	syncStats []SPovStatus
	// pushStatus[storeID][clientID] is the MPovStatus for that downstream.
	pushStatus     []map[string]*MPovStatus
	logRecycStatus []RecycleBinlogStatus

	limiter *rate.Limiter

	fullPushPool  *WorkerPool
	incrPushPool  *WorkerPool
	fullRecvPool  *WorkerPool
	incrCheckPool *WorkerPool
	logRecycPool  *WorkerPool

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewReplManager constructs a manager over stores (len(stores) must equal
// cfg.N). Startup must be called before the manager does any work.
func NewReplManager(catalog Catalog, segMgr SegmentManager, stores []Store, host ReplHost, newClient func() BlockingClient, cancelSession func(sessionID string) error, cfg Config) *ReplManager {
	cfg = cfg.withDefaults()
	assert(len(stores) == cfg.N, "store slice length must equal configured N")

	m := &ReplManager{
		cfg:           cfg,
		host:          host,
		logger:        log.Default(),
		catalog:       catalog,
		segMgr:        segMgr,
		stores:        stores,
		newClient:     newClient,
		cancelSession: cancelSession,
		limiter:       rate.NewLimiter(rate.Limit(cfg.RateLimitBytesPerSec), int(cfg.RateLimitBytesPerSec)),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Startup loads or synthesizes StoreMeta for every store, positions each
// store's binlog cursor, sets store modes, computes dump-file sequence
// state, starts the five worker pools, and spawns the controller.
func (m *ReplManager) Startup(ctx context.Context) error {
	n := m.cfg.N
	m.syncMeta = make([]StoreMeta, n)
	m.syncStats = make([]SPovStatus, n)
	m.pushStatus = make([]map[string]*MPovStatus, n)
	m.logRecycStatus = make([]RecycleBinlogStatus, n)

	for i := 0; i < n; i++ {
		m.pushStatus[i] = make(map[string]*MPovStatus)

		meta, err := m.catalog.GetStoreMeta(i)
		if errors.Is(err, ErrNotFound) {
			meta = DefaultStoreMeta(i)
			if err := m.catalog.SetStoreMeta(meta); err != nil {
				return fmt.Errorf("persist default meta for store %d: %w", i, err)
			}
		} else if err != nil {
			return fmt.Errorf("load meta for store %d: %w", i, err)
		}
		assert(meta.ID == i, "store meta id does not match its slot")
		m.syncMeta[i] = meta

		firstBinlogID, err := m.readFirstBinlogID(ctx, i)
		if err != nil {
			return fmt.Errorf("position binlog cursor for store %d: %w", i, err)
		}
		m.logRecycStatus[i].FirstBinlogID = firstBinlogID

		mode := ModeReadWrite
		if meta.SyncFromHost != "" {
			mode = ModeReplicateOnly
		}
		if err := m.stores[i].SetMode(mode); err != nil {
			return fmt.Errorf("set mode for store %d: %w", i, err)
		}

		seq, err := maxDumpFileSeq(dumpDir(m.cfg.DumpPath, i))
		if err != nil {
			return fmt.Errorf("scan dump directory for store %d: %w", i, err)
		}
		m.logRecycStatus[i].FileSeq = seq + 1
	}

	m.fullPushPool = NewWorkerPool("full-push", m.cfg.MaxFullParal, n)
	m.incrPushPool = NewWorkerPool("incr-push", m.cfg.IncrPoolSize, n)
	m.fullRecvPool = NewWorkerPool("full-recv", m.cfg.MaxFullParal, n)
	m.incrCheckPool = NewWorkerPool("incr-check", 2, n)
	m.logRecycPool = NewWorkerPool("log-recyc", m.cfg.IncrPoolSize, n)

	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.controllerLoop()

	return nil
}

func (m *ReplManager) readFirstBinlogID(ctx context.Context, storeID int) (uint64, error) {
	txn, err := m.stores[storeID].CreateTransaction(nil)
	if err != nil {
		return 0, err
	}
	defer txn.Rollback()

	cur, err := txn.CreateBinlogCursor(0)
	if err != nil {
		return 0, err
	}

	entry, err := cur.Next()
	if errors.Is(err, ErrExhausted) {
		return TXNIDUninited, nil
	} else if err != nil {
		return 0, err
	}
	return entry.TxnID, nil
}

// controllerLoop is the single scheduler thread: every tick it scans all
// per-store statuses under the manager mutex and dispatches ready work to
// the appropriate pool: slave and recycle work while the lock is held,
// master-push work after it is released.
func (m *ReplManager) controllerLoop() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.cfg.SchedInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		now := time.Now()
		m.mu.Lock()
		dispatched := m.scanSlaves(now)
		ready := m.scanMaster(now)
		dispatched = dispatched || len(ready) > 0
		dispatched = m.scanRecycle(now) || dispatched
		m.mu.Unlock()

		// Master clients are dispatched outside the lock: unlike the
		// per-store slave/recycle scans (bounded by N, which is exactly
		// the pools' queue capacity), the number of ready (store,client)
		// pairs is unbounded, so Submit could block on a full queue. If
		// that happened with m.mu still held, every worker would in turn
		// block acquiring m.mu at the top of masterPushRoutine and the
		// queue would never drain — a permanent deadlock.
		for _, d := range ready {
			sid, cid := d.storeID, d.clientID
			m.incrPushPool.Submit(func() { m.masterPushRoutine(sid, cid) })
		}

		if dispatched {
			continue
		}

		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// scanSlaves implements §4.3's slave scan. Must be called with mu held.
func (m *ReplManager) scanSlaves(now time.Time) bool {
	dispatched := false
	for i := 0; i < m.cfg.N; i++ {
		st := &m.syncStats[i]
		if st.IsRunning || now.Before(st.NextSchedTime) {
			continue
		}

		switch m.syncMeta[i].ReplState {
		case StateNone:
			continue
		case StateTransfer:
			assert(false, "observed TRANSFER state in dispatch scan")
		case StateConnect:
			st.IsRunning = true
			storeID := i
			m.fullRecvPool.Submit(func() { m.slaveSyncRoutine(storeID) })
			dispatched = true
		case StateConnected:
			st.IsRunning = true
			storeID := i
			m.incrCheckPool.Submit(func() { m.slaveSyncRoutine(storeID) })
			dispatched = true
		default:
			assert(false, "invalid repl state")
		}
	}
	return dispatched
}

// masterDispatch names a (store,client) pair scanMaster found ready to push.
type masterDispatch struct {
	storeID  int
	clientID string
}

// scanMaster implements §4.3's master scan. Must be called with mu held. It
// only marks ready clients IsRunning and returns them; the caller submits
// them to incrPushPool after releasing mu (see controllerLoop) since the
// number of (store,client) pairs, unlike the per-store scans, is unbounded.
func (m *ReplManager) scanMaster(now time.Time) []masterDispatch {
	var ready []masterDispatch
	for storeID, clients := range m.pushStatus {
		for clientID, pov := range clients {
			if pov.IsRunning || now.Before(pov.NextSchedTime) {
				continue
			}
			pov.IsRunning = true
			ready = append(ready, masterDispatch{storeID: storeID, clientID: clientID})
		}
	}
	return ready
}

// scanRecycle implements §4.3's recycle scan. Must be called with mu held.
func (m *ReplManager) scanRecycle(now time.Time) bool {
	dispatched := false
	for i := 0; i < m.cfg.N; i++ {
		rst := &m.logRecycStatus[i]
		if rst.IsRunning || now.Before(rst.NextSchedTime) {
			continue
		}

		endLogID := noDownstream
		for _, pov := range m.pushStatus[i] {
			if pov.BinlogPos < endLogID {
				endLogID = pov.BinlogPos
			}
		}
		saveLogs := len(m.pushStatus[i]) == 0
		oldFirst := rst.FirstBinlogID

		if endLogID != noDownstream && endLogID >= oldFirst {
			binlogLagGaugeVec.WithLabelValues(fmt.Sprint(i)).Set(float64(endLogID - oldFirst))
		}

		rst.IsRunning = true
		storeID := i
		m.logRecycPool.Submit(func() { m.recycleBinlog(storeID, oldFirst, endLogID, saveLogs) })
		dispatched = true
	}
	return dispatched
}

// Close stops the controller, then all five pools, in that order, per
// §4.9. Pool stop quiesces every in-flight task before returning.
func (m *ReplManager) Close() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	<-m.doneCh

	var err error
	for _, p := range []*WorkerPool{m.fullPushPool, m.incrPushPool, m.fullRecvPool, m.incrCheckPool, m.logRecycPool} {
		if p == nil {
			continue
		}
		if cerr := p.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// withLock runs fn with the manager mutex held, used by status reporting
// so it never races with the controller's scans.
func (m *ReplManager) withLock(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
}
