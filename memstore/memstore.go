// Package memstore provides an in-memory replicore.Store used by tests and
// the demo binary. It keeps an ordered binlog in memory and lets the
// replication core exercise full-dump, incremental, and truncation paths
// without a real storage engine.
package memstore

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/shardkv/replicore"
)

var _ replicore.Store = (*Store)(nil)

// Store is a single in-memory KV instance with an append-only binlog of
// committed mutations. Grounded on litefs's Store: a mutex-guarded slice of
// entries standing in for litefs's on-disk LTX files.
type Store struct {
	mu     sync.Mutex
	mode   replicore.StoreMode
	binlog []replicore.ReplLog
	nextID uint64
	data   map[string]string
}

// New returns an empty Store. nextTxnID is the first txn id that will be
// assigned to a committed mutation (mirrors the replica's current
// BinlogID after a restore, so tests can resume a binlog mid-sequence).
func New(nextTxnID uint64) *Store {
	if nextTxnID == 0 {
		nextTxnID = 1
	}
	return &Store{
		mode:   replicore.ModeReadWrite,
		nextID: nextTxnID,
		data:   make(map[string]string),
	}
}

func (s *Store) SetMode(mode replicore.StoreMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	return nil
}

// Mode returns the store's current read/write posture, for tests.
func (s *Store) Mode() replicore.StoreMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Put appends a SET mutation to the binlog and applies it, returning the
// txn id it was assigned. It is the store's only write path besides
// replication application, used by tests to simulate a master's own
// writes.
func (s *Store) Put(key, value string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.data[key] = value
	s.binlog = append(s.binlog, replicore.ReplLog{
		TxnID:   id,
		Payload: encodeMutation(key, value),
	})
	return id
}

// Get returns the current value for key, for tests.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *Store) CreateTransaction(session *replicore.SessionCtx) (replicore.Transaction, error) {
	return &transaction{store: s}, nil
}

func (s *Store) GetTruncateLog(start, end uint64, txn replicore.Transaction) (uint64, []replicore.ReplLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []replicore.ReplLog
	newStart := start
	for _, e := range s.binlog {
		if e.TxnID < start || e.TxnID >= end {
			continue
		}
		entries = append(entries, e)
		newStart = e.TxnID + 1
	}
	return newStart, entries, nil
}

func (s *Store) TruncateBinlog(entries []replicore.ReplLog, txn replicore.Transaction) error {
	if len(entries) == 0 {
		return nil
	}
	cutoff := entries[len(entries)-1].TxnID

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.binlog[:0]
	for _, e := range s.binlog {
		if e.TxnID > cutoff {
			kept = append(kept, e)
		}
	}
	s.binlog = kept
	return nil
}

func (s *Store) ApplyFullDump(r io.Reader, txn replicore.Transaction) (uint64, error) {
	dec := json.NewDecoder(r)
	var dump fullDump
	if err := dec.Decode(&dump); err != nil && err != io.EOF {
		return 0, fmt.Errorf("decode full dump: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string]string, len(dump.Data))
	for k, v := range dump.Data {
		s.data[k] = v
	}
	s.binlog = nil
	if dump.TerminalTxnID+1 > s.nextID {
		s.nextID = dump.TerminalTxnID + 1
	}
	return dump.TerminalTxnID, nil
}

func (s *Store) ApplyBinlogEntries(entries []replicore.ReplLog, txn replicore.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		key, value, err := decodeMutation(e.Payload)
		if err != nil {
			return fmt.Errorf("decode binlog entry %d: %w", e.TxnID, err)
		}
		s.data[key] = value
		s.binlog = append(s.binlog, e)
		if e.TxnID+1 > s.nextID {
			s.nextID = e.TxnID + 1
		}
	}
	return nil
}

func (s *Store) WriteFullDump(w io.Writer, txn replicore.Transaction) error {
	s.mu.Lock()
	dump := fullDump{
		TerminalTxnID: s.lastTxnIDLocked(),
		Data:          make(map[string]string, len(s.data)),
	}
	for k, v := range s.data {
		dump.Data[k] = v
	}
	s.mu.Unlock()

	return json.NewEncoder(w).Encode(dump)
}

func (s *Store) ReadBinlogEntries(pos uint64, limit int, txn replicore.Transaction) ([]replicore.ReplLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []replicore.ReplLog
	for _, e := range s.binlog {
		if e.TxnID < pos {
			continue
		}
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) lastTxnIDLocked() uint64 {
	if s.nextID == 0 {
		return 0
	}
	return s.nextID - 1
}

// fullDump is the wire representation of a full-sync snapshot.
type fullDump struct {
	TerminalTxnID uint64            `json:"terminal_txn_id"`
	Data          map[string]string `json:"data"`
}

// mutation is the wire representation of one binlog entry's payload.
type mutation struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func encodeMutation(key, value string) []byte {
	data, err := json.Marshal(mutation{Key: key, Value: value})
	if err != nil {
		panic(err) // mutation always marshals; strings are always valid UTF-8 JSON content
	}
	return data
}

func decodeMutation(payload []byte) (key, value string, err error) {
	var m mutation
	if err := json.Unmarshal(payload, &m); err != nil {
		return "", "", err
	}
	return m.Key, m.Value, nil
}

// transaction is memstore's replicore.Transaction. memstore applies writes
// eagerly (see Put/ApplyBinlogEntries/TruncateBinlog), so commit/rollback
// are bookkeeping only; a real storage engine would defer visibility until
// Commit.
type transaction struct {
	store      *Store
	rolledBack bool
}

func (t *transaction) Commit() (uint64, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.lastTxnIDLocked(), nil
}

func (t *transaction) Rollback() error {
	t.rolledBack = true
	return nil
}

func (t *transaction) CreateBinlogCursor(minTxnID uint64) (replicore.Cursor, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	entries := make([]replicore.ReplLog, 0, len(t.store.binlog))
	for _, e := range t.store.binlog {
		if e.TxnID >= minTxnID {
			entries = append(entries, e)
		}
	}
	return &cursor{entries: entries}, nil
}

type cursor struct {
	entries []replicore.ReplLog
	pos     int
}

func (c *cursor) Next() (replicore.ReplLog, error) {
	if c.pos >= len(c.entries) {
		return replicore.ReplLog{}, replicore.ErrExhausted
	}
	e := c.entries[c.pos]
	c.pos++
	return e, nil
}
