// Package mock provides function-field mocks of the replicore external
// collaborator interfaces (§6), modeled directly on litefs's mock package
// (mock/lease.go, mock/client.go): one struct per interface, one *Func
// field per method, the method body just calls the field.
package mock

import (
	"context"
	"io"
	"time"

	"github.com/shardkv/replicore"
)

var _ replicore.Catalog = (*Catalog)(nil)

type Catalog struct {
	GetStoreMetaFunc func(id int) (replicore.StoreMeta, error)
	SetStoreMetaFunc func(meta replicore.StoreMeta) error
}

func (c *Catalog) GetStoreMeta(id int) (replicore.StoreMeta, error) { return c.GetStoreMetaFunc(id) }
func (c *Catalog) SetStoreMeta(meta replicore.StoreMeta) error      { return c.SetStoreMetaFunc(meta) }

var _ replicore.Store = (*Store)(nil)

type Store struct {
	CreateTransactionFunc   func(session *replicore.SessionCtx) (replicore.Transaction, error)
	SetModeFunc             func(mode replicore.StoreMode) error
	GetTruncateLogFunc      func(start, end uint64, txn replicore.Transaction) (uint64, []replicore.ReplLog, error)
	TruncateBinlogFunc      func(entries []replicore.ReplLog, txn replicore.Transaction) error
	ApplyFullDumpFunc       func(r io.Reader, txn replicore.Transaction) (uint64, error)
	ApplyBinlogEntriesFunc  func(entries []replicore.ReplLog, txn replicore.Transaction) error
	WriteFullDumpFunc       func(w io.Writer, txn replicore.Transaction) error
	ReadBinlogEntriesFunc   func(pos uint64, limit int, txn replicore.Transaction) ([]replicore.ReplLog, error)
}

func (s *Store) CreateTransaction(session *replicore.SessionCtx) (replicore.Transaction, error) {
	return s.CreateTransactionFunc(session)
}
func (s *Store) SetMode(mode replicore.StoreMode) error { return s.SetModeFunc(mode) }
func (s *Store) GetTruncateLog(start, end uint64, txn replicore.Transaction) (uint64, []replicore.ReplLog, error) {
	return s.GetTruncateLogFunc(start, end, txn)
}
func (s *Store) TruncateBinlog(entries []replicore.ReplLog, txn replicore.Transaction) error {
	return s.TruncateBinlogFunc(entries, txn)
}
func (s *Store) ApplyFullDump(r io.Reader, txn replicore.Transaction) (uint64, error) {
	return s.ApplyFullDumpFunc(r, txn)
}
func (s *Store) ApplyBinlogEntries(entries []replicore.ReplLog, txn replicore.Transaction) error {
	return s.ApplyBinlogEntriesFunc(entries, txn)
}
func (s *Store) WriteFullDump(w io.Writer, txn replicore.Transaction) error {
	return s.WriteFullDumpFunc(w, txn)
}
func (s *Store) ReadBinlogEntries(pos uint64, limit int, txn replicore.Transaction) ([]replicore.ReplLog, error) {
	return s.ReadBinlogEntriesFunc(pos, limit, txn)
}

var _ replicore.Transaction = (*Transaction)(nil)

type Transaction struct {
	CommitFunc             func() (uint64, error)
	RollbackFunc           func() error
	CreateBinlogCursorFunc func(minTxnID uint64) (replicore.Cursor, error)
}

func (t *Transaction) Commit() (uint64, error) { return t.CommitFunc() }
func (t *Transaction) Rollback() error         { return t.RollbackFunc() }
func (t *Transaction) CreateBinlogCursor(minTxnID uint64) (replicore.Cursor, error) {
	return t.CreateBinlogCursorFunc(minTxnID)
}

var _ replicore.Cursor = (*Cursor)(nil)

type Cursor struct {
	NextFunc func() (replicore.ReplLog, error)
}

func (c *Cursor) Next() (replicore.ReplLog, error) { return c.NextFunc() }

var _ replicore.Client = (*Client)(nil)
var _ replicore.BlockingClient = (*Client)(nil)

type Client struct {
	ConnectFunc      func(host string, port int, timeout time.Duration) error
	WriteLineFunc    func(s string, timeout time.Duration) error
	ReadLineFunc     func(timeout time.Duration) (string, error)
	GetRemoteReprFunc func() string
	ReaderFunc       func() io.Reader
	WriterFunc       func() io.Writer
	CloseFunc        func() error
}

func (c *Client) Connect(host string, port int, timeout time.Duration) error {
	return c.ConnectFunc(host, port, timeout)
}
func (c *Client) WriteLine(s string, timeout time.Duration) error { return c.WriteLineFunc(s, timeout) }
func (c *Client) ReadLine(timeout time.Duration) (string, error)  { return c.ReadLineFunc(timeout) }
func (c *Client) GetRemoteRepr() string                            { return c.GetRemoteReprFunc() }
func (c *Client) Reader() io.Reader                                { return c.ReaderFunc() }
func (c *Client) Writer() io.Writer                                { return c.WriterFunc() }
func (c *Client) Close() error                                     { return c.CloseFunc() }

var _ replicore.SegmentManager = (*SegmentManager)(nil)

type SegmentManager struct {
	GetDBFunc func(ctx context.Context, session *replicore.SessionCtx, storeID int, mode replicore.LockMode) (*replicore.DBHandle, error)
}

func (m *SegmentManager) GetDB(ctx context.Context, session *replicore.SessionCtx, storeID int, mode replicore.LockMode) (*replicore.DBHandle, error) {
	return m.GetDBFunc(ctx, session, storeID, mode)
}

var _ replicore.Lock = (*Lock)(nil)

type Lock struct {
	UnlockFunc func()
}

func (l *Lock) Unlock() {
	if l.UnlockFunc != nil {
		l.UnlockFunc()
	}
}
