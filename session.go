package replicore

import (
	"log"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// maxArgsBrief is the cap on the recent-command-arguments slice kept for
// operator-visible status dumps.
const maxArgsBrief = 8

// waitDescriptor records what a session is currently blocked on.
type waitDescriptor struct {
	StoreID int
	Key     string
	Mode    LockMode
}

// ExtendProtocolState is the session's extended-protocol negotiation state.
type ExtendProtocolState struct {
	Timestamp time.Time
	Version   int
}

// SessionCtx is the per-connected-client ledger of open transactions, held
// locks, and key-lock reentry state. All mutating operations serialize on
// mu. commitAll/rollbackAll are the only operations that can fail
// partially; every other method either succeeds or asserts.
type SessionCtx struct {
	mu sync.Mutex

	txnOrder []int
	txns     map[int]Transaction

	locks []Lock

	keyLocks map[string]LockMode

	wait *waitDescriptor

	argsBrief []string

	Authed         bool
	DBID           int
	ReplOnly       bool
	IsMonitor      bool
	ExtendProtocol ExtendProtocolState
}

// NewSessionCtx returns an empty session ledger.
func NewSessionCtx() *SessionCtx {
	return &SessionCtx{
		txns:     make(map[int]Transaction),
		keyLocks: make(map[string]LockMode),
	}
}

// CreateTransaction returns the session's existing transaction for storeID
// if one exists; otherwise it creates one via store and records it. It is
// idempotent within a session.
func (s *SessionCtx) CreateTransaction(storeID int, store Store) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if txn, ok := s.txns[storeID]; ok {
		return txn, nil
	}

	txn, err := store.CreateTransaction(s)
	if err != nil {
		return nil, err
	}

	s.txns[storeID] = txn
	s.txnOrder = append(s.txnOrder, storeID)
	return txn, nil
}

// CommitAll commits every open transaction in insertion order. It continues
// on failure, logging partial-success warnings tagged with cmd, and
// returns the last error encountered (nil if every commit succeeded). The
// transaction map is cleared regardless of outcome.
func (s *SessionCtx) CommitAll(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var merr error
	var lastErr error
	for _, storeID := range s.txnOrder {
		txn := s.txns[storeID]
		if _, err := txn.Commit(); err != nil {
			lastErr = err
			merr = multierror.Append(merr, err)
			log.Printf("replicore: partial commit failure: cmd=%s store=%d err=%v", cmd, storeID, err)
		}
	}

	s.txns = make(map[int]Transaction)
	s.txnOrder = nil

	// The full aggregate is only used for logging; the contract returns the
	// last error.
	if merr != nil {
		log.Printf("replicore: commit all: cmd=%s: %v", cmd, merr)
	}
	return lastErr
}

// RollbackAll rolls back every open transaction, always clearing the map.
func (s *SessionCtx) RollbackAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lastErr error
	for _, storeID := range s.txnOrder {
		txn := s.txns[storeID]
		if err := txn.Rollback(); err != nil {
			lastErr = err
			log.Printf("replicore: rollback failure: store=%d err=%v", storeID, err)
		}
	}

	s.txns = make(map[int]Transaction)
	s.txnOrder = nil

	return lastErr
}

// AddLock appends lock to the session's held-lock list.
func (s *SessionCtx) AddLock(lock Lock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks = append(s.locks, lock)
}

// RemoveLock removes lock by identity. Removing a lock the session does not
// hold is a fatal invariant violation.
func (s *SessionCtx) RemoveLock(lock Lock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, l := range s.locks {
		if l == lock {
			s.locks = append(s.locks[:i], s.locks[i+1:]...)
			return
		}
	}
	assert(false, "removeLock of a lock the session does not hold")
}

// keyLockWeight orders lock modes from weakest to strongest so re-entry can
// be checked against invariant 7 (a session may only re-enter a key lock at
// an equal-or-weaker mode).
func keyLockWeight(mode LockMode) int {
	switch mode {
	case LockShared:
		return 0
	case LockIntentExclusive:
		return 1
	case LockExclusive:
		return 2
	default:
		assert(false, "invalid lock mode")
		return 0
	}
}

// SetKeylock records that the session holds key at mode.
func (s *SessionCtx) SetKeylock(key string, mode LockMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyLocks[key] = mode
}

// UnsetKeylock removes key from the session's key-lock ledger. Unsetting an
// absent key is a fatal invariant violation.
func (s *SessionCtx) UnsetKeylock(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keyLocks[key]; !ok {
		assert(false, "unsetKeylock of a key the session does not hold")
	}
	delete(s.keyLocks, key)
}

// IsLockedByMe returns true iff the session already holds key. It also
// enforces invariant 7: re-entry is only valid at an equal-or-weaker mode
// than the one already held; requesting a stronger mode is fatal.
func (s *SessionCtx) IsLockedByMe(key string, mode LockMode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	held, ok := s.keyLocks[key]
	if !ok {
		return false
	}
	assert(keyLockWeight(mode) <= keyLockWeight(held), "key lock upgrade within one session is disallowed")
	return true
}

// SetArgsBrief stores at most the first maxArgsBrief elements of v,
// preserving prefix order, for operator-visible status dumps.
func (s *SessionCtx) SetArgsBrief(v []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(v)
	if n > maxArgsBrief {
		n = maxArgsBrief
	}
	brief := make([]string, n)
	copy(brief, v[:n])
	s.argsBrief = brief
}

// ArgsBrief returns the most recently recorded brief argument slice.
func (s *SessionCtx) ArgsBrief() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.argsBrief
}

// SetWait records that the session is blocked on (storeID, key, mode).
func (s *SessionCtx) SetWait(storeID int, key string, mode LockMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wait = &waitDescriptor{StoreID: storeID, Key: key, Mode: mode}
}

// ClearWait clears the session's wait descriptor.
func (s *SessionCtx) ClearWait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wait = nil
}
