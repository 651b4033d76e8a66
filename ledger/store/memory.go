// Package store provides an in-memory ledger.TxStore for tests and dev runs.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/auth"
	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps accounts and entries behind one RWMutex. WithTx holds the
// write lock for the whole unit, so units are serializable by construction
// and GetAccountForUpdate needs no extra locking.
type Memory struct {
	mu       sync.RWMutex
	accounts map[ledger.OwnerID]ledger.Account
	entries  []ledger.Entry
	users    map[string]auth.User // see users.go
}

func NewMemory() *Memory {
	return &Memory{accounts: make(map[ledger.OwnerID]ledger.Account)}
}

func (m *Memory) GetAccount(_ context.Context, owner ledger.OwnerID) (ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(owner)
}

func (m *Memory) GetAccountForUpdate(_ context.Context, owner ledger.OwnerID) (ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(owner)
}

func (m *Memory) getLocked(owner ledger.OwnerID) (ledger.Account, error) {
	acct, ok := m.accounts[owner]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return acct, nil
}

func (m *Memory) CreateAccount(_ context.Context, acct ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(acct)
}

func (m *Memory) createLocked(acct ledger.Account) error {
	if _, ok := m.accounts[acct.OwnerID]; ok {
		return ledger.ErrAccountExists
	}
	m.accounts[acct.OwnerID] = acct
	return nil
}

func (m *Memory) SetBalance(_ context.Context, owner ledger.OwnerID, balance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setBalanceLocked(owner, balance)
}

func (m *Memory) setBalanceLocked(owner ledger.OwnerID, balance decimal.Decimal) error {
	acct, ok := m.accounts[owner]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	acct.Balance = balance
	m.accounts[owner] = acct
	return nil
}

// AppendEntry adds a ledger entry. Append-only.
func (m *Memory) AppendEntry(_ context.Context, e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(e)
	return nil
}

func (m *Memory) appendLocked(e ledger.Entry) {
	m.entries = append(m.entries, e)
}

func (m *Memory) ListEntriesByOwner(_ context.Context, owner ledger.OwnerID, limit int) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Entry
	for _, e := range m.entries {
		if e.From == owner || e.To == owner {
			result = append(result, e)
		}
	}

	// Newest first; entries land in append order, so a stable reverse sort
	// on CreatedAt keeps same-timestamp entries in reverse append order.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with atomic-unit support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within one atomic unit.
// For the memory store this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snap := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snap)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	accounts := make(map[ledger.OwnerID]ledger.Account, len(tm.accounts))
	for k, v := range tm.accounts {
		accounts[k] = v
	}
	entries := append([]ledger.Entry{}, tm.entries...)
	return memorySnapshot{accounts: accounts, entries: entries}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.accounts = s.accounts
	tm.entries = s.entries
}

type memorySnapshot struct {
	accounts map[ledger.OwnerID]ledger.Account
	entries  []ledger.Entry
}

// txMemoryView routes Store calls at the parent without re-locking; the
// parent's mutex is already held for the duration of the unit.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) GetAccount(_ context.Context, owner ledger.OwnerID) (ledger.Account, error) {
	return tv.parent.getLocked(owner)
}

func (tv *txMemoryView) GetAccountForUpdate(_ context.Context, owner ledger.OwnerID) (ledger.Account, error) {
	return tv.parent.getLocked(owner)
}

func (tv *txMemoryView) CreateAccount(_ context.Context, acct ledger.Account) error {
	return tv.parent.createLocked(acct)
}

func (tv *txMemoryView) SetBalance(_ context.Context, owner ledger.OwnerID, balance decimal.Decimal) error {
	return tv.parent.setBalanceLocked(owner, balance)
}

func (tv *txMemoryView) AppendEntry(_ context.Context, e ledger.Entry) error {
	tv.parent.appendLocked(e)
	return nil
}

func (tv *txMemoryView) ListEntriesByOwner(ctx context.Context, owner ledger.OwnerID, limit int) ([]ledger.Entry, error) {
	var result []ledger.Entry
	for _, e := range tv.parent.entries {
		if e.From == owner || e.To == owner {
			result = append(result, e)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
