/*
store.go - Persistence interface for accounts and ledger entries

PURPOSE:
  Defines the interface between the domain logic and the database.
  Different implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  Store:    Account lookups/mutations and entry persistence
  TxStore:  The atomic unit - groups Store calls into one commit/abort

APPEND-ONLY CONTRACT:
  Entries are append-only:
  - AppendEntry(): the ONLY write on the entries surface
  - NO update or delete methods exist for entries

ATOMIC UNIT:
  WithTx() is the transaction boundary from the concurrency contract: all
  reads and writes inside fn either become visible together at commit or
  not at all, and no concurrent unit observes intermediate state. The
  debit/credit/append triple of a transfer always runs inside one unit.

LOCKING:
  GetAccountForUpdate() declares exclusive write intent on one account row
  for the remainder of the unit (pessimistic strategy). Callers acquire
  rows in ascending owner-ID order; the fixed global order is what makes
  two opposite-direction transfers deadlock-free.

IMPLEMENTATIONS:
  - ledger/store/memory.go:   In-memory, for tests and dev
  - store/sqlite/sqlite.go:   SQLite (single-node production)
  - store/postgres/postgres.go: PostgreSQL with row-level FOR UPDATE locks

SEE ALSO:
  - repository.go: Domain wrapper composing Store calls inside one unit
  - engine.go: The only writer of balances and entries
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Keyed storage for accounts and entries
// =============================================================================

// Store handles persistence of accounts and ledger entries.
//
// Implementations map their native failure modes onto the package taxonomy:
// missing rows to ErrAccountNotFound, duplicate owners to ErrAccountExists,
// serialization failures to ErrConflict, connectivity faults to
// ErrStoreUnavailable, and context expiry to ErrTimeout.
type Store interface {
	// GetAccount returns the committed account for owner.
	GetAccount(ctx context.Context, owner OwnerID) (Account, error)

	// GetAccountForUpdate returns the account and holds exclusive write
	// intent on it until the enclosing unit commits or aborts. Outside a
	// unit it behaves like GetAccount.
	GetAccountForUpdate(ctx context.Context, owner OwnerID) (Account, error)

	// CreateAccount persists a new account. Fails with ErrAccountExists if
	// the owner already has one.
	CreateAccount(ctx context.Context, acct Account) error

	// SetBalance overwrites the balance for owner. Only the Repository
	// calls this, after its own non-negativity check.
	SetBalance(ctx context.Context, owner OwnerID, balance decimal.Decimal) error

	// AppendEntry persists an immutable ledger entry. The ONLY entry write.
	AppendEntry(ctx context.Context, e Entry) error

	// ListEntriesByOwner returns entries where owner is sender or
	// recipient, newest first, at most limit.
	ListEntriesByOwner(ctx context.Context, owner OwnerID, limit int) ([]Entry, error)
}

// TxStore extends Store with the atomic unit.
type TxStore interface {
	Store

	// WithTx executes fn within one atomic unit.
	// If fn returns an error, every write inside is discarded.
	// If fn returns nil, all writes commit together.
	WithTx(ctx context.Context, fn func(Store) error) error
}
