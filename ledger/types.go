/*
Package ledger provides the core money-movement engine.

PURPOSE:
  This package contains the domain types and algorithms for a double-entry
  style ledger: accounts hold balances, transfers move money between two
  accounts atomically, and every completed transfer is recorded as an
  immutable ledger entry.

KEY CONCEPTS IN THIS FILE (types.go):
  - OwnerID: The stable identifier linking a user to exactly one account
  - Account: A balance record, keyed by owner
  - Entry: An immutable record of one completed transfer
  - TransferResult: What the caller gets back from a successful transfer

DESIGN PRINCIPLES:
  1. Exactness: Uses decimal.Decimal to avoid floating-point drift on money
  2. Immutability: Entries are never updated or deleted once written
  3. Conservation: A transfer redistributes balance, never creates or
     destroys it
  4. Non-negativity: No committed state ever holds a negative balance

SEE ALSO:
  - engine.go: The transfer state machine
  - store.go: Persistence interface and the atomic-unit contract
  - errors.go: Error taxonomy
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// OwnerID identifies the user that owns an account. One account per owner.
type OwnerID string

func (id OwnerID) String() string { return string(id) }

// maxOwnerIDLen bounds identifiers coming across the API boundary.
const maxOwnerIDLen = 128

// =============================================================================
// MONEY
// =============================================================================

// MinTransferUnit is the smallest transferable quantity (one currency subunit).
var MinTransferUnit = decimal.New(1, -2) // 0.01

// MustDecimal parses a decimal literal, panicking on malformed input.
// For tests and constants only.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// =============================================================================
// ACCOUNT - Balance record, keyed by owner
// =============================================================================

// Account holds the committed balance for one owner.
//
// INVARIANT: Balance is never negative in any committed state.
// Accounts are created once (at registration) and never deleted.
type Account struct {
	OwnerID   OwnerID
	Balance   decimal.Decimal
	CreatedAt time.Time
}

// =============================================================================
// ENTRY - Immutable record of one completed transfer
// =============================================================================

// Entry records a single completed transfer. Append-only: once written it is
// never updated or deleted, and no entry exists for an aborted transfer.
type Entry struct {
	ID        string
	From      OwnerID
	To        OwnerID
	Amount    decimal.Decimal // strictly positive
	CreatedAt time.Time       // commit time
}

// Direction annotates a history entry relative to the owner who asked.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// HistoryEntry is an Entry annotated with the asking owner's direction.
type HistoryEntry struct {
	Entry
	Direction Direction
}

// =============================================================================
// TRANSFER RESULT
// =============================================================================

// TransferResult reports a committed transfer back to the caller.
type TransferResult struct {
	EntryID       string
	Amount        decimal.Decimal
	SenderBalance decimal.Decimal // sender's balance after the debit
	CreatedAt     time.Time
}
