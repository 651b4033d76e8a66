package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Repository is the domain wrapper over a Store for account balances.
// It is deliberately thin: construct it over the Store handed to a
// TxStore.WithTx callback and every call composes into that unit.
type Repository struct {
	store Store
}

func NewRepository(store Store) *Repository {
	return &Repository{store: store}
}

// Balance returns the committed balance for owner.
func (r *Repository) Balance(ctx context.Context, owner OwnerID) (decimal.Decimal, error) {
	acct, err := r.store.GetAccount(ctx, owner)
	if err != nil {
		return decimal.Zero, err
	}
	return acct.Balance, nil
}

// Adjust applies balance += delta, where delta may be negative.
// Fails with InsufficientBalanceError if the result would be negative.
// The read uses exclusive write intent so the check-then-set pair cannot
// race with a concurrent debit of the same account.
func (r *Repository) Adjust(ctx context.Context, owner OwnerID, delta decimal.Decimal) (decimal.Decimal, error) {
	acct, err := r.store.GetAccountForUpdate(ctx, owner)
	if err != nil {
		return decimal.Zero, err
	}

	next := acct.Balance.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, &InsufficientBalanceError{
			OwnerID:   owner,
			Available: acct.Balance,
			Requested: delta.Neg(),
		}
	}

	if err := r.store.SetBalance(ctx, owner, next); err != nil {
		return decimal.Zero, err
	}
	return next, nil
}

// Create opens a new account with the given opening balance.
func (r *Repository) Create(ctx context.Context, owner OwnerID, opening decimal.Decimal) error {
	if owner == "" {
		return &InputError{Field: "ownerId", Reason: "must not be empty"}
	}
	if opening.IsNegative() {
		return ErrInvalidAmount
	}
	return r.store.CreateAccount(ctx, Account{
		OwnerID:   owner,
		Balance:   opening,
		CreatedAt: time.Now().UTC(),
	})
}
