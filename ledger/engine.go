/*
engine.go - The transfer engine

PURPOSE:
  Orchestrates one transfer end to end: validation, account locking, funds
  check, dual balance update, ledger append, commit or abort. This is the
  consistency core of the service.

STATE FLOW:
  Validated -> locked -> funds checked -> debited -> credited -> recorded
  -> committed. Any failure after validation aborts the whole unit; no
  partial effect ever persists and no entry exists for an aborted transfer.

CONCURRENCY (pessimistic strategy):
  Both account rows are locked in ascending owner-ID order before any
  balance is read. The fixed global order prevents deadlock between two
  transfers targeting each other's accounts in opposite directions. The
  funds check therefore always sees the most recent committed balance;
  stale reads can never authorize a debit. Two concurrent transfers that
  would jointly overdraw an account serialize on its row lock, and the
  second one fails the funds check.

RETRY:
  The engine never retries an aborted transfer. Abort is terminal for the
  call; resubmitting is the caller's decision and is treated as a brand-new
  transfer. Every unit runs under a deadline (DefaultTransferTimeout unless
  overridden): exceeding it aborts with ErrTimeout instead of holding locks
  indefinitely. A caller that goes away mid-unit aborts with ErrCancelled.

SEE ALSO:
  - repository.go: Balance reads/writes used inside the unit
  - store.go: The atomic-unit contract
  - history.go: The independent read path over entries
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Publisher receives committed-transfer notifications. Implementations must
// tolerate being called after commit; a publish failure never fails the
// transfer.
type Publisher interface {
	TransferCompleted(ctx context.Context, e Entry)
}

// DefaultTransferTimeout bounds how long one transfer may hold its atomic
// unit. A unit that exceeds it aborts with ErrTimeout; it never hangs on a
// stalled row lock.
const DefaultTransferTimeout = 10 * time.Second

// Engine executes transfers. It holds no per-call state; one Engine serves
// all concurrent requests, with the store as the only shared resource.
type Engine struct {
	store   TxStore
	log     *zap.Logger
	pub     Publisher
	now     func() time.Time
	timeout time.Duration
}

func NewEngine(store TxStore, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: store, log: log, now: time.Now, timeout: DefaultTransferTimeout}
}

// WithPublisher attaches a committed-transfer publisher.
func (e *Engine) WithPublisher(p Publisher) *Engine {
	e.pub = p
	return e
}

// WithTimeout overrides the unit hold-time bound. Non-positive values keep
// the default.
func (e *Engine) WithTimeout(d time.Duration) *Engine {
	if d > 0 {
		e.timeout = d
	}
	return e
}

// WithClock overrides the commit-time source. For tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Transfer moves amount from sender to recipient as one atomic unit and
// appends the ledger entry recording it.
//
// The sender ID comes from the authentication layer, never from the request
// body; the engine trusts it but re-validates everything else.
func (e *Engine) Transfer(ctx context.Context, senderID, recipientID OwnerID, amount decimal.Decimal) (TransferResult, error) {
	if err := validateTransfer(senderID, recipientID, amount); err != nil {
		return TransferResult{}, err
	}

	// Bound the unit's hold time. Without this deadline a transfer blocked
	// behind a stalled peer would hold its row locks forever.
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var result TransferResult
	err := e.store.WithTx(ctx, func(s Store) error {
		repo := NewRepository(s)

		// Lock both rows in ascending owner-ID order before reading
		// either balance. See the header comment for why order matters.
		var sender Account
		for _, owner := range lockOrder(senderID, recipientID) {
			acct, err := s.GetAccountForUpdate(ctx, owner)
			if err != nil {
				if errors.Is(err, ErrAccountNotFound) {
					if owner == senderID {
						return ErrSenderNotFound
					}
					return ErrRecipientNotFound
				}
				return err
			}
			if owner == senderID {
				sender = acct
			}
		}

		if sender.Balance.LessThan(amount) {
			return &InsufficientBalanceError{
				OwnerID:   senderID,
				Available: sender.Balance,
				Requested: amount,
			}
		}

		senderBalance, err := repo.Adjust(ctx, senderID, amount.Neg())
		if err != nil {
			return err
		}
		if _, err := repo.Adjust(ctx, recipientID, amount); err != nil {
			return err
		}

		entry := Entry{
			ID:        uuid.NewString(),
			From:      senderID,
			To:        recipientID,
			Amount:    amount,
			CreatedAt: e.now().UTC(),
		}
		if err := s.AppendEntry(ctx, entry); err != nil {
			return err
		}

		result = TransferResult{
			EntryID:       entry.ID,
			Amount:        amount,
			SenderBalance: senderBalance,
			CreatedAt:     entry.CreatedAt,
		}
		return nil
	})
	if err != nil {
		err = classifyAbort(err)
		e.log.Debug("transfer aborted",
			zap.String("sender", senderID.String()),
			zap.String("recipient", recipientID.String()),
			zap.Error(err))
		return TransferResult{}, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	e.log.Info("transfer committed",
		zap.String("entry", result.EntryID),
		zap.String("sender", senderID.String()),
		zap.String("recipient", recipientID.String()),
		zap.String("amount", amount.String()))

	if e.pub != nil {
		e.pub.TransferCompleted(ctx, Entry{
			ID:        result.EntryID,
			From:      senderID,
			To:        recipientID,
			Amount:    amount,
			CreatedAt: result.CreatedAt,
		})
	}
	return result, nil
}

// validateTransfer rejects malformed requests before the unit opens.
func validateTransfer(senderID, recipientID OwnerID, amount decimal.Decimal) error {
	if senderID == "" || len(senderID) > maxOwnerIDLen {
		return &InputError{Field: "senderId", Reason: "malformed identifier"}
	}
	if recipientID == "" || len(recipientID) > maxOwnerIDLen {
		return &InputError{Field: "recipientId", Reason: "malformed identifier"}
	}
	if senderID == recipientID {
		return &InputError{Field: "recipientId", Reason: "cannot transfer to yourself"}
	}
	if !amount.IsPositive() {
		return &InputError{Field: "amount", Reason: "must be positive"}
	}
	if amount.LessThan(MinTransferUnit) {
		return &InputError{Field: "amount", Reason: "below minimum transfer unit"}
	}
	return nil
}

// lockOrder returns the two owners in ascending ID order.
func lockOrder(a, b OwnerID) [2]OwnerID {
	if a < b {
		return [2]OwnerID{a, b}
	}
	return [2]OwnerID{b, a}
}

// classifyAbort maps context expiry onto the taxonomy: a blown deadline is a
// timeout, caller-initiated cancellation is its own class. Store
// implementations map their own driver faults before the error gets here.
func classifyAbort(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return err
}
