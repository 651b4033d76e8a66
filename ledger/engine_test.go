package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestEngine() (*ledger.Engine, *store.TxMemory) {
	s := store.NewTxMemory()
	return ledger.NewEngine(s, nil), s
}

func mustCreate(t *testing.T, s *store.TxMemory, owner ledger.OwnerID, balance string) {
	t.Helper()
	repo := ledger.NewRepository(s)
	if err := repo.Create(context.Background(), owner, dec(balance)); err != nil {
		t.Fatalf("failed to create account %s: %v", owner, err)
	}
}

func dec(s string) decimal.Decimal {
	return ledger.MustDecimal(s)
}

func balanceOf(t *testing.T, s *store.TxMemory, owner ledger.OwnerID) decimal.Decimal {
	t.Helper()
	acct, err := s.GetAccount(context.Background(), owner)
	if err != nil {
		t.Fatalf("failed to load account %s: %v", owner, err)
	}
	return acct.Balance
}

// =============================================================================
// TRANSFER SCENARIOS
// =============================================================================

func TestTransfer_Success(t *testing.T) {
	// GIVEN: Account A with balance 100
	// WHEN: Transferring 30 from A to B
	// THEN: A=70, B=80, one ledger entry, result reports the debit

	engine, s := newTestEngine()
	mustCreate(t, s, "alice", "100")
	mustCreate(t, s, "bob", "50")

	result, err := engine.Transfer(context.Background(), "alice", "bob", dec("30"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !balanceOf(t, s, "alice").Equal(dec("70")) {
		t.Errorf("expected alice balance 70, got %v", balanceOf(t, s, "alice"))
	}
	if !balanceOf(t, s, "bob").Equal(dec("80")) {
		t.Errorf("expected bob balance 80, got %v", balanceOf(t, s, "bob"))
	}
	if !result.SenderBalance.Equal(dec("70")) {
		t.Errorf("expected reported sender balance 70, got %v", result.SenderBalance)
	}
	if result.EntryID == "" {
		t.Error("expected a ledger entry id")
	}

	entries, err := s.ListEntriesByOwner(context.Background(), "alice", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one entry, got %d", len(entries))
	}
	if entries[0].From != "alice" || entries[0].To != "bob" || !entries[0].Amount.Equal(dec("30")) {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
}

func TestTransfer_InsufficientBalance(t *testing.T) {
	// GIVEN: Account A with balance 10
	// WHEN: Transferring 30
	// THEN: InsufficientBalance, both balances unchanged, no entry

	engine, s := newTestEngine()
	mustCreate(t, s, "alice", "10")
	mustCreate(t, s, "bob", "0")

	_, err := engine.Transfer(context.Background(), "alice", "bob", dec("30"))
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if !errors.Is(err, ledger.ErrTransferFailed) {
		t.Errorf("expected error to wrap ErrTransferFailed, got %v", err)
	}

	var detail *ledger.InsufficientBalanceError
	if !errors.As(err, &detail) {
		t.Fatalf("expected InsufficientBalanceError detail, got %v", err)
	}
	if !detail.Available.Equal(dec("10")) || !detail.Requested.Equal(dec("30")) {
		t.Errorf("unexpected detail: %+v", detail)
	}

	if !balanceOf(t, s, "alice").Equal(dec("10")) {
		t.Errorf("alice balance changed on failed transfer")
	}
	if !balanceOf(t, s, "bob").Equal(dec("0")) {
		t.Errorf("bob balance changed on failed transfer")
	}

	entries, _ := s.ListEntriesByOwner(context.Background(), "alice", 10)
	if len(entries) != 0 {
		t.Errorf("expected no entry for aborted transfer, got %d", len(entries))
	}
}

func TestTransfer_InvalidAmounts(t *testing.T) {
	engine, s := newTestEngine()
	mustCreate(t, s, "alice", "100")
	mustCreate(t, s, "bob", "0")

	for _, amount := range []string{"0", "-5", "0.001"} {
		_, err := engine.Transfer(context.Background(), "alice", "bob", dec(amount))
		if !errors.Is(err, ledger.ErrInvalidInput) {
			t.Errorf("amount %s: expected ErrInvalidInput, got %v", amount, err)
		}
	}

	// No state change from any rejected request.
	if !balanceOf(t, s, "alice").Equal(dec("100")) {
		t.Errorf("alice balance changed on invalid input")
	}
}

func TestTransfer_SelfTransfer(t *testing.T) {
	// Self-transfer fails regardless of balance.
	engine, s := newTestEngine()
	mustCreate(t, s, "alice", "100")

	_, err := engine.Transfer(context.Background(), "alice", "alice", dec("10"))
	if !errors.Is(err, ledger.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if !balanceOf(t, s, "alice").Equal(dec("100")) {
		t.Errorf("balance changed on self-transfer")
	}
}

func TestTransfer_MalformedIdentifiers(t *testing.T) {
	engine, _ := newTestEngine()

	_, err := engine.Transfer(context.Background(), "", "bob", dec("10"))
	if !errors.Is(err, ledger.ErrInvalidInput) {
		t.Errorf("empty sender: expected ErrInvalidInput, got %v", err)
	}

	_, err = engine.Transfer(context.Background(), "alice", "", dec("10"))
	if !errors.Is(err, ledger.ErrInvalidInput) {
		t.Errorf("empty recipient: expected ErrInvalidInput, got %v", err)
	}
}

func TestTransfer_SenderNotFound(t *testing.T) {
	engine, s := newTestEngine()
	mustCreate(t, s, "bob", "50")

	_, err := engine.Transfer(context.Background(), "ghost", "bob", dec("10"))
	if !errors.Is(err, ledger.ErrSenderNotFound) {
		t.Fatalf("expected ErrSenderNotFound, got %v", err)
	}
	if !balanceOf(t, s, "bob").Equal(dec("50")) {
		t.Errorf("bob balance changed")
	}
}

func TestTransfer_RecipientNotFound(t *testing.T) {
	// transfer(A, nonexistent, 10) -> RecipientNotFound, A unchanged
	engine, s := newTestEngine()
	mustCreate(t, s, "alice", "100")

	_, err := engine.Transfer(context.Background(), "alice", "ghost", dec("10"))
	if !errors.Is(err, ledger.ErrRecipientNotFound) {
		t.Fatalf("expected ErrRecipientNotFound, got %v", err)
	}
	if !balanceOf(t, s, "alice").Equal(dec("100")) {
		t.Errorf("alice balance changed")
	}
}

// =============================================================================
// ATOMICITY
// =============================================================================

// failingAppendStore aborts every unit at the ledger-append step, after the
// debit and credit have already been applied inside the unit.
type failingAppendStore struct {
	*store.TxMemory
}

func (f *failingAppendStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return f.TxMemory.WithTx(ctx, func(s ledger.Store) error {
		return fn(&failingAppendView{Store: s})
	})
}

type failingAppendView struct {
	ledger.Store
}

func (v *failingAppendView) AppendEntry(context.Context, ledger.Entry) error {
	return errors.New("disk full")
}

func TestTransfer_AbortAfterDebitLeavesNoPartialEffect(t *testing.T) {
	// GIVEN: A store that fails at the ledger-append step
	// WHEN: A transfer runs (debit and credit succeed inside the unit)
	// THEN: The abort rolls back both balance changes

	mem := store.NewTxMemory()
	engine := ledger.NewEngine(&failingAppendStore{TxMemory: mem}, nil)
	repo := ledger.NewRepository(mem)
	ctx := context.Background()

	if err := repo.Create(ctx, "alice", dec("100")); err != nil {
		t.Fatal(err)
	}
	if err := repo.Create(ctx, "bob", dec("0")); err != nil {
		t.Fatal(err)
	}

	_, err := engine.Transfer(ctx, "alice", "bob", dec("30"))
	if !errors.Is(err, ledger.ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}

	if !balanceOf(t, mem, "alice").Equal(dec("100")) {
		t.Errorf("partial debit observable: alice=%v", balanceOf(t, mem, "alice"))
	}
	if !balanceOf(t, mem, "bob").Equal(dec("0")) {
		t.Errorf("partial credit observable: bob=%v", balanceOf(t, mem, "bob"))
	}
	entries, _ := mem.ListEntriesByOwner(ctx, "alice", 10)
	if len(entries) != 0 {
		t.Errorf("entry persisted for aborted transfer")
	}
}

func TestTransfer_CancelledContext(t *testing.T) {
	// Caller-initiated cancellation is its own class, not a timeout.
	engine, s := newTestEngine()
	mustCreate(t, s, "alice", "100")
	mustCreate(t, s, "bob", "0")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Transfer(ctx, "alice", "bob", dec("10"))
	if !errors.Is(err, ledger.ErrCancelled) {
		t.Fatalf("expected ErrCancelled classification, got %v", err)
	}
	if errors.Is(err, ledger.ErrTimeout) {
		t.Errorf("cancellation must not classify as timeout: %v", err)
	}
	if !balanceOf(t, s, "alice").Equal(dec("100")) {
		t.Errorf("balance changed on cancelled transfer")
	}
}

// stallAppendStore simulates a unit stuck mid-flight: the append step blocks
// until the unit's deadline expires, like a row-lock wait behind a stalled
// peer transaction.
type stallAppendStore struct {
	*store.TxMemory
}

func (f *stallAppendStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return f.TxMemory.WithTx(ctx, func(s ledger.Store) error {
		return fn(&stallAppendView{Store: s})
	})
}

type stallAppendView struct {
	ledger.Store
}

func (v *stallAppendView) AppendEntry(ctx context.Context, _ ledger.Entry) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestTransfer_DeadlineExpiresMidUnit(t *testing.T) {
	// GIVEN: An engine whose unit hold time is bounded at 50ms and a store
	//        that stalls mid-unit
	// WHEN: A transfer runs with no deadline on the caller's context
	// THEN: The unit aborts with ErrTimeout instead of hanging, and no
	//       partial effect persists

	mem := store.NewTxMemory()
	engine := ledger.NewEngine(&stallAppendStore{TxMemory: mem}, nil).
		WithTimeout(50 * time.Millisecond)
	repo := ledger.NewRepository(mem)
	ctx := context.Background()

	if err := repo.Create(ctx, "alice", dec("100")); err != nil {
		t.Fatal(err)
	}
	if err := repo.Create(ctx, "bob", dec("0")); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := engine.Transfer(ctx, "alice", "bob", dec("30"))
		done <- err
	}()

	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("transfer hung past its hold-time bound")
	}

	if !errors.Is(err, ledger.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if !errors.Is(err, ledger.ErrTransferFailed) {
		t.Errorf("expected error to wrap ErrTransferFailed, got %v", err)
	}
	if !balanceOf(t, mem, "alice").Equal(dec("100")) {
		t.Errorf("partial debit observable: alice=%v", balanceOf(t, mem, "alice"))
	}
	if !balanceOf(t, mem, "bob").Equal(dec("0")) {
		t.Errorf("partial credit observable: bob=%v", balanceOf(t, mem, "bob"))
	}
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestTransfer_ConcurrentOverdraw_ExactlyOneSucceeds(t *testing.T) {
	// GIVEN: Account with balance exactly 100
	// WHEN: Two concurrent transfers of 100 each to different recipients
	// THEN: Exactly one succeeds; the other fails with InsufficientBalance

	engine, s := newTestEngine()
	mustCreate(t, s, "alice", "100")
	mustCreate(t, s, "bob", "0")
	mustCreate(t, s, "carol", "0")

	var wg sync.WaitGroup
	results := make([]error, 2)
	recipients := []ledger.OwnerID{"bob", "carol"}
	for i := range recipients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = engine.Transfer(context.Background(), "alice", recipients[i], dec("100"))
		}(i)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ledger.ErrInsufficientBalance), errors.Is(err, ledger.ErrConflict):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || insufficient != 1 {
		t.Fatalf("expected exactly one success and one refusal, got %d/%d", ok, insufficient)
	}

	if balanceOf(t, s, "alice").Sign() < 0 {
		t.Errorf("alice balance negative: %v", balanceOf(t, s, "alice"))
	}
	total := balanceOf(t, s, "alice").Add(balanceOf(t, s, "bob")).Add(balanceOf(t, s, "carol"))
	if !total.Equal(dec("100")) {
		t.Errorf("conservation violated: total=%v", total)
	}
}

func TestTransfer_OpposingDirections_NoDeadlock(t *testing.T) {
	// Two transfers targeting each other's accounts in opposite directions
	// must both complete (lock order is global, not call order).

	engine, s := newTestEngine()
	mustCreate(t, s, "alice", "100")
	mustCreate(t, s, "bob", "100")

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				engine.Transfer(context.Background(), "alice", "bob", dec("1"))
			}()
			go func() {
				defer wg.Done()
				engine.Transfer(context.Background(), "bob", "alice", dec("1"))
			}()
		}
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("deadlock: opposing transfers did not complete")
	}

	total := balanceOf(t, s, "alice").Add(balanceOf(t, s, "bob"))
	if !total.Equal(dec("200")) {
		t.Errorf("conservation violated: total=%v", total)
	}
}

func TestTransfer_Conservation(t *testing.T) {
	// Any sequence of successful transfers leaves the total unchanged.

	engine, s := newTestEngine()
	owners := []ledger.OwnerID{"a", "b", "c"}
	mustCreate(t, s, "a", "300")
	mustCreate(t, s, "b", "200")
	mustCreate(t, s, "c", "100")

	ctx := context.Background()
	for i := 0; i < 60; i++ {
		from := owners[i%3]
		to := owners[(i+1)%3]
		engine.Transfer(ctx, from, to, dec("7")) // some will fail; that's fine
	}

	total := decimal.Zero
	for _, o := range owners {
		bal := balanceOf(t, s, o)
		if bal.IsNegative() {
			t.Errorf("account %s went negative: %v", o, bal)
		}
		total = total.Add(bal)
	}
	if !total.Equal(dec("600")) {
		t.Errorf("conservation violated: total=%v", total)
	}
}

// =============================================================================
// EVENTS
// =============================================================================

type capturePublisher struct {
	mu      sync.Mutex
	entries []ledger.Entry
}

func (c *capturePublisher) TransferCompleted(_ context.Context, e ledger.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
}

func TestTransfer_PublishesOnlyCommittedTransfers(t *testing.T) {
	s := store.NewTxMemory()
	pub := &capturePublisher{}
	engine := ledger.NewEngine(s, nil).WithPublisher(pub)
	mustCreate(t, s, "alice", "50")
	mustCreate(t, s, "bob", "0")

	ctx := context.Background()
	if _, err := engine.Transfer(ctx, "alice", "bob", dec("20")); err != nil {
		t.Fatal(err)
	}
	engine.Transfer(ctx, "alice", "bob", dec("999")) // aborts

	if len(pub.entries) != 1 {
		t.Fatalf("expected one published event, got %d", len(pub.entries))
	}
	if pub.entries[0].From != "alice" || !pub.entries[0].Amount.Equal(dec("20")) {
		t.Errorf("unexpected event: %+v", pub.entries[0])
	}
}
