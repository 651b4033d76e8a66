/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.TxStore and auth.UserStore using SQLite. Suited to
  single-node deployments and API tests (":memory:"); the PostgreSQL
  implementation in store/postgres carries the same schema for multi-node
  setups.

INTERFACES IMPLEMENTED:
  ledger.TxStore:  Accounts, entries, and the atomic unit
  auth.UserStore:  Identity records

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements exist for the entries table. Balances
  change only through SetBalance, which only the Repository reaches after
  its non-negativity check.

CONCURRENCY:
  A writer mutex serializes atomic units, so a unit holds exclusive access
  for its whole lifetime and GetAccountForUpdate needs no SQL-level lock
  here. WAL mode keeps readers unblocked while a unit is open.

SEE ALSO:
  - ledger/store.go: Interface definitions and the unit contract
  - store/postgres/postgres.go: Row-lock based implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/auth"
	"github.com/warp/ledger-engine/ledger"
)

// Store implements ledger.TxStore and auth.UserStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Accounts: one per owner, balance as exact decimal text
	CREATE TABLE IF NOT EXISTS accounts (
		owner_id TEXT PRIMARY KEY,
		balance TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Entries (append-only ledger)
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		from_owner TEXT NOT NULL,
		to_owner TEXT NOT NULL,
		amount TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_from
		ON entries(from_owner, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_entries_to
		ON entries(to_owner, created_at DESC);

	-- Users (identity collaborator)
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// ACCOUNT STORE (ledger.Store interface)
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, owner ledger.OwnerID) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAccount(ctx, s.db, owner)
}

// GetAccountForUpdate behaves like GetAccount outside a unit; inside a unit
// the writer mutex already gives the unit exclusive access.
func (s *Store) GetAccountForUpdate(ctx context.Context, owner ledger.OwnerID) (ledger.Account, error) {
	return s.GetAccount(ctx, owner)
}

func getAccount(ctx context.Context, q querier, owner ledger.OwnerID) (ledger.Account, error) {
	row := q.QueryRowContext(ctx,
		`SELECT owner_id, balance, created_at FROM accounts WHERE owner_id = ?`, owner)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (ledger.Account, error) {
	var (
		acct             ledger.Account
		balance, created string
	)
	if err := row.Scan(&acct.OwnerID, &balance, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Account{}, ledger.ErrAccountNotFound
		}
		return ledger.Account{}, fmt.Errorf("failed to load account: %w", err)
	}

	bal, err := decimal.NewFromString(balance)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("corrupt balance for %s: %w", acct.OwnerID, err)
	}
	acct.Balance = bal
	acct.CreatedAt, err = time.Parse(time.RFC3339, created)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("corrupt created_at for %s: %w", acct.OwnerID, err)
	}
	return acct, nil
}

func (s *Store) CreateAccount(ctx context.Context, acct ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createAccount(ctx, s.db, acct)
}

func createAccount(ctx context.Context, q querier, acct ledger.Account) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO accounts (owner_id, balance, created_at) VALUES (?, ?, ?)`,
		acct.OwnerID,
		acct.Balance.String(),
		acct.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrAccountExists
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (s *Store) SetBalance(ctx context.Context, owner ledger.OwnerID, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setBalance(ctx, s.db, owner, balance)
}

func setBalance(ctx context.Context, q querier, owner ledger.OwnerID, balance decimal.Decimal) error {
	res, err := q.ExecContext(ctx,
		`UPDATE accounts SET balance = ? WHERE owner_id = ?`, balance.String(), owner)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrAccountNotFound
	}
	return nil
}

// =============================================================================
// ENTRY STORE (append-only)
// =============================================================================

func (s *Store) AppendEntry(ctx context.Context, e ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEntry(ctx, s.db, e)
}

func appendEntry(ctx context.Context, q querier, e ledger.Entry) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO entries (id, from_owner, to_owner, amount, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID,
		e.From,
		e.To,
		e.Amount.String(),
		e.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

func (s *Store) ListEntriesByOwner(ctx context.Context, owner ledger.OwnerID, limit int) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listEntries(ctx, s.db, owner, limit)
}

func listEntries(ctx context.Context, q querier, owner ledger.OwnerID, limit int) ([]ledger.Entry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, from_owner, to_owner, amount, created_at
		FROM entries
		WHERE from_owner = ? OR to_owner = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, owner, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var (
			e               ledger.Entry
			amount, created string
		)
		if err := rows.Scan(&e.ID, &e.From, &e.To, &amount, &created); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		amt, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("corrupt amount in entry %s: %w", e.ID, err)
		}
		e.Amount = amt
		e.CreatedAt, err = time.Parse(time.RFC3339, created)
		if err != nil {
			return nil, fmt.Errorf("corrupt created_at in entry %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. The writer mutex makes
// the unit exclusive; the SQL transaction makes it atomic.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapDriverError(err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return mapDriverError(err)
	}
	return nil
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetAccount(ctx context.Context, owner ledger.OwnerID) (ledger.Account, error) {
	return getAccount(ctx, ts.tx, owner)
}

func (ts *txStore) GetAccountForUpdate(ctx context.Context, owner ledger.OwnerID) (ledger.Account, error) {
	return getAccount(ctx, ts.tx, owner)
}

func (ts *txStore) CreateAccount(ctx context.Context, acct ledger.Account) error {
	return createAccount(ctx, ts.tx, acct)
}

func (ts *txStore) SetBalance(ctx context.Context, owner ledger.OwnerID, balance decimal.Decimal) error {
	return setBalance(ctx, ts.tx, owner, balance)
}

func (ts *txStore) AppendEntry(ctx context.Context, e ledger.Entry) error {
	return appendEntry(ctx, ts.tx, e)
}

func (ts *txStore) ListEntriesByOwner(ctx context.Context, owner ledger.OwnerID, limit int) ([]ledger.Entry, error) {
	return listEntries(ctx, ts.tx, owner, limit)
}

// =============================================================================
// USER STORE (auth.UserStore interface)
// =============================================================================

func (s *Store) CreateUser(ctx context.Context, u auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, first_name, last_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.PasswordHash, u.FirstName, u.LastName,
		u.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return auth.ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getUser(ctx, `SELECT id, username, password_hash, first_name, last_name, created_at
		FROM users WHERE id = ?`, id)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getUser(ctx, `SELECT id, username, password_hash, first_name, last_name, created_at
		FROM users WHERE username = ?`, username)
}

func (s *Store) getUser(ctx context.Context, query string, arg any) (auth.User, error) {
	var (
		u       auth.User
		created string
	)
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.FirstName, &u.LastName, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.User{}, auth.ErrUserNotFound
		}
		return auth.User{}, fmt.Errorf("failed to load user: %w", err)
	}
	u.CreatedAt, err = time.Parse(time.RFC3339, created)
	if err != nil {
		return auth.User{}, fmt.Errorf("corrupt created_at for user %s: %w", u.ID, err)
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = ?, first_name = ?, last_name = ? WHERE id = ?`,
		u.PasswordHash, u.FirstName, u.LastName, u.ID)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

func (s *Store) SearchUsers(ctx context.Context, excludeID, filter string, limit int) ([]auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pattern := "%" + strings.ToLower(filter) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password_hash, first_name, last_name, created_at
		FROM users
		WHERE id != ? AND (LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ?)
		ORDER BY username
		LIMIT ?`, excludeID, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	defer rows.Close()

	var users []auth.User
	for rows.Next() {
		var (
			u       auth.User
			created string
		)
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.FirstName, &u.LastName, &created); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.CreatedAt, err = time.Parse(time.RFC3339, created)
		if err != nil {
			return nil, fmt.Errorf("corrupt created_at for user %s: %w", u.ID, err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// mapDriverError folds SQLite failure modes onto the core taxonomy.
func mapDriverError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ledger.ErrTimeout, err)
	case strings.Contains(err.Error(), "database is locked"):
		return fmt.Errorf("%w: %w", ledger.ErrConflict, err)
	default:
		return fmt.Errorf("%w: %w", ledger.ErrStoreUnavailable, err)
	}
}
