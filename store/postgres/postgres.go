/*
Package postgres provides a PostgreSQL-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.TxStore and auth.UserStore on PostgreSQL via the pgx
  stdlib driver. Unlike the SQLite store, concurrency control is delegated
  to the database: atomic units run as real transactions and account rows
  are locked with SELECT ... FOR UPDATE.

LOCKING:
  GetAccountForUpdate issues FOR UPDATE inside a unit. The engine acquires
  rows in ascending owner-ID order, so two transfers over the same pair of
  accounts always queue on the same first row and cannot deadlock.

MIGRATIONS:
  Schema is managed with goose; migration files are embedded and applied
  on Open(). The accounts table carries a balance >= 0 CHECK as a second
  line of defense behind the Repository's own check.

SEE ALSO:
  - ledger/store.go: Interface definitions and the unit contract
  - store/sqlite/sqlite.go: Writer-mutex based implementation
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/auth"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/store/postgres/migrations"
)

// Store implements ledger.TxStore and auth.UserStore using PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to the database, applies pending migrations, and returns
// the store. The caller owns the lifecycle and must Close() at shutdown.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ledger.ErrStoreUnavailable, err)
	}

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		db.Close()
		return nil, err
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// ACCOUNT STORE (ledger.Store interface)
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, owner ledger.OwnerID) (ledger.Account, error) {
	return getAccount(ctx, s.db, owner, false)
}

// GetAccountForUpdate outside a unit degrades to a plain read; the lock
// only means something inside a transaction.
func (s *Store) GetAccountForUpdate(ctx context.Context, owner ledger.OwnerID) (ledger.Account, error) {
	return getAccount(ctx, s.db, owner, false)
}

func getAccount(ctx context.Context, q querier, owner ledger.OwnerID, forUpdate bool) (ledger.Account, error) {
	query := `SELECT owner_id, balance, created_at FROM accounts WHERE owner_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var acct ledger.Account
	err := q.QueryRowContext(ctx, query, owner).Scan(&acct.OwnerID, &acct.Balance, &acct.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Account{}, ledger.ErrAccountNotFound
		}
		return ledger.Account{}, mapDriverError(err)
	}
	return acct, nil
}

func (s *Store) CreateAccount(ctx context.Context, acct ledger.Account) error {
	return createAccount(ctx, s.db, acct)
}

func createAccount(ctx context.Context, q querier, acct ledger.Account) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO accounts (owner_id, balance, created_at) VALUES ($1, $2, $3)`,
		acct.OwnerID, acct.Balance, acct.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrAccountExists
		}
		return mapDriverError(err)
	}
	return nil
}

func (s *Store) SetBalance(ctx context.Context, owner ledger.OwnerID, balance decimal.Decimal) error {
	return setBalance(ctx, s.db, owner, balance)
}

func setBalance(ctx context.Context, q querier, owner ledger.OwnerID, balance decimal.Decimal) error {
	res, err := q.ExecContext(ctx,
		`UPDATE accounts SET balance = $1 WHERE owner_id = $2`, balance, owner)
	if err != nil {
		return mapDriverError(err)
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
	return appendEntry(ctx, s.db, e)
}

func appendEntry(ctx context.Context, q querier, e ledger.Entry) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO entries (id, from_owner, to_owner, amount, created_at) VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.From, e.To, e.Amount, e.CreatedAt.UTC())
	if err != nil {
		return mapDriverError(err)
	}
	return nil
}

func (s *Store) ListEntriesByOwner(ctx context.Context, owner ledger.OwnerID, limit int) ([]ledger.Entry, error) {
	return listEntries(ctx, s.db, owner, limit)
}

func listEntries(ctx context.Context, q querier, owner ledger.OwnerID, limit int) ([]ledger.Entry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, from_owner, to_owner, amount, created_at
		FROM entries
		WHERE from_owner = $1 OR to_owner = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2`, owner, limit)
	if err != nil {
		return nil, mapDriverError(err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		if err := rows.Scan(&e.ID, &e.From, &e.To, &e.Amount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within one database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
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
	return getAccount(ctx, ts.tx, owner, false)
}

// GetAccountForUpdate locks the row for the remainder of the unit.
func (ts *txStore) GetAccountForUpdate(ctx context.Context, owner ledger.OwnerID) (ledger.Account, error) {
	return getAccount(ctx, ts.tx, owner, true)
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, first_name, last_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Username, u.PasswordHash, u.FirstName, u.LastName, u.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ErrUserExists
		}
		return mapDriverError(err)
	}
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (auth.User, error) {
	return s.getUser(ctx, `SELECT id, username, password_hash, first_name, last_name, created_at
		FROM users WHERE id = $1`, id)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (auth.User, error) {
	return s.getUser(ctx, `SELECT id, username, password_hash, first_name, last_name, created_at
		FROM users WHERE username = $1`, username)
}

func (s *Store) getUser(ctx context.Context, query string, arg any) (auth.User, error) {
	var u auth.User
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.FirstName, &u.LastName, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.User{}, auth.ErrUserNotFound
		}
		return auth.User{}, mapDriverError(err)
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u auth.User) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $1, first_name = $2, last_name = $3 WHERE id = $4`,
		u.PasswordHash, u.FirstName, u.LastName, u.ID)
	if err != nil {
		return mapDriverError(err)
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
	pattern := "%" + strings.ToLower(filter) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password_hash, first_name, last_name, created_at
		FROM users
		WHERE id != $1 AND (LOWER(first_name) LIKE $2 OR LOWER(last_name) LIKE $2)
		ORDER BY username
		LIMIT $3`, excludeID, pattern, limit)
	if err != nil {
		return nil, mapDriverError(err)
	}
	defer rows.Close()

	var users []auth.User
	for rows.Next() {
		var u auth.User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.FirstName, &u.LastName, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// mapDriverError folds PostgreSQL failure modes onto the core taxonomy.
func mapDriverError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ledger.ErrTimeout, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %w", ledger.ErrConflict, err)
		case "55P03": // lock_not_available
			return fmt.Errorf("%w: %w", ledger.ErrConflict, err)
		case "57014": // query_canceled (statement timeout)
			return fmt.Errorf("%w: %w", ledger.ErrTimeout, err)
		case "23514": // check_violation (balance >= 0 backstop)
			return fmt.Errorf("%w: %w", ledger.ErrInsufficientBalance, err)
		}
	}
	return fmt.Errorf("%w: %w", ledger.ErrStoreUnavailable, err)
}
