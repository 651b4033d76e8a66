/*
Package auth is the identity collaborator for the ledger core.

PURPOSE:
  Authenticates callers and yields the stable owner identifier the core
  trusts as input. Covers registration, sign-in, profile updates, and the
  recipient directory (search). The core never derives identity itself;
  this package injects it via middleware.

KEY CONCEPTS:
  - User: Credential + profile record, keyed by the same ID that owns the
    ledger account
  - UserStore: Persistence interface, implemented by every storage backend
  - Tokens: HS256 JWTs whose subject is the owner ID

SEE ALSO:
  - service.go: Registration and sign-in flows
  - middleware.go: Bearer-token verification for chi
*/
package auth

import (
	"context"
	"errors"
	"time"
)

// =============================================================================
// USER - Identity record
// =============================================================================

// User is an identity record. ID doubles as the ledger account's owner ID.
type User struct {
	ID           string
	Username     string // email-style login name, unique, stored lowercase
	PasswordHash string // bcrypt
	FirstName    string
	LastName     string
	CreatedAt    time.Time
}

// FullName is the display name the directory returns.
func (u User) FullName() string {
	return u.FirstName + " " + u.LastName
}

// =============================================================================
// USER STORE - Persistence interface
// =============================================================================

// UserStore handles persistence of identity records.
type UserStore interface {
	// CreateUser persists a new user. Fails with ErrUserExists if the
	// username is taken.
	CreateUser(ctx context.Context, u User) error

	// GetUserByID returns the user with the given ID, or ErrUserNotFound.
	GetUserByID(ctx context.Context, id string) (User, error)

	// GetUserByUsername returns the user with the given username, or
	// ErrUserNotFound.
	GetUserByUsername(ctx context.Context, username string) (User, error)

	// UpdateUser overwrites the mutable fields (password hash, first/last
	// name) of an existing user.
	UpdateUser(ctx context.Context, u User) error

	// SearchUsers returns users whose first or last name contains filter
	// (case-insensitive), excluding excludeID, at most limit.
	SearchUsers(ctx context.Context, excludeID, filter string, limit int) ([]User, error)
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrUserExists is returned when the username is already taken.
	ErrUserExists = errors.New("username already taken")

	// ErrUserNotFound is returned when no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidCredentials is returned for a bad username/password pair.
	// Unknown user and wrong password produce the same answer.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrInvalidToken is returned for missing, malformed, or expired tokens.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrInvalidSignUp is returned for malformed registration input.
	ErrInvalidSignUp = errors.New("invalid signup input")
)
