/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Static types at the
  boundary: the handler validates the decoded shape, the core re-validates
  the semantics (defense in depth). Monetary amounts travel as decimal
  strings so no binary floating point ever touches a balance.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO / *Response: Types returned to clients

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/ledger-engine/auth"
	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// SignUpRequest is the registration request body.
type SignUpRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// SignInRequest is the login request body.
type SignInRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// UpdateUserRequest carries optional profile updates; absent fields stay
// unchanged.
type UpdateUserRequest struct {
	Password  *string `json:"password,omitempty"`
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
}

// TransferRequest is the transfer request body. The sender is never part
// of it; the authentication middleware supplies the sender's identity.
type TransferRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"` // decimal string, e.g. "30.50"
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// TokenResponse returns a signed token after signup/signin.
type TokenResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
}

// UserDTO represents a user in API responses. Never carries credentials.
type UserDTO struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func toUserDTO(u auth.User) UserDTO {
	return UserDTO{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

// UserListResponse wraps directory search results.
type UserListResponse struct {
	Users []UserDTO `json:"users"`
}

// BalanceResponse returns the caller's committed balance.
type BalanceResponse struct {
	Balance string `json:"balance"`
}

// TransferResponse reports a committed transfer.
type TransferResponse struct {
	Message   string    `json:"message"`
	EntryID   string    `json:"entryId"`
	Amount    string    `json:"amount"`
	Balance   string    `json:"balance"` // sender's balance after the debit
	Timestamp time.Time `json:"timestamp"`
}

// TransactionDTO is one history entry, annotated with the caller's
// direction.
type TransactionDTO struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Amount    string    `json:"amount"`
	Direction string    `json:"direction"` // "sent" or "received"
	Timestamp time.Time `json:"timestamp"`
}

func toTransactionDTO(e ledger.HistoryEntry) TransactionDTO {
	return TransactionDTO{
		ID:        e.ID,
		From:      e.From.String(),
		To:        e.To.String(),
		Amount:    e.Amount.String(),
		Direction: string(e.Direction),
		Timestamp: e.CreatedAt,
	}
}

// TransactionListResponse wraps a history page.
type TransactionListResponse struct {
	Transactions []TransactionDTO `json:"transactions"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Message string `json:"message"`
}
