/*
handlers.go - HTTP API handlers for the ledger service

PURPOSE:
  Exposes the identity flows and the ledger core via REST. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic;
  no business rule lives here.

ENDPOINTS:
  User:
    POST   /api/v1/user/signup      Register (public)
    POST   /api/v1/user/signin      Login (public)
    GET    /api/v1/user/me          Own profile
    PUT    /api/v1/user             Update profile
    GET    /api/v1/user/bulk        Search recipients by name

  Account:
    GET    /api/v1/account/balance       Own balance
    POST   /api/v1/account/transfer      Execute a transfer
    GET    /api/v1/account/transactions  Transfer history

ERROR HANDLING:
  Every distinct failure kind of the core maps to a stable status; only
  truly unexpected faults collapse to 500:
  - 400: invalid input (malformed amount, self-transfer, bad identifiers)
  - 401: missing/invalid credentials or token
  - 404: sender/recipient/account/user not found
  - 409: concurrent-modification conflict, duplicate username
  - 422: insufficient balance
  - 499: caller went away mid-request (nginx convention)
  - 503: store unreachable
  - 504: atomic unit timed out

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/ledger-engine/auth"
	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// statusClientClosedRequest is the nginx convention for a caller that
// disconnected mid-request; net/http defines no constant for it.
const statusClientClosedRequest = 499

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Auth    *auth.Service
	Engine  *ledger.Engine
	Repo    *ledger.Repository
	History *ledger.History
	Log     *zap.Logger
}

func NewHandler(authSvc *auth.Service, engine *ledger.Engine, repo *ledger.Repository, history *ledger.History, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Auth: authSvc, Engine: engine, Repo: repo, History: history, Log: log}
}

// =============================================================================
// USER HANDLERS
// =============================================================================

func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req SignUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	_, token, err := h.Auth.SignUp(r.Context(), auth.SignUpInput{
		Username:  req.Username,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, TokenResponse{Message: "user created successfully", Token: token})
}

func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		h.writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	_, token, err := h.Auth.SignIn(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, TokenResponse{Message: "login successful", Token: token})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.OwnerIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	u, err := h.Auth.Me(r.Context(), ownerID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toUserDTO(u))
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.OwnerIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.Auth.Update(r.Context(), ownerID, auth.UpdateInput{
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ErrorResponse{Message: "updated successfully"})
}

func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.OwnerIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	users, err := h.Auth.Search(r.Context(), ownerID, r.URL.Query().Get("filter"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	dtos := make([]UserDTO, 0, len(users))
	for _, u := range users {
		dtos = append(dtos, toUserDTO(u))
	}
	h.writeJSON(w, http.StatusOK, UserListResponse{Users: dtos})
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.OwnerIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	balance, err := h.Repo.Balance(r.Context(), ledger.OwnerID(ownerID))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, BalanceResponse{Balance: balance.String()})
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.OwnerIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "amount must be a decimal number")
		return
	}

	result, err := h.Engine.Transfer(r.Context(), ledger.OwnerID(ownerID), ledger.OwnerID(req.To), amount)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, TransferResponse{
		Message:   "transfer successful",
		EntryID:   result.EntryID,
		Amount:    result.Amount.String(),
		Balance:   result.SenderBalance.String(),
		Timestamp: result.CreatedAt,
	})
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.OwnerIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	entries, err := h.History.List(r.Context(), ledger.OwnerID(ownerID), limit)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	dtos := make([]TransactionDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toTransactionDTO(e))
	}
	h.writeJSON(w, http.StatusOK, TransactionListResponse{Transactions: dtos})
}

// Health reports liveness; works even when the store is down.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.Log.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, ErrorResponse{Message: msg})
}

// writeDomainError maps each core failure kind to its stable status.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidInput),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, auth.ErrInvalidSignUp):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		h.writeError(w, http.StatusUnauthorized, err.Error())
	case ledger.IsNotFound(err), errors.Is(err, auth.ErrUserNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrInsufficientBalance):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrConflict),
		errors.Is(err, ledger.ErrAccountExists),
		errors.Is(err, auth.ErrUserExists):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrTimeout):
		h.writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, ledger.ErrCancelled):
		h.writeError(w, statusClientClosedRequest, err.Error())
	case errors.Is(err, ledger.ErrStoreUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.Log.Error("internal error", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}
