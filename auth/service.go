package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/ledger-engine/ledger"
)

const (
	minPasswordLen = 6
	maxNameLen     = 50
	// SearchLimit caps directory results to prevent abuse.
	SearchLimit = 50
)

// Service implements the identity flows: registration, sign-in, profile
// updates, and the recipient directory. Registration also opens the ledger
// account, so the service owns the only call site of Repository.Create.
type Service struct {
	users    UserStore
	accounts *ledger.Repository
	tokens   *TokenIssuer
	opening  decimal.Decimal // opening balance for new accounts
	log      *zap.Logger
}

func NewService(users UserStore, accounts *ledger.Repository, tokens *TokenIssuer, opening decimal.Decimal, log *zap.Logger) (*Service, error) {
	if opening.IsNegative() {
		return nil, ledger.ErrInvalidAmount
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{users: users, accounts: accounts, tokens: tokens, opening: opening, log: log}, nil
}

// SignUpInput is the registration request after boundary decoding.
type SignUpInput struct {
	Username  string
	Password  string
	FirstName string
	LastName  string
}

func (in *SignUpInput) validate() error {
	in.Username = strings.ToLower(strings.TrimSpace(in.Username))
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)

	if _, err := mail.ParseAddress(in.Username); err != nil {
		return fmt.Errorf("%w: username must be a valid email", ErrInvalidSignUp)
	}
	if len(in.Password) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidSignUp, minPasswordLen)
	}
	if in.FirstName == "" || len(in.FirstName) > maxNameLen {
		return fmt.Errorf("%w: first name required (max %d characters)", ErrInvalidSignUp, maxNameLen)
	}
	if in.LastName == "" || len(in.LastName) > maxNameLen {
		return fmt.Errorf("%w: last name required (max %d characters)", ErrInvalidSignUp, maxNameLen)
	}
	return nil
}

// SignUp registers a user, opens their account with the configured opening
// balance, and returns a signed token.
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (User, string, error) {
	if err := in.validate(); err != nil {
		return User{}, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, "", fmt.Errorf("hash password: %w", err)
	}

	u := User{
		ID:           uuid.NewString(),
		Username:     in.Username,
		PasswordHash: string(hash),
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return User{}, "", err
	}

	if err := s.accounts.Create(ctx, ledger.OwnerID(u.ID), s.opening); err != nil {
		// The user record without an account is unusable but harmless;
		// surfacing the error keeps the failure visible to the caller.
		s.log.Error("account creation failed after signup",
			zap.String("user", u.ID), zap.Error(err))
		return User{}, "", err
	}

	token, err := s.tokens.Issue(u.ID)
	if err != nil {
		return User{}, "", err
	}

	s.log.Info("user registered", zap.String("user", u.ID))
	return u, token, nil
}

// SignIn verifies credentials and returns a signed token.
func (s *Service) SignIn(ctx context.Context, username, password string) (User, string, error) {
	username = strings.ToLower(strings.TrimSpace(username))

	u, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, "", ErrInvalidCredentials
		}
		return User{}, "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return User{}, "", ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(u.ID)
	if err != nil {
		return User{}, "", err
	}
	return u, token, nil
}

// Me returns the caller's own profile.
func (s *Service) Me(ctx context.Context, ownerID string) (User, error) {
	return s.users.GetUserByID(ctx, ownerID)
}

// UpdateInput carries the optional profile fields; nil means unchanged.
type UpdateInput struct {
	Password  *string
	FirstName *string
	LastName  *string
}

// Update rewrites the caller's mutable profile fields.
func (s *Service) Update(ctx context.Context, ownerID string, in UpdateInput) error {
	u, err := s.users.GetUserByID(ctx, ownerID)
	if err != nil {
		return err
	}

	if in.Password != nil {
		if len(*in.Password) < minPasswordLen {
			return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidSignUp, minPasswordLen)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*in.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		u.PasswordHash = string(hash)
	}
	if in.FirstName != nil {
		name := strings.TrimSpace(*in.FirstName)
		if name == "" || len(name) > maxNameLen {
			return fmt.Errorf("%w: first name required (max %d characters)", ErrInvalidSignUp, maxNameLen)
		}
		u.FirstName = name
	}
	if in.LastName != nil {
		name := strings.TrimSpace(*in.LastName)
		if name == "" || len(name) > maxNameLen {
			return fmt.Errorf("%w: last name required (max %d characters)", ErrInvalidSignUp, maxNameLen)
		}
		u.LastName = name
	}

	return s.users.UpdateUser(ctx, u)
}

// Search resolves recipients by name fragment, excluding the caller.
func (s *Service) Search(ctx context.Context, ownerID, filter string) ([]User, error) {
	return s.users.SearchUsers(ctx, ownerID, strings.TrimSpace(filter), SearchLimit)
}
