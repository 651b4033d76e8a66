package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/ledger-engine/auth"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/ledger/store"
)

func newTestService(t *testing.T, opening string) (*auth.Service, *store.TxMemory) {
	t.Helper()
	s := store.NewTxMemory()
	tokens, err := auth.NewTokenIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	svc, err := auth.NewService(s, ledger.NewRepository(s), tokens, decimal.RequireFromString(opening), nil)
	require.NoError(t, err)
	return svc, s
}

func validSignUp() auth.SignUpInput {
	return auth.SignUpInput{
		Username:  "alice@example.com",
		Password:  "hunter22",
		FirstName: "Alice",
		LastName:  "Ames",
	}
}

func TestService_SignUpOpensAccount(t *testing.T) {
	ctx := context.Background()
	svc, s := newTestService(t, "100")

	u, token, err := svc.SignUp(ctx, validSignUp())
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.NotEmpty(t, token)
	assert.Equal(t, "alice@example.com", u.Username)
	assert.NotEqual(t, "hunter22", u.PasswordHash, "password must be stored hashed")
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("hunter22")))

	// Registration opens the ledger account with the configured balance.
	acct, err := s.GetAccount(ctx, ledger.OwnerID(u.ID))
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(decimal.RequireFromString("100")))
}

func TestService_SignUpNormalizesUsername(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, "0")

	in := validSignUp()
	in.Username = "  Alice@Example.COM "
	u, _, err := svc.SignUp(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Username)
}

func TestService_SignUpValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, "0")

	cases := map[string]func(*auth.SignUpInput){
		"not an email":       func(in *auth.SignUpInput) { in.Username = "not-an-email" },
		"short password":     func(in *auth.SignUpInput) { in.Password = "short" },
		"missing first name": func(in *auth.SignUpInput) { in.FirstName = "  " },
		"missing last name":  func(in *auth.SignUpInput) { in.LastName = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := validSignUp()
			mutate(&in)
			_, _, err := svc.SignUp(ctx, in)
			assert.ErrorIs(t, err, auth.ErrInvalidSignUp)
		})
	}
}

func TestService_SignUpDuplicateUsername(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, "0")

	_, _, err := svc.SignUp(ctx, validSignUp())
	require.NoError(t, err)

	_, _, err = svc.SignUp(ctx, validSignUp())
	assert.ErrorIs(t, err, auth.ErrUserExists)
}

func TestService_SignIn(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, "0")
	registered, _, err := svc.SignUp(ctx, validSignUp())
	require.NoError(t, err)

	u, token, err := svc.SignIn(ctx, "alice@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, u.ID)
	assert.NotEmpty(t, token)
}

func TestService_SignInRejectsBadCredentials(t *testing.T) {
	// Unknown user and wrong password produce the same error, so a caller
	// cannot probe which usernames exist.
	ctx := context.Background()
	svc, _ := newTestService(t, "0")
	_, _, err := svc.SignUp(ctx, validSignUp())
	require.NoError(t, err)

	_, _, err = svc.SignIn(ctx, "alice@example.com", "wrong-password")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, _, err = svc.SignIn(ctx, "nobody@example.com", "hunter22")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestService_Me(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, "0")
	registered, _, err := svc.SignUp(ctx, validSignUp())
	require.NoError(t, err)

	u, err := svc.Me(ctx, registered.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice Ames", u.FullName())

	_, err = svc.Me(ctx, "ghost")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}

func TestService_Update(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, "0")
	registered, _, err := svc.SignUp(ctx, validSignUp())
	require.NoError(t, err)

	first := "Alicia"
	password := "new-password"
	require.NoError(t, svc.Update(ctx, registered.ID, auth.UpdateInput{
		FirstName: &first,
		Password:  &password,
	}))

	u, err := svc.Me(ctx, registered.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alicia", u.FirstName)
	assert.Equal(t, "Ames", u.LastName, "untouched field keeps its value")

	// The new password works, the old one no longer does.
	_, _, err = svc.SignIn(ctx, "alice@example.com", "new-password")
	assert.NoError(t, err)
	_, _, err = svc.SignIn(ctx, "alice@example.com", "hunter22")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestService_UpdateValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, "0")
	registered, _, err := svc.SignUp(ctx, validSignUp())
	require.NoError(t, err)

	short := "abc"
	err = svc.Update(ctx, registered.ID, auth.UpdateInput{Password: &short})
	assert.ErrorIs(t, err, auth.ErrInvalidSignUp)

	blank := "   "
	err = svc.Update(ctx, registered.ID, auth.UpdateInput{LastName: &blank})
	assert.ErrorIs(t, err, auth.ErrInvalidSignUp)
}

func TestService_Search(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, "0")

	alice, _, err := svc.SignUp(ctx, validSignUp())
	require.NoError(t, err)
	_, _, err = svc.SignUp(ctx, auth.SignUpInput{
		Username: "bob@example.com", Password: "hunter22",
		FirstName: "Bob", LastName: "Alton",
	})
	require.NoError(t, err)

	// The caller never appears in their own directory results.
	users, err := svc.Search(ctx, alice.ID, "al")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "bob@example.com", users[0].Username)
}

func TestNewService_RejectsNegativeOpening(t *testing.T) {
	s := store.NewTxMemory()
	tokens, err := auth.NewTokenIssuer("test-secret", time.Hour)
	require.NoError(t, err)

	_, err = auth.NewService(s, ledger.NewRepository(s), tokens, decimal.RequireFromString("-1"), nil)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}
