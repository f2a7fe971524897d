package auth_test

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/uptrace/bun"

	auth "github.com/theycallmecoach/auth-server"
)

// testConfig implements auth.Config with fixed values.
type testConfig struct {
	confirmationWindow string
}

func (c testConfig) GetSigningKey() string     { return "test-signing-key" }
func (c testConfig) GetTokenExpiration() int   { return 1 }
func (c testConfig) GetRefreshExpiration() int { return 24 }
func (c testConfig) GetIssuer() string         { return "test-issuer" }
func (c testConfig) GetAudience() []string     { return []string{"test:audience"} }
func (c testConfig) GetRedirectionURL() string { return "https://app.example.com" }
func (c testConfig) GetEmailFrom() string      { return "no-reply@example.com" }
func (c testConfig) GetConfirmationWindow() string {
	if c.confirmationWindow == "" {
		return "24h"
	}
	return c.confirmationWindow
}

// stubRepoManager runs transaction closures directly against the mocked
// repositories, no database involved.
type stubRepoManager struct {
	users  auth.Users
	tokens auth.EnumerableTokenStore
}

func (m *stubRepoManager) Validate() error { return nil }
func (m *stubRepoManager) MustValidate()   {}

func (m *stubRepoManager) RunInTx(ctx context.Context, _ *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	return f(ctx, bun.Tx{})
}

func (m *stubRepoManager) Users() auth.Users                 { return m.users }
func (m *stubRepoManager) Tokens() auth.EnumerableTokenStore { return m.tokens }

// MockUsers implements auth.Users
type MockUsers struct {
	mock.Mock
}

func (m *MockUsers) userResult(args mock.Arguments) (*auth.User, error) {
	if u, ok := args.Get(0).(*auth.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUsers) GetByID(ctx context.Context, id string) (*auth.User, error) {
	return m.userResult(m.Called(ctx, id))
}

func (m *MockUsers) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	return m.userResult(m.Called(ctx, email))
}

func (m *MockUsers) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*auth.User, error) {
	return m.userResult(m.Called(ctx, tx, email))
}

func (m *MockUsers) GetByConfirmationToken(ctx context.Context, token string) (*auth.User, error) {
	return m.userResult(m.Called(ctx, token))
}

func (m *MockUsers) GetByConfirmationTokenTx(ctx context.Context, tx bun.IDB, token string) (*auth.User, error) {
	return m.userResult(m.Called(ctx, tx, token))
}

func (m *MockUsers) List(ctx context.Context) ([]*auth.User, error) {
	args := m.Called(ctx)
	if users, ok := args.Get(0).([]*auth.User); ok {
		return users, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUsers) Create(ctx context.Context, record *auth.User) (*auth.User, error) {
	return m.userResult(m.Called(ctx, record))
}

func (m *MockUsers) CreateTx(ctx context.Context, tx bun.IDB, record *auth.User) (*auth.User, error) {
	return m.userResult(m.Called(ctx, tx, record))
}

func (m *MockUsers) Update(ctx context.Context, record *auth.User) (*auth.User, error) {
	return m.userResult(m.Called(ctx, record))
}

func (m *MockUsers) UpdateTx(ctx context.Context, tx bun.IDB, record *auth.User) (*auth.User, error) {
	return m.userResult(m.Called(ctx, tx, record))
}

func (m *MockUsers) Delete(ctx context.Context, record *auth.User) error {
	return m.Called(ctx, record).Error(0)
}

func (m *MockUsers) DeleteTx(ctx context.Context, tx bun.IDB, record *auth.User) error {
	return m.Called(ctx, tx, record).Error(0)
}

func (m *MockUsers) ConfirmTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	return m.Called(ctx, tx, id, passwordHash).Error(0)
}

func (m *MockUsers) PromotePendingEmailTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	return m.Called(ctx, tx, id).Error(0)
}

func (m *MockUsers) RefreshRegistrationTx(ctx context.Context, tx bun.IDB, record *auth.User) error {
	return m.Called(ctx, tx, record).Error(0)
}

// MockTokenStore implements auth.EnumerableTokenStore
type MockTokenStore struct {
	mock.Mock
}

func (m *MockTokenStore) StoreToken(ctx context.Context, token *auth.AccessToken) (*auth.AccessToken, error) {
	args := m.Called(ctx, token)
	if t, ok := args.Get(0).(*auth.AccessToken); ok {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTokenStore) RemoveAccessToken(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

func (m *MockTokenStore) RemoveRefreshToken(ctx context.Context, refreshToken string) error {
	return m.Called(ctx, refreshToken).Error(0)
}

func (m *MockTokenStore) FindTokensByUsername(ctx context.Context, username string) ([]*auth.AccessToken, error) {
	args := m.Called(ctx, username)
	if tokens, ok := args.Get(0).([]*auth.AccessToken); ok {
		return tokens, args.Error(1)
	}
	return nil, args.Error(1)
}

// flatTokenStore implements only auth.TokenStore, no enumeration.
type flatTokenStore struct{}

func (flatTokenStore) StoreToken(_ context.Context, token *auth.AccessToken) (*auth.AccessToken, error) {
	return token, nil
}
func (flatTokenStore) RemoveAccessToken(context.Context, string) error  { return nil }
func (flatTokenStore) RemoveRefreshToken(context.Context, string) error { return nil }

// MockTokenService implements auth.TokenService
type MockTokenService struct {
	mock.Mock
}

func (m *MockTokenService) Issue(ctx context.Context, identity auth.Identity) (*auth.TokenPair, error) {
	args := m.Called(ctx, identity)
	if pair, ok := args.Get(0).(*auth.TokenPair); ok {
		return pair, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTokenService) Validate(tokenString string) (*auth.JWTClaims, error) {
	args := m.Called(tokenString)
	if claims, ok := args.Get(0).(*auth.JWTClaims); ok {
		return claims, args.Error(1)
	}
	return nil, args.Error(1)
}

// MockAccountService implements auth.AccountService
type MockAccountService struct {
	mock.Mock
}

func (m *MockAccountService) Register(ctx context.Context, msg auth.RegisterAccountMessage) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *MockAccountService) IsRegistered(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

func (m *MockAccountService) ConfirmRegistration(ctx context.Context, token, newPassword string) error {
	return m.Called(ctx, token, newPassword).Error(0)
}

func (m *MockAccountService) GetUserForToken(ctx context.Context, token string) (*auth.User, error) {
	args := m.Called(ctx, token)
	if u, ok := args.Get(0).(*auth.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccountService) RequestPasswordReset(ctx context.Context, email, locale string) error {
	return m.Called(ctx, email, locale).Error(0)
}

func (m *MockAccountService) ChangePassword(ctx context.Context, username, currentPassword, newPassword string) (bool, error) {
	args := m.Called(ctx, username, currentPassword, newPassword)
	return args.Bool(0), args.Error(1)
}

func (m *MockAccountService) ChangeEmail(ctx context.Context, username, password, newEmail, locale string) (bool, error) {
	args := m.Called(ctx, username, password, newEmail, locale)
	return args.Bool(0), args.Error(1)
}

func (m *MockAccountService) VerifyEmail(ctx context.Context, token string) (*auth.User, error) {
	args := m.Called(ctx, token)
	if u, ok := args.Get(0).(*auth.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccountService) DeleteAccount(ctx context.Context, username string) error {
	return m.Called(ctx, username).Error(0)
}

// collectingSink records activity events for assertions.
type collectingSink struct {
	events []auth.ActivityEvent
}

func (s *collectingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.events = append(s.events, event)
	return nil
}
