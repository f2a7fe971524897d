package auth_test

import (
	"context"
	"testing"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	auth "github.com/theycallmecoach/auth-server"
)

func TestLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("valid credentials return a token pair", func(t *testing.T) {
		users := new(MockUsers)
		tokens := new(MockTokenService)
		sink := &collectingSink{}

		auther := auth.NewAuthenticator(users, tokens).WithActivitySink(sink)

		user := enabledUser("test@example.com", "password123")

		users.On("GetByEmail", mock.Anything, "test@example.com").Return(user, nil).Once()
		tokens.On("Issue", mock.Anything, mock.MatchedBy(func(identity auth.Identity) bool {
			return identity.Email() == "test@example.com" &&
				identity.ID() == user.ID.String()
		})).Return(&auth.TokenPair{
			AccessToken:  "access",
			RefreshToken: "refresh",
			ExpiresAt:    time.Now().Add(time.Hour),
		}, nil).Once()

		pair, err := auther.Login(ctx, "test@example.com", "password123")
		require.NoError(t, err)
		assert.Equal(t, "access", pair.AccessToken)
		assert.Equal(t, "refresh", pair.RefreshToken)

		require.Len(t, sink.events, 1)
		assert.Equal(t, auth.ActivityEventLoginSuccess, sink.events[0].EventType)

		users.AssertExpectations(t)
		tokens.AssertExpectations(t)
	})

	t.Run("unknown email reads as a credentials mismatch", func(t *testing.T) {
		users := new(MockUsers)
		tokens := new(MockTokenService)

		auther := auth.NewAuthenticator(users, tokens)

		users.On("GetByEmail", mock.Anything, "ghost@example.com").
			Return(nil, repository.NewRecordNotFound()).Once()

		_, err := auther.Login(ctx, "ghost@example.com", "password123")
		assert.ErrorIs(t, err, auth.ErrMismatchedHashAndPassword)

		tokens.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything)
	})

	t.Run("wrong password reads as a credentials mismatch", func(t *testing.T) {
		users := new(MockUsers)
		tokens := new(MockTokenService)
		sink := &collectingSink{}

		auther := auth.NewAuthenticator(users, tokens).WithActivitySink(sink)

		users.On("GetByEmail", mock.Anything, "test@example.com").
			Return(enabledUser("test@example.com", "password123"), nil).Once()

		_, err := auther.Login(ctx, "test@example.com", "wrong")
		assert.ErrorIs(t, err, auth.ErrMismatchedHashAndPassword)

		require.Len(t, sink.events, 1)
		assert.Equal(t, auth.ActivityEventLoginFailure, sink.events[0].EventType)

		tokens.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything)
	})

	t.Run("disabled account cannot log in", func(t *testing.T) {
		users := new(MockUsers)
		tokens := new(MockTokenService)

		auther := auth.NewAuthenticator(users, tokens)

		user := enabledUser("pending@example.com", "password123")
		user.Enabled = false

		users.On("GetByEmail", mock.Anything, "pending@example.com").Return(user, nil).Once()

		_, err := auther.Login(ctx, "pending@example.com", "password123")
		assert.ErrorIs(t, err, auth.ErrAccountDisabled)

		tokens.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything)
	})
}

func TestNewIdentityFromUser(t *testing.T) {
	user := enabledUser("test@example.com", "pw")
	user.Role = auth.RoleAdmin

	identity := auth.NewIdentityFromUser(user)

	assert.Equal(t, user.ID.String(), identity.ID())
	assert.Equal(t, "test@example.com", identity.Username())
	assert.Equal(t, "test@example.com", identity.Email())
	assert.Equal(t, auth.RoleAdmin, identity.Role())
}
