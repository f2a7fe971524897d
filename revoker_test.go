package auth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	auth "github.com/theycallmecoach/auth-server"
)

func TestRevokeTokens(t *testing.T) {
	ctx := context.Background()

	t.Run("removes every access and refresh token for the user", func(t *testing.T) {
		store := new(MockTokenStore)
		revoker := auth.NewTokenRevoker(store)

		store.On("FindTokensByUsername", mock.Anything, "user@example.com").
			Return([]*auth.AccessToken{
				{Token: "acc-1", RefreshToken: "ref-1"},
				{Token: "acc-2", RefreshToken: "ref-2"},
			}, nil).Once()
		store.On("RemoveAccessToken", mock.Anything, "acc-1").Return(nil).Once()
		store.On("RemoveRefreshToken", mock.Anything, "ref-1").Return(nil).Once()
		store.On("RemoveAccessToken", mock.Anything, "acc-2").Return(nil).Once()
		store.On("RemoveRefreshToken", mock.Anything, "ref-2").Return(nil).Once()

		result := revoker.RevokeTokens(ctx, "user@example.com")
		assert.True(t, result.Supported)
		assert.Equal(t, 2, result.Revoked)
		assert.Equal(t, 0, result.Failed)

		store.AssertExpectations(t)
	})

	t.Run("tokens without a refresh half skip the refresh delete", func(t *testing.T) {
		store := new(MockTokenStore)
		revoker := auth.NewTokenRevoker(store)

		store.On("FindTokensByUsername", mock.Anything, "user@example.com").
			Return([]*auth.AccessToken{{Token: "acc-1"}}, nil).Once()
		store.On("RemoveAccessToken", mock.Anything, "acc-1").Return(nil).Once()

		result := revoker.RevokeTokens(ctx, "user@example.com")
		assert.Equal(t, 1, result.Revoked)

		store.AssertNotCalled(t, "RemoveRefreshToken", mock.Anything, mock.Anything)
	})

	t.Run("a store without enumeration makes revocation a no-op", func(t *testing.T) {
		revoker := auth.NewTokenRevoker(flatTokenStore{})

		result := revoker.RevokeTokens(ctx, "user@example.com")
		assert.False(t, result.Supported)
		assert.Equal(t, 0, result.Revoked)
		assert.Equal(t, 0, result.Failed)
	})

	t.Run("one failed delete does not stop the sweep", func(t *testing.T) {
		store := new(MockTokenStore)
		revoker := auth.NewTokenRevoker(store)

		store.On("FindTokensByUsername", mock.Anything, "user@example.com").
			Return([]*auth.AccessToken{
				{Token: "acc-1", RefreshToken: "ref-1"},
				{Token: "acc-2"},
				{Token: "acc-3", RefreshToken: "ref-3"},
			}, nil).Once()
		store.On("RemoveAccessToken", mock.Anything, "acc-1").Return(errors.New("store down")).Once()
		store.On("RemoveAccessToken", mock.Anything, "acc-2").Return(nil).Once()
		store.On("RemoveAccessToken", mock.Anything, "acc-3").Return(nil).Once()
		store.On("RemoveRefreshToken", mock.Anything, "ref-3").Return(errors.New("store down")).Once()

		result := revoker.RevokeTokens(ctx, "user@example.com")
		assert.True(t, result.Supported)
		assert.Equal(t, 1, result.Revoked)
		assert.Equal(t, 2, result.Failed)

		store.AssertExpectations(t)
		// acc-1 failed before its refresh token was reached
		store.AssertNotCalled(t, "RemoveRefreshToken", mock.Anything, "ref-1")
	})

	t.Run("enumeration failure is counted, not raised", func(t *testing.T) {
		store := new(MockTokenStore)
		revoker := auth.NewTokenRevoker(store)

		store.On("FindTokensByUsername", mock.Anything, "user@example.com").
			Return(nil, errors.New("store down")).Once()

		result := revoker.RevokeTokens(ctx, "user@example.com")
		assert.True(t, result.Supported)
		assert.Equal(t, 0, result.Revoked)
		assert.Equal(t, 1, result.Failed)
	})
}
