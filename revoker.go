package auth

import "context"

// RevocationResult reports the outcome of a best-effort revocation
// sweep so callers and tests can assert on partial failures.
type RevocationResult struct {
	Supported bool
	Revoked   int
	Failed    int
}

// TokenRevoker finds every access and refresh token bound to a
// username and deletes them. Revocation is defense in depth after a
// credential change, not a hard guarantee: failures are logged and
// counted, never escalated to the triggering operation.
type TokenRevoker struct {
	store  TokenStore
	logger Logger
}

// NewTokenRevoker creates a revocation gateway over the given store.
func NewTokenRevoker(store TokenStore) *TokenRevoker {
	return &TokenRevoker{
		store:  store,
		logger: defLogger{},
	}
}

func (r *TokenRevoker) WithLogger(logger Logger) *TokenRevoker {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// RevokeTokens deletes all tokens associated with username. Each token
// is handled independently: one failed delete does not stop the sweep.
// There is no atomicity across the set, a crash mid-sweep leaves a
// partial revocation behind.
func (r *TokenRevoker) RevokeTokens(ctx context.Context, username string) RevocationResult {
	result := RevocationResult{}

	store, ok := r.store.(EnumerableTokenStore)
	if !ok {
		r.logger.Debug("token store does not support per-user enumeration, cannot revoke tokens for %s", username)
		return result
	}
	result.Supported = true

	tokens, err := store.FindTokensByUsername(ctx, username)
	if err != nil {
		r.logger.Error("failed to enumerate tokens for %s: %v", username, err)
		result.Failed++
		return result
	}

	for _, token := range tokens {
		r.logger.Debug("revoking access token for %s", username)
		if err := store.RemoveAccessToken(ctx, token.Token); err != nil {
			r.logger.Error("failed to revoke access token for %s: %v", username, err)
			result.Failed++
			continue
		}

		if token.RefreshToken != "" {
			r.logger.Debug("revoking refresh token for %s", username)
			if err := store.RemoveRefreshToken(ctx, token.RefreshToken); err != nil {
				r.logger.Error("failed to revoke refresh token for %s: %v", username, err)
				result.Failed++
				continue
			}
		}

		result.Revoked++
	}

	return result
}
