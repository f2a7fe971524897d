package auth

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TokenStore holds the access and refresh tokens the authorization
// server has issued. Deletes are idempotent: removing a token that is
// already gone is not an error.
type TokenStore interface {
	StoreToken(ctx context.Context, token *AccessToken) (*AccessToken, error)
	RemoveAccessToken(ctx context.Context, token string) error
	RemoveRefreshToken(ctx context.Context, refreshToken string) error
}

// EnumerableTokenStore is an optional capability. Backends that cannot
// list tokens per user make revocation a documented no-op.
type EnumerableTokenStore interface {
	TokenStore
	FindTokensByUsername(ctx context.Context, username string) ([]*AccessToken, error)
}

type bunTokenStore struct {
	repository.Repository[*AccessToken]
	db *bun.DB
}

var (
	_ TokenStore           = (*bunTokenStore)(nil)
	_ EnumerableTokenStore = (*bunTokenStore)(nil)
)

// NewTokenStore returns a token store backed by the relational schema.
func NewTokenStore(db *bun.DB) EnumerableTokenStore {
	repo := repository.NewRepository[*AccessToken](db, repository.ModelHandlers[*AccessToken]{
		NewRecord: func() *AccessToken { return &AccessToken{} },
		GetID: func(t *AccessToken) uuid.UUID {
			if t == nil {
				return uuid.Nil
			}
			return t.ID
		},
		SetID: func(t *AccessToken, id uuid.UUID) {
			if t != nil {
				t.ID = id
			}
		},
		GetIdentifier: func() string {
			return "token"
		},
	})

	return &bunTokenStore{
		Repository: repo,
		db:         db,
	}
}

func (s *bunTokenStore) StoreToken(ctx context.Context, token *AccessToken) (*AccessToken, error) {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	return s.Repository.Create(ctx, token)
}

func (s *bunTokenStore) FindTokensByUsername(ctx context.Context, username string) ([]*AccessToken, error) {
	records := []*AccessToken{}
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.username = ?", username).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *bunTokenStore) RemoveAccessToken(ctx context.Context, token string) error {
	_, err := s.db.NewDelete().
		Model((*AccessToken)(nil)).
		Where("?TableAlias.token = ?", token).
		Exec(ctx)
	return err
}

func (s *bunTokenStore) RemoveRefreshToken(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	_, err := s.db.NewDelete().
		Model((*AccessToken)(nil)).
		Where("?TableAlias.refresh_token = ?", refreshToken).
		Exec(ctx)
	return err
}
