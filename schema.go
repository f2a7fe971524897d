package auth

import (
	"context"

	"github.com/uptrace/bun"
)

// CreateSchema sets up the tables and indexes the server needs. The
// unique index on users.email is the authority for registration races:
// the application level checks are fast-path rejections only.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	models := []any{
		(*User)(nil),
		(*AccessToken)(nil),
	}

	for _, model := range models {
		if _, err := db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx); err != nil {
			return err
		}
	}

	if _, err := db.NewCreateIndex().
		Model((*User)(nil)).
		Index("users_email_ux").
		Unique().
		IfNotExists().
		Column("email").
		Exec(ctx); err != nil {
		return err
	}

	if _, err := db.NewCreateIndex().
		Model((*User)(nil)).
		Index("users_confirmation_token_ix").
		IfNotExists().
		Column("confirmation_token").
		Exec(ctx); err != nil {
		return err
	}

	if _, err := db.NewCreateIndex().
		Model((*AccessToken)(nil)).
		Index("access_tokens_username_ix").
		IfNotExists().
		Column("username").
		Exec(ctx); err != nil {
		return err
	}

	return nil
}
