package auth

import (
	"context"
	"fmt"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// The ORM update path omits zero valued columns, so the statements that
// blank out the confirmation fields go through Raw instead.
var ConfirmAccountSQL = `UPDATE "users" AS "usr"
SET
	"enabled" = TRUE,
	"password_hash" = ?,
	"pending_action" = '',
	"confirmation_token" = '',
	"token_issued_at" = NULL,
	"updated_at" = current_timestamp
WHERE (
	"usr"."id" = ?
) RETURNING *;`

var RefreshRegistrationSQL = `UPDATE "users" AS "usr"
SET
	"enabled" = FALSE,
	"pending_action" = ?,
	"confirmation_token" = ?,
	"token_issued_at" = ?,
	"password_hash" = COALESCE(NULLIF(?, ''), "usr"."password_hash"),
	"updated_at" = current_timestamp
WHERE (
	"usr"."id" = ?
) RETURNING *;`

var PromotePendingEmailSQL = `UPDATE "users" AS "usr"
SET
	"email" = "usr"."pending_email",
	"pending_email" = '',
	"pending_action" = '',
	"confirmation_token" = '',
	"token_issued_at" = NULL,
	"updated_at" = current_timestamp
WHERE (
	"usr"."id" = ?
) RETURNING *;`

// Users is the persistence boundary for accounts. Lookups are exact
// matches; email uniqueness is enforced by the schema, the repository
// only surfaces the violation.
type Users interface {
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error)
	GetByConfirmationToken(ctx context.Context, token string) (*User, error)
	GetByConfirmationTokenTx(ctx context.Context, tx bun.IDB, token string) (*User, error)
	List(ctx context.Context) ([]*User, error)

	Create(ctx context.Context, record *User) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error)
	Update(ctx context.Context, record *User) (*User, error)
	UpdateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error)
	Delete(ctx context.Context, record *User) error
	DeleteTx(ctx context.Context, tx bun.IDB, record *User) error

	ConfirmTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error
	PromotePendingEmailTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
	RefreshRegistrationTx(ctx context.Context, tx bun.IDB, record *User) error
}

type users struct {
	repository.Repository[*User]
	db *bun.DB
}

var _ Users = (*users)(nil)

func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &users{
		Repository: repo,
		db:         db,
	}
}

func (a *users) GetByID(ctx context.Context, id string) (*User, error) {
	return a.getByColumnTx(ctx, a.db, "id", id)
}

func (a *users) GetByEmail(ctx context.Context, email string) (*User, error) {
	return a.GetByEmailTx(ctx, a.db, email)
}

func (a *users) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error) {
	return a.getByColumnTx(ctx, tx, "email", email)
}

func (a *users) GetByConfirmationToken(ctx context.Context, token string) (*User, error) {
	return a.GetByConfirmationTokenTx(ctx, a.db, token)
}

func (a *users) GetByConfirmationTokenTx(ctx context.Context, tx bun.IDB, token string) (*User, error) {
	if token == "" {
		return nil, repository.NewRecordNotFound()
	}
	return a.getByColumnTx(ctx, tx, "confirmation_token", token)
}

func (a *users) List(ctx context.Context) ([]*User, error) {
	records := []*User{}
	err := a.db.NewSelect().
		Model(&records).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (a *users) Create(ctx context.Context, record *User) (*User, error) {
	return a.CreateTx(ctx, a.db, record)
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error) {
	prepareUserDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record)
}

func (a *users) Update(ctx context.Context, record *User) (*User, error) {
	return a.UpdateTx(ctx, a.db, record)
}

func (a *users) UpdateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error) {
	return a.Repository.UpdateTx(ctx, tx, record, repository.UpdateByID(record.ID.String()))
}

func (a *users) Delete(ctx context.Context, record *User) error {
	return a.DeleteTx(ctx, a.db, record)
}

func (a *users) DeleteTx(ctx context.Context, tx bun.IDB, record *User) error {
	_, err := tx.NewDelete().
		Model(record).
		WherePK().
		Exec(ctx)
	return err
}

func (a *users) ConfirmTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	res, err := a.Repository.RawTx(ctx, tx, ConfirmAccountSQL, passwordHash, id.String())
	if err != nil {
		return err
	}

	if len(res) == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return nil
}

// RefreshRegistrationTx disables the row and installs the record's
// confirmation fields, keeping the stored password hash when the record
// carries none. Used when an unconfirmed email registers again.
func (a *users) RefreshRegistrationTx(ctx context.Context, tx bun.IDB, record *User) error {
	res, err := a.Repository.RawTx(ctx, tx, RefreshRegistrationSQL,
		record.PendingAction,
		record.ConfirmationToken,
		record.TokenIssuedAt,
		record.PasswordHash,
		record.ID.String(),
	)
	if err != nil {
		return err
	}

	if len(res) == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": record.ID.String(),
			})
	}

	return nil
}

func (a *users) PromotePendingEmailTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	res, err := a.Repository.RawTx(ctx, tx, PromotePendingEmailSQL, id.String())
	if err != nil {
		return err
	}

	if len(res) == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return nil
}

func (a *users) getByColumnTx(ctx context.Context, tx bun.IDB, column, value string) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where(fmt.Sprintf("?TableAlias.%s = ?", column), value).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					column: value,
				})
		}
		return nil, err
	}

	return record, nil
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	if record.Role == "" {
		record.Role = RoleUser
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}
