package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// DefaultConfirmationWindow bounds how long a confirmation token stays
// consumable. Tokens older than this are rejected at consumption time.
var DefaultConfirmationWindow = "24h"

// MessageSource resolves a notification body for a key and locale. The
// catalog itself lives outside this package.
type MessageSource func(key, locale string) string

func defaultMessageSource(key, locale string) string {
	switch key {
	case "email.registration":
		return "Please confirm your registration by following the link below."
	case "email.resetPassword":
		return "A password reset was requested for your account. Follow the link below to choose a new password."
	case "email.verification":
		return "Please verify your new e-mail address by following the link below."
	}
	return ""
}

// RegisterAccountMessage is the payload for a new registration.
type RegisterAccountMessage struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Locale   string `json:"locale"`
}

func (m RegisterAccountMessage) Type() string { return "account.register" }

func (m RegisterAccountMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Email, validation.Required, is.Email),
	)
}

// AccountService owns every state transition on the User entity:
// registration, confirmation, password reset, password change, and the
// two step email change. It decides when a confirmation token is
// minted, when a notification goes out, and when issued tokens get
// revoked. Each operation is one read-modify-write transaction; the
// store commit always precedes the notification dispatch.
type AccountService interface {
	Register(ctx context.Context, msg RegisterAccountMessage) error
	IsRegistered(ctx context.Context, email string) (bool, error)
	ConfirmRegistration(ctx context.Context, token, newPassword string) error
	GetUserForToken(ctx context.Context, token string) (*User, error)
	RequestPasswordReset(ctx context.Context, email, locale string) error
	ChangePassword(ctx context.Context, username, currentPassword, newPassword string) (bool, error)
	ChangeEmail(ctx context.Context, username, password, newEmail, locale string) (bool, error)
	VerifyEmail(ctx context.Context, token string) (*User, error)
	DeleteAccount(ctx context.Context, username string) error
}

// AccountServiceImpl implements AccountService.
type AccountServiceImpl struct {
	repo               RepositoryManager
	mailer             Mailer
	revoker            *TokenRevoker
	messages           MessageSource
	activity           ActivitySink
	logger             Logger
	redirectionURL     string
	emailFrom          string
	confirmationWindow string
}

var _ AccountService = (*AccountServiceImpl)(nil)

// NewAccountService creates the credential lifecycle service with sane
// defaults. Notifications go to a log mailer until one is configured.
func NewAccountService(repo RepositoryManager, opts Config) *AccountServiceImpl {
	window := opts.GetConfirmationWindow()
	if window == "" {
		window = DefaultConfirmationWindow
	}

	return &AccountServiceImpl{
		repo:               repo,
		mailer:             NewLogMailer(defLogger{}),
		revoker:            NewTokenRevoker(repo.Tokens()),
		messages:           defaultMessageSource,
		activity:           noopActivitySink{},
		logger:             defLogger{},
		redirectionURL:     opts.GetRedirectionURL(),
		emailFrom:          opts.GetEmailFrom(),
		confirmationWindow: window,
	}
}

func (s *AccountServiceImpl) WithMailer(mailer Mailer) *AccountServiceImpl {
	if mailer != nil {
		s.mailer = mailer
	}
	return s
}

func (s *AccountServiceImpl) WithRevoker(revoker *TokenRevoker) *AccountServiceImpl {
	if revoker != nil {
		s.revoker = revoker
	}
	return s
}

func (s *AccountServiceImpl) WithMessageSource(messages MessageSource) *AccountServiceImpl {
	if messages != nil {
		s.messages = messages
	}
	return s
}

// WithActivitySink sets the sink used to emit lifecycle events.
func (s *AccountServiceImpl) WithActivitySink(sink ActivitySink) *AccountServiceImpl {
	s.activity = normalizeActivitySink(sink)
	return s
}

func (s *AccountServiceImpl) WithLogger(logger Logger) *AccountServiceImpl {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Register creates a disabled account with a fresh confirmation token
// and mails the confirmation link. Re-registering a not yet confirmed
// email reuses the row and refreshes its token. The caller gates on
// IsRegistered first; the schema's unique index on email is the
// authority if two registrations race.
func (s *AccountServiceImpl) Register(ctx context.Context, msg RegisterAccountMessage) error {
	if err := msg.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid registration payload")
	}

	s.logger.Debug("register new user %s", msg.Email)

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user := &User{}
	var token string

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := s.repo.Users().GetByEmailTx(ctx, tx, msg.Email)
		if err != nil && !repository.IsRecordNotFound(err) {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up account")
		}

		if existing != nil {
			user = existing
		} else {
			user.Email = msg.Email
			user.Role = msg.Role
		}

		// disabled until confirmed via email
		user.Enabled = false
		token = user.BeginPendingAction(PendingRegistration)

		if msg.Password != "" {
			hash, err := HashPassword(msg.Password)
			if err != nil {
				return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password provided")
			}
			user.PasswordHash = hash
		}

		if existing != nil {
			if err := s.repo.Users().RefreshRegistrationTx(ctx, tx, user); err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to refresh registration")
			}
			return nil
		}

		if user, err = s.repo.Users().CreateTx(ctx, tx, user); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user")
		}

		return nil
	})

	if err != nil {
		return asRichError(err, "user registration transaction failed")
	}

	s.notify(Message{
		To:      user.Email,
		From:    s.emailFrom,
		Subject: "Registration confirmation",
		Body:    s.messages("email.registration", msg.Locale),
		Link:    s.redirectionURL + "/confirmRedirect?token=" + token,
	})

	s.recordActivity(ctx, ActivityEventRegistration, user, nil)

	return nil
}

// IsRegistered reports whether an enabled account exists for the email.
// An existing but unconfirmed row counts as not registered so the user
// can register again and receive a fresh token.
func (s *AccountServiceImpl) IsRegistered(ctx context.Context, email string) (bool, error) {
	user, err := s.repo.Users().GetByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return false, nil
		}
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up account")
	}
	return user.Enabled, nil
}

// ConfirmRegistration consumes a registration or password reset token,
// sets the new password, and enables the account. The token is cleared
// in the same transaction so a second call with the same value fails
// with not found.
func (s *AccountServiceImpl) ConfirmRegistration(ctx context.Context, token, newPassword string) error {
	s.logger.Debug("confirm user with token %s", token)

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user := &User{}

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = s.consumableUserTx(ctx, tx, token, PendingRegistration, PendingPasswordReset)
		if err != nil {
			return err
		}

		hash, err := HashPassword(newPassword)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password provided")
		}

		if err := s.repo.Users().ConfirmTx(ctx, tx, user.ID, hash); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to confirm account")
		}

		return nil
	})

	if err != nil {
		return asRichError(err, "account confirmation failed")
	}

	s.recordActivity(ctx, ActivityEventConfirmation, user, nil)

	return nil
}

// GetUserForToken is a pure read used by the confirmation page; it does
// not consume the token.
func (s *AccountServiceImpl) GetUserForToken(ctx context.Context, token string) (*User, error) {
	user, err := s.repo.Users().GetByConfirmationToken(ctx, token)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, goerrors.New("no user found for token", goerrors.CategoryNotFound).
				WithCode(goerrors.CodeNotFound)
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up token")
	}
	return user, nil
}

// RequestPasswordReset mints a fresh reset token without touching the
// enabled flag, persists it, then mails the confirmation link.
func (s *AccountServiceImpl) RequestPasswordReset(ctx context.Context, email, locale string) error {
	s.logger.Debug("resetting password for user %s", email)

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user := &User{}
	var token string

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = s.repo.Users().GetByEmailTx(ctx, tx, email)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return goerrors.New("no user found with this email", goerrors.CategoryNotFound).
					WithCode(goerrors.CodeNotFound)
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for password reset")
		}

		if !user.Enabled {
			return goerrors.New("account is not confirmed", goerrors.CategoryNotFound).
				WithCode(goerrors.CodeNotFound)
		}

		token = user.BeginPendingAction(PendingPasswordReset)

		if _, err := s.repo.Users().UpdateTx(ctx, tx, user); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist reset token")
		}

		return nil
	})

	if err != nil {
		return asRichError(err, "password reset request failed")
	}

	s.notify(Message{
		To:      user.Email,
		From:    s.emailFrom,
		Subject: "Password reset",
		Body:    s.messages("email.resetPassword", locale),
		Link:    s.redirectionURL + "/confirmRedirect?token=" + token,
	})

	s.recordActivity(ctx, ActivityEventPasswordResetRequest, user, nil)

	return nil
}

// ChangePassword verifies the current password and rotates the hash.
// A successful change revokes every outstanding access and refresh
// token for the account, forcing re-authentication everywhere. Wrong
// credentials come back as false, not as an error.
func (s *AccountServiceImpl) ChangePassword(ctx context.Context, username, currentPassword, newPassword string) (bool, error) {
	s.logger.Debug("changing password for user %s", username)

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	changed := false

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := s.repo.Users().GetByEmailTx(ctx, tx, username)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				s.logger.Warn("cannot find user with this username")
				return nil
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user")
		}

		if !user.Enabled {
			return nil
		}

		if err := ComparePasswordAndHash(currentPassword, user.PasswordHash); err != nil {
			s.logger.Debug("current password does not match")
			return nil
		}

		hash, err := HashPassword(newPassword)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
		}

		record := &User{ID: user.ID, PasswordHash: hash}
		if _, err := s.repo.Users().UpdateTx(ctx, tx, record); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password")
		}

		changed = true
		return nil
	})

	if err != nil {
		return false, asRichError(err, "password change failed")
	}

	if changed {
		result := s.revoker.RevokeTokens(ctx, username)
		if result.Failed > 0 {
			s.logger.Warn("revoked %d tokens for %s, %d failed", result.Revoked, username, result.Failed)
		} else {
			s.logger.Debug("revoked %d tokens for %s", result.Revoked, username)
		}

		s.recordActivity(ctx, ActivityEventPasswordChanged, nil, map[string]any{
			"username":       username,
			"tokens_revoked": result.Revoked,
		})
	}

	return changed, nil
}

// ChangeEmail starts the two step email change: it verifies the
// password, checks the target address is unused, stores it as pending,
// and mails a verification link to the new address. The current email
// keeps working until VerifyEmail consumes the token.
func (s *AccountServiceImpl) ChangeEmail(ctx context.Context, username, password, newEmail, locale string) (bool, error) {
	s.logger.Debug("changing e-mail for user %s", username)

	if err := (validation.Validate(newEmail, validation.Required, is.Email)); err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid email address")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	changed := false
	var token string

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := s.repo.Users().GetByEmailTx(ctx, tx, username)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				s.logger.Warn("cannot find user with this e-mail")
				return nil
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user")
		}

		if !user.Enabled {
			return nil
		}

		if _, err := s.repo.Users().GetByEmailTx(ctx, tx, newEmail); err == nil {
			s.logger.Warn("user with email %s already exists", newEmail)
			return nil
		} else if !repository.IsRecordNotFound(err) {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email uniqueness")
		}

		if err := ComparePasswordAndHash(password, user.PasswordHash); err != nil {
			s.logger.Debug("current password does not match")
			return nil
		}

		user.PendingEmail = newEmail
		token = user.BeginPendingAction(PendingEmailChange)

		if _, err := s.repo.Users().UpdateTx(ctx, tx, user); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist pending email")
		}

		changed = true
		return nil
	})

	if err != nil {
		return false, asRichError(err, "email change failed")
	}

	if changed {
		s.notify(Message{
			To:      newEmail,
			From:    s.emailFrom,
			Subject: "E-mail change",
			Body:    s.messages("email.verification", locale),
			Link:    s.redirectionURL + "/verifyEmail?token=" + token,
		})

		s.recordActivity(ctx, ActivityEventEmailChangeRequest, nil, map[string]any{
			"username":      username,
			"pending_email": newEmail,
		})
	}

	return changed, nil
}

// VerifyEmail consumes an email change token and promotes the pending
// address to be the account email. Sessions issued against the old
// email are left alone.
func (s *AccountServiceImpl) VerifyEmail(ctx context.Context, token string) (*User, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user := &User{}

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = s.consumableUserTx(ctx, tx, token, PendingEmailChange)
		if err != nil {
			return err
		}

		if user.PendingEmail == "" {
			return goerrors.New("no pending email on record", goerrors.CategoryInternal)
		}

		s.logger.Debug("verifying e-mail %s", user.PendingEmail)

		if err := s.repo.Users().PromotePendingEmailTx(ctx, tx, user.ID); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to promote pending email")
		}

		user.Email = user.PendingEmail
		user.PendingEmail = ""
		user.ClearPendingAction()

		return nil
	})

	if err != nil {
		return nil, asRichError(err, "email verification failed")
	}

	s.recordActivity(ctx, ActivityEventEmailVerified, user, nil)

	return user, nil
}

// DeleteAccount hard deletes the account and sweeps its issued tokens.
// Revocation is best-effort cleanup, never a precondition: a re-run for
// an already deleted account fails on the lookup, not on the sweep.
func (s *AccountServiceImpl) DeleteAccount(ctx context.Context, username string) error {
	s.logger.Debug("user deletion requested for %s", username)

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := s.repo.Users().GetByEmailTx(ctx, tx, username)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return goerrors.New("no user found with this email", goerrors.CategoryNotFound).
					WithCode(goerrors.CodeNotFound)
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user")
		}

		if err := s.repo.Users().DeleteTx(ctx, tx, user); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete user")
		}

		return nil
	})

	if err != nil {
		return asRichError(err, "account deletion failed")
	}

	s.revoker.RevokeTokens(ctx, username)

	s.recordActivity(ctx, ActivityEventAccountDeleted, nil, map[string]any{
		"username": username,
	})

	return nil
}

// consumableUserTx looks up a user by confirmation token and checks the
// token is still valid for one of the given flows. Expired or
// wrong-flow tokens are rejected without mutation.
func (s *AccountServiceImpl) consumableUserTx(ctx context.Context, tx bun.Tx, token string, kinds ...PendingActionKind) (*User, error) {
	user, err := s.repo.Users().GetByConfirmationTokenTx(ctx, tx, token)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, goerrors.New("no user found for token", goerrors.CategoryNotFound).
				WithCode(goerrors.CodeNotFound)
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up token")
	}

	kindOK := false
	for _, kind := range kinds {
		if user.PendingAction == kind {
			kindOK = true
			break
		}
	}
	if !kindOK {
		return nil, goerrors.New("no user found for token", goerrors.CategoryNotFound).
			WithCode(goerrors.CodeNotFound)
	}

	if user.TokenIssuedAt == nil {
		return nil, goerrors.New("confirmation token is missing issue date", goerrors.CategoryInternal)
	}

	expired, err := IsOutsideThresholdPeriod(*user.TokenIssuedAt, s.confirmationWindow)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check token expiration period")
	}

	if expired {
		return nil, goerrors.Wrap(ErrTokenExpired, goerrors.CategoryValidation, "confirmation token has expired").
			WithTextCode(TextCodeTokenExpired)
	}

	return user, nil
}

func (s *AccountServiceImpl) recordActivity(ctx context.Context, eventType ActivityEventType, user *User, metadata map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if user != nil {
		event.UserID = user.ID.String()
		event.Email = user.Email
	}

	if err := normalizeActivitySink(s.activity).Record(ctx, event); err != nil {
		s.logger.Warn("activity sink error for %s: %v", eventType, err)
	}
}

// notify dispatches a notification without blocking the caller on
// delivery. The store write is already committed by the time this runs.
func (s *AccountServiceImpl) notify(msg Message) {
	go func() {
		if err := s.mailer.Send(context.Background(), msg); err != nil {
			s.logger.Error("failed to dispatch notification to %s: %v", msg.To, err)
		}
	}()
}

func asRichError(err error, msg string) error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}
