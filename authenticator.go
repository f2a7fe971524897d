package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

// Auther verifies password credentials and issues token pairs. Lookup
// misses and bad passwords both come back as a credentials mismatch so
// callers cannot probe for registered emails.
type Auther struct {
	users    Users
	tokens   TokenService
	activity ActivitySink
	logger   Logger
}

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(users Users, tokens TokenService) *Auther {
	return &Auther{
		users:    users,
		tokens:   tokens,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activity = normalizeActivitySink(sink)
	return s
}

func (s *Auther) Login(ctx context.Context, identifier, password string) (*TokenPair, error) {
	user, err := s.users.GetByEmail(ctx, identifier)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			s.emitLoginEvent(ctx, ActivityEventLoginFailure, identifier, "unknown identifier")
			return nil, ErrMismatchedHashAndPassword
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve user during login")
	}

	if !user.Enabled {
		s.logger.Warn("login blocked for disabled account %s", identifier)
		s.emitLoginEvent(ctx, ActivityEventLoginFailure, identifier, "account disabled")
		return nil, ErrAccountDisabled
	}

	if err := ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		s.logger.Debug("login failed for %s", identifier)
		s.emitLoginEvent(ctx, ActivityEventLoginFailure, identifier, "credentials mismatch")
		return nil, ErrMismatchedHashAndPassword
	}

	pair, err := s.tokens.Issue(ctx, NewIdentityFromUser(user))
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to issue tokens")
	}

	s.emitLoginEvent(ctx, ActivityEventLoginSuccess, identifier, "")

	return pair, nil
}

func (s *Auther) emitLoginEvent(ctx context.Context, eventType ActivityEventType, identifier, reason string) {
	event := ActivityEvent{
		EventType:  eventType,
		Email:      identifier,
		OccurredAt: time.Now(),
	}
	if reason != "" {
		event.Metadata = map[string]any{"reason": reason}
	}

	if err := s.activity.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink error during login: %v", err)
	}
}

type userIdentity struct {
	user *User
}

// NewIdentityFromUser adapts a stored user to the Identity interface.
func NewIdentityFromUser(user *User) Identity {
	return userIdentity{user: user}
}

func (i userIdentity) ID() string       { return i.user.ID.String() }
func (i userIdentity) Username() string { return i.user.Email }
func (i userIdentity) Email() string    { return i.user.Email }
func (i userIdentity) Role() string     { return i.user.Role }
