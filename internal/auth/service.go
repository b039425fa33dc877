// Package auth implements registration, login, session issuance, and
// login rate limiting. Password hashing follows the teacher's "one
// service, one store" shape; rate limiting reuses the ulule/limiter
// in-memory store the way the voice/video backend in the pack wires
// it to a gin middleware, adapted here to plain keyed lookups instead
// of HTTP middleware.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"chatcore/internal/protocol"
	"chatcore/internal/store"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)

const (
	minPasswordBytes = 8
	maxPasswordBytes = 128

	sessionLifetime      = 12 * time.Hour
	sessionRenewalWindow = 2 * time.Hour
	sessionTokenBytes    = 32 // 256 bits

	loginFailureLimit  = 5
	loginFailureWindow = 60 * time.Second
)

// Error wraps a protocol error code with a human-readable message, the
// same code+message shape every layer above auth forwards verbatim into
// an AuthErr or Error envelope.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func newError(code, message string) *Error { return &Error{Code: code, Message: message} }

// Service implements registration, login, and session bookkeeping
// against a Store, plus per-remote-address login rate limiting.
type Service struct {
	store       store.Store
	loginLimits *limiter.Limiter
}

// NewService constructs an auth Service with an in-memory rate limiter
// store. The rate limiter's own state is process-local and resets on
// restart; this matches the teacher's fallback-to-memory behavior when
// no shared backing store is configured.
func NewService(st store.Store) (*Service, error) {
	rate := limiter.Rate{Period: loginFailureWindow, Limit: loginFailureLimit}
	return &Service{
		store:       st,
		loginLimits: limiter.New(memory.NewStore(), rate),
	}, nil
}

// Register validates and creates a new account. It does not issue a
// session; callers typically follow a successful Register with Login.
func (s *Service) Register(ctx context.Context, username, email, password string) (store.User, error) {
	username = protocol.NormalizeNFC(username)
	password = protocol.NormalizeNFC(password)
	email = protocol.NormalizeNFC(email)

	if !usernamePattern.MatchString(username) {
		return store.User{}, newError(protocol.CodeInvalidInput, "username must match ^[a-zA-Z0-9_.-]{3,32}$")
	}
	pwLen := len(password)
	if pwLen < minPasswordBytes || pwLen > maxPasswordBytes {
		return store.User{}, newError(protocol.CodeInvalidInput, "password must be 8-128 bytes")
	}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return store.User{}, newError(protocol.CodeInvalidInput, "email is not a valid address")
		}
	}

	hash, salt, params, err := hashPassword(password)
	if err != nil {
		return store.User{}, fmt.Errorf("auth: hash password: %w", err)
	}

	u, err := s.store.CreateUser(ctx, store.User{
		Username:       username,
		Email:          email,
		VerifierHash:   hash,
		VerifierSalt:   salt,
		VerifierParams: params,
		Role:           store.RoleUser,
	})
	if errors.Is(err, store.ErrAlreadyExists) {
		return store.User{}, newError(protocol.CodeUsernameTaken, "username is already registered")
	}
	if err != nil {
		return store.User{}, fmt.Errorf("auth: create user: %w", err)
	}
	return u, nil
}

// Login validates credentials and, on success, issues a new session.
// remoteAddr keys the per-address failure counter.
func (s *Service) Login(ctx context.Context, identifier, password, remoteAddr string) (store.User, store.Session, error) {
	identifier = protocol.NormalizeNFC(identifier)
	password = protocol.NormalizeNFC(password)

	u, lookupErr := s.store.GetUserByUsername(ctx, identifier)
	if errors.Is(lookupErr, store.ErrNotFound) {
		u, lookupErr = s.store.GetUserByEmail(ctx, identifier)
	}
	if lookupErr != nil && !errors.Is(lookupErr, store.ErrNotFound) {
		return store.User{}, store.Session{}, fmt.Errorf("auth: lookup user: %w", lookupErr)
	}

	found := lookupErr == nil
	var ok bool
	if found {
		ok = verifyPassword(password, u.VerifierHash, u.VerifierSalt)
	} else {
		dummyVerify(password)
		ok = false
	}

	if !ok {
		limiterCtx, incErr := s.loginLimits.Get(ctx, remoteAddr)
		if incErr != nil {
			return store.User{}, store.Session{}, fmt.Errorf("auth: record failure: %w", incErr)
		}
		if limiterCtx.Reached {
			return store.User{}, store.Session{}, s.rateLimitedError(limiterCtx)
		}
		return store.User{}, store.Session{}, newError(protocol.CodeInvalidCredentials, "invalid identifier or password")
	}

	token, err := newSessionToken()
	if err != nil {
		return store.User{}, store.Session{}, fmt.Errorf("auth: generate session token: %w", err)
	}
	now := time.Now().UTC()
	sess, err := s.store.CreateSession(ctx, store.Session{
		ID:        token,
		UserID:    u.ID,
		IssuedAt:  now,
		ExpiresAt: now.Add(sessionLifetime),
		LastSeen:  now,
	})
	if err != nil {
		return store.User{}, store.Session{}, fmt.Errorf("auth: create session: %w", err)
	}
	return u, sess, nil
}

// rateLimitedError derives the spec's exponential backoff advice from the
// limiter's observed usage: failures is Limit minus Remaining, and since
// Remaining never drops below zero it is capped at loginFailureLimit, so
// the advice stays at 1000·2^5 = 32000 ms once the limit is exceeded.
func (s *Service) rateLimitedError(lc limiter.Context) error {
	failures := lc.Limit - lc.Remaining
	if failures < 0 {
		failures = 0
	}
	retryAfterMs := int64(1000)
	for i := int64(0); i < failures; i++ {
		retryAfterMs *= 2
		if retryAfterMs >= 60_000 {
			retryAfterMs = 60_000
			break
		}
	}
	return &RateLimitedError{Err: newError(protocol.CodeRateLimited, "too many failed login attempts"), RetryAfterMs: retryAfterMs}
}

// RateLimitedError augments Error with the retry_after_ms advice the wire
// protocol's Error envelope carries.
type RateLimitedError struct {
	Err          error
	RetryAfterMs int64
}

func (e *RateLimitedError) Error() string { return e.Err.Error() }
func (e *RateLimitedError) Unwrap() error { return e.Err }

// ValidateSession checks a session token against the store, renewing its
// last-seen timestamp. It returns store.ErrNotFound if the token is
// unknown, superseded, or expired. If the session falls within the
// renewal window, a fresh session id is issued and the old one marked
// superseded per the renewal policy; the returned Session reflects
// whichever id is now current, so callers that expose the token (e.g.
// the REST adapter) can hand the renewed id back to the client.
func (s *Service) ValidateSession(ctx context.Context, token string) (store.Session, error) {
	sess, err := s.store.GetSession(ctx, token)
	if err != nil {
		return store.Session{}, err
	}
	now := time.Now().UTC()
	if sess.Superseded || !sess.Valid(now) {
		return store.Session{}, store.ErrNotFound
	}

	if sess.ExpiresAt.Sub(now) < sessionRenewalWindow {
		newToken, tokErr := newSessionToken()
		if tokErr != nil {
			return store.Session{}, fmt.Errorf("auth: generate renewal token: %w", tokErr)
		}
		renewed, supErr := s.store.SupersedeSession(ctx, token, store.Session{
			ID:        newToken,
			UserID:    sess.UserID,
			IssuedAt:  now,
			ExpiresAt: now.Add(sessionLifetime),
			LastSeen:  now,
		})
		if supErr != nil {
			return store.Session{}, fmt.Errorf("auth: supersede session: %w", supErr)
		}
		return renewed, nil
	}

	if err := s.store.TouchSession(ctx, token, now); err != nil {
		return store.Session{}, fmt.Errorf("auth: touch session: %w", err)
	}
	sess.LastSeen = now
	return sess, nil
}

// Logout revokes a session outright.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.store.RevokeSession(ctx, token)
}

func newSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
