package auth

import (
	"context"
	"errors"
	"testing"

	"chatcore/internal/protocol"
	"chatcore/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(store.NewMemStore())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "alice", "alice@x.test", "hunter22")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.Username != "alice" {
		t.Fatalf("got username %q", u.Username)
	}

	_, sess, err := svc.Login(ctx, "alice", "hunter22", "127.0.0.1:1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if sess.UserID != u.ID {
		t.Fatalf("session bound to wrong user")
	}
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "alice", "", "hunter22"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err := svc.Register(ctx, "alice", "", "different1")
	var authErr *Error
	if !errors.As(err, &authErr) || authErr.Code != protocol.CodeUsernameTaken {
		t.Fatalf("got %v, want USERNAME_TAKEN", err)
	}
}

func TestRegisterValidatesUsernameAndPassword(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "a", "", "hunter22"); err == nil {
		t.Fatalf("expected short-username rejection")
	}
	if _, err := svc.Register(ctx, "validname", "", "short"); err == nil {
		t.Fatalf("expected short-password rejection")
	}
	if _, err := svc.Register(ctx, "validname2", "not-an-email", "hunter2222"); err == nil {
		t.Fatalf("expected invalid-email rejection")
	}
}

func TestLoginUnknownIdentifierIsInvalidCredentials(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	_, _, err := svc.Login(ctx, "ghost", "whatever1", "127.0.0.1:2")
	var authErr *Error
	if !errors.As(err, &authErr) || authErr.Code != protocol.CodeInvalidCredentials {
		t.Fatalf("got %v, want INVALID_CREDENTIALS", err)
	}
}

func TestLoginRateLimitsAfterRepeatedFailures(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "alice", "", "hunter22"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	const addr = "203.0.113.1:4242"
	for i := 0; i < loginFailureLimit; i++ {
		_, _, err := svc.Login(ctx, "alice", "wrongpass", addr)
		var authErr *Error
		if !errors.As(err, &authErr) || authErr.Code != protocol.CodeInvalidCredentials {
			t.Fatalf("attempt %d: got %v, want INVALID_CREDENTIALS", i, err)
		}
	}

	_, _, err := svc.Login(ctx, "alice", "wrongpass", addr)
	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("got %v, want RateLimitedError", err)
	}
	if rl.RetryAfterMs < 32_000 {
		t.Fatalf("got retry_after_ms=%d, want >= 32000", rl.RetryAfterMs)
	}
}

func TestValidateSessionAndLogout(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "alice", "", "hunter22"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, sess, err := svc.Login(ctx, "alice", "hunter22", "127.0.0.1:3")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := svc.ValidateSession(ctx, sess.ID); err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if err := svc.Logout(ctx, sess.ID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := svc.ValidateSession(ctx, sess.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound after logout", err)
	}
}
