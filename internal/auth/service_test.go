package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"omniavatar/server/internal/model"
	"omniavatar/server/internal/session"
	"omniavatar/server/internal/store"
)

func newTestService() (*Service, *store.MemoryStore) {
	st := store.NewMemoryStore()
	return NewService(st, session.NewMemoryStore(time.Hour), "test-secret", time.Hour), st
}

func TestSignUpCurrentUserSignOut(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	account, token, err := svc.SignUp(ctx, "ada@example.com", "secret123", "Ada Lovelace")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if token == "" {
		t.Fatalf("token must not be empty")
	}
	if account.PasswordHash == "secret123" {
		t.Fatalf("password stored in clear text")
	}

	current, err := svc.CurrentUser(ctx, token)
	if err != nil {
		t.Fatalf("current user: %v", err)
	}
	if current == nil {
		t.Fatalf("expected a signed-in account")
	}
	if current.CreditsRemaining != 3 || current.SubscriptionTier != model.TierFree {
		t.Fatalf("unexpected new account: credits=%d tier=%s", current.CreditsRemaining, current.SubscriptionTier)
	}
	if current.SubscriptionStatus != model.StatusActive {
		t.Fatalf("status = %s, want active", current.SubscriptionStatus)
	}

	if err := svc.SignOut(ctx, token); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	current, err = svc.CurrentUser(ctx, token)
	if err != nil || current != nil {
		t.Fatalf("expected no session after sign out, got %v, %v", current, err)
	}
}

func TestSignUpValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	cases := []struct {
		name, email, password, fullName string
	}{
		{"missing email", "", "secret123", "Ada"},
		{"missing name", "ada@example.com", "secret123", " "},
		{"short password", "ada@example.com", "12345", "Ada"},
	}
	for _, tc := range cases {
		account, _, err := svc.SignUp(ctx, tc.email, tc.password, tc.fullName)
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", tc.name, err)
		}
		if account != nil {
			t.Fatalf("%s: expected nil account", tc.name)
		}
	}

	if _, _, err := svc.SignUp(ctx, "ada@example.com", "secret123", "Ada"); err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if _, _, err := svc.SignUp(ctx, "ADA@example.com", "secret123", "Ada"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on duplicate email, got %v", err)
	}
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	if err := svc.SeedDemoUser(ctx, "demo@omniavatar.local", "demo123456"); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	// Seeding twice is a no-op.
	if err := svc.SeedDemoUser(ctx, "demo@omniavatar.local", "other-password"); err != nil {
		t.Fatalf("reseed user: %v", err)
	}

	account, token, err := svc.SignIn(ctx, "demo@omniavatar.local", "demo123456")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if account.FullName != "Demo User" || token == "" {
		t.Fatalf("unexpected sign in result: %+v", account)
	}

	if _, _, err := svc.SignIn(ctx, "demo@omniavatar.local", "wrong-password"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, _, err := svc.SignIn(ctx, "nobody@omniavatar.local", "demo123456"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for unknown email, got %v", err)
	}
	if _, _, err := svc.SignIn(ctx, "demo@omniavatar.local", "short"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCurrentUserIgnoresBadTokens(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	_, token, err := svc.SignUp(ctx, "ada@example.com", "secret123", "Ada")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}

	other := NewService(store.NewMemoryStore(), session.NewMemoryStore(time.Hour), "other-secret", time.Hour)
	for _, tok := range []string{"", "not-a-jwt", token + "x"} {
		if acct, err := svc.CurrentUser(ctx, tok); acct != nil || err != nil {
			t.Fatalf("token %q: expected no session, got %v, %v", tok, acct, err)
		}
	}
	if acct, err := other.CurrentUser(ctx, token); acct != nil || err != nil {
		t.Fatalf("foreign secret: expected no session, got %v, %v", acct, err)
	}
	// Signing out of an unknown token is not an error.
	if err := svc.SignOut(ctx, "not-a-jwt"); err != nil {
		t.Fatalf("sign out unknown token: %v", err)
	}
}

func TestCurrentUserExpiredToken(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	_, token, err := svc.SignUp(ctx, "ada@example.com", "secret123", "Ada")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if acct, err := svc.CurrentUser(ctx, token); acct != nil || err != nil {
		t.Fatalf("expected expired token to yield no session, got %v, %v", acct, err)
	}
}

func TestCurrentUserSeesFreshCredits(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService()
	account, token, err := svc.SignUp(ctx, "ada@example.com", "secret123", "Ada")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if _, err := st.AdjustCredits(ctx, account.ID, -2); err != nil {
		t.Fatalf("adjust credits: %v", err)
	}
	current, err := svc.CurrentUser(ctx, token)
	if err != nil || current == nil {
		t.Fatalf("current user: %v, %v", current, err)
	}
	if current.CreditsRemaining != 1 {
		t.Fatalf("credits = %d, want 1", current.CreditsRemaining)
	}
}
