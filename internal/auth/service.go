// Package auth signs accounts up and in, and resolves auth tokens back to
// the signed-in account.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"omniavatar/server/internal/model"
	"omniavatar/server/internal/session"
	"omniavatar/server/internal/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
)

const (
	MinPasswordLength = 6
	// StarterCredits is the balance of every new free account.
	StarterCredits = 3

	issuer = "omniavatar-server"
)

type Claims struct {
	UserID string         `json:"uid"`
	Email  string         `json:"email"`
	Role   model.UserRole `json:"role"`
	jwt.RegisteredClaims
}

type Service struct {
	store    store.Store
	sessions session.Store
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

func NewService(st store.Store, sessions session.Store, secret string, ttl time.Duration) *Service {
	return &Service{
		store:    st,
		sessions: sessions,
		secret:   []byte(secret),
		ttl:      ttl,
		now:      time.Now,
	}
}

// TTL is how long an issued token and its session stay valid.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

func (s *Service) SeedDemoUser(ctx context.Context, email, password string) error {
	return s.SeedUser(ctx, email, password, "Demo User", model.RoleUser)
}

// SeedUser creates the account unless one already exists for email.
func (s *Service) SeedUser(ctx context.Context, email, password, fullName string, role model.UserRole) error {
	if _, err := s.store.GetAccountByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	account, err := s.newAccount(email, password, fullName)
	if err != nil {
		return fmt.Errorf("seed %s: %w", email, err)
	}
	account.Role = role
	if _, err := s.store.CreateAccount(ctx, account); err != nil && !errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("seed %s: %w", email, err)
	}
	return nil
}

// SignUp creates a free account and opens a session for it.
func (s *Service) SignUp(ctx context.Context, email, password, fullName string) (*model.Account, string, error) {
	email, fullName = strings.TrimSpace(email), strings.TrimSpace(fullName)
	if email == "" || fullName == "" || len(password) < MinPasswordLength {
		return nil, "", ErrInvalidInput
	}
	account, err := s.newAccount(email, password, fullName)
	if err != nil {
		return nil, "", err
	}
	created, err := s.store.CreateAccount(ctx, account)
	if err != nil {
		return nil, "", err
	}
	token, err := s.openSession(ctx, created)
	if err != nil {
		return nil, "", err
	}
	return &created, token, nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (*model.Account, string, error) {
	email = strings.TrimSpace(email)
	if email == "" || len(password) < MinPasswordLength {
		return nil, "", ErrInvalidInput
	}
	account, err := s.store.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", ErrUnauthorized
		}
		return nil, "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrUnauthorized
	}
	token, err := s.openSession(ctx, account)
	if err != nil {
		return nil, "", err
	}
	return &account, token, nil
}

// CurrentUser resolves token to its account. A missing, expired, malformed
// or revoked token is not an error: it yields a nil account.
func (s *Service) CurrentUser(ctx context.Context, token string) (*model.Account, error) {
	claims, ok := s.parse(token)
	if !ok {
		return nil, nil
	}
	if _, found, err := s.sessions.Get(ctx, claims.ID); err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	} else if !found {
		return nil, nil
	}
	account, err := s.store.GetAccount(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// SignOut forgets the session behind token. Unknown tokens are ignored.
func (s *Service) SignOut(ctx context.Context, token string) error {
	claims, ok := s.parse(token)
	if !ok {
		return nil
	}
	return s.sessions.Clear(ctx, claims.ID)
}

func (s *Service) newAccount(email, password, fullName string) (model.Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return model.Account{}, fmt.Errorf("hash password: %w", err)
	}
	now := s.now().UTC()
	return model.Account{
		ID:                 uuid.NewString(),
		Email:              email,
		FullName:           fullName,
		PasswordHash:       string(hash),
		Role:               model.RoleUser,
		SubscriptionTier:   model.TierFree,
		SubscriptionStatus: model.StatusActive,
		BillingCycle:       model.CycleMonthly,
		CreditsRemaining:   StarterCredits,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

func (s *Service) openSession(ctx context.Context, account model.Account) (string, error) {
	now := s.now().UTC()
	sessionID := uuid.NewString()
	claims := Claims{
		UserID: account.ID,
		Email:  account.Email,
		Role:   account.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   account.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        sessionID,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	if err := s.sessions.Set(ctx, sessionID, account); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return token, nil
}

func (s *Service) parse(tokenString string) (Claims, bool) {
	if tokenString == "" {
		return Claims{}, false
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return Claims{}, false
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.ID == "" || claims.UserID == "" {
		return Claims{}, false
	}
	return *claims, true
}
