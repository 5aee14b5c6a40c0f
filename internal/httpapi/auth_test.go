package httpapi

import (
	"context"
	"strings"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

type userStoreStub struct {
	users map[string]domain.UserAccount
}

func (s *userStoreStub) GetUserByUsername(_ context.Context, tenantID string, username string) (*domain.UserAccount, error) {
	user, ok := s.users[tenantID+"/"+username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return string(hash)
}

func newStubStore(t *testing.T, active bool) *userStoreStub {
	t.Helper()
	hash := hashPassword(t, "s3cret-pass")
	return &userStoreStub{users: map[string]domain.UserAccount{
		"t1/alice": {ID: "u-1", TenantID: "t1", Username: "alice", Password: hash, Role: domain.RoleManager, Active: active},
	}}
}

func TestLoginIssuesTenantScopedToken(t *testing.T) {
	manager := NewAuthManager("test-secret-key", time.Hour, newStubStore(t, true))

	resp, err := manager.Login(context.Background(), domain.LoginRequest{TenantID: "t1", Username: " Alice ", Password: "s3cret-pass"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.TenantID != "t1" || resp.Role != domain.RoleManager {
		t.Fatalf("unexpected login response: %+v", resp)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	want := domain.Actor{UserID: "u-1", TenantID: "t1", Username: "alice", Role: domain.RoleManager}
	if actor != want {
		t.Fatalf("expected actor %+v, got %+v", want, actor)
	}
}

func TestLoginRejectsWrongTenantAndPassword(t *testing.T) {
	manager := NewAuthManager("test-secret-key", time.Hour, newStubStore(t, true))

	cases := []domain.LoginRequest{
		{TenantID: "t2", Username: "alice", Password: "s3cret-pass"},
		{TenantID: "t1", Username: "alice", Password: "wrong"},
		{TenantID: "", Username: "alice", Password: "s3cret-pass"},
	}
	for _, req := range cases {
		if _, err := manager.Login(context.Background(), req); err != errInvalidCredentials {
			t.Fatalf("expected invalid credentials for %+v, got %v", req, err)
		}
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	manager := NewAuthManager("test-secret-key", time.Hour, newStubStore(t, false))
	_, err := manager.Login(context.Background(), domain.LoginRequest{TenantID: "t1", Username: "alice", Password: "s3cret-pass"})
	if err != errInactiveAccount {
		t.Fatalf("expected inactive account error, got %v", err)
	}
}

func TestParseTokenRejectsForeignSignatureAndMissingTenant(t *testing.T) {
	manager := NewAuthManager("test-secret-key", time.Hour, newStubStore(t, true))
	other := NewAuthManager("another-secret", time.Hour, newStubStore(t, true))

	resp, err := other.Login(context.Background(), domain.LoginRequest{TenantID: "t1", Username: "alice", Password: "s3cret-pass"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := manager.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}

	claims := posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "u-1",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: domain.RoleAdmin,
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte("test-secret-key"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := manager.ParseToken(token); err == nil || !strings.Contains(err.Error(), "tenant") {
		t.Fatalf("expected tenant-less token to be rejected, got %v", err)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	manager := NewAuthManager("test-secret-key", time.Hour, newStubStore(t, true))
	token, err := manager.sign(domain.UserAccount{ID: "u-1", TenantID: "t1", Role: domain.RoleCashier}, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := manager.ParseToken(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestVerifyPasswordRequiresHash(t *testing.T) {
	if verifyPassword("plain-text", "plain-text") {
		t.Fatalf("plain-text stored passwords must never verify")
	}
	hash := hashPassword(t, "pw-123456")
	if !isPasswordHash(hash) || !verifyPassword(hash, "pw-123456") {
		t.Fatalf("expected bcrypt hash to verify")
	}
}
