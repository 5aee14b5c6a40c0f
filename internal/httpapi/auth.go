package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"retailpos/backend/internal/domain"
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInactiveAccount    = errors.New("account is inactive")
)

type AuthManager struct {
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
}

type UserStore interface {
	GetUserByUsername(ctx context.Context, tenantID string, username string) (*domain.UserAccount, error)
}

type posCustomClaims struct {
	jwtlib.RegisteredClaims
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	Username string `json:"username"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
	}
}

// Login checks the credentials against the tenant's user table. Unknown
// tenants, unknown users and wrong passwords all return the same error.
func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if tenantID == "" || username == "" {
		return domain.LoginResponse{}, errInvalidCredentials
	}

	user, err := a.userStore.GetUserByUsername(ctx, tenantID, username)
	if err != nil || user == nil {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !verifyPassword(user.Password, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !user.Active {
		return domain.LoginResponse{}, errInactiveAccount
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(*user, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        user.Role,
		TenantID:    user.TenantID,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &posCustomClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	if claims.TenantID == "" {
		return domain.Actor{}, errors.New("token carries no tenant")
	}
	return domain.Actor{
		UserID:   sub,
		TenantID: claims.TenantID,
		Username: claims.Username,
		Role:     claims.Role,
	}, nil
}

func (a *AuthManager) sign(user domain.UserAccount, expiresAt time.Time) (string, error) {
	claims := posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "retailpos",
		},
		TenantID: user.TenantID,
		Role:     user.Role,
		Username: user.Username,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
