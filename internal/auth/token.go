// ABOUTME: HS256 tokens identifying host administrators
// ABOUTME: Read from a Bearer header or the mrwp_admin cookie

package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AdminCookieName holds an admin token for browser sessions.
const AdminCookieName = "mrwp_admin"

// MinSecretLength is the shortest accepted signing secret.
const MinSecretLength = 32

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrNotAdmin     = errors.New("role is not admin or owner")
	ErrShortSecret  = fmt.Errorf("admin token secret must be at least %d bytes", MinSecretLength)
)

// AdminTokens issues and verifies administrator tokens.
type AdminTokens struct {
	secret []byte
	now    func() time.Time
}

// NewAdminTokens creates a token verifier with the given secret.
func NewAdminTokens(secret []byte) (*AdminTokens, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrShortSecret
	}
	return &AdminTokens{secret: secret, now: time.Now}, nil
}

// Verify validates tokenString and returns the administrator it names.
func (v *AdminTokens) Verify(tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	role, _ := claims["role"].(string)
	if !isAdminRole(role) {
		return nil, ErrNotAdmin
	}

	return &Identity{Method: MethodAdmin, Subject: sub, Role: role}, nil
}

// Generate mints a token for subject with the given role.
func (v *AdminTokens) Generate(subject, role string, expiresIn time.Duration) (string, error) {
	if !isAdminRole(role) {
		return "", ErrNotAdmin
	}
	now := v.now()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"iat":  now.Unix(),
		"exp":  now.Add(expiresIn).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// FromRequest returns the administrator presenting a token on r, or nil.
// A Bearer header takes precedence over the cookie.
func (v *AdminTokens) FromRequest(r *http.Request) *Identity {
	if v == nil {
		return nil
	}
	var raw string
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		raw = strings.TrimPrefix(h, "Bearer ")
	} else if c, err := r.Cookie(AdminCookieName); err == nil {
		raw = c.Value
	}
	if raw == "" {
		return nil
	}
	id, err := v.Verify(raw)
	if err != nil {
		return nil
	}
	return id
}
