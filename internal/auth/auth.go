// Package auth validates caller tokens and models caller roles.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
	ErrForbidden    = errors.New("forbidden")
)

// Role is the closed set of caller roles.
type Role int

const (
	RoleUnknown Role = iota
	RoleStudent
	RoleAdmin
	RoleSuperAdmin
)

// ParseRole maps a claim value onto a Role.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "student":
		return RoleStudent
	case "admin":
		return RoleAdmin
	case "super_admin":
		return RoleSuperAdmin
	default:
		return RoleUnknown
	}
}

func (r Role) String() string {
	switch r {
	case RoleStudent:
		return "student"
	case RoleAdmin:
		return "admin"
	case RoleSuperAdmin:
		return "super_admin"
	default:
		return "unknown"
	}
}

// CanTakeInterview reports whether the role may run interview sessions and
// schedule interviews for itself.
func (r Role) CanTakeInterview() bool {
	return r == RoleStudent
}

// CanReviewAny reports whether the role may read any student's interviews
// and reports.
func (r Role) CanReviewAny() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Identity is an authenticated caller.
type Identity struct {
	UserID string
	Role   Role
}

// CanAccess reports whether the caller may read the interview owned by ownerID.
func (id Identity) CanAccess(ownerID string) bool {
	return id.UserID == ownerID || id.Role.CanReviewAny()
}

// Claims is the token payload.
type Claims struct {
	jwt.RegisteredClaims

	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Authenticator validates HS256 tokens.
type Authenticator struct {
	secret []byte
	parser *jwt.Parser
}

// NewAuthenticator creates an authenticator for tokens signed with secret.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Authenticate reads the token from the Authorization header, falling back
// to the "token" query parameter used by browser websocket clients.
func (a *Authenticator) Authenticate(r *http.Request) (Identity, error) {
	token, err := extractBearer(r)
	if errors.Is(err, ErrMissingToken) {
		token = r.URL.Query().Get("token")
		if token == "" {
			return Identity{}, ErrMissingToken
		}
	} else if err != nil {
		return Identity{}, err
	}
	return a.Verify(token)
}

// Verify validates a raw token string.
func (a *Authenticator) Verify(token string) (Identity, error) {
	claims := &Claims{}
	_, err := a.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return Identity{}, ErrInvalidToken
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return Identity{}, ErrInvalidToken
	}

	return Identity{UserID: userID, Role: ParseRole(claims.Role)}, nil
}

// Issue signs a token for id valid for ttl.
func (a *Authenticator) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: id.UserID,
		Role:   id.Role.String(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func extractBearer(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}
