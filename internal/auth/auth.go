// Package auth turns a bearer credential into a session.Identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/session"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*session.Identity, error)
}

type Claims struct {
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier accepts HS256 tokens signed by the identity provider. The subject is the user id.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTVerifier(secret string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &JWTVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(30*time.Second),
		),
	}, nil
}

func (v *JWTVerifier) Authenticate(_ context.Context, token string) (*session.Identity, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	var claims Claims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	role := session.Role(claims.Role)
	if role == "" {
		role = session.RoleStudent
	}
	return &session.Identity{
		ID:        claims.Subject,
		Email:     claims.Email,
		Role:      role,
		Name:      claims.Name,
		AvatarURL: claims.AvatarURL,
	}, nil
}

// Sign issues a token for id. The server only verifies tokens; this exists for
// local tooling and tests.
func Sign(secret string, id session.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:     id.Email,
		Role:      string(id.Role),
		Name:      id.Name,
		AvatarURL: id.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// TokenFromRequest reads the Authorization header, falling back to the access_token
// query parameter that browser websocket clients use.
func TokenFromRequest(r *http.Request) string {
	if tok := BearerToken(r.Header.Get("Authorization")); tok != "" {
		return tok
	}
	return r.URL.Query().Get("access_token")
}

// Static maps fixed tokens to identities. Handy in tests and local runs with STORE_DRIVER=memory.
type Static map[string]session.Identity

func (s Static) Authenticate(_ context.Context, token string) (*session.Identity, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	id, ok := s[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	return &id, nil
}
