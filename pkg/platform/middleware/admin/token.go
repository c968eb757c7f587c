package admin

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "rollcall/pkg/domain-errors"
)

const (
	tokenIssuer    = "rollcall"
	minSecretBytes = 32
)

// OperatorTokens issues and verifies HS256 operator tokens. The subject claim
// names the operator, so a bearer token pins the actor recorded on audits.
type OperatorTokens struct {
	key []byte
	now func() time.Time
}

func NewOperatorTokens(secret string) (*OperatorTokens, error) {
	if len(secret) < minSecretBytes {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "operator token secret must be at least 32 bytes")
	}
	return &OperatorTokens{key: []byte(secret), now: time.Now}, nil
}

// Issue signs a token for actor valid for ttl.
func (t *OperatorTokens) Issue(actor string, ttl time.Duration) (string, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return "", dErrors.New(dErrors.CodeValidation, "actor is required")
	}
	if ttl <= 0 {
		return "", dErrors.New(dErrors.CodeValidation, "ttl must be positive")
	}
	now := t.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   actor,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	})
	return token.SignedString(t.key)
}

// Verify returns the operator named by raw.
func (t *OperatorTokens) Verify(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return t.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", dErrors.New(dErrors.CodeUnauthorized, "operator token has expired")
		}
		return "", dErrors.New(dErrors.CodeUnauthorized, "invalid operator token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", dErrors.New(dErrors.CodeUnauthorized, "operator token has no subject")
	}
	return claims.Subject, nil
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
