// Package auth verifies handshake credentials. Every channel runs this gate
// independently so abuse on one channel cannot ride an identity established
// on another.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/carelink/realtime/internal/core"
	"github.com/carelink/realtime/internal/domain"
)

type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret  []byte
	revoked core.RevocationList
}

func NewVerifier(secret string, revoked core.RevocationList) *Verifier {
	return &Verifier{secret: []byte(secret), revoked: revoked}
}

// BearerFromRequest reads the handshake credential from the auth_token query
// parameter or an Authorization: Bearer header.
func BearerFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("auth_token")); token != "" {
		return token
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz != "" && strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return strings.TrimSpace(authz[len("bearer "):])
	}
	return ""
}

// Verify resolves a raw token to an identity. Failures map onto the
// domain's authentication sentinels, whose text is the refusal reason.
func (v *Verifier) Verify(ctx context.Context, token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, domain.ErrMissingToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Identity{}, domain.ErrTokenExpired
		}
		return domain.Identity{}, domain.ErrInvalidToken
	}
	if claims.Subject == "" {
		return domain.Identity{}, domain.ErrInvalidToken
	}

	if v.revoked != nil {
		revoked, err := v.revoked.IsRevoked(ctx, token)
		if err != nil {
			// Fail closed: if the revocation store cannot answer, the
			// token is not trusted.
			log.Error().Err(err).Str("module", "auth").Msg("revocation store unreachable")
			return domain.Identity{}, domain.ErrRevocationCheck
		}
		if revoked {
			return domain.Identity{}, domain.ErrTokenRevoked
		}
	}

	return domain.Identity{
		UserID: domain.UserID(claims.Subject),
		Email:  claims.Email,
		Role:   domain.Role(claims.Role),
	}, nil
}
