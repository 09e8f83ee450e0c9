package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/operio-dev/1nproject/internal/config"
	"github.com/operio-dev/1nproject/internal/domain"
	"github.com/operio-dev/1nproject/internal/infra/logging"
)

// Identity is the authenticated caller.
type Identity struct {
	ClaimantID string
	Contact    string
}

// IdentityVerifier resolves the caller of a request.
type IdentityVerifier interface {
	Verify(r *http.Request) (Identity, error)
}

type identityKey struct{}

func withIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored by the auth middleware.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// MemberClaims is the access token issued by the identity provider.
type MemberClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier checks HS256 bearer tokens.
type JWTVerifier struct {
	secret   []byte
	issuer   string
	audience string
}

func NewJWTVerifier(cfg config.AuthConfig) *JWTVerifier {
	return &JWTVerifier{secret: []byte(cfg.JWTSecret), issuer: cfg.Issuer, audience: cfg.Audience}
}

func (v *JWTVerifier) Verify(r *http.Request) (Identity, error) {
	tok, ok := bearer(r)
	if !ok {
		return Identity{}, &domain.AuthError{Reason: "missing bearer token"}
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &MemberClaims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !tkn.Valid {
		return Identity{}, &domain.AuthError{Reason: "invalid token"}
	}
	if claims.Subject == "" {
		return Identity{}, &domain.AuthError{Reason: "token has no subject"}
	}
	return Identity{ClaimantID: claims.Subject, Contact: claims.Email}, nil
}

// Mint issues a token for claimantID. Used by the token command for local testing.
func (v *JWTVerifier) Mint(claimantID, email string, ttl time.Duration) (string, error) {
	if claimantID == "" {
		return "", errors.New("claimant id empty")
	}
	now := time.Now()
	claims := MemberClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claimantID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func bearer(r *http.Request) (string, bool) {
	hdr := r.Header.Get("Authorization")
	if len(hdr) < 7 || !strings.EqualFold(hdr[:7], "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(hdr[7:])
	return tok, tok != ""
}

// requireIdentity rejects requests without a valid identity.
func requireIdentity(v IdentityVerifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := v.Verify(r)
			if err != nil {
				writeError(w, r, nil, err)
				return
			}
			ctx := logging.WithClaimantID(withIdentity(r.Context(), id), id.ClaimantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireSecret guards operator endpoints with a shared bearer secret.
func requireSecret(secret string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, ok := bearer(r)
			if secret == "" || !ok || subtle.ConstantTimeCompare([]byte(tok), []byte(secret)) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
