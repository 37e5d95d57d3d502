// Package auth guards the MCP surface. It accepts either a gateway-issued
// HS256 access token or a statically configured bearer token, and rejects
// everything else when authentication is required.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/daydreamer-ai/daydreamer-memory/pkg/logger"
)

type contextKey string

const principalKey contextKey = "auth.principal"

// AnonymousPrincipal names requests admitted without credentials.
const AnonymousPrincipal = "anonymous"

// WithPrincipal returns a context carrying the authenticated principal.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey, principal)
}

// PrincipalFromContext returns the authenticated principal, or the anonymous
// principal when the request was admitted without credentials.
func PrincipalFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(principalKey).(string); ok && v != "" {
		return v
	}
	return AnonymousPrincipal
}

// Config captures the gatekeeper settings.
type Config struct {
	// RequireAuth rejects unauthenticated requests when true.
	RequireAuth bool

	// StaticTokens are pre-shared bearer tokens. Empty entries are skipped.
	// The first configured token wins for principal naming.
	StaticTokens []string

	// JWTSecret is the HS256 signing key shared with the authorization
	// server. Empty disables JWT acceptance.
	JWTSecret []byte

	// Issuer and Audience are matched against the token claims exactly.
	Issuer   string
	Audience string

	// ResourceMetadataURL is advertised in WWW-Authenticate challenges.
	ResourceMetadataURL string
}

// Validator authenticates incoming MCP requests.
type Validator struct {
	cfg Config
}

// NewValidator creates a Validator from config.
func NewValidator(cfg Config) *Validator {
	return &Validator{cfg: cfg}
}

// Middleware authenticates the request and stores the principal in the
// request context. CORS preflights pass through untouched.
func (v *Validator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			if !v.cfg.RequireAuth {
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), AnonymousPrincipal)))
				return
			}
			v.unauthorized(w, "missing bearer token")
			return
		}

		principal, err := v.Authenticate(token)
		if err != nil {
			logger.Debugw("authentication rejected", "peer", r.RemoteAddr, "error", err)
			v.unauthorized(w, "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// Authenticate checks a bearer token against the static tokens and, when a
// signing key is configured, against the JWT contract. It returns the
// principal on success.
func (v *Validator) Authenticate(token string) (string, error) {
	for _, static := range v.cfg.StaticTokens {
		if static == "" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(static)) == 1 {
			return "static-bearer", nil
		}
	}

	if len(v.cfg.JWTSecret) > 0 {
		sub, err := v.validateJWT(token)
		if err != nil {
			return "", err
		}
		return sub, nil
	}

	return "", fmt.Errorf("token does not match any configured credential")
}

// Claims is the access token claim set. Every field is mandatory.
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

func (v *Validator) validateJWT(raw string) (string, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return v.cfg.JWTSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithAudience(v.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	if !parsed.Valid {
		return "", fmt.Errorf("token is invalid")
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("token is missing the sub claim")
	}
	if claims.ID == "" {
		return "", fmt.Errorf("token is missing the jti claim")
	}
	if claims.IssuedAt == nil {
		return "", fmt.Errorf("token is missing the iat claim")
	}
	if claims.Scope == "" {
		return "", fmt.Errorf("token is missing the scope claim")
	}
	return claims.Subject, nil
}

func (v *Validator) unauthorized(w http.ResponseWriter, detail string) {
	challenge := `Bearer error="invalid_token"`
	if v.cfg.ResourceMetadataURL != "" {
		challenge = fmt.Sprintf(`Bearer error="invalid_token", resource_metadata=%q`, v.cfg.ResourceMetadataURL)
	}
	w.Header().Set("WWW-Authenticate", challenge)
	http.Error(w, detail, http.StatusUnauthorized)
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
