// Package authn guards routes with bearer access tokens.
package authn

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"ainopay/internal/auth"
	"ainopay/internal/core"
	"ainopay/internal/log"
)

const (
	MsgMissingHeader = "Authorization header required"
	MsgBadFormat     = "Invalid authorization format"
	MsgInvalidToken  = "Invalid or expired token"
	MsgForbidden     = "Admin access required"
)

type contextKey struct{}

// TokenValidator is satisfied by *auth.TokenManager.
type TokenValidator interface {
	Validate(token string) (auth.Claims, error)
}

// ErrorWriter renders a rejected request.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, status int, message string)

type Middleware struct {
	tokens  TokenValidator
	onError ErrorWriter
	logger  *log.Logger
}

// New returns the middleware. A nil onError writes {"success":false,"error":...}.
func New(tokens TokenValidator, onError ErrorWriter, logger *log.Logger) *Middleware {
	if onError == nil {
		onError = writeError
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Middleware{tokens: tokens, onError: onError, logger: logger.WithComponent(log.ComponentAuth)}
}

// RequireAuth rejects requests without a valid "Bearer <token>" header and
// stores the claims on the request context.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			m.onError(w, r, http.StatusUnauthorized, MsgMissingHeader)
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || scheme != "Bearer" || token == "" || strings.Contains(token, " ") {
			m.onError(w, r, http.StatusUnauthorized, MsgBadFormat)
			return
		}

		claims, err := m.tokens.Validate(token)
		if err != nil {
			m.logger.DebugContext(r.Context(), "Rejected access token", log.FieldError, err)
			m.onError(w, r, http.StatusUnauthorized, MsgInvalidToken)
			return
		}

		ctx := WithClaims(r.Context(), claims)
		ctx = log.NewContext(ctx, log.FromContext(ctx).With(log.FieldUserID, claims.UserID.String()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole must run after RequireAuth.
func (m *Middleware) RequireRole(role core.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok || claims.Role != role {
				m.onError(w, r, http.StatusForbidden, MsgForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithClaims(ctx context.Context, c auth.Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

func ClaimsFromContext(ctx context.Context) (auth.Claims, bool) {
	c, ok := ctx.Value(contextKey{}).(auth.Claims)
	return c, ok
}

// UserID returns the authenticated user, or uuid.Nil outside RequireAuth.
func UserID(ctx context.Context) uuid.UUID {
	c, _ := ClaimsFromContext(ctx)
	return c.UserID
}

func writeError(w http.ResponseWriter, _ *http.Request, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": message})
}
