package admin

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Shavakan/masterlock/pkg/logging"
)

var adminAuthLog = logging.WithComponent(logging.LogTypeAdmin, "auth")

// Scope is what an admin token allows.
type Scope string

const (
	// ScopeRead allows status queries only.
	ScopeRead Scope = "read"
	// ScopeControl allows status queries and lifecycle actions.
	ScopeControl Scope = "control"
)

// AuthMiddleware authenticates admin requests with bearer tokens derived from
// a shared secret: hex(HMAC-SHA256(secret, "masterlock:" + scope)). A control
// token is accepted wherever a read token is.
type AuthMiddleware struct {
	secret  string
	enabled bool
}

// NewAuthMiddleware creates authentication middleware for admin endpoints.
// If secret is empty, authentication is disabled.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{
		secret:  secret,
		enabled: secret != "",
	}
}

// Require returns an http.Handler that calls next only for requests carrying
// a token valid for scope. Read-scoped routes also accept the token in the
// "token" query parameter so the status page can be opened in a browser.
func (m *AuthMiddleware) Require(scope Scope, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" && scope == ScopeRead {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			adminAuthLog.Warn("admin auth failed: missing token", slog.String(logging.KeyRemoteAddr, r.RemoteAddr))
			http.Error(w, "Unauthorized: missing admin token", http.StatusUnauthorized)
			return
		}

		granted, ok := m.scopeOf(token)
		if !ok {
			adminAuthLog.Warn("admin auth failed: invalid token", slog.String(logging.KeyRemoteAddr, r.RemoteAddr))
			http.Error(w, "Unauthorized: invalid admin token", http.StatusUnauthorized)
			return
		}
		if scope == ScopeControl && granted != ScopeControl {
			adminAuthLog.Warn("admin auth failed: read token used for control action",
				slog.String(logging.KeyRemoteAddr, r.RemoteAddr),
				slog.String(logging.KeyAction, r.URL.Path),
			)
			http.Error(w, "Forbidden: admin token is read-only", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireFunc is Require for an http.HandlerFunc.
func (m *AuthMiddleware) RequireFunc(scope Scope, next http.HandlerFunc) http.Handler {
	return m.Require(scope, next)
}

// IsEnabled returns whether authentication is enabled.
func (m *AuthMiddleware) IsEnabled() bool {
	return m.enabled
}

// Token returns the bearer token for scope under the configured secret.
func (m *AuthMiddleware) Token(scope Scope) string {
	return hex.EncodeToString(m.mac(scope))
}

func (m *AuthMiddleware) mac(scope Scope) []byte {
	h := hmac.New(sha256.New, []byte(m.secret))
	h.Write([]byte("masterlock:" + string(scope)))
	return h.Sum(nil)
}

// scopeOf reports which scope token was minted for.
func (m *AuthMiddleware) scopeOf(token string) (Scope, bool) {
	provided, err := hex.DecodeString(token)
	if err != nil {
		return "", false
	}
	for _, scope := range []Scope{ScopeControl, ScopeRead} {
		if subtle.ConstantTimeCompare(m.mac(scope), provided) == 1 {
			return scope, true
		}
	}
	return "", false
}

func bearerToken(r *http.Request) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
