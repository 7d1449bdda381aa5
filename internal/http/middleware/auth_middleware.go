package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/groupstage/predictor-backend/internal/http/response"
	"github.com/groupstage/predictor-backend/internal/observability"
	"github.com/groupstage/predictor-backend/internal/service"
)

type contextKey string

const (
	// PrincipalContextKey holds the *Principal attached by AuthMiddleware.
	PrincipalContextKey contextKey = "principal"
)

// Principal is what a successfully validated session attaches to the
// request context, per spec.md §4.9's "attach {userId, sessionId}".
type Principal struct {
	UserID    string
	SessionID string
	Address   string
}

// AuthMiddleware implements C8: extract the bearer token, call
// ValidateSession, and optionally cross-check the request's client address
// against the session's recorded address. Grounded on the teacher's
// auth_middleware.go call shape (extract → validate → attach context), with
// JWT parsing replaced by C7's opaque-token session lookup.
func AuthMiddleware(sessions service.SessionServiceInterface, enableIPValidation, enableUserAgentValidation bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				observability.RecordSessionValidation(r.Context(), "http", "missing_token")
				response.Error(w, r, http.StatusUnauthorized, "MISSING_ACCESS_TOKEN", "missing access token", nil)
				return
			}

			sess, err := sessions.ValidateSession(r.Context(), token)
			if err != nil || sess == nil {
				observability.RecordSessionValidation(r.Context(), "http", "invalid")
				response.Error(w, r, http.StatusUnauthorized, "INVALID_OR_EXPIRED_TOKEN", "invalid or expired access token", nil)
				return
			}

			addr := clientAddress(r)
			if enableIPValidation && sess.Address != "" && addr != sess.Address {
				observability.RecordSessionValidation(r.Context(), "http", "ip_mismatch")
				response.Error(w, r, http.StatusUnauthorized, "SESSION_IP_MISMATCH", "session address mismatch", nil)
				return
			}
			if enableUserAgentValidation && sess.UserAgent != "" && r.UserAgent() != sess.UserAgent {
				observability.AuditCtx(r.Context(), "session.user_agent_mismatch", "sessionId", sess.ID, "userId", sess.UserID)
			}

			observability.RecordSessionValidation(r.Context(), "http", "valid")
			principal := &Principal{UserID: sess.UserID.String(), SessionID: sess.ID.String(), Address: addr}
			ctx := context.WithValue(r.Context(), PrincipalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin gates the admin-only endpoints (403 for a valid session
// belonging to a non-admin phone). It must run after AuthMiddleware.
func RequireAdmin(users AdminPhoneResolver, adminPhones []string) func(http.Handler) http.Handler {
	allow := make(map[string]struct{}, len(adminPhones))
	for _, p := range adminPhones {
		allow[p] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				response.Error(w, r, http.StatusUnauthorized, "MISSING_ACCESS_TOKEN", "missing access token", nil)
				return
			}
			phone, err := users.PhoneByUserID(r.Context(), principal.UserID)
			if err != nil {
				response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "admin access required", nil)
				return
			}
			if _, ok := allow[phone]; !ok {
				response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "admin access required", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AdminPhoneResolver is the minimal user lookup RequireAdmin needs, kept
// narrow to avoid a middleware -> repository dependency.
type AdminPhoneResolver interface {
	PhoneByUserID(ctx context.Context, userID string) (string, error)
}

func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(*Principal)
	return p, ok
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[len("bearer "):])
	}
	return ""
}

func clientAddress(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i != -1 {
		return host[:i]
	}
	return host
}
