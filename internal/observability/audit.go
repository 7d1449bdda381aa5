package observability

import (
	"context"
	"log/slog"
	"net/http"
)

// Audit records a non-blocking audit event tied to an HTTP request. Fraud
// signals, rate-limit crossings, and refresh-frequency anomalies are all
// logged this way instead of raising an error — they must never block the
// caller.
func Audit(r *http.Request, event string, attrs ...any) {
	base := []any{
		"event", event,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", r.Header.Get("X-Request-Id"),
	}
	base = append(base, attrs...)
	slog.InfoContext(r.Context(), "audit", base...)
}

// AuditCtx is Audit's counterpart for background call sites (worker,
// dispatcher, scheduled cleanup) that have no inbound HTTP request.
func AuditCtx(ctx context.Context, event string, attrs ...any) {
	base := append([]any{"event", event}, attrs...)
	slog.InfoContext(ctx, "audit", base...)
}
