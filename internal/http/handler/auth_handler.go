// Package handler implements the HTTP surface (§6): thin adapters that
// decode a request, call into a service, and shape the response envelope.
// Grounded on the teacher's handler-calls-service-then-response shape
// (visible in internal/http/router's per-route wiring), reconstructed here
// since the teacher's own handler package was not present in the retrieval
// pack.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/groupstage/predictor-backend/internal/http/middleware"
	"github.com/groupstage/predictor-backend/internal/http/response"
	"github.com/groupstage/predictor-backend/internal/service"
)

type AuthHandler struct {
	auth     service.AuthServiceInterface
	sessions service.SessionServiceInterface
}

func NewAuthHandler(auth service.AuthServiceInterface, sessions service.SessionServiceInterface) *AuthHandler {
	return &AuthHandler{auth: auth, sessions: sessions}
}

type sendOTPRequest struct {
	Phone string `json:"phone"`
}

// SendOTP handles POST /auth/send-otp.
func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phone == "" {
		response.Error(w, r, http.StatusBadRequest, "INVALID_PHONE", "invalid phone", nil)
		return
	}
	if !service.ValidPhoneFormat(req.Phone) {
		response.Error(w, r, http.StatusBadRequest, "INVALID_PHONE", "invalid phone", nil)
		return
	}

	sandboxCode, err := h.auth.SendOTP(r.Context(), req.Phone, clientAddress(r), r.UserAgent())
	if err != nil {
		writeOTPError(w, r, err)
		return
	}

	body := map[string]any{"message": "OTP_SENT_SUCCESSFULLY"}
	if sandboxCode != "" {
		body["otp"] = sandboxCode
	}
	response.JSON(w, r, http.StatusOK, body)
}

type verifyOTPRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// VerifyOTP handles POST /auth/verify-otp.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phone == "" || req.Code == "" {
		response.Error(w, r, http.StatusBadRequest, "INVALID_OTP_CODE", "invalid phone or code", nil)
		return
	}

	userIDStr, err := h.auth.VerifyOTP(r.Context(), req.Phone, req.Code)
	if err != nil {
		writeOTPError(w, r, err)
		return
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}

	sess, accessToken, refreshToken, err := h.sessions.CreateSession(r.Context(), userID, clientAddress(r), r.UserAgent())
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}

	response.JSON(w, r, http.StatusOK, map[string]any{
		"accessToken":  accessToken,
		"refreshToken": refreshToken,
		"session": map[string]any{
			"id":        sess.ID,
			"userId":    sess.UserID,
			"expiresAt": sess.ExpiresAt,
		},
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh handles POST /auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		response.Error(w, r, http.StatusUnauthorized, "INVALID_OR_EXPIRED_TOKEN", "invalid refresh token", nil)
		return
	}
	accessToken, err := h.sessions.RefreshSession(r.Context(), req.RefreshToken)
	if err != nil {
		response.Error(w, r, http.StatusUnauthorized, "INVALID_OR_EXPIRED_TOKEN", "invalid refresh token", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"accessToken": accessToken})
}

// Sessions handles GET /auth/sessions.
func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "MISSING_ACCESS_TOKEN", "missing access token", nil)
		return
	}
	userID, err := uuid.Parse(principal.UserID)
	if err != nil {
		response.Error(w, r, http.StatusUnauthorized, "MISSING_ACCESS_TOKEN", "missing access token", nil)
		return
	}
	sessions, err := h.sessions.ListActiveSessions(userID)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"sessions": sessions})
}

// DeleteSession handles DELETE /auth/sessions/{id}.
func (h *AuthHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "MISSING_ACCESS_TOKEN", "missing access token", nil)
		return
	}
	userID, err := uuid.Parse(principal.UserID)
	if err != nil {
		response.Error(w, r, http.StatusUnauthorized, "MISSING_ACCESS_TOKEN", "missing access token", nil)
		return
	}
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_SESSION_ID", "invalid session id", nil)
		return
	}
	if _, err := h.sessions.DeleteSession(r.Context(), userID, sessionID); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"deleted": true})
}

// DeleteAllSessions handles DELETE /auth/sessions.
func (h *AuthHandler) DeleteAllSessions(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "MISSING_ACCESS_TOKEN", "missing access token", nil)
		return
	}
	userID, err := uuid.Parse(principal.UserID)
	if err != nil {
		response.Error(w, r, http.StatusUnauthorized, "MISSING_ACCESS_TOKEN", "missing access token", nil)
		return
	}
	n, err := h.sessions.DeleteAllUserSessions(r.Context(), userID)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"deleted": n})
}

func writeOTPError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrExceededSendLimit):
		response.Error(w, r, http.StatusTooManyRequests, "EXCEEDED_SEND_LIMIT", err.Error(), nil)
	case errors.Is(err, service.ErrPleaseWaitBeforeNextRequest):
		response.Error(w, r, http.StatusTooManyRequests, "PLEASE_WAIT_BEFORE_NEXT_REQUEST", err.Error(), nil)
	case errors.Is(err, service.ErrExceededVerificationAttempts):
		response.Error(w, r, http.StatusTooManyRequests, "EXCEEDED_VERIFICATION_ATTEMPTS", err.Error(), nil)
	case errors.Is(err, service.ErrOTPNotFoundOrExpired):
		response.Error(w, r, http.StatusBadRequest, "OTP_NOT_FOUND_OR_EXPIRED", err.Error(), nil)
	case errors.Is(err, service.ErrOTPExpired):
		response.Error(w, r, http.StatusBadRequest, "OTP_EXPIRED", err.Error(), nil)
	case errors.Is(err, service.ErrInvalidOTPCode):
		response.Error(w, r, http.StatusBadRequest, "INVALID_OTP_CODE", err.Error(), nil)
	default:
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
	}
}

func clientAddress(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host := r.RemoteAddr
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			return host[:i]
		}
	}
	return host
}
