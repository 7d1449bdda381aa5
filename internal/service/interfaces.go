package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/groupstage/predictor-backend/internal/domain"
)

// AuthServiceInterface is the phone/OTP authentication surface (C6)
// consumed by the HTTP handlers.
type AuthServiceInterface interface {
	SendOTP(ctx context.Context, phone, addr, agent string) (sandboxCode string, err error)
	VerifyOTP(ctx context.Context, phone, code string) (userID string, err error)
}

// SessionServiceInterface is the session lifecycle surface (C7) consumed by
// the HTTP handlers and the auth middleware.
type SessionServiceInterface interface {
	CreateSession(ctx context.Context, userID uuid.UUID, addr, agent string) (*domain.Session, string, string, error)
	ValidateSession(ctx context.Context, token string) (*domain.Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (string, error)
	DeleteSession(ctx context.Context, userID, sessionID uuid.UUID) (bool, error)
	DeleteAllUserSessions(ctx context.Context, userID uuid.UUID) (int64, error)
	ListActiveSessions(userID uuid.UUID) ([]domain.Session, error)
}

// SubmissionServiceInterface is the submission intake and read surface
// (C10) consumed by the prediction HTTP handlers.
type SubmissionServiceInterface interface {
	Submit(ctx context.Context, userID uuid.UUID, payload json.RawMessage) (uuid.UUID, error)
	ListResults(ctx context.Context, userID uuid.UUID) ([]domain.Result, error)
	Leaderboard(ctx context.Context, limit int) ([]domain.Result, error)
}

