package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/groupstage/predictor-backend/internal/http/middleware"
	"github.com/groupstage/predictor-backend/internal/http/response"
	"github.com/groupstage/predictor-backend/internal/repository"
	"github.com/groupstage/predictor-backend/internal/service"
)

type PredictionHandler struct {
	submissions service.SubmissionServiceInterface
	teams       repository.TeamRepository
}

func NewPredictionHandler(submissions service.SubmissionServiceInterface, teams repository.TeamRepository) *PredictionHandler {
	return &PredictionHandler{submissions: submissions, teams: teams}
}

// Teams handles GET /prediction/teams.
func (h *PredictionHandler) Teams(w http.ResponseWriter, r *http.Request) {
	teams, err := h.teams.List()
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"teams": teams})
}

type submitRequest struct {
	Predict json.RawMessage `json:"predict"`
}

// Submit handles POST /prediction.
func (h *PredictionHandler) Submit(w http.ResponseWriter, r *http.Request) {
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

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Predict) == 0 {
		response.Error(w, r, http.StatusBadRequest, "INVALID_PREDICTION_FORMAT", "invalid prediction payload", nil)
		return
	}

	predictionID, err := h.submissions.Submit(r.Context(), userID, req.Predict)
	if err != nil {
		if errors.Is(err, service.ErrEmptySubmissionPayload) {
			response.Error(w, r, http.StatusBadRequest, "INVALID_PREDICTION_FORMAT", err.Error(), nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}
	response.JSON(w, r, http.StatusCreated, map[string]any{"predictionId": predictionID})
}

// Results handles GET /prediction/result.
func (h *PredictionHandler) Results(w http.ResponseWriter, r *http.Request) {
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
	results, err := h.submissions.ListResults(r.Context(), userID)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"results": results})
}

type leaderboardRow struct {
	Rank        int       `json:"rank"`
	UserID      uuid.UUID `json:"userId"`
	TotalScore  int       `json:"totalScore"`
	ProcessedAt any       `json:"processedAt"`
}

// Leaderboard handles GET /prediction/leaderboard?limit=.
func (h *PredictionHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	results, err := h.submissions.Leaderboard(r.Context(), limit)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}
	rows := make([]leaderboardRow, 0, len(results))
	for i, res := range results {
		rows = append(rows, leaderboardRow{
			Rank:        i + 1,
			UserID:      res.UserID,
			TotalScore:  res.TotalScore,
			ProcessedAt: res.ProcessedAt,
		})
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"leaderboard": rows})
}
