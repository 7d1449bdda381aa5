// Package router wires the HTTP surface (§6) onto a chi mux, grounded on
// the teacher's chi-based router: global middleware chain, then route
// groups with per-group middleware (auth, rate limiting).
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/groupstage/predictor-backend/internal/http/handler"
	"github.com/groupstage/predictor-backend/internal/http/middleware"
	"github.com/groupstage/predictor-backend/internal/http/response"
	"github.com/groupstage/predictor-backend/internal/service"
)

type Dependencies struct {
	AuthHandler       *handler.AuthHandler
	PredictionHandler *handler.PredictionHandler
	AdminHandler      *handler.AdminHandler

	Sessions                  service.SessionServiceInterface
	AdminPhones               []string
	AdminPhoneResolver        middleware.AdminPhoneResolver
	EnableIPValidation        bool
	EnableUserAgentValidation bool

	APIRateLimitRPM  int
	AuthRateLimitRPM int

	EnableOTelHTTP bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewRateLimiter("api", dep.APIRateLimitRPM, time.Minute).Middleware())

	authLimiter := middleware.NewRateLimiterWithKey("auth", dep.AuthRateLimitRPM, time.Minute, middleware.PrincipalOrIPKeyFunc).Middleware()
	authed := middleware.AuthMiddleware(dep.Sessions, dep.EnableIPValidation, dep.EnableUserAgentValidation)
	admin := middleware.RequireAdmin(dep.AdminPhoneResolver, dep.AdminPhones)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/auth", func(r chi.Router) {
		r.With(authLimiter).Post("/send-otp", dep.AuthHandler.SendOTP)
		r.With(authLimiter).Post("/verify-otp", dep.AuthHandler.VerifyOTP)
		r.With(authLimiter).Post("/refresh", dep.AuthHandler.Refresh)
		r.Group(func(r chi.Router) {
			r.Use(authed)
			r.Get("/sessions", dep.AuthHandler.Sessions)
			r.Delete("/sessions", dep.AuthHandler.DeleteAllSessions)
			r.Delete("/sessions/{id}", dep.AuthHandler.DeleteSession)
		})
	})

	r.Route("/prediction", func(r chi.Router) {
		r.Get("/teams", dep.PredictionHandler.Teams)
		r.Get("/leaderboard", dep.PredictionHandler.Leaderboard)
		r.Group(func(r chi.Router) {
			r.Use(authed)
			r.Post("/", dep.PredictionHandler.Submit)
			r.Get("/result", dep.PredictionHandler.Results)
		})
		r.Route("/admin", func(r chi.Router) {
			r.Use(authed)
			r.Use(admin)
			r.Post("/trigger-prediction-process", dep.AdminHandler.TriggerPredictionProcess)
			r.Get("/processing-status", dep.AdminHandler.ProcessingStatus)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
