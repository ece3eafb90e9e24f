// Package api exposes the pipelines over HTTP using Hasura Actions request
// bodies ({"input": {...}}).
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/vocallabs/llm-batch/internal/auth"
	"github.com/vocallabs/llm-batch/internal/model"
	"github.com/vocallabs/llm-batch/internal/pipeline"
)

// Runner runs the batch pipelines. *pipeline.Orchestrator satisfies it.
type Runner interface {
	TransformAndWriteBack(ctx context.Context, groupID, language string) (*model.BatchSummary, error)
	ToggleStatusPass(ctx context.Context) (*model.BatchSummary, error)
	EvaluateAndWriteBack(ctx context.Context, agentID string, dr pipeline.DateRange, premium bool) (*model.BatchSummary, error)
	EvaluateCall(ctx context.Context, agentID, callID string, premium bool) (*model.BatchSummary, error)
}

// Authenticator validates the Authorization header for a client.
type Authenticator interface {
	Validate(authHeader, clientID string) (*auth.Claims, error)
}

// Server holds the handler dependencies.
type Server struct {
	runner Runner
	auth   Authenticator
}

// NewRouter builds the HTTP handler.
func NewRouter(runner Runner, authn Authenticator) http.Handler {
	s := &Server{runner: runner, auth: authn}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/process-prospects", s.handleProcessProspects)
	r.Post("/toggle-campaigns", s.handleToggleCampaigns)
	r.Post("/admin-vocallabs", s.handleAdminVocallabs)
	r.Post("/evaluate-calls", s.handleEvaluateCalls)

	return r
}

// requestLogger logs one line per request with the zap global logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
