// Package api exposes the REST endpoints and mounts the interview websocket.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jetbot/interview-gateway/internal/auth"
	"github.com/jetbot/interview-gateway/internal/observability"
	"github.com/jetbot/interview-gateway/internal/store"
)

// maxBodyBytes bounds request bodies; frame uploads are the largest.
const maxBodyBytes = 16 << 20

// QuestionPlanner generates questions for a new interview.
type QuestionPlanner interface {
	Generate(ctx context.Context, jd, difficulty string) ([]string, error)
}

// ReportService creates and reads reports.
type ReportService interface {
	Create(ctx context.Context, interviewID string) (*store.Report, bool, error)
	Get(ctx context.Context, interviewID string) (*store.Report, error)
}

// Deps are the collaborators behind the router.
type Deps struct {
	Auth      *auth.Authenticator
	Store     store.InterviewStore
	Questions QuestionPlanner
	Reports   ReportService
	// Session serves /ws/interview/{interviewID}.
	Session        http.Handler
	ReadyChecks    []observability.HealthCheck
	MetricsEnabled bool
}

type server struct {
	deps   Deps
	logger zerolog.Logger
}

// NewRouter builds the HTTP surface.
func NewRouter(deps Deps) http.Handler {
	s := &server{deps: deps, logger: observability.WithComponent("api")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", observability.HealthCheckHandler())
	r.Get("/ready", observability.ReadinessHandler(deps.ReadyChecks...))
	if deps.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	if deps.Session != nil {
		r.Handle("/ws/interview/{interviewID}", deps.Session)
	}

	r.Route("/api/interviews", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/", s.handleScheduleInterview)
		r.Route("/{interviewID}", func(r chi.Router) {
			r.Get("/", s.handleGetInterview)
			r.Post("/frames", s.handleUploadFrames)
			r.Post("/report", s.handleCreateReport)
			r.Get("/report", s.handleGetReport)
		})
	})
	return r
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		event := s.logger.Debug()
		if status >= http.StatusInternalServerError {
			event = s.logger.Warn()
		}
		event.
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

type identityKey struct{}

func (s *server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.deps.Auth.Authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), identityKey{}, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFrom(ctx context.Context) auth.Identity {
	id, _ := ctx.Value(identityKey{}).(auth.Identity)
	return id
}
