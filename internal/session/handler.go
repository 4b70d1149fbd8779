package session

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jetbot/interview-gateway/internal/auth"
	"github.com/jetbot/interview-gateway/internal/observability"
	"github.com/jetbot/interview-gateway/internal/resilience"
	"github.com/jetbot/interview-gateway/internal/store"
	"github.com/jetbot/interview-gateway/internal/stt"
	"github.com/jetbot/interview-gateway/internal/tts"
)

// Deps are the collaborators shared by every session.
type Deps struct {
	Auth        *auth.Authenticator
	Store       store.InterviewStore
	STTDialer   stt.Dialer
	STTBreaker  *resilience.CircuitBreaker
	Synthesizer tts.Synthesizer
	Publisher   Publisher
	// Credentials returns ErrMissingCredential when a speech provider key
	// is not configured.
	Credentials func() error
}

// rejection is a connect-time refusal delivered after the upgrade so the
// client sees both an error frame and the close code.
type rejection struct {
	code    int
	reason  string
	message string
}

// Handler accepts interview websocket connections at
// /ws/interview/{interviewID}.
type Handler struct {
	deps     Deps
	opts     Options
	upgrader websocket.Upgrader
	logger   zerolog.Logger
	active   sync.WaitGroup
}

func NewHandler(deps Deps, opts Options) *Handler {
	return &Handler{
		deps: deps,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from the web app origin; callers are
			// authenticated by token.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: observability.WithComponent("session"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	interviewID := chi.URLParam(r, "interviewID")
	identity, iv, rej := h.authorize(r, interviewID)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("interview_id", interviewID).Msg("Failed to upgrade connection to WebSocket")
		return
	}

	if rej != nil {
		observability.RecordSessionRejected(rej.reason)
		h.logger.Info().
			Str("interview_id", interviewID).
			Str("reason", rej.reason).
			Int("close_code", rej.code).
			Msg("Interview session rejected")
		conn.WriteJSON(noticeMessage{Type: TypeError, Message: rej.message})
		closeConn(conn, rej.code, rej.reason)
		return
	}

	// Room for oversize frames so they can be dropped instead of failing
	// the connection.
	conn.SetReadLimit(int64(h.opts.MaxChunkSize)*4 + 64*1024)

	h.active.Add(1)
	defer h.active.Done()

	logger := observability.SessionLogger(observability.NewCorrelationID(), iv.ID, identity.UserID)
	ctrl := NewController(conn, iv, h.deps, h.opts, logger)
	if err := ctrl.Run(r.Context()); err != nil {
		logger.Error().Err(err).Msg("Interview session ended with error")
	}
}

// Drain waits for running sessions to finish or ctx to end. Callers cancel
// the sessions' base context first so each one tears down and persists.
func (h *Handler) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// authorize decides whether the caller may run the interview. Nothing
// upstream is opened here.
func (h *Handler) authorize(r *http.Request, interviewID string) (auth.Identity, *store.Interview, *rejection) {
	identity, err := h.deps.Auth.Authenticate(r)
	if err != nil {
		return identity, nil, &rejection{CloseUnauthorized, "unauthorized", "Unauthorized"}
	}
	if !identity.Role.CanTakeInterview() {
		return identity, nil, &rejection{CloseUnauthorized, "not_student", "Only students can take interviews"}
	}

	iv, err := h.deps.Store.GetInterview(r.Context(), interviewID)
	if errors.Is(err, store.ErrNotFound) {
		return identity, nil, &rejection{CloseNotFound, "not_found", "Interview not found"}
	}
	if err != nil {
		h.logger.Error().Err(err).Str("interview_id", interviewID).Msg("Failed to load interview")
		return identity, nil, &rejection{CloseUpstreamFailed, "store_error", "Failed to load interview"}
	}
	if !identity.CanAccess(iv.StudentID) {
		return identity, nil, &rejection{CloseForbidden, "forbidden", "Interview belongs to another user"}
	}
	if len(iv.Questions) == 0 {
		return identity, nil, &rejection{CloseNoQuestions, "no_questions", ErrNoQuestions.Error()}
	}

	if h.deps.Credentials != nil {
		if err := h.deps.Credentials(); err != nil {
			return identity, nil, &rejection{CloseUpstreamFailed, "missing_credential", err.Error()}
		}
	}
	return identity, iv, nil
}
