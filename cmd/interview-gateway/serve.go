package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jetbot/interview-gateway/internal/api"
	"github.com/jetbot/interview-gateway/internal/auth"
	"github.com/jetbot/interview-gateway/internal/config"
	"github.com/jetbot/interview-gateway/internal/events"
	"github.com/jetbot/interview-gateway/internal/llm"
	"github.com/jetbot/interview-gateway/internal/observability"
	"github.com/jetbot/interview-gateway/internal/prompts"
	"github.com/jetbot/interview-gateway/internal/report"
	"github.com/jetbot/interview-gateway/internal/resilience"
	"github.com/jetbot/interview-gateway/internal/session"
	"github.com/jetbot/interview-gateway/internal/store"
	"github.com/jetbot/interview-gateway/internal/stt"
	"github.com/jetbot/interview-gateway/internal/tts"
	"github.com/jetbot/interview-gateway/internal/vision"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP, websocket and gRPC health servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if port, _ := cmd.Flags().GetString("port"); port != "" {
			cfg.Port = port
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().StringP("port", "p", "", "HTTP port (overrides PORT)")
}

func serve(parent context.Context, cfg *config.Config) error {
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("stt_provider", cfg.STTProvider).
		Str("tts_provider", cfg.TTSProvider).
		Str("answer_source", cfg.AnswerSource).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Interview gateway starting")

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	promptSet, err := prompts.Load(cfg.PromptsFile)
	if err != nil {
		return err
	}

	retry := resilience.NewRetryConfig(cfg.RetryMaxAttempts, cfg.RetryInitialBackoff)
	sttBreaker := newBreaker(cfg, "stt_"+cfg.STTProvider)
	ttsBreaker := newBreaker(cfg, "tts_"+cfg.TTSProvider)

	publisher := events.New(&events.Config{
		Enabled:         cfg.KafkaEnabled,
		Brokers:         cfg.KafkaBrokers,
		TopicTranscript: cfg.KafkaTopicTranscripts,
		TopicLifecycle:  cfg.KafkaTopicLifecycle,
	})
	defer publisher.Close()

	completer := llm.NewOpenAI(cfg.OpenAIAPIKey, newBreaker(cfg, "openai"), retry)
	if !completer.Configured() {
		logger.Warn().Msg("OPENAI_API_KEY not set; question generation and reports will fail")
	}
	analyzer, err := newAnalyzer(ctx, cfg, promptSet, logger)
	if err != nil {
		return err
	}
	defer analyzer.Close()

	questions := llm.NewQuestionGenerator(completer, promptSet, cfg.OpenAIQuestionModel, observability.WithComponent("questions"))
	reports := report.NewService(st, completer, analyzer, publisher, promptSet, cfg.OpenAIReportModel, observability.WithComponent("report"))

	authenticator := auth.NewAuthenticator(cfg.JWTSecret)
	sessions := session.NewHandler(session.Deps{
		Auth:        authenticator,
		Store:       st,
		STTDialer:   newSTTDialer(cfg),
		STTBreaker:  sttBreaker,
		Synthesizer: newSynthesizer(cfg, ttsBreaker),
		Publisher:   publisher,
		Credentials: func() error { return speechCredentials(cfg) },
	}, session.Options{
		AnswerFromClient: cfg.AnswerSource == config.AnswerSourceClient,
		MaxChunkSize:     cfg.MaxAudioChunkSize,
		STTCloseWait:     cfg.STTCloseWait(),
		Retry:            retry,
	})

	checks := []observability.HealthCheck{
		{Name: "store", Check: st.Ping},
		{Name: "speech_credentials", Check: func(context.Context) error { return speechCredentials(cfg) }},
		{Name: sttBreaker.Name(), Check: sttBreaker.Check},
		{Name: ttsBreaker.Name(), Check: ttsBreaker.Check},
	}

	router := api.NewRouter(api.Deps{
		Auth:           authenticator,
		Store:          st,
		Questions:      questions,
		Reports:        reports,
		Session:        sessions,
		ReadyChecks:    checks,
		MetricsEnabled: cfg.MetricsEnabled,
	})

	// Sessions run on this context so shutdown can end them after the
	// listener stops accepting.
	sessionCtx, cancelSessions := context.WithCancel(context.Background())
	defer cancelSessions()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return sessionCtx },
	}

	grpcHealth := observability.NewGRPCHealth(checks)
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCHealthPort))
	if err != nil {
		return fmt.Errorf("failed to listen for gRPC health on %s: %w", cfg.GRPCHealthPort, err)
	}
	go func() {
		if err := grpcHealth.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("gRPC health server stopped")
		}
	}()
	go grpcHealth.Watch(ctx, 15*time.Second)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws/interview/{interviewID}", cfg.Port)).
			Str("grpc_health_port", cfg.GRPCHealthPort).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			grpcHealth.Shutdown()
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	grpcHealth.Shutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server forced to shutdown")
	}
	cancelSessions()
	if err := sessions.Drain(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Sessions still running at shutdown deadline")
	}

	logger.Info().Msg("Server exited gracefully")
	return nil
}

// openStore connects to Postgres when DATABASE_URL is set, otherwise keeps
// records in memory.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set; interviews are kept in memory")
		return store.NewMemoryStore(), nil
	}
	pg, err := connectPostgres(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	return pg, nil
}

func connectPostgres(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*store.PostgresStore, error) {
	var pg *store.PostgresStore
	err := resilience.Reconnect(ctx, logger, "postgres", func(ctx context.Context) error {
		var err error
		pg, err = store.OpenPostgres(ctx, cfg.DatabaseURL)
		return err
	}, &resilience.ReconnectConfig{
		MaxAttempts: cfg.ReconnectMaxAttempts,
		Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pg, nil
}

func newBreaker(cfg *config.Config, service string) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(
		service,
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	).WithObserver(func(name string, state resilience.CircuitState, failed bool) {
		observability.UpdateCircuitBreakerState(name, int(state))
		if failed {
			observability.IncrementCircuitBreakerFailures(name)
		}
	})
}

func newAnalyzer(ctx context.Context, cfg *config.Config, set *prompts.Set, logger zerolog.Logger) (*vision.Gemini, error) {
	if cfg.GeminiAPIKey == "" {
		logger.Warn().Msg("GEMINI_API_KEY not set; reports use generic visual feedback")
	}
	return vision.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, set, newBreaker(cfg, "gemini"), observability.WithComponent("vision"))
}

func newSTTDialer(cfg *config.Config) stt.Dialer {
	switch cfg.STTProvider {
	case config.STTProviderDeepgram:
		return stt.NewDeepgramDialer(cfg)
	case config.STTProviderGoogle:
		return stt.NewGoogleDialer(cfg)
	}
	return stt.NewAssemblyAIDialer(cfg)
}

func newSynthesizer(cfg *config.Config, breaker *resilience.CircuitBreaker) tts.Synthesizer {
	if cfg.TTSProvider == config.TTSProviderCartesia {
		return tts.NewCartesia(cfg, breaker)
	}
	return tts.NewElevenLabs(cfg, breaker)
}

// speechCredentials reports a missing STT or TTS key. Keys are read from
// cfg at each session start.
func speechCredentials(cfg *config.Config) error {
	if cfg.STTCredential() == "" {
		return fmt.Errorf("%w: %s", session.ErrMissingCredential, cfg.STTProvider)
	}
	if cfg.TTSCredential() == "" {
		return fmt.Errorf("%w: %s", session.ErrMissingCredential, cfg.TTSProvider)
	}
	return nil
}
