// Package main is the entry point for the voice survey server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-survey/internal/completion"
	"github.com/capitalize-ai/voice-survey/internal/config"
	"github.com/capitalize-ai/voice-survey/internal/handler"
	"github.com/capitalize-ai/voice-survey/internal/llm"
	"github.com/capitalize-ai/voice-survey/internal/middleware"
	natsclient "github.com/capitalize-ai/voice-survey/internal/nats"
	"github.com/capitalize-ai/voice-survey/internal/reaper"
	"github.com/capitalize-ai/voice-survey/internal/responses"
	"github.com/capitalize-ai/voice-survey/internal/service"
	"github.com/capitalize-ai/voice-survey/internal/speech"
	"github.com/capitalize-ai/voice-survey/internal/store"
	"github.com/capitalize-ai/voice-survey/internal/survey"
	"github.com/capitalize-ai/voice-survey/internal/turn"
	"github.com/capitalize-ai/voice-survey/pkg/logger"
	"github.com/capitalize-ai/voice-survey/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}
	if err := reaper.ValidateSchedule(cfg.ReapSchedule); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	log.Info("starting voice survey server", zap.String("env", cfg.Environment))

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "voice-survey", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	checks := map[string]handler.Pinger{}

	// NATS is only needed when responses go to JetStream
	var natsClient *natsclient.Client
	if cfg.ResponseBackend == config.BackendJetStream {
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()
		checks["nats"] = natsClient
	}

	// Conversation state
	conversations, err := newConversationStore(ctx, cfg, checks, log)
	if err != nil {
		log.Fatal("failed to initialize conversation store", zap.Error(err))
	}

	// Survey responses
	responseStore, err := newResponseStore(ctx, cfg, natsClient, log)
	if err != nil {
		log.Fatal("failed to initialize response store", zap.Error(err))
	}
	recorder := completion.NewRecorder(responseStore, log)

	// Turn generator
	llmClient, err := newLLMClient(cfg)
	if err != nil {
		log.Fatal("failed to create LLM client", zap.Error(err))
	}
	generator := turn.NewGenerator(llmClient, turn.Config{
		Model:     cfg.LLMModel,
		MaxTokens: cfg.LLMMaxTokens,
		Timeout:   cfg.LLMTimeout,
	}, log)

	// Speech output
	speaker, audioHandler, err := newSpeaker(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize speech output", zap.Error(err))
	}

	// Initialize services
	callSvc := service.NewCallService(
		survey.NewDirRepository(cfg.SurveyDir),
		conversations,
		generator,
		speaker,
		recorder,
		service.Config{
			MaxTurns:       cfg.MaxTurns,
			MaxSilentTurns: cfg.MaxSilentTurns,
			Deadline:       cfg.CallDeadline,
		},
		log,
	)

	orphanReaper := reaper.New(conversations, cfg.MaxCallDuration, log)
	if err := orphanReaper.Start(cfg.ReapSchedule); err != nil {
		log.Fatal("failed to start reaper", zap.Error(err))
	}

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(checks)
	voiceHandler := handler.NewVoiceHandler(callSvc, cfg.TurnURL, cfg.SpeechLanguage, log)
	operatorHandler := handler.NewOperatorHandler(callSvc, recorder, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Locally hosted synthesized audio
	if audioHandler != nil {
		r.Handle(speech.AudioRoute+"*", audioHandler)
	}

	// Carrier webhooks
	r.Route("/voice/calls", func(r chi.Router) {
		r.Use(middleware.TwilioSignature(cfg.TwilioAuthToken, cfg.PublicBaseURL, log))
		r.Use(middleware.CarrierRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow, voiceHandler.Overloaded))

		r.Post("/", voiceHandler.NewCall)
		r.Post("/turn", voiceHandler.Turn)
		r.Post("/status", voiceHandler.Status)
	})

	// Operator API with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CORS())
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.With(middleware.RequireScope(middleware.ScopeResponsesRead)).
			Get("/surveys/{surveyID}/responses", operatorHandler.ListResponses)

		r.Route("/calls", func(r chi.Router) {
			r.With(middleware.RequireScope(middleware.ScopeCallsRead)).Get("/", operatorHandler.ListCalls)
			r.With(middleware.RequireScope(middleware.ScopeCallsWrite)).Delete("/{callID}", operatorHandler.DropCall)
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	orphanReaper.Stop(shutdownCtx)

	log.Info("server stopped")
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	if cfg.Environment == "development" {
		return logger.NewDevelopment()
	}
	return logger.New(cfg.LogLevel)
}

func newConversationStore(ctx context.Context, cfg *config.Config, checks map[string]handler.Pinger, log *logger.Logger) (store.ConversationStore, error) {
	if cfg.ConversationBackend != config.BackendRedis {
		return store.NewMemoryStore(), nil
	}

	client, err := store.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	redisStore := store.NewRedisStore(client, store.RedisConfig{
		Prefix:          cfg.RedisPrefix,
		MaxCallDuration: cfg.MaxCallDuration,
		Logger:          log,
	})
	checks["redis"] = redisStore
	return redisStore, nil
}

func newResponseStore(ctx context.Context, cfg *config.Config, nc *natsclient.Client, log *logger.Logger) (responses.Store, error) {
	if cfg.ResponseBackend != config.BackendJetStream {
		files, err := responses.NewFileStore(cfg.ResponseDir)
		if err != nil {
			return nil, err
		}
		return files, nil
	}

	stream := natsclient.NewResponseStream(nc, log)
	if err := stream.EnsureStream(ctx); err != nil {
		return nil, fmt.Errorf("ensure response stream: %w", err)
	}
	return stream, nil
}

func newLLMClient(cfg *config.Config) (llm.Client, error) {
	provider := llm.Provider(cfg.DefaultLLM)
	apiKey := cfg.AnthropicAPIKey
	if provider == llm.ProviderOpenAI {
		apiKey = cfg.OpenAIAPIKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no API key configured for %s", provider)
	}
	return llm.NewClient(provider, apiKey, cfg.LLMBaseURL)
}

// newSpeaker builds the speech adapter. The returned handler serves locally
// stored audio and is nil for other backends.
func newSpeaker(ctx context.Context, cfg *config.Config, log *logger.Logger) (*speech.Adapter, http.Handler, error) {
	speechCfg := speech.Config{
		FallbackVoice: cfg.FallbackVoice,
		Language:      cfg.SpeechLanguage,
		Timeout:       cfg.SpeechTimeout,
	}

	if cfg.ElevenLabsAPIKey == "" || cfg.ElevenLabsVoiceID == "" {
		log.Warn("ElevenLabs not configured, every utterance uses the fallback voice")
		return speech.NewAdapter(nil, nil, speechCfg, log), nil, nil
	}

	synth := speech.NewElevenLabs(speech.ElevenLabsConfig{
		APIKey:  cfg.ElevenLabsAPIKey,
		VoiceID: cfg.ElevenLabsVoiceID,
		ModelID: cfg.ElevenLabsModelID,
	}, &http.Client{Timeout: cfg.SpeechTimeout})

	if cfg.AudioBackend == config.BackendS3 {
		audio, err := speech.NewS3AudioStore(ctx, speech.S3AudioConfig{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			Prefix:          cfg.S3Prefix,
			PublicBaseURL:   cfg.S3PublicBaseURL,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
		})
		if err != nil {
			return nil, nil, err
		}
		return speech.NewAdapter(synth, audio, speechCfg, log), nil, nil
	}

	if cfg.PublicBaseURL == "" {
		log.Warn("PUBLIC_BASE_URL is empty, locally hosted audio is disabled and the fallback voice is used")
		return speech.NewAdapter(nil, nil, speechCfg, log), nil, nil
	}
	audio, err := speech.NewLocalAudioStore(cfg.AudioDir, cfg.PublicBaseURL)
	if err != nil {
		return nil, nil, err
	}
	return speech.NewAdapter(synth, audio, speechCfg, log), audio.Handler(), nil
}
