// Package main is the entry point for the API server.
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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/support-platform/internal/config"
	"github.com/capitalize-ai/support-platform/internal/escalation"
	"github.com/capitalize-ai/support-platform/internal/handler"
	"github.com/capitalize-ai/support-platform/internal/llm"
	natsclient "github.com/capitalize-ai/support-platform/internal/nats"
	"github.com/capitalize-ai/support-platform/internal/sentiment"
	"github.com/capitalize-ai/support-platform/internal/service"
	"github.com/capitalize-ai/support-platform/internal/session"
	"github.com/capitalize-ai/support-platform/internal/store"
	"github.com/capitalize-ai/support-platform/pkg/logger"
	"github.com/capitalize-ai/support-platform/pkg/tracing"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}

	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting API server", zap.String("store", cfg.StoreDriver), zap.Bool("nats", cfg.NATSEnabled))

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "support-platform", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	// Persistence
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// Event log
	var (
		events  service.EventLog
		history handler.EventHistory
		watcher handler.Watcher
		natsUp  handler.Pinger
	)
	notifier := escalation.MultiNotifier{service.NewTicketRouter(st)}

	if cfg.NATSEnabled {
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer natsClient.Close()

		streamManager := natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			return fmt.Errorf("failed to ensure stream: %w", err)
		}

		events = streamManager
		history = streamManager
		watcher = streamManager
		natsUp = natsClient
		notifier = append(notifier, natsclient.NewEscalationPublisher(streamManager))
	}

	// Sentiment
	lexicon := sentiment.DefaultLexicon()
	if cfg.SentimentLexiconPath != "" {
		lexicon, err = sentiment.LoadLexicon(cfg.SentimentLexiconPath)
		if err != nil {
			return fmt.Errorf("failed to load lexicon: %w", err)
		}
	}
	analyzer := sentiment.NewAnalyzer(lexicon, sentiment.Config{
		MaxMagnitude:        cfg.SentimentMaxMagnitude,
		PositiveThreshold:   cfg.SentimentPositiveThreshold,
		NegativeThreshold:   cfg.SentimentNegativeThreshold,
		EscalationThreshold: cfg.SentimentEscalationThreshold,
	})

	// Initialize LLM client
	llmClient := newLLMClient(cfg, log)

	// Initialize services
	resolver := session.NewResolver(st, session.ResolverConfig{InactivityWindow: cfg.SessionInactivityWindow}, log)
	filter := session.NewFilter(cfg.CustomerVisibilityWindow, nil)
	machine := escalation.NewMachine(st, analyzer, notifier, nil, log)

	conversationSvc := service.NewConversationService(st, resolver, events, nil, log)
	messageSvc := service.NewMessageService(st, conversationSvc, machine, filter, events, nil, log)
	chatSessionSvc := service.NewChatSessionService(st, conversationSvc, machine, events, nil, log)
	suggestionSvc := service.NewSuggestionService(messageSvc, st, llmClient, cfg.SuggestionModel, events, nil, log)

	// Create router
	router := handler.NewRouter(handler.RouterConfig{
		Health:          handler.NewHealthHandler(st, natsUp),
		Widget:          handler.NewWidgetHandler(conversationSvc, messageSvc, log),
		Conversations:   handler.NewConversationHandler(conversationSvc, history, log),
		Messages:        handler.NewMessageHandler(messageSvc, log),
		ChatSessions:    handler.NewChatSessionHandler(chatSessionSvc, log),
		Suggestions:     handler.NewSuggestionHandler(suggestionSvc, log),
		Stream:          handler.NewStreamHandler(messageSvc, suggestionSvc, watcher, cfg.SSEHeartbeat, log),
		JWTSecret:       cfg.JWTSecret,
		CORSOrigins:     cfg.CORSOrigins,
		RateLimit:       cfg.RateLimitRequests,
		RateLimitWindow: cfg.RateLimitWindow,
		WidgetRateLimit: cfg.WidgetRateLimitRequests,
		Logger:          log,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite, config.StorePostgres:
		st, err := store.NewSQLStore(ctx, cfg.StoreDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return store.NewMemoryStore(), nil
	}
}

// newLLMClient returns the configured provider, falling back to whichever key
// is set. Suggestions are disabled when there is none.
func newLLMClient(cfg *config.Config, log *logger.Logger) llm.Client {
	keys := map[llm.Provider]string{
		llm.ProviderAnthropic: cfg.AnthropicAPIKey,
		llm.ProviderOpenAI:    cfg.OpenAIAPIKey,
	}

	order := []llm.Provider{llm.ProviderAnthropic, llm.ProviderOpenAI}
	if llm.Provider(cfg.DefaultLLM) == llm.ProviderOpenAI {
		order = []llm.Provider{llm.ProviderOpenAI, llm.ProviderAnthropic}
	}

	for _, provider := range order {
		if keys[provider] == "" {
			continue
		}
		client, err := llm.NewClient(provider, keys[provider])
		if err != nil {
			log.Warn("failed to create LLM client", zap.String("provider", string(provider)), zap.Error(err))
			continue
		}
		log.Info("reply suggestions enabled", zap.String("provider", client.Name()))
		return llm.Instrumented(client)
	}

	log.Warn("no LLM API key configured, reply suggestions disabled")
	return nil
}
