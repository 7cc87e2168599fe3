package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ChatCore/internal/api"
	"ChatCore/internal/cache"
	"ChatCore/internal/chatbot"
	"ChatCore/internal/config"
	"ChatCore/internal/session"
	"ChatCore/internal/store"
	"ChatCore/internal/telemetry"
	"ChatCore/internal/transport"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type flags struct {
	configPath string
	sessionID  string
	debug      bool
	addr       string
}

func main() {
	var f flags

	root := &cobra.Command{
		Use:           "chatcore",
		Short:         "Chat with an OpenAI-compatible completion service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), f)
		},
	}
	root.PersistentFlags().StringVar(&f.configPath, "config", "", "Path to config file (default ./config.* or $HOME/.chatcore/config.*)")
	root.PersistentFlags().StringVar(&f.sessionID, "session-id", "", "Load existing session by ID")
	root.PersistentFlags().BoolVar(&f.debug, "debug", false, "Enable debug logging")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Expose a session over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), f)
		},
	}
	serve.Flags().StringVar(&f.addr, "addr", "", "Listen address (overrides server.addr)")

	root.AddCommand(
		&cobra.Command{
			Use:   "chat",
			Short: "Start the interactive chat (default)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runChat(cmd.Context(), f)
			},
		},
		serve,
		&cobra.Command{
			Use:   "sessions",
			Short: "List stored sessions",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSessions(cmd.Context(), f, cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "history <session-id>",
			Short: "Print the messages of a stored session",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runHistory(cmd.Context(), f, args[0], cmd.OutOrStdout())
			},
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the collaborators shared by every command
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	tracer  trace.Tracer
	meter   metric.Meter
	store   *store.Store
	http    *transport.HTTPTransport
	closers []func()
}

func setup(ctx context.Context, f flags) (*app, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.SessionID = f.sessionID
	if f.debug {
		cfg.Log.Debug = true
	}

	logger, logFile, err := telemetry.InitLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func() { logFile.Close() })

	if cfg.Log.Debug {
		logger.Info("Debug mode enabled")
	}

	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.tracer, a.meter = tracer, meter
	a.closers = append(a.closers, cleanup)

	if cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.store = st
		a.closers = append(a.closers, func() { st.Close() })
	}

	a.http = transport.NewHTTP(transport.HTTPConfig{
		BaseURL:          cfg.API.BaseURL,
		APIKey:           cfg.API.Key,
		RequireAPIKey:    cfg.RequireAPIKey(),
		Timeout:          cfg.API.Timeout,
		MaxResponseBytes: cfg.API.MaxResponseBytes,
		RateLimit:        cfg.Transport.RateLimit,
		RateBurst:        cfg.Transport.RateBurst,
	},
		transport.WithLogger(logger),
		transport.WithTracer(tracer),
		transport.WithMeter(meter),
	)

	logger.Info("starting chatcore",
		"backend", cfg.API.Backend,
		"base_url", cfg.API.BaseURL,
		"model", cfg.Chat.Model,
		"store", cfg.Store.Path,
	)
	return a, nil
}

// close releases resources in reverse order of acquisition
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// chatTransport returns the HTTP transport wrapped in the configured decorators
func (a *app) chatTransport() transport.Transport {
	var t transport.Transport = a.http
	t = transport.WithRetry(t, transport.RetryConfig{
		MaxRetries: a.cfg.Transport.MaxRetries,
		Logger:     a.logger,
	})
	if a.cfg.Transport.CacheTTL > 0 {
		t = transport.WithCache(t, cache.New(a.cfg.Transport.CacheTTL), a.logger)
	}
	return t
}

func (a *app) factory() chatbot.Factory {
	t := a.chatTransport()
	policy := session.RetainUserMessage
	if a.cfg.Chat.RollbackOnError {
		policy = session.RollbackUserMessage
	}
	return func(opts ...session.Option) (*session.Session, error) {
		base := []session.Option{
			session.WithSystemPrompt(a.cfg.Chat.SystemPrompt),
			session.WithRollbackPolicy(policy),
			session.WithHistoryLimit(a.cfg.Chat.HistoryLimit),
			session.WithLogger(a.logger),
			session.WithTracer(a.tracer),
			session.WithMeter(a.meter),
		}
		return session.New(t, a.cfg.Params(), append(base, opts...)...)
	}
}

func (a *app) chatbotOptions() []chatbot.Option {
	opts := []chatbot.Option{
		chatbot.WithLogger(a.logger),
		chatbot.WithModelLister(a.http),
	}
	if a.store != nil {
		opts = append(opts, chatbot.WithStore(a.store))
	}
	return opts
}

func runChat(ctx context.Context, f flags) error {
	a, err := setup(ctx, f)
	if err != nil {
		return err
	}
	defer a.close()

	bot, err := chatbot.NewChatBot(ctx, a.cfg, a.factory(), a.chatbotOptions()...)
	if err != nil {
		return fmt.Errorf("failed to initialize chatbot: %w", err)
	}
	return bot.Run(ctx, os.Stdin, os.Stdout)
}

func runServe(ctx context.Context, f flags) error {
	a, err := setup(ctx, f)
	if err != nil {
		return err
	}
	defer a.close()

	bot, err := chatbot.NewChatBot(ctx, a.cfg, a.factory(), a.chatbotOptions()...)
	if err != nil {
		return fmt.Errorf("failed to initialize session: %w", err)
	}

	addr := a.cfg.Server.Addr
	if f.addr != "" {
		addr = f.addr
	}
	var recorder api.Recorder
	if a.store != nil {
		recorder = a.store
	}
	srv := api.New(addr, bot.Session(), recorder, a.logger)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	fmt.Fprintf(os.Stdout, "Serving session %s on %s\n", bot.Session().ID(), addr)
	a.logger.Info("serving session", "session_id", bot.Session().ID(), "addr", addr)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	a.logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, f flags) (*app, error) {
	a, err := setup(ctx, f)
	if err != nil {
		return nil, err
	}
	if a.store == nil {
		a.close()
		return nil, fmt.Errorf("session storage is disabled (store.path is empty)")
	}
	return a, nil
}

func runSessions(ctx context.Context, f flags, out io.Writer) error {
	a, err := openStore(ctx, f)
	if err != nil {
		return err
	}
	defer a.close()

	sessions, err := a.store.List(ctx, 0)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No stored sessions.")
		return nil
	}
	for _, s := range sessions {
		fmt.Fprintf(out, "%s\t%s\t%d messages\t%s\n", s.ID, s.Model, s.MessageCount, s.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func runHistory(ctx context.Context, f flags, id string, out io.Writer) error {
	a, err := openStore(ctx, f)
	if err != nil {
		return err
	}
	defer a.close()

	rec, err := a.store.Load(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Session %s (%s), started %s\n", rec.ID, rec.Model, rec.StartTime.Format(time.RFC3339))
	for _, msg := range rec.Messages {
		fmt.Fprintf(out, "[%s] %s: %s\n", msg.Timestamp.Format("15:04:05"), msg.Role, msg.Content)
	}
	return nil
}
