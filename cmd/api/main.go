package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/chat-relay/internal/config"
	"github.com/zhouzirui/chat-relay/internal/handler"
	"github.com/zhouzirui/chat-relay/internal/observability"
	"github.com/zhouzirui/chat-relay/internal/service/chat"
	"github.com/zhouzirui/chat-relay/internal/service/engagement"
	"github.com/zhouzirui/chat-relay/internal/service/events"
	"github.com/zhouzirui/chat-relay/internal/service/pbx"
	"github.com/zhouzirui/chat-relay/internal/service/reconcile"
	"github.com/zhouzirui/chat-relay/internal/service/relay"
	"github.com/zhouzirui/chat-relay/internal/service/stats"
	"github.com/zhouzirui/chat-relay/internal/service/status"
)

const shutdownGrace = 10 * time.Second

// Version is set at build time.
var Version = "dev"

var envFile string

var rootCmd = &cobra.Command{
	Use:           "chat-relay",
	Short:         "Relay chat sessions between the PBX and the engagement platform",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Version = Version
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before reading the environment")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load(envFile)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := observability.NewLogger(cfg.Log)
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Debug("env file not loaded, using process environment only", "path", envFile, "error", envErr)
	}

	oracle, err := status.NewPostgresOracle(cfg.Status.DSN, status.DefaultPostgresConfig())
	if err != nil {
		return fmt.Errorf("failed to open status database: %w", err)
	}
	defer oracle.Close()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	httpClient := &http.Client{Timeout: cfg.HTTP.Timeout}
	store := chat.NewStore()
	hub := events.NewHub(logger)
	callbacks := engagement.NewClient(cfg.Engagement.Token, httpClient, logger)

	relaySvc := relay.NewService(relay.Deps{
		Store:     store,
		PBX:       pbx.NewClient(cfg.PBX, httpClient, logger),
		Callbacks: callbacks,
		Events:    hub,
		Metrics:   metrics,
		Logger:    logger,
	})

	reconciler := reconcile.New(reconcile.Config{
		Store:    store,
		Oracle:   oracle,
		Notifier: callbacks,
		Events:   hub,
		Metrics:  metrics,
		Logger:   logger,
		Interval: cfg.Reconcile.Interval,
	})

	opts := handler.Options{
		CallbackBase: cfg.Engagement.CallbackBase,
		Hub:          hub,
		Metrics:      metrics,
		Logger:       logger,
	}
	if cfg.Stats.Enabled() {
		opts.Stats = stats.NewService(cfg.Stats, httpClient, logger)
		logger.Info("queue statistics enabled", "queues", cfg.Stats.Queues.Names())
	} else {
		logger.Info("queue statistics not configured, /stats disabled")
	}

	router := handler.NewRouter(relaySvc, opts)

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runServer(gctx, srv, logger, shutdownGrace)
	})
	g.Go(func() error {
		return reconciler.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("chat relay stopped")
	return nil
}

// runServer binds srv.Addr, serves until ctx is done and then drains
// in-flight requests for at most grace.
func runServer(ctx context.Context, srv *http.Server, logger *slog.Logger, grace time.Duration) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}
	logger.Info("chat relay listening", "addr", ln.Addr().String(), "version", Version)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down http server", "grace", grace)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server did not drain in time", "error", err)
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
