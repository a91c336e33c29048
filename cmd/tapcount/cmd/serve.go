package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/nhalm/tapcount/api"
	"github.com/nhalm/tapcount/config"
	"github.com/nhalm/tapcount/cooldown"
	"github.com/nhalm/tapcount/counter"
	"github.com/nhalm/tapcount/metrics"
	"github.com/nhalm/tapcount/notify"
	"github.com/nhalm/tapcount/service"
	"github.com/nhalm/tapcount/store"
)

const redisPingTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := config.New(cfgFile)
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	logger := newLogger(os.Stderr, cfg.Server)
	slog.SetDefault(logger)
	if file := v.ConfigFileUsed(); file != "" {
		logger.Info("loaded config", "file", file)
	}

	// stop restores default signal handling so a second Ctrl+C kills the
	// process immediately.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()

	ln, err := net.Listen("tcp", cfg.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.HTTPAddr, err)
	}

	st := openStore(cfg.Store, logger)
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("failed to close store", "error", err)
		}
	}()

	if err := serve(ctx, cfg, st, ln, logger); err != nil {
		return err
	}
	logger.Info("tapcount stopped")
	return nil
}

func newLogger(w io.Writer, cfg config.ServerConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openStore connects to the configured backend. A missing or malformed Redis
// URL leaves the server answering store unavailable. An unreachable Redis is
// kept: the client redials on demand and requests fail until it comes up.
func openStore(cfg config.StoreConfig, logger *slog.Logger) store.Store {
	if cfg.Backend == config.BackendMemory {
		logger.Warn("using in-memory store, data is lost on restart")
		return store.NewMemory()
	}

	if cfg.URL == "" {
		logger.Warn("no redis url configured, every request will fail until one is set")
		return store.Unavailable{}
	}

	st, err := store.DialRedis(store.RedisConfig{
		URL:          cfg.URL,
		Password:     cfg.Password,
		DB:           cfg.DB,
		Prefix:       cfg.Prefix,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err != nil {
		logger.Error("invalid redis configuration, every request will fail", "error", err)
		return store.Unavailable{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := st.Ping(ctx); err != nil {
		logger.Warn("redis not reachable yet, requests fail until it is", "error", err)
		return st
	}

	logger.Info("connected to redis", "db", cfg.DB, "prefix", cfg.Prefix)
	return st
}

// serve runs the HTTP server on ln until ctx is cancelled, then drains
// in-flight requests within the shutdown timeout.
func serve(ctx context.Context, cfg *config.Config, st store.Store, ln net.Listener, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	svc := service.New(st,
		service.WithMetrics(m),
		service.WithLeaderboardSize(cfg.Counter.LeaderboardSize),
		service.WithEngineOptions(
			counter.WithLimiter(cooldown.New(cooldown.WithWindow(cfg.Counter.Cooldown))),
			counter.WithPolicy(counter.Policy{BlockConsecutive: cfg.Counter.BlockConsecutive}),
			counter.WithMaxRetries(cfg.Counter.MaxRetries),
		),
	)

	var throttle *api.Throttle
	if cfg.RateLimit.Enabled {
		opts := []api.ThrottleOption{
			api.ThrottleWithCleanupEvery(cfg.RateLimit.CleanupInterval),
			api.ThrottleWithIdleTTL(cfg.RateLimit.IdleTTL),
		}
		if cfg.RateLimit.TrustProxy {
			opts = append(opts, api.ThrottleWithRealIP())
		}
		throttle = api.NewThrottle(cfg.RateLimit.RPS, cfg.RateLimit.Burst, opts...)
		defer throttle.Close()
	}

	routerCfg := api.Config{
		Service:        svc,
		Notifications:  notify.NewRegistry(st),
		Store:          st,
		Metrics:        m,
		Throttle:       throttle,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		RequestTimeout: cfg.Server.RequestTimeout,
		Canonlog:       true,
	}
	if cfg.Server.Metrics {
		routerCfg.Gatherer = reg
	}

	srv := &http.Server{
		Handler:           api.NewRouter(routerCfg),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("tapcount listening",
			"addr", ln.Addr().String(),
			"cooldown", cfg.Counter.Cooldown.String(),
			"block_consecutive", cfg.Counter.BlockConsecutive,
			"rate_limit", cfg.RateLimit.Enabled,
		)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
