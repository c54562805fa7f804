package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"llm-tap/internal/client"
	"llm-tap/internal/config"
	"llm-tap/internal/handler"
	"llm-tap/internal/metrics"
	"llm-tap/internal/middleware"
	"llm-tap/internal/recorder"
	"llm-tap/internal/routing"
	"llm-tap/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// A missing .env is fine; variables already in the environment win.
	_ = godotenv.Load()

	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("llm-tap"),
		kong.Description("Transparent recording proxy for LLM APIs."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.WithLogger(func(l *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: l.With("component", "fx")}
		}),
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			newRedisMirror,
			client.NewUpstreamClient,
			service.NewProxyService,
			routing.NewDecoder,
			recorder.New,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(
			handler.RegisterRoutes,
			warnConfigPermissions,
			prepareRecordsDir,
			startRetention,
			startServer,
		),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// WriteTimeout is disabled (0): completions stream for as long as the
	// model generates, and a write deadline would cut them off.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.MetricsMiddleware(m, cfg.Metrics.Path))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))

	return e
}

// newRedisMirror returns nil when mirroring is disabled; the recorder then
// writes files only.
func newRedisMirror(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) *recorder.RedisMirror {
	rc := cfg.Records.Redis
	if !rc.Enabled {
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Records still go to disk while Redis is down, so this is not fatal.
			if err := rdb.Ping(ctx).Err(); err != nil {
				logger.Warn("redis mirror unreachable", "addr", rc.Addr, "err", err)
				return nil
			}
			logger.Info("redis mirror enabled", "addr", rc.Addr, "stream", rc.Stream)
			return nil
		},
		OnStop: func(_ context.Context) error {
			return rdb.Close()
		},
	})

	return recorder.NewRedisMirror(rdb, rc)
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

// prepareRecordsDir creates the records directory up front. Failure is only
// logged: each write retries the directory and is never fatal.
func prepareRecordsDir(cfg *config.Config, logger *slog.Logger) {
	if err := os.MkdirAll(cfg.Records.Dir, 0o755); err != nil {
		logger.Warn("records directory not writable", "dir", cfg.Records.Dir, "err", err)
	}
}

func startRetention(lc fx.Lifecycle, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) {
	ret := cfg.Records.Retention
	if !ret.Enabled() {
		return
	}

	pruner := recorder.NewPruner(cfg.Records.Dir, ret.MaxAgeDuration(), m, logger)
	scheduler := recorder.NewScheduler(pruner, ret.Schedule, logger)

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := scheduler.Start(); err != nil {
				return err
			}
			if next := scheduler.NextRun(); next != nil {
				logger.Info("next record pruning", "at", next.UTC().Format(time.RFC3339))
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			scheduler.Stop()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, v handler.Version, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server",
				"addr", addr,
				"version", string(v),
				"upstream", cfg.Upstream.BaseURL,
				"records_dir", cfg.Records.Dir,
			)
			go func() {
				if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
