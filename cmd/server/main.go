package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/feedlog/internal/config"
	"github.com/feedlog/internal/db"
	"github.com/feedlog/internal/handler"
	"github.com/feedlog/internal/router"
	"github.com/feedlog/internal/service"
	"github.com/feedlog/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

func main() {
	cfg := config.Load()

	flags := pflag.NewFlagSet("feedlog", pflag.ExitOnError)
	flags.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP listen address")
	flags.StringVar(&cfg.DatabaseDriver, "db-driver", cfg.DatabaseDriver, "database driver (sqlite|postgres)")
	flags.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "sqlite database path")
	flags.StringVar(&cfg.UploadDir, "upload-dir", cfg.UploadDir, "directory for uploaded media")
	_ = flags.Parse(os.Args[1:])

	initLogger(cfg)
	gin.SetMode(cfg.GinMode)
	slog.Info("starting feedlog", "env", cfg.Env, "addr", cfg.ListenAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OtelEndpoint != "" {
		tp, err := initTracer(ctx, cfg)
		if err != nil {
			slog.Error("failed to init tracer", "error", err)
		} else {
			defer func() {
				if err := tp.Shutdown(context.Background()); err != nil {
					slog.Error("failed to shutdown tracer", "error", err)
				}
			}()
		}
	}

	// 初始化数据库
	if err := db.Init(db.Options{
		Driver: cfg.DatabaseDriver,
		Path:   cfg.DatabasePath,
		URL:    cfg.DatabaseURL,
	}); err != nil {
		slog.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	if cfg.SuperRootUserName != "" && cfg.SuperRootPassword != "" {
		if err := db.EnsureAdmin(db.DB, cfg.SuperRootUserName, cfg.SuperRootPassword); err != nil {
			slog.Error("failed to ensure admin user", "error", err)
			os.Exit(1)
		}
	}

	sinks := []service.AuditSink{service.NewGormAuditSink(db.DB)}
	if cfg.NatsURL != "" {
		nc, err := nats.Connect(cfg.NatsURL, nats.Name("feedlog"))
		if err != nil {
			slog.Warn("nats unavailable, audit fan-out disabled", "url", cfg.NatsURL, "error", err)
		} else {
			defer nc.Drain()
			sinks = append(sinks, service.NewNatsAuditSink(nc))
		}
	}
	recorder := service.NewAuditRecorder(cfg.AuditQueueSize, sinks...)

	var titleCache service.TitleCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unavailable, embed title cache disabled", "addr", cfg.RedisAddr, "error", err)
		} else {
			titleCache = service.NewRedisTitleCache(rdb, cfg.EmbedCacheTTL)
		}
	}

	blobs := storage.NewLocalStore(cfg.UploadDir, cfg.UploadURLPath, storage.RetryPolicy{
		MaxAttempts: cfg.StorageMaxAttempts,
		BaseDelay:   cfg.StorageBaseDelay,
		Multiplier:  cfg.StorageMultiplier,
	})

	api := handler.NewAPI(handler.Dependencies{
		DB: db.DB,
		Feed: service.FeedOptions{
			MaxLimit:     cfg.FeedMaxLimit,
			FetchTimeout: cfg.FeedFetchTimeout,
			StreamDelay:  cfg.FeedStreamDelay,
		},
		Blobs:    blobs,
		Embeds:   service.NewEmbedResolver(cfg.EmbedFetchTimeout, titleCache),
		Recorder: recorder,
	})

	r := router.SetupRouter(api, router.Options{
		SessionSecret: cfg.SessionSecret,
		UploadDir:     cfg.UploadDir,
		UploadURLPath: cfg.UploadURLPath,
		SecureCookie:  cfg.Env == "prod",
	})

	var h http.Handler = r
	if cfg.OtelEndpoint != "" {
		h = otelhttp.NewHandler(h, "feedlog", otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Path)
		}))
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	// 服务停止后再排空审计队列
	if err := recorder.Close(shutdownCtx); err != nil {
		slog.Error("audit queue not drained", "error", err)
	}

	slog.Info("server exited")
}

func initLogger(cfg config.AppConfig) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Env == "local" {
		opts.Level = slog.LevelDebug
	}
	var h slog.Handler
	if cfg.Env == "local" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}

func initTracer(ctx context.Context, cfg config.AppConfig) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OtelEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, _ := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String("feedlog"),
			semconv.DeploymentEnvironmentKey.String(cfg.Env),
		),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}
