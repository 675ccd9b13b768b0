package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/transcribe-client/config"
	"github.com/vnmchuo/transcribe-client/internal/devserver"
	"github.com/vnmchuo/transcribe-client/internal/logging"
	"github.com/vnmchuo/transcribe-client/internal/metrics"
	"github.com/vnmchuo/transcribe-client/internal/telemetry"
	"github.com/vnmchuo/transcribe-client/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info", "console")
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("media-devserver", cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracer")
	}
	defer shutdownTracer()
	metrics.MustRegister()

	// 3. Connect Redis when rate limiting is on
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var limiter *ratelimit.Limiter
	if cfg.DevServer.RateLimit > 0 {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to ping redis")
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("Redis connected")
		limiter = ratelimit.NewLimiter(rdb, cfg.DevServer.RateLimit)
	}

	// 4. Seed the in-memory store and start the job worker
	store := devserver.NewStore(nil)
	devserver.SeedDemoData(store, log)
	go devserver.NewWorker(store, cfg.DevServer.JobStep, nil, log).Process(ctx)

	// 5. Init handler
	tokens := devserver.NewTokens(cfg.DevServer.JWTSecret, cfg.DevServer.AccessTTL, cfg.DevServer.RefreshTTL, nil)
	tracer := otel.GetTracerProvider().Tracer("media-devserver")
	handler := devserver.NewHandler(store, tokens, limiter, tracer, log)

	// 6. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"media-devserver"}`))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/api", handler.Routes())

	// 7. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.DevServer.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Str("port", cfg.DevServer.Port).Msg("Media dev server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-quit
	log.Info().Msg("Shutting down gracefully...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("Server stopped")
}
