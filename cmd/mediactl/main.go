package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vnmchuo/transcribe-client/config"
	"github.com/vnmchuo/transcribe-client/internal/logging"
	"github.com/vnmchuo/transcribe-client/internal/metrics"
	"github.com/vnmchuo/transcribe-client/internal/telemetry"
	"github.com/vnmchuo/transcribe-client/internal/transport"
)

var errUsage = errors.New("usage")

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	shutdownTracer, err := telemetry.InitTracer("mediactl", cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracer")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	if cfg.MetricsAddr != "" {
		serveMetrics(cfg.MetricsAddr, log)
	}

	a, err := newApp(cfg, log, os.Stdout, os.Stderr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init client")
	}

	err = run(ctx, a, os.Args[1:])
	a.close()
	stop()
	shutdownTracer()
	os.Exit(exitCode(a, err))
}

func exitCode(a *app, err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		usage(a.stderr)
		return 2
	case errors.Is(err, transport.ErrUnauthenticated):
		a.promptLogin()
		return 1
	case errors.Is(err, context.Canceled):
		return 130
	}
	fmt.Fprintf(a.stderr, "error: %v\n", err)
	return 1
}

func run(ctx context.Context, a *app, args []string) error {
	if len(args) < 1 {
		return errUsage
	}
	switch args[0] {
	case "session":
		return runSession(ctx, a, args[1:])
	case "whoami":
		return runWhoami(ctx, a)
	case "transcribe":
		return runTranscribe(ctx, a, args[1:])
	case "analyze":
		return runAnalyze(ctx, a, args[1:])
	case "watch":
		return runWatch(ctx, a, args[1:])
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `mediactl session set --access <token> --refresh <token>
mediactl session show | clear
mediactl whoami
mediactl transcribe --file <id> [--language en]
mediactl analyze --job <transcription id> [--type SUMMARY] [--prompt text]
mediactl watch --file <id> [--analyze TYPE] [--prompt text]`)
}

func serveMetrics(addr string, log zerolog.Logger) {
	metrics.MustRegister()
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, r); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
}
