package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/transcribe-client/config"
	"github.com/vnmchuo/transcribe-client/internal/api"
	"github.com/vnmchuo/transcribe-client/internal/credential"
	"github.com/vnmchuo/transcribe-client/internal/transport"
)

// app is everything a subcommand needs, built once from config.
type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	tracer trace.Tracer
	store  credential.Store
	client *api.Client
	stdout io.Writer
	stderr io.Writer

	prompted atomic.Bool
	closers  []func()
}

func newApp(cfg *config.Config, log zerolog.Logger, stdout, stderr io.Writer) (*app, error) {
	a := &app{
		cfg:    cfg,
		log:    log,
		tracer: otel.GetTracerProvider().Tracer("mediactl"),
		stdout: stdout,
		stderr: stderr,
	}

	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	a.store = store

	tr := transport.New(store, transport.Options{
		RefreshURL:        strings.TrimRight(cfg.APIURL, "/") + cfg.RefreshPath,
		RefreshTimeout:    cfg.RefreshTimeout,
		HTTPClient:        &http.Client{Timeout: cfg.HTTPTimeout},
		OnUnauthenticated: func(error) { a.promptLogin() },
		Logger:            log,
		Tracer:            a.tracer,
	})
	a.client = api.New(cfg.APIURL, tr)
	return a, nil
}

func (a *app) openStore() (credential.Store, error) {
	switch a.cfg.CredentialStore {
	case "memory":
		return credential.NewMemoryStore(), nil
	case "file":
		return credential.NewFileStore(a.cfg.CredentialFile), nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
		a.closers = append(a.closers, func() { rdb.Close() })
		return credential.NewRedisStore(rdb, a.cfg.CredentialKey), nil
	}
	return nil, fmt.Errorf("unknown credential store %q", a.cfg.CredentialStore)
}

// promptLogin tells the user where to sign in again, once per process.
func (a *app) promptLogin() {
	if a.prompted.CompareAndSwap(false, true) {
		fmt.Fprintf(a.stderr, "Session expired. Log in again at %s and run `mediactl session set`.\n", a.cfg.LoginURL)
	}
}

func (a *app) close() {
	for _, c := range a.closers {
		c()
	}
}
