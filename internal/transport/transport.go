// Package transport sends authenticated HTTP calls. It attaches the current
// access token and, when the server answers 401, refreshes the credential
// once and re-sends the original request exactly once.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/singleflight"

	"github.com/vnmchuo/transcribe-client/internal/credential"
	"github.com/vnmchuo/transcribe-client/internal/logging"
	"github.com/vnmchuo/transcribe-client/internal/metrics"
)

var (
	// ErrUnauthenticated means the session cannot be recovered: the refresh
	// failed, or a request was rejected again after a successful refresh.
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrRefreshFailed   = errors.New("credential refresh failed")
	ErrRefreshTimeout  = errors.New("credential refresh timed out")
)

const refreshKey = "refresh"

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Options struct {
	// RefreshURL is the absolute URL of the refresh endpoint.
	RefreshURL     string
	RefreshTimeout time.Duration
	HTTPClient     Doer
	// OnUnauthenticated is called once per failed refresh, after the store
	// has been cleared. The collaborator decides how to send the user to login.
	OnUnauthenticated func(err error)
	Logger            zerolog.Logger
	Tracer            trace.Tracer
}

type Client struct {
	http              Doer
	store             credential.Store
	refreshURL        string
	refreshTimeout    time.Duration
	onUnauthenticated func(err error)
	group             singleflight.Group
	log               zerolog.Logger
	tracer            trace.Tracer
}

func New(store credential.Store, opts Options) *Client {
	c := &Client{
		http:              opts.HTTPClient,
		store:             store,
		refreshURL:        opts.RefreshURL,
		refreshTimeout:    opts.RefreshTimeout,
		onUnauthenticated: opts.OnUnauthenticated,
		log:               logging.Component(opts.Logger, "transport"),
		tracer:            opts.Tracer,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.refreshTimeout <= 0 {
		c.refreshTimeout = 15 * time.Second
	}
	if c.tracer == nil {
		c.tracer = noop.NewTracerProvider().Tracer("transport")
	}
	return c
}

// Do sends req with the stored access token. A 401 triggers one refresh
// (shared with every concurrent caller) and one re-send. Any other status or
// network error is returned untouched; the caller owns the response body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx, span := c.tracer.Start(req.Context(), "transport.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("http.path", req.URL.Path),
	)

	getBody, err := replayableBody(req)
	if err != nil {
		return nil, err
	}
	requestID := req.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}
	log := c.log.With().Str("request_id", requestID).Str("method", req.Method).Str("path", req.URL.Path).Logger()

	access := c.currentAccess(ctx)
	resp, err := c.dispatch(ctx, req, getBody, access, requestID)
	if err != nil {
		metrics.ObserveRequest(0)
		span.RecordError(err)
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		metrics.ObserveRequest(resp.StatusCode)
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		return resp, nil
	}
	discard(resp)
	log.Debug().Msg("access token rejected, refreshing")

	// From here on the request is a retry: a second 401 is final.
	span.SetAttributes(attribute.Bool("retried", true))
	fresh, err := c.refresh(ctx, access)
	if err != nil {
		metrics.ObserveRequest(http.StatusUnauthorized)
		span.SetStatus(codes.Error, "refresh failed")
		return nil, err
	}

	resp, err = c.dispatch(ctx, req, getBody, fresh, requestID)
	if err != nil {
		metrics.ObserveRequest(0)
		span.RecordError(err)
		return nil, err
	}
	metrics.ObserveRequest(resp.StatusCode)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode == http.StatusUnauthorized {
		discard(resp)
		log.Warn().Msg("request rejected again after refresh")
		span.SetStatus(codes.Error, "unauthenticated")
		return nil, fmt.Errorf("%w: rejected after credential refresh", ErrUnauthenticated)
	}
	return resp, nil
}

func (c *Client) currentAccess(ctx context.Context) string {
	pair, err := c.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, credential.ErrNoCredentials) {
			c.log.Warn().Err(err).Msg("failed to load credentials")
		}
		return ""
	}
	return pair.Access
}

func (c *Client) dispatch(ctx context.Context, req *http.Request, getBody func() (io.ReadCloser, error), access, requestID string) (*http.Response, error) {
	out := req.Clone(ctx)
	if getBody != nil {
		body, err := getBody()
		if err != nil {
			return nil, err
		}
		out.Body = body
		out.GetBody = getBody
	}
	out.Header.Set("X-Request-ID", requestID)
	if access != "" {
		out.Header.Set("Authorization", "Bearer "+access)
	} else {
		out.Header.Del("Authorization")
	}
	return c.http.Do(out)
}

// refresh collapses concurrent callers onto one refresh call. stale is the
// token the caller was rejected with; if the store already holds a different
// one, another caller refreshed in the meantime and no call is made.
// Waiters whose own ctx ends stop waiting; the refresh itself carries on.
func (c *Client) refresh(ctx context.Context, stale string) (string, error) {
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		// Detached from the first caller: its cancellation must not fail the
		// other waiters.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()

		pair, err := c.store.Load(rctx)
		switch {
		case err == nil && pair.Access != "" && pair.Access != stale:
			return pair.Access, nil
		case errors.Is(err, credential.ErrNoCredentials) && stale != "":
			// Cleared by a refresh that failed while this caller was in
			// flight; the collaborator has already been told.
			return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, ErrRefreshFailed)
		}
		return c.doRefresh(rctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

func (c *Client) doRefresh(ctx context.Context) (string, error) {
	ctx, span := c.tracer.Start(ctx, "transport.refresh")
	defer span.End()

	pair, err := c.store.Load(ctx)
	if err != nil || pair.Refresh == "" {
		return "", c.fail(ctx, fmt.Errorf("%w: no refresh token stored", ErrRefreshFailed))
	}

	body, err := json.Marshal(refreshRequest{Refresh: pair.Refresh})
	if err != nil {
		return "", c.fail(ctx, fmt.Errorf("%w: %v", ErrRefreshFailed, err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.refreshURL, bytes.NewReader(body))
	if err != nil {
		return "", c.fail(ctx, fmt.Errorf("%w: %v", ErrRefreshFailed, err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", c.fail(ctx, fmt.Errorf("%w after %s", ErrRefreshTimeout, c.refreshTimeout))
		}
		return "", c.fail(ctx, fmt.Errorf("%w: %v", ErrRefreshFailed, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", c.fail(ctx, fmt.Errorf("%w (status %d): %s", ErrRefreshFailed, resp.StatusCode, string(respBody)))
	}

	var out refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", c.fail(ctx, fmt.Errorf("%w: decode response: %v", ErrRefreshFailed, err))
	}
	if out.Access == "" {
		return "", c.fail(ctx, fmt.Errorf("%w: response carried no access token", ErrRefreshFailed))
	}

	// Some servers rotate the refresh token as well.
	if out.Refresh != "" {
		err = c.store.Save(ctx, credential.Pair{Access: out.Access, Refresh: out.Refresh})
	} else {
		err = c.store.SetAccess(ctx, out.Access)
	}
	if err != nil {
		return "", c.fail(ctx, fmt.Errorf("%w: persist access token: %v", ErrRefreshFailed, err))
	}

	metrics.IncRefresh("success")
	ev := c.log.Info().Str("access", logging.Redact(out.Access))
	if claims, err := credential.Inspect(out.Access); err == nil && !claims.ExpiresAt.IsZero() {
		ev = ev.Time("expires_at", claims.ExpiresAt)
	}
	ev.Msg("access token refreshed")
	return out.Access, nil
}

// fail clears the stored pair, signals the collaborator and returns the
// error every waiter will see.
func (c *Client) fail(ctx context.Context, cause error) error {
	outcome := "failure"
	if errors.Is(cause, ErrRefreshTimeout) {
		outcome = "timeout"
	}
	metrics.IncRefresh(outcome)
	trace.SpanFromContext(ctx).SetStatus(codes.Error, cause.Error())

	if err := c.store.Clear(context.WithoutCancel(ctx)); err != nil {
		c.log.Error().Err(err).Msg("failed to clear credentials")
	}
	c.log.Warn().Err(cause).Msg("credential refresh failed, session cleared")

	err := fmt.Errorf("%w: %w", ErrUnauthenticated, cause)
	if c.onUnauthenticated != nil {
		c.onUnauthenticated(err)
	}
	return err
}

// replayableBody returns a function producing a fresh copy of the request
// body for each attempt, buffering it when the request cannot rewind itself.
func replayableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		return req.GetBody, nil
	}
	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to buffer request body: %w", err)
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
