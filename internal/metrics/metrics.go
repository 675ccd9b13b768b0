package metrics

import (
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once       sync.Once
	collectors []prometheus.Collector
)

func register(cs ...prometheus.Collector) {
	collectors = append(collectors, cs...)
}

// MustRegister registers all collectors with the default registry (idempotent).
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(collectors...)
	})
}

func init() {
	register(transportRequests, credentialRefresh, pollFetches, pollSessions)
}

var (
	transportRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_transport_requests_total",
			Help: "Outbound authenticated requests by final status code (or \"error\").",
		},
		[]string{"code"},
	)

	credentialRefresh = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_credential_refresh_total",
			Help: "Credential refresh calls by outcome (success/failure/timeout).",
		},
		[]string{"outcome"},
	)

	pollFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_poll_fetches_total",
			Help: "Job status fetches by poller and outcome (ok/error/discarded).",
		},
		[]string{"poller", "outcome"},
	)

	pollSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_poll_sessions_total",
			Help: "Finished poll sessions by poller and end state.",
		},
		[]string{"poller", "end"},
	)
)

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func ObserveRequest(statusCode int) {
	code := "error"
	if statusCode > 0 {
		code = strconv.Itoa(statusCode)
	}
	transportRequests.WithLabelValues(code).Inc()
}

func IncRefresh(outcome string) {
	credentialRefresh.WithLabelValues(norm(outcome)).Inc()
}

func IncPollFetch(poller, outcome string) {
	pollFetches.WithLabelValues(norm(poller), norm(outcome)).Inc()
}

func IncPollSession(poller, end string) {
	pollSessions.WithLabelValues(norm(poller), norm(end)).Inc()
}
