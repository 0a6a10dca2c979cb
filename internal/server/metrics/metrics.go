// Package metrics defines the Prometheus collectors of the auth server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics groups the server collectors. A nil *Metrics records nothing.
type Metrics struct {
	AuthAttempts    *prometheus.CounterVec
	TokenRefreshes  *prometheus.CounterVec
	TokensRevoked   *prometheus.CounterVec
	ReuseDetections prometheus.Counter
	SaveConflicts   prometheus.Counter
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authkeeper_authentications_total",
				Help: "Authentication attempts by result code",
			},
			[]string{"result"},
		),
		TokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authkeeper_token_refreshes_total",
				Help: "Refresh token rotations by result code",
			},
			[]string{"result"},
		),
		TokensRevoked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authkeeper_refresh_tokens_revoked_total",
				Help: "Refresh tokens revoked by reason",
			},
			[]string{"reason"},
		),
		ReuseDetections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authkeeper_refresh_token_reuse_detected_total",
			Help: "Replays of revoked refresh tokens",
		}),
		SaveConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authkeeper_account_save_conflicts_total",
			Help: "Optimistic concurrency conflicts on account save",
		}),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authkeeper_http_requests_total",
				Help: "HTTP requests by route and status",
			},
			[]string{"route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authkeeper_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}

	reg.MustRegister(
		m.AuthAttempts,
		m.TokenRefreshes,
		m.TokensRevoked,
		m.ReuseDetections,
		m.SaveConflicts,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

func (m *Metrics) RecordAuthentication(result string) {
	if m == nil {
		return
	}
	m.AuthAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordRefresh(result string) {
	if m == nil {
		return
	}
	m.TokenRefreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordRevoked(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TokensRevoked.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) RecordReuseDetected() {
	if m == nil {
		return
	}
	m.ReuseDetections.Inc()
}

func (m *Metrics) RecordSaveConflict() {
	if m == nil {
		return
	}
	m.SaveConflicts.Inc()
}

func (m *Metrics) RecordHTTPRequest(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, statusClass(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
