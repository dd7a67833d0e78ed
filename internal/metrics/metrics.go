// Package metrics exposes Prometheus counters for the scan loop.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rewired-gh/momentumscanner/internal/logger"
)

// Metrics holds all Prometheus metrics for the scanner.
type Metrics struct {
	Registry *prometheus.Registry

	CyclesTotal        *prometheus.CounterVec // labels: result=ok|failed|rate_limited|skipped
	CycleDuration      prometheus.Histogram
	PairsListed        prometheus.Gauge
	PairsEvaluated     prometheus.Counter
	CandleFetchErrors  prometheus.Counter
	AlertsEmitted      prometheus.Counter
	AlertsSuppressed   *prometheus.CounterVec // labels: reason
	NotifyFailures     prometheus.Counter
	RateLimitCooloffs  prometheus.Counter
	TrackedSymbols     prometheus.Gauge
	LastCycleTimestamp prometheus.Gauge
}

// New registers and returns all metrics on a private registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_cycles_total",
			Help: "Scan cycles by result",
		}, []string{"result"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scanner_cycle_duration_seconds",
			Help:    "Wall time of one scan cycle",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 240, 480},
		}),
		PairsListed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_pairs_listed",
			Help: "Pairs in the last ticker listing",
		}),
		PairsEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_pairs_evaluated_total",
			Help: "Pairs that passed the volume filter and had indicators computed",
		}),
		CandleFetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_candle_fetch_errors_total",
			Help: "Candle fetches skipped for missing or insufficient data",
		}),
		AlertsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_alerts_emitted_total",
			Help: "Alerts decided and dispatched",
		}),
		AlertsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_alerts_suppressed_total",
			Help: "Qualifying signals suppressed by the alert state store",
		}, []string{"reason"}),
		NotifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_notify_failures_total",
			Help: "Notification sends that failed",
		}),
		RateLimitCooloffs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_rate_limit_cooloffs_total",
			Help: "Cool-off periods entered after a rate-limited listing call",
		}),
		TrackedSymbols: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_tracked_symbols",
			Help: "Symbols with alert state",
		}),
		LastCycleTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_last_cycle_timestamp_seconds",
			Help: "Unix time the last cycle finished",
		}),
	}

	m.Registry.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.PairsListed,
		m.PairsEvaluated,
		m.CandleFetchErrors,
		m.AlertsEmitted,
		m.AlertsSuppressed,
		m.NotifyFailures,
		m.RateLimitCooloffs,
		m.TrackedSymbols,
		m.LastCycleTimestamp,
	)

	return m
}

// Health tracks the outcome of the latest cycle for /healthz.
type Health struct {
	mu         sync.RWMutex
	lastCycle  time.Time
	lastError  string
	failures   int
	staleAfter time.Duration
	startedAt  time.Time
	nowFunc    func() time.Time
}

// NewHealth reports unhealthy when no cycle finished within staleAfter.
func NewHealth(staleAfter time.Duration) *Health {
	return &Health{staleAfter: staleAfter, startedAt: time.Now(), nowFunc: time.Now}
}

// Observe records a finished cycle.
func (h *Health) Observe(at time.Time, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastCycle = at
	if err != nil {
		h.lastError = err.Error()
		h.failures++
		return
	}
	h.lastError = ""
	h.failures = 0
}

type healthResponse struct {
	Status              string `json:"status"`
	LastCycle           string `json:"last_cycle,omitempty"`
	LastError           string `json:"last_error,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

func (h *Health) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	resp := healthResponse{
		Status:              "ok",
		LastError:           h.lastError,
		ConsecutiveFailures: h.failures,
	}
	ref := h.lastCycle
	if !ref.IsZero() {
		resp.LastCycle = ref.Format(time.RFC3339)
	} else {
		ref = h.startedAt
	}
	stale := h.staleAfter > 0 && h.nowFunc().Sub(ref) > h.staleAfter
	h.mu.RUnlock()

	code := http.StatusOK
	if stale {
		resp.Status = "stale"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// Server exposes /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

func NewServer(addr string, m *Metrics, health *Health) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		logger.Info("Metrics server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
