// Package metrics exposes the sync loop counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "submission_allowlist"

type Metrics struct {
	Polls               prometheus.Counter
	PollFailures        prometheus.Counter
	ConsecutiveFailures prometheus.Gauge
	Admitted            prometheus.Counter
	FirewallErrors      prometheus.Counter
	KnownAddresses      prometheus.Gauge
	TrustedNetworks     prometheus.Gauge

	registry *prometheus.Registry
}

func New() *Metrics {
	m := &Metrics{
		Polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Session polls attempted.",
		}),
		PollFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_failures_total",
			Help:      "Session polls that failed or timed out.",
		}),
		ConsecutiveFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consecutive_poll_failures",
			Help:      "Current streak of failed session polls.",
		}),
		Admitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admitted_addresses_total",
			Help:      "Addresses written to the managed ipset.",
		}),
		FirewallErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "firewall_errors_total",
			Help:      "Failed reads or writes of the managed ipset.",
		}),
		KnownAddresses: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "known_addresses",
			Help:      "Addresses known to be in the managed ipset.",
		}),
		TrustedNetworks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trusted_networks",
			Help:      "Networks excluded from the managed ipset.",
		}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(
		m.Polls,
		m.PollFailures,
		m.ConsecutiveFailures,
		m.Admitted,
		m.FirewallErrors,
		m.KnownAddresses,
		m.TrustedNetworks,
	)
	return m
}

// Handler serves the registry on path and a liveness probe on /healthz.
func (m *Metrics) Handler(path string) http.Handler {
	if path == "" {
		path = "/metrics"
	}
	r := chi.NewRouter()
	r.Handle(path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return r
}

// Serve runs the HTTP listener until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr, path string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(path),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("Serving metrics", "listen", addr, "path", path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
