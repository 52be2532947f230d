// Package engine runs the poll, diff and update cycle that keeps the
// managed ipset in step with the addresses holding mail sessions.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"submission-allowlist/internal/firewall"
	"submission-allowlist/internal/metrics"
	"submission-allowlist/internal/model"
)

const (
	DefaultInterval    = 30 * time.Second
	DefaultMaxFailures = 30
)

// SessionLister reports the addresses of the current mail sessions.
type SessionLister interface {
	Addresses(ctx context.Context) (model.AddrSet, error)
}

// ServiceChecker reports whether a system service is running.
type ServiceChecker interface {
	IsActive(ctx context.Context, unit string) bool
}

type Config struct {
	IPSet              string
	Zone               string
	ExcludeManagedZone bool
	FlushOnExit        bool
	SubmissionService  string
	SubmissionPort     int
	Interval           time.Duration
	MaxFailures        int
	FirewallUnit       string
	MailUnit           string
	TrustedNetworks    []netip.Prefix
	// Once stops after the first poll cycle.
	Once bool
}

type Daemon struct {
	cfg      Config
	fw       firewall.Manager
	sessions SessionLister
	services ServiceChecker
	metrics  *metrics.Metrics

	trusted  *Trusted
	known    model.AddrSet
	failures int
}

func NewDaemon(cfg Config, fw firewall.Manager, sessions SessionLister, services ServiceChecker, m *metrics.Metrics) *Daemon {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if m == nil {
		m = metrics.New()
	}
	return &Daemon{
		cfg:      cfg,
		fw:       fw,
		sessions: sessions,
		services: services,
		metrics:  m,
		known:    make(model.AddrSet),
	}
}

// Start checks the prerequisites, discovers trusted networks and seeds the
// known set from the managed ipset.
func (d *Daemon) Start(ctx context.Context) error {
	for _, unit := range []string{d.cfg.FirewallUnit, d.cfg.MailUnit} {
		if unit == "" {
			continue
		}
		if !d.services.IsActive(ctx, unit) {
			return fmt.Errorf("%s: %w", unit, ErrServiceInactive)
		}
	}

	trusted, err := DiscoverTrusted(ctx, d.fw, TrustedOptions{
		ManagedZone:        d.cfg.Zone,
		ExcludeManagedZone: d.cfg.ExcludeManagedZone,
		Service:            d.cfg.SubmissionService,
		Port:               d.cfg.SubmissionPort,
		Extra:              d.cfg.TrustedNetworks,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFirewallUnavailable, err)
	}
	d.trusted = trusted

	entries, err := d.fw.Entries(ctx, d.cfg.IPSet)
	if err != nil {
		return fmt.Errorf("%w: reading ipset %s: %v", ErrFirewallUnavailable, d.cfg.IPSet, err)
	}
	d.known = parseEntries(entries)

	d.metrics.TrustedNetworks.Set(float64(len(trusted.Networks)))
	d.metrics.KnownAddresses.Set(float64(d.known.Len()))
	slog.Info("Starting", "ipset", d.cfg.IPSet, "known", d.known.Len(), "trusted_networks", len(trusted.Networks))
	return nil
}

// Poll runs one cycle. It only returns an error once the session poll
// has failed MaxFailures times in a row.
func (d *Daemon) Poll(ctx context.Context) error {
	d.metrics.Polls.Inc()
	observed, err := d.sessions.Addresses(ctx)
	if err != nil {
		d.failures++
		d.metrics.PollFailures.Inc()
		d.metrics.ConsecutiveFailures.Set(float64(d.failures))
		slog.Warn("Session poll failed", "failures", d.failures, "error", err)
		if d.failures >= d.cfg.MaxFailures {
			return fmt.Errorf("%w: %d in a row", ErrTooManyFailures, d.failures)
		}
		return nil
	}
	d.failures = 0
	d.metrics.ConsecutiveFailures.Set(0)

	fresh := observed.Diff(d.known)
	if fresh.Len() == 0 {
		return nil
	}
	pushed := d.push(ctx, fresh)
	d.known.Merge(pushed)
	d.metrics.KnownAddresses.Set(float64(d.known.Len()))
	return nil
}

// Run polls until ctx is cancelled. Cancellation also cuts the interval
// wait short.
func (d *Daemon) Run(ctx context.Context) error {
	if d.trusted == nil {
		if err := d.Start(ctx); err != nil {
			return err
		}
	}
	defer d.flush()

	for ctx.Err() == nil {
		if err := d.Poll(ctx); err != nil {
			slog.Error("Giving up", "error", err)
			return err
		}
		if d.cfg.Once {
			return nil
		}
		if !wait(ctx, d.cfg.Interval) {
			break
		}
	}
	slog.Info("Stopping", "known", d.known.Len())
	return nil
}

// flush empties the managed ipset when configured to. Errors are only
// logged since the process is exiting anyway.
func (d *Daemon) flush() {
	if !d.cfg.FlushOnExit {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.fw.SetEntries(ctx, d.cfg.IPSet, nil); err != nil {
		slog.Warn("Unable to flush ipset on exit", "ipset", d.cfg.IPSet, "error", err)
		return
	}
	slog.Info("Flushed ipset", "ipset", d.cfg.IPSet)
}

// wait sleeps for d and reports false when ctx ended first.
func wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (d *Daemon) Known() model.AddrSet {
	return d.known
}

func (d *Daemon) Failures() int {
	return d.failures
}

func (d *Daemon) Trusted() *Trusted {
	return d.trusted
}
