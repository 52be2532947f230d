package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"submission-allowlist/internal/config"
	"submission-allowlist/internal/engine"
	"submission-allowlist/internal/firewall"
	"submission-allowlist/internal/metrics"
	"submission-allowlist/internal/parser"
	"submission-allowlist/internal/service"
	"submission-allowlist/internal/session"
)

// Exit statuses from sysexits.h.
const (
	exitUsage       = 1
	exitUnavailable = 69
	exitTempFail    = 75
)

var errTrustedNetworks = errors.New("trusted network database unavailable")

type firewallClient interface {
	firewall.Manager
	Close() error
}

var newFirewall = func(timeout time.Duration) firewallClient {
	return firewall.New(firewall.WithTimeout(timeout))
}

var (
	configFile string
	logLevel   string
	logFile    string
	interval   time.Duration
	once       bool
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "submission-allowlist",
		Short: "Keep a firewalld ipset in sync with authenticated Dovecot clients",
		Long: `submission-allowlist polls 'doveadm who' and adds the remote address of
every active session to a firewalld ipset, so that access to the submission
port can be limited to clients that already logged in over IMAP or POP3.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	rootCmd.Flags().StringVar(&configFile, "config", "", "Config file (default "+config.DefaultPath+" if present)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "Log file path (default: stderr)")
	rootCmd.Flags().DurationVar(&interval, "interval", 0, "Override processing_interval")
	rootCmd.Flags().BoolVar(&once, "once", false, "Run a single poll cycle and exit")

	return rootCmd
}

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, engine.ErrServiceInactive):
		return exitUnavailable
	case errors.Is(err, engine.ErrFirewallUnavailable),
		errors.Is(err, engine.ErrTooManyFailures),
		errors.Is(err, errTrustedNetworks):
		return exitTempFail
	default:
		return exitUsage
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFile != "" {
		cfg.Log.File = logFile
	}
	if interval > 0 {
		cfg.ProcessingInterval = interval
	}

	slog.SetDefault(setupLogger(cfg.Log.Level, cfg.Log.File))
	hardening()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	trusted, err := cfg.Networks()
	if err != nil {
		return err
	}
	if cfg.TrustedDB.DSN != "" {
		extra, err := parser.LoadTrustedNetworks(ctx, cfg.TrustedDB.DSN)
		if err != nil {
			slog.Error("Failed to load trusted networks", "error", err)
			return fmt.Errorf("%w: %v", errTrustedNetworks, err)
		}
		slog.Info("Loaded trusted networks from database", "count", len(extra))
		trusted = append(trusted, extra...)
	}

	m := metrics.New()
	if cfg.Metrics.Listen != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Listen, cfg.Metrics.Path); err != nil {
				slog.Error("Metrics listener failed", "error", err)
			}
		}()
	}

	fw := newFirewall(cfg.Firewall.Timeout)
	defer fw.Close()

	daemon := engine.NewDaemon(engine.Config{
		IPSet:              cfg.Firewall.IPSet,
		Zone:               cfg.Firewall.Zone,
		ExcludeManagedZone: *cfg.Firewall.ExcludeManagedZone,
		FlushOnExit:        cfg.Firewall.FlushOnExit,
		SubmissionService:  cfg.Submission.Service,
		SubmissionPort:     cfg.Submission.Port,
		Interval:           cfg.ProcessingInterval,
		MaxFailures:        cfg.MaxFailures,
		FirewallUnit:       cfg.Services.Firewall,
		MailUnit:           cfg.Services.Mail,
		TrustedNetworks:    trusted,
		Once:               once,
	},
		fw,
		session.NewLister(cfg.Doveadm.Path, cfg.Doveadm.Timeout),
		service.NewChecker(cfg.Services.Systemctl),
		m,
	)

	if err := daemon.Start(ctx); err != nil {
		slog.Error("Startup failed", "error", err)
		return err
	}
	return daemon.Run(ctx)
}

func setupLogger(level, logFilePath string) *slog.Logger {
	var logWriter io.Writer = os.Stderr
	if logFilePath != "" {
		f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err == nil {
			logWriter = f
		}
		// The logger isn't set up yet, fall back to stderr silently.
	}

	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "INFO":
		lvl = slog.LevelInfo
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(logWriter, &slog.HandlerOptions{Level: lvl}))
}
