package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"submission-allowlist/internal/utils"
)

const DefaultPath = "/etc/submission-allowlist.yaml"

type Config struct {
	// ProcessingInterval is the pause between session polls.
	ProcessingInterval time.Duration `yaml:"processing_interval"`
	MaxFailures        int           `yaml:"max_failures"`

	Doveadm struct {
		Path    string        `yaml:"path"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"doveadm"`

	Firewall struct {
		Timeout            time.Duration `yaml:"timeout"`
		IPSet              string        `yaml:"ipset"`
		Zone               string        `yaml:"zone"`
		ExcludeManagedZone *bool         `yaml:"exclude_managed_zone"`
		FlushOnExit        bool          `yaml:"flush_on_exit"`
	} `yaml:"firewall"`

	Submission struct {
		Service string `yaml:"service"`
		Port    int    `yaml:"port"`
	} `yaml:"submission"`

	Services struct {
		Systemctl string `yaml:"systemctl"`
		Firewall  string `yaml:"firewall"`
		Mail      string `yaml:"mail"`
	} `yaml:"services"`

	TrustedNetworks []string `yaml:"trusted_networks"`

	TrustedDB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"trusted_db"`

	Metrics struct {
		Listen string `yaml:"listen"`
		Path   string `yaml:"path"`
	} `yaml:"metrics"`

	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
}

// Load reads the YAML file at path. A missing file at the default path
// yields the defaults; a missing explicit path is an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	setDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	var cfg Config
	setDefaults(&cfg)
	return &cfg
}

func setDefaults(cfg *Config) {
	if cfg.ProcessingInterval == 0 {
		cfg.ProcessingInterval = 30 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 30
	}
	if cfg.Doveadm.Path == "" {
		cfg.Doveadm.Path = "/bin/doveadm"
	}
	if cfg.Doveadm.Timeout == 0 {
		cfg.Doveadm.Timeout = 15 * time.Second
	}
	if cfg.Firewall.Timeout == 0 {
		cfg.Firewall.Timeout = 15 * time.Second
	}
	if cfg.Firewall.IPSet == "" {
		cfg.Firewall.IPSet = "dovecot"
	}
	if cfg.Firewall.Zone == "" {
		cfg.Firewall.Zone = "dovecot"
	}
	if cfg.Firewall.ExcludeManagedZone == nil {
		exclude := true
		cfg.Firewall.ExcludeManagedZone = &exclude
	}
	if cfg.Submission.Service == "" {
		cfg.Submission.Service = "submission"
	}
	if cfg.Submission.Port == 0 {
		cfg.Submission.Port = 587
	}
	if cfg.Services.Systemctl == "" {
		cfg.Services.Systemctl = "/bin/systemctl"
	}
	if cfg.Services.Firewall == "" {
		cfg.Services.Firewall = "firewalld"
	}
	if cfg.Services.Mail == "" {
		cfg.Services.Mail = "dovecot"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "INFO"
	}
}

func (c *Config) Validate() error {
	if c.ProcessingInterval < 0 {
		return fmt.Errorf("processing_interval must not be negative")
	}
	if c.MaxFailures < 0 {
		return fmt.Errorf("max_failures must not be negative")
	}
	if c.Submission.Port < 1 || c.Submission.Port > 65535 {
		return fmt.Errorf("submission.port %d out of range", c.Submission.Port)
	}
	if !isValidLogLevel(c.Log.Level) {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	if _, err := c.Networks(); err != nil {
		return err
	}
	return nil
}

// Networks parses TrustedNetworks.
func (c *Config) Networks() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.TrustedNetworks))
	for _, n := range c.TrustedNetworks {
		prefix, err := utils.ParseSource(n)
		if err != nil {
			return nil, fmt.Errorf("trusted_networks: %q: %w", n, err)
		}
		out = append(out, prefix)
	}
	return out, nil
}

func isValidLogLevel(level string) bool {
	switch strings.ToUpper(level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
		return true
	}
	return false
}
