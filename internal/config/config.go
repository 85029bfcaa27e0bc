package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	fmerrors "github.com/rcourtman/fritzmesh/internal/errors"
)

const (
	DefaultPort        = 8765
	DefaultHassIOPort  = 8099
	DefaultConfigFile  = "/etc/fritzmesh"
	DefaultHassIOFile  = "/data/options.json"
	DefaultCacheFile   = "/var/cache/fritzmesh/cache.cbor.zst"
	DefaultHassIOCache = "/data/cache.cbor.zst"

	defaultPollInterval    = 5 * time.Second
	defaultUpstreamTimeout = 10 * time.Second
	defaultDNSCacheTTL     = 5 * time.Minute
	defaultLang            = "de"
)

// Duration is a time.Duration read from and written as "5s" style text.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if seconds, err := strconv.Atoi(raw); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the effective proxy configuration.
type Config struct {
	// Router access
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	Host     string `yaml:"host" json:"host"`

	// How long resolved router addresses are reused
	DNSCacheTTL Duration `yaml:"dns_cache_ttl" json:"dns_cache_ttl"`

	// Listener
	BindAddress string `yaml:"bind_address" json:"bind_address"`
	Port        int    `yaml:"port" json:"port"`

	// Cache persistence
	CacheFile string `yaml:"cache_file" json:"cache_file"`
	NoCache   bool   `yaml:"nocache" json:"nocache"`

	// Telemetry polling
	PollInterval    Duration `yaml:"poll_interval" json:"poll_interval"`
	UpstreamTimeout Duration `yaml:"upstream_timeout" json:"upstream_timeout"`
	Lang            string   `yaml:"lang" json:"lang"`

	// Logging
	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`
	LogFile   string `yaml:"log_file" json:"log_file"`

	MetricsAddress string `yaml:"metrics_address" json:"metrics_address"`
	MockMode       bool   `yaml:"mock_mode" json:"mock_mode"`

	// Set by the loader, not read from files.
	HassIO     bool   `yaml:"-" json:"-"`
	ConfigFile string `yaml:"-" json:"-"`
	EnvFile    string `yaml:"-" json:"-"`
}

// Defaults returns the configuration used before any source is applied.
func Defaults(hassio bool) *Config {
	cfg := &Config{
		Port:            DefaultPort,
		CacheFile:       DefaultCacheFile,
		PollInterval:    Duration(defaultPollInterval),
		UpstreamTimeout: Duration(defaultUpstreamTimeout),
		DNSCacheTTL:     Duration(defaultDNSCacheTTL),
		Lang:            defaultLang,
		LogLevel:        "info",
		LogFormat:       "auto",
		HassIO:          hassio,
		ConfigFile:      DefaultConfigFile,
	}
	if hassio {
		cfg.Port = DefaultHassIOPort
		cfg.CacheFile = DefaultHassIOCache
		cfg.ConfigFile = DefaultHassIOFile
	}
	return cfg
}

// ListenAddress returns the host:port the proxy listens on.
func (c *Config) ListenAddress() string {
	return net.JoinHostPort(c.BindAddress, strconv.Itoa(c.Port))
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var problems []string

	if !c.MockMode {
		if strings.TrimSpace(c.Username) == "" {
			problems = append(problems, "router username is required")
		}
		if c.Password == "" {
			problems = append(problems, "router password is required")
		}
		if strings.TrimSpace(c.Host) == "" {
			problems = append(problems, "router host is required")
		}
	}
	if c.Port < 1 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d is out of range", c.Port))
	}
	if c.PollInterval <= 0 {
		problems = append(problems, "poll interval must be positive")
	}
	if c.UpstreamTimeout <= 0 {
		problems = append(problems, "upstream timeout must be positive")
	}
	if c.DNSCacheTTL < 0 {
		problems = append(problems, "dns cache ttl must not be negative")
	}
	if !c.NoCache && strings.TrimSpace(c.CacheFile) == "" {
		problems = append(problems, "cache file is required unless nocache is set")
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "auto", "json", "console":
	default:
		problems = append(problems, fmt.Sprintf("unknown log format %q", c.LogFormat))
	}

	if len(problems) > 0 {
		return fmerrors.NewProxyError(fmerrors.ErrorTypeConfig, "validate_config", c.ConfigFile,
			fmt.Errorf("%s", strings.Join(problems, "; ")))
	}
	return nil
}

// Redacted returns a copy safe for display.
func (c *Config) Redacted() Config {
	out := *c
	if out.Password != "" {
		out.Password = "********"
	}
	return out
}
