package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	fmerrors "github.com/rcourtman/fritzmesh/internal/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const envPrefix = "FRITZMESH_"

// Home Assistant add-on option names.
const (
	hassioUsernameKey = "Fritzbox username"
	hassioPasswordKey = "Fritzbox password"
	hassioHostKey     = "fritzbox host"
)

// Options are command line overrides. Zero values leave the loaded value alone.
type Options struct {
	ConfigFile  string
	EnvFile     string
	HassIO      bool
	NoCache     bool
	MockMode    bool
	Port        int
	BindAddress string
	CacheFile   string
	LogLevel    string
	LogFormat   string
}

// ConfigLoader assembles a Config from defaults, the config file, the
// environment and command line overrides.
type ConfigLoader struct {
	cfg       *Config
	opts      Options
	envPrefix string
	envFile   string
}

// NewConfigLoader creates a loader for the given overrides.
func NewConfigLoader(opts Options) *ConfigLoader {
	cfg := Defaults(opts.HassIO)
	if opts.ConfigFile != "" {
		cfg.ConfigFile = opts.ConfigFile
	}
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	cfg.EnvFile = envFile
	return &ConfigLoader{
		cfg:       cfg,
		opts:      opts,
		envPrefix: envPrefix,
		envFile:   envFile,
	}
}

// Load reads every source in order of precedence and validates the result.
func (cl *ConfigLoader) Load() (*Config, error) {
	cfg, err := cl.Resolve()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve reads every source in order of precedence without validating.
func (cl *ConfigLoader) Resolve() (*Config, error) {
	if err := cl.loadFromFile(); err != nil {
		return nil, err
	}

	if err := godotenv.Load(cl.envFile); err == nil {
		log.Debug().Str("path", cl.envFile).Msg("Loaded environment file")
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("path", cl.envFile).Msg("Failed to load environment file")
	}
	if err := cl.loadFromEnv(); err != nil {
		return nil, err
	}

	cl.applyOptions()
	return cl.cfg, nil
}

// Load is a shorthand for NewConfigLoader(opts).Load().
func Load(opts Options) (*Config, error) {
	return NewConfigLoader(opts).Load()
}

func (cl *ConfigLoader) loadFromFile() error {
	path := cl.cfg.ConfigFile
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && cl.opts.ConfigFile == "" {
			// Credentials may still come from the environment.
			log.Warn().Str("path", path).Msg("Config file not found")
			return nil
		}
		return configError("read_config", path, err)
	}

	log.Info().Str("path", path).Msg("Loading configuration file")

	if cl.cfg.HassIO {
		return cl.parseHassIO(path, data)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, cl.cfg); err != nil {
			return configError("parse_yaml", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, cl.cfg); err != nil {
			return configError("parse_json", path, err)
		}
	default:
		return cl.parseKeyValue(path, data)
	}
	return nil
}

// parseKeyValue reads the plain "key = value" format. Keys are matched
// case-insensitively.
func (cl *ConfigLoader) parseKeyValue(path string, data []byte) error {
	values, err := godotenv.Parse(bytes.NewReader(data))
	if err != nil {
		return configError("parse_config", path, err)
	}
	for _, key := range expandedKeys(data, values) {
		log.Warn().
			Str("path", path).
			Str("key", key).
			Msg("Config value containing '$' was expanded as a variable, single-quote it to keep it literal")
	}

	for key, value := range values {
		if err := cl.applyKey(strings.ToLower(strings.TrimSpace(key)), value); err != nil {
			return configError("parse_config", path, err)
		}
	}
	return nil
}

// expandedKeys returns the keys whose value contains '$' outside single
// quotes and came out of godotenv.Parse changed.
func expandedKeys(data []byte, values map[string]string) []string {
	var keys []string
	for _, line := range strings.Split(string(data), "\n") {
		key, raw, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(key), "export "))
		raw = strings.TrimSpace(raw)
		if !strings.Contains(raw, "$") || strings.HasPrefix(raw, "'") {
			continue
		}
		if parsed, ok := values[key]; ok && parsed != raw {
			keys = append(keys, strings.ToLower(key))
		}
	}
	return keys
}

func (cl *ConfigLoader) applyKey(key, value string) error {
	switch key {
	case "fritzboxusername":
		cl.cfg.Username = value
	case "fritzboxpassword":
		cl.cfg.Password = value
	case "fritzboxhost":
		cl.cfg.Host = value
	case "fritzmeshport":
		port, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("fritzMeshPort %q is not a number", value)
		}
		cl.cfg.Port = port
	case "fritzmeshbind":
		cl.cfg.BindAddress = value
	case "fritzmeshcachefile":
		cl.cfg.CacheFile = value
	case "fritzmeshpollinterval":
		return cl.cfg.PollInterval.UnmarshalText([]byte(value))
	case "fritzmeshdnscachettl":
		return cl.cfg.DNSCacheTTL.UnmarshalText([]byte(value))
	case "fritzmeshlang":
		cl.cfg.Lang = value
	case "fritzmeshloglevel":
		cl.cfg.LogLevel = value
	case "fritzmeshmetrics":
		cl.cfg.MetricsAddress = value
	default:
		log.Debug().Str("key", key).Msg("Ignoring unknown config key")
	}
	return nil
}

func (cl *ConfigLoader) parseHassIO(path string, data []byte) error {
	var options map[string]any
	if err := json.Unmarshal(data, &options); err != nil {
		return configError("parse_options", path, err)
	}

	lookup := func(name string) (string, bool) {
		for key, value := range options {
			if strings.EqualFold(key, name) {
				s, ok := value.(string)
				return s, ok
			}
		}
		return "", false
	}

	if v, ok := lookup(hassioUsernameKey); ok {
		cl.cfg.Username = v
	}
	if v, ok := lookup(hassioPasswordKey); ok {
		cl.cfg.Password = v
	}
	if v, ok := lookup(hassioHostKey); ok {
		cl.cfg.Host = v
	}
	return nil
}

func (cl *ConfigLoader) loadFromEnv() error {
	if val := os.Getenv(cl.envPrefix + "USERNAME"); val != "" {
		cl.cfg.Username = val
	}
	if val := os.Getenv(cl.envPrefix + "PASSWORD"); val != "" {
		cl.cfg.Password = val
	}
	if val := os.Getenv(cl.envPrefix + "HOST"); val != "" {
		cl.cfg.Host = val
	}
	if val := os.Getenv(cl.envPrefix + "PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return configError("read_env", cl.envPrefix+"PORT", err)
		}
		cl.cfg.Port = port
	}
	if val := os.Getenv(cl.envPrefix + "BIND_ADDRESS"); val != "" {
		cl.cfg.BindAddress = val
	}
	if val := os.Getenv(cl.envPrefix + "CACHE_FILE"); val != "" {
		cl.cfg.CacheFile = val
	}
	if val := os.Getenv(cl.envPrefix + "NOCACHE"); val != "" {
		cl.cfg.NoCache = strings.EqualFold(val, "true") || val == "1"
	}
	if val := os.Getenv(cl.envPrefix + "POLL_INTERVAL"); val != "" {
		if err := cl.cfg.PollInterval.UnmarshalText([]byte(val)); err != nil {
			return configError("read_env", cl.envPrefix+"POLL_INTERVAL", err)
		}
	}
	if val := os.Getenv(cl.envPrefix + "UPSTREAM_TIMEOUT"); val != "" {
		if err := cl.cfg.UpstreamTimeout.UnmarshalText([]byte(val)); err != nil {
			return configError("read_env", cl.envPrefix+"UPSTREAM_TIMEOUT", err)
		}
	}
	if val := os.Getenv(cl.envPrefix + "DNS_CACHE_TTL"); val != "" {
		if err := cl.cfg.DNSCacheTTL.UnmarshalText([]byte(val)); err != nil {
			return configError("read_env", cl.envPrefix+"DNS_CACHE_TTL", err)
		}
	}
	if val := os.Getenv(cl.envPrefix + "LANG"); val != "" {
		cl.cfg.Lang = val
	}
	if val := os.Getenv(cl.envPrefix + "LOG_LEVEL"); val != "" {
		cl.cfg.LogLevel = strings.ToLower(val)
	}
	if val := os.Getenv(cl.envPrefix + "LOG_FORMAT"); val != "" {
		cl.cfg.LogFormat = strings.ToLower(val)
	}
	if val := os.Getenv(cl.envPrefix + "LOG_FILE"); val != "" {
		cl.cfg.LogFile = val
	}
	if val := os.Getenv(cl.envPrefix + "METRICS_ADDRESS"); val != "" {
		cl.cfg.MetricsAddress = val
	}
	if val := os.Getenv(cl.envPrefix + "MOCK_MODE"); val != "" {
		cl.cfg.MockMode = strings.EqualFold(val, "true") || val == "1"
	}
	return nil
}

func (cl *ConfigLoader) applyOptions() {
	if cl.opts.NoCache {
		cl.cfg.NoCache = true
	}
	if cl.opts.MockMode {
		cl.cfg.MockMode = true
	}
	if cl.opts.Port > 0 {
		cl.cfg.Port = cl.opts.Port
	}
	if cl.opts.BindAddress != "" {
		cl.cfg.BindAddress = cl.opts.BindAddress
	}
	if cl.opts.CacheFile != "" {
		cl.cfg.CacheFile = cl.opts.CacheFile
	}
	if cl.opts.LogLevel != "" {
		cl.cfg.LogLevel = strings.ToLower(cl.opts.LogLevel)
	}
	if cl.opts.LogFormat != "" {
		cl.cfg.LogFormat = strings.ToLower(cl.opts.LogFormat)
	}
}

// ReadCredentials resolves the router credentials again from the config
// file and the environment, with the same precedence as Load.
func ReadCredentials(opts Options) (username, password string, err error) {
	cfg, err := NewConfigLoader(opts).Resolve()
	if err != nil {
		return "", "", err
	}
	return cfg.Username, cfg.Password, nil
}

func configError(op, target string, err error) error {
	return fmerrors.NewProxyError(fmerrors.ErrorTypeConfig, op, target, err)
}
