// Package bootcfg resolves the handful of settings FeiSync needs before it
// can even open the JSON document store: listen address, data directory,
// request timeout, and default log level. It mirrors the teacher's
// internal/config package (TOML file + env + CLI override chain) but is
// deliberately small — everything else lives in the runtime document store
// (internal/store), not here.
package bootcfg

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the bootstrap configuration for one FeiSync process.
type Config struct {
	ListenAddr     string        `toml:"listen_addr"`
	DataDir        string        `toml:"data_dir"`
	RequestTimeout time.Duration `toml:"-"`
	RequestTimeoutRaw string     `toml:"request_timeout"`
	LogLevel       string        `toml:"log_level"`
	TLSCertFile    string        `toml:"tls_cert_file"`
	TLSKeyFile     string        `toml:"tls_key_file"`
}

// Default port and timeout per spec.md §4.7.
const (
	DefaultPort           = 6688
	DefaultRequestTimeout = 120 * time.Second
)

// Default returns the zero-config bootstrap configuration.
func Default() *Config {
	dir, err := os.UserHomeDir()
	if err != nil {
		dir = "."
	}

	return &Config{
		ListenAddr:     fmt.Sprintf("0.0.0.0:%d", DefaultPort),
		DataDir:        filepath.Join(dir, ".feisync"),
		RequestTimeout: DefaultRequestTimeout,
		LogLevel:       "warn",
	}
}

// EnvOverrides are settings resolvable from the process environment.
type EnvOverrides struct {
	ConfigPath string
	ListenAddr string
	DataDir    string
}

// ReadEnvOverrides inspects FEISYNC_* environment variables. Per spec.md §6,
// the *runtime* engine never reads environment variables for its document
// state — this applies only to the bootstrap layer that decides where that
// state lives.
func ReadEnvOverrides(logger *slog.Logger) EnvOverrides {
	env := EnvOverrides{
		ConfigPath: os.Getenv("FEISYNC_CONFIG"),
		ListenAddr: os.Getenv("FEISYNC_LISTEN_ADDR"),
		DataDir:    os.Getenv("FEISYNC_DATA_DIR"),
	}

	logger.Debug("bootstrap env overrides read",
		slog.String("config_path", env.ConfigPath),
		slog.String("listen_addr", env.ListenAddr),
		slog.String("data_dir", env.DataDir),
	)

	return env
}

// CLIOverrides are settings supplied directly on the command line.
type CLIOverrides struct {
	ConfigPath string
	ListenAddr string
	DataDir    string
}

// DefaultConfigPath returns the platform-default bootstrap config location.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = home
	}

	return filepath.Join(dir, "feisync", "feisync.toml")
}

// ResolveConfigPath applies CLI > env > default precedence, matching the
// teacher's config.ResolveConfigPath.
func ResolveConfigPath(env EnvOverrides, cli CLIOverrides) string {
	path := DefaultConfigPath()

	if env.ConfigPath != "" {
		path = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		path = cli.ConfigPath
	}

	return path
}

// Load reads and parses a TOML bootstrap file on top of defaults.
func Load(path string, logger *slog.Logger) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("bootstrap config not found, using defaults", slog.String("path", path))

			return cfg, nil
		}

		return nil, fmt.Errorf("reading bootstrap config %s: %w", path, err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing bootstrap config %s: %w", path, err)
	}

	if err := cfg.resolveTimeout(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) resolveTimeout() error {
	if c.RequestTimeoutRaw == "" {
		if c.RequestTimeout == 0 {
			c.RequestTimeout = DefaultRequestTimeout
		}

		return nil
	}

	d, err := time.ParseDuration(c.RequestTimeoutRaw)
	if err != nil {
		return fmt.Errorf("parsing request_timeout %q: %w", c.RequestTimeoutRaw, err)
	}

	c.RequestTimeout = d

	return nil
}

// Resolve applies env and CLI overrides on top of a loaded file config.
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*Config, error) {
	path := ResolveConfigPath(env, cli)

	cfg, err := Load(path, logger)
	if err != nil {
		return nil, err
	}

	if env.ListenAddr != "" {
		cfg.ListenAddr = env.ListenAddr
	}

	if env.DataDir != "" {
		cfg.DataDir = env.DataDir
	}

	if cli.ListenAddr != "" {
		cfg.ListenAddr = cli.ListenAddr
	}

	if cli.DataDir != "" {
		cfg.DataDir = cli.DataDir
	}

	return cfg, nil
}
