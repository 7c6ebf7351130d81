package bootcfg

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "feisync.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestDefault_FieldsPopulated(t *testing.T) {
	cfg := Default()
	require.NotNil(t, cfg)

	assert.Contains(t, cfg.ListenAddr, "6688")
	assert.Contains(t, cfg.DataDir, ".feisync")
	assert.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeTestConfig(t, `
listen_addr = "127.0.0.1:9000"
data_dir = "/var/lib/feisync"
request_timeout = "45s"
log_level = "debug"
tls_cert_file = "/etc/feisync/cert.pem"
tls_key_file = "/etc/feisync/key.pem"
`)

	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	assert.Equal(t, "/var/lib/feisync", cfg.DataDir)
	assert.Equal(t, 45*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/etc/feisync/cert.pem", cfg.TLSCertFile)
	assert.Equal(t, "/etc/feisync/key.pem", cfg.TLSKeyFile)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"), testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, Default().ListenAddr, cfg.ListenAddr)
	assert.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout)
}

func TestLoad_MalformedTOML(t *testing.T) {
	path := writeTestConfig(t, `[listen
not valid toml`)

	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing bootstrap config")
}

func TestLoad_PartialConfig_UsesDefaultsForRest(t *testing.T) {
	path := writeTestConfig(t, `log_level = "error"`)

	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout)
	assert.Equal(t, Default().DataDir, cfg.DataDir)
}

func TestLoad_InvalidRequestTimeoutRejected(t *testing.T) {
	path := writeTestConfig(t, `request_timeout = "not-a-duration"`)

	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing request_timeout")
}

func TestResolveConfigPath_DefaultsWhenNoOverrides(t *testing.T) {
	path := ResolveConfigPath(EnvOverrides{}, CLIOverrides{})
	assert.Equal(t, DefaultConfigPath(), path)
}

func TestResolveConfigPath_EnvOverridesDefault(t *testing.T) {
	path := ResolveConfigPath(EnvOverrides{ConfigPath: "/etc/feisync/env.toml"}, CLIOverrides{})
	assert.Equal(t, "/etc/feisync/env.toml", path)
}

func TestResolveConfigPath_CLIOverridesEnv(t *testing.T) {
	path := ResolveConfigPath(
		EnvOverrides{ConfigPath: "/etc/feisync/env.toml"},
		CLIOverrides{ConfigPath: "/etc/feisync/cli.toml"},
	)
	assert.Equal(t, "/etc/feisync/cli.toml", path)
}

func TestResolve_AppliesEnvThenCLIPrecedence(t *testing.T) {
	path := writeTestConfig(t, `
listen_addr = "0.0.0.0:1111"
data_dir = "/file/data"
`)

	cfg, err := Resolve(
		EnvOverrides{ConfigPath: path, ListenAddr: "0.0.0.0:2222", DataDir: "/env/data"},
		CLIOverrides{ListenAddr: "0.0.0.0:3333"},
		testLogger(t),
	)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:3333", cfg.ListenAddr) // CLI wins
	assert.Equal(t, "/env/data", cfg.DataDir)       // env wins over file
}

func TestResolve_FileConfigUsedWhenNoOverrides(t *testing.T) {
	path := writeTestConfig(t, `listen_addr = "0.0.0.0:4444"`)

	cfg, err := Resolve(EnvOverrides{ConfigPath: path}, CLIOverrides{}, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:4444", cfg.ListenAddr)
}

func TestResolve_PropagatesLoadError(t *testing.T) {
	path := writeTestConfig(t, `[broken`)

	_, err := Resolve(EnvOverrides{ConfigPath: path}, CLIOverrides{}, testLogger(t))
	require.Error(t, err)
}

func TestNewHolder(t *testing.T) {
	cfg := Default()
	h := NewHolder(cfg, "/etc/feisync/feisync.toml")

	require.NotNil(t, h)
	assert.Equal(t, cfg, h.Config())
	assert.Equal(t, "/etc/feisync/feisync.toml", h.Path())
}

func TestHolder_Update(t *testing.T) {
	cfg1 := Default()
	h := NewHolder(cfg1, "/tmp/feisync.toml")

	cfg2 := Default()
	cfg2.LogLevel = "debug"
	h.Update(cfg2)

	got := h.Config()
	assert.Equal(t, cfg2, got)
	assert.NotEqual(t, cfg1, got)
}

func TestHolder_PathImmutable(t *testing.T) {
	h := NewHolder(Default(), "/original/path.toml")

	assert.Equal(t, "/original/path.toml", h.Path())
	assert.Equal(t, "/original/path.toml", h.Path())
}

func TestHolder_ConcurrentReadWrite(t *testing.T) {
	h := NewHolder(Default(), "/tmp/feisync.toml")

	var wg sync.WaitGroup

	for range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range 100 {
				got := h.Config()
				assert.NotNil(t, got)
				_ = h.Path()
			}
		}()
	}

	for range 5 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range 100 {
				h.Update(Default())
			}
		}()
	}

	wg.Wait()
}
