package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "data/keygate.db", cfg.Store.Path)
	assert.True(t, cfg.Sweeper.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.Sweeper.Interval)
	assert.Equal(t, 500, cfg.Sweeper.BatchSize)
	assert.False(t, cfg.Verification.ExposeReasons)
	assert.Equal(t, "json", cfg.Logging.Format)

	require.NoError(t, cfg.validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid default",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "invalid server port",
		},
		{
			name:    "port too large",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "invalid server port",
		},
		{
			name:    "missing store path",
			mutate:  func(c *Config) { c.Store.Path = "" },
			wantErr: "store path",
		},
		{
			name:    "stripe enabled without secret",
			mutate:  func(c *Config) { c.Gateways.Stripe.Enabled = true },
			wantErr: "stripe gateway enabled without webhook secret",
		},
		{
			name:    "infinitepay enabled without secret",
			mutate:  func(c *Config) { c.Gateways.InfinitePay.Enabled = true },
			wantErr: "infinitepay gateway enabled without webhook secret",
		},
		{
			name: "notify enabled without host",
			mutate: func(c *Config) {
				c.Notify.Enabled = true
				c.Notify.From = "noreply@example.com"
			},
			wantErr: "notify enabled without smtp host",
		},
		{
			name: "notify enabled without from",
			mutate: func(c *Config) {
				c.Notify.Enabled = true
				c.Notify.SMTPHost = "smtp.example.com"
			},
			wantErr: "notify enabled without from address",
		},
		{
			name:    "sweeper zero interval",
			mutate:  func(c *Config) { c.Sweeper.Interval = 0 },
			wantErr: "sweeper interval must be positive",
		},
		{
			name:    "sweeper zero batch",
			mutate:  func(c *Config) { c.Sweeper.BatchSize = 0 },
			wantErr: "sweeper batch size must be positive",
		},
		{
			name:    "no allowed origins",
			mutate:  func(c *Config) { c.Security.AllowedOrigins = nil },
			wantErr: "allowed origin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateNormalizesLogging(t *testing.T) {
	cfg := Default()
	cfg.Logging.Format = "text"
	cfg.Logging.Output = "syslog"
	cfg.Logging.FilePath = ""

	require.NoError(t, cfg.validate())

	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "both", cfg.Logging.Output)
	assert.Equal(t, "logs/keygate.log", cfg.Logging.FilePath)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
server:
  port: 9090
  read_timeout: 20s
store:
  path: /var/lib/keygate/licenses.db
sweeper:
  enabled: true
  interval: 5m
  batch_size: 100
verification:
  expose_reasons: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := loadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 20*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "/var/lib/keygate/licenses.db", cfg.Store.Path)
	assert.Equal(t, 5*time.Minute, cfg.Sweeper.Interval)
	assert.True(t, cfg.Verification.ExposeReasons)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := loadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestMergeConfigsEnvPrecedence(t *testing.T) {
	fileCfg := *Default()
	fileCfg.Server.Port = 9000
	fileCfg.Store.Path = "file.db"

	envCfg := Config{}
	envCfg.Server.Port = 7777

	merged := mergeConfigs(fileCfg, envCfg)

	// Env value wins where set, file value fills the gaps.
	assert.Equal(t, 7777, merged.Server.Port)
	assert.Equal(t, "file.db", merged.Store.Path)
	assert.Equal(t, fileCfg.Server.ReadTimeout, merged.Server.ReadTimeout)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("KEYGATE_SERVER_PORT", "8181")
	t.Setenv("KEYGATE_STORE_PATH", filepath.Join(t.TempDir(), "env.db"))
	t.Setenv("KEYGATE_VERIFICATION_EXPOSE_REASONS", "true")

	// Run from a directory with no config.yaml so env vars stand alone.
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.Server.Port)
	assert.True(t, cfg.Verification.ExposeReasons)
}
