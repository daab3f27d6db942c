package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marwen-abid/anchor-remit-go/errors"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "testnet", cfg.Network)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, "https", cfg.Scheme)
	assert.Equal(t, network.TestNetworkPassphrase, cfg.NetworkPassphrase())
	assert.Equal(t, "https://horizon-testnet.stellar.org", cfg.Horizon())
}

func TestLoadFileAndEnvironment(t *testing.T) {
	isolate(t)
	path := writeFile(t, "anchorctl.yaml", `
network: public
timeout: 10s
max_retries: 1
log_level: debug
horizon_url: https://horizon.example.org
`)
	t.Setenv("ANCHORCTL_MAX_RETRIES", "5")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, network.PublicNetworkPassphrase, cfg.NetworkPassphrase())
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "https://horizon.example.org", cfg.Horizon())
}

func TestLoadFindsHomeConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())
	require.NoError(t, os.WriteFile(filepath.Join(home, ".anchorctl.yaml"), []byte("rate_limit: 2.5\n"), 0o600))

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, 2.5, cfg.RateLimit)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	isolate(t)

	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CONFIG_INVALID))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{Network: "testnet", Timeout: time.Second, Scheme: "https"}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty network", func(c *Config) { c.Network = " " }},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
		{"unknown scheme", func(c *Config) { c.Scheme = "ftp" }},
		{"public key as secret", func(c *Config) { c.Secret = keypair.MustRandom().Address() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CONFIG_INVALID))
		})
	}

	cfg := valid()
	cfg.Secret = keypair.MustRandom().Seed()
	assert.NoError(t, cfg.Validate())
}

func TestSecretNeverAppearsInErrors(t *testing.T) {
	cfg := &Config{Network: "testnet", Timeout: time.Second, Scheme: "https", Secret: "SNOTAREALSEED"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SNOTAREALSEED")
}

func TestRawNetworkPassphrase(t *testing.T) {
	cfg := &Config{Network: "Standalone Network ; February 2017"}
	assert.Equal(t, "Standalone Network ; February 2017", cfg.NetworkPassphrase())
	assert.Equal(t, "https://horizon-testnet.stellar.org", cfg.Horizon())
}

func TestLoadDotEnv(t *testing.T) {
	t.Run("missing file is ignored", func(t *testing.T) {
		assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))
	})

	t.Run("does not override the environment", func(t *testing.T) {
		path := writeFile(t, ".env", "ANCHORCTL_TEST_A=from-file\nANCHORCTL_TEST_B=from-file\n")
		t.Setenv("ANCHORCTL_TEST_A", "from-env")
		t.Setenv("ANCHORCTL_TEST_B", "")
		os.Unsetenv("ANCHORCTL_TEST_B")

		require.NoError(t, LoadDotEnv(path))
		t.Cleanup(func() { os.Unsetenv("ANCHORCTL_TEST_B") })
		assert.Equal(t, "from-env", os.Getenv("ANCHORCTL_TEST_A"))
		assert.Equal(t, "from-file", os.Getenv("ANCHORCTL_TEST_B"))
	})
}
