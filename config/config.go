// Package config loads anchorctl settings from flags, environment variables
// (ANCHORCTL_*), an optional .anchorctl.yaml and an optional .env file.
package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"

	"github.com/marwen-abid/anchor-remit-go/errors"
)

// EnvPrefix is the prefix of every environment variable read.
const EnvPrefix = "ANCHORCTL"

// Config holds the application configuration.
type Config struct {
	Network      string
	Secret       string
	Timeout      time.Duration
	CacheTTL     time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	RateLimit    float64
	RateBurst    int
	LogLevel     string
	LogFormat    string
	HorizonURL   string
	MetricsAddr  string
	// Scheme is the scheme stellar.toml is fetched with; "http" is for local anchors only.
	Scheme string
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("network", "testnet")
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("cache_ttl", 5*time.Minute)
	v.SetDefault("max_retries", 3)
	v.SetDefault("retry_backoff", 250*time.Millisecond)
	v.SetDefault("rate_limit", 10.0)
	v.SetDefault("rate_burst", 5)
	v.SetDefault("log_level", "warn")
	v.SetDefault("log_format", "text")
	v.SetDefault("horizon_url", "")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("scheme", "https")
}

// LoadDotEnv loads environment variables from files (default: .env).
// Missing files are ignored; existing variables are never overwritten.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration into a Config. configFile, when set, replaces the
// search for .anchorctl.yaml in $HOME and the working directory.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(".anchorctl")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !stderrors.As(err, &notFound) {
			return nil, errors.New(errors.StageClient, errors.CONFIG_INVALID, "failed to read config file", err)
		}
	}

	cfg := &Config{
		Network:      v.GetString("network"),
		Secret:       v.GetString("secret"),
		Timeout:      v.GetDuration("timeout"),
		CacheTTL:     v.GetDuration("cache_ttl"),
		MaxRetries:   v.GetInt("max_retries"),
		RetryBackoff: v.GetDuration("retry_backoff"),
		RateLimit:    v.GetFloat64("rate_limit"),
		RateBurst:    v.GetInt("rate_burst"),
		LogLevel:     v.GetString("log_level"),
		LogFormat:    v.GetString("log_format"),
		HorizonURL:   v.GetString("horizon_url"),
		MetricsAddr:  v.GetString("metrics_addr"),
		Scheme:       v.GetString("scheme"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.New(errors.StageClient, errors.CONFIG_INVALID, fmt.Sprintf(format, args...), nil)
	}
	switch {
	case strings.TrimSpace(c.Network) == "":
		return invalid("network is required")
	case c.Timeout <= 0:
		return invalid("timeout must be positive, got %s", c.Timeout)
	case c.MaxRetries < 0:
		return invalid("max_retries must not be negative, got %d", c.MaxRetries)
	case c.Scheme != "https" && c.Scheme != "http":
		return invalid("scheme must be https or http, got %q", c.Scheme)
	}
	if c.Secret != "" {
		if _, err := keypair.ParseFull(c.Secret); err != nil {
			return errors.New(errors.StageClient, errors.CONFIG_INVALID, "secret is not a valid Stellar secret seed", nil)
		}
	}
	return nil
}

// NetworkPassphrase resolves the configured network. "testnet" and "public"
// are shorthands; anything else is used as a raw passphrase.
func (c *Config) NetworkPassphrase() string {
	switch strings.ToLower(strings.TrimSpace(c.Network)) {
	case "testnet", "test":
		return network.TestNetworkPassphrase
	case "public", "pubnet", "mainnet":
		return network.PublicNetworkPassphrase
	default:
		return c.Network
	}
}

// Horizon returns the configured Horizon URL, or the SDF instance for the network.
func (c *Config) Horizon() string {
	if c.HorizonURL != "" {
		return c.HorizonURL
	}
	if c.NetworkPassphrase() == network.PublicNetworkPassphrase {
		return "https://horizon.stellar.org"
	}
	return "https://horizon-testnet.stellar.org"
}
