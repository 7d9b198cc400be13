package config

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/viper"
)

// MinJWTSecretLength is the shortest accepted signing secret.
const MinJWTSecretLength = 16

type ServeConfig struct {
	Addr             string
	StaticDir        string
	MetricsFile      string
	EnablePrometheus bool
	PrometheusAddr   string
	JWTSecret        string
	TokenTTL         time.Duration
	UsersFile        string
	AllowedOrigins   []string
	// CommitInterval enables periodic commit attempts when positive.
	CommitInterval time.Duration
}

func (c ServeConfig) Validate() error {
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Addr, err)
	}
	if c.EnablePrometheus {
		if _, _, err := net.SplitHostPort(c.PrometheusAddr); err != nil {
			return fmt.Errorf("invalid Prometheus address %q: %w", c.PrometheusAddr, err)
		}
	}
	if c.MetricsFile == "" {
		return fmt.Errorf("missing metrics file")
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("JWT secret must be at least %d bytes", MinJWTSecretLength)
	}
	if c.CommitInterval < 0 {
		return fmt.Errorf("commit interval cannot be negative")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}
	return nil
}

func LoadServeConfigFromCLI() ServeConfig {
	return ServeConfig{
		Addr:             viper.GetString("addr"),
		StaticDir:        viper.GetString("static-dir"),
		MetricsFile:      viper.GetString("metrics-file"),
		EnablePrometheus: viper.GetBool("enable-prometheus"),
		PrometheusAddr:   viper.GetString("prometheus-addr"),
		JWTSecret:        viper.GetString("jwt-secret"),
		TokenTTL:         viper.GetDuration("token-ttl"),
		UsersFile:        viper.GetString("users-file"),
		AllowedOrigins:   viper.GetStringSlice("allowed-origins"),
		CommitInterval:   viper.GetDuration("commit-interval"),
	}
}
