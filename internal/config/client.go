package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

type ClientConfig struct {
	ServerURL string
	Timeout   time.Duration
}

func (c ClientConfig) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server URL must use http or https, got %q", c.ServerURL)
	}
	if u.Host == "" {
		return fmt.Errorf("server URL has no host: %q", c.ServerURL)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("client timeout must be positive")
	}
	return nil
}

func LoadClientConfigFromCLI() ClientConfig {
	return ClientConfig{
		ServerURL: viper.GetString("server"),
		Timeout:   viper.GetDuration("timeout"),
	}
}
