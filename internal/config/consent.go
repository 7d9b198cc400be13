package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type ConsentConfig struct {
	TTL time.Duration
}

func (c ConsentConfig) Validate() error {
	if c.TTL <= 0 {
		return fmt.Errorf("consent TTL must be positive")
	}
	return nil
}

func LoadConsentConfigFromCLI() ConsentConfig {
	return ConsentConfig{
		TTL: viper.GetDuration("consent-ttl"),
	}
}
