package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ConsensusConfig struct {
	Validators       []string
	BatchWindow      time.Duration
	MinLatency       time.Duration
	MaxLatency       time.Duration
	FaultProbability float64
	VoteTimeout      time.Duration
}

func (c ConsensusConfig) Validate() error {
	if len(c.Validators) == 0 {
		return fmt.Errorf("at least one validator is required")
	}
	seen := make(map[string]struct{}, len(c.Validators))
	for _, v := range c.Validators {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("validator names cannot be empty")
		}
		if _, ok := seen[v]; ok {
			return fmt.Errorf("duplicate validator %q", v)
		}
		seen[v] = struct{}{}
	}
	if c.BatchWindow < 0 {
		return fmt.Errorf("batch window cannot be negative")
	}
	if c.MinLatency < 0 || c.MaxLatency < c.MinLatency {
		return fmt.Errorf("invalid latency range [%s, %s]", c.MinLatency, c.MaxLatency)
	}
	if c.FaultProbability < 0 || c.FaultProbability > 1 {
		return fmt.Errorf("fault probability must be within [0, 1], got %v", c.FaultProbability)
	}
	if c.VoteTimeout < 0 {
		return fmt.Errorf("vote timeout cannot be negative")
	}
	return nil
}

func LoadConsensusConfigFromCLI() ConsensusConfig {
	return ConsensusConfig{
		Validators:       viper.GetStringSlice("validators"),
		BatchWindow:      viper.GetDuration("batch-window"),
		MinLatency:       viper.GetDuration("min-latency"),
		MaxLatency:       viper.GetDuration("max-latency"),
		FaultProbability: viper.GetFloat64("fault-probability"),
		VoteTimeout:      viper.GetDuration("vote-timeout"),
	}
}
