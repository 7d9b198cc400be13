package config

import (
	"fmt"

	"github.com/spf13/viper"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreLevelDB  = "leveldb"
)

// LedgerConfig selects and configures the block store.
type LedgerConfig struct {
	Store       string
	Postgres    PostgresConfig
	LevelDBPath string
	// StrictChain refuses to start on a chain that fails validation.
	StrictChain bool
}

func (c LedgerConfig) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if err := c.Postgres.Validate(); err != nil {
			return err
		}
	case StoreLevelDB:
		if c.LevelDBPath == "" {
			return fmt.Errorf("missing LevelDB path")
		}
	default:
		return fmt.Errorf("unknown store %q (valid: %s|%s|%s)", c.Store, StoreLevelDB, StoreMemory, StorePostgres)
	}
	return nil
}

func LoadLedgerConfigFromCLI() LedgerConfig {
	return LedgerConfig{
		Store:       viper.GetString("store"),
		Postgres:    LoadPostgresConfigFromCLI(),
		LevelDBPath: viper.GetString("leveldb-path"),
		StrictChain: viper.GetBool("strict-chain"),
	}
}
