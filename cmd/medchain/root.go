package medchain

import (
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/liftedinit/medchain/internal/config"
	"github.com/liftedinit/medchain/internal/metrics"
)

var (
	validLogLevels = map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	validLogLevelsStr = strings.Join(slices.Sorted(maps.Keys(validLogLevels)), "|")
)

var RootCmd = &cobra.Command{
	Use:   "medchain",
	Short: "Consent-gated medical record ledger",
	Long:  `medchain keeps a hash-linked ledger of medical records committed by a simulated validator quorum.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logLevel := viper.GetString("logLevel")
		if err := setLogLevel(logLevel); err != nil {
			return err
		}
		slog.Debug("Application started", "version", Version)
		return nil
	},
}

// setLogLevel sets the log level
func setLogLevel(logLevel string) error {
	level, exists := validLogLevels[logLevel]
	if !exists {
		return fmt.Errorf("invalid log level: %s. Valid log levels are: %s", logLevel, validLogLevelsStr)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}

func init() {
	RootCmd.PersistentFlags().StringP("logLevel", "l", "info", fmt.Sprintf("set log level (%s)", validLogLevelsStr))
	RootCmd.PersistentFlags().String("store", config.StoreLevelDB, fmt.Sprintf("block store (%s|%s|%s)", config.StoreLevelDB, config.StoreMemory, config.StorePostgres))
	RootCmd.PersistentFlags().StringP("postgres-conn", "p", "", "PostgreSQL connection string")
	RootCmd.PersistentFlags().Uint("max-conns", 10, "Maximum PostgreSQL pool connections")
	RootCmd.PersistentFlags().String("leveldb-path", "medical_chain.db", "LevelDB directory")
	RootCmd.PersistentFlags().Bool("strict-chain", false, "Refuse to load a chain that fails validation")
	RootCmd.PersistentFlags().String("metrics-file", metrics.DefaultFile, "Consensus metrics log (one JSON object per line)")
	if err := viper.BindPFlags(RootCmd.PersistentFlags()); err != nil {
		slog.Error("Failed to bind rootCmd flags", "error", err)
	}

	RootCmd.SilenceUsage = true
	RootCmd.SilenceErrors = true

	viper.SetConfigName("config")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.medchain")
	viper.AddConfigPath("/etc/medchain")

	viper.SetEnvPrefix("medchain")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	RootCmd.AddCommand(ServeCmd)
	RootCmd.AddCommand(VerifyCmd)
	RootCmd.AddCommand(HistoryCmd)
	RootCmd.AddCommand(MetricsCmd)
	RootCmd.AddCommand(ClientCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() {
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env")
	}

	if err := viper.ReadInConfig(); err == nil {
		slog.Info("Using config file", "file", viper.ConfigFileUsed())
	} else {
		slog.Info("No config file found")
	}

	if err := RootCmd.Execute(); err != nil {
		slog.Error("An error occurred", "error", err)
		os.Exit(1)
	}
}
