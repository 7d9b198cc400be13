package medchain

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/liftedinit/medchain/internal/api"
	"github.com/liftedinit/medchain/internal/auth"
	"github.com/liftedinit/medchain/internal/config"
	"github.com/liftedinit/medchain/internal/consensus"
	"github.com/liftedinit/medchain/internal/consent"
	"github.com/liftedinit/medchain/internal/metrics"
	"github.com/liftedinit/medchain/internal/metrics/collectors"
	sqlcollectors "github.com/liftedinit/medchain/internal/metrics/collectors/sql"
	"github.com/liftedinit/medchain/internal/node"
)

const shutdownTimeout = 10 * time.Second

var defaultValidators = []string{"Hospital Node", "Clinic Node", "Pharmacy Node", "Insurance Node"}

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ledger node and its HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ledgerCfg, err := loadLedgerConfig()
		if err != nil {
			return err
		}
		consensusCfg := config.LoadConsensusConfigFromCLI()
		if err := consensusCfg.Validate(); err != nil {
			return fmt.Errorf("invalid consensus configuration: %w", err)
		}
		consentCfg := config.LoadConsentConfigFromCLI()
		if err := consentCfg.Validate(); err != nil {
			return fmt.Errorf("invalid consent configuration: %w", err)
		}
		serveCfg := config.LoadServeConfigFromCLI()
		if err := serveCfg.Validate(); err != nil {
			return fmt.Errorf("invalid serve configuration: %w", err)
		}
		slog.Debug("Command-line arguments", "consensus", consensusCfg, "consent", consentCfg, "addr", serveCfg.Addr)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		handleInterrupt(cancel)

		return serve(ctx, ledgerCfg, consensusCfg, consentCfg, serveCfg)
	},
}

func serve(ctx context.Context, ledgerCfg config.LedgerConfig, consensusCfg config.ConsensusConfig, consentCfg config.ConsentConfig, serveCfg config.ServeConfig) error {
	l, err := openLedger(ctx, ledgerCfg)
	if err != nil {
		return err
	}
	defer func() {
		slog.Info("Closing block store")
		if err := l.Close(); err != nil {
			slog.Error("Failed to close block store", "error", err)
		}
	}()

	users, err := auth.LoadDirectory(serveCfg.UsersFile)
	if err != nil {
		return err
	}

	secret := []byte(serveCfg.JWTSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		slog.Warn("No JWT secret configured, tokens will not survive a restart")
	}

	n := node.New(l.Ledger,
		consent.NewAuthority(consentCfg.TTL),
		metrics.NewRecorder(serveCfg.MetricsFile),
		consensus.Config{
			Validators:  consensusCfg.Validators,
			BatchWindow: consensusCfg.BatchWindow,
			VoteTimeout: consensusCfg.VoteTimeout,
		},
		node.WithEngineOptions(consensus.WithRounds(
			consensus.RandomRounds(consensusCfg.MinLatency, consensusCfg.MaxLatency, consensusCfg.FaultProbability),
		)),
	)

	if serveCfg.EnablePrometheus {
		cs := []prometheus.Collector{collectors.NewConsensusCollector(n)}
		if l.db != nil {
			sqlCollectors, err := sqlcollectors.DefaultRegistry.Collectors(l.db)
			if err != nil {
				return fmt.Errorf("failed to create SQL collectors: %w", err)
			}
			cs = append(cs, sqlCollectors...)
		}
		metricsServer, err := metrics.CreateMetricsServer(serveCfg.PrometheusAddr, cs...)
		if err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer shutdown(metricsServer)
	}

	apiServer, err := api.NewServer(n, users, auth.NewIssuer(secret, serveCfg.TokenTTL), api.Options{
		StaticDir:      serveCfg.StaticDir,
		AllowedOrigins: serveCfg.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              serveCfg.Addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if serveCfg.CommitInterval > 0 {
		slog.Info("Auto-commit enabled", "interval", serveCfg.CommitInterval)
		go n.AutoCommit(ctx, serveCfg.CommitInterval)
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP API", "addr", serveCfg.Addr, "validators", len(consensusCfg.Validators))
		errChan <- server.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP API failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdown(server)
		return nil
	}
}

func shutdown(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Failed to shut down server", "addr", server.Addr, "error", err)
	}
}

// handleInterrupt handles interrupt signals for graceful shutdown.
func handleInterrupt(cancel context.CancelFunc) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		slog.Info("Received interrupt signal, shutting down...")
		cancel()
	}()
}

func init() {
	ServeCmd.Flags().String("addr", "0.0.0.0:5000", "HTTP API listen address")
	ServeCmd.Flags().String("static-dir", "", "Directory of frontend files served for non-API paths")
	ServeCmd.Flags().StringSlice("allowed-origins", []string{"*"}, "CORS allowed origins")
	ServeCmd.Flags().Bool("enable-prometheus", false, "Enable Prometheus metrics server")
	ServeCmd.Flags().String("prometheus-addr", "0.0.0.0:2112", "Address and port of the Prometheus metrics server")
	ServeCmd.Flags().String("jwt-secret", "", "HS256 secret for session tokens (random when empty)")
	ServeCmd.Flags().Duration("token-ttl", auth.DefaultTokenTTL, "Session token lifetime")
	ServeCmd.Flags().Duration("commit-interval", 0, "Attempt a commit this often (0 for manual commits only)")
	ServeCmd.Flags().String("users-file", "", "JSON user directory (built-in demo users when empty)")

	ServeCmd.Flags().StringSlice("validators", defaultValidators, "Validator set")
	ServeCmd.Flags().Duration("batch-window", consensus.DefaultBatchWindow, "Minimum time between committed blocks")
	ServeCmd.Flags().Duration("min-latency", consensus.DefaultMinLatency, "Lower bound of simulated validator latency")
	ServeCmd.Flags().Duration("max-latency", consensus.DefaultMaxLatency, "Upper bound of simulated validator latency")
	ServeCmd.Flags().Float64("fault-probability", consensus.DefaultFaultProbability, "Probability that a validator is unreachable in a vote")
	ServeCmd.Flags().Duration("vote-timeout", 0, "Bound on a whole vote round (0 for none)")
	ServeCmd.Flags().Duration("consent-ttl", consent.DefaultTTL, "Lifetime of a consent OTP")

	if err := viper.BindPFlags(ServeCmd.Flags()); err != nil {
		slog.Error("Failed to bind ServeCmd flags", "error", err)
	}
}
