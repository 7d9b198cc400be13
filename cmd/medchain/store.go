package medchain

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/liftedinit/medchain/internal/config"
	"github.com/liftedinit/medchain/internal/ledger"
	"github.com/liftedinit/medchain/internal/ledger/leveldb"
	"github.com/liftedinit/medchain/internal/ledger/postgresql"
)

// heightReporter is a backend that tracks the index of its last write
// separately from the blocks themselves.
type heightReporter interface {
	Height() (uint64, bool, error)
}

// openedLedger is an initialized ledger and, for PostgreSQL, its database.
type openedLedger struct {
	*ledger.Ledger
	db     *sql.DB
	height heightReporter
}

func loadLedgerConfig() (config.LedgerConfig, error) {
	cfg := config.LoadLedgerConfigFromCLI()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid ledger configuration: %w", err)
	}
	slog.Debug("Ledger configuration", "store", cfg.Store, "strict", cfg.StrictChain)
	return cfg, nil
}

func newBackend(cfg config.LedgerConfig) (ledger.Backend, *sql.DB, error) {
	switch cfg.Store {
	case config.StorePostgres:
		store, err := postgresql.NewStore(cfg.Postgres.ConnString, cfg.Postgres.MaxConns)
		if err != nil {
			return nil, nil, errors.WithMessage(err, "failed to open PostgreSQL block store")
		}
		return store, store.DB(), nil
	case config.StoreLevelDB:
		return leveldb.NewStore(cfg.LevelDBPath), nil, nil
	default:
		return ledger.NewMemoryBackend(), nil, nil
	}
}

// openLedger opens the configured store and guarantees a genesis block.
func openLedger(ctx context.Context, cfg config.LedgerConfig) (*openedLedger, error) {
	backend, db, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}

	policy := ledger.WarnOnCorruption
	if cfg.StrictChain {
		policy = ledger.RejectCorruption
	}

	l := ledger.New(backend, ledger.WithCorruptionPolicy(policy))
	if err := l.Init(ctx); err != nil {
		_ = backend.Close()
		return nil, errors.WithMessage(err, "failed to initialize ledger")
	}
	slog.Info("Ledger loaded", "store", cfg.Store, "blocks", l.Len())
	opened := &openedLedger{Ledger: l, db: db}
	if h, ok := backend.(heightReporter); ok {
		opened.height = h
	}
	return opened, nil
}
