package postgresql

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/liftedinit/medchain/internal/models"
)

//go:embed migrations/*
var migrationsFS embed.FS

const (
	LoadBlocksQuery = `SELECT id, timestamp, records, previous_hash, data_hash, consent_hash FROM api.blocks ORDER BY id ASC`
	InsertBlockSQL  = `INSERT INTO api.blocks (id, timestamp, records, previous_hash, data_hash, consent_hash, medical_data) VALUES ($1, $2, $3, $4, $5, $6, $7)`
)

// Store persists blocks in the api.blocks table.
type Store struct {
	pool *pgxpool.Pool
	db   *sql.DB
}

// NewStore connects to PostgreSQL and brings the schema up to date.
func NewStore(connString string, maxConns uint) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL connection string: %w", err)
	}

	if maxConns > math.MaxInt32 {
		return nil, fmt.Errorf("max connections exceeds maximum int32 value")
	}
	if maxConns > 0 {
		config.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	store := &Store{
		pool: pool,
		db:   stdlib.OpenDBFromPool(pool),
	}

	// Run migrations. This is idempotent.
	if err = store.runMigrations(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// NewStoreFromDB wraps an existing database handle whose schema is already
// migrated.
func NewStoreFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the database handle used by the store.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Init(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to reach PostgreSQL: %w", err)
	}
	return nil
}

func (s *Store) LoadBlocks(ctx context.Context) ([]models.Block, error) {
	rows, err := s.db.QueryContext(ctx, LoadBlocksQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocks: %w", err)
	}
	defer rows.Close()

	blocks := make([]models.Block, 0)
	for rows.Next() {
		var (
			b       models.Block
			records []byte
		)
		if err := rows.Scan(&b.Index, &b.Timestamp, &records, &b.PreviousHash, &b.DataHash, &b.ConsentHash); err != nil {
			return nil, fmt.Errorf("failed to scan block: %w", err)
		}
		if err := json.Unmarshal(records, &b.Records); err != nil {
			return nil, fmt.Errorf("failed to decode records of block %d: %w", b.Index, err)
		}
		blocks = append(blocks, b.Normalized())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate blocks: %w", err)
	}

	return blocks, nil
}

func (s *Store) AppendBlock(ctx context.Context, block models.Block) error {
	block = block.Normalized()

	records, err := json.Marshal(block.Records)
	if err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}
	medical, err := json.Marshal(block.MedicalDataSnapshot())
	if err != nil {
		return fmt.Errorf("failed to encode medical data: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Ensure rollback if commit is not reached

	_, err = tx.ExecContext(ctx, InsertBlockSQL,
		block.Index, block.Timestamp, string(records), block.PreviousHash, block.DataHash, block.ConsentHash, string(medical))
	if err != nil {
		return fmt.Errorf("failed to write block: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (s *Store) runMigrations() error {
	slog.Info("Running PostgreSQL migrations...")

	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// The migration driver closes its handle, so it gets one of its own.
	driver, err := migratepgx.WithInstance(stdlib.OpenDBFromPool(s.pool), &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", d, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	defer m.Close()

	if err = m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func (s *Store) Close() error {
	slog.Info("Closing PostgreSQL connection pool")
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Warn("Failed to close database handle", "error", err)
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
	slog.Info("PostgreSQL connection pool closed")
	return nil
}
