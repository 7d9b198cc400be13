// Package ledger owns the durable, ordered sequence of committed blocks.
//
// A Ledger keeps the full chain in memory and mirrors every commit into a
// Backend. Loading always runs the chain validator; whether a corrupt chain
// is served or refused depends on the configured CorruptionPolicy.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/liftedinit/medchain/internal/chain"
	"github.com/liftedinit/medchain/internal/models"
)

// Backend is the durable storage of a ledger.
type Backend interface {
	// Init creates the storage if it does not exist. It is idempotent.
	Init(ctx context.Context) error
	// LoadBlocks returns every persisted block in insertion order.
	LoadBlocks(ctx context.Context) ([]models.Block, error)
	// AppendBlock persists block under block.Index.
	AppendBlock(ctx context.Context, block models.Block) error
	Close() error
}

// CorruptionPolicy decides what Load does with a chain that fails validation.
type CorruptionPolicy int

const (
	// WarnOnCorruption logs the violation and serves the chain anyway.
	WarnOnCorruption CorruptionPolicy = iota
	// RejectCorruption makes Load fail with the violation.
	RejectCorruption
)

// StorageError reports a failed durable write.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

type Ledger struct {
	mu      sync.RWMutex
	backend Backend
	blocks  []models.Block
	policy  CorruptionPolicy
	now     func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithCorruptionPolicy(p CorruptionPolicy) Option {
	return func(l *Ledger) { l.policy = p }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(backend Backend, opts ...Option) *Ledger {
	l := &Ledger{
		backend: backend,
		blocks:  make([]models.Block, 0),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Init prepares the backend and guarantees a genesis block. It is idempotent.
func (l *Ledger) Init(ctx context.Context) error {
	if err := l.backend.Init(ctx); err != nil {
		return &StorageError{Op: "failed to initialize storage", Err: err}
	}

	blocks, err := l.Load(ctx)
	if err != nil {
		return err
	}

	if slices.ContainsFunc(blocks, models.Block.IsGenesis) {
		return nil
	}

	slog.Info("Creating genesis block")
	genesis := chain.NewGenesis(l.now())
	if len(blocks) > 0 {
		// No block carries the genesis marker. The new genesis takes the
		// next free index so existing rows are preserved.
		genesis.Index = blocks[len(blocks)-1].Index + 1
	}
	if err := l.backend.AppendBlock(ctx, genesis); err != nil {
		return &StorageError{Op: "failed to persist genesis block", Err: err}
	}

	_, err = l.Load(ctx)
	return err
}

// Load replaces the in-memory chain with the persisted one and validates it.
func (l *Ledger) Load(ctx context.Context) ([]models.Block, error) {
	blocks, err := l.backend.LoadBlocks(ctx)
	if err != nil {
		return nil, &StorageError{Op: "failed to load blocks", Err: err}
	}
	if blocks == nil {
		blocks = make([]models.Block, 0)
	}

	if verr := chain.Validate(blocks); verr != nil {
		if l.policy == RejectCorruption {
			return nil, verr
		}
		slog.Warn("Chain corruption detected", "error", verr)
	}

	l.mu.Lock()
	l.blocks = blocks
	l.mu.Unlock()

	return copyBlocks(blocks), nil
}

// Commit assigns the next index to candidate, persists it and appends it to
// the chain. On failure the chain is unchanged.
func (l *Ledger) Commit(ctx context.Context, candidate models.Block) (models.Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	block := candidate.Normalized()
	if n := len(l.blocks); n > 0 {
		block.Index = l.blocks[n-1].Index + 1
	} else {
		block.Index = 0
	}

	if err := l.backend.AppendBlock(ctx, block); err != nil {
		return models.Block{}, &StorageError{Op: "failed to persist block", Err: err}
	}

	l.blocks = append(l.blocks, block)
	return block, nil
}

// Head returns the most recently committed block. It reports false when the
// chain holds nothing but genesis.
func (l *Ledger) Head() (models.Block, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.blocks) < 2 {
		return models.Block{}, false
	}
	return l.blocks[len(l.blocks)-1], true
}

// Tip returns the last block of the chain, genesis included.
func (l *Ledger) Tip() (models.Block, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.blocks) == 0 {
		return models.Block{}, false
	}
	return l.blocks[len(l.blocks)-1], true
}

// Blocks returns a copy of the chain.
func (l *Ledger) Blocks() []models.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyBlocks(l.blocks)
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.blocks)
}

// PatientHistory lists every committed record of patientID in chain order.
func (l *Ledger) PatientHistory(patientID string) []models.HistoryEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	history := make([]models.HistoryEntry, 0)
	for _, b := range l.blocks {
		for _, r := range b.Records {
			if r.PatientID != patientID {
				continue
			}
			department := r.Department
			if department == "" {
				department = "Unknown"
			}
			history = append(history, models.HistoryEntry{
				Timestamp:    r.Timestamp,
				DoctorID:     r.DoctorID,
				Department:   department,
				Diagnosis:    r.MedicalData.Diagnosis,
				Prescription: r.MedicalData.Prescription,
				Notes:        r.MedicalData.Notes,
				ConsentHash:  r.ConsentHash,
			})
		}
	}
	return history
}

// Validate runs the chain validator over the in-memory chain.
func (l *Ledger) Validate() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return chain.Validate(l.blocks)
}

func (l *Ledger) Close() error {
	return l.backend.Close()
}

// IsStorageError reports whether err is or wraps a StorageError.
func IsStorageError(err error) bool {
	var serr *StorageError
	return errors.As(err, &serr)
}

func copyBlocks(blocks []models.Block) []models.Block {
	out := make([]models.Block, len(blocks))
	copy(out, blocks)
	return out
}
