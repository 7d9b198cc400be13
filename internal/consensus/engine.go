// Package consensus commits pending records to the ledger after a simulated
// Byzantine-quorum vote among a fixed validator set.
//
// An attempt moves through Idle, Assembling, Voting and then Committing or
// Rejected before returning to Idle. Only one attempt runs at a time. Every
// attempt that reaches the vote produces exactly one metrics entry.
package consensus

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/liftedinit/medchain/internal/chain"
	"github.com/liftedinit/medchain/internal/hasher"
	"github.com/liftedinit/medchain/internal/models"
)

const (
	DefaultBatchWindow       = 6 * time.Second
	DefaultEnergyCoefficient = 20.0
)

const (
	OutcomeCommitted     = "committed"
	OutcomeRejected      = "rejected"
	OutcomeStorageFailed = "storage_failed"
)

// Ledger is the part of the ledger store the engine needs.
type Ledger interface {
	Tip() (models.Block, bool)
	Commit(ctx context.Context, candidate models.Block) (models.Block, error)
	Validate() error
}

// Pending is the part of the pending batch the engine needs.
type Pending interface {
	Snapshot() []models.Record
	Release(n int) []models.Record
	Len() int
}

// Recorder receives one entry per attempt. It must not fail the attempt.
type Recorder interface {
	Record(entry models.MetricsEntry)
}

type Config struct {
	Validators        []string
	BatchWindow       time.Duration
	EnergyCoefficient float64
	// VoteTimeout bounds the vote round. Zero means unbounded.
	VoteTimeout time.Duration
}

// VoteResult is the report of one validator for one vote.
type VoteResult struct {
	Validator string
	Latency   time.Duration
	Approved  bool
	Err       error
}

// Reason explains a vote against.
func (r VoteResult) Reason() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	if !r.Approved {
		return ErrInvalidBlock.Error()
	}
	return ""
}

// Outcome describes a committed block.
type Outcome struct {
	Block      models.Block
	Votes      int
	Required   int
	Validators int
	Results    []VoteResult
}

// Message is the operator-facing summary of a commit.
func (o *Outcome) Message() string {
	return fmt.Sprintf("Block %s committed | %d/%d validators approved | %d transactions",
		o.Block.DataHash[:8], o.Votes, o.Validators, len(o.Block.Records))
}

// Stats are the cumulative counters of the engine.
type Stats struct {
	Attempted   uint64
	Succeeded   uint64
	TotalEnergy float64
	LastCommit  time.Time
}

// SuccessRate is the share of attempts that committed, in percent.
func (s Stats) SuccessRate() float64 {
	if s.Attempted == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Attempted) * 100
}

type Engine struct {
	attemptMu sync.Mutex

	cfg      Config
	ledger   Ledger
	pending  Pending
	recorder Recorder
	rounds   RoundFunc
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time

	state atomic.Int32

	statsMu sync.RWMutex
	stats   Stats
}

// Option configures an Engine.
type Option func(*Engine)

// WithRounds replaces the random latency and fault model.
func WithRounds(f RoundFunc) Option {
	return func(e *Engine) { e.rounds = f }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSleeper replaces the function that waits out a validator's latency.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = sleep }
}

func NewEngine(cfg Config, ledger Ledger, pending Pending, recorder Recorder, opts ...Option) *Engine {
	if cfg.BatchWindow < 0 {
		cfg.BatchWindow = 0
	}
	if cfg.EnergyCoefficient == 0 {
		cfg.EnergyCoefficient = DefaultEnergyCoefficient
	}
	e := &Engine{
		cfg:      cfg,
		ledger:   ledger,
		pending:  pending,
		recorder: recorder,
		rounds:   RandomRounds(DefaultMinLatency, DefaultMaxLatency, DefaultFaultProbability),
		sleep:    sleepContext,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	// The window is measured from engine start until the first commit.
	e.stats.LastCommit = e.now()
	return e
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) Stats() Stats {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	return e.stats
}

func (e *Engine) Validators() []string {
	out := make([]string, len(e.cfg.Validators))
	copy(out, e.cfg.Validators)
	return out
}

// Remaining returns how long until the batch window elapses, never negative.
func (e *Engine) Remaining() time.Duration {
	e.statsMu.RLock()
	last := e.stats.LastCommit
	e.statsMu.RUnlock()

	remaining := e.cfg.BatchWindow - e.now().Sub(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// TryCommit runs one consensus attempt. It returns the committed block's
// outcome, or one of ErrNoValidators, ErrNoPending, *WindowError,
// *chain.IntegrityError, *RejectedError, *StorageFailedError or
// *ProcessError. A ProcessError leaves the engine exactly as it was.
func (e *Engine) TryCommit(ctx context.Context) (out *Outcome, err error) {
	e.attemptMu.Lock()
	defer e.attemptMu.Unlock()

	if len(e.cfg.Validators) == 0 {
		return nil, ErrNoValidators
	}
	if rem := e.Remaining(); rem > 0 {
		return nil, &WindowError{Remaining: rem}
	}
	if e.pending.Len() == 0 {
		return nil, ErrNoPending
	}

	saved := e.Stats()
	var committed *Outcome
	defer func() {
		if r := recover(); r != nil {
			if committed != nil {
				// The block is durable and the batch released; nothing to undo.
				slog.Error("Fault after block commit", "index", committed.Block.Index, "error", r)
				out, err = committed, nil
			} else {
				out, err = nil, e.fail(saved, fmt.Sprint(r), debug.Stack())
			}
		}
		e.state.Store(int32(Idle))
	}()

	return e.attempt(context.WithoutCancel(ctx), saved, &committed)
}

// attempt stores the outcome in committed as soon as the block is durable
// and the counters reflect it.
func (e *Engine) attempt(ctx context.Context, saved Stats, committed **Outcome) (*Outcome, error) {
	if err := e.ledger.Validate(); err != nil {
		return nil, fmt.Errorf("chain invalid: %w", err)
	}

	e.state.Store(int32(Assembling))
	records := e.pending.Snapshot()
	var tip *models.Block
	if b, ok := e.ledger.Tip(); ok {
		tip = &b
	}
	candidate := chain.NewCandidate(tip, records, e.now())

	e.state.Store(int32(Voting))
	start := e.now()
	results, err := e.vote(ctx, candidate)
	if err != nil {
		return nil, e.fail(saved, err.Error(), nil)
	}
	elapsed := e.now().Sub(start)

	votes := 0
	for _, r := range results {
		if r.Approved {
			votes++
		}
	}
	n := len(e.cfg.Validators)
	required := RequiredVotes(n)
	energy := elapsed.Seconds() * float64(n) * e.cfg.EnergyCoefficient

	e.statsMu.Lock()
	e.stats.Attempted++
	e.statsMu.Unlock()

	var (
		outcome *Outcome
		result  error
		label   string
	)
	if votes >= required {
		e.state.Store(int32(Committing))
		block, cerr := e.ledger.Commit(ctx, candidate)
		if cerr != nil {
			label = OutcomeStorageFailed
			result = &StorageFailedError{Err: cerr}
			slog.Error("Block storage failed", "error", cerr, "votes", votes, "required", required)
		} else {
			label = OutcomeCommitted
			e.pending.Release(len(records))
			e.statsMu.Lock()
			e.stats.Succeeded++
			e.stats.LastCommit = e.now()
			e.statsMu.Unlock()
			outcome = &Outcome{Block: block, Votes: votes, Required: required, Validators: n, Results: results}
			*committed = outcome
			slog.Info("Block committed", "index", block.Index, "records", len(records), "votes", votes, "validators", n)
		}
	} else {
		e.state.Store(int32(Rejected))
		label = OutcomeRejected
		result = &RejectedError{Votes: votes, Required: required, Results: results}
		slog.Warn("Consensus rejected", "votes", votes, "required", required)
	}

	e.statsMu.Lock()
	e.stats.TotalEnergy += energy
	stats := e.stats
	e.statsMu.Unlock()

	e.record(e.entry(elapsed, energy, len(records), votes, required, label, stats))

	return outcome, result
}

// record hands entry to the recorder. Metrics are best effort and a
// recorder fault never changes the attempt's result.
func (e *Engine) record(entry models.MetricsEntry) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Failed to record consensus metrics", "error", r)
		}
	}()
	e.recorder.Record(entry)
}

// vote consults every validator concurrently and returns once all of them
// have reported. A non-nil error means a validator faulted unexpectedly.
func (e *Engine) vote(ctx context.Context, candidate models.Block) ([]VoteResult, error) {
	voteCtx := ctx
	if e.cfg.VoteTimeout > 0 {
		var cancel context.CancelFunc
		voteCtx, cancel = context.WithTimeout(ctx, e.cfg.VoteTimeout)
		defer cancel()
	}

	results := make([]VoteResult, len(e.cfg.Validators))
	var eg errgroup.Group
	for i, validator := range e.cfg.Validators {
		eg.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("validator %s panicked: %v", validator, r)
				}
			}()
			results[i] = e.consult(voteCtx, validator, candidate)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) consult(ctx context.Context, validator string, candidate models.Block) VoteResult {
	round := e.rounds(validator)
	res := VoteResult{Validator: validator, Latency: round.Latency}

	if err := e.sleep(ctx, round.Latency); err != nil {
		res.Err = ErrVoteTimeout
		return res
	}
	if round.Err != nil {
		res.Err = round.Err
		return res
	}

	res.Approved = chain.ValidateCandidate(candidate)
	return res
}

func (e *Engine) entry(elapsed time.Duration, energy float64, txCount, votes, required int, outcome string, stats Stats) models.MetricsEntry {
	latency := elapsed.Seconds()
	tps := 0.0
	if latency > 0 {
		tps = float64(txCount) / latency
	}
	return models.MetricsEntry{
		Timestamp:       models.Timestamp(e.now()),
		Latency:         latency,
		TPS:             round2(tps),
		Energy:          round2(energy),
		TotalEnergy:     round2(stats.TotalEnergy),
		SuccessRate:     round2(stats.SuccessRate()),
		AttemptedBlocks: stats.Attempted,
		SuccessBlocks:   stats.Succeeded,
		TxCount:         txCount,
		Outcome:         outcome,
		Consensus: models.ConsensusTally{
			Votes:          votes,
			RequiredVotes:  required,
			ValidatorCount: len(e.cfg.Validators),
		},
	}
}

// fail restores the counters saved before the attempt and wraps the fault.
func (e *Engine) fail(saved Stats, cause string, stack []byte) error {
	e.statsMu.Lock()
	e.stats = saved
	e.statsMu.Unlock()

	fp := hasher.Fingerprint(cause)
	slog.Error("Consensus critical error", "fingerprint", fp, "error", cause, "stack", string(stack))
	return &ProcessError{Fingerprint: fp, Cause: cause}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
