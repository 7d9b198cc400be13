package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftedinit/medchain/internal/chain"
	"github.com/liftedinit/medchain/internal/hasher"
	"github.com/liftedinit/medchain/internal/ledger"
	"github.com/liftedinit/medchain/internal/models"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type flakyBackend struct {
	*ledger.MemoryBackend
	failAppend bool
	failLoad   bool
}

func (f *flakyBackend) AppendBlock(ctx context.Context, b models.Block) error {
	if f.failAppend {
		return errors.New("disk full")
	}
	return f.MemoryBackend.AppendBlock(ctx, b)
}

func (f *flakyBackend) LoadBlocks(ctx context.Context) ([]models.Block, error) {
	if f.failLoad {
		return nil, errors.New("io error")
	}
	return f.MemoryBackend.LoadBlocks(ctx)
}

func record(patient string) models.Record {
	return models.Record{
		PatientID:   patient,
		DoctorID:    "d001",
		Department:  models.DefaultDepartment,
		Timestamp:   models.Timestamp(t0),
		DataHash:    "aa",
		ConsentHash: hasher.SumString(patient + "123456"),
		MedicalData: models.MedicalData{Diagnosis: "flu", Prescription: "rest"},
	}
}

func newLedger(t *testing.T, opts ...ledger.Option) (*ledger.Ledger, *flakyBackend) {
	t.Helper()
	backend := &flakyBackend{MemoryBackend: ledger.NewMemoryBackend()}
	l := ledger.New(backend, append([]ledger.Option{ledger.WithClock(func() time.Time { return t0 })}, opts...)...)
	require.NoError(t, l.Init(context.Background()))
	return l, backend
}

func commitOne(t *testing.T, l *ledger.Ledger, patient string) models.Block {
	t.Helper()
	tip, ok := l.Tip()
	require.True(t, ok)
	b, err := l.Commit(context.Background(), chain.NewCandidate(&tip, []models.Record{record(patient)}, t0))
	require.NoError(t, err)
	return b
}

func TestInit(t *testing.T) {
	t.Run("CreatesGenesis", func(t *testing.T) {
		l, _ := newLedger(t)
		blocks := l.Blocks()
		require.Len(t, blocks, 1)
		assert.Equal(t, "0", blocks[0].PreviousHash)
		assert.Equal(t, hasher.SumString("[]"), blocks[0].DataHash)
		assert.Equal(t, hasher.SumString(""), blocks[0].ConsentHash)

		_, ok := l.Head()
		assert.False(t, ok)
	})

	t.Run("Idempotent", func(t *testing.T) {
		l, _ := newLedger(t)
		require.NoError(t, l.Init(context.Background()))
		require.NoError(t, l.Init(context.Background()))
		assert.Equal(t, 1, l.Len())
	})

	t.Run("IdempotentOverForeignBlockZero", func(t *testing.T) {
		ctx := context.Background()
		backend := ledger.NewMemoryBackend()
		require.NoError(t, backend.Init(ctx))
		foreign := chain.NewGenesis(t0)
		foreign.PreviousHash = strings.Repeat("f", 64)
		require.NoError(t, backend.AppendBlock(ctx, foreign))

		for range 3 {
			require.NoError(t, ledger.New(backend).Init(ctx))
		}
		l := ledger.New(backend)
		require.NoError(t, l.Init(ctx))
		blocks := l.Blocks()
		require.Len(t, blocks, 2)
		assert.EqualValues(t, 1, blocks[1].Index)
		assert.True(t, blocks[1].IsGenesis())
	})

	t.Run("ReloadsPersistedChain", func(t *testing.T) {
		l, backend := newLedger(t)
		commitOne(t, l, "p001")

		reloaded := ledger.New(backend)
		require.NoError(t, reloaded.Init(context.Background()))
		assert.Equal(t, 2, reloaded.Len())
		assert.Equal(t, l.Blocks(), reloaded.Blocks())
	})

	t.Run("StorageFailure", func(t *testing.T) {
		backend := &flakyBackend{MemoryBackend: ledger.NewMemoryBackend(), failAppend: true}
		err := ledger.New(backend).Init(context.Background())
		require.Error(t, err)
		assert.True(t, ledger.IsStorageError(err))
	})
}

func TestCommit(t *testing.T) {
	t.Run("AssignsSequentialIndexes", func(t *testing.T) {
		l, _ := newLedger(t)
		for i := 1; i <= 4; i++ {
			b := commitOne(t, l, fmt.Sprintf("p%03d", i))
			assert.EqualValues(t, i, b.Index)
		}

		head, ok := l.Head()
		require.True(t, ok)
		assert.EqualValues(t, 4, head.Index)
		require.NoError(t, l.Validate())

		blocks := l.Blocks()
		for i := 1; i < len(blocks); i++ {
			assert.Equal(t, chain.Hash(blocks[i-1]), blocks[i].PreviousHash)
		}
	})

	t.Run("FailureLeavesChainUntouched", func(t *testing.T) {
		l, backend := newLedger(t)
		backend.failAppend = true

		tip, _ := l.Tip()
		_, err := l.Commit(context.Background(), chain.NewCandidate(&tip, []models.Record{record("p001")}, t0))
		var serr *ledger.StorageError
		require.True(t, errors.As(err, &serr))
		assert.Contains(t, err.Error(), "disk full")
		assert.Equal(t, 1, l.Len())
	})

	t.Run("ConcurrentCommitsGetDistinctIndexes", func(t *testing.T) {
		l, _ := newLedger(t)
		tip, _ := l.Tip()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := l.Commit(context.Background(), chain.NewCandidate(&tip, []models.Record{record(fmt.Sprintf("p%03d", i))}, t0))
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		seen := make(map[uint64]bool)
		for _, b := range l.Blocks() {
			assert.False(t, seen[b.Index])
			seen[b.Index] = true
		}
		assert.Len(t, seen, 21)
	})
}

func TestLoad(t *testing.T) {
	corrupt := func(t *testing.T, backend *flakyBackend) {
		t.Helper()
		blocks, err := backend.MemoryBackend.LoadBlocks(context.Background())
		require.NoError(t, err)
		tampered := ledger.NewMemoryBackend()
		for i, b := range blocks {
			if i == 1 {
				recs := append([]models.Record(nil), b.Records...)
				recs[0].MedicalData.Diagnosis = "tampered"
				b.Records = recs
			}
			require.NoError(t, tampered.AppendBlock(context.Background(), b))
		}
		backend.MemoryBackend = tampered
	}

	t.Run("WarnServesCorruptChain", func(t *testing.T) {
		l, backend := newLedger(t)
		commitOne(t, l, "p001")
		corrupt(t, backend)

		blocks, err := l.Load(context.Background())
		require.NoError(t, err)
		assert.Len(t, blocks, 2)
		require.Error(t, l.Validate())
	})

	t.Run("RejectFailsOnCorruptChain", func(t *testing.T) {
		l, backend := newLedger(t, ledger.WithCorruptionPolicy(ledger.RejectCorruption))
		commitOne(t, l, "p001")
		corrupt(t, backend)

		_, err := l.Load(context.Background())
		var ierr *chain.IntegrityError
		require.True(t, errors.As(err, &ierr))
		assert.Equal(t, 1, ierr.Index)
	})

	t.Run("BackendFailure", func(t *testing.T) {
		l, backend := newLedger(t)
		backend.failLoad = true
		_, err := l.Load(context.Background())
		assert.True(t, ledger.IsStorageError(err))
	})
}

func TestPatientHistory(t *testing.T) {
	l, _ := newLedger(t)
	commitOne(t, l, "p001")
	commitOne(t, l, "p002")
	commitOne(t, l, "p001")

	history := l.PatientHistory("p001")
	require.Len(t, history, 2)
	assert.Equal(t, "flu", history[0].Diagnosis)
	assert.Equal(t, models.DefaultDepartment, history[0].Department)
	assert.Equal(t, hasher.SumString("p001123456"), history[1].ConsentHash)

	assert.Len(t, l.PatientHistory("p002"), 1)
	assert.NotNil(t, l.PatientHistory("p404"))
	assert.Empty(t, l.PatientHistory("p404"))
}
