package metrics_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftedinit/medchain/internal/metrics"
	"github.com/liftedinit/medchain/internal/models"
)

func entry(attempted uint64) models.MetricsEntry {
	return models.MetricsEntry{
		Timestamp:       "2024-01-01T00:00:00Z",
		Latency:         0.42,
		TPS:             2.38,
		Energy:          33.6,
		TotalEnergy:     33.6 * float64(attempted),
		SuccessRate:     100,
		AttemptedBlocks: attempted,
		SuccessBlocks:   attempted,
		TxCount:         1,
		Outcome:         "committed",
		Consensus:       models.ConsensusTally{Votes: 4, RequiredVotes: 3, ValidatorCount: 4},
	}
}

func TestRecorder(t *testing.T) {
	t.Run("MissingFile", func(t *testing.T) {
		r := metrics.NewRecorder(filepath.Join(t.TempDir(), "metrics.json"))
		entries, err := r.Load()
		require.NoError(t, err)
		assert.Empty(t, entries)
		assert.NotNil(t, r.Recent(10))
	})

	t.Run("AppendsOneLinePerEntry", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "metrics.json")
		r := metrics.NewRecorder(path)
		r.Record(entry(1))
		r.Record(entry(2))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, 2, countLines(data))
		assert.Contains(t, string(data), `"attempted_blocks":1`)
		assert.Contains(t, string(data), `"consensus":{"votes":4,"required_votes":3,"validator_count":4}`)

		entries, err := r.Load()
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, entry(2), entries[1])
	})

	t.Run("RecentIsNewestLast", func(t *testing.T) {
		r := metrics.NewRecorder(filepath.Join(t.TempDir(), "metrics.json"))
		for i := uint64(1); i <= 150; i++ {
			r.Record(entry(i))
		}

		recent := r.Recent(0)
		require.Len(t, recent, metrics.DefaultRecentLimit)
		assert.Equal(t, uint64(51), recent[0].AttemptedBlocks)
		assert.Equal(t, uint64(150), recent[len(recent)-1].AttemptedBlocks)

		last := r.Recent(3)
		require.Len(t, last, 3)
		assert.Equal(t, uint64(148), last[0].AttemptedBlocks)

		assert.Len(t, r.Recent(-1), 150)
	})

	t.Run("MalformedFileYieldsNothing", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "metrics.json")
		require.NoError(t, os.WriteFile(path, []byte("{\"tps\":1}\nnot json\n"), 0o644))
		r := metrics.NewRecorder(path)

		_, err := r.Load()
		require.Error(t, err)
		assert.Empty(t, r.Recent(10))
	})

	t.Run("UnwritablePathIsDropped", func(t *testing.T) {
		r := metrics.NewRecorder(filepath.Join(t.TempDir(), "missing", "metrics.json"))
		assert.NotPanics(t, func() { r.Record(entry(1)) })
		assert.Empty(t, r.Recent(10))
	})

	t.Run("ConcurrentRecords", func(t *testing.T) {
		r := metrics.NewRecorder(filepath.Join(t.TempDir(), "metrics.json"))
		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				r.Record(entry(uint64(i)))
			}(i)
		}
		wg.Wait()

		entries, err := r.Load()
		require.NoError(t, err)
		assert.Len(t, entries, 32)
	})

	t.Run("DefaultPath", func(t *testing.T) {
		assert.Equal(t, metrics.DefaultFile, metrics.NewRecorder("").Path())
	})
}

func countLines(data []byte) int {
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}
