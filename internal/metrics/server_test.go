package metrics_test

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftedinit/medchain/internal/metrics"
	"github.com/liftedinit/medchain/internal/metrics/collectors"
	sqlcollectors "github.com/liftedinit/medchain/internal/metrics/collectors/sql"
	"github.com/liftedinit/medchain/internal/models"
)

type staticStats models.NodeStats

func (s staticStats) Stats() models.NodeStats { return models.NodeStats(s) }

func shutdown(t *testing.T, server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))
}

func TestCreateMetricsServer(t *testing.T) {
	t.Run("StartServer", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(regexp.QuoteMeta(sqlcollectors.CommittedBlocksQuery)).
			WillReturnRows(sqlmock.NewRows([]string{"count", "sum"}).AddRow(3, 5))

		server, err := metrics.CreateMetricsServer("127.0.0.1:0",
			sqlcollectors.NewCommittedBlocksCollector(db),
			collectors.NewConsensusCollector(staticStats{AttemptedBlocks: 4, SuccessBlocks: 2, TotalEnergy: 64.5, PendingRecords: 1, BlockCount: 3, TotalTx: 5}),
		)
		require.NoError(t, err)
		defer shutdown(t, server)

		resp, err := http.Get("http://" + server.Addr + "/metrics")
		require.NoError(t, err, "Failed to connect to metrics server")
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

		text := string(body)
		assert.Contains(t, text, `medchain_blocks_total_count{source="postgres"} 3`)
		assert.Contains(t, text, `medchain_records_total_count{source="postgres"} 5`)
		assert.Contains(t, text, `medchain_consensus_attempted_total{source="node"} 4`)
		assert.Contains(t, text, `medchain_consensus_succeeded_total{source="node"} 2`)
		assert.Contains(t, text, `medchain_consensus_energy_total{source="node"} 64.5`)
		assert.Contains(t, text, `medchain_records_admitted_total{source="node"} 5`)
		assert.Contains(t, text, `medchain_records_pending{source="node"} 1`)
		assert.Contains(t, text, `medchain_chain_blocks{source="node"} 3`)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("WhenInvalidAddress", func(t *testing.T) {
		_, err := metrics.CreateMetricsServer("invalid-address😆")
		require.Error(t, err)
	})

	t.Run("WhenInvalidPort", func(t *testing.T) {
		_, err := metrics.CreateMetricsServer("localhost:99999")
		require.Error(t, err)
	})

	t.Run("WhenDuplicateCollector", func(t *testing.T) {
		c := collectors.NewConsensusCollector(staticStats{})
		_, err := metrics.CreateMetricsServer("127.0.0.1:0", c, c)
		require.Error(t, err)
	})
}

func TestDefaultSQLRegistry(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cs, err := sqlcollectors.DefaultRegistry.Collectors(db)
	require.NoError(t, err)
	assert.Len(t, cs, 1)

	_, err = sqlcollectors.DefaultRegistry.Collectors(nil)
	require.Error(t, err)
}

func TestCommittedBlocksCollectorQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(sqlcollectors.CommittedBlocksQuery)).WillReturnError(io.ErrUnexpectedEOF)

	server, err := metrics.CreateMetricsServer("127.0.0.1:0", sqlcollectors.NewCommittedBlocksCollector(db))
	require.NoError(t, err)
	defer shutdown(t, server)

	resp, err := http.Get("http://" + server.Addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.NoError(t, mock.ExpectationsWereMet())
}
