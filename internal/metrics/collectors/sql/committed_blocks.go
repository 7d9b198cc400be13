package sql

import (
	"database/sql"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// CommittedBlocksQuery counts committed blocks and the records they carry.
// Genesis is included in the block count.
const CommittedBlocksQuery = `SELECT COUNT(*), COALESCE(SUM(jsonb_array_length(records)), 0) FROM api.blocks`

type CommittedBlocksCollector struct {
	db          *sql.DB
	blockCount  *prometheus.Desc
	recordCount *prometheus.Desc
}

func NewCommittedBlocksCollector(db *sql.DB) *CommittedBlocksCollector {
	return &CommittedBlocksCollector{
		db: db,
		blockCount: prometheus.NewDesc(
			prometheus.BuildFQName("medchain", "blocks", "total_count"),
			"Committed block count, genesis included",
			nil,
			prometheus.Labels{"source": "postgres"},
		),
		recordCount: prometheus.NewDesc(
			prometheus.BuildFQName("medchain", "records", "total_count"),
			"Committed medical record count",
			nil,
			prometheus.Labels{"source": "postgres"},
		),
	}
}

func (c *CommittedBlocksCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.blockCount
	ch <- c.recordCount
}

func (c *CommittedBlocksCollector) Collect(ch chan<- prometheus.Metric) {
	var blocks, records int64
	if err := c.db.QueryRow(CommittedBlocksQuery).Scan(&blocks, &records); err != nil {
		slog.Error("Failed to query committed blocks", "error", err)
		ch <- prometheus.NewInvalidMetric(c.blockCount, err)
		ch <- prometheus.NewInvalidMetric(c.recordCount, err)
		return
	}

	ch <- prometheus.MustNewConstMetric(c.blockCount, prometheus.CounterValue, float64(blocks))
	ch <- prometheus.MustNewConstMetric(c.recordCount, prometheus.CounterValue, float64(records))
}

func init() {
	RegisterCollectorFactory(func(db *sql.DB) (prometheus.Collector, error) {
		return NewCommittedBlocksCollector(db), nil
	})
}
