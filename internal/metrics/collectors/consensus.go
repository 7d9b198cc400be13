package collectors

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/liftedinit/medchain/internal/models"
)

// StatsSource is anything that reports node counters, usually a *node.Node.
type StatsSource interface {
	Stats() models.NodeStats
}

// ConsensusCollector exposes the live counters of a node.
type ConsensusCollector struct {
	source StatsSource

	attempted   *prometheus.Desc
	succeeded   *prometheus.Desc
	energy      *prometheus.Desc
	admitted    *prometheus.Desc
	pending     *prometheus.Desc
	chainHeight *prometheus.Desc
}

func NewConsensusCollector(source StatsSource) *ConsensusCollector {
	labels := prometheus.Labels{"source": "node"}
	return &ConsensusCollector{
		source: source,
		attempted: prometheus.NewDesc(
			prometheus.BuildFQName("medchain", "consensus", "attempted_total"),
			"Consensus attempts that reached the vote",
			nil, labels,
		),
		succeeded: prometheus.NewDesc(
			prometheus.BuildFQName("medchain", "consensus", "succeeded_total"),
			"Consensus attempts that committed a block",
			nil, labels,
		),
		energy: prometheus.NewDesc(
			prometheus.BuildFQName("medchain", "consensus", "energy_total"),
			"Synthetic energy spent voting",
			nil, labels,
		),
		admitted: prometheus.NewDesc(
			prometheus.BuildFQName("medchain", "records", "admitted_total"),
			"Records admitted to the pending batch",
			nil, labels,
		),
		pending: prometheus.NewDesc(
			prometheus.BuildFQName("medchain", "records", "pending"),
			"Records waiting for the next block",
			nil, labels,
		),
		chainHeight: prometheus.NewDesc(
			prometheus.BuildFQName("medchain", "chain", "blocks"),
			"Blocks in the in-memory chain, genesis included",
			nil, labels,
		),
	}
}

func (c *ConsensusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.attempted
	ch <- c.succeeded
	ch <- c.energy
	ch <- c.admitted
	ch <- c.pending
	ch <- c.chainHeight
}

func (c *ConsensusCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()

	ch <- prometheus.MustNewConstMetric(c.attempted, prometheus.CounterValue, float64(s.AttemptedBlocks))
	ch <- prometheus.MustNewConstMetric(c.succeeded, prometheus.CounterValue, float64(s.SuccessBlocks))
	ch <- prometheus.MustNewConstMetric(c.energy, prometheus.CounterValue, s.TotalEnergy)
	ch <- prometheus.MustNewConstMetric(c.admitted, prometheus.CounterValue, float64(s.TotalTx))
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(s.PendingRecords))
	ch <- prometheus.MustNewConstMetric(c.chainHeight, prometheus.GaugeValue, float64(s.BlockCount))
}
