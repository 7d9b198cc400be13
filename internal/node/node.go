// Package node wires the consent authority, pending batch, ledger and
// consensus engine into the operations a request layer calls.
package node

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/liftedinit/medchain/internal/batch"
	"github.com/liftedinit/medchain/internal/chain"
	"github.com/liftedinit/medchain/internal/consensus"
	"github.com/liftedinit/medchain/internal/consent"
	"github.com/liftedinit/medchain/internal/hasher"
	"github.com/liftedinit/medchain/internal/ledger"
	"github.com/liftedinit/medchain/internal/models"
)

const admittedMessage = "record added to batch"

// MetricsLog records consensus attempts and reads them back.
type MetricsLog interface {
	consensus.Recorder
	Recent(limit int) []models.MetricsEntry
}

// SubmitRequest carries the fields of a record admission.
type SubmitRequest struct {
	PatientID   string
	DoctorID    string
	Department  string
	MedicalData models.MedicalData
	OTP         string
}

type Node struct {
	ledger  *ledger.Ledger
	pending *batch.Batch
	consent *consent.Authority
	engine  *consensus.Engine
	metrics MetricsLog
	now     func() time.Time
	totalTx atomic.Uint64
}

type Option func(*options)

type options struct {
	now        func() time.Time
	engineOpts []consensus.Option
}

// WithClock sets the clock used for record timestamps and the batch window.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithEngineOptions passes options through to the consensus engine.
func WithEngineOptions(opts ...consensus.Option) Option {
	return func(o *options) { o.engineOpts = append(o.engineOpts, opts...) }
}

// New builds a node over an initialized ledger.
func New(l *ledger.Ledger, authority *consent.Authority, log MetricsLog, cfg consensus.Config, opts ...Option) *Node {
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}

	pending := batch.New()
	engineOpts := append([]consensus.Option{consensus.WithClock(o.now)}, o.engineOpts...)

	return &Node{
		ledger:  l,
		pending: pending,
		consent: authority,
		engine:  consensus.NewEngine(cfg, l, pending, log, engineOpts...),
		metrics: log,
		now:     o.now,
	}
}

// RequestConsent issues a fresh one-time password for patientID and returns
// it with its lifetime.
func (n *Node) RequestConsent(patientID string) (string, time.Duration, error) {
	otp, err := n.consent.Issue(patientID)
	if err != nil {
		return "", 0, err
	}
	return otp, n.consent.TTL(), nil
}

// Submit redeems the patient's consent and admits the record to the pending
// batch. Identities and medical data are checked before the consent is spent.
func (n *Node) Submit(_ context.Context, req SubmitRequest) (string, error) {
	if req.PatientID == "" {
		return "", &models.ValidationError{Field: "patient_id", Reason: "invalid record format"}
	}
	if req.DoctorID == "" {
		return "", &models.ValidationError{Field: "doctor_id", Reason: "invalid record format"}
	}
	data := req.MedicalData.Trimmed()
	if err := data.Validate(); err != nil {
		return "", err
	}

	if err := n.consent.Redeem(req.PatientID, req.OTP); err != nil {
		return "", err
	}

	dataHash, err := hasher.Sum(data)
	if err != nil {
		return "", fmt.Errorf("failed to hash medical data: %w", err)
	}

	department := strings.TrimSpace(req.Department)
	if department == "" {
		department = models.DefaultDepartment
	}

	record := models.Record{
		PatientID:   req.PatientID,
		DoctorID:    req.DoctorID,
		Department:  department,
		Timestamp:   models.Timestamp(n.now()),
		DataHash:    dataHash,
		ConsentHash: consent.Token(req.PatientID, req.OTP),
		MedicalData: data,
	}
	if !n.pending.Admit(record) {
		return "", &models.ValidationError{Reason: "invalid record format"}
	}

	n.totalTx.Add(1)
	return admittedMessage, nil
}

// TryCommit runs one consensus attempt and returns its summary message.
func (n *Node) TryCommit(ctx context.Context) (string, error) {
	out, err := n.engine.TryCommit(ctx)
	if err != nil {
		return "", err
	}
	return out.Message(), nil
}

// Remaining is the time left before the batch window allows a commit.
func (n *Node) Remaining() time.Duration {
	return n.engine.Remaining()
}

func (n *Node) Validate() (bool, string) {
	return chain.Summary(n.ledger.Blocks())
}

func (n *Node) BlockCount() int {
	return n.ledger.Len()
}

func (n *Node) Pending() int {
	return n.pending.Len()
}

// PatientHistory lists every committed record of patientID in chain order.
func (n *Node) PatientHistory(patientID string) []models.HistoryEntry {
	return n.ledger.PatientHistory(patientID)
}

// RecentMetrics returns the last limit metrics entries, newest last.
func (n *Node) RecentMetrics(limit int) []models.MetricsEntry {
	return n.metrics.Recent(limit)
}

func (n *Node) Stats() models.NodeStats {
	s := n.engine.Stats()
	return models.NodeStats{
		TotalTx:         n.totalTx.Load(),
		AttemptedBlocks: s.Attempted,
		SuccessBlocks:   s.Succeeded,
		TotalEnergy:     s.TotalEnergy,
		SuccessRate:     s.SuccessRate(),
		PendingRecords:  n.pending.Len(),
		BlockCount:      n.ledger.Len(),
	}
}

// Consent exposes the authority for ticket inspection.
func (n *Node) Consent() *consent.Authority {
	return n.consent
}

func (n *Node) Close() error {
	return n.ledger.Close()
}
