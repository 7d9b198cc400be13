package models

import (
	"fmt"
	"strings"
	"time"
)

const (
	// GenesisPreviousHash marks the first block of a chain.
	GenesisPreviousHash = "0"
	// DefaultDepartment is used when a record is submitted without one.
	DefaultDepartment = "General"
)

// MedicalData is the clinical payload of a record.
type MedicalData struct {
	Diagnosis    string `json:"diagnosis"`
	Prescription string `json:"prescription"`
	Notes        string `json:"notes"`
}

// Trimmed returns a copy with surrounding whitespace removed from every field.
func (m MedicalData) Trimmed() MedicalData {
	return MedicalData{
		Diagnosis:    strings.TrimSpace(m.Diagnosis),
		Prescription: strings.TrimSpace(m.Prescription),
		Notes:        strings.TrimSpace(m.Notes),
	}
}

// Validate reports the first required field that is blank.
func (m MedicalData) Validate() error {
	if strings.TrimSpace(m.Diagnosis) == "" {
		return &ValidationError{Field: "diagnosis", Reason: "diagnosis cannot be empty"}
	}
	if strings.TrimSpace(m.Prescription) == "" {
		return &ValidationError{Field: "prescription", Reason: "prescription cannot be empty"}
	}
	return nil
}

// Record represents one medical transaction.
type Record struct {
	PatientID   string      `json:"patient_id"`
	DoctorID    string      `json:"doctor_id"`
	Department  string      `json:"department"`
	Timestamp   string      `json:"timestamp"`
	DataHash    string      `json:"data_hash"`
	ConsentHash string      `json:"consent_hash"`
	MedicalData MedicalData `json:"medical_data"`
}

// Validate checks the admissibility of a record.
func (r Record) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"patient_id", r.PatientID},
		{"doctor_id", r.DoctorID},
		{"data_hash", r.DataHash},
		{"consent_hash", r.ConsentHash},
		{"timestamp", r.Timestamp},
	}
	for _, f := range required {
		if f.value == "" {
			return &ValidationError{Field: f.field, Reason: "invalid record format"}
		}
	}
	return r.MedicalData.Validate()
}

// Block represents one ledger entry.
type Block struct {
	Index        uint64   `json:"index"`
	Timestamp    string   `json:"timestamp"`
	Records      []Record `json:"records"`
	PreviousHash string   `json:"previous_hash"`
	DataHash     string   `json:"data_hash"`
	ConsentHash  string   `json:"consent_hash"`
}

// IsGenesis reports whether the block carries the genesis marker.
func (b Block) IsGenesis() bool {
	return b.PreviousHash == GenesisPreviousHash
}

// Normalized returns a copy whose record slice is never nil, so that an empty
// block always serializes its records as [].
func (b Block) Normalized() Block {
	if b.Records == nil {
		b.Records = []Record{}
	}
	return b
}

// MedicalDataSnapshot returns the medical payload of every record, in order.
func (b Block) MedicalDataSnapshot() []MedicalData {
	out := make([]MedicalData, 0, len(b.Records))
	for _, r := range b.Records {
		out = append(out, r.MedicalData)
	}
	return out
}

// ConsentTicket authorizes the admission of one record for one patient.
type ConsentTicket struct {
	PatientID string
	Token     string
	Expiry    time.Time
	Used      bool
}

// ConsensusTally is the per-round vote summary of a metrics entry.
type ConsensusTally struct {
	Votes          int `json:"votes"`
	RequiredVotes  int `json:"required_votes"`
	ValidatorCount int `json:"validator_count"`
}

// MetricsEntry is one observation of a consensus attempt.
type MetricsEntry struct {
	Timestamp       string         `json:"timestamp"`
	Latency         float64        `json:"latency"`
	TPS             float64        `json:"tps"`
	Energy          float64        `json:"energy"`
	TotalEnergy     float64        `json:"total_energy"`
	SuccessRate     float64        `json:"success_rate"`
	AttemptedBlocks uint64         `json:"attempted_blocks"`
	SuccessBlocks   uint64         `json:"success_blocks"`
	TxCount         int            `json:"tx_count"`
	Outcome         string         `json:"outcome"`
	Consensus       ConsensusTally `json:"consensus"`
}

// NodeStats are the cumulative counters of a running node.
type NodeStats struct {
	TotalTx         uint64  `json:"total_tx"`
	AttemptedBlocks uint64  `json:"attempted_blocks"`
	SuccessBlocks   uint64  `json:"success_blocks"`
	TotalEnergy     float64 `json:"total_energy"`
	SuccessRate     float64 `json:"success_rate"`
	PendingRecords  int     `json:"pending_records"`
	BlockCount      int     `json:"block_count"`
}

// HistoryEntry is one committed record as shown to its patient.
type HistoryEntry struct {
	Timestamp    string `json:"timestamp"`
	DoctorID     string `json:"doctor_id"`
	Department   string `json:"department"`
	Diagnosis    string `json:"diagnosis"`
	Prescription string `json:"prescription"`
	Notes        string `json:"notes"`
	ConsentHash  string `json:"consent_hash"`
}

// ValidationError reports a malformed record or payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Timestamp formats t the way every ledger timestamp is stored.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// String implements fmt.Stringer for log output.
func (b Block) String() string {
	return fmt.Sprintf("block %d (%d records)", b.Index, len(b.Records))
}
