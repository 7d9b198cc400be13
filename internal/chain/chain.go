// Package chain holds the hash-linkage rules of the ledger: how blocks are
// built and digested, and how a full chain is verified.
package chain

import (
	"fmt"
	"strings"
	"time"

	"github.com/liftedinit/medchain/internal/hasher"
	"github.com/liftedinit/medchain/internal/models"
)

const validMessage = "chain is valid"

// IntegrityError is the first violation found while scanning a chain.
type IntegrityError struct {
	Index  int
	Reason string
}

func (e *IntegrityError) Error() string {
	return e.Reason
}

// Hash returns the digest of a whole block.
func Hash(b models.Block) string {
	return hasher.MustSum(b.Normalized())
}

// DataHash returns the digest of the canonical JSON of records.
func DataHash(records []models.Record) string {
	if records == nil {
		records = []models.Record{}
	}
	return hasher.MustSum(records)
}

// ConsentHash returns the digest of the concatenated consent hashes of records.
func ConsentHash(records []models.Record) string {
	var sb strings.Builder
	for _, r := range records {
		sb.WriteString(r.ConsentHash)
	}
	return hasher.SumString(sb.String())
}

// NewGenesis builds the first block of a chain.
func NewGenesis(ts time.Time) models.Block {
	return models.Block{
		Index:        0,
		Timestamp:    models.Timestamp(ts),
		Records:      []models.Record{},
		PreviousHash: models.GenesisPreviousHash,
		DataHash:     DataHash(nil),
		ConsentHash:  ConsentHash(nil),
	}
}

// NewCandidate builds an unindexed block proposal on top of tip. A nil tip
// means the chain is empty.
func NewCandidate(tip *models.Block, records []models.Record, ts time.Time) models.Block {
	previous := models.GenesisPreviousHash
	if tip != nil {
		previous = Hash(*tip)
	}
	if records == nil {
		records = []models.Record{}
	}
	return models.Block{
		Timestamp:    models.Timestamp(ts),
		Records:      records,
		PreviousHash: previous,
		DataHash:     DataHash(records),
		ConsentHash:  ConsentHash(records),
	}
}

// Validate scans blocks oldest to newest and returns the first violation.
func Validate(blocks []models.Block) error {
	for i := range blocks {
		if err := ValidateAt(blocks, i); err != nil {
			return err
		}
	}
	return nil
}

// ValidateAt checks block i against its own contents and its predecessor.
// Callers that scan a chain incrementally must visit indexes in order.
func ValidateAt(blocks []models.Block, i int) error {
	b := blocks[i]
	if i == 0 {
		if b.PreviousHash != models.GenesisPreviousHash || len(b.Records) != 0 {
			return &IntegrityError{Index: 0, Reason: "genesis block corrupted"}
		}
	} else if b.PreviousHash != Hash(blocks[i-1]) {
		return &IntegrityError{Index: i, Reason: fmt.Sprintf("block %d has invalid previous hash", i)}
	}
	if b.DataHash != DataHash(b.Records) {
		return &IntegrityError{Index: i, Reason: fmt.Sprintf("block %d has invalid data hash", i)}
	}
	if b.ConsentHash != ConsentHash(b.Records) {
		return &IntegrityError{Index: i, Reason: fmt.Sprintf("block %d has invalid consent hash", i)}
	}
	return nil
}

// Summary reports the result of Validate as a flag and a message.
func Summary(blocks []models.Block) (bool, string) {
	if err := Validate(blocks); err != nil {
		return false, err.Error()
	}
	return true, validMessage
}

// ValidateCandidate reports whether every record of a proposal is admissible.
func ValidateCandidate(b models.Block) bool {
	for _, r := range b.Records {
		if r.Validate() != nil {
			return false
		}
	}
	return true
}
