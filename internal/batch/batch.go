package batch

import (
	"sync"

	"github.com/liftedinit/medchain/internal/models"
)

// Batch holds admitted records that have not been committed yet, in
// admission order.
type Batch struct {
	mu      sync.Mutex
	records []models.Record
}

func New() *Batch {
	return &Batch{records: make([]models.Record, 0)}
}

// Admit appends the record if it is admissible. An inadmissible record leaves
// the batch untouched.
func (b *Batch) Admit(r models.Record) bool {
	if err := r.Validate(); err != nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, r)
	return true
}

// Snapshot returns a copy of the pending records.
func (b *Batch) Snapshot() []models.Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]models.Record, len(b.records))
	copy(out, b.records)
	return out
}

// Drain returns every pending record and empties the batch.
func (b *Batch) Drain() []models.Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.records
	b.records = make([]models.Record, 0)
	return out
}

// Release removes and returns the n oldest records. Records admitted after a
// snapshot of length n was taken stay pending.
func (b *Batch) Release(n int) []models.Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n > len(b.records) {
		n = len(b.records)
	}
	if n <= 0 {
		return []models.Record{}
	}

	out := make([]models.Record, n)
	copy(out, b.records[:n])

	rest := make([]models.Record, len(b.records)-n)
	copy(rest, b.records[n:])
	b.records = rest

	return out
}

func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}
