package ledger

import (
	"context"
	"sync"

	"github.com/liftedinit/medchain/internal/models"
)

// MemoryBackend keeps blocks in process memory. Nothing survives a restart.
type MemoryBackend struct {
	mu     sync.Mutex
	blocks []models.Block
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) Init(context.Context) error {
	return nil
}

func (m *MemoryBackend) LoadBlocks(context.Context) ([]models.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Block, len(m.blocks))
	copy(out, m.blocks)
	return out, nil
}

func (m *MemoryBackend) AppendBlock(_ context.Context, block models.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks = append(m.blocks, block)
	return nil
}

func (m *MemoryBackend) Close() error {
	return nil
}
