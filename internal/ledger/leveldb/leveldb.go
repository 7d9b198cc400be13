package leveldb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/liftedinit/medchain/internal/models"
)

const (
	blockPrefix = "block:"
	heightKey   = "meta:height"
)

// Store persists blocks in an embedded LevelDB database. Block keys are
// zero-padded so that key order is index order.
type Store struct {
	path string
	db   *leveldb.DB
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func blockKey(index uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", blockPrefix, index))
}

func (s *Store) Init(context.Context) error {
	if s.db != nil {
		return nil
	}
	db, err := leveldb.OpenFile(s.path, nil)
	if err != nil {
		return fmt.Errorf("failed to open LevelDB at %s: %w", s.path, err)
	}
	s.db = db
	return nil
}

func (s *Store) LoadBlocks(context.Context) ([]models.Block, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store is not initialized")
	}

	iter := s.db.NewIterator(util.BytesPrefix([]byte(blockPrefix)), nil)
	defer iter.Release()

	blocks := make([]models.Block, 0)
	for iter.Next() {
		var b models.Block
		if err := json.Unmarshal(iter.Value(), &b); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", iter.Key(), err)
		}
		blocks = append(blocks, b.Normalized())
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate blocks: %w", err)
	}

	return blocks, nil
}

func (s *Store) AppendBlock(_ context.Context, block models.Block) error {
	if s.db == nil {
		return fmt.Errorf("store is not initialized")
	}

	data, err := json.Marshal(block.Normalized())
	if err != nil {
		return fmt.Errorf("failed to encode block: %w", err)
	}

	key := blockKey(block.Index)
	exists, err := s.db.Has(key, nil)
	if err != nil {
		return fmt.Errorf("failed to check block %d: %w", block.Index, err)
	}
	if exists {
		return fmt.Errorf("block %d already exists", block.Index)
	}

	batch := new(leveldb.Batch)
	batch.Put(key, data)
	batch.Put([]byte(heightKey), []byte(strconv.FormatUint(block.Index, 10)))
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("failed to write block %d: %w", block.Index, err)
	}
	return nil
}

// Height returns the index of the last written block.
func (s *Store) Height() (uint64, bool, error) {
	if s.db == nil {
		return 0, false, fmt.Errorf("store is not initialized")
	}
	v, err := s.db.Get([]byte(heightKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	h, err := strconv.ParseUint(string(v), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("failed to parse height: %w", err)
	}
	return h, true, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
