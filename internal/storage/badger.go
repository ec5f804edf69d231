package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v3"
	"github.com/hashicorp/go-hclog"

	"github.com/dreamware/solvegrid/internal/logging"
)

// keyPrefix namespaces finished problems inside the badger keyspace.
var keyPrefix = []byte("finished/")

// BadgerStore persists finished problems in a badger database so they survive
// coordinator restarts.
type BadgerStore struct {
	db     *badger.DB
	logger hclog.Logger
	closed atomic.Bool
}

// OpenBadgerStore opens (or creates) a badger database in dir.
func OpenBadgerStore(dir string, logger hclog.Logger) (*BadgerStore, error) {
	if dir == "" {
		return nil, errors.New("badger: dir is required")
	}
	logger = logging.OrDiscard(logger)

	opts := badger.DefaultOptions(dir)
	opts.Logger = logging.Badger{L: logger}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}

	logger.Info("finished-problem store opened", "dir", dir)
	return &BadgerStore{db: db, logger: logger}, nil
}

func problemKey(problemID uint64) []byte {
	key := make([]byte, len(keyPrefix)+8)
	copy(key, keyPrefix)
	binary.BigEndian.PutUint64(key[len(keyPrefix):], problemID)
	return key
}

// Save stores data for problemID.
func (s *BadgerStore) Save(problemID uint64, data []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(problemKey(problemID), data)
	})
}

// Load returns the stored data or ErrNotFound.
func (s *BadgerStore) Load(problemID uint64) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(problemKey(problemID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Remove deletes a stored problem.
func (s *BadgerStore) Remove(problemID uint64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(problemKey(problemID))
	})
}

// IDs returns stored problem ids in ascending order. Big-endian keys make
// badger's iteration order numeric order.
func (s *BadgerStore) IDs() ([]uint64, error) {
	var ids []uint64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			ids = append(ids, binary.BigEndian.Uint64(key[len(keyPrefix):]))
		}
		return nil
	})
	return ids, err
}

// Stats walks the keyspace and reports counts and value sizes.
func (s *BadgerStore) Stats() StoreStats {
	var stats StoreStats
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			stats.Problems++
			stats.Bytes += int(it.Item().ValueSize())
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("stats scan failed", "error", err)
	}
	return stats
}

// Close closes the database. Closing twice is a no-op.
func (s *BadgerStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	s.logger.Info("finished-problem store closed")
	return nil
}
