package programstore

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/fortiblox/tensorvm/internal/types"
)

// prefixProgram is the key prefix for program records.
// Key format: prefixProgram + program ID (32 bytes)
var prefixProgram = []byte{0x01}

func programKey(id types.ProgramID) []byte {
	key := make([]byte, 0, len(prefixProgram)+types.ProgramIDSize)
	key = append(key, prefixProgram...)
	return append(key, id[:]...)
}

// BadgerStore implements Store using BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	closed atomic.Bool
}

// OpenBadger opens a BadgerDB program store in the directory config.Path,
// or in memory when config.InMemory is set.
func OpenBadger(config Config) (*BadgerStore, error) {
	opts := badger.DefaultOptions(config.Path)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else if config.Path == "" {
		return nil, fmt.Errorf("badger store: path is required")
	}
	opts = opts.
		WithSyncWrites(!config.NoSync).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Put stores a program.
func (s *BadgerStore) Put(raw []byte) (types.ProgramID, error) {
	id := types.ComputeProgramID(raw)
	if s.closed.Load() {
		return id, ErrClosed
	}

	value, err := encodeRecord(newStoredRecord(raw))
	if err != nil {
		return id, err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		key := programKey(id)
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, value)
	})
	return id, err
}

func (s *BadgerStore) load(id types.ProgramID) (storedRecord, error) {
	var r storedRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(programKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrProgramNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			r, err = decodeRecord(val)
			return err
		})
	})
	return r, err
}

// Get returns a program.
func (s *BadgerStore) Get(id types.ProgramID) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	r, err := s.load(id)
	if err != nil {
		return nil, err
	}
	return r.raw()
}

// Has reports whether a program is stored.
func (s *BadgerStore) Has(id types.ProgramID) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(programKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// Delete removes a program.
func (s *BadgerStore) Delete(id types.ProgramID) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := programKey(id)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrProgramNotFound
			}
			return err
		}
		return txn.Delete(key)
	})
}

// forEach visits every record in key order.
func (s *BadgerStore) forEach(fn func(Record)) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixProgram
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			id, err := types.ProgramIDFromBytes(item.Key()[len(prefixProgram):])
			if err != nil {
				continue
			}
			err = item.Value(func(val []byte) error {
				r, err := decodeRecord(val)
				if err != nil {
					return fmt.Errorf("program %s: %w", id, err)
				}
				fn(r.record(id))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns all records ordered by ID.
func (s *BadgerStore) List() ([]Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var out []Record
	err := s.forEach(func(r Record) { out = append(out, r) })
	return out, err
}

// Stats returns store statistics.
func (s *BadgerStore) Stats() (Stats, error) {
	var st Stats
	if s.closed.Load() {
		return st, ErrClosed
	}
	err := s.forEach(st.add)
	return st, err
}

// RunGC rewrites value log files until nothing is left to reclaim.
func (s *BadgerStore) RunGC() error {
	if s.closed.Load() {
		return ErrClosed
	}
	for {
		if err := s.db.RunValueLogGC(0.5); err != nil {
			if errors.Is(err, badger.ErrNoRewrite) {
				return nil
			}
			return err
		}
	}
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	if s.closed.Swap(true) {
		return ErrClosed
	}
	return s.db.Close()
}

var _ Store = (*BadgerStore)(nil)
