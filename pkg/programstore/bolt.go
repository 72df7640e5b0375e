package programstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/tensorvm/internal/types"
)

// bucketPrograms stores gob records keyed by program ID.
var bucketPrograms = []byte("programs")

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB

	mu     sync.RWMutex
	closed bool
}

// OpenBolt creates or opens a BoltDB program store at config.Path.
func OpenBolt(config Config) (*BoltStore, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("bolt store: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	db, err := bolt.Open(config.Path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
		NoSync:  config.NoSync,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPrograms)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket %s: %w", bucketPrograms, err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Put stores a program.
func (s *BoltStore) Put(raw []byte) (types.ProgramID, error) {
	id := types.ComputeProgramID(raw)
	if err := s.checkOpen(); err != nil {
		return id, err
	}

	value, err := encodeRecord(newStoredRecord(raw))
	if err != nil {
		return id, err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPrograms)
		if b.Get(id[:]) != nil {
			return nil
		}
		return b.Put(id[:], value)
	})
	return id, err
}

func (s *BoltStore) load(id types.ProgramID) (storedRecord, error) {
	var r storedRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPrograms).Get(id[:])
		if data == nil {
			return ErrProgramNotFound
		}
		var err error
		r, err = decodeRecord(data)
		return err
	})
	return r, err
}

// Get returns a program.
func (s *BoltStore) Get(id types.ProgramID) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	r, err := s.load(id)
	if err != nil {
		return nil, err
	}
	return r.raw()
}

// Has reports whether a program is stored.
func (s *BoltStore) Has(id types.ProgramID) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketPrograms).Get(id[:]) != nil
		return nil
	})
	return found, err
}

// Delete removes a program.
func (s *BoltStore) Delete(id types.ProgramID) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPrograms)
		if b.Get(id[:]) == nil {
			return ErrProgramNotFound
		}
		return b.Delete(id[:])
	})
}

// forEach visits every record in key order.
func (s *BoltStore) forEach(fn func(Record)) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPrograms).ForEach(func(k, v []byte) error {
			id, err := types.ProgramIDFromBytes(k)
			if err != nil {
				return nil // Foreign key, skip.
			}
			r, err := decodeRecord(v)
			if err != nil {
				return fmt.Errorf("program %s: %w", id, err)
			}
			fn(r.record(id))
			return nil
		})
	})
}

// List returns all records ordered by ID.
func (s *BoltStore) List() ([]Record, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var out []Record
	err := s.forEach(func(r Record) { out = append(out, r) })
	return out, err
}

// Stats returns store statistics.
func (s *BoltStore) Stats() (Stats, error) {
	var st Stats
	if err := s.checkOpen(); err != nil {
		return st, err
	}
	err := s.forEach(st.add)
	return st, err
}

// Close closes the database.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	return s.db.Close()
}

var _ Store = (*BoltStore)(nil)
