// Package programstore provides content-addressed storage for encoded
// programs.
//
// Programs are keyed by the BLAKE3 digest of their raw CBOR encoding and
// stored zstd-compressed. Three backends are available: an in-memory map,
// BoltDB and BadgerDB.
package programstore

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/fortiblox/tensorvm/internal/types"
	"github.com/fortiblox/tensorvm/pkg/loader"
)

var (
	// ErrProgramNotFound is returned when a program doesn't exist.
	ErrProgramNotFound = errors.New("program not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("program store closed")

	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown store backend")
)

// Backend names.
const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendBadger = "badger"
)

// Config holds program store configuration.
type Config struct {
	// Backend is one of memory, bolt or badger.
	Backend string

	// Path is the database file (bolt) or directory (badger).
	Path string

	// NoSync disables fsync after each write.
	NoSync bool

	// InMemory runs badger without touching disk (for testing).
	InMemory bool
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{Backend: BackendMemory}
}

// Store is the program store interface.
type Store interface {
	// Put stores raw CBOR program bytes and returns their ID. Storing the
	// same program twice is a no-op.
	Put(raw []byte) (types.ProgramID, error)

	// Get returns the raw CBOR bytes of a program.
	Get(id types.ProgramID) ([]byte, error)

	Has(id types.ProgramID) (bool, error)
	Delete(id types.ProgramID) error

	// List returns metadata for every stored program.
	List() ([]Record, error)

	Stats() (Stats, error)
	Close() error
}

// Record describes a stored program.
type Record struct {
	ID         types.ProgramID `json:"id"`
	Size       int             `json:"size"`
	StoredSize int             `json:"storedSize"`
	StoredAt   time.Time       `json:"storedAt"`
}

// Stats contains store statistics.
type Stats struct {
	Programs    uint64 `json:"programs"`
	RawBytes    uint64 `json:"rawBytes"`
	StoredBytes uint64 `json:"storedBytes"`
}

func (s *Stats) add(r Record) {
	s.Programs++
	s.RawBytes += uint64(r.Size)
	s.StoredBytes += uint64(r.StoredSize)
}

// Open opens the store selected by config.Backend.
func Open(config Config) (Store, error) {
	switch config.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendBolt:
		return OpenBolt(config)
	case BackendBadger:
		return OpenBadger(config)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, config.Backend)
}

// storedRecord is the gob-encoded value written by the persistent backends.
type storedRecord struct {
	StoredAt time.Time
	RawSize  int
	Data     []byte // zstd frame
}

func newStoredRecord(raw []byte) storedRecord {
	return storedRecord{
		StoredAt: time.Now().UTC(),
		RawSize:  len(raw),
		Data:     loader.Compress(raw),
	}
}

func (r storedRecord) record(id types.ProgramID) Record {
	return Record{ID: id, Size: r.RawSize, StoredSize: len(r.Data), StoredAt: r.StoredAt}
}

func (r storedRecord) raw() ([]byte, error) {
	return loader.Decompress(r.Data)
}

func encodeRecord(r storedRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (storedRecord, error) {
	var r storedRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&r); err != nil {
		return r, fmt.Errorf("decode record: %w", err)
	}
	return r, nil
}
