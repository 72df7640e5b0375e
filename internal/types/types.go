// Package types defines identifiers shared across tensorvm packages.
package types

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
)

// ProgramIDSize is the size of a program digest.
const ProgramIDSize = 32

// ErrInvalidProgramID is returned when an ID has the wrong length.
var ErrInvalidProgramID = errors.New("invalid program id: must be 32 bytes")

// ProgramID is the BLAKE3-256 digest of a program's raw CBOR encoding.
type ProgramID [ProgramIDSize]byte

// ComputeProgramID hashes raw program bytes.
func ComputeProgramID(data []byte) ProgramID {
	return ProgramID(blake3.Sum256(data))
}

// ProgramIDFromBase58 parses a base58-encoded ID.
func ProgramIDFromBase58(s string) (ProgramID, error) {
	var id ProgramID
	data, err := base58.Decode(s)
	if err != nil {
		return id, fmt.Errorf("base58 decode: %w", err)
	}
	return ProgramIDFromBytes(data)
}

// ProgramIDFromBytes creates a ProgramID from a byte slice.
func ProgramIDFromBytes(b []byte) (ProgramID, error) {
	var id ProgramID
	if len(b) != ProgramIDSize {
		return id, ErrInvalidProgramID
	}
	copy(id[:], b)
	return id, nil
}

// String returns the base58-encoded representation.
func (id ProgramID) String() string {
	return base58.Encode(id[:])
}

// Hex returns the hex-encoded representation.
func (id ProgramID) Hex() string {
	return hex.EncodeToString(id[:])
}

// IsZero returns true if the ID is all zeros.
func (id ProgramID) IsZero() bool {
	return id == ProgramID{}
}

// Bytes returns the ID as a byte slice.
func (id ProgramID) Bytes() []byte {
	return id[:]
}

// MarshalText implements encoding.TextMarshaler.
func (id ProgramID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ProgramID) UnmarshalText(text []byte) error {
	parsed, err := ProgramIDFromBase58(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
