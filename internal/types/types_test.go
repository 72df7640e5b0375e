package types

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestComputeProgramID(t *testing.T) {
	a := ComputeProgramID([]byte("program"))
	b := ComputeProgramID([]byte("program"))
	c := ComputeProgramID([]byte("other"))

	if a != b {
		t.Error("same input produced different IDs")
	}
	if a == c {
		t.Error("different input produced the same ID")
	}
	if a.IsZero() {
		t.Error("digest should not be zero")
	}
	if len(a.Hex()) != 2*ProgramIDSize {
		t.Errorf("Hex() length = %d", len(a.Hex()))
	}
}

func TestProgramIDBase58(t *testing.T) {
	id := ComputeProgramID([]byte{1, 2, 3})
	parsed, err := ProgramIDFromBase58(id.String())
	if err != nil {
		t.Fatalf("ProgramIDFromBase58() failed: %v", err)
	}
	if parsed != id {
		t.Errorf("parsed = %s, want %s", parsed, id)
	}

	if _, err := ProgramIDFromBase58("3yZe7d"); !errors.Is(err, ErrInvalidProgramID) {
		t.Errorf("short id = %v, want ErrInvalidProgramID", err)
	}
	if _, err := ProgramIDFromBase58("0OIl"); err == nil {
		t.Error("invalid base58 should fail")
	}
}

func TestProgramIDJSON(t *testing.T) {
	id := ComputeProgramID([]byte("json"))
	data, err := json.Marshal(map[string]ProgramID{"id": id})
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}

	var out map[string]ProgramID
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if out["id"] != id {
		t.Errorf("round trip = %s, want %s", out["id"], id)
	}
}
