package engine

import (
	"errors"
	"fmt"
	"math"
)

// Shared operand validators. Every handler decodes through these so the
// same structural problem always yields the same message.

func tupleOf(t Term, arity int, what string) (Tuple, error) {
	tup, ok := t.(Tuple)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a tuple of %d, got %s", ErrMalformedOperand, what, arity, describe(t))
	}
	if len(tup) != arity {
		return nil, fmt.Errorf("%w: %s must be a tuple of %d, got %d elements", ErrMalformedOperand, what, arity, len(tup))
	}
	return tup, nil
}

func uintOf(t Term, what string) (uint64, error) {
	switch i := t.(type) {
	case Uint:
		return uint64(i), nil
	case Int:
		if i >= 0 {
			return uint64(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %s must be a non-negative integer, got %s", ErrMalformedOperand, what, describe(t))
}

func binaryOf(t Term, what string) ([]byte, error) {
	b, ok := t.(Binary)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a binary, got %s", ErrMalformedOperand, what, describe(t))
	}
	return b, nil
}

// parseDType decodes {kind, bits}. Structural problems wrap
// ErrMalformedOperand; an unknown kind tag wraps ErrUnsupportedDType.
func parseDType(t Term) (DType, error) {
	tup, err := tupleOf(t, 2, "dtype")
	if err != nil {
		return DType{}, err
	}
	tag, ok := tup[0].(Atom)
	if !ok {
		return DType{}, fmt.Errorf("%w: dtype kind must be an atom, got %s", ErrMalformedOperand, describe(tup[0]))
	}
	bits, ok := tup[1].(Int)
	if !ok || bits <= 0 || bits > math.MaxInt32 {
		return DType{}, fmt.Errorf("%w: dtype bit width must be a positive integer, got %s", ErrMalformedOperand, describe(tup[1]))
	}
	kind, ok := kindFromTag(tag)
	if !ok {
		return DType{}, fmt.Errorf("%w: unknown dtype kind %q", ErrUnsupportedDType, string(tag))
	}
	return DType{Kind: kind, Bits: int(bits)}, nil
}

func requireFloat(d DType) error {
	if !d.IsSupportedFloat() {
		return fmt.Errorf("%w: %s (need f32 or f64)", ErrUnsupportedDType, d)
	}
	return nil
}

// floatDType parses a dtype term that must name f32 or f64.
func floatDType(t Term) (DType, error) {
	d, err := parseDType(t)
	if err != nil {
		return DType{}, err
	}
	if err := requireFloat(d); err != nil {
		return DType{}, err
	}
	return d, nil
}

// tensorFloatDType is floatDType for a tensor's own dtype, where a malformed
// descriptor is reported as unsupported rather than as a bad operand.
func tensorFloatDType(t *Tensor) (DType, error) {
	d, err := parseDType(t.DType)
	if err != nil {
		if errors.Is(err, ErrUnsupportedDType) {
			return DType{}, err
		}
		return DType{}, fmt.Errorf("%w: tensor dtype %s", ErrUnsupportedDType, describe(t.DType))
	}
	if err := requireFloat(d); err != nil {
		return DType{}, err
	}
	return d, nil
}

// tensorElements checks that the data buffer holds exactly Length
// elements of d and returns that count.
func tensorElements(t *Tensor, d DType) (int, error) {
	size := uint64(d.ElemSize())
	if t.Length > uint64(math.MaxInt)/size {
		return 0, fmt.Errorf("%w: %d elements of %s overflow", ErrAllocationFailed, t.Length, d)
	}
	if want := t.Length * size; uint64(len(t.Data)) != want {
		return 0, fmt.Errorf("%w: length %d of %s needs %d bytes, data has %d", ErrInvalidTensor, t.Length, d, want, len(t.Data))
	}
	return int(t.Length), nil
}

// Condition is the branch condition of a skip instruction.
type Condition interface {
	isCondition()
}

// Always is the unconditional condition (the literal true).
type Always struct{}

// IfEquals pops a boolean and branches when it equals Expected.
type IfEquals struct {
	Expected bool
}

func (Always) isCondition()   {}
func (IfEquals) isCondition() {}

// Term returns the wire form of the condition.
func (Always) Term() Term { return AtomTrue }

// Term returns the wire form of the condition.
func (c IfEquals) Term() Term { return Tuple{Atom("if"), Bool(c.Expected)} }

func boolOf(t Term) (bool, bool) {
	switch t {
	case AtomTrue:
		return true, true
	case AtomFalse:
		return false, true
	}
	return false, false
}

func parseCondition(t Term) (Condition, error) {
	switch c := t.(type) {
	case Atom:
		if c == AtomTrue {
			return Always{}, nil
		}
		return nil, fmt.Errorf("%w: unconditional skip requires true, got %s", ErrMalformedOperand, c)
	case Tuple:
		if len(c) == 2 && c[0] == Atom("if") {
			if expected, ok := boolOf(c[1]); ok {
				return IfEquals{Expected: expected}, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: skip condition must be true or {if, boolean}, got %s", ErrMalformedOperand, describe(t))
}
