package engine

import (
	"bytes"
	"math"
	"strconv"
	"strings"
)

// Term is an operand value attached to an instruction. Terms are also used
// for the parts of a tensor the engine passes through without interpreting
// (shape and dtype descriptors) and for consumer target references.
type Term interface {
	isTerm()
	String() string
}

// Atom is a symbolic constant. Booleans are the atoms true and false.
type Atom string

// Int is a signed integer term.
type Int int64

// Uint is an unsigned integer too large for Int.
type Uint uint64

// Float is a floating-point term.
type Float float64

// Binary is a raw byte string.
type Binary []byte

// Tuple is a fixed-arity composite.
type Tuple []Term

// List is a variable-length sequence.
type List []Term

// Opaque carries an operand value that has no term form, such as a map.
// Raw is the encoded value as read by the loader; Desc names what it was.
// Handlers reject it as a malformed operand when they reach it.
type Opaque struct {
	Desc string
	Raw  []byte
}

// Boolean atoms.
const (
	AtomTrue  Atom = "true"
	AtomFalse Atom = "false"
)

// Bool returns the atom for b.
func Bool(b bool) Atom {
	if b {
		return AtomTrue
	}
	return AtomFalse
}

func (Atom) isTerm()   {}
func (Int) isTerm()    {}
func (Uint) isTerm()   {}
func (Opaque) isTerm() {}
func (Float) isTerm()  {}
func (Binary) isTerm() {}
func (Tuple) isTerm()  {}
func (List) isTerm()   {}

func (a Atom) String() string { return string(a) }

func (i Int) String() string { return strconv.FormatInt(int64(i), 10) }

func (u Uint) String() string { return strconv.FormatUint(uint64(u), 10) }

func (o Opaque) String() string { return "<<opaque " + o.Desc + ">>" }

func (f Float) String() string { return strconv.FormatFloat(float64(f), 'g', -1, 64) }

func (b Binary) String() string { return "<<" + strconv.Itoa(len(b)) + " bytes>>" }

func (t Tuple) String() string { return "{" + joinTerms(t) + "}" }

func (l List) String() string { return "[" + joinTerms(l) + "]" }

func joinTerms(terms []Term) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = describe(t)
	}
	return strings.Join(parts, ", ")
}

// describe formats a possibly-nil term for error messages.
// UintTerm returns n as an Int, or as a Uint when it does not fit.
func UintTerm(n uint64) Term {
	if n > math.MaxInt64 {
		return Uint(n)
	}
	return Int(n)
}

func describe(t Term) string {
	if t == nil {
		return "nothing"
	}
	return t.String()
}

// TermEqual reports whether two terms are structurally equal.
func TermEqual(a, b Term) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case Atom:
		y, ok := b.(Atom)
		return ok && x == y
	case Int:
		y, ok := b.(Int)
		return ok && x == y
	case Uint:
		y, ok := b.(Uint)
		return ok && x == y
	case Float:
		y, ok := b.(Float)
		return ok && x == y
	case Opaque:
		y, ok := b.(Opaque)
		return ok && x.Desc == y.Desc && bytes.Equal(x.Raw, y.Raw)
	case Binary:
		y, ok := b.(Binary)
		return ok && bytes.Equal(x, y)
	case Tuple:
		y, ok := b.(Tuple)
		return ok && termsEqual(x, y)
	case List:
		y, ok := b.(List)
		return ok && termsEqual(x, y)
	}
	return false
}

func termsEqual(a, b []Term) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !TermEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}
