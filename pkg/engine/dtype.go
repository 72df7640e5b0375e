package engine

import "fmt"

// Kind is the element kind of a dtype.
type Kind uint8

const (
	KindSigned Kind = iota
	KindUnsigned
	KindFloat
	KindBFloat
	KindComplex
)

var kindTags = [...]Atom{
	KindSigned:   "s",
	KindUnsigned: "u",
	KindFloat:    "f",
	KindBFloat:   "bf",
	KindComplex:  "c",
}

// Tag returns the wire atom for k.
func (k Kind) Tag() Atom {
	if int(k) < len(kindTags) {
		return kindTags[k]
	}
	return Atom(fmt.Sprintf("kind%d", uint8(k)))
}

func kindFromTag(tag Atom) (Kind, bool) {
	for k, t := range kindTags {
		if t == tag {
			return Kind(k), true
		}
	}
	return 0, false
}

// DType is an element type: kind plus bit width.
type DType struct {
	Kind Kind
	Bits int
}

// Supported floating-point dtypes.
var (
	Float32 = DType{Kind: KindFloat, Bits: 32}
	Float64 = DType{Kind: KindFloat, Bits: 64}
)

// Term returns the wire form {kind, bits}.
func (d DType) Term() Term {
	return Tuple{d.Kind.Tag(), Int(d.Bits)}
}

func (d DType) String() string {
	return fmt.Sprintf("%s%d", d.Kind.Tag(), d.Bits)
}

// ElemSize returns the element size in bytes.
func (d DType) ElemSize() int {
	return d.Bits / 8
}

// IsSupportedFloat reports whether numeric instructions accept d.
func (d DType) IsSupportedFloat() bool {
	return d.Kind == KindFloat && (d.Bits == 32 || d.Bits == 64)
}
