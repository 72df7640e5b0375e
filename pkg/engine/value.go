package engine

import "fmt"

// Tensor is a stack-resident tensor value. Shape and DType are kept as the
// terms they were pushed with; DType is parsed only by instructions that
// need the element type.
type Tensor struct {
	Length uint64
	Shape  Term
	DType  Term
	Data   []byte
}

// Clone returns a deep copy of the data buffer. Shape and DType terms are
// immutable and shared.
func (t Tensor) Clone() Tensor {
	data := make([]byte, len(t.Data))
	copy(data, t.Data)
	t.Data = data
	return t
}

// Term returns the push_tensor operand form {length, shape, dtype, data}.
func (t Tensor) Term() Term {
	return Tuple{UintTerm(t.Length), t.Shape, t.DType, Binary(t.Data)}
}

// ValueKind tags a stack slot.
type ValueKind uint8

const (
	KindUndefined ValueKind = iota
	KindTensor
	KindBoolean
)

func (k ValueKind) String() string {
	switch k {
	case KindTensor:
		return "tensor"
	case KindBoolean:
		return "boolean"
	default:
		return "undefined"
	}
}

// Value is a tagged stack slot. The zero Value is Undefined.
type Value struct {
	kind   ValueKind
	tensor Tensor
	b      bool
}

// TensorValue wraps t as a stack value.
func TensorValue(t Tensor) Value {
	return Value{kind: KindTensor, tensor: t}
}

// BoolValue wraps b as a stack value.
func BoolValue(b bool) Value {
	return Value{kind: KindBoolean, b: b}
}

// Kind returns the slot tag.
func (v Value) Kind() ValueKind { return v.kind }

// Tensor returns the tensor held by v.
func (v Value) Tensor() (Tensor, bool) {
	return v.tensor, v.kind == KindTensor
}

// Bool returns the boolean held by v.
func (v Value) Bool() (bool, bool) {
	return v.b, v.kind == KindBoolean
}

func (v Value) String() string {
	switch v.kind {
	case KindTensor:
		return fmt.Sprintf("tensor(len=%d, dtype=%s, %d bytes)", v.tensor.Length, describe(v.tensor.DType), len(v.tensor.Data))
	case KindBoolean:
		return fmt.Sprintf("boolean(%t)", v.b)
	default:
		return "undefined"
	}
}

// tensorRef returns a pointer to the tensor inside v for in-place updates.
func (v *Value) tensorRef() (*Tensor, error) {
	if v.kind != KindTensor {
		return nil, fmt.Errorf("%w: expected tensor on stack, found %s", ErrTypeMismatch, v.kind)
	}
	return &v.tensor, nil
}
