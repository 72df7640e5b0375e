package engine

import (
	"encoding/binary"
	"math"
)

// Instruction builders.

// F32 builds a float32 tensor with the given shape descriptor.
func F32(shape Term, values ...float32) Tensor {
	data := make([]byte, 4*len(values))
	PutFloat32s(data, values)
	return Tensor{Length: uint64(len(values)), Shape: shape, DType: Float32.Term(), Data: data}
}

// F64 builds a float64 tensor with the given shape descriptor.
func F64(shape Term, values ...float64) Tensor {
	data := make([]byte, 8*len(values))
	PutFloat64s(data, values)
	return Tensor{Length: uint64(len(values)), Shape: shape, DType: Float64.Term(), Data: data}
}

// Vector returns the one-dimensional shape descriptor [n].
func Vector(n int) Term {
	return List{Int(n)}
}

// PushTensor pushes t.
func PushTensor(t Tensor) Instruction {
	return Instruction{Opcode: Encode(OpPushTensor), Operand: t.Term()}
}

// Copy replaces the top tensor's data with a copy.
func Copy() Instruction {
	return Instruction{Opcode: Encode(OpCopy)}
}

// Scale multiplies every inc-th element of the top tensor by alpha, encoded
// as a scalar of dtype d.
func Scale(d DType, alpha float64, inc uint64) Instruction {
	var raw []byte
	if d.Bits == 32 {
		raw = binary.LittleEndian.AppendUint32(nil, math.Float32bits(float32(alpha)))
	} else {
		raw = binary.LittleEndian.AppendUint64(nil, math.Float64bits(alpha))
	}
	return Instruction{
		Opcode:  Encode(OpScale),
		Operand: Tuple{d.Term(), Binary(raw), UintTerm(inc)},
	}
}

// IsScalar pushes length == 1.
func IsScalar(length uint64) Instruction {
	return Instruction{Opcode: Encode(OpIsScalar), Operand: UintTerm(length)}
}

// Skip unconditionally skips the next n instructions.
func Skip(n uint64) Instruction {
	return Instruction{Opcode: Encode(OpSkip), Operand: Tuple{UintTerm(n), Always{}.Term()}}
}

// SkipIf pops a boolean and skips the next n instructions if it equals expected.
func SkipIf(n uint64, expected bool) Instruction {
	return Instruction{Opcode: Encode(OpSkip), Operand: Tuple{UintTerm(n), IfEquals{Expected: expected}.Term()}}
}

// SendTensor pops the top tensor and delivers it to target.
func SendTensor(target Term) Instruction {
	return Instruction{Opcode: Encode(OpSendTensor), Operand: target}
}

// Return ends the program.
func Return() Instruction {
	return Instruction{Opcode: Encode(OpReturn)}
}
