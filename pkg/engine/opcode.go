package engine

import "fmt"

// Opcode field layout.
const (
	MaskInstruction = uint64(0xFFFF) // Instruction id (bits 0-15)
	ShiftReserved   = 16             // Reserved bits 16-63, must be zero
	MaskReserved    = ^MaskInstruction
)

// InstructionID identifies an instruction kind.
type InstructionID uint16

// Numeric kernels (0x0000-0x007F).
const (
	OpScale InstructionID = 0x0000 // Scale top tensor in place
	OpCopy  InstructionID = 0x0002 // Replace top tensor data with a fresh copy
	OpDot   InstructionID = 0x0003 // Declared, no kernel bound
	OpAxpy  InstructionID = 0x0004 // Declared, no kernel bound
	OpGemv  InstructionID = 0x0010 // Declared, no kernel bound
	OpGemm  InstructionID = 0x0020 // Declared, no kernel bound
)

// Stack and control instructions (0x0080-0x00FF).
const (
	OpPushTensor InstructionID = 0x0080 // Push a tensor operand
	OpIsScalar   InstructionID = 0x0081 // Push length == 1
	OpSkip       InstructionID = 0x00C0 // Forward branch
	OpSendTensor InstructionID = 0x00E0 // Pop a tensor and deliver it
	OpReturn     InstructionID = 0x00FF // Explicit terminal instruction
)

var instructionNames = map[InstructionID]string{
	OpScale:      "scale",
	OpCopy:       "copy",
	OpDot:        "dot",
	OpAxpy:       "axpy",
	OpGemv:       "gemv",
	OpGemm:       "gemm",
	OpPushTensor: "push_tensor",
	OpIsScalar:   "is_scalar",
	OpSkip:       "skip",
	OpSendTensor: "send_tensor",
	OpReturn:     "return",
}

// String returns the instruction mnemonic, or the hex id when unknown.
func (id InstructionID) String() string {
	if name, ok := instructionNames[id]; ok {
		return name
	}
	return fmt.Sprintf("0x%04x", uint16(id))
}

// Known reports whether id is one of the enumerated instruction kinds.
func (id InstructionID) Known() bool {
	_, ok := instructionNames[id]
	return ok
}

// Opcode is the 64-bit instruction word.
type Opcode uint64

// ID returns the instruction id (bits 0-15).
func (o Opcode) ID() InstructionID {
	return InstructionID(uint64(o) & MaskInstruction)
}

// Reserved returns bits 16-63 shifted down.
func (o Opcode) Reserved() uint64 {
	return uint64(o) >> ShiftReserved
}

// Encode creates an opcode for id with all reserved bits clear.
func Encode(id InstructionID) Opcode {
	return Opcode(uint64(id))
}

// Instruction is one decoded program step.
type Instruction struct {
	Opcode  Opcode
	Operand Term
}

// Program is an ordered, 0-indexed instruction sequence.
type Program []Instruction
