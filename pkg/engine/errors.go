package engine

import (
	"errors"
	"fmt"
)

// Execution errors. Every one of them aborts the whole program.
var (
	ErrMalformedOpcode         = errors.New("malformed opcode")
	ErrUnrecognizedInstruction = errors.New("unrecognized instruction")
	ErrMalformedOperand        = errors.New("malformed operand")
	ErrTypeMismatch            = errors.New("type mismatch")
	ErrUnsupportedDType        = errors.New("unsupported dtype")
	ErrInvalidTensor           = errors.New("invalid tensor")
	ErrStackUnderflow          = errors.New("stack underflow")
	ErrStackOverflow           = errors.New("stack overflow")
	ErrStackLimitExceeded      = errors.New("stack limit exceeded")
	ErrUnbalancedStack         = errors.New("unbalanced stack")
	ErrDeliveryFailed          = errors.New("delivery failed")
	ErrAllocationFailed        = errors.New("allocation failed")
)

var errorKinds = []struct {
	err  error
	name string
}{
	{ErrMalformedOpcode, "MalformedOpcode"},
	{ErrUnrecognizedInstruction, "UnrecognizedInstruction"},
	{ErrMalformedOperand, "MalformedOperand"},
	{ErrTypeMismatch, "TypeMismatch"},
	{ErrUnsupportedDType, "UnsupportedDType"},
	{ErrInvalidTensor, "InvalidTensor"},
	{ErrStackUnderflow, "StackUnderflow"},
	{ErrStackOverflow, "StackOverflow"},
	{ErrStackLimitExceeded, "StackLimitExceeded"},
	{ErrUnbalancedStack, "UnbalancedStack"},
	{ErrDeliveryFailed, "DeliveryFailed"},
	{ErrAllocationFailed, "AllocationFailed"},
}

// ErrorKind returns the stable kind name of an execution error, or
// "Unknown" if err does not wrap one of the engine sentinels.
func ErrorKind(err error) string {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Unknown"
}

// NoIndex marks an ExecutionError raised after the last instruction.
const NoIndex = -1

// ExecutionError is the single failure returned by Interpreter.Execute.
type ExecutionError struct {
	Index int           // Failing instruction, or NoIndex at natural termination
	Op    InstructionID // Instruction id at Index
	Err   error         // Wraps one of the Err* sentinels
}

func (e *ExecutionError) Error() string {
	if e.Index == NoIndex {
		return fmt.Sprintf("end of program: %v", e.Err)
	}
	return fmt.Sprintf("instruction %d (%s): %v", e.Index, e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Kind returns the stable kind name of the wrapped sentinel.
func (e *ExecutionError) Kind() string {
	return ErrorKind(e.Err)
}

// Reason returns the human-readable cause without the position prefix.
func (e *ExecutionError) Reason() string {
	return e.Err.Error()
}
