// Package engine implements the tensor-operation bytecode interpreter.
//
// A program is a linear sequence of instructions, each a 64-bit opcode and
// an operand term. The interpreter executes it in one forward pass against
// a bounded operand stack of tagged values (tensors and booleans):
//
//   - Opcode bits 0-15 select the instruction, bits 16-63 must be zero
//   - Branches (skip) only move forward, so every program terminates
//   - The stack must be empty when the program ends
//
// Numeric work is delegated to a Kernels implementation (gonum by default)
// and results leave the machine through a Consumer.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// DefaultMaxTensorBytes bounds buffers allocated by copy.
const DefaultMaxTensorBytes = 1 << 30

// handlerFunc executes one instruction. It may set m.next to branch.
type handlerFunc func(in *Interpreter, m *machine, operand Term) error

// handlers binds a kernel to each implemented instruction. Known ids
// missing here are declared without a kernel.
var handlers map[InstructionID]handlerFunc

func init() {
	handlers = map[InstructionID]handlerFunc{
		OpScale:      execScale,
		OpCopy:       execCopy,
		OpPushTensor: execPushTensor,
		OpIsScalar:   execIsScalar,
		OpSkip:       execSkip,
		OpSendTensor: execSendTensor,
		OpReturn:     execReturn,
	}
	for id := range handlers {
		if !id.Known() {
			panic(fmt.Sprintf("engine: handler bound to unnamed instruction 0x%04x", uint16(id)))
		}
	}
}

// Implemented returns the ids that have a kernel bound, in ascending order.
func Implemented() []InstructionID {
	ids := make([]InstructionID, 0, len(handlers))
	for id := range handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Options configures an Interpreter.
type Options struct {
	StackCapacity  int    // Operand stack slots (default 1024)
	MaxTensorBytes uint64 // Largest buffer copy may allocate (default 1 GiB)
	Kernels        Kernels
	Consumer       Consumer
	Logger         *slog.Logger

	// OnHalt, if set, sees the final stack before the balance check.
	OnHalt func(*Stack)
}

// Stats summarises one execution.
type Stats struct {
	Executed  int // Instructions dispatched successfully
	Delivered int // Successful send_tensor deliveries
}

// Interpreter executes programs. It holds no per-program state and is safe
// for concurrent use as long as its Kernels and Consumer are.
type Interpreter struct {
	opts Options
}

// NewInterpreter creates an interpreter, filling unset options with defaults.
func NewInterpreter(opts Options) *Interpreter {
	if opts.StackCapacity <= 0 {
		opts.StackCapacity = DefaultStackCapacity
	}
	if opts.MaxTensorBytes == 0 {
		opts.MaxTensorBytes = DefaultMaxTensorBytes
	}
	if opts.Kernels == nil {
		opts.Kernels = DefaultKernels
	}
	return &Interpreter{opts: opts}
}

// WithConsumer returns a copy of the interpreter delivering to c.
func (in *Interpreter) WithConsumer(c Consumer) *Interpreter {
	opts := in.opts
	opts.Consumer = c
	return &Interpreter{opts: opts}
}

// machine is the per-execution state.
type machine struct {
	program Program
	stack   *Stack
	pc      int
	next    int
	halted  bool
	stats   Stats
}

// Execute runs program to completion and returns the first error.
func (in *Interpreter) Execute(program Program) error {
	_, err := in.Run(program)
	return err
}

// Run executes program and reports execution statistics. On failure the
// error is an *ExecutionError.
func (in *Interpreter) Run(program Program) (Stats, error) {
	m := &machine{
		program: program,
		stack:   NewStack(in.opts.StackCapacity),
	}

	for m.pc < len(program) && !m.halted {
		idx := m.pc
		inst := program[idx]
		id := inst.Opcode.ID()

		if r := inst.Opcode.Reserved(); r != 0 {
			return m.stats, &ExecutionError{Index: idx, Op: id,
				Err: fmt.Errorf("%w: reserved bits 0x%x must be zero", ErrMalformedOpcode, r)}
		}

		if !id.Known() {
			return m.stats, &ExecutionError{Index: idx, Op: id,
				Err: fmt.Errorf("%w: 0x%04x", ErrUnrecognizedInstruction, uint16(id))}
		}
		handler := handlers[id]
		if handler == nil {
			return m.stats, &ExecutionError{Index: idx, Op: id,
				Err: fmt.Errorf("%w: %s has no kernel", ErrUnrecognizedInstruction, id)}
		}

		if in.debug() {
			in.opts.Logger.Debug("dispatch", "pc", idx, "op", id.String(), "stack", m.stack.Len())
		}

		m.next = idx + 1
		if err := handler(in, m, inst.Operand); err != nil {
			return m.stats, &ExecutionError{Index: idx, Op: id, Err: err}
		}
		m.stats.Executed++

		if m.stack.Len() > m.stack.Cap() {
			return m.stats, &ExecutionError{Index: idx, Op: id,
				Err: fmt.Errorf("%w: %d > %d", ErrStackLimitExceeded, m.stack.Len(), m.stack.Cap())}
		}
		m.pc = m.next
	}

	if in.opts.OnHalt != nil {
		in.opts.OnHalt(m.stack)
	}
	if !m.stack.IsEmpty() {
		return m.stats, &ExecutionError{Index: NoIndex,
			Err: fmt.Errorf("%w: %d values left on stack", ErrUnbalancedStack, m.stack.Len())}
	}
	return m.stats, nil
}

func (in *Interpreter) debug() bool {
	return in.opts.Logger != nil && in.opts.Logger.Enabled(context.Background(), slog.LevelDebug)
}
