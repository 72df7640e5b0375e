package engine

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

// recorder collects delivered messages.
type recorder struct {
	targets  []Term
	messages []Message
}

func (r *recorder) Send(target Term, msg Message) error {
	r.targets = append(r.targets, target)
	r.messages = append(r.messages, msg)
	return nil
}

func execErr(t *testing.T, err error) *ExecutionError {
	t.Helper()
	var ee *ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("error %v is not an *ExecutionError", err)
	}
	return ee
}

// drainTop returns the top tensor at halt and empties the stack so the
// balance check passes.
func drainTop(out *Tensor) func(*Stack) {
	return func(s *Stack) {
		v, err := s.Pop()
		if err != nil {
			return
		}
		*out, _ = v.Tensor()
		for !s.IsEmpty() {
			s.Pop()
		}
	}
}

func TestInterpreterEmptyProgram(t *testing.T) {
	in := NewInterpreter(Options{})
	stats, err := in.Run(nil)
	if err != nil {
		t.Fatalf("Run(empty) failed: %v", err)
	}
	if stats.Executed != 0 {
		t.Errorf("Executed = %d, want 0", stats.Executed)
	}
}

func TestInterpreterCopy(t *testing.T) {
	input := F32(Vector(4), 1, 2, 3, 4)

	var halted Tensor
	in := NewInterpreter(Options{OnHalt: func(s *Stack) {
		v, err := s.Peek()
		if err != nil {
			t.Fatalf("Peek() at halt failed: %v", err)
		}
		halted, _ = v.Tensor()
	}})

	err := in.Execute(Program{PushTensor(input), Copy()})
	if !errors.Is(err, ErrUnbalancedStack) {
		t.Fatalf("Execute() = %v, want ErrUnbalancedStack", err)
	}
	if ee := execErr(t, err); ee.Index != NoIndex {
		t.Errorf("Index = %d, want NoIndex", ee.Index)
	}

	if halted.Length != input.Length {
		t.Errorf("Length = %d, want %d", halted.Length, input.Length)
	}
	if !TermEqual(halted.Shape, input.Shape) || !TermEqual(halted.DType, input.DType) {
		t.Errorf("shape/dtype = %s/%s, want %s/%s", halted.Shape, halted.DType, input.Shape, input.DType)
	}
	if !bytes.Equal(halted.Data, input.Data) {
		t.Errorf("Data = %v, want %v", halted.Data, input.Data)
	}
}

func TestInterpreterCopyIndependent(t *testing.T) {
	for _, input := range []Tensor{
		F32(Vector(3), 1.5, -2, 8),
		F64(Vector(3), 1.5, -2, 8),
	} {
		in := NewInterpreter(Options{})
		m := &machine{stack: NewStack(4)}
		if err := execPushTensor(in, m, input.Term()); err != nil {
			t.Fatalf("push failed: %v", err)
		}
		v, _ := m.stack.Peek()
		before, _ := v.Tensor()

		if err := execCopy(in, m, nil); err != nil {
			t.Fatalf("copy failed: %v", err)
		}
		v, _ = m.stack.Peek()
		after, _ := v.Tensor()

		if after.Length != before.Length || !TermEqual(after.Shape, before.Shape) || !TermEqual(after.DType, before.DType) {
			t.Errorf("copy changed tensor header: %+v -> %+v", before, after)
		}
		if !bytes.Equal(after.Data, before.Data) {
			t.Fatalf("copy = %v, want %v", after.Data, before.Data)
		}
		after.Data[0] ^= 0xFF
		if !bytes.Equal(before.Data, input.Data) {
			t.Error("mutating the copy changed the original buffer")
		}
	}
}

// A copy or scale that fails leaves the top tensor as it was.
func TestInterpreterFailureKeepsTensor(t *testing.T) {
	int8Tensor := Tensor{Length: 2, Shape: Vector(2), DType: Tuple{Atom("s"), Int(8)}, Data: []byte{1, 2}}
	short := Tensor{Length: 3, Shape: Vector(3), DType: Float32.Term(), Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}}
	f32 := F32(Vector(2), 1.5, -2)

	copyOp := func(in *Interpreter, m *machine) error { return execCopy(in, m, nil) }
	scaleOp := func(operand Term) func(*Interpreter, *machine) error {
		return func(in *Interpreter, m *machine) error { return execScale(in, m, operand) }
	}

	tests := []struct {
		name    string
		input   Tensor
		opts    Options
		op      func(*Interpreter, *machine) error
		wantErr error
	}{
		{"copy int8", int8Tensor, Options{}, copyOp, ErrUnsupportedDType},
		{"copy short data", short, Options{}, copyOp, ErrInvalidTensor},
		{"copy over limit", f32, Options{MaxTensorBytes: 4}, copyOp, ErrAllocationFailed},
		{"scale int8", int8Tensor, Options{}, scaleOp(Scale(Float32, 2, 1).Operand), ErrUnsupportedDType},
		{"scale short data", short, Options{}, scaleOp(Scale(Float32, 2, 1).Operand), ErrInvalidTensor},
		{"scale arity", f32, Options{}, scaleOp(Tuple{Float32.Term(), Binary{0, 0, 0, 64}}), ErrMalformedOperand},
		{"scale zero increment", f32, Options{}, scaleOp(Scale(Float32, 2, 0).Operand), ErrMalformedOperand},
		{"scale short scalar", f32, Options{}, scaleOp(Tuple{Float64.Term(), Binary{0, 0, 0, 0}, Int(1)}), ErrMalformedOperand},
		{"scale opaque increment", f32, Options{}, scaleOp(Tuple{Float32.Term(), Binary{0, 0, 0, 64}, Opaque{Desc: "map", Raw: []byte{0xa0}}}), ErrMalformedOperand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := NewInterpreter(tt.opts)
			m := &machine{stack: NewStack(4)}
			if err := execPushTensor(in, m, tt.input.Term()); err != nil {
				t.Fatalf("push failed: %v", err)
			}
			v, _ := m.stack.Peek()
			before, _ := v.Tensor()
			want := append([]byte(nil), before.Data...)

			if err := tt.op(in, m); !errors.Is(err, tt.wantErr) {
				t.Fatalf("op = %v, want %v", err, tt.wantErr)
			}

			v, err := m.stack.Peek()
			if err != nil {
				t.Fatalf("tensor was popped: %v", err)
			}
			after, ok := v.Tensor()
			if !ok {
				t.Fatalf("top is %s, want tensor", v.Kind())
			}
			if !bytes.Equal(after.Data, want) {
				t.Errorf("Data = %v, want %v", after.Data, want)
			}
			if &after.Data[0] != &before.Data[0] {
				t.Error("Data was replaced with a new buffer")
			}
			if after.Length != before.Length || !TermEqual(after.DType, before.DType) {
				t.Errorf("header changed: %+v -> %+v", before, after)
			}
		})
	}
}

func TestInterpreterScale(t *testing.T) {
	tests := []struct {
		name  string
		input Tensor
		op    Instruction
		want  []float64
	}{
		{"f32 by f32", F32(Vector(3), 1, 2, 3), Scale(Float32, 2, 1), []float64{2, 4, 6}},
		{"f64 by f64", F64(Vector(3), 1, 2, 3), Scale(Float64, -0.5, 1), []float64{-0.5, -1, -1.5}},
		{"f32 by f64", F32(Vector(2), 3, 4), Scale(Float64, 0.25, 1), []float64{0.75, 1}},
		{"f64 by f32", F64(Vector(2), 3, 4), Scale(Float32, 10, 1), []float64{30, 40}},
		{"stride 2", F64(Vector(5), 1, 1, 1, 1, 1), Scale(Float64, 3, 2), []float64{3, 1, 3, 1, 3}},
		{"stride past end", F32(Vector(3), 1, 1, 1), Scale(Float32, 5, 10), []float64{5, 1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out Tensor
			in := NewInterpreter(Options{OnHalt: drainTop(&out)})
			if err := in.Execute(Program{PushTensor(tt.input), tt.op}); err != nil {
				t.Fatalf("Execute() failed: %v", err)
			}
			var got []float64
			if tt.input.DType != nil && TermEqual(tt.input.DType, Float32.Term()) {
				for _, x := range Float32s(out.Data) {
					got = append(got, float64(x))
				}
			} else {
				got = Float64s(out.Data)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("element %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestInterpreterScaleLinearity(t *testing.T) {
	const alpha, beta = 1.7, -3.3

	t.Run("f32", func(t *testing.T) {
		input := F32(Vector(4), 0.5, 1, -2, 1e3)
		var twice, once Tensor
		if err := NewInterpreter(Options{OnHalt: drainTop(&twice)}).Execute(Program{
			PushTensor(input), Scale(Float32, alpha, 1), Scale(Float32, beta, 1),
		}); err != nil {
			t.Fatalf("scale twice: %v", err)
		}
		if err := NewInterpreter(Options{OnHalt: drainTop(&once)}).Execute(Program{
			PushTensor(input), Scale(Float32, alpha*beta, 1),
		}); err != nil {
			t.Fatalf("scale once: %v", err)
		}
		a, b := Float32s(twice.Data), Float32s(once.Data)
		if len(a) != 4 || len(b) != 4 {
			t.Fatalf("got %d and %d elements, want 4", len(a), len(b))
		}
		for i := range a {
			if diff := math.Abs(float64(a[i] - b[i])); diff > 1e-4*math.Max(1, math.Abs(float64(b[i]))) {
				t.Errorf("element %d: %v vs %v", i, a[i], b[i])
			}
		}
	})

	t.Run("f64", func(t *testing.T) {
		input := F64(Vector(4), 0.5, 1, -2, 1e3)
		var twice, once Tensor
		if err := NewInterpreter(Options{OnHalt: drainTop(&twice)}).Execute(Program{
			PushTensor(input), Scale(Float64, alpha, 1), Scale(Float64, beta, 1),
		}); err != nil {
			t.Fatalf("scale twice: %v", err)
		}
		if err := NewInterpreter(Options{OnHalt: drainTop(&once)}).Execute(Program{
			PushTensor(input), Scale(Float64, alpha*beta, 1),
		}); err != nil {
			t.Fatalf("scale once: %v", err)
		}
		a, b := Float64s(twice.Data), Float64s(once.Data)
		if len(a) != 4 || len(b) != 4 {
			t.Fatalf("got %d and %d elements, want 4", len(a), len(b))
		}
		for i := range a {
			if diff := math.Abs(a[i] - b[i]); diff > 1e-12*math.Max(1, math.Abs(b[i])) {
				t.Errorf("element %d: %v vs %v", i, a[i], b[i])
			}
		}
	})
}

func TestInterpreterSkip(t *testing.T) {
	tensor := F32(Vector(1), 1)

	t.Run("taken", func(t *testing.T) {
		rec := &recorder{}
		in := NewInterpreter(Options{Consumer: rec})
		// The skipped push would leave the stack unbalanced
		program := Program{
			IsScalar(1),
			SkipIf(1, true),
			PushTensor(tensor),
			Return(),
		}
		stats, err := in.Run(program)
		if err != nil {
			t.Fatalf("Run() failed: %v", err)
		}
		if stats.Executed != 3 {
			t.Errorf("Executed = %d, want 3", stats.Executed)
		}
	})

	t.Run("not taken", func(t *testing.T) {
		rec := &recorder{}
		in := NewInterpreter(Options{Consumer: rec})
		program := Program{
			IsScalar(4),
			SkipIf(2, true),
			PushTensor(tensor),
			SendTensor(Atom("out")),
			Return(),
		}
		if err := in.Execute(program); err != nil {
			t.Fatalf("Execute() failed: %v", err)
		}
		if len(rec.messages) != 1 {
			t.Errorf("delivered %d messages, want 1", len(rec.messages))
		}
	})

	t.Run("unconditional", func(t *testing.T) {
		in := NewInterpreter(Options{})
		program := Program{Skip(1), PushTensor(tensor)}
		if err := in.Execute(program); err != nil {
			t.Fatalf("Execute() failed: %v", err)
		}
	})

	t.Run("past end", func(t *testing.T) {
		in := NewInterpreter(Options{})
		program := Program{Skip(math.MaxInt64), PushTensor(tensor)}
		if err := in.Execute(program); err != nil {
			t.Fatalf("Execute() failed: %v", err)
		}
	})

	t.Run("count above int range", func(t *testing.T) {
		in := NewInterpreter(Options{})
		program := Program{Skip(math.MaxUint64), PushTensor(tensor)}
		if err := in.Execute(program); err != nil {
			t.Fatalf("Execute() failed: %v", err)
		}
	})

	t.Run("zero count", func(t *testing.T) {
		rec := &recorder{}
		in := NewInterpreter(Options{Consumer: rec})
		program := Program{PushTensor(tensor), Skip(0), SendTensor(Atom("out"))}
		if err := in.Execute(program); err != nil {
			t.Fatalf("Execute() failed: %v", err)
		}
		if len(rec.messages) != 1 {
			t.Errorf("delivered %d messages, want 1", len(rec.messages))
		}
	})
}

func TestInterpreterIsScalar(t *testing.T) {
	tests := []struct {
		operand Term
		want    bool
	}{
		{Int(1), true},
		{Int(0), false},
		{Int(2), false},
		{Uint(1 << 63), false},
		{UintTerm(math.MaxUint64), false},
	}
	for _, tt := range tests {
		m := &machine{stack: NewStack(1)}
		if err := execIsScalar(nil, m, tt.operand); err != nil {
			t.Fatalf("is_scalar %s failed: %v", tt.operand, err)
		}
		v, _ := m.stack.Pop()
		if got, ok := v.Bool(); !ok || got != tt.want {
			t.Errorf("is_scalar %s = %v, want %v", tt.operand, got, tt.want)
		}
	}
}

// TestInterpreterBranchCombinations covers every expected/popped pairing.
func TestInterpreterBranchCombinations(t *testing.T) {
	for _, expected := range []bool{true, false} {
		for _, popped := range []bool{true, false} {
			length := uint64(2)
			if popped {
				length = 1
			}
			rec := &recorder{}
			in := NewInterpreter(Options{Consumer: rec})
			program := Program{
				IsScalar(length),
				SkipIf(2, expected),
				PushTensor(F32(Vector(1), 1)),
				SendTensor(Atom("fallthrough")),
			}
			stats, err := in.Run(program)
			if err != nil {
				t.Fatalf("expected=%t popped=%t: Run() failed: %v", expected, popped, err)
			}

			taken := expected == popped
			wantDelivered := 1
			wantExecuted := 4
			if taken {
				wantDelivered = 0
				wantExecuted = 2
			}
			if stats.Delivered != wantDelivered || stats.Executed != wantExecuted {
				t.Errorf("expected=%t popped=%t: stats = %+v, want delivered %d executed %d",
					expected, popped, stats, wantDelivered, wantExecuted)
			}
		}
	}
}

func TestInterpreterSendTensor(t *testing.T) {
	input := F64(Vector(2), 3.5, 4.5)
	rec := &recorder{}
	in := NewInterpreter(Options{Consumer: rec})

	stats, err := in.Run(Program{PushTensor(input), SendTensor(Atom("x"))})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if stats.Delivered != 1 {
		t.Errorf("Delivered = %d, want 1", stats.Delivered)
	}
	if len(rec.messages) != 1 {
		t.Fatalf("delivered %d messages, want 1", len(rec.messages))
	}
	if !TermEqual(rec.targets[0], Atom("x")) {
		t.Errorf("target = %s, want x", rec.targets[0])
	}
	msg := rec.messages[0]
	if msg.Tag != TagResult {
		t.Errorf("Tag = %s, want result", msg.Tag)
	}
	if !bytes.Equal(msg.Data, input.Data) || !TermEqual(msg.Shape, input.Shape) || !TermEqual(msg.DType, input.DType) {
		t.Errorf("message = %+v, want tensor %+v", msg, input)
	}
}

func TestInterpreterDeliveryFailed(t *testing.T) {
	failing := ConsumerFunc(func(Term, Message) error {
		return errors.New("mailbox closed")
	})
	program := Program{PushTensor(F32(Vector(1), 1)), SendTensor(Atom("x"))}

	tests := []struct {
		name     string
		consumer Consumer
	}{
		{"rejecting consumer", failing},
		{"no consumer", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewInterpreter(Options{Consumer: tt.consumer}).Execute(program)
			if !errors.Is(err, ErrDeliveryFailed) {
				t.Fatalf("Execute() = %v, want ErrDeliveryFailed", err)
			}
			if ee := execErr(t, err); ee.Index != 1 || ee.Op != OpSendTensor {
				t.Errorf("error at %d (%s), want 1 (send_tensor)", ee.Index, ee.Op)
			}
		})
	}
}

func TestInterpreterWithConsumer(t *testing.T) {
	base := NewInterpreter(Options{})
	rec := &recorder{}
	err := base.WithConsumer(rec).Execute(Program{PushTensor(F32(Vector(1), 1)), SendTensor(Atom("x"))})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if len(rec.messages) != 1 {
		t.Errorf("delivered %d messages, want 1", len(rec.messages))
	}
	if base.opts.Consumer != nil {
		t.Error("WithConsumer modified the original interpreter")
	}
}

func TestInterpreterErrors(t *testing.T) {
	f32 := F32(Vector(2), 1, 2)
	int8Tensor := Tensor{Length: 2, Shape: Vector(2), DType: Tuple{Atom("s"), Int(8)}, Data: []byte{1, 2}}
	short := Tensor{Length: 3, Shape: Vector(3), DType: Float32.Term(), Data: make([]byte, 8)}

	tests := []struct {
		name    string
		program Program
		opts    Options
		wantErr error
		index   int
	}{
		{
			name:    "reserved bits",
			program: Program{{Opcode: Encode(OpReturn) | 1<<16}},
			wantErr: ErrMalformedOpcode,
		},
		{
			name:    "unknown id",
			program: Program{{Opcode: 0x0001}},
			wantErr: ErrUnrecognizedInstruction,
		},
		{
			name:    "declared without kernel",
			program: Program{{Opcode: Encode(OpGemm)}},
			wantErr: ErrUnrecognizedInstruction,
		},
		{
			name:    "push arity",
			program: Program{{Opcode: Encode(OpPushTensor), Operand: Tuple{Int(1), Vector(1), Float32.Term()}}},
			wantErr: ErrMalformedOperand,
		},
		{
			name:    "push negative length",
			program: Program{{Opcode: Encode(OpPushTensor), Operand: Tuple{Int(-1), Vector(1), Float32.Term(), Binary{}}}},
			wantErr: ErrMalformedOperand,
		},
		{
			name:    "copy empty stack",
			program: Program{Copy()},
			wantErr: ErrStackUnderflow,
		},
		{
			name:    "copy boolean",
			program: Program{IsScalar(1), Copy()},
			wantErr: ErrTypeMismatch,
			index:   1,
		},
		{
			name:    "copy int8",
			program: Program{PushTensor(int8Tensor), Copy()},
			wantErr: ErrUnsupportedDType,
			index:   1,
		},
		{
			name:    "copy malformed tensor dtype",
			program: Program{PushTensor(Tensor{Length: 0, DType: Atom("f32"), Data: nil}), Copy()},
			wantErr: ErrUnsupportedDType,
			index:   1,
		},
		{
			name:    "copy short data",
			program: Program{PushTensor(short), Copy()},
			wantErr: ErrInvalidTensor,
			index:   1,
		},
		{
			name:    "copy over limit",
			program: Program{PushTensor(f32), Copy()},
			opts:    Options{MaxTensorBytes: 4},
			wantErr: ErrAllocationFailed,
			index:   1,
		},
		{
			name:    "scale int8 scalar",
			program: Program{PushTensor(f32), {Opcode: Encode(OpScale), Operand: Tuple{Tuple{Atom("s"), Int(8)}, Binary{2}, Int(1)}}},
			wantErr: ErrUnsupportedDType,
			index:   1,
		},
		{
			name:    "scale zero increment",
			program: Program{PushTensor(f32), Scale(Float32, 2, 0)},
			wantErr: ErrMalformedOperand,
			index:   1,
		},
		{
			name:    "scale short scalar",
			program: Program{PushTensor(f32), {Opcode: Encode(OpScale), Operand: Tuple{Float64.Term(), Binary{0, 0, 0, 0}, Int(1)}}},
			wantErr: ErrMalformedOperand,
			index:   1,
		},
		{
			name:    "scale arity",
			program: Program{PushTensor(f32), {Opcode: Encode(OpScale), Operand: Tuple{Float64.Term()}}},
			wantErr: ErrMalformedOperand,
			index:   1,
		},
		{
			name:    "skip false literal",
			program: Program{{Opcode: Encode(OpSkip), Operand: Tuple{Int(1), AtomFalse}}},
			wantErr: ErrMalformedOperand,
		},
		{
			name:    "skip negative count",
			program: Program{{Opcode: Encode(OpSkip), Operand: Tuple{Int(-1), AtomTrue}}},
			wantErr: ErrMalformedOperand,
		},
		{
			name:    "conditional skip on tensor",
			program: Program{PushTensor(f32), SkipIf(1, true)},
			wantErr: ErrTypeMismatch,
			index:   1,
		},
		{
			name:    "conditional skip on empty stack",
			program: Program{SkipIf(1, true)},
			wantErr: ErrStackUnderflow,
		},
		{
			name:    "send boolean",
			program: Program{IsScalar(1), SendTensor(Atom("x"))},
			wantErr: ErrTypeMismatch,
			index:   1,
		},
		{
			name:    "send empty stack",
			program: Program{SendTensor(Atom("x"))},
			wantErr: ErrStackUnderflow,
		},
		{
			name:    "is_scalar bad operand",
			program: Program{{Opcode: Encode(OpIsScalar), Operand: Atom("one")}},
			wantErr: ErrMalformedOperand,
		},
		{
			name:    "is_scalar opaque operand",
			program: Program{{Opcode: Encode(OpIsScalar), Operand: Opaque{Desc: "map", Raw: []byte{0xa0}}}},
			wantErr: ErrMalformedOperand,
		},
		{
			name:    "skip opaque count",
			program: Program{{Opcode: Encode(OpSkip), Operand: Tuple{Opaque{Desc: "tag 99", Raw: []byte{0xd8, 0x63, 0x00}}, AtomTrue}}},
			wantErr: ErrMalformedOperand,
		},
		{
			name:    "push opaque data",
			program: Program{{Opcode: Encode(OpPushTensor), Operand: Tuple{Int(0), Vector(0), Float32.Term(), Opaque{Desc: "map", Raw: []byte{0xa0}}}}},
			wantErr: ErrMalformedOperand,
		},
		{
			name:    "return with values",
			program: Program{IsScalar(1), Return()},
			wantErr: ErrUnbalancedStack,
			index:   1,
		},
		{
			name:    "unbalanced at end",
			program: Program{IsScalar(1)},
			wantErr: ErrUnbalancedStack,
			index:   NoIndex,
		},
		{
			name:    "overflow",
			program: Program{IsScalar(1), IsScalar(1), IsScalar(1)},
			opts:    Options{StackCapacity: 2},
			wantErr: ErrStackOverflow,
			index:   2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewInterpreter(tt.opts).Execute(tt.program)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Execute() = %v, want %v", err, tt.wantErr)
			}
			ee := execErr(t, err)
			if ee.Index != tt.index {
				t.Errorf("Index = %d, want %d", ee.Index, tt.index)
			}
			if ee.Kind() == "Unknown" {
				t.Errorf("Kind() = Unknown for %v", err)
			}
		})
	}
}

// TestInterpreterReservedBits sets each reserved bit on every instruction id.
func TestInterpreterReservedBits(t *testing.T) {
	operands := []Term{nil, AtomTrue, Int(1), F32(Vector(1), 1).Term()}
	for id := range instructionNames {
		for bit := ShiftReserved; bit < 64; bit++ {
			op := Encode(id) | Opcode(1)<<bit
			for _, operand := range operands {
				err := NewInterpreter(Options{}).Execute(Program{{Opcode: op, Operand: operand}})
				if !errors.Is(err, ErrMalformedOpcode) {
					t.Fatalf("%s with bit %d: Execute() = %v, want ErrMalformedOpcode", id, bit, err)
				}
			}
		}
	}
}

func TestInterpreterStubName(t *testing.T) {
	err := NewInterpreter(Options{}).Execute(Program{{Opcode: Encode(OpAxpy)}})
	if ee := execErr(t, err); ee.Reason() != "unrecognized instruction: axpy has no kernel" {
		t.Errorf("Reason() = %q", ee.Reason())
	}
}

// Every named instruction without a kernel fails by name.
func TestInterpreterUnboundNames(t *testing.T) {
	for id, name := range instructionNames {
		if handlers[id] != nil {
			continue
		}
		err := NewInterpreter(Options{}).Execute(Program{{Opcode: Encode(id)}})
		if !errors.Is(err, ErrUnrecognizedInstruction) {
			t.Fatalf("%s: Execute() = %v, want ErrUnrecognizedInstruction", name, err)
		}
		if want := "unrecognized instruction: " + name + " has no kernel"; execErr(t, err).Reason() != want {
			t.Errorf("Reason() = %q, want %q", execErr(t, err).Reason(), want)
		}
	}
}

func TestInterpreterReturnEarly(t *testing.T) {
	rec := &recorder{}
	in := NewInterpreter(Options{Consumer: rec})
	program := Program{
		PushTensor(F32(Vector(1), 1)),
		SendTensor(Atom("x")),
		Return(),
		IsScalar(1), // never reached
	}
	stats, err := in.Run(program)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if stats.Executed != 3 {
		t.Errorf("Executed = %d, want 3", stats.Executed)
	}
}

func TestInterpreterDoesNotMutateProgram(t *testing.T) {
	input := F32(Vector(2), 1, 2)
	program := Program{PushTensor(input), Scale(Float32, 3, 1), SendTensor(Atom("x"))}
	operand := program[0].Operand.(Tuple)[3].(Binary)
	want := append([]byte(nil), operand...)

	in := NewInterpreter(Options{Consumer: &recorder{}})
	for i := 0; i < 2; i++ {
		if err := in.Execute(program); err != nil {
			t.Fatalf("Execute() failed: %v", err)
		}
	}
	if !bytes.Equal(operand, want) {
		t.Error("scale wrote through to the program operand")
	}
}
