package engine

import (
	"fmt"
	"math"
)

// execPushTensor pushes {length, shape, dtype, data}. Only the parts needed
// to build the value are checked here; dtype and data consistency is
// checked by whichever instruction consumes the tensor.
func execPushTensor(_ *Interpreter, m *machine, operand Term) error {
	parts, err := tupleOf(operand, 4, "push_tensor operand")
	if err != nil {
		return err
	}
	length, err := uintOf(parts[0], "tensor length")
	if err != nil {
		return err
	}
	data, err := binaryOf(parts[3], "tensor data")
	if err != nil {
		return err
	}
	t := Tensor{Length: length, Shape: parts[1], DType: parts[2], Data: data}
	// The program is immutable, scale must not write through to it.
	return m.stack.Push(TensorValue(t.Clone()))
}

// execCopy replaces the top tensor's data with a freshly allocated copy.
func execCopy(in *Interpreter, m *machine, _ Term) error {
	slot, err := m.stack.PeekMut()
	if err != nil {
		return err
	}
	t, err := slot.tensorRef()
	if err != nil {
		return err
	}
	d, err := tensorFloatDType(t)
	if err != nil {
		return err
	}
	n, err := tensorElements(t, d)
	if err != nil {
		return err
	}
	if size := uint64(len(t.Data)); size > in.opts.MaxTensorBytes {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrAllocationFailed, size, in.opts.MaxTensorBytes)
	}

	dst := make([]byte, len(t.Data))
	copyData(in.opts.Kernels, d, n, t.Data, dst)
	t.Data = dst
	return nil
}

// execScale multiplies the top tensor in place by {dtype, scalar, increment}.
func execScale(in *Interpreter, m *machine, operand Term) error {
	slot, err := m.stack.PeekMut()
	if err != nil {
		return err
	}
	t, err := slot.tensorRef()
	if err != nil {
		return err
	}
	d, err := tensorFloatDType(t)
	if err != nil {
		return err
	}
	n, err := tensorElements(t, d)
	if err != nil {
		return err
	}

	parts, err := tupleOf(operand, 3, "scale operand")
	if err != nil {
		return err
	}
	sd, err := floatDType(parts[0])
	if err != nil {
		return err
	}
	raw, err := binaryOf(parts[1], "scalar data")
	if err != nil {
		return err
	}
	if len(raw) != sd.ElemSize() {
		return fmt.Errorf("%w: %s scalar needs %d bytes, got %d", ErrMalformedOperand, sd, sd.ElemSize(), len(raw))
	}
	inc, err := uintOf(parts[2], "increment")
	if err != nil {
		return err
	}
	if inc == 0 || inc > math.MaxInt {
		return fmt.Errorf("%w: increment %d out of range", ErrMalformedOperand, inc)
	}

	count := 0
	if n > 0 {
		count = 1 + int(uint64(n-1)/inc)
	}
	scaleData(in.opts.Kernels, d, count, decodeScalar(raw, sd), t.Data, int(inc))
	return nil
}

// execIsScalar pushes whether the operand length equals one.
func execIsScalar(_ *Interpreter, m *machine, operand Term) error {
	length, err := uintOf(operand, "is_scalar length")
	if err != nil {
		return err
	}
	return m.stack.Push(BoolValue(length == 1))
}

// execSkip branches forward by {count, condition}. A target past the end of
// the program terminates it.
func execSkip(_ *Interpreter, m *machine, operand Term) error {
	parts, err := tupleOf(operand, 2, "skip operand")
	if err != nil {
		return err
	}
	count, err := uintOf(parts[0], "skip count")
	if err != nil {
		return err
	}
	cond, err := parseCondition(parts[1])
	if err != nil {
		return err
	}

	take := true
	if c, ok := cond.(IfEquals); ok {
		v, err := m.stack.Pop()
		if err != nil {
			return err
		}
		b, ok := v.Bool()
		if !ok {
			return fmt.Errorf("%w: skip condition expects boolean, found %s", ErrTypeMismatch, v.Kind())
		}
		take = b == c.Expected
	}
	if take {
		m.next = skipTarget(m.pc, count, len(m.program))
	}
	return nil
}

func skipTarget(pc int, count uint64, end int) int {
	if remaining := uint64(end - pc - 1); count >= remaining {
		return end
	}
	return pc + 1 + int(count)
}

// execSendTensor pops the top tensor and delivers it to the operand target.
func execSendTensor(in *Interpreter, m *machine, target Term) error {
	v, err := m.stack.Pop()
	if err != nil {
		return err
	}
	t, ok := v.Tensor()
	if !ok {
		return fmt.Errorf("%w: send_tensor expects tensor, found %s", ErrTypeMismatch, v.Kind())
	}
	if target == nil {
		return fmt.Errorf("%w: missing target", ErrDeliveryFailed)
	}
	if in.opts.Consumer == nil {
		return fmt.Errorf("%w: no consumer for %s", ErrDeliveryFailed, target)
	}
	if err := in.opts.Consumer.Send(target, ResultMessage(t)); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDeliveryFailed, target, err)
	}
	m.stats.Delivered++
	return nil
}

// execReturn ends the program early. The stack must already be empty.
func execReturn(_ *Interpreter, m *machine, _ Term) error {
	if !m.stack.IsEmpty() {
		return fmt.Errorf("%w: return with %d values on stack", ErrUnbalancedStack, m.stack.Len())
	}
	m.halted = true
	return nil
}
