package engine

import "fmt"

// DefaultStackCapacity is the operand stack size used when none is configured.
const DefaultStackCapacity = 1024

// Stack is the bounded operand stack. Index 0 is the bottom.
type Stack struct {
	slots []Value
	size  int
}

// NewStack creates an empty stack holding at most capacity values.
func NewStack(capacity int) *Stack {
	if capacity <= 0 {
		capacity = DefaultStackCapacity
	}
	return &Stack{slots: make([]Value, capacity)}
}

// Push appends v.
func (s *Stack) Push(v Value) error {
	if s.size == len(s.slots) {
		return fmt.Errorf("%w: capacity %d reached", ErrStackOverflow, len(s.slots))
	}
	s.slots[s.size] = v
	s.size++
	return nil
}

// Pop removes and returns the top value.
func (s *Stack) Pop() (Value, error) {
	if s.size == 0 {
		return Value{}, fmt.Errorf("%w: pop on empty stack", ErrStackUnderflow)
	}
	s.size--
	v := s.slots[s.size]
	s.slots[s.size] = Value{}
	return v, nil
}

// Peek returns a copy of the top value.
func (s *Stack) Peek() (Value, error) {
	if s.size == 0 {
		return Value{}, fmt.Errorf("%w: peek on empty stack", ErrStackUnderflow)
	}
	return s.slots[s.size-1], nil
}

// PeekMut returns the top slot for in-place modification.
func (s *Stack) PeekMut() (*Value, error) {
	if s.size == 0 {
		return nil, fmt.Errorf("%w: peek on empty stack", ErrStackUnderflow)
	}
	return &s.slots[s.size-1], nil
}

// Len returns the number of values on the stack.
func (s *Stack) Len() int { return s.size }

// Cap returns the stack capacity.
func (s *Stack) Cap() int { return len(s.slots) }

// IsEmpty reports whether the stack holds no values.
func (s *Stack) IsEmpty() bool { return s.size == 0 }
