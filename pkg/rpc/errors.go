package rpc

import (
	"errors"
	"fmt"

	"github.com/fortiblox/tensorvm/pkg/engine"
)

// JSON-RPC 2.0 standard error codes.
const (
	// ParseError indicates invalid JSON was received.
	ParseError = -32700

	// InvalidRequest indicates the JSON sent is not a valid Request object.
	InvalidRequest = -32600

	// MethodNotFound indicates the method does not exist.
	MethodNotFound = -32601

	// InvalidParams indicates invalid method parameters.
	InvalidParams = -32602

	// InternalError indicates an internal JSON-RPC error.
	InternalError = -32603
)

// Server error codes.
const (
	// ProgramDecodeFailure indicates the program payload could not be decoded.
	ProgramDecodeFailure = -32001

	// ProgramNotFound indicates no stored program has the requested id.
	ProgramNotFound = -32002

	// NodeUnhealthy indicates the node is unhealthy.
	NodeUnhealthy = -32005

	// BatchTooLarge indicates a batch exceeds the configured size.
	BatchTooLarge = -32010
)

// Common error messages.
var (
	ErrParseError      = NewRPCError(ParseError, "Parse error")
	ErrInvalidRequest  = NewRPCError(InvalidRequest, "Invalid Request")
	ErrMethodNotFound  = NewRPCError(MethodNotFound, "Method not found")
	ErrInvalidParams   = NewRPCError(InvalidParams, "Invalid params")
	ErrInternalError   = NewRPCError(InternalError, "Internal error")
	ErrNodeUnhealthy   = NewRPCError(NodeUnhealthy, "Node is unhealthy")
	ErrProgramNotFound = NewRPCError(ProgramNotFound, "Program not found")
)

// NewRPCError creates a new RPC error.
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
	}
}

// NewRPCErrorWithData creates a new RPC error with additional data.
func NewRPCErrorWithData(code int, message string, data interface{}) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("RPC error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// InvalidParamsError creates an invalid params error with a custom message.
func InvalidParamsError(msg string) *RPCError {
	return NewRPCError(InvalidParams, msg)
}

// InvalidParamsErrorf creates an invalid params error with a formatted message.
func InvalidParamsErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InvalidParams, fmt.Sprintf(format, args...))
}

// InternalServerErrorf creates an internal server error with a formatted message.
func InternalServerErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InternalError, fmt.Sprintf(format, args...))
}

// ProgramDecodeError reports a payload the loader rejected.
func ProgramDecodeError(err error) *RPCError {
	return NewRPCErrorWithData(ProgramDecodeFailure, "Program could not be decoded",
		map[string]string{"reason": err.Error()})
}

// ProgramNotFoundError reports a missing stored program.
func ProgramNotFoundError(id string) *RPCError {
	return NewRPCErrorWithData(ProgramNotFound,
		fmt.Sprintf("Program %s not found", id),
		map[string]string{"id": id})
}

// ExecutionErrorInfo is the JSON form of an engine failure.
type ExecutionErrorInfo struct {
	Kind        string `json:"kind"`
	Index       *int   `json:"index,omitempty"`
	Instruction string `json:"instruction,omitempty"`
	Reason      string `json:"reason"`
}

// executionErrorInfo converts an error returned by the interpreter.
func executionErrorInfo(err error) *ExecutionErrorInfo {
	var execErr *engine.ExecutionError
	if !errors.As(err, &execErr) {
		return &ExecutionErrorInfo{Kind: engine.ErrorKind(err), Reason: err.Error()}
	}
	info := &ExecutionErrorInfo{
		Kind:   execErr.Kind(),
		Reason: execErr.Reason(),
	}
	if execErr.Index != engine.NoIndex {
		idx := execErr.Index
		info.Index = &idx
		info.Instruction = execErr.Op.String()
	}
	return info
}
