package rpc

import (
	"encoding/json"
)

// JSON-RPC 2.0 constants.
const (
	JSONRPCVersion = "2.0"
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// EncodingConfig selects the text encoding of program and tensor payloads.
// An empty encoding means base64.
type EncodingConfig struct {
	Encoding string `json:"encoding,omitempty"`
}

// Execution status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// ExecuteResult is returned by executeProgram and executeStoredProgram.
type ExecuteResult struct {
	Status    string              `json:"status"`
	Error     *ExecutionErrorInfo `json:"error,omitempty"`
	Executed  int                 `json:"executed"`
	Delivered int                 `json:"delivered"`
	Results   []ResultMessage     `json:"results"`
}

// ResultMessage is one message delivered to the reply mailbox.
type ResultMessage struct {
	Tag    string      `json:"tag"`
	Data   string      `json:"data,omitempty"`
	Shape  interface{} `json:"shape,omitempty"`
	DType  interface{} `json:"dtype,omitempty"`
	Reason string      `json:"reason,omitempty"`
}

// ProgramInfo describes a stored program.
type ProgramInfo struct {
	ID         string `json:"id"`
	Size       int    `json:"size"`
	StoredSize int    `json:"storedSize"`
	StoredAt   int64  `json:"storedAt"`
}

// ProgramResult is returned by getProgram.
type ProgramResult struct {
	ID       string `json:"id"`
	Program  string `json:"program"`
	Encoding string `json:"encoding"`
	Size     int    `json:"size"`
}

// VersionResult is returned by getVersion.
type VersionResult struct {
	Version      string   `json:"tensorvm"`
	Instructions []string `json:"instructions"`
}

// StatsResult is returned by getStats.
type StatsResult struct {
	Executions   uint64 `json:"executions"`
	Failures     uint64 `json:"failures"`
	Instructions uint64 `json:"instructions"`
	Delivered    uint64 `json:"delivered"`
	Programs     uint64 `json:"programs"`
	RawBytes     uint64 `json:"rawBytes"`
	StoredBytes  uint64 `json:"storedBytes"`
}
