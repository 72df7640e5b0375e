package rpc

import (
	"encoding/json"
	"errors"

	"github.com/fortiblox/tensorvm/internal/types"
	"github.com/fortiblox/tensorvm/pkg/consumer"
	"github.com/fortiblox/tensorvm/pkg/engine"
	"github.com/fortiblox/tensorvm/pkg/loader"
	"github.com/fortiblox/tensorvm/pkg/programstore"
)

// parseArgs splits positional params and checks the required count.
func parseArgs(params json.RawMessage, required int, what string) ([]json.RawMessage, *RPCError) {
	var args []json.RawMessage
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, InvalidParamsError("invalid params")
		}
	}
	if len(args) < required {
		return nil, InvalidParamsErrorf("missing %s parameter", what)
	}
	return args, nil
}

// parseEncoding reads the optional encoding config at args[i].
func parseEncoding(args []json.RawMessage, i int) (loader.Encoding, *RPCError) {
	var config EncodingConfig
	if len(args) > i {
		if err := json.Unmarshal(args[i], &config); err != nil {
			return "", InvalidParamsError("invalid config")
		}
	}
	enc, err := loader.ParseEncoding(config.Encoding)
	if err != nil {
		return "", InvalidParamsError(err.Error())
	}
	return enc, nil
}

// parseProgram decodes the text-encoded program at args[0].
func parseProgram(args []json.RawMessage, enc loader.Encoding) (engine.Program, []byte, *RPCError) {
	var text string
	if err := json.Unmarshal(args[0], &text); err != nil {
		return nil, nil, InvalidParamsError("invalid program")
	}
	program, raw, err := loader.DecodeProgramText(text, enc)
	if err != nil {
		return nil, nil, ProgramDecodeError(err)
	}
	return program, raw, nil
}

// parseProgramID reads a base58 program id at args[0].
func parseProgramID(args []json.RawMessage) (types.ProgramID, string, *RPCError) {
	var idStr string
	if err := json.Unmarshal(args[0], &idStr); err != nil {
		return types.ProgramID{}, "", InvalidParamsError("invalid program id")
	}
	id, err := types.ProgramIDFromBase58(idStr)
	if err != nil {
		return types.ProgramID{}, "", InvalidParamsError("invalid program id format")
	}
	return id, idStr, nil
}

// Execute runs program with a fresh reply mailbox and reports the outcome.
// Tensor data in the results is encoded with enc.
func (s *Server) Execute(program engine.Program, enc loader.Encoding) (*ExecuteResult, error) {
	boxes := consumer.NewMailboxes()
	if _, err := boxes.Register(ReplyTarget, s.config.ReplyCapacity); err != nil {
		return nil, err
	}
	defer boxes.Unregister(ReplyTarget)

	endpoints := []consumer.Endpoint{boxes}
	if s.shared != nil {
		endpoints = append(endpoints, s.shared)
	}

	stats, runErr := s.interp.WithConsumer(consumer.NewRouter(endpoints...)).Run(program)

	s.executions.Add(1)
	s.instructions.Add(uint64(stats.Executed))
	s.delivered.Add(uint64(stats.Delivered))

	result := &ExecuteResult{
		Status:    StatusOK,
		Executed:  stats.Executed,
		Delivered: stats.Delivered,
		Results:   []ResultMessage{},
	}
	if runErr != nil {
		s.failures.Add(1)
		result.Status = StatusError
		result.Error = executionErrorInfo(runErr)
		s.logger.Debug("execution failed", "kind", result.Error.Kind, "error", runErr)
	}

	for _, d := range boxes.Drain(ReplyTarget) {
		msg, err := resultMessage(d.Message, enc)
		if err != nil {
			return nil, err
		}
		result.Results = append(result.Results, msg)
	}
	return result, nil
}

func resultMessage(msg engine.Message, enc loader.Encoding) (ResultMessage, error) {
	out := ResultMessage{Tag: string(msg.Tag), Reason: msg.Reason}
	if msg.Tag != engine.TagResult {
		return out, nil
	}
	data, err := loader.EncodeText(msg.Data, enc)
	if err != nil {
		return out, err
	}
	out.Data = data
	if out.Shape, err = termJSON(msg.Shape, enc); err != nil {
		return out, err
	}
	if out.DType, err = termJSON(msg.DType, enc); err != nil {
		return out, err
	}
	return out, nil
}

// termJSON renders a term as plain JSON: atoms as strings, tuples and lists
// as arrays, binaries and opaque CBOR in the response encoding.
func termJSON(t engine.Term, enc loader.Encoding) (interface{}, error) {
	switch v := t.(type) {
	case nil:
		return nil, nil
	case engine.Atom:
		return string(v), nil
	case engine.Int:
		return int64(v), nil
	case engine.Uint:
		return uint64(v), nil
	case engine.Float:
		return float64(v), nil
	case engine.Binary:
		return loader.EncodeText(v, enc)
	case engine.Opaque:
		return loader.EncodeText(v.Raw, enc)
	case engine.Tuple:
		return termsJSON(v, enc)
	case engine.List:
		return termsJSON(v, enc)
	}
	return nil, errors.New("unsupported term")
}

func termsJSON(ts []engine.Term, enc loader.Encoding) ([]interface{}, error) {
	out := make([]interface{}, len(ts))
	for i, t := range ts {
		v, err := termJSON(t, enc)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// executeProgram decodes and runs a program.
// Params: [program, {encoding}]
func (s *Server) executeProgram(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "program")
	if rpcErr != nil {
		return nil, rpcErr
	}
	enc, rpcErr := parseEncoding(args, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	program, _, rpcErr := parseProgram(args, enc)
	if rpcErr != nil {
		return nil, rpcErr
	}

	result, err := s.Execute(program, enc)
	if err != nil {
		return nil, InternalServerErrorf("execution failed: %v", err)
	}
	return result, nil
}

// executeStoredProgram runs a program from the store.
// Params: [id, {encoding}]
func (s *Server) executeStoredProgram(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "program id")
	if rpcErr != nil {
		return nil, rpcErr
	}
	id, idStr, rpcErr := parseProgramID(args)
	if rpcErr != nil {
		return nil, rpcErr
	}
	enc, rpcErr := parseEncoding(args, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}

	raw, rpcErr := s.loadProgram(id, idStr)
	if rpcErr != nil {
		return nil, rpcErr
	}
	program, err := loader.Unmarshal(raw)
	if err != nil {
		return nil, ProgramDecodeError(err)
	}

	result, err := s.Execute(program, enc)
	if err != nil {
		return nil, InternalServerErrorf("execution failed: %v", err)
	}
	return result, nil
}

func (s *Server) loadProgram(id types.ProgramID, idStr string) ([]byte, *RPCError) {
	raw, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, programstore.ErrProgramNotFound) {
			return nil, ProgramNotFoundError(idStr)
		}
		return nil, InternalServerErrorf("failed to get program: %v", err)
	}
	return raw, nil
}

// storeProgram validates and stores a program, returning its id.
// Params: [program, {encoding}]
func (s *Server) storeProgram(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "program")
	if rpcErr != nil {
		return nil, rpcErr
	}
	enc, rpcErr := parseEncoding(args, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	_, raw, rpcErr := parseProgram(args, enc)
	if rpcErr != nil {
		return nil, rpcErr
	}

	id, err := s.store.Put(raw)
	if err != nil {
		return nil, InternalServerErrorf("failed to store program: %v", err)
	}
	if s.config.LogRequests {
		s.logger.Info("program stored", "id", id.String(), "size", len(raw))
	}
	return id.String(), nil
}

// getProgram returns a stored program in the requested encoding.
// Params: [id, {encoding}]
func (s *Server) getProgram(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "program id")
	if rpcErr != nil {
		return nil, rpcErr
	}
	id, idStr, rpcErr := parseProgramID(args)
	if rpcErr != nil {
		return nil, rpcErr
	}
	enc, rpcErr := parseEncoding(args, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}

	raw, rpcErr := s.loadProgram(id, idStr)
	if rpcErr != nil {
		return nil, rpcErr
	}
	text, err := loader.EncodeText(raw, enc)
	if err != nil {
		return nil, InternalServerErrorf("failed to encode program: %v", err)
	}
	return ProgramResult{
		ID:       idStr,
		Program:  text,
		Encoding: string(enc),
		Size:     len(raw),
	}, nil
}

// deleteProgram removes a stored program.
// Params: [id]
func (s *Server) deleteProgram(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "program id")
	if rpcErr != nil {
		return nil, rpcErr
	}
	id, idStr, rpcErr := parseProgramID(args)
	if rpcErr != nil {
		return nil, rpcErr
	}

	if err := s.store.Delete(id); err != nil {
		if errors.Is(err, programstore.ErrProgramNotFound) {
			return nil, ProgramNotFoundError(idStr)
		}
		return nil, InternalServerErrorf("failed to delete program: %v", err)
	}
	return true, nil
}

// listPrograms returns every stored program.
func (s *Server) listPrograms(params json.RawMessage) (interface{}, *RPCError) {
	records, err := s.store.List()
	if err != nil {
		return nil, InternalServerErrorf("failed to list programs: %v", err)
	}
	out := make([]ProgramInfo, len(records))
	for i, r := range records {
		out[i] = ProgramInfo{
			ID:         r.ID.String(),
			Size:       r.Size,
			StoredSize: r.StoredSize,
			StoredAt:   r.StoredAt.Unix(),
		}
	}
	return out, nil
}

func (s *Server) getHealth(params json.RawMessage) (interface{}, *RPCError) {
	if !s.IsHealthy() {
		return nil, ErrNodeUnhealthy
	}
	return "ok", nil
}

func (s *Server) getVersion(params json.RawMessage) (interface{}, *RPCError) {
	ids := engine.Implemented()
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.String()
	}
	return VersionResult{
		Version:      s.config.Version,
		Instructions: names,
	}, nil
}

func (s *Server) getStats(params json.RawMessage) (interface{}, *RPCError) {
	st, err := s.store.Stats()
	if err != nil {
		return nil, InternalServerErrorf("failed to get store stats: %v", err)
	}
	return StatsResult{
		Executions:   s.executions.Load(),
		Failures:     s.failures.Load(),
		Instructions: s.instructions.Load(),
		Delivered:    s.delivered.Load(),
		Programs:     st.Programs,
		RawBytes:     st.RawBytes,
		StoredBytes:  st.StoredBytes,
	}, nil
}
