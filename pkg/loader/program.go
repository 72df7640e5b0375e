// Package loader converts programs between their wire form and
// engine.Program.
//
// The wire form is a CBOR array of [opcode, operand] pairs. Opcodes are
// unsigned integers; operands are CBOR values mapped onto engine terms:
// text strings become atoms, booleans the atoms true/false, byte strings
// binaries, arrays tuples, and arrays wrapped in tag TagList become lists.
// Programs may additionally be zstd-compressed and carried as base58 or
// base64 text.
package loader

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/fortiblox/tensorvm/pkg/engine"
)

// Decode errors.
var (
	ErrNotAList          = errors.New("program should be a list")
	ErrNotATupleOfArity2 = errors.New("instruction should be a tuple of 2")
	ErrInvalidOpcode     = errors.New("invalid opcode")
	ErrUnsupportedTerm   = errors.New("unsupported term")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("loader: failed to create CBOR enc mode: %v", err))
	}
	encMode = em

	dm, err := cbor.DecOptions{
		MaxNestedLevels:  64,
		MaxArrayElements: 1 << 20,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("loader: failed to create CBOR dec mode: %v", err))
	}
	decMode = dm
}

// Marshal encodes a program as canonical CBOR.
func Marshal(p engine.Program) ([]byte, error) {
	pairs := make([]interface{}, len(p))
	for i, inst := range p {
		operand, err := termToWire(inst.Operand)
		if err != nil {
			return nil, fmt.Errorf("loader: instruction %d: %w", i, err)
		}
		pairs[i] = []interface{}{uint64(inst.Opcode), operand}
	}
	return encMode.Marshal(pairs)
}

// Unmarshal decodes a CBOR program. Opcode reserved bits are not checked
// here; the interpreter rejects them when the instruction is reached.
func Unmarshal(data []byte) (engine.Program, error) {
	var top interface{}
	if err := decMode.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("loader: unmarshal program: %w", err)
	}
	items, ok := top.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: got %s", ErrNotAList, wireKind(top))
	}

	program := make(engine.Program, len(items))
	for i, item := range items {
		pair, ok := item.([]interface{})
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("%w: instruction %d", ErrNotATupleOfArity2, i)
		}
		opcode, ok := pair[0].(uint64)
		if !ok {
			return nil, fmt.Errorf("%w: instruction %d: got %s", ErrInvalidOpcode, i, wireKind(pair[0]))
		}
		operand, err := wireToTerm(pair[1])
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		program[i] = engine.Instruction{Opcode: engine.Opcode(opcode), Operand: operand}
	}
	return program, nil
}

func wireKind(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case []interface{}:
		return "array"
	case map[interface{}]interface{}:
		return "map"
	case string:
		return "text"
	case []byte:
		return "bytes"
	case int64:
		return "negative integer"
	case uint64:
		return "integer"
	case float64:
		return "float"
	case bool:
		return "bool"
	case cbor.Tag:
		return "tag"
	}
	return fmt.Sprintf("%T", v)
}
