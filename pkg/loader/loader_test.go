package loader

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/fortiblox/tensorvm/pkg/engine"
)

func sampleProgram() engine.Program {
	return engine.Program{
		engine.PushTensor(engine.F32(engine.Vector(2), 1, 2)),
		engine.Scale(engine.Float32, 1.5, 1),
		engine.Copy(),
		engine.IsScalar(2),
		engine.SkipIf(1, false),
		engine.SendTensor(engine.Atom("reply")),
		engine.Return(),
	}
}

func TestMarshalUnmarshalProgram(t *testing.T) {
	p := sampleProgram()
	data, err := Marshal(p)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if len(got) != len(p) {
		t.Fatalf("len = %d, want %d", len(got), len(p))
	}
	for i := range p {
		if got[i].Opcode != p[i].Opcode {
			t.Errorf("instruction %d opcode = %#x, want %#x", i, got[i].Opcode, p[i].Opcode)
		}
		if !engine.TermEqual(got[i].Operand, p[i].Operand) {
			t.Errorf("instruction %d operand = %v, want %v", i, got[i].Operand, p[i].Operand)
		}
	}

	// Canonical encoding is deterministic
	again, _ := Marshal(got)
	if !bytes.Equal(data, again) {
		t.Error("re-marshalled program differs")
	}
}

func TestUnmarshalErrors(t *testing.T) {
	enc := func(v interface{}) []byte {
		data, err := cbor.Marshal(v)
		if err != nil {
			t.Fatalf("cbor.Marshal(%v) failed: %v", v, err)
		}
		return data
	}

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"map at top", enc(map[string]int{"a": 1}), ErrNotAList},
		{"integer at top", enc(7), ErrNotAList},
		{"element not array", enc([]interface{}{uint64(1)}), ErrNotATupleOfArity2},
		{"element arity 3", enc([]interface{}{[]interface{}{uint64(1), nil, nil}}), ErrNotATupleOfArity2},
		{"negative opcode", enc([]interface{}{[]interface{}{int64(-1), nil}}), ErrInvalidOpcode},
		{"text opcode", enc([]interface{}{[]interface{}{"copy", nil}}), ErrInvalidOpcode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Unmarshal(tt.data); !errors.Is(err, tt.wantErr) {
				t.Errorf("Unmarshal() = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := Unmarshal([]byte{0xff, 0x00}); err == nil {
		t.Error("Unmarshal(garbage) should fail")
	}
}

// Operands with no term form only fail the instruction that reads them.
func TestUnmarshalDefersOperandChecks(t *testing.T) {
	skip, err := termToWire(engine.Skip(1).Operand)
	if err != nil {
		t.Fatal(err)
	}
	isScalar := uint64(engine.Encode(engine.OpIsScalar))

	tests := []struct {
		name    string
		operand interface{}
		want    engine.Term
	}{
		{"map", map[string]int{"a": 1}, engine.Opaque{Desc: "map"}},
		{"unknown tag", cbor.Tag{Number: 99, Content: "x"}, engine.Opaque{Desc: "tag 99"}},
		{"huge integer", uint64(1 << 63), engine.Uint(1 << 63)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := cbor.Marshal([]interface{}{
				[]interface{}{uint64(engine.Encode(engine.OpSkip)), skip},
				[]interface{}{isScalar, tt.operand},
			})
			if err != nil {
				t.Fatal(err)
			}
			p, err := Unmarshal(data)
			if err != nil {
				t.Fatalf("Unmarshal() failed: %v", err)
			}

			switch want := tt.want.(type) {
			case engine.Opaque:
				got, ok := p[1].Operand.(engine.Opaque)
				if !ok || got.Desc != want.Desc || len(got.Raw) == 0 {
					t.Errorf("operand = %#v, want opaque %q", p[1].Operand, want.Desc)
				}
			default:
				if !engine.TermEqual(p[1].Operand, want) {
					t.Errorf("operand = %v, want %v", p[1].Operand, want)
				}
			}

			if err := engine.NewInterpreter(engine.Options{}).Execute(p); err != nil {
				t.Errorf("Execute() with skipped operand = %v, want nil", err)
			}

			again, err := Marshal(p)
			if err != nil {
				t.Fatalf("Marshal() failed: %v", err)
			}
			back, err := Unmarshal(again)
			if err != nil {
				t.Fatalf("Unmarshal(Marshal()) failed: %v", err)
			}
			if !engine.TermEqual(back[1].Operand, p[1].Operand) {
				t.Errorf("operand changed on re-encode: %v -> %v", p[1].Operand, back[1].Operand)
			}
		})
	}
}

func TestUnmarshalOpaqueOperandFailsWhenReached(t *testing.T) {
	tests := []struct {
		name    string
		opcode  engine.InstructionID
		operand interface{}
		wantErr error
	}{
		{"is_scalar map", engine.OpIsScalar, map[string]int{"a": 1}, engine.ErrMalformedOperand},
		{"is_scalar tag", engine.OpIsScalar, cbor.Tag{Number: 99, Content: "x"}, engine.ErrMalformedOperand},
		{"skip map", engine.OpSkip, map[string]int{"a": 1}, engine.ErrMalformedOperand},
		{"push_tensor tag", engine.OpPushTensor, cbor.Tag{Number: 99, Content: "x"}, engine.ErrMalformedOperand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := cbor.Marshal([]interface{}{
				[]interface{}{uint64(engine.Encode(tt.opcode)), tt.operand},
			})
			if err != nil {
				t.Fatal(err)
			}
			p, err := Unmarshal(data)
			if err != nil {
				t.Fatalf("Unmarshal() failed: %v", err)
			}
			if err := engine.NewInterpreter(engine.Options{}).Execute(p); !errors.Is(err, tt.wantErr) {
				t.Errorf("Execute() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestUnmarshalKeepsReservedBits(t *testing.T) {
	data, err := cbor.Marshal([]interface{}{[]interface{}{uint64(1<<32 | 0x80), nil}})
	if err != nil {
		t.Fatal(err)
	}
	p, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if p[0].Opcode.Reserved() == 0 {
		t.Error("reserved bits were dropped")
	}

	err = engine.NewInterpreter(engine.Options{}).Execute(p)
	if !errors.Is(err, engine.ErrMalformedOpcode) {
		t.Errorf("Execute() = %v, want ErrMalformedOpcode", err)
	}
}

func TestTermConversion(t *testing.T) {
	terms := []engine.Term{
		nil,
		engine.Atom("reply"),
		engine.AtomTrue,
		engine.AtomFalse,
		engine.Int(-42),
		engine.Int(1 << 40),
		engine.Float(0.1),
		engine.Binary{0, 1, 2},
		engine.Tuple{engine.Atom("if"), engine.AtomTrue},
		engine.List{engine.Int(2), engine.Int(3)},
		engine.List{},
		engine.Tuple{engine.List{engine.Tuple{}}, engine.Binary{}},
	}
	for _, term := range terms {
		data, err := MarshalTerm(term)
		if err != nil {
			t.Errorf("MarshalTerm(%v) failed: %v", term, err)
			continue
		}
		got, err := UnmarshalTerm(data)
		if err != nil {
			t.Errorf("UnmarshalTerm(%v) failed: %v", term, err)
			continue
		}
		if !engine.TermEqual(got, term) {
			t.Errorf("term %v decoded as %v", term, got)
		}
	}
}

func TestEnvelope(t *testing.T) {
	data, err := Marshal(sampleProgram())
	if err != nil {
		t.Fatal(err)
	}

	compressed := Compress(data)
	if !IsCompressed(compressed) {
		t.Fatal("Compress() output lacks the zstd magic")
	}
	if IsCompressed(data) {
		t.Fatal("raw CBOR detected as compressed")
	}

	for _, in := range [][]byte{data, compressed} {
		p, err := Unpack(in)
		if err != nil {
			t.Fatalf("Unpack() failed: %v", err)
		}
		if len(p) != len(sampleProgram()) {
			t.Errorf("Unpack() len = %d", len(p))
		}
	}

	if _, err := Decompress([]byte("not zstd")); err == nil {
		t.Error("Decompress(garbage) should fail")
	}
}

func TestTextEncodings(t *testing.T) {
	data, err := Marshal(sampleProgram())
	if err != nil {
		t.Fatal(err)
	}

	for _, enc := range []Encoding{EncodingBase58, EncodingBase64, EncodingBase64Zstd} {
		t.Run(string(enc), func(t *testing.T) {
			s, err := EncodeText(data, enc)
			if err != nil {
				t.Fatalf("EncodeText() failed: %v", err)
			}
			back, err := DecodeText(s, enc)
			if err != nil {
				t.Fatalf("DecodeText() failed: %v", err)
			}
			if !bytes.Equal(back, data) {
				t.Error("DecodeText() did not restore the input")
			}

			p, raw, err := DecodeProgramText(s, enc)
			if err != nil {
				t.Fatalf("DecodeProgramText() failed: %v", err)
			}
			if len(p) != len(sampleProgram()) || !bytes.Equal(raw, data) {
				t.Error("DecodeProgramText() mismatch")
			}
		})
	}

	// A compressed frame inside plain base64 is also accepted
	s, _ := EncodeText(Compress(data), EncodingBase64)
	if _, raw, err := DecodeProgramText(s, EncodingBase64); err != nil || !bytes.Equal(raw, data) {
		t.Errorf("DecodeProgramText(base64(zstd)) = %v", err)
	}
}

func TestParseEncoding(t *testing.T) {
	tests := []struct {
		in   string
		want Encoding
		ok   bool
	}{
		{"", EncodingBase64, true},
		{"base64", EncodingBase64, true},
		{"base58", EncodingBase58, true},
		{"base64+zstd", EncodingBase64Zstd, true},
		{"jsonParsed", "", false},
	}
	for _, tt := range tests {
		got, err := ParseEncoding(tt.in)
		if tt.ok != (err == nil) || got != tt.want {
			t.Errorf("ParseEncoding(%q) = %q, %v", tt.in, got, err)
		}
		if !tt.ok && !errors.Is(err, ErrUnknownEncoding) {
			t.Errorf("ParseEncoding(%q) error = %v, want ErrUnknownEncoding", tt.in, err)
		}
	}
}

func TestMessageRoundTrip(t *testing.T) {
	tensor := engine.F64(engine.Vector(2), 1, 2)
	msgs := []engine.Message{
		engine.ResultMessage(tensor),
		engine.ErrorMessage("instruction 3 (copy): unsupported dtype"),
	}
	for _, msg := range msgs {
		data, err := MarshalMessage(msg)
		if err != nil {
			t.Fatalf("MarshalMessage() failed: %v", err)
		}
		got, err := UnmarshalMessage(data)
		if err != nil {
			t.Fatalf("UnmarshalMessage() failed: %v", err)
		}
		if got.Tag != msg.Tag || got.Reason != msg.Reason || !bytes.Equal(got.Data, msg.Data) {
			t.Errorf("message = %+v, want %+v", got, msg)
		}
		if !engine.TermEqual(got.Shape, msg.Shape) || !engine.TermEqual(got.DType, msg.DType) {
			t.Errorf("shape/dtype = %v/%v, want %v/%v", got.Shape, got.DType, msg.Shape, msg.DType)
		}
	}
}
