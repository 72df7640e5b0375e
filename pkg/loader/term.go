package loader

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/fortiblox/tensorvm/pkg/engine"
)

// TagList marks a CBOR array that decodes to engine.List rather than
// engine.Tuple ("list" in ASCII).
const TagList = 0x6c697374

// termToWire converts a term to the value handed to the CBOR encoder.
func termToWire(t engine.Term) (interface{}, error) {
	switch v := t.(type) {
	case nil:
		return nil, nil
	case engine.Atom:
		if b, ok := boolAtom(v); ok {
			return b, nil
		}
		return string(v), nil
	case engine.Int:
		return int64(v), nil
	case engine.Uint:
		return uint64(v), nil
	case engine.Opaque:
		return cbor.RawMessage(v.Raw), nil
	case engine.Float:
		return float64(v), nil
	case engine.Binary:
		return []byte(v), nil
	case engine.Tuple:
		return termsToWire(v)
	case engine.List:
		items, err := termsToWire(v)
		if err != nil {
			return nil, err
		}
		return cbor.Tag{Number: TagList, Content: items}, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedTerm, t)
}

func termsToWire(terms []engine.Term) ([]interface{}, error) {
	out := make([]interface{}, len(terms))
	for i, t := range terms {
		w, err := termToWire(t)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

func boolAtom(a engine.Atom) (bool, bool) {
	switch a {
	case engine.AtomTrue:
		return true, true
	case engine.AtomFalse:
		return false, true
	}
	return false, false
}

// wireToTerm converts a decoded CBOR value to a term.
func wireToTerm(v interface{}) (engine.Term, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return engine.Bool(x), nil
	case string:
		return engine.Atom(x), nil
	case []byte:
		return engine.Binary(x), nil
	case uint64:
		return engine.UintTerm(x), nil
	case int64:
		return engine.Int(x), nil
	case float64:
		return engine.Float(x), nil
	case []interface{}:
		items, err := wireToTerms(x)
		if err != nil {
			return nil, err
		}
		return engine.Tuple(items), nil
	case cbor.Tag:
		if arr, ok := x.Content.([]interface{}); ok && x.Number == TagList {
			items, err := wireToTerms(arr)
			if err != nil {
				return nil, err
			}
			return engine.List(items), nil
		}
		return opaque(fmt.Sprintf("tag %d", x.Number), v)
	case map[interface{}]interface{}:
		return opaque("map", v)
	}
	return opaque(wireKind(v), v)
}

// opaque keeps a value with no term form so that it only fails the
// instruction that actually reads it.
func opaque(desc string, v interface{}) (engine.Term, error) {
	raw, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedTerm, desc, err)
	}
	return engine.Opaque{Desc: desc, Raw: raw}, nil
}

func wireToTerms(vs []interface{}) ([]engine.Term, error) {
	out := make([]engine.Term, len(vs))
	for i, v := range vs {
		t, err := wireToTerm(v)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

// MarshalTerm encodes a single term as canonical CBOR.
func MarshalTerm(t engine.Term) ([]byte, error) {
	w, err := termToWire(t)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(w)
}

// UnmarshalTerm decodes a single CBOR-encoded term.
func UnmarshalTerm(data []byte) (engine.Term, error) {
	var v interface{}
	if err := decMode.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("loader: unmarshal term: %w", err)
	}
	return wireToTerm(v)
}
