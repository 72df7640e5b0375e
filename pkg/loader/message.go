package loader

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/fortiblox/tensorvm/pkg/engine"
)

// wireMessage is the CBOR form of engine.Message.
type wireMessage struct {
	Tag    string          `cbor:"1,keyasint"`
	Data   []byte          `cbor:"2,keyasint,omitempty"`
	Shape  cbor.RawMessage `cbor:"3,keyasint,omitempty"`
	DType  cbor.RawMessage `cbor:"4,keyasint,omitempty"`
	Reason string          `cbor:"5,keyasint,omitempty"`
}

// MarshalMessage encodes a consumer message.
func MarshalMessage(msg engine.Message) ([]byte, error) {
	w := wireMessage{Tag: string(msg.Tag), Data: msg.Data, Reason: msg.Reason}
	var err error
	if msg.Shape != nil {
		if w.Shape, err = MarshalTerm(msg.Shape); err != nil {
			return nil, fmt.Errorf("loader: message shape: %w", err)
		}
	}
	if msg.DType != nil {
		if w.DType, err = MarshalTerm(msg.DType); err != nil {
			return nil, fmt.Errorf("loader: message dtype: %w", err)
		}
	}
	return encMode.Marshal(w)
}

// UnmarshalMessage decodes a consumer message.
func UnmarshalMessage(data []byte) (engine.Message, error) {
	var w wireMessage
	if err := decMode.Unmarshal(data, &w); err != nil {
		return engine.Message{}, fmt.Errorf("loader: unmarshal message: %w", err)
	}
	msg := engine.Message{Tag: engine.Atom(w.Tag), Data: w.Data, Reason: w.Reason}
	var err error
	if len(w.Shape) > 0 {
		if msg.Shape, err = UnmarshalTerm(w.Shape); err != nil {
			return engine.Message{}, err
		}
	}
	if len(w.DType) > 0 {
		if msg.DType, err = UnmarshalTerm(w.DType); err != nil {
			return engine.Message{}, err
		}
	}
	return msg, nil
}
