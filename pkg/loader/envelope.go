package loader

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/mr-tron/base58"

	"github.com/fortiblox/tensorvm/pkg/engine"
)

// MaxDecompressedSize bounds a decompressed program.
const MaxDecompressedSize = 256 << 20

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("loader: failed to create zstd encoder: %v", err))
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecompressedSize))
	if err != nil {
		panic(fmt.Sprintf("loader: failed to create zstd decoder: %v", err))
	}
}

// Compress wraps data in a zstd frame.
func Compress(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, nil)
}

// Decompress unwraps a zstd frame.
func Decompress(data []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("loader: zstd decompress: %w", err)
	}
	return out, nil
}

// IsCompressed reports whether data starts with a zstd frame header.
func IsCompressed(data []byte) bool {
	return bytes.HasPrefix(data, zstdMagic)
}

// Unpack decodes a program that is either raw CBOR or a zstd-compressed
// CBOR frame.
func Unpack(data []byte) (engine.Program, error) {
	if IsCompressed(data) {
		raw, err := Decompress(data)
		if err != nil {
			return nil, err
		}
		data = raw
	}
	return Unmarshal(data)
}

// Encoding is a text encoding for binary payloads.
type Encoding string

const (
	EncodingBase58     Encoding = "base58"
	EncodingBase64     Encoding = "base64"
	EncodingBase64Zstd Encoding = "base64+zstd"
)

// ErrUnknownEncoding is returned for an unrecognised encoding name.
var ErrUnknownEncoding = errors.New("unknown encoding")

// ParseEncoding parses an encoding name. The empty string selects base64.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case "", EncodingBase64:
		return EncodingBase64, nil
	case EncodingBase58:
		return EncodingBase58, nil
	case EncodingBase64Zstd:
		return EncodingBase64Zstd, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEncoding, s)
}

// EncodeText encodes data in the given text encoding.
func EncodeText(data []byte, enc Encoding) (string, error) {
	switch enc {
	case EncodingBase58:
		return base58.Encode(data), nil
	case EncodingBase64:
		return base64.StdEncoding.EncodeToString(data), nil
	case EncodingBase64Zstd:
		return base64.StdEncoding.EncodeToString(Compress(data)), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEncoding, enc)
}

// DecodeText reverses EncodeText.
func DecodeText(s string, enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingBase58:
		out, err := base58.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("loader: base58 decode: %w", err)
		}
		return out, nil
	case EncodingBase64:
		out, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("loader: base64 decode: %w", err)
		}
		return out, nil
	case EncodingBase64Zstd:
		compressed, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("loader: base64 decode: %w", err)
		}
		return Decompress(compressed)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, enc)
}

// DecodeProgramText decodes a text-encoded program.
func DecodeProgramText(s string, enc Encoding) (engine.Program, []byte, error) {
	raw, err := DecodeText(s, enc)
	if err != nil {
		return nil, nil, err
	}
	if IsCompressed(raw) {
		if raw, err = Decompress(raw); err != nil {
			return nil, nil, err
		}
	}
	p, err := Unmarshal(raw)
	if err != nil {
		return nil, nil, err
	}
	return p, raw, nil
}
