// Package codec serializes message.Envelope values for the framed TCP
// transport. The codec of a frame is named in its header, so a server
// answers each request with the codec the client picked.
package codec

import (
	"fmt"

	"predict-rpc/message"
)

// CodecType is the codec byte carried in every frame header.
type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

// Codec encodes and decodes frame bodies.
type Codec interface {
	Encode(env *message.Envelope) ([]byte, error)
	Decode(data []byte, env *message.Envelope) error
	Type() CodecType // 0=JSON, 1=Binary
}

// GetCodec returns the codec for codecType, or an error for unknown types.
func GetCodec(codecType CodecType) (Codec, error) {
	switch codecType {
	case CodecTypeJSON:
		return JSONCodec{}, nil
	case CodecTypeBinary:
		return BinaryCodec{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown codec type %d", codecType)
	}
}

// ParseCodecType converts a configuration name ("json", "binary").
func ParseCodecType(name string) (CodecType, error) {
	switch name {
	case "json", "":
		return CodecTypeJSON, nil
	case "binary":
		return CodecTypeBinary, nil
	default:
		return 0, fmt.Errorf("codec: unknown codec %q (expected json or binary)", name)
	}
}

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	default:
		return fmt.Sprintf("codec(%d)", byte(t))
	}
}
