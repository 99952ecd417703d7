package codec

import (
	"encoding/binary"
	"errors"
	"math"

	"predict-rpc/message"
)

// ErrShortBuffer is returned when a binary envelope ends before all of its
// declared fields.
var ErrShortBuffer = errors.New("codec: binary envelope truncated")

// BinaryCodec lays an envelope out as length-prefixed fields, big-endian:
//
//	method (u16 len + bytes) | kind (u16 len + bytes) | payload (u32 len + bytes) | error (u32 len + bytes)
type BinaryCodec struct{}

func (BinaryCodec) Encode(env *message.Envelope) ([]byte, error) {
	if len(env.Method) > math.MaxUint16 || len(env.Kind) > math.MaxUint16 {
		return nil, errors.New("codec: method or kind too long")
	}
	if uint64(len(env.Payload)) > math.MaxUint32 || uint64(len(env.Error)) > math.MaxUint32 {
		return nil, errors.New("codec: payload or error too long")
	}

	total := 2 + len(env.Method) + 2 + len(env.Kind) + 4 + len(env.Payload) + 4 + len(env.Error)
	buf := make([]byte, 0, total)

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(env.Method)))
	buf = append(buf, env.Method...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(env.Kind)))
	buf = append(buf, env.Kind...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(env.Payload)))
	buf = append(buf, env.Payload...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(env.Error)))
	buf = append(buf, env.Error...)
	return buf, nil
}

func (BinaryCodec) Decode(data []byte, env *message.Envelope) error {
	r := reader{data: data}

	method := r.field(2)
	kind := r.field(2)
	payload := r.field(4)
	errText := r.field(4)
	if r.err != nil {
		return r.err
	}

	env.Method = string(method)
	env.Kind = string(kind)
	env.Payload = append([]byte(nil), payload...)
	env.Error = string(errText)
	return nil
}

func (BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

// reader walks length-prefixed fields and remembers the first error.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) field(prefix int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.data)-r.off < prefix {
		r.err = ErrShortBuffer
		return nil
	}
	var n int
	if prefix == 2 {
		n = int(binary.BigEndian.Uint16(r.data[r.off:]))
	} else {
		n = int(binary.BigEndian.Uint32(r.data[r.off:]))
	}
	r.off += prefix
	if n < 0 || len(r.data)-r.off < n {
		r.err = ErrShortBuffer
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}
