// Package protocol implements the frame format of the framed TCP transport.
//
// A fixed 14-byte header is followed by a variable-length body. The reader
// consumes the header first, learns the body length, then reads exactly that
// many bytes, which keeps frames apart on a byte stream.
//
// Frame format:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│   seq   │ bodyLen │    body ...    │
//	│ prd  │01│  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic bytes "prd" identify a predict-rpc frame and let the server drop
// connections that speak something else.
var magic = [3]byte{'p', 'r', 'd'}

const (
	Version    byte = 0x01
	HeaderSize int  = 14 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 4 (seq) + 4 (bodyLen)

	// MaxBodyLen bounds the body a reader will allocate for.
	MaxBodyLen uint32 = 16 << 20
)

// MsgType distinguishes request, response, and heartbeat frames.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0 // Client → Server call
	MsgTypeResponse  MsgType = 1 // Server → Client result
	MsgTypeHeartbeat MsgType = 2 // Keep-alive probe, no body
)

// Codec type constants, mirrored from the codec package to avoid an import.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

var (
	ErrBadMagic     = errors.New("protocol: invalid magic number")
	ErrBadVersion   = errors.New("protocol: unsupported version")
	ErrBodyTooLarge = errors.New("protocol: frame body too large")
	ErrBadCodec     = errors.New("protocol: unsupported codec type")
	ErrBadMsgType   = errors.New("protocol: unsupported message type")
)

// Header is the fixed frame header.
type Header struct {
	CodecType byte    // Body serialization: 0=JSON, 1=Binary
	MsgType   MsgType // Request, Response, or Heartbeat
	Seq       uint32  // Pairs a response with its request on a multiplexed connection
	BodyLen   uint32  // Set by WriteFrame from the body it is given
}

// WriteFrame writes header and body as one frame. Callers sharing w across
// goroutines must serialize calls, or frames interleave.
func WriteFrame(w io.Writer, h Header, body []byte) error {
	if uint64(len(body)) > uint64(MaxBodyLen) {
		return ErrBodyTooLarge
	}
	h.BodyLen = uint32(len(body))

	buf := make([]byte, HeaderSize, HeaderSize+len(body))
	copy(buf[0:3], magic[:])
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint32(buf[10:14], h.BodyLen)
	buf = append(buf, body...)

	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one complete frame and validates its header.
func ReadFrame(r io.Reader) (Header, []byte, error) {
	var hb [HeaderSize]byte
	if _, err := io.ReadFull(r, hb[:]); err != nil {
		return Header{}, nil, err
	}

	if hb[0] != magic[0] || hb[1] != magic[1] || hb[2] != magic[2] {
		return Header{}, nil, fmt.Errorf("%w: %x", ErrBadMagic, hb[0:3])
	}
	if hb[3] != Version {
		return Header{}, nil, fmt.Errorf("%w: %d", ErrBadVersion, hb[3])
	}
	if hb[4] != CodecTypeJSON && hb[4] != CodecTypeBinary {
		return Header{}, nil, fmt.Errorf("%w: %d", ErrBadCodec, hb[4])
	}
	mt := MsgType(hb[5])
	if mt != MsgTypeRequest && mt != MsgTypeResponse && mt != MsgTypeHeartbeat {
		return Header{}, nil, fmt.Errorf("%w: %d", ErrBadMsgType, hb[5])
	}

	h := Header{
		CodecType: hb[4],
		MsgType:   mt,
		Seq:       binary.BigEndian.Uint32(hb[6:10]),
		BodyLen:   binary.BigEndian.Uint32(hb[10:14]),
	}
	if h.BodyLen > MaxBodyLen {
		return Header{}, nil, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, h.BodyLen)
	}

	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Header{}, nil, err
	}
	return h, body, nil
}
