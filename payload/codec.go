package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// ErrMalformedPayload is matched (errors.Is) by every Decode failure.
var ErrMalformedPayload = errors.New("malformed payload")

// MalformedError describes why a raw payload could not be decoded.
type MalformedError struct {
	Err error // Underlying parse error
}

func (e *MalformedError) Error() string {
	return "malformed payload: " + e.Err.Error()
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrMalformedPayload) hold for every MalformedError.
func (e *MalformedError) Is(target error) bool { return target == ErrMalformedPayload }

// Decode parses raw JSON text into a Value.
//
// Exactly one top-level JSON value is accepted (surrounding whitespace is
// fine). Empty input, invalid syntax and trailing data all fail with a
// *MalformedError.
func Decode(raw []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var tree any
	if err := dec.Decode(&tree); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty payload")
		}
		return Value{}, &MalformedError{Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, &MalformedError{Err: errors.New("unexpected data after top-level value")}
	}

	v, err := FromAny(tree)
	if err != nil {
		return Value{}, &MalformedError{Err: err}
	}
	return v, nil
}

// Encode renders v as compact JSON. Map fields are written in sorted key
// order, so equal values always produce identical bytes.
func Encode(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeTo(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeTo(buf *bytes.Buffer, v Value) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if v.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindNumber:
		buf.WriteString(v.s)
	case KindString:
		return writeString(buf, v.s)
	case KindSeq:
		buf.WriteByte('[')
		for i, item := range v.seq {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeTo(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMap:
		buf.WriteByte('{')
		for i, k := range v.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encodeTo(buf, v.m[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) { return Encode(v) }

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}
