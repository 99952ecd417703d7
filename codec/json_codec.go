package codec

import (
	"encoding/json"

	"predict-rpc/message"
)

// JSONCodec encodes envelopes with encoding/json. The payload travels as a
// JSON string rather than base64 bytes, so frames stay readable in a packet
// dump.
type JSONCodec struct{}

type jsonEnvelope struct {
	Method  string `json:"method,omitempty"`
	Payload string `json:"payload,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (JSONCodec) Encode(env *message.Envelope) ([]byte, error) {
	return json.Marshal(jsonEnvelope{
		Method:  env.Method,
		Payload: string(env.Payload),
		Kind:    env.Kind,
		Error:   env.Error,
	})
}

func (JSONCodec) Decode(data []byte, env *message.Envelope) error {
	var je jsonEnvelope
	if err := json.Unmarshal(data, &je); err != nil {
		return err
	}
	env.Method = je.Method
	env.Payload = []byte(je.Payload)
	env.Kind = je.Kind
	env.Error = je.Error
	return nil
}

func (JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
