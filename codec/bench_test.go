package codec

import (
	"testing"

	"predict-rpc/message"
)

func benchmarkCodec(b *testing.B, cdc Codec) {
	env := &message.Envelope{
		Method:  message.MethodPredict,
		Payload: []byte(`{"features":[1.5,2.25,3],"model":"iris"}`),
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, err := cdc.Encode(env)
		if err != nil {
			b.Fatal(err)
		}
		var out message.Envelope
		if err := cdc.Decode(data, &out); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCodecJSON(b *testing.B)   { benchmarkCodec(b, JSONCodec{}) }
func BenchmarkCodecBinary(b *testing.B) { benchmarkCodec(b, BinaryCodec{}) }
