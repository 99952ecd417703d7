package server

import (
	"context"
	"testing"

	"predict-rpc/handler"
	"predict-rpc/scheduler"
)

// Serial calls from one goroutine.
func BenchmarkSerialCall(b *testing.B) {
	for _, name := range transports {
		b.Run(name, func(b *testing.B) {
			_, cli := startServer(b, name, handler.Echo("bench"))
			req := []byte(`{"features":[1,2,3]}`)

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := cli.Predict(context.Background(), req); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// Concurrent calls sharing one client; the frame transport multiplexes
// them over a single connection.
func BenchmarkConcurrentCall(b *testing.B) {
	for _, name := range transports {
		for _, model := range []scheduler.Model{scheduler.ModelPool, scheduler.ModelCooperative} {
			b.Run(name+"/"+string(model), func(b *testing.B) {
				_, cli := startServer(b, name, handler.Echo("bench"), WithModel(model, scheduler.DefaultWorkers))
				req := []byte(`{"features":[1,2,3]}`)

				b.ResetTimer()
				b.RunParallel(func(pb *testing.PB) {
					for pb.Next() {
						if _, err := cli.Predict(context.Background(), req); err != nil {
							b.Error(err)
							return
						}
					}
				})
			})
		}
	}
}
