package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"predict-rpc/message"
)

// Metrics counts calls by outcome and records their duration in set.
//
//	predict_calls_total{kind="ok"|"<ErrorKind>"}
//	predict_call_duration_seconds
func Metrics(set *metrics.Set) Middleware {
	duration := set.GetOrCreateHistogram("predict_call_duration_seconds")
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			duration.UpdateDuration(start)
			set.GetOrCreateCounter(callsCounterName(resp.Kind)).Inc()
			return resp
		}
	}
}

func callsCounterName(kind message.ErrorKind) string {
	label := string(kind)
	if kind == message.ErrorNone {
		label = "ok"
	}
	return fmt.Sprintf(`predict_calls_total{kind=%q}`, label)
}
