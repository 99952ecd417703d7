package server

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"go.uber.org/zap"
)

func (s *Server) registerGauges() {
	s.metrics.NewGauge("predict_server_state", func() float64 {
		return float64(s.state.Load())
	})
	s.metrics.NewGauge(fmt.Sprintf(`predict_scheduler_inflight{model=%q}`, s.sched.Model()), func() float64 {
		return float64(s.sched.InFlight())
	})
}

func (s *Server) startMetrics() error {
	lis, err := net.Listen("tcp", s.metricsAddr)
	if err != nil {
		return &BindError{Addr: s.metricsAddr, Err: err}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		s.metrics.WritePrometheus(w)
		metrics.WriteProcessMetrics(w)
	})
	s.metricsSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := s.metricsSrv.Serve(lis); err != nil && err != http.ErrServerClosed {
			s.logger.Warn("metrics endpoint stopped", zap.Error(err))
		}
	}()
	s.logger.Info("metrics endpoint", zap.String("addr", lis.Addr().String()))
	return nil
}
