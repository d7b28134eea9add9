package server

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/luciancaetano/padrelay/internal/metrics"
)

// Metrics counts server activity.
type Metrics struct {
	ActiveSessions   metrics.Gauge
	AuthSuccess      metrics.Counter
	AuthFailures     metrics.Counter
	Rejected         metrics.Counter
	Inputs           metrics.Counter
	InvalidInputs    metrics.Counter
	Heartbeats       metrics.Counter
	DroppedDatagrams metrics.Counter
	RateLimited      metrics.Counter
	LastInput        metrics.Timestamp
}

func (s *Server) startMetricsLogger(ctx context.Context) {
	if s.cfg.MetricsInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.MetricsInterval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.coord.Done():
				return
			case <-ticker.C:
				s.logMetrics()
			}
		}
	}()
}

func (s *Server) logMetrics() {
	m := &s.metrics
	s.log.Info("server metrics",
		zap.Int64("active_sessions", m.ActiveSessions.Load()),
		zap.Int64("auth_success", m.AuthSuccess.Load()),
		zap.Int64("auth_failures", m.AuthFailures.Load()),
		zap.Int64("rejected", m.Rejected.Load()),
		zap.Int64("inputs", m.Inputs.Load()),
		zap.Int64("invalid_inputs", m.InvalidInputs.Load()),
		zap.Int64("heartbeats", m.Heartbeats.Load()),
		zap.Int64("dropped_datagrams", m.DroppedDatagrams.Load()),
		zap.Int64("rate_limited", m.RateLimited.Load()),
		zap.Int("tracked_addresses", s.tracker.Tracked()),
	)
}
