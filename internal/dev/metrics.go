package dev

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-dev/mushroom/pkg/server"
)

// registerServerMetrics exposes the runtime collectors and the mushroom
// server counters on reg. Collectors already registered are left alone.
func registerServerMetrics(reg *prometheus.Registry, srv *server.Server) {
	gauge := func(name, help string, value func(*server.ServerMetrics) int64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "mushroom",
			Subsystem: "server",
			Name:      name,
			Help:      help,
		}, func() float64 {
			return float64(value(srv.Metrics()))
		})
	}

	cs := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		gauge("peak_sessions", "Highest number of concurrent sessions",
			func(m *server.ServerMetrics) int64 { return m.PeakSessions }),
		gauge("messages_received", "Frames received from clients",
			func(m *server.ServerMetrics) int64 { return m.MessagesReceived }),
		gauge("messages_sent", "Frames sent to clients",
			func(m *server.ServerMetrics) int64 { return m.MessagesSent }),
		gauge("rate_limited", "Calls rejected by the rate limiter",
			func(m *server.ServerMetrics) int64 { return m.RateLimited }),
		gauge("decode_errors", "Frames that could not be decoded",
			func(m *server.ServerMetrics) int64 { return m.DecodeErrors }),
	}
	for _, c := range cs {
		reg.Register(c)
	}
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
