// Package middleware provides call middleware for the mushroom server.
//
// This package includes:
//   - OpenTelemetry tracing of RPC calls
//   - Prometheus metrics for calls and sessions
//
// Both are server.CallMiddleware values and are installed with Server.Use.
// Middleware runs after the per-session rate limit and wraps the panic
// recovery of the server, so a panicking function is seen as an error
// wrapping server.ErrCallPanicked.
//
// # OpenTelemetry Middleware
//
//	srv.Use(middleware.OpenTelemetry(
//	    middleware.WithTracerName("my-app"),
//	    middleware.WithCallFilter(func(call *server.Call) bool {
//	        return call.Method != "clock_now"
//	    }),
//	))
//
// The plugin function receives the span's context; SpanFromContext returns
// the span from it.
//
// # Prometheus Metrics
//
//	m := middleware.NewMetrics(middleware.WithRegistry(reg))
//	srv.Use(m.Middleware())
//	srv.SetOnSessionOpen(m.SessionOpened)
//	srv.SetOnSessionClose(m.SessionClosed)
//
// Each registerer gets its own collectors, so two servers with separate
// registries never share counts.
//
// Then expose the registry:
//
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
package middleware
