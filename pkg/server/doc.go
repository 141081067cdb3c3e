// Package server provides the mushroom RPC/WebSocket server.
//
// A Server is constructed with an immutable dispatch table and exposes the
// table's RPC entries to remote clients over the mushroom protocol. It owns
// the live SessionSet, which plugin functions reach through plugin.Host.
//
// # Routes
//
//   - OPTIONS *           CORS preflight, answered before routing
//   - POST /              bootstrap: negotiate a transport, create a session
//   - GET  /{session}     WebSocket transport
//   - POST /{session}     poll transport
//
// # Calls
//
// A request for method "appA_ping" is routed to the table entry
// "rpc_appA_ping". The result becomes a response message; an error becomes
// an error message whose data is the error text. Notifications are routed
// the same way but never answered. Every call passes through the optional
// per-session rate limit and the CallMiddleware chain registered with Use.
//
// # Example Usage
//
//	table, _, _ := dispatch.Discover(plugin.Default, []string{"clock", "echo"})
//
//	srv := server.New(table, &server.ServerConfig{
//	    Address: "127.0.0.1:8100",
//	})
//	srv.Use(middleware.Prometheus(), middleware.OpenTelemetry())
//
//	handle, err := srv.StartBackground()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Shutdown(context.Background())
//	<-handle.Done()
//
// # Thread Safety
//
// Server and SessionSet are safe for concurrent use. Session.Notify may be
// called from any goroutine; messages reach the client in ID order.
package server
