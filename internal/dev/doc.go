// Package dev runs the development server next to the mushroom server.
//
// NewServer discovers the installed plugins, builds the dispatch table and
// prepares both servers. Start binds the two listeners, prints the banner,
// starts the scheduled functions and serves until the context is canceled:
//
//	srv, err := dev.NewServer(dev.ServerOptions{Config: cfg, Addr: addr})
//	if err != nil {
//	    return err
//	}
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//
// The development server answers static files under the static prefix,
// forwards configured prefixes to upstream servers, exposes Prometheus
// metrics when enabled and logs every request.
//
// Bind failures are returned as coded errors from internal/errors so the
// command can print them and exit.
package dev
