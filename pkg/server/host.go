package server

import (
	"log/slog"

	"github.com/vango-dev/mushroom/pkg/plugin"
)

// host is the view of the server that plugin functions receive.
type host struct {
	s *Server
}

var _ plugin.Host = host{}

func (h host) Sessions() plugin.SessionSet { return h.s.sessions }

func (h host) Functions() []string { return h.s.table.Names() }

func (h host) Logger() *slog.Logger { return h.s.pluginLogger }
