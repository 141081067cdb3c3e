// Package presence is a mushroom plugin that tracks connected sessions.
package presence

import (
	"context"
	"time"

	"github.com/vango-dev/mushroom/pkg/plugin"
)

// ID is the plugin identifier used in installedApps.
const ID = "presence"

// CountMethod is the notification method carrying the session count.
const CountMethod = "presence_count"

// Interval between scheduled announcements.
var Interval = 5 * time.Second

func init() {
	plugin.Register(ID, Functions)
}

// Count is the payload of presence_count.
type Count struct {
	Sessions int `json:"sessions"`
}

// Functions returns the functions exported by the plugin.
func Functions() ([]plugin.Descriptor, error) {
	return []plugin.Descriptor{
		plugin.RPC("count", CountSessions),
		plugin.Both("announce", Announce),
	}, nil
}

// CountSessions returns the number of live sessions.
func CountSessions(ctx context.Context, host plugin.Host, req *plugin.Request) (any, error) {
	return Count{Sessions: host.Sessions().Len()}, nil
}

// Announce broadcasts the session count. Called by a client it broadcasts
// once and returns how many sessions were notified. Scheduled, it
// broadcasts whenever the count changes, checking every Interval.
func Announce(ctx context.Context, host plugin.Host, req *plugin.Request) (any, error) {
	if req != nil {
		return host.Sessions().Notify(CountMethod, Count{Sessions: host.Sessions().Len()}), nil
	}

	ticker := time.NewTicker(Interval)
	defer ticker.Stop()
	last := -1
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			n := host.Sessions().Len()
			if n == last {
				continue
			}
			last = n
			host.Sessions().Notify(CountMethod, Count{Sessions: n})
			host.Logger().Debug("presence announced", "sessions", n)
		}
	}
}
