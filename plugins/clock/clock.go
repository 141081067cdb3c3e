// Package clock is a mushroom plugin that reports the server time.
//
// It exports clock_now for clients and a scheduled clock_tick broadcaster
// that notifies every session once per interval.
package clock

import (
	"context"
	"time"

	"github.com/vango-dev/mushroom/pkg/plugin"
)

// ID is the plugin identifier used in installedApps.
const ID = "clock"

// TickMethod is the notification method sent by the ticker.
const TickMethod = "clock_tick"

// Interval between ticks.
var Interval = time.Second

var now = time.Now

func init() {
	plugin.Register(ID, Functions)
}

// Time is the payload of clock_now and clock_tick.
type Time struct {
	Unix    int64  `json:"unix"`
	RFC3339 string `json:"rfc3339"`
}

func stamp(t time.Time) Time {
	return Time{Unix: t.Unix(), RFC3339: t.UTC().Format(time.RFC3339)}
}

// Functions returns the functions exported by the plugin.
func Functions() ([]plugin.Descriptor, error) {
	return []plugin.Descriptor{
		plugin.RPC("now", Now),
		plugin.Scheduled("tick", Tick),
	}, nil
}

// Now returns the current time.
func Now(ctx context.Context, host plugin.Host, req *plugin.Request) (any, error) {
	return stamp(now()), nil
}

// Tick broadcasts the time every Interval until ctx is canceled.
func Tick(ctx context.Context, host plugin.Host) error {
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-ticker.C:
			host.Sessions().Notify(TickMethod, stamp(t))
		}
	}
}
