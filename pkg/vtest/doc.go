// Package vtest provides testing helpers for mushroom plugins.
//
// Plugin functions only see a plugin.Host, so they can be tested without
// running a server. vtest supplies an in-memory Host whose sessions record
// every notification.
//
// # Quick Start
//
//	func TestUpper(t *testing.T) {
//	    host := vtest.NewHost().Build()
//	    got := vtest.Call(t, host, upper, "hello")
//	    if got != "HELLO" {
//	        t.Fatalf("upper = %v", got)
//	    }
//	}
//
// # Sessions
//
// Sessions added with WithSession receive broadcasts sent through
// Host.Sessions().Notify:
//
//	host := vtest.NewHost().WithSession("s1", nil).Build()
//	sess := host.SessionSet().Session("s1")
//	sess.WaitFor(1, time.Second)
//	sess.Received()[0].Method // "clock_tick"
//
// A closed session rejects notifications with ErrSessionClosed, the way a
// disconnected client does on the real server.
package vtest
