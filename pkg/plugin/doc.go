// Package plugin defines how installed applications expose functions to the
// mushroom server.
//
// A plugin is a Go package that registers itself in init under the identifier
// used in the installedApps list:
//
//	func init() {
//	    plugin.Register("chat", func() ([]plugin.Descriptor, error) {
//	        return []plugin.Descriptor{
//	            plugin.RPC("send", send),
//	            plugin.Scheduled("cleanup", cleanup),
//	        }, nil
//	    })
//	}
//
// The binary links plugins in with blank imports. At startup the Scanner walks
// the installed identifiers in order, calls each registration function and
// hands the resulting modules to the dispatch builder. An identifier that is
// not registered, whose registration function fails, or that panics is skipped
// and does not affect the others.
//
// # Capabilities
//
// Each Descriptor carries two markers: RPC and Scheduled. Classify turns the
// markers into a Capability:
//
//	CapNone      neither marker; ignored
//	CapRPC       callable by clients as "<module>_<name>"
//	CapScheduled started once at boot and expected to run until shutdown
//	CapBoth      registered under both roles, sharing one Func
//
// # Host
//
// Every function receives a Host, the explicit handle to shared server state
// (live sessions, the registered function names, the logger). Scheduled
// functions are invoked with a nil Request.
package plugin
