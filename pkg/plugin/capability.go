package plugin

// Capability is the set of roles a function is registered under.
type Capability uint8

const (
	// CapNone means the function carries no marker and is not registered.
	CapNone Capability = 0

	// CapRPC marks a function as callable by remote clients.
	CapRPC Capability = 1 << 0

	// CapScheduled marks a function as a long-running task started at boot.
	CapScheduled Capability = 1 << 1

	// CapBoth is a function registered as an RPC target and as a scheduled task.
	CapBoth = CapRPC | CapScheduled
)

// Has reports whether c includes every role in other.
func (c Capability) Has(other Capability) bool {
	return other != CapNone && c&other == other
}

// String returns the string representation of Capability.
func (c Capability) String() string {
	switch c {
	case CapNone:
		return "none"
	case CapRPC:
		return "rpc"
	case CapScheduled:
		return "scheduled"
	case CapBoth:
		return "rpc+scheduled"
	}
	return "invalid"
}

// Classify derives the capability of a descriptor from its markers.
// A marker without a function to call contributes nothing.
func Classify(d Descriptor) Capability {
	if d.Func == nil || d.Name == "" {
		return CapNone
	}
	c := CapNone
	if d.RPC {
		c |= CapRPC
	}
	if d.Scheduled {
		c |= CapScheduled
	}
	return c
}
