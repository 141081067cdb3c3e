// Package addrport parses the address argument of the runserver command.
//
// Accepted forms are a bare port ("8000"), an IPv4 address and port
// ("0.0.0.0:8000"), a bracketed IPv6 address and port ("[::]:8000"), or a
// host name and port ("localhost:8000"). An empty argument selects the
// default address.
package addrport

import (
	"net"
	"regexp"
	"strconv"

	"github.com/vango-dev/mushroom/internal/errors"
)

const (
	// DefaultPort is used when the argument names no port.
	DefaultPort = 8000

	// DefaultHost is used when the argument names no address.
	DefaultHost = "127.0.0.1"

	// DefaultHostIPv6 is DefaultHost for IPv6.
	DefaultHostIPv6 = "::1"
)

var addrPortRe = regexp.MustCompile(`^(?:(?P<addr>` +
	`(?P<ipv4>\d{1,3}(?:\.\d{1,3}){3})|` +
	`(?P<ipv6>\[[a-fA-F0-9:]+\])|` +
	`(?P<fqdn>[a-zA-Z0-9-]+(?:\.[a-zA-Z0-9-]+)*)` +
	`):)?(?P<port>\d+)$`)

// ipv6Supported reports whether the host can open IPv6 sockets.
var ipv6Supported = func() bool {
	ln, err := net.Listen("tcp6", "[::1]:0")
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

// Addr is a parsed listen address.
type Addr struct {
	// Host is the address without brackets, e.g. "127.0.0.1" or "::1".
	Host string

	// Port is the TCP port.
	Port int

	// IPv6 is set when the server should listen on IPv6.
	IPv6 bool

	// RawIPv6 is set when Host is an IPv6 literal and needs brackets in URLs.
	RawIPv6 bool
}

// Parse parses a runserver address argument. useIPv6 is the value of the
// --ipv6 flag; a bracketed IPv6 address turns it on.
func Parse(addrport string, useIPv6 bool) (Addr, error) {
	if useIPv6 && !ipv6Supported() {
		return Addr{}, errors.New(errors.CodeIPv6Unsupported)
	}

	a := Addr{Port: DefaultPort, IPv6: useIPv6}
	if addrport != "" {
		m := addrPortRe.FindStringSubmatch(addrport)
		if m == nil {
			return Addr{}, errors.New(errors.CodeAddrPortInvalid).WithSubject(addrport)
		}
		group := func(name string) string { return m[addrPortRe.SubexpIndex(name)] }

		port, err := strconv.Atoi(group("port"))
		if err != nil || port > 65535 {
			return Addr{}, errors.New(errors.CodePortInvalid).WithSubject(group("port"))
		}
		a.Port = port

		switch {
		case group("ipv6") != "":
			raw := group("ipv6")
			host := raw[1 : len(raw)-1]
			if net.ParseIP(host) == nil {
				return Addr{}, errors.New(errors.CodeIPv6Invalid).WithSubject(raw)
			}
			a.Host = host
			a.IPv6 = true
			a.RawIPv6 = true
		case group("addr") != "":
			if useIPv6 && group("fqdn") == "" {
				return Addr{}, errors.New(errors.CodeIPv6Invalid).WithSubject(group("addr"))
			}
			a.Host = group("addr")
		}
	}

	if a.Host == "" {
		if a.IPv6 {
			a.Host = DefaultHostIPv6
			a.RawIPv6 = true
		} else {
			a.Host = DefaultHost
		}
	}
	return a, nil
}

// WithPort returns a copy of a on another port.
func (a Addr) WithPort(port int) Addr {
	a.Port = port
	return a
}

// HostPort returns the address in a form net.Listen accepts.
func (a Addr) HostPort() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// DisplayHost returns the host as it appears in a URL.
func (a Addr) DisplayHost() string {
	if a.RawIPv6 {
		return "[" + a.Host + "]"
	}
	return a.Host
}

// URL returns the http URL of the address with a trailing slash.
func (a Addr) URL() string {
	return "http://" + a.DisplayHost() + ":" + strconv.Itoa(a.Port) + "/"
}

// Network returns the network to listen on.
func (a Addr) Network() string {
	if a.IPv6 {
		return "tcp6"
	}
	return "tcp"
}
