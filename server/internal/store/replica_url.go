package store

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// ReplicaURL is the closed set of poll targets: ICMPURL, TCPURL and HTTPURL.
type ReplicaURL interface {
	String() string
	replicaURL()
}

// ICMPURL is an icmp://host target. Every address the host resolves to is
// pinged.
type ICMPURL struct {
	Host string
}

// TCPURL is a tcp://host:port target.
type TCPURL struct {
	Host string
	Port uint16
}

// HTTPURL is an http:// or https:// target.
type HTTPURL struct {
	Raw    string
	Secure bool
}

func (ICMPURL) replicaURL() {}
func (TCPURL) replicaURL()  {}
func (HTTPURL) replicaURL() {}

func (u ICMPURL) String() string { return "icmp://" + hostPort(u.Host, "") }
func (u TCPURL) String() string {
	return "tcp://" + hostPort(u.Host, strconv.Itoa(int(u.Port)))
}
func (u HTTPURL) String() string { return u.Raw }

func hostPort(host, port string) string {
	if port == "" {
		if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
			return "[" + host + "]"
		}
		return host
	}
	return net.JoinHostPort(host, port)
}

// ParseReplicaURL parses a configured replica into one of the ReplicaURL
// variants. IPv6 hosts are returned without brackets.
func ParseReplicaURL(raw string) (ReplicaURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("replica url %q: %w", raw, err)
	}
	switch u.Scheme {
	case "icmp":
		if u.Hostname() == "" || u.Port() != "" || (u.Path != "" && u.Path != "/") {
			return nil, fmt.Errorf("replica url %q: want icmp://host", raw)
		}
		return ICMPURL{Host: u.Hostname()}, nil

	case "tcp":
		if u.Hostname() == "" || u.Port() == "" || (u.Path != "" && u.Path != "/") {
			return nil, fmt.Errorf("replica url %q: want tcp://host:port", raw)
		}
		port, err := strconv.ParseUint(u.Port(), 10, 16)
		if err != nil || port == 0 {
			return nil, fmt.Errorf("replica url %q: invalid port", raw)
		}
		return TCPURL{Host: u.Hostname(), Port: uint16(port)}, nil

	case "http", "https":
		if u.Host == "" {
			return nil, fmt.Errorf("replica url %q: missing host", raw)
		}
		return HTTPURL{Raw: u.String(), Secure: u.Scheme == "https"}, nil

	default:
		return nil, fmt.Errorf("replica url %q: unsupported scheme %q", raw, u.Scheme)
	}
}
