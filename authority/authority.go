// Package authority implements Authority, the canonical peer endpoint type
// used throughout bcnet: an IPv6-normalized address plus a port.
package authority

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcp2p/btcp2p/p2perr"
)

// Authority is a canonical, comparable peer endpoint. The zero value is not
// a valid authority (its IP is all-zeros); use Parse or FromIP.
type Authority struct {
	ip   [16]byte
	port uint16
}

// FromIP builds an Authority from a standard library IP and a port,
// normalizing IPv4 into the IPv4-in-IPv6 mapped form.
func FromIP(ip net.IP, port uint16) Authority {
	var a Authority
	copy(a.ip[:], ip.To16())
	a.port = port
	return a
}

// Parse accepts "host", "host:port", or "[v6]:port" and returns the
// normalized Authority. Returns InvalidAuthority if the string does not
// match (ipv4|[ipv6])(:port)? or the port exceeds 65535.
func Parse(s string) (Authority, error) {
	host, portStr, hasPort := splitHostPort(s)

	var port uint64
	var err error
	if hasPort {
		port, err = strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return Authority{}, p2perr.New(p2perr.InvalidAuthority, err)
		}
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return Authority{}, p2perr.New(p2perr.InvalidAuthority,
			fmt.Errorf("not a valid IP literal: %q", host))
	}

	return FromIP(ip, uint16(port)), nil
}

// splitHostPort handles both "host:port" and "[v6]:port" without requiring
// a port, unlike net.SplitHostPort which errors when one is absent.
func splitHostPort(s string) (host, port string, hasPort bool) {
	if strings.HasPrefix(s, "[") {
		if idx := strings.Index(s, "]"); idx >= 0 {
			host = s[1:idx]
			rest := s[idx+1:]
			if strings.HasPrefix(rest, ":") {
				return host, rest[1:], true
			}
			return host, "", false
		}
		return s, "", false
	}

	// Disambiguate "host:port" from a bare IPv6 literal (which itself
	// contains colons) by requiring exactly one colon for the port form.
	if strings.Count(s, ":") == 1 {
		parts := strings.SplitN(s, ":", 2)
		return parts[0], parts[1], true
	}
	return s, "", false
}

// IP returns the 16-byte IPv6 (or IPv4-mapped) address.
func (a Authority) IP() net.IP {
	ip := make(net.IP, 16)
	copy(ip, a.ip[:])
	return ip
}

// Port returns the port; 0 means unspecified.
func (a Authority) Port() uint16 {
	return a.port
}

// Key returns a stable map key for dedup, e.g. in Hosts.
func (a Authority) Key() string {
	return a.String()
}

// String formats the authority back into its canonical textual form:
// "1.2.3.4:8333" for IPv4-mapped addresses, "[2001:db8::1]:8333" otherwise.
func (a Authority) String() string {
	ip := a.IP()
	if v4 := ip.To4(); v4 != nil {
		return fmt.Sprintf("%s:%d", v4.String(), a.port)
	}
	return fmt.Sprintf("[%s]:%d", ip.String(), a.port)
}

// Equal reports whether two authorities share the same (ip, port).
func (a Authority) Equal(other Authority) bool {
	return a.ip == other.ip && a.port == other.port
}

// ToNetworkAddress converts this Authority into the wire NetworkAddress
// form, with the given services and timestamp.
func (a Authority) ToNetworkAddress(services wire.ServiceFlag, ts time.Time) *wire.NetAddress {
	return &wire.NetAddress{
		Timestamp: ts,
		Services:  services,
		IP:        a.IP(),
		Port:      a.port,
	}
}

// FromNetworkAddress converts a wire NetworkAddress into an Authority,
// dropping its services/timestamp (Authority is a bare endpoint).
func FromNetworkAddress(na *wire.NetAddress) Authority {
	return FromIP(na.IP, na.Port)
}
