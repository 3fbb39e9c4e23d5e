package session

import (
	"net"

	"github.com/btcp2p/btcp2p/authority"
)

// Blacklist holds the configured `blacklist` entries: each entry is
// either an exact authority ("1.2.3.4:8333", port optional) or an IP
// prefix in CIDR form ("10.0.0.0/8").
type Blacklist []string

// Blocks reports whether a matches any blacklist entry: exact-authority
// entries match by IP only (port is ignored, a ban targets a host not a
// single dial), CIDR entries match by prefix.
func (b Blacklist) Blocks(a authority.Authority) bool {
	ip := a.IP()
	for _, entry := range b {
		if _, ipnet, err := net.ParseCIDR(entry); err == nil {
			if ipnet.Contains(ip) {
				return true
			}
			continue
		}
		if parsed, err := authority.Parse(entry); err == nil && parsed.IP().Equal(ip) {
			return true
		}
	}
	return false
}
