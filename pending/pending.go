// Package pending implements the three small guarded sets the session
// layer coordinates through: PendingChannels (in-flight handshakes, keyed
// by nonce, used for self-connection detection), PendingSockets (in-flight
// dials), and Connections (the live channel set). Generalized from "one
// map guarded by a single query goroutine" to "several maps, each guarded
// by its own mutex", since here multiple sessions mutate them concurrently
// rather than funneling through one actor.
package pending

import (
	"sync"

	"github.com/btcp2p/btcp2p/authority"
	"github.com/btcp2p/btcp2p/channel"
)

// PendingChannels tracks channels that have not yet completed their
// handshake, keyed by nonce.
type PendingChannels struct {
	mu sync.Mutex
	m  map[uint64]*channel.Channel
}

// NewPendingChannels returns an empty set.
func NewPendingChannels() *PendingChannels {
	return &PendingChannels{m: make(map[uint64]*channel.Channel)}
}

// Add registers ch under its own nonce.
func (p *PendingChannels) Add(ch *channel.Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[ch.Nonce()] = ch
}

// Remove drops ch's registration.
func (p *PendingChannels) Remove(ch *channel.Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, ch.Nonce())
}

// Contains reports whether nonce is registered -- used by protocol_version
// to detect a self-connection: the remote echoed back a nonce we
// ourselves originated.
func (p *PendingChannels) Contains(nonce uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.m[nonce]
	return ok
}

// PendingSockets tracks in-flight outbound dials, bounded by the caller
// (connect_batch_size * outbound slots) by simply not calling Add beyond
// that count.
type PendingSockets struct {
	mu  sync.Mutex
	set map[authority.Authority]struct{}
}

// NewPendingSockets returns an empty set.
func NewPendingSockets() *PendingSockets {
	return &PendingSockets{set: make(map[authority.Authority]struct{})}
}

// Add registers a as having an in-flight dial. Returns false if a is
// already pending (caller should not dial it again concurrently).
func (p *PendingSockets) Add(a authority.Authority) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.set[a]; ok {
		return false
	}
	p.set[a] = struct{}{}
	return true
}

// Remove clears a's in-flight marker once the dial resolves (success or
// failure).
func (p *PendingSockets) Remove(a authority.Authority) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.set, a)
}

// Contains reports whether a has an in-flight dial.
func (p *PendingSockets) Contains(a authority.Authority) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.set[a]
	return ok
}

// Count returns the number of in-flight dials.
func (p *PendingSockets) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.set)
}

// Connections is the set of currently-live channels, indexed both by
// remote Authority and by nonce so session_outbound/session_inbound can
// enforce "no two channels to the same Authority" and "no nonce
// collision" in O(1).
type Connections struct {
	mu       sync.Mutex
	byAddr   map[authority.Authority]*channel.Channel
	byNonce  map[uint64]*channel.Channel
}

// NewConnections returns an empty set.
func NewConnections() *Connections {
	return &Connections{
		byAddr:  make(map[authority.Authority]*channel.Channel),
		byNonce: make(map[uint64]*channel.Channel),
	}
}

// Add registers ch. Returns false without adding if a channel to the same
// Authority, or with a colliding nonce, is already live.
func (c *Connections) Add(ch *channel.Channel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byAddr[ch.RemoteAuthority()]; ok {
		return false
	}
	if _, ok := c.byNonce[ch.Nonce()]; ok {
		return false
	}
	c.byAddr[ch.RemoteAuthority()] = ch
	c.byNonce[ch.Nonce()] = ch
	return true
}

// Remove drops ch's registration.
func (c *Connections) Remove(ch *channel.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byAddr, ch.RemoteAuthority())
	delete(c.byNonce, ch.Nonce())
}

// HasAuthority reports whether a live channel to a already exists.
func (c *Connections) HasAuthority(a authority.Authority) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.byAddr[a]
	return ok
}

// Count returns the number of live channels.
func (c *Connections) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byAddr)
}

// Snapshot returns a copy of the currently-live channels, safe to range
// over without holding the lock (used by P2P.Broadcast).
func (c *Connections) Snapshot() []*channel.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*channel.Channel, 0, len(c.byAddr))
	for _, ch := range c.byAddr {
		out = append(out, ch)
	}
	return out
}
