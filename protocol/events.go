// Package protocol implements the per-channel protocol state machines:
// the protocol_events/protocol_timer bases and the three concrete
// protocols version, ping, and address.
package protocol

import (
	"sync"

	"github.com/btcp2p/btcp2p/channel"
	"github.com/btcp2p/btcp2p/p2perr"
)

// Events is the base every protocol embeds: it wires a channel's stop
// notification to a handle-stopped callback invoked exactly once,
// regardless of how many times the channel itself is stopped.
type Events struct {
	ch       *channel.Channel
	once     sync.Once
	onStopFn func(code p2perr.Code)
}

// Bind attaches this Events base to ch, registering onStopped to fire
// exactly once when ch stops.
func (e *Events) Bind(ch *channel.Channel, onStopped func(code p2perr.Code)) {
	e.ch = ch
	e.onStopFn = onStopped
	ch.OnStop(func(code p2perr.Code) {
		e.once.Do(func() {
			if e.onStopFn != nil {
				e.onStopFn(code)
			}
		})
	})
}

// Channel returns the bound channel.
func (e *Events) Channel() *channel.Channel {
	return e.ch
}

// HandleStopped invokes the stop callback exactly once; used by
// protocols that must also stop proactively (e.g. after a protocol-level
// validation failure).
func (e *Events) HandleStopped(code p2perr.Code) {
	e.once.Do(func() {
		if e.onStopFn != nil {
			e.onStopFn(code)
		}
	})
}
