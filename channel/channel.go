// Package channel implements Channel: one live peer connection, with
// framed message I/O, an expiration/inactivity timer pair, a nonce, a
// negotiated protocol version, and a MessageSubscriber. Grounded on
// peer.go's sendQueue/outgoingQueue split, atomic disconnect flag, and
// timeConnected/lastSend/lastRecv bookkeeping, generalized from one
// Lightning peer to one Bitcoin wire-protocol channel.
package channel

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/queue"

	"github.com/btcp2p/btcp2p/authority"
	"github.com/btcp2p/btcp2p/msgsub"
	"github.com/btcp2p/btcp2p/p2perr"
	"github.com/btcp2p/btcp2p/socket"
)

// SendHandler is invoked once a queued send completes (or fails).
type SendHandler func(code p2perr.Code)

// Config carries the per-channel parameters that come from the top-level
// configuration: wire magic, version bounds are enforced by protocols,
// not the channel itself, but framing and timers live here.
type Config struct {
	Magic             wire.BitcoinNet
	MaxPayload        uint32
	ProtocolMinimum   uint32        // initial NegotiatedVersion, until the handshake sets the real one
	ExpirationTimeout time.Duration // channel_expiration
	InactivityTimeout time.Duration // channel_inactivity
	Clock             clock.Clock
}

// Channel is one live peer connection.
type Channel struct {
	cfg    Config
	nonce  uint64
	remote authority.Authority
	sock   *socket.LockedSocket
	sub    *msgsub.MessageSubscriber

	negotiatedVersion int32 // atomic

	stopped   int32 // atomic, 0/1
	stopOnce  sync.Once
	stopCode  p2perr.Code
	quit      chan struct{}
	wg        sync.WaitGroup

	outq *queue.ConcurrentQueue

	resetExpiration chan struct{}
	resetInactivity chan struct{}

	stopHandlers   []func(code p2perr.Code)
	stopHandlersMu sync.Mutex
}

type sendItem struct {
	msg     wire.Message
	handler SendHandler
}

// New wraps conn as a live Channel addressed to remote, with nonce
// identifying this process's side of the connection. The
// channel's read loop and write loop are started immediately; callers
// subscribe to messages and call Stop to tear down.
func New(cfg Config, conn net.Conn, remote authority.Authority, nonce uint64) *Channel {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	c := &Channel{
		cfg:               cfg,
		nonce:             nonce,
		remote:            remote,
		sock:              socket.New(conn),
		sub:               msgsub.New(),
		negotiatedVersion: int32(cfg.ProtocolMinimum),
		quit:              make(chan struct{}),
		outq:              queue.NewConcurrentQueue(50),
		resetExpiration:   make(chan struct{}, 1),
		resetInactivity:   make(chan struct{}, 1),
	}

	c.outq.Start()

	c.wg.Add(3)
	go c.writeLoop()
	go c.readLoop()
	go c.timerLoop()

	return c
}

// Nonce returns this channel's unique outbound nonce.
func (c *Channel) Nonce() uint64 { return c.nonce }

// RemoteAuthority returns the peer's endpoint.
func (c *Channel) RemoteAuthority() authority.Authority { return c.remote }

// NegotiatedVersion reports the negotiated protocol version, initially
// cfg.ProtocolMinimum until the version protocol calls
// SetNegotiatedVersion.
func (c *Channel) NegotiatedVersion() uint32 {
	return uint32(atomic.LoadInt32(&c.negotiatedVersion))
}

// SetNegotiatedVersion is called exactly once, by protocol_version, after
// a successful handshake.
func (c *Channel) SetNegotiatedVersion(v uint32) {
	atomic.StoreInt32(&c.negotiatedVersion, int32(v))
}

// IsStopped reports whether Stop has been called.
func (c *Channel) IsStopped() bool {
	return atomic.LoadInt32(&c.stopped) != 0
}

// Subscribe registers handler for the given wire command.
func (c *Channel) Subscribe(command string, handler msgsub.Handler) {
	c.sub.Subscribe(command, handler)
}

// OnStop registers a handler invoked once, when the channel stops. Used by
// protocols to learn handle_stopped independent of the per-command
// subscriber registry.
func (c *Channel) OnStop(handler func(code p2perr.Code)) {
	c.stopHandlersMu.Lock()
	if c.IsStopped() {
		code := c.stopCode
		c.stopHandlersMu.Unlock()
		handler(code)
		return
	}
	c.stopHandlers = append(c.stopHandlers, handler)
	c.stopHandlersMu.Unlock()
}

// Send encodes and queues msg for the write loop, invoking handler once
// the write completes (or fails). Fails synchronously with ChannelStopped
// if the channel has already stopped.
func (c *Channel) Send(msg wire.Message, handler SendHandler) {
	if c.IsStopped() {
		if handler != nil {
			handler(p2perr.ChannelStopped)
		}
		return
	}
	select {
	case c.outq.ChanIn() <- sendItem{msg: msg, handler: handler}:
	case <-c.quit:
		if handler != nil {
			handler(p2perr.ChannelStopped)
		}
	}
}

// ResetExpiration restarts the expiration timer; called on any traffic.
func (c *Channel) ResetExpiration() {
	c.nudge(c.resetExpiration)
}

// ResetInactivity restarts the inactivity timer; called on any traffic.
func (c *Channel) ResetInactivity() {
	c.nudge(c.resetInactivity)
}

func (c *Channel) nudge(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Stop is idempotent: it flips the stopped flag, cancels timers, closes
// the transport, notifies every message subscriber once with code, and
// invokes every stop handler once. It does not wait for the read, write
// and timer loops to exit, so it may be called from a message or stop
// handler running on one of them.
func (c *Channel) Stop(code p2perr.Code) {
	c.stopOnce.Do(func() {
		atomic.StoreInt32(&c.stopped, 1)
		c.stopCode = code
		close(c.quit)
		c.sock.Close()
		c.outq.Stop()
		c.sub.Stop(code)

		c.stopHandlersMu.Lock()
		handlers := c.stopHandlers
		c.stopHandlers = nil
		c.stopHandlersMu.Unlock()
		for _, h := range handlers {
			h(code)
		}
	})
}

func (c *Channel) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case item, ok := <-c.outq.ChanOut():
			if !ok {
				return
			}
			si := item.(sendItem)
			err := writeFrame(c.sock, c.cfg.Magic, c.NegotiatedVersion(), si.msg)
			code := p2perr.Success
			if err != nil {
				code = p2perr.CodeOf(err)
				log.Debugf("channel %x: write %s failed: %v",
					c.nonce, si.msg.Command(), err)
			} else {
				log.Tracef("channel %x: wrote %s: %s",
					c.nonce, si.msg.Command(), spew.Sdump(si.msg))
			}
			if si.handler != nil {
				si.handler(code)
			}
			if err != nil {
				go c.Stop(code)
				return
			}
		case <-c.quit:
			return
		}
	}
}

func (c *Channel) readLoop() {
	defer c.wg.Done()
	for {
		msg, err := readFrame(c.sock, c.cfg.Magic, c.NegotiatedVersion(), c.cfg.MaxPayload)
		if err != nil {
			if !c.IsStopped() {
				log.Debugf("channel %x: read failed: %v", c.nonce, err)
				go c.Stop(p2perr.CodeOf(err))
			}
			return
		}
		c.ResetExpiration()
		c.ResetInactivity()
		c.sub.Notify(msg.Command(), p2perr.Success, msg)
	}
}

func (c *Channel) timerLoop() {
	defer c.wg.Done()

	var expiration, inactivity <-chan time.Time
	if c.cfg.ExpirationTimeout > 0 {
		expiration = c.cfg.Clock.TickAfter(c.cfg.ExpirationTimeout)
	}
	if c.cfg.InactivityTimeout > 0 {
		inactivity = c.cfg.Clock.TickAfter(c.cfg.InactivityTimeout)
	}

	for {
		select {
		case <-expiration:
			go c.Stop(p2perr.ChannelTimeout)
			return
		case <-inactivity:
			go c.Stop(p2perr.ChannelTimeout)
			return
		case <-c.resetExpiration:
			if c.cfg.ExpirationTimeout > 0 {
				expiration = c.cfg.Clock.TickAfter(c.cfg.ExpirationTimeout)
			}
		case <-c.resetInactivity:
			if c.cfg.InactivityTimeout > 0 {
				inactivity = c.cfg.Clock.TickAfter(c.cfg.InactivityTimeout)
			}
		case <-c.quit:
			return
		}
	}
}
