package session

import (
	"net"

	"github.com/btcp2p/btcp2p/channel"
	"github.com/btcp2p/btcp2p/netconn"
	"github.com/btcp2p/btcp2p/p2perr"
	"github.com/btcp2p/btcp2p/pending"
)

// InboundConfig carries what session_inbound needs to listen and accept.
type InboundConfig struct {
	ChannelConfig      channel.Config
	BindAddr           string
	Port               uint16
	InboundConnections int
	Standard           StandardConfig
	NonceGen           func() uint64
	Blacklist          Blacklist
}

// Inbound is session_inbound: an Acceptor-backed listener that attaches
// the standard protocol set to each accepted socket, rejecting over
// capacity or duplicate-authority accepts.
type Inbound struct {
	cfg         InboundConfig
	connections *pending.Connections
	acceptor    *netconn.Acceptor
}

// NewInbound returns an unstarted inbound session.
func NewInbound(cfg InboundConfig, conns *pending.Connections) *Inbound {
	return &Inbound{cfg: cfg, connections: conns}
}

// Start binds the listener (if InboundConnections > 0) and begins
// accepting. handler fires once, with the outcome of the bind (or
// immediate Success if inbound is disabled).
func (i *Inbound) Start(handler func(code p2perr.Code)) {
	if i.cfg.InboundConnections <= 0 {
		handler(p2perr.Success)
		return
	}

	i.acceptor = netconn.NewAcceptor(i.cfg.ChannelConfig, i.cfg.NonceGen)
	if err := i.acceptor.Listen(i.cfg.BindAddr, i.cfg.Port); err != nil {
		handler(p2perr.CodeOf(err))
		return
	}

	i.acceptor.Accept(func(code p2perr.Code, ch *channel.Channel) {
		if code != p2perr.Success {
			// ServiceStopped after Stop, or a transient accept
			// failure the acceptor already logged.
			return
		}

		remote := ch.RemoteAuthority()
		if i.cfg.Blacklist.Blocks(remote) {
			log.Debugf("rejecting accept from blacklisted %s", remote)
			ch.Stop(p2perr.AcceptFailed)
			return
		}
		if i.connections.Count() >= i.cfg.InboundConnections || i.connections.HasAuthority(remote) {
			ch.Stop(p2perr.AcceptFailed)
			return
		}

		AttachStandardProtocols(ch, i.cfg.Standard, func(code p2perr.Code) {})
	})

	handler(p2perr.Success)
}

// BoundAddr returns the listener's bound address, or nil if inbound is
// disabled or Start has not yet succeeded.
func (i *Inbound) BoundAddr() net.Addr {
	if i.acceptor == nil {
		return nil
	}
	return i.acceptor.Addr()
}

// Stop closes the listener, if one was opened.
func (i *Inbound) Stop() {
	if i.acceptor != nil {
		i.acceptor.Stop()
	}
}
