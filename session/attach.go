// Package session implements the four session strategies: session_seed,
// session_manual, session_outbound, session_inbound, each a supervisor
// that produces or accepts Channels and attaches the standard protocol
// set to them. Grounded on server.go's listener goroutine and
// peerConnected/outboundPeerConnected shape, and connmgr-style
// retry-forever connection requests.
package session

import (
	"github.com/btcp2p/btcp2p/channel"
	"github.com/btcp2p/btcp2p/p2perr"
	"github.com/btcp2p/btcp2p/pending"
	"github.com/btcp2p/btcp2p/protocol"
)

// StandardConfig bundles the protocol configuration every session needs
// to bring a freshly-dialed or freshly-accepted Channel up to a live,
// registered connection -- the "standard protocol set".
type StandardConfig struct {
	Version     protocol.VersionConfig
	Ping        protocol.PingConfig
	Address     protocol.AddressConfig
	Pending     *pending.PendingChannels
	Connections *pending.Connections
}

// AttachStandardProtocols runs the version handshake on ch; on success it
// registers ch in Connections and attaches ping + address ("version
// first, and only after handshake success, ping + address"). onDone
// fires exactly once, with Success once ch is live and registered, or
// the first failure code otherwise.
func AttachStandardProtocols(ch *channel.Channel, cfg StandardConfig, onDone func(code p2perr.Code)) {
	v := protocol.NewVersionProtocol(cfg.Version, cfg.Pending)
	v.Start(ch, func(code p2perr.Code) {
		if code != p2perr.Success {
			onDone(code)
			return
		}

		if !cfg.Connections.Add(ch) {
			// Duplicate authority or colliding nonce raced us here;
			// lose gracefully.
			ch.Stop(p2perr.AcceptFailed)
			onDone(p2perr.AcceptFailed)
			return
		}
		ch.OnStop(func(code p2perr.Code) {
			cfg.Connections.Remove(ch)
		})

		protocol.NewPingProtocol(cfg.Ping).Start(ch)
		protocol.NewAddressProtocol(cfg.Address).Start(ch)

		onDone(p2perr.Success)
	})
}
