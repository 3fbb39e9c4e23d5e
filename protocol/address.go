package protocol

import (
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcp2p/btcp2p/authority"
	"github.com/btcp2p/btcp2p/channel"
	"github.com/btcp2p/btcp2p/hosts"
	"github.com/btcp2p/btcp2p/p2perr"
)

// getAddrVersion is the protocol version from which get_address is sent
// proactively on start.
const getAddrVersion = uint32(31402)

// AddressConfig carries the Hosts capability this protocol feeds and
// samples from, capped by configuration.
type AddressConfig struct {
	Hosts *hosts.Hosts
}

// AddressProtocol is the address-gossip state machine: stores received
// authorities into Hosts, answers get_address with a bounded sample, and
// drops oversized unsolicited addr bursts.
type AddressProtocol struct {
	Events

	cfg AddressConfig
}

// NewAddressProtocol returns an unstarted address-gossip protocol.
func NewAddressProtocol(cfg AddressConfig) *AddressProtocol {
	return &AddressProtocol{cfg: cfg}
}

// Start subscribes to addr/get_address and, for peers at 31402+, sends an
// initial get_address.
func (a *AddressProtocol) Start(ch *channel.Channel) {
	a.Bind(ch, func(code p2perr.Code) {})

	ch.Subscribe(wire.CmdAddr, func(code p2perr.Code, msg wire.Message) bool {
		if code != p2perr.Success {
			return false
		}
		a.onAddr(msg.(*wire.MsgAddr))
		return true
	})
	ch.Subscribe(wire.CmdGetAddr, func(code p2perr.Code, msg wire.Message) bool {
		if code != p2perr.Success {
			return false
		}
		a.onGetAddr()
		return true
	})

	if ch.NegotiatedVersion() >= getAddrVersion {
		ch.Send(&wire.MsgGetAddr{}, nil)
	}
}

func (a *AddressProtocol) onAddr(msg *wire.MsgAddr) {
	if len(msg.AddrList) > wire.MaxAddrPerMsg {
		log.Debugf("dropping oversized addr burst: %d entries", len(msg.AddrList))
		return
	}
	for _, na := range msg.AddrList {
		a.cfg.Hosts.Store(authority.FromNetworkAddress(na))
	}
}

func (a *AddressProtocol) onGetAddr() {
	ch := a.Events.Channel()
	sample := a.cfg.Hosts.Sample(wire.MaxAddrPerMsg)

	reply := wire.NewMsgAddr()
	now := time.Now()
	for _, auth := range sample {
		if err := reply.AddAddress(auth.ToNetworkAddress(0, now)); err != nil {
			break
		}
	}
	ch.Send(reply, nil)
}
