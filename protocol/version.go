package protocol

import (
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"

	"github.com/btcp2p/btcp2p/authority"
	"github.com/btcp2p/btcp2p/channel"
	"github.com/btcp2p/btcp2p/p2perr"
	"github.com/btcp2p/btcp2p/pending"
)

// protocolFloor/protocolCeiling bound what cfg.ProtocolMinimum/Maximum may
// legally be set to: the oldest handshake-capable Bitcoin protocol
// version, and the newest this module understands.
const (
	protocolFloor   = uint32(209)
	protocolCeiling = uint32(wire.ProtocolVersion)

	// version70002 is the protocol version at which verack-after-version
	// ordering, the relay flag, and conditional reject-on-stop become
	// applicable.
	version70002 = uint32(70002)
)

// VersionConfig carries the configuration protocol_version needs: the
// negotiation bounds, this node's advertised services/identity, and the
// height/clock collaborators the validation engine and wall clock are
// reduced to.
type VersionConfig struct {
	ProtocolMinimum  uint32
	ProtocolMaximum  uint32
	MinimumServices  wire.ServiceFlag
	LocalServices    wire.ServiceFlag
	UserAgent        string
	Self             authority.Authority
	Relay            bool
	HeightFn         func() int32
	Clock            clock.Clock
	HandshakeTimeout time.Duration
}

// VersionProtocol is the handshake state machine: a one-shot exchange of
// version and verack, ending in exactly one call to its completion
// handler. The 70002-vs-31402 behavior split (both sides must advertise
// >=70002) is resolved once the peer's version arrives, since that is the
// first point either side knows the other's advertised protocol number.
type VersionProtocol struct {
	Events

	cfg     VersionConfig
	pending *pending.PendingChannels

	mu              sync.Mutex
	versionReceived bool
	verackReceived  bool
	finished        bool
	use70002        bool

	handler func(code p2perr.Code)

	timerQuit chan struct{}
	timerOnce sync.Once
}

// NewVersionProtocol returns an unstarted handshake protocol. pc is used
// for self-connection detection.
func NewVersionProtocol(cfg VersionConfig, pc *pending.PendingChannels) *VersionProtocol {
	return &VersionProtocol{
		cfg:       cfg,
		pending:   pc,
		timerQuit: make(chan struct{}),
	}
}

// Start subscribes to version/verack, sends our version, arms the
// handshake timeout, and registers pending-channel self-connection
// tracking. handler fires exactly once: on success (both sides done) or
// on any failure.
func (v *VersionProtocol) Start(ch *channel.Channel, handler func(code p2perr.Code)) {
	v.handler = handler

	v.Bind(ch, func(code p2perr.Code) {
		v.finish(code)
	})

	v.pending.Add(ch)

	ch.Subscribe(wire.CmdVersion, func(code p2perr.Code, msg wire.Message) bool {
		if code != p2perr.Success {
			return false
		}
		v.onVersion(msg.(*wire.MsgVersion))
		return false
	})
	ch.Subscribe(wire.CmdVerAck, func(code p2perr.Code, msg wire.Message) bool {
		if code != p2perr.Success {
			return false
		}
		v.onVerack()
		return false
	})

	if err := v.validateConfig(); err != nil {
		v.finish(p2perr.ChannelStopped)
		ch.Stop(p2perr.ChannelStopped)
		return
	}

	v.sendVersion()
	v.armHandshakeTimer()
}

func (v *VersionProtocol) validateConfig() error {
	if v.cfg.ProtocolMinimum < protocolFloor {
		return p2perr.New(p2perr.ChannelStopped, nil)
	}
	if v.cfg.ProtocolMaximum > protocolCeiling {
		return p2perr.New(p2perr.ChannelStopped, nil)
	}
	if v.cfg.ProtocolMinimum > v.cfg.ProtocolMaximum {
		return p2perr.New(p2perr.ChannelStopped, nil)
	}
	return nil
}

func (v *VersionProtocol) sendVersion() {
	ch := v.Events.Channel()
	now := v.cfg.Clock.Now()

	msg := &wire.MsgVersion{
		ProtocolVersion: int32(v.cfg.ProtocolMaximum),
		Services:        v.cfg.LocalServices,
		Timestamp:       now,
		AddrYou:         *ch.RemoteAuthority().ToNetworkAddress(0, now),
		AddrMe:          *v.cfg.Self.ToNetworkAddress(v.cfg.LocalServices, now),
		Nonce:           ch.Nonce(),
		UserAgent:       v.cfg.UserAgent,
		LastBlock:       v.cfg.HeightFn(),
		DisableRelayTx:  !v.cfg.Relay,
	}

	ch.Send(msg, nil)
}

func (v *VersionProtocol) armHandshakeTimer() {
	if v.cfg.HandshakeTimeout <= 0 {
		return
	}
	tick := v.cfg.Clock.TickAfter(v.cfg.HandshakeTimeout)
	go func() {
		select {
		case <-tick:
			v.finish(p2perr.ChannelTimeout)
			v.Events.Channel().Stop(p2perr.ChannelTimeout)
		case <-v.timerQuit:
		}
	}()
}

func (v *VersionProtocol) disarmHandshakeTimer() {
	v.timerOnce.Do(func() { close(v.timerQuit) })
}

func (v *VersionProtocol) onVersion(peer *wire.MsgVersion) {
	ch := v.Events.Channel()

	// Self-connection: the peer's nonce matches one we ourselves
	// originated and registered in PendingChannels. In a self-dial the
	// match is usually the other socket's channel (the outbound and
	// inbound sides have distinct nonces); ch is registered too, so an
	// echo of ch.Nonce() itself is also caught.
	if v.pending.Contains(peer.Nonce) {
		v.finish(p2perr.AcceptFailed)
		ch.Stop(p2perr.AcceptFailed)
		return
	}

	insufficientServices := (peer.Services & v.cfg.MinimumServices) != v.cfg.MinimumServices
	insufficientVersion := uint32(peer.ProtocolVersion) < v.cfg.ProtocolMinimum
	if insufficientServices || insufficientVersion {
		reason := "insufficient-version"
		if insufficientServices {
			reason = "insufficient-services"
		}
		reject := &wire.MsgReject{
			Message: wire.CmdVersion,
			Code:    wire.RejectObsolete,
			Reason:  reason,
		}
		ch.Send(reject, nil)
		v.finish(p2perr.ChannelStopped)
		ch.Stop(p2perr.ChannelStopped)
		return
	}

	negotiated := uint32(peer.ProtocolVersion)
	if v.cfg.ProtocolMaximum < negotiated {
		negotiated = v.cfg.ProtocolMaximum
	}
	ch.SetNegotiatedVersion(negotiated)

	v.mu.Lock()
	v.use70002 = v.cfg.ProtocolMaximum >= version70002 && uint32(peer.ProtocolVersion) >= version70002
	v.versionReceived = true
	v.mu.Unlock()

	ch.Send(&wire.MsgVerAck{}, nil)
	v.maybeComplete()
}

func (v *VersionProtocol) onVerack() {
	v.mu.Lock()
	v.verackReceived = true
	v.mu.Unlock()
	v.maybeComplete()
}

func (v *VersionProtocol) maybeComplete() {
	v.mu.Lock()
	ready := v.versionReceived && v.verackReceived
	v.mu.Unlock()
	if ready {
		v.pending.Remove(v.Events.Channel())
		v.finish(p2perr.Success)
	}
}

// Uses70002 reports whether the handshake resolved to the 70002 behavior
// set: relay flag honored, reject sent on stop for an incompatible-version
// failure. Valid only once the handshake has received the peer's version.
func (v *VersionProtocol) Uses70002() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.use70002
}

func (v *VersionProtocol) finish(code p2perr.Code) {
	v.mu.Lock()
	if v.finished {
		v.mu.Unlock()
		return
	}
	v.finished = true
	v.mu.Unlock()

	v.disarmHandshakeTimer()
	v.pending.Remove(v.Events.Channel())

	if code != p2perr.Success && v.use70002 {
		// On stop, send reject when the reason is an incompatible
		// version -- best-effort, does not block stop.
		ch := v.Events.Channel()
		ch.Send(&wire.MsgReject{
			Message: wire.CmdVersion,
			Code:    wire.RejectObsolete,
			Reason:  "incompatible-version",
		}, nil)
	}

	if v.handler != nil {
		v.handler(code)
	}
}
