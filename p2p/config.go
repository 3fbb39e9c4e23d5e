package p2p

import (
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"

	"github.com/btcp2p/btcp2p/authority"
	"github.com/btcp2p/btcp2p/session"
)

// Config is the root configuration, the boundary everything else in
// this module is reduced to: the CLI/config file parser that produces
// it is out of scope.
type Config struct {
	Threads int // bounds Broadcast's fan-out concurrency

	Identifier uint32 // wire magic
	MaxPayload uint32

	BindAddr            string
	InboundPort         uint16
	InboundConnections  int
	OutboundConnections int
	ManualAttemptLimit  int // carried for config completeness; session_manual retries forever regardless

	ConnectBatchSize int
	ConnectTimeout   time.Duration

	ChannelHandshake   time.Duration
	ChannelGermination time.Duration
	ChannelHeartbeat   time.Duration
	ChannelInactivity  time.Duration
	ChannelExpiration  time.Duration
	ChannelPoll        time.Duration // periodic Hosts.Save() interval

	HostPoolCapacity int
	HostsFile        string

	ProtocolMinimum uint32
	ProtocolMaximum uint32
	Services        wire.ServiceFlag
	Relay           bool
	UserAgent       string
	Self            authority.Authority
	HeightFn        func() int32

	Seeds     []authority.Authority
	Peers     []authority.Authority
	Blacklist session.Blacklist

	Clock clock.Clock
}
