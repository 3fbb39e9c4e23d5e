package protocol

import (
	"math/rand"
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcp2p/btcp2p/channel"
	"github.com/btcp2p/btcp2p/p2perr"
)

// pingNonceVersion is BIP31: pong nonce matching is only meaningful from
// this protocol version onward; below it, ping carries no nonce and pong
// is not expected to echo one.
const pingNonceVersion = uint32(60001)

// PingConfig carries the heartbeat period (channel_heartbeat).
type PingConfig struct {
	HeartbeatInterval time.Duration
	Rand              *rand.Rand
}

// PingProtocol is the heartbeat state machine: a recurring ping/pong
// exchange that stops the channel if a pong is missed before the next
// tick, or if a pong's nonce does not match the outstanding ping.
type PingProtocol struct {
	Events

	cfg   PingConfig
	timer *Timer
	rng   *rand.Rand

	mu               sync.Mutex
	outstandingNonce uint64
	awaitingPong     bool
}

// NewPingProtocol returns an unstarted heartbeat protocol.
func NewPingProtocol(cfg PingConfig) *PingProtocol {
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &PingProtocol{cfg: cfg, rng: rng}
}

// Start subscribes to pong and begins the recurring heartbeat.
func (p *PingProtocol) Start(ch *channel.Channel) {
	p.Bind(ch, func(code p2perr.Code) {
		if p.timer != nil {
			p.timer.Stop()
		}
	})

	ch.Subscribe(wire.CmdPong, func(code p2perr.Code, msg wire.Message) bool {
		if code != p2perr.Success {
			return false
		}
		p.onPong(msg.(*wire.MsgPong))
		return true
	})

	p.timer = NewTimer(p.cfg.HeartbeatInterval, true, p.tick)
	p.timer.Start()
}

func (p *PingProtocol) tick() {
	ch := p.Events.Channel()

	p.mu.Lock()
	if p.awaitingPong {
		p.mu.Unlock()
		// Asynchronous: the stop handler stops this timer and waits for
		// the goroutine running tick.
		go ch.Stop(p2perr.ChannelTimeout)
		return
	}

	var nonce uint64
	if ch.NegotiatedVersion() >= pingNonceVersion {
		nonce = p.rng.Uint64()
		p.outstandingNonce = nonce
	}
	p.awaitingPong = true
	p.mu.Unlock()

	ch.Send(&wire.MsgPing{Nonce: nonce}, nil)
}

func (p *PingProtocol) onPong(pong *wire.MsgPong) {
	ch := p.Events.Channel()

	p.mu.Lock()
	if ch.NegotiatedVersion() >= pingNonceVersion && pong.Nonce != p.outstandingNonce {
		p.mu.Unlock()
		ch.Stop(p2perr.BadStream)
		return
	}
	p.awaitingPong = false
	p.mu.Unlock()
}
