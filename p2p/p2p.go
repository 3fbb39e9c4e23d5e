// Package p2p implements P2P, the top-level orchestrator: it owns the
// configuration, the Hosts pool, the Connections set, and the four
// running sessions, and drives the start/stop lifecycle.
// Grounded on server.go's `server` struct lifecycle (atomic
// started/shutdown flags, `sync.WaitGroup`, a `quit` channel), generalized
// from "one Lightning server" to "one Bitcoin P2P orchestrator".
package p2p

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"golang.org/x/sync/errgroup"

	"github.com/btcp2p/btcp2p/authority"
	"github.com/btcp2p/btcp2p/channel"
	"github.com/btcp2p/btcp2p/hosts"
	"github.com/btcp2p/btcp2p/p2perr"
	"github.com/btcp2p/btcp2p/pending"
	"github.com/btcp2p/btcp2p/protocol"
	"github.com/btcp2p/btcp2p/session"
)

// P2P is the top-level orchestrator. It exclusively owns Hosts,
// Connections, PendingChannels, PendingSockets, and Config.
type P2P struct {
	cfg   Config
	hosts *hosts.Hosts

	pendingChannels *pending.PendingChannels
	pendingSockets  *pending.PendingSockets
	connections     *pending.Connections

	seed     *session.Seed
	manual   *session.Manual
	outbound *session.Outbound
	inbound  *session.Inbound

	nonceCounter uint64 // atomic

	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup
}

// New returns an unstarted P2P instance.
func New(cfg Config) *P2P {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	return &P2P{
		cfg:             cfg,
		hosts:           hosts.New(cfg.HostPoolCapacity, cfg.HostsFile, nil),
		pendingChannels: pending.NewPendingChannels(),
		pendingSockets:  pending.NewPendingSockets(),
		connections:     pending.NewConnections(),
		nonceCounter:    randSeed(),
		quit:            make(chan struct{}),
	}
}

func randSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 1
	}
	return binary.BigEndian.Uint64(b[:])
}

func (p *P2P) nextNonce() uint64 {
	return atomic.AddUint64(&p.nonceCounter, 1)
}

// Connections returns the live-channel set, for callers that want to
// inspect it directly (e.g. metrics).
func (p *P2P) Connections() *pending.Connections { return p.connections }

// Hosts returns the known-hosts pool.
func (p *P2P) Hosts() *hosts.Hosts { return p.hosts }

func (p *P2P) validateConfig() error {
	if p.cfg.ProtocolMinimum > p.cfg.ProtocolMaximum {
		return p2perr.New(p2perr.OperationFailed,
			fmt.Errorf("protocol_minimum %d exceeds protocol_maximum %d",
				p.cfg.ProtocolMinimum, p.cfg.ProtocolMaximum))
	}
	return nil
}

func (p *P2P) channelConfig() channel.Config {
	return channel.Config{
		Magic:             wire.BitcoinNet(p.cfg.Identifier),
		MaxPayload:        p.cfg.MaxPayload,
		ProtocolMinimum:   p.cfg.ProtocolMinimum,
		ExpirationTimeout: p.cfg.ChannelExpiration,
		InactivityTimeout: p.cfg.ChannelInactivity,
		Clock:             p.cfg.Clock,
	}
}

func (p *P2P) versionConfig() protocol.VersionConfig {
	return protocol.VersionConfig{
		ProtocolMinimum:  p.cfg.ProtocolMinimum,
		ProtocolMaximum:  p.cfg.ProtocolMaximum,
		MinimumServices:  p.cfg.Services,
		LocalServices:    p.cfg.Services,
		UserAgent:        p.cfg.UserAgent,
		Self:             p.cfg.Self,
		Relay:            p.cfg.Relay,
		HeightFn:         p.cfg.HeightFn,
		Clock:            p.cfg.Clock,
		HandshakeTimeout: p.cfg.ChannelHandshake,
	}
}

func (p *P2P) standardConfig() session.StandardConfig {
	return session.StandardConfig{
		Version:     p.versionConfig(),
		Ping:        protocol.PingConfig{HeartbeatInterval: p.cfg.ChannelHeartbeat},
		Address:     protocol.AddressConfig{Hosts: p.hosts},
		Pending:     p.pendingChannels,
		Connections: p.connections,
	}
}

// Start loads Hosts, runs session_seed, and on its completion launches
// session_manual, session_outbound, and session_inbound. handler fires
// exactly once with the start outcome; a seeding failure is logged but
// does not abort start -- per-session errors stop the session, not P2P.
func (p *P2P) Start(handler func(code p2perr.Code)) {
	if err := p.validateConfig(); err != nil {
		handler(p2perr.CodeOf(err))
		return
	}

	if err := p.hosts.Load(); err != nil {
		log.Errorf("hosts load failed: %v", err)
	}

	seedCfg := session.SeedConfig{
		Endpoints:      p.cfg.Seeds,
		ChannelConfig:  p.channelConfig(),
		ConnectTimeout: p.cfg.ConnectTimeout,
		Germination:    p.cfg.ChannelGermination,
		Version:        p.versionConfig(),
		NonceGen:       p.nextNonce,
		Clock:          p.cfg.Clock,
	}
	p.seed = session.NewSeed(seedCfg, p.hosts, p.pendingChannels)
	p.seed.Start(func(code p2perr.Code) {
		if code != p2perr.Success {
			log.Errorf("seeding unsuccessful: %v", code)
		}
		p.startStandingSessions()
		handler(p2perr.Success)
	})

	if p.cfg.ChannelPoll > 0 {
		p.wg.Add(1)
		go p.maintenanceLoop()
	}
}

func (p *P2P) startStandingSessions() {
	manualCfg := session.ManualConfig{
		ChannelConfig:  p.channelConfig(),
		ConnectTimeout: p.cfg.ConnectTimeout,
		Standard:       p.standardConfig(),
		NonceGen:       p.nextNonce,
		Clock:          p.cfg.Clock,
		Blacklist:      p.cfg.Blacklist,
	}
	p.manual = session.NewManual(manualCfg)
	p.manual.Start(p.cfg.Peers)

	outboundCfg := session.OutboundConfig{
		ChannelConfig:       p.channelConfig(),
		ConnectTimeout:      p.cfg.ConnectTimeout,
		ConnectBatchSize:    p.cfg.ConnectBatchSize,
		OutboundConnections: p.cfg.OutboundConnections,
		Standard:            p.standardConfig(),
		NonceGen:            p.nextNonce,
		Clock:               p.cfg.Clock,
		Blacklist:           p.cfg.Blacklist,
	}
	p.outbound = session.NewOutbound(outboundCfg, p.hosts, p.pendingSockets, p.connections)
	p.outbound.Start()

	inboundCfg := session.InboundConfig{
		ChannelConfig:      p.channelConfig(),
		BindAddr:           p.cfg.BindAddr,
		Port:               p.cfg.InboundPort,
		InboundConnections: p.cfg.InboundConnections,
		Standard:           p.standardConfig(),
		NonceGen:           p.nextNonce,
		Blacklist:          p.cfg.Blacklist,
	}
	p.inbound = session.NewInbound(inboundCfg, p.connections)
	p.inbound.Start(func(code p2perr.Code) {
		if code != p2perr.Success {
			log.Errorf("inbound listener failed to start: %v", code)
		}
	})
}

func (p *P2P) maintenanceLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.cfg.Clock.TickAfter(p.cfg.ChannelPoll):
			if err := p.hosts.Save(); err != nil {
				log.Errorf("periodic hosts save failed: %v", err)
			}
		case <-p.quit:
			return
		}
	}
}

// Stop stops every session (which stops their channels), saves Hosts,
// and releases listeners. Idempotent.
func (p *P2P) Stop() {
	p.quitOnce.Do(func() {
		close(p.quit)

		if p.seed != nil {
			p.seed.Stop()
		}
		if p.manual != nil {
			p.manual.Stop()
		}
		if p.outbound != nil {
			p.outbound.Stop()
		}
		if p.inbound != nil {
			p.inbound.Stop()
		}

		for _, ch := range p.connections.Snapshot() {
			ch.Stop(p2perr.ServiceStopped)
		}

		if err := p.hosts.Save(); err != nil {
			log.Errorf("hosts save failed: %v", err)
		}
	})
	p.wg.Wait()
}

// Connect delegates to session_manual: a is dialed, and if it becomes
// live, supervised for reconnection until Stop.
func (p *P2P) Connect(a authority.Authority) {
	if p.manual == nil {
		log.Errorf("Connect called before Start: %s ignored", a)
		return
	}
	p.manual.Connect(a)
}

// Broadcast sends msg on every live channel, invoking handler once per
// channel with its own outcome. Fan-out concurrency is bounded by
// cfg.Threads, when set.
func (p *P2P) Broadcast(msg wire.Message, handler func(ch *channel.Channel, code p2perr.Code)) {
	channels := p.connections.Snapshot()

	g := new(errgroup.Group)
	if p.cfg.Threads > 0 {
		g.SetLimit(p.cfg.Threads)
	}

	for _, ch := range channels {
		ch := ch
		g.Go(func() error {
			done := make(chan p2perr.Code, 1)
			ch.Send(msg, func(code p2perr.Code) { done <- code })
			code := <-done
			if handler != nil {
				handler(ch, code)
			}
			return nil
		})
	}
	_ = g.Wait()
}
