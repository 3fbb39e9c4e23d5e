package session

import (
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"golang.org/x/sync/errgroup"

	"github.com/btcp2p/btcp2p/authority"
	"github.com/btcp2p/btcp2p/channel"
	"github.com/btcp2p/btcp2p/hosts"
	"github.com/btcp2p/btcp2p/netconn"
	"github.com/btcp2p/btcp2p/p2perr"
	"github.com/btcp2p/btcp2p/pending"
	"github.com/btcp2p/btcp2p/protocol"
)

// SeedConfig carries what session_seed needs to reach out to the
// configured seed endpoints and germinate the host pool.
type SeedConfig struct {
	Endpoints      []authority.Authority
	ChannelConfig  channel.Config
	ConnectTimeout time.Duration
	Germination    time.Duration // channel_germination
	Version        protocol.VersionConfig
	NonceGen       func() uint64
	Clock          clock.Clock
}

// Seed is session_seed: it dials every configured seed endpoint
// concurrently, performs the handshake, requests addresses, and
// germinates Hosts until channel_germination elapses, then stops every
// seed channel it opened.
type Seed struct {
	cfg     SeedConfig
	hosts   *hosts.Hosts
	pending *pending.PendingChannels

	mu       sync.Mutex
	channels []*channel.Channel
	stopped  bool
}

// NewSeed returns an unstarted seed session.
func NewSeed(cfg SeedConfig, h *hosts.Hosts, pc *pending.PendingChannels) *Seed {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	return &Seed{cfg: cfg, hosts: h, pending: pc}
}

// Start fans out to every seed endpoint and invokes handler exactly once,
// with Success if Hosts ends non-empty (immediately, if Hosts is already
// at capacity) or SeedingUnsuccessful otherwise.
func (s *Seed) Start(handler func(code p2perr.Code)) {
	if s.hosts.Capacity() > 0 && s.hosts.Count() >= s.hosts.Capacity() {
		handler(p2perr.Success)
		return
	}
	if len(s.cfg.Endpoints) == 0 {
		if s.hosts.Count() > 0 {
			handler(p2perr.Success)
			return
		}
		handler(p2perr.SeedingUnsuccessful)
		return
	}

	connector := netconn.NewConnector(s.cfg.ChannelConfig, s.cfg.ConnectTimeout, s.cfg.NonceGen)

	g := new(errgroup.Group)
	for _, ep := range s.cfg.Endpoints {
		ep := ep
		g.Go(func() error {
			done := make(chan struct{})
			connector.Connect(ep, func(code p2perr.Code, ch *channel.Channel) {
				defer close(done)
				if code != p2perr.Success {
					log.Debugf("seed dial to %s failed: %v", ep, code)
					return
				}
				s.onChannel(ch)
			})
			<-done
			return nil
		})
	}
	go func() {
		if err := g.Wait(); err != nil {
			log.Errorf("seed fan-out error: %v", err)
		}
	}()

	go func() {
		<-s.cfg.Clock.TickAfter(s.cfg.Germination)
		s.stopAll()
		connector.Stop()

		if s.hosts.Count() > 0 {
			handler(p2perr.Success)
		} else {
			handler(p2perr.SeedingUnsuccessful)
		}
	}()
}

func (s *Seed) onChannel(ch *channel.Channel) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		ch.Stop(p2perr.ServiceStopped)
		return
	}
	s.channels = append(s.channels, ch)
	s.mu.Unlock()

	v := protocol.NewVersionProtocol(s.cfg.Version, s.pending)
	v.Start(ch, func(code p2perr.Code) {
		if code != p2perr.Success {
			return
		}
		protocol.NewAddressProtocol(protocol.AddressConfig{Hosts: s.hosts}).Start(ch)
	})
}

func (s *Seed) stopAll() {
	s.mu.Lock()
	s.stopped = true
	chans := s.channels
	s.channels = nil
	s.mu.Unlock()

	for _, ch := range chans {
		ch.Stop(p2perr.ServiceStopped)
	}
}

// Stop tears down the seed session early, e.g. on P2P.Stop racing with an
// in-progress seed pass.
func (s *Seed) Stop() {
	s.stopAll()
}
