package session

import (
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"

	"github.com/btcp2p/btcp2p/authority"
	"github.com/btcp2p/btcp2p/channel"
	"github.com/btcp2p/btcp2p/hosts"
	"github.com/btcp2p/btcp2p/netconn"
	"github.com/btcp2p/btcp2p/p2perr"
	"github.com/btcp2p/btcp2p/pending"
)

// OutboundConfig carries what session_outbound needs to keep its slots
// full.
type OutboundConfig struct {
	ChannelConfig       channel.Config
	ConnectTimeout      time.Duration
	ConnectBatchSize    int
	OutboundConnections int
	Standard            StandardConfig
	NonceGen            func() uint64
	Clock               clock.Clock
	Blacklist           Blacklist

	// BackoffBase/BackoffMax bound netconn.Backoff's growth between
	// failed draw-or-connect attempts on a slot.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Outbound is session_outbound: maintains exactly OutboundConnections
// live outbound channels, one supervisor goroutine per slot.
type Outbound struct {
	cfg         OutboundConfig
	hosts       *hosts.Hosts
	pendingSock *pending.PendingSockets
	connections *pending.Connections
	connector   *netconn.Connector

	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup
}

// NewOutbound returns an unstarted outbound session.
func NewOutbound(cfg OutboundConfig, h *hosts.Hosts, ps *pending.PendingSockets, conns *pending.Connections) *Outbound {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	return &Outbound{
		cfg:         cfg,
		hosts:       h,
		pendingSock: ps,
		connections: conns,
		connector:   netconn.NewConnector(cfg.ChannelConfig, cfg.ConnectTimeout, cfg.NonceGen),
		quit:        make(chan struct{}),
	}
}

// Start launches one supervisor goroutine per outbound slot.
func (o *Outbound) Start() {
	for i := 0; i < o.cfg.OutboundConnections; i++ {
		o.wg.Add(1)
		go o.slot()
	}
}

func (o *Outbound) slot() {
	defer o.wg.Done()

	attempt := 0
	for {
		select {
		case <-o.quit:
			return
		default:
		}

		candidates := o.drawCandidates()
		if len(candidates) == 0 {
			attempt++
			if !o.wait(netconn.Backoff(attempt, o.cfg.BackoffBase, o.cfg.BackoffMax)) {
				return
			}
			continue
		}

		timeout := o.cfg.ConnectTimeout + o.cfg.Standard.Version.HandshakeTimeout
		ch, ok := raceConnect(o.connector, o.cfg.Clock, candidates, o.cfg.Standard, timeout, o.quit,
			func(a authority.Authority) { o.pendingSock.Remove(a) })
		if !ok {
			attempt++
			if !o.wait(netconn.Backoff(attempt, o.cfg.BackoffBase, o.cfg.BackoffMax)) {
				return
			}
			continue
		}
		attempt = 0

		done := make(chan struct{})
		ch.OnStop(func(code p2perr.Code) { close(done) })
		select {
		case <-done:
		case <-o.quit:
			return
		}
	}
}

// drawCandidates samples up to ConnectBatchSize distinct, eligible
// authorities from Hosts, reserving each via PendingSockets so a
// concurrent slot cannot draw the same one.
func (o *Outbound) drawCandidates() []authority.Authority {
	seen := make(map[authority.Authority]struct{})
	var out []authority.Authority

	for i := 0; i < o.cfg.ConnectBatchSize*4 && len(out) < o.cfg.ConnectBatchSize; i++ {
		a, err := o.hosts.Fetch()
		if err != nil {
			break
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}

		if o.cfg.Blacklist.Blocks(a) || o.connections.HasAuthority(a) {
			continue
		}
		if !o.pendingSock.Add(a) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (o *Outbound) wait(d time.Duration) bool {
	select {
	case <-o.cfg.Clock.TickAfter(d):
		return true
	case <-o.quit:
		return false
	}
}

// Stop cancels every slot and the underlying connector, waiting for all
// slot goroutines to exit.
func (o *Outbound) Stop() {
	o.quitOnce.Do(func() {
		close(o.quit)
		o.connector.Stop()
	})
	o.wg.Wait()
}
