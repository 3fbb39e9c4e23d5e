package session

import (
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"

	"github.com/btcp2p/btcp2p/authority"
	"github.com/btcp2p/btcp2p/channel"
	"github.com/btcp2p/btcp2p/netconn"
	"github.com/btcp2p/btcp2p/p2perr"
)

// ManualConfig carries what session_manual needs to connect and
// reconnect its configured endpoints.
type ManualConfig struct {
	ChannelConfig  channel.Config
	ConnectTimeout time.Duration // also the reconnect backoff
	Standard       StandardConfig
	NonceGen       func() uint64
	Clock          clock.Clock
	Blacklist      Blacklist
}

// Manual is session_manual: one supervisor goroutine per configured
// endpoint that connects, attaches the standard protocol set, and on any
// channel stop reconnects after connect_timeout, forever, until Stop.
type Manual struct {
	cfg       ManualConfig
	connector *netconn.Connector

	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup
}

// NewManual returns an unstarted manual session.
func NewManual(cfg ManualConfig) *Manual {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	return &Manual{
		cfg:       cfg,
		connector: netconn.NewConnector(cfg.ChannelConfig, cfg.ConnectTimeout, cfg.NonceGen),
		quit:      make(chan struct{}),
	}
}

// Start launches one supervisor per endpoint.
func (m *Manual) Start(endpoints []authority.Authority) {
	for _, ep := range endpoints {
		m.Connect(ep)
	}
}

// Connect adds one more manual endpoint at runtime (P2P.Connect delegates
// here).
func (m *Manual) Connect(a authority.Authority) {
	if m.cfg.Blacklist.Blocks(a) {
		log.Debugf("manual endpoint %s is blacklisted, refusing to supervise", a)
		return
	}
	m.wg.Add(1)
	go m.supervise(a)
}

func (m *Manual) supervise(a authority.Authority) {
	defer m.wg.Done()

	for {
		select {
		case <-m.quit:
			return
		default:
		}

		done := make(chan p2perr.Code, 2)
		m.connector.Connect(a, func(code p2perr.Code, ch *channel.Channel) {
			if code != p2perr.Success {
				select {
				case done <- code:
				default:
				}
				return
			}
			ch.OnStop(func(code p2perr.Code) {
				select {
				case done <- code:
				default:
				}
			})
			AttachStandardProtocols(ch, m.cfg.Standard, func(code p2perr.Code) {
				if code != p2perr.Success {
					select {
					case done <- code:
					default:
					}
				}
			})
		})

		select {
		case <-done:
		case <-m.quit:
			return
		}

		select {
		case <-m.cfg.Clock.TickAfter(m.cfg.ConnectTimeout):
		case <-m.quit:
			return
		}
	}
}

// Stop cancels every supervisor and waits for them to exit.
func (m *Manual) Stop() {
	m.quitOnce.Do(func() {
		close(m.quit)
		m.connector.Stop()
	})
	m.wg.Wait()
}
