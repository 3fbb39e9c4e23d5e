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

// raceConnect is the batch-connect helper session_outbound uses to turn
// a set of candidate authorities into at most one live channel: connect
// via a batch of connect_batch_size simultaneous candidates; the first
// to complete handshake wins and the others are stopped. It is
// deliberately independent of any particular session so it could
// equally back a future "race N candidates" strategy.
func raceConnect(
	connector *netconn.Connector,
	clk clock.Clock,
	candidates []authority.Authority,
	standard StandardConfig,
	timeout time.Duration,
	cancel <-chan struct{},
	onResolved func(a authority.Authority), // called once per candidate as its dial resolves, win or lose
) (*channel.Channel, bool) {
	winner := make(chan *channel.Channel, 1)
	var once sync.Once

	for _, a := range candidates {
		a := a
		connector.Connect(a, func(code p2perr.Code, ch *channel.Channel) {
			defer onResolved(a)
			if code != p2perr.Success {
				return
			}
			AttachStandardProtocols(ch, standard, func(code p2perr.Code) {
				if code != p2perr.Success {
					return
				}
				won := false
				once.Do(func() { won = true; winner <- ch })
				if !won {
					ch.Stop(p2perr.ServiceStopped)
				}
			})
		})
	}

	select {
	case ch := <-winner:
		return ch, true
	case <-clk.TickAfter(timeout):
		return nil, false
	case <-cancel:
		return nil, false
	}
}
