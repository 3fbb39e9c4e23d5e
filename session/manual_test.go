package session

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"

	"github.com/btcp2p/btcp2p/authority"
	"github.com/btcp2p/btcp2p/channel"
	"github.com/btcp2p/btcp2p/hosts"
	"github.com/btcp2p/btcp2p/pending"
)

// fakeReconnectingPeer accepts connections forever, completes a minimal
// handshake on each, then closes it -- used to exercise session_manual's
// reconnect-after-stop loop.
func fakeReconnectingPeer(t *testing.T) (authority.Authority, *int32, func()) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var handshakes int32
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				if _, _, err := readRemoteVersion(conn); err != nil {
					return
				}
				if err := completeHandshake(conn, 9000+uint64(atomic.LoadInt32(&handshakes))); err != nil {
					return
				}
				atomic.AddInt32(&handshakes, 1)
			}(conn)
		}
	}()

	tcpAddr := l.Addr().(*net.TCPAddr)
	auth := authority.FromIP(tcpAddr.IP, uint16(tcpAddr.Port))
	return auth, &handshakes, func() { l.Close() }
}

func testStandardConfig(h *hosts.Hosts) StandardConfig {
	return StandardConfig{
		Version:     testVersionConfig(),
		Ping:        protocolPingConfig(),
		Address:     protocolAddressConfig(h),
		Pending:     pending.NewPendingChannels(),
		Connections: pending.NewConnections(),
	}
}

func TestManualReconnectsAfterChannelStop(t *testing.T) {
	peerAddr, handshakes, cleanup := fakeReconnectingPeer(t)
	defer cleanup()

	h := hosts.New(100, "", nil)
	cfg := ManualConfig{
		ChannelConfig:  channel.Config{Magic: testMagic, MaxPayload: 1 << 20},
		ConnectTimeout: 30 * time.Millisecond,
		Standard:       testStandardConfig(h),
		NonceGen:       func() uint64 { return 1 },
		Clock:          clock.NewDefaultClock(),
	}
	m := NewManual(cfg)
	m.Start([]authority.Authority{peerAddr})
	defer m.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(handshakes) >= 2
	}, 2*time.Second, 10*time.Millisecond, "expected at least two reconnect attempts")
}

func TestManualBlacklistedEndpointNeverDialed(t *testing.T) {
	peerAddr, handshakes, cleanup := fakeReconnectingPeer(t)
	defer cleanup()

	h := hosts.New(100, "", nil)
	cfg := ManualConfig{
		ChannelConfig:  channel.Config{Magic: testMagic, MaxPayload: 1 << 20},
		ConnectTimeout: 30 * time.Millisecond,
		Standard:       testStandardConfig(h),
		NonceGen:       func() uint64 { return 1 },
		Clock:          clock.NewDefaultClock(),
		Blacklist:      Blacklist{peerAddr.String()},
	}
	m := NewManual(cfg)
	m.Start([]authority.Authority{peerAddr})
	defer m.Stop()

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(0), atomic.LoadInt32(handshakes))
}

func TestManualStopIsIdempotentAndWaitsForSupervisors(t *testing.T) {
	peerAddr, _, cleanup := fakeReconnectingPeer(t)
	defer cleanup()

	h := hosts.New(100, "", nil)
	cfg := ManualConfig{
		ChannelConfig:  channel.Config{Magic: testMagic, MaxPayload: 1 << 20},
		ConnectTimeout: 20 * time.Millisecond,
		Standard:       testStandardConfig(h),
		NonceGen:       func() uint64 { return 1 },
		Clock:          clock.NewDefaultClock(),
	}
	m := NewManual(cfg)
	m.Start([]authority.Authority{peerAddr})

	m.Stop()
	m.Stop()
}
