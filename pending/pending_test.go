package pending

import (
	"net"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcp2p/btcp2p/authority"
	"github.com/btcp2p/btcp2p/channel"
	"github.com/btcp2p/btcp2p/p2perr"
	"github.com/stretchr/testify/require"
)

func newTestChannel(t *testing.T, nonce uint64, addrStr string) *channel.Channel {
	local, _ := net.Pipe()
	t.Cleanup(func() { local.Close() })
	addr, err := authority.Parse(addrStr)
	require.NoError(t, err)
	cfg := channel.Config{Magic: wire.BitcoinNet(1), MaxPayload: 1 << 20}
	ch := channel.New(cfg, local, addr, nonce)
	t.Cleanup(func() { ch.Stop(p2perr.ServiceStopped) })
	return ch
}

func TestPendingChannelsSelfConnectionDetection(t *testing.T) {
	p := NewPendingChannels()
	ch := newTestChannel(t, 42, "1.1.1.1:8333")

	p.Add(ch)
	require.True(t, p.Contains(42))
	require.False(t, p.Contains(99))

	p.Remove(ch)
	require.False(t, p.Contains(42))
}

func TestPendingSocketsAddIsExclusive(t *testing.T) {
	p := NewPendingSockets()
	a, _ := authority.Parse("1.1.1.1:8333")

	require.True(t, p.Add(a))
	require.False(t, p.Add(a))
	require.Equal(t, 1, p.Count())

	p.Remove(a)
	require.Equal(t, 0, p.Count())
}

func TestConnectionsRejectsDuplicateAuthorityAndNonce(t *testing.T) {
	c := NewConnections()
	ch1 := newTestChannel(t, 1, "1.1.1.1:8333")
	ch2 := newTestChannel(t, 2, "1.1.1.1:8333") // same authority
	ch3 := newTestChannel(t, 1, "2.2.2.2:8333") // same nonce

	require.True(t, c.Add(ch1))
	require.False(t, c.Add(ch2))
	require.False(t, c.Add(ch3))
	require.Equal(t, 1, c.Count())

	c.Remove(ch1)
	require.Equal(t, 0, c.Count())
}
