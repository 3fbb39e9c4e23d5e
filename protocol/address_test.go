package protocol

import (
	"net"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/btcp2p/btcp2p/authority"
	"github.com/btcp2p/btcp2p/channel"
	"github.com/btcp2p/btcp2p/hosts"
	"github.com/btcp2p/btcp2p/p2perr"
)

func newAddressTestChannel(t *testing.T, negotiated uint32) (*channel.Channel, net.Conn) {
	local, remote := net.Pipe()
	t.Cleanup(func() { remote.Close() })

	addr, _ := authority.Parse("1.2.3.4:8333")
	cfg := channel.Config{Magic: testMagic, MaxPayload: 1 << 20}
	ch := channel.New(cfg, local, addr, 77)
	ch.SetNegotiatedVersion(negotiated)
	t.Cleanup(func() { ch.Stop(p2perr.ServiceStopped) })
	return ch, remote
}

func TestAddressSendsGetAddrAboveThreshold(t *testing.T) {
	ch, remote := newAddressTestChannel(t, 70015)
	h := hosts.New(100, "", nil)

	a := NewAddressProtocol(AddressConfig{Hosts: h})
	a.Start(ch)

	msg := readRawFrame(t, remote, 70015)
	require.IsType(t, &wire.MsgGetAddr{}, msg)
}

func TestAddressStoresIncomingAddr(t *testing.T) {
	ch, remote := newAddressTestChannel(t, 31402)
	h := hosts.New(100, "", nil)

	a := NewAddressProtocol(AddressConfig{Hosts: h})
	a.Start(ch)

	// 31402 is getAddrVersion itself, so a get_address is also sent; this
	// test leaves it unread and only feeds an addr in.
	peerAddr, _ := authority.Parse("5.5.5.5:8333")
	addr := wire.NewMsgAddr()
	require.NoError(t, addr.AddAddress(peerAddr.ToNetworkAddress(1, time.Now())))
	require.NoError(t, writeRawFrame(remote, testMagic, addr))

	require.Eventually(t, func() bool {
		return h.Count() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestAddressRespondsToGetAddrWithSample(t *testing.T) {
	ch, remote := newAddressTestChannel(t, 31402)
	h := hosts.New(100, "", nil)
	seed, _ := authority.Parse("10.0.0.1:8333")
	h.Store(seed)

	a := NewAddressProtocol(AddressConfig{Hosts: h})
	a.Start(ch)

	// Drain the initial get_address sent at getAddrVersion.
	_ = readRawFrame(t, remote, 31402)

	require.NoError(t, writeRawFrame(remote, testMagic, &wire.MsgGetAddr{}))

	reply := readRawFrame(t, remote, 31402).(*wire.MsgAddr)
	require.Len(t, reply.AddrList, 1)
}

func TestAddressDropsOversizedBurst(t *testing.T) {
	ch, remote := newAddressTestChannel(t, 70015)
	h := hosts.New(100, "", nil)

	a := NewAddressProtocol(AddressConfig{Hosts: h})
	a.Start(ch)

	// Drain the initial get_address request.
	_ = readRawFrame(t, remote, 70015)

	// Construct an intentionally oversized burst directly: AddAddress
	// enforces the cap itself, so onAddr is exercised straight rather
	// than through the wire round trip.
	big := &wire.MsgAddr{}
	for i := 0; i < wire.MaxAddrPerMsg+1; i++ {
		big.AddrList = append(big.AddrList, &wire.NetAddress{IP: net.ParseIP("1.2.3.4"), Port: 8333})
	}

	a.onAddr(big)
	require.Equal(t, 0, h.Count())
}
