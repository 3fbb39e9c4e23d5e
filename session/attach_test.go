package session

import (
	"net"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"

	"github.com/btcp2p/btcp2p/authority"
	"github.com/btcp2p/btcp2p/channel"
	"github.com/btcp2p/btcp2p/hosts"
	"github.com/btcp2p/btcp2p/p2perr"
	"github.com/btcp2p/btcp2p/pending"
)

func newAttachTestChannel(t *testing.T, nonce uint64) (*channel.Channel, net.Conn) {
	client, peer := net.Pipe()
	remote, _ := authority.Parse("7.7.7.7:8333")
	cfg := channel.Config{Magic: testMagic, MaxPayload: 1 << 20, Clock: clock.NewDefaultClock()}
	ch := channel.New(cfg, client, remote, nonce)
	t.Cleanup(func() { ch.Stop(p2perr.ServiceStopped) })
	return ch, peer
}

func TestAttachStandardProtocolsSuccessRegistersConnection(t *testing.T) {
	ch, peer := newAttachTestChannel(t, 1)

	h := hosts.New(100, "", nil)
	conns := pending.NewConnections()
	cfg := StandardConfig{
		Version:     testVersionConfig(),
		Ping:        protocolPingConfig(),
		Address:     protocolAddressConfig(h),
		Pending:     pending.NewPendingChannels(),
		Connections: conns,
	}

	go func() {
		_, _ = readTestFrame(t, peer) // our version
		_ = completeHandshake(peer, 4242)
		_, _ = readTestFrame(t, peer) // our verack
	}()

	done := make(chan p2perr.Code, 1)
	AttachStandardProtocols(ch, cfg, func(code p2perr.Code) { done <- code })

	select {
	case code := <-done:
		require.Equal(t, p2perr.Success, code)
	case <-time.After(2 * time.Second):
		t.Fatal("attach did not complete")
	}
	require.Equal(t, 1, conns.Count())
	require.True(t, conns.HasAuthority(ch.RemoteAuthority()))
}

func TestAttachStandardProtocolsFailureDoesNotRegister(t *testing.T) {
	ch, peer := newAttachTestChannel(t, 2)
	peer.Close() // handshake never completes

	h := hosts.New(100, "", nil)
	conns := pending.NewConnections()
	cfg := StandardConfig{
		Version:     testVersionConfig(),
		Ping:        protocolPingConfig(),
		Address:     protocolAddressConfig(h),
		Pending:     pending.NewPendingChannels(),
		Connections: conns,
	}

	done := make(chan p2perr.Code, 1)
	AttachStandardProtocols(ch, cfg, func(code p2perr.Code) { done <- code })

	select {
	case code := <-done:
		require.NotEqual(t, p2perr.Success, code)
	case <-time.After(2 * time.Second):
		t.Fatal("attach did not complete")
	}
	require.Equal(t, 0, conns.Count())
}

func TestAttachStandardProtocolsDuplicateAuthorityRejected(t *testing.T) {
	ch, peer := newAttachTestChannel(t, 3)

	h := hosts.New(100, "", nil)
	conns := pending.NewConnections()

	// Occupy ch's remote authority with another live channel first, so
	// Connections.Add refuses the new one (no two channels to the same
	// Authority at once).
	occupyClient, occupyPeer := net.Pipe()
	defer occupyPeer.Close()
	existing := channel.New(channel.Config{Magic: testMagic, MaxPayload: 1 << 20}, occupyClient, ch.RemoteAuthority(), 999)
	t.Cleanup(func() { existing.Stop(p2perr.ServiceStopped) })
	require.True(t, conns.Add(existing))

	cfg := StandardConfig{
		Version:     testVersionConfig(),
		Ping:        protocolPingConfig(),
		Address:     protocolAddressConfig(h),
		Pending:     pending.NewPendingChannels(),
		Connections: conns,
	}

	go func() {
		_, _ = readTestFrame(t, peer)
		_ = completeHandshake(peer, 4343)
	}()

	done := make(chan p2perr.Code, 1)
	AttachStandardProtocols(ch, cfg, func(code p2perr.Code) { done <- code })

	select {
	case code := <-done:
		require.Equal(t, p2perr.AcceptFailed, code)
	case <-time.After(2 * time.Second):
		t.Fatal("attach did not complete")
	}
}
