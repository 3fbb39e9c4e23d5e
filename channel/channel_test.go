package channel

import (
	"net"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcp2p/btcp2p/authority"
	"github.com/btcp2p/btcp2p/p2perr"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Magic:      wire.BitcoinNet(0xd9b4bef9),
		MaxPayload: 1 << 20,
	}
}

func TestSendAndReceiveRoundTrip(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	addr, _ := authority.Parse("127.0.0.1:8333")
	c := New(testConfig(), local, addr, 42)
	defer c.Stop(p2perr.ServiceStopped)

	received := make(chan *wire.MsgPing, 1)
	c.Subscribe(wire.CmdPing, func(code p2perr.Code, msg wire.Message) bool {
		if ping, ok := msg.(*wire.MsgPing); ok {
			received <- ping
		}
		return true
	})

	go func() {
		writeFrame(remote, testConfig().Magic, uint32(wire.ProtocolVersion), &wire.MsgPing{Nonce: 7})
	}()

	select {
	case ping := <-received:
		require.Equal(t, uint64(7), ping.Nonce)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ping")
	}
}

func TestSendAfterStopFails(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	addr, _ := authority.Parse("127.0.0.1:8333")
	c := New(testConfig(), local, addr, 1)
	c.Stop(p2perr.ServiceStopped)

	done := make(chan p2perr.Code, 1)
	c.Send(&wire.MsgVerAck{}, func(code p2perr.Code) {
		done <- code
	})

	select {
	case code := <-done:
		require.Equal(t, p2perr.ChannelStopped, code)
	case <-time.After(time.Second):
		t.Fatal("handler not invoked")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	addr, _ := authority.Parse("127.0.0.1:8333")
	c := New(testConfig(), local, addr, 2)

	stopCount := 0
	c.OnStop(func(code p2perr.Code) {
		stopCount++
	})

	c.Stop(p2perr.ChannelTimeout)
	c.Stop(p2perr.ChannelTimeout)

	require.Equal(t, 1, stopCount)
}

func TestNegotiatedVersionSetOnce(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	addr, _ := authority.Parse("127.0.0.1:8333")
	c := New(testConfig(), local, addr, 3)
	defer c.Stop(p2perr.ServiceStopped)

	c.SetNegotiatedVersion(70015)
	require.Equal(t, uint32(70015), c.NegotiatedVersion())
}
