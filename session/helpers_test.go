package session

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/btcp2p/btcp2p/hosts"
	"github.com/btcp2p/btcp2p/protocol"
)

// Minimal, independent reimplementations of the wire framing used by
// channel/frame.go: tests play the role of a remote peer over a bare
// net.Conn, so they must not reach into that unexported package.

const testMagic = wire.BitcoinNet(0xd9b4bef9)

func writeTestFrame(w io.Writer, msg wire.Message) error {
	var buf bytes.Buffer
	if err := msg.BtcEncode(&buf, uint32(wire.ProtocolVersion), wire.BaseEncoding); err != nil {
		return err
	}
	payload := buf.Bytes()

	var header [24]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(testMagic))
	copy(header[4:16], msg.Command())
	binary.LittleEndian.PutUint32(header[16:20], uint32(len(payload)))
	checksum := chainhash.DoubleHashB(payload)
	copy(header[20:24], checksum[:4])

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		_, err := w.Write(payload)
		return err
	}
	return nil
}

func readTestFrame(t *testing.T, conn net.Conn) (string, wire.Message) {
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var header [24]byte
	_, err := io.ReadFull(conn, header[:])
	require.NoError(t, err)

	length := binary.LittleEndian.Uint32(header[16:20])
	payload := make([]byte, length)
	if length > 0 {
		_, err = io.ReadFull(conn, payload)
		require.NoError(t, err)
	}

	var cmd [12]byte
	copy(cmd[:], header[4:16])
	i := 0
	for i < 12 && cmd[i] != 0 {
		i++
	}
	command := string(cmd[:i])

	var msg wire.Message
	switch command {
	case wire.CmdVersion:
		msg = &wire.MsgVersion{}
	case wire.CmdVerAck:
		msg = &wire.MsgVerAck{}
	case wire.CmdGetAddr:
		msg = &wire.MsgGetAddr{}
	case wire.CmdAddr:
		msg = &wire.MsgAddr{}
	case wire.CmdPing:
		msg = &wire.MsgPing{}
	default:
		t.Fatalf("unexpected command %q", command)
	}
	require.NoError(t, msg.BtcDecode(bytes.NewBuffer(payload), uint32(wire.ProtocolVersion), wire.BaseEncoding))
	return command, msg
}

// readRemoteVersion reads and discards one frame, expecting it to be our
// outgoing version message. Used by fixture peers that don't care about
// its contents, only that a handshake was attempted.
func readRemoteVersion(conn net.Conn) (string, wire.Message, error) {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var header [24]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return "", nil, err
	}
	length := binary.LittleEndian.Uint32(header[16:20])
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(conn, payload); err != nil {
			return "", nil, err
		}
	}
	msg := &wire.MsgVersion{}
	if err := msg.BtcDecode(bytes.NewBuffer(payload), uint32(wire.ProtocolVersion), wire.BaseEncoding); err != nil {
		return "", nil, err
	}
	return wire.CmdVersion, msg, nil
}

// completeHandshake replies with a version+verack pair carrying nonce, the
// minimum a fixture peer needs to send for AttachStandardProtocols to
// consider the handshake successful.
func completeHandshake(conn net.Conn, nonce uint64) error {
	if err := writeTestFrame(conn, &wire.MsgVersion{
		ProtocolVersion: 70015,
		Services:        1,
		Timestamp:       time.Now(),
		Nonce:           nonce,
	}); err != nil {
		return err
	}
	return writeTestFrame(conn, &wire.MsgVerAck{})
}

func protocolPingConfig() protocol.PingConfig {
	return protocol.PingConfig{HeartbeatInterval: time.Minute}
}

func protocolAddressConfig(h *hosts.Hosts) protocol.AddressConfig {
	return protocol.AddressConfig{Hosts: h}
}
