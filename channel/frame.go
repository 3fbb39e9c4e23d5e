package channel

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcp2p/btcp2p/p2perr"
)

// headerSize is magic(4) + command(12) + length(4) + checksum(4).
const headerSize = 24

const commandSize = 12

// newMessageForCommand returns a zero-valued wire.Message for command, or
// BadStream if command is not one of the core handshake-set commands:
// version, verack, ping, pong, addr, getaddr, reject.
func newMessageForCommand(command string) (wire.Message, error) {
	switch command {
	case wire.CmdVersion:
		return &wire.MsgVersion{}, nil
	case wire.CmdVerAck:
		return &wire.MsgVerAck{}, nil
	case wire.CmdPing:
		return &wire.MsgPing{}, nil
	case wire.CmdPong:
		return &wire.MsgPong{}, nil
	case wire.CmdAddr:
		return &wire.MsgAddr{}, nil
	case wire.CmdGetAddr:
		return &wire.MsgGetAddr{}, nil
	case wire.CmdReject:
		return &wire.MsgReject{}, nil
	default:
		return nil, p2perr.New(p2perr.BadStream,
			fmt.Errorf("unsupported command %q", command))
	}
}

func encodeCommand(command string) [commandSize]byte {
	var out [commandSize]byte
	copy(out[:], command)
	return out
}

func decodeCommand(raw [commandSize]byte) string {
	i := 0
	for i < commandSize && raw[i] != 0 {
		i++
	}
	return string(raw[:i])
}

// writeFrame encodes msg's payload, then writes the 24-byte header
// (magic, command, length, checksum) followed by the payload.
func writeFrame(w io.Writer, magic wire.BitcoinNet, pver uint32, msg wire.Message) error {
	payload, err := encodePayload(pver, msg)
	if err != nil {
		return p2perr.New(p2perr.OperationFailed, err)
	}

	var header [headerSize]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(magic))
	copy(header[4:16], encodeCommand(msg.Command())[:])
	binary.LittleEndian.PutUint32(header[16:20], uint32(len(payload)))

	checksum := chainhash.DoubleHashB(payload)
	copy(header[20:24], checksum[:4])

	if _, err := w.Write(header[:]); err != nil {
		return p2perr.New(p2perr.ChannelTransport, err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return p2perr.New(p2perr.ChannelTransport, err)
		}
	}
	return nil
}

func encodePayload(pver uint32, msg wire.Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := msg.BtcEncode(&buf, pver, wire.BaseEncoding); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// readFrame reads one 24-byte header then its payload, rejecting frames
// whose magic mismatches (ChannelBadMagic), whose declared length exceeds
// maxPayload (ChannelOversize), or whose checksum fails (BadStream).
func readFrame(r io.Reader, magic wire.BitcoinNet, pver uint32, maxPayload uint32) (wire.Message, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, p2perr.New(p2perr.ChannelTransport, err)
	}

	gotMagic := wire.BitcoinNet(binary.LittleEndian.Uint32(header[0:4]))
	if gotMagic != magic {
		return nil, p2perr.New(p2perr.ChannelBadMagic,
			fmt.Errorf("got magic %08x want %08x", uint32(gotMagic), uint32(magic)))
	}

	var cmdRaw [commandSize]byte
	copy(cmdRaw[:], header[4:16])
	command := decodeCommand(cmdRaw)

	length := binary.LittleEndian.Uint32(header[16:20])
	if length > maxPayload {
		return nil, p2perr.New(p2perr.ChannelOversize,
			fmt.Errorf("payload length %d exceeds cap %d", length, maxPayload))
	}
	wantChecksum := header[20:24]

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, p2perr.New(p2perr.ChannelTransport, err)
		}
	}

	gotChecksum := chainhash.DoubleHashB(payload)
	if !bytesEqual(gotChecksum[:4], wantChecksum) {
		return nil, p2perr.New(p2perr.BadStream,
			fmt.Errorf("checksum mismatch for %q", command))
	}

	msg, err := newMessageForCommand(command)
	if err != nil {
		return nil, err
	}
	// wire.MsgVersion.BtcDecode requires a *bytes.Buffer.
	if err := msg.BtcDecode(bytes.NewBuffer(payload), pver, wire.BaseEncoding); err != nil {
		return nil, p2perr.New(p2perr.BadStream, err)
	}
	return msg, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
