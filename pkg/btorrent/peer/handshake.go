package peer

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/namvu9/seedbox/pkg/errors"
)

const (
	// PStr is the protocol identifier sent in the handshake
	PStr = "BitTorrent protocol"

	// HandshakeLength is the length of a handshake with the
	// standard protocol identifier
	HandshakeLength = 49 + len(PStr)
)

// HandshakeMessage opens every connection. It carries the
// info hash of the torrent the connection is about.
type HandshakeMessage struct {
	PStr     string
	Reserved [8]byte
	InfoHash [20]byte
	PeerID   [20]byte
}

func NewHandshake(infoHash, peerID [20]byte) HandshakeMessage {
	return HandshakeMessage{
		PStr:     PStr,
		InfoHash: infoHash,
		PeerID:   peerID,
	}
}

func (m HandshakeMessage) Bytes() []byte {
	var buf bytes.Buffer

	buf.WriteByte(byte(len(m.PStr)))
	buf.WriteString(m.PStr)
	buf.Write(m.Reserved[:])
	buf.Write(m.InfoHash[:])
	buf.Write(m.PeerID[:])

	return buf.Bytes()
}

// ReadHandshake reads a handshake from r and checks its
// protocol identifier
func ReadHandshake(r io.Reader) (HandshakeMessage, error) {
	var (
		op  errors.Op = "peer.ReadHandshake"
		msg HandshakeMessage
	)

	pstrLen := make([]byte, 1)
	if _, err := io.ReadFull(r, pstrLen); err != nil {
		return msg, errors.Wrap(err, op, errors.Network)
	}

	if int(pstrLen[0]) != len(PStr) {
		err := fmt.Errorf("%w: handshake pstrlen want %d got %d", ErrProtocolViolation, len(PStr), pstrLen[0])
		return msg, errors.Wrap(err, op, errors.Protocol)
	}

	rest := make([]byte, HandshakeLength-1)
	if _, err := io.ReadFull(r, rest); err != nil {
		if errors.IsEOF(err) || errors.Is(err, io.ErrUnexpectedEOF) {
			err = fmt.Errorf("%w: handshake", ErrTruncatedMessage)
			return msg, errors.Wrap(err, op, errors.Protocol)
		}

		return msg, errors.Wrap(err, op, errors.Network)
	}

	msg.PStr = string(rest[:len(PStr)])
	if msg.PStr != PStr {
		err := fmt.Errorf("%w: handshake pstr want %q got %q", ErrProtocolViolation, PStr, msg.PStr)
		return msg, errors.Wrap(err, op, errors.Protocol)
	}

	rest = rest[len(PStr):]
	copy(msg.Reserved[:], rest[:8])
	copy(msg.InfoHash[:], rest[8:28])
	copy(msg.PeerID[:], rest[28:48])

	return msg, nil
}

// NewPeerID returns a random Azureus-style peer id
func NewPeerID() [20]byte {
	var id [20]byte

	copy(id[:], clientPrefix)
	rand.Read(id[len(clientPrefix):])

	return id
}
