package peer_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/namvu9/seedbox/pkg/btorrent/peer"
	"github.com/namvu9/seedbox/pkg/errors"
)

func TestHandshakeMessage(t *testing.T) {
	msg := peer.HandshakeMessage{
		PStr:     peer.PStr,
		InfoHash: [20]byte{1, 2, 3, 4},
		PeerID:   [20]byte{4, 3, 2, 1},
		Reserved: [8]byte{1, 3, 3, 7},
	}

	res := msg.Bytes()

	if len(res) != peer.HandshakeLength {
		t.Errorf("len(handshakeMessage) want %d got %d", peer.HandshakeLength, len(res))
	}

	if pStrLen := res[0]; pStrLen != 19 {
		t.Errorf("pstrlen want %d got %d", 19, pStrLen)
	}

	if pStr := string(res[1:20]); pStr != msg.PStr {
		t.Errorf("pstr want %s got %s ", msg.PStr, pStr)
	}

	if reserved := res[20:28]; !bytes.Equal(reserved, msg.Reserved[:]) {
		t.Errorf("Reserved want %v got %v", msg.Reserved, reserved)
	}

	if infoHash := res[28:48]; !bytes.Equal(infoHash, msg.InfoHash[:]) {
		t.Errorf("Infohash want %v got %v", msg.InfoHash, infoHash)
	}

	if peerID := res[48:68]; !bytes.Equal(peerID, msg.PeerID[:]) {
		t.Errorf("PeerID want %v got %v", msg.PeerID, peerID)
	}

	got, err := peer.ReadHandshake(bytes.NewReader(res))
	if err != nil {
		t.Fatal(err)
	}

	if got != msg {
		t.Errorf("ReadHandshake want %v got %v", msg, got)
	}
}

func TestReadHandshakeBadProtocol(t *testing.T) {
	msg := peer.HandshakeMessage{PStr: "BitTorrent protocoX"}

	_, err := peer.ReadHandshake(bytes.NewReader(msg.Bytes()))
	if !errors.Is(err, peer.ErrProtocolViolation) {
		t.Errorf("want %v got %v", peer.ErrProtocolViolation, err)
	}

	msg = peer.NewHandshake([20]byte{}, peer.NewPeerID())
	_, err = peer.ReadHandshake(bytes.NewReader(msg.Bytes()[:30]))
	if !errors.Is(err, peer.ErrTruncatedMessage) {
		t.Errorf("want %v got %v", peer.ErrTruncatedMessage, err)
	}
}

func TestClientName(t *testing.T) {
	if got := peer.ClientName(peer.NewPeerID()); got != "seedbox 0.1.0" {
		t.Errorf("want %q got %q", "seedbox 0.1.0", got)
	}

	var id [20]byte
	copy(id[:], "-TR2940-abcdefghijkl")
	if got := peer.ClientName(id); got != "Transmission 2.9.4" {
		t.Errorf("want %q got %q", "Transmission 2.9.4", got)
	}

	if got := peer.ClientName([20]byte{'M'}); got != "Unknown" {
		t.Errorf("want %q got %q", "Unknown", got)
	}
}

func TestLength(t *testing.T) {
	for i, test := range []struct {
		n    uint32
		want []byte
	}{
		{0, []byte{0, 0, 0, 0}},
		{13, []byte{0, 0, 0, 13}},
		{16393, []byte{0, 0, 0x40, 0x09}},
		{0xFFFFFFFF, []byte{0xFF, 0xFF, 0xFF, 0xFF}},
	} {
		got := peer.EncodeLength(test.n)
		if !bytes.Equal(got, test.want) {
			t.Errorf("%d: EncodeLength want %v got %v", i, test.want, got)
		}

		n, err := peer.DecodeLength(got)
		if err != nil {
			t.Fatal(err)
		}

		if n != test.n {
			t.Errorf("%d: DecodeLength want %d got %d", i, test.n, n)
		}
	}

	if _, err := peer.DecodeLength([]byte{0, 0, 1}); !errors.Is(err, peer.ErrMalformedFrame) {
		t.Errorf("want %v got %v", peer.ErrMalformedFrame, err)
	}
}

func TestBlockAllByteValues(t *testing.T) {
	block := make([]byte, 256)
	for i := range block {
		block[i] = byte(i)
	}

	data := peer.BlockToBytes(block)
	if !bytes.Equal(data, block) {
		t.Fatalf("BlockToBytes changed the block")
	}

	back := peer.BytesToBlock(data)
	if !bytes.Equal(back, block) {
		t.Fatalf("BytesToBlock changed the block")
	}

	data[0] = 42
	if back[0] != 0 {
		t.Errorf("BytesToBlock must copy")
	}

	msg := peer.PieceMessage{Index: 1, Offset: 2, Piece: block}
	got, err := peer.ReadMessage(bytes.NewReader(msg.Bytes()), peer.DefaultMaxLength)
	if err != nil {
		t.Fatal(err)
	}

	piece, ok := got.(peer.PieceMessage)
	if !ok {
		t.Fatalf("want PieceMessage got %T", got)
	}

	if !bytes.Equal(piece.Piece, block) {
		t.Errorf("piece bytes were altered in transit")
	}
}

func TestMessage(t *testing.T) {
	for i, test := range []struct {
		msg       peer.Message
		wantLen   int
		wantBytes []byte
	}{
		{
			msg:       peer.KeepAliveMessage{},
			wantLen:   4,
			wantBytes: []byte{0, 0, 0, 0},
		},
		{
			msg:       peer.ChokeMessage{},
			wantLen:   5,
			wantBytes: []byte{0, 0, 0, 1, 0},
		},
		{
			msg:       peer.UnchokeMessage{},
			wantLen:   5,
			wantBytes: []byte{0, 0, 0, 1, 1},
		},
		{
			msg:       peer.InterestedMessage{},
			wantLen:   5,
			wantBytes: []byte{0, 0, 0, 1, 2},
		},
		{
			msg:       peer.NotInterestedMessage{},
			wantLen:   5,
			wantBytes: []byte{0, 0, 0, 1, 3},
		},
		{
			msg:       peer.HaveMessage{Index: 5},
			wantLen:   9,
			wantBytes: []byte{0, 0, 0, 5, 4, 0, 0, 0, 5},
		},
		{
			msg: peer.BitFieldMessage{
				BitField: []byte{1, 134, 155, 155, 0},
			},
			wantLen:   10,
			wantBytes: []byte{0, 0, 0, 6, 5, 1, 134, 155, 155, 0},
		},
		{
			msg: peer.RequestMessage{
				Index:  0,
				Offset: 1,
				Length: 134,
			},
			wantLen:   17,
			wantBytes: []byte{0, 0, 0, 13, 6, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 134},
		},
		{
			msg: peer.RequestMessage{
				Index:  3,
				Offset: 0,
				Length: 1024,
			},
			wantLen:   17,
			wantBytes: []byte{0, 0, 0, 13, 6, 0, 0, 0, 3, 0, 0, 0, 0, 0, 0, 4, 0},
		},
		{
			msg: peer.PieceMessage{
				Index:  0,
				Offset: 1,
				Piece:  []byte{1, 2, 3, 4, 5},
			},
			wantLen:   18,
			wantBytes: []byte{0, 0, 0, 14, 7, 0, 0, 0, 0, 0, 0, 0, 1, 1, 2, 3, 4, 5},
		},
		{
			msg: peer.PieceMessage{
				Index:  2,
				Offset: 0,
			},
			wantLen:   13,
			wantBytes: []byte{0, 0, 0, 9, 7, 0, 0, 0, 2, 0, 0, 0, 0},
		},
		{
			msg: peer.CancelMessage{
				Index:  0,
				Offset: 1,
				Length: 134,
			},
			wantLen:   17,
			wantBytes: []byte{0, 0, 0, 13, 8, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 134},
		},
	} {
		data := test.msg.Bytes()

		if got := len(data); got != test.wantLen {
			t.Errorf("%d: Want len %d got %d", i, test.wantLen, got)
		}

		if !bytes.Equal(data, test.wantBytes) {
			t.Errorf("%d: Want %v got %v", i, test.wantBytes, data)
		}

		got, err := peer.ReadMessage(bytes.NewReader(data), peer.DefaultMaxLength)
		if err != nil {
			t.Errorf("%d: ReadMessage: %s", i, err)
			continue
		}

		if !bytes.Equal(got.Bytes(), data) {
			t.Errorf("%d: ReadMessage want %v got %v", i, test.msg, got)
		}
	}
}

func TestReadMessageStream(t *testing.T) {
	var buf bytes.Buffer

	msgs := []peer.Message{
		peer.KeepAliveMessage{},
		peer.RequestMessage{Index: 1, Offset: 0, Length: 16},
		peer.PieceMessage{Index: 1, Offset: 0, Piece: []byte{0, 255, 10, 13}},
	}

	for _, msg := range msgs {
		if err := peer.WriteMessage(&buf, msg); err != nil {
			t.Fatal(err)
		}
	}

	for i, want := range msgs {
		got, err := peer.ReadMessage(&buf, peer.DefaultMaxLength)
		if err != nil {
			t.Fatalf("%d: %s", i, err)
		}

		if !bytes.Equal(got.Bytes(), want.Bytes()) {
			t.Errorf("%d: want %v got %v", i, want, got)
		}
	}

	if _, err := peer.ReadMessage(&buf, peer.DefaultMaxLength); err != io.EOF {
		t.Errorf("want io.EOF at end of stream got %v", err)
	}
}

func TestReadMessageErrors(t *testing.T) {
	for i, test := range []struct {
		data        []byte
		maxLength   uint32
		want        error
		recoverable bool
	}{
		{
			data:      []byte{0, 0},
			maxLength: peer.DefaultMaxLength,
			want:      peer.ErrMalformedFrame,
		},
		{
			// Request body cut short
			data:      []byte{0, 0, 0, 13, 6, 0, 0, 0, 1},
			maxLength: peer.DefaultMaxLength,
			want:      peer.ErrTruncatedMessage,
		},
		{
			data:      []byte{0, 0, 0, 200, 7},
			maxLength: 100,
			want:      peer.ErrProtocolViolation,
		},
		{
			data:        []byte{0, 0, 0, 3, 20, 1, 2},
			maxLength:   peer.DefaultMaxLength,
			want:        peer.ErrUnknownMessageType,
			recoverable: true,
		},
		{
			// Request with a 4-byte payload
			data:        []byte{0, 0, 0, 5, 6, 0, 0, 0, 1},
			maxLength:   peer.DefaultMaxLength,
			want:        peer.ErrMalformedFrame,
			recoverable: true,
		},
		{
			data:        []byte{0, 0, 0, 8, 7, 0, 0, 0, 1, 0, 0, 0},
			maxLength:   peer.DefaultMaxLength,
			want:        peer.ErrMalformedFrame,
			recoverable: true,
		},
	} {
		_, err := peer.ReadMessage(bytes.NewReader(test.data), test.maxLength)
		if !errors.Is(err, test.want) {
			t.Errorf("%d: want %v got %v", i, test.want, err)
		}

		if got := peer.Recoverable(err); got != test.recoverable {
			t.Errorf("%d: Recoverable want %v got %v", i, test.recoverable, got)
		}
	}
}

func TestUnknownMessageTypeConsumesBody(t *testing.T) {
	var buf bytes.Buffer

	buf.Write([]byte{0, 0, 0, 4, 99, 1, 2, 3})
	peer.WriteMessage(&buf, peer.HaveMessage{Index: 7})

	if _, err := peer.ReadMessage(&buf, peer.DefaultMaxLength); !errors.Is(err, peer.ErrUnknownMessageType) {
		t.Fatalf("want %v got %v", peer.ErrUnknownMessageType, err)
	}

	msg, err := peer.ReadMessage(&buf, peer.DefaultMaxLength)
	if err != nil {
		t.Fatal(err)
	}

	if have, ok := msg.(peer.HaveMessage); !ok || have.Index != 7 {
		t.Errorf("want HaveMessage{7} got %v", msg)
	}
}

type chunkWriter struct {
	bytes.Buffer
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	if len(p) > 3 {
		p = p[:3]
	}

	return w.Buffer.Write(p)
}

func TestWriteMessagePartialWrites(t *testing.T) {
	var (
		w   chunkWriter
		msg = peer.PieceMessage{Index: 9, Offset: 16, Piece: bytes.Repeat([]byte{0xAB}, 100)}
	)

	if err := peer.WriteMessage(&w, msg); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(w.Bytes(), msg.Bytes()) {
		t.Errorf("partial writes produced a different frame")
	}
}
