package download_test

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namvu9/seedbox/internal/download"
	"github.com/namvu9/seedbox/pkg/btorrent"
	"github.com/namvu9/seedbox/pkg/btorrent/peer"
)

// fakeSeed answers requests for data over the wire protocol
// with the given info hash. It sends a keep-alive and an
// unknown message before the first piece.
func fakeSeed(t *testing.T, infoHash [20]byte, torrent btorrent.Torrent, data []byte) string {
	t.Helper()

	return scriptedSeed(t, infoHash, func(conn net.Conn, req peer.RequestMessage) {
		offset := torrent.PieceOffset(int(req.Index)) + int64(req.Offset)
		peer.WriteMessage(conn, peer.PieceMessage{
			Index:  req.Index,
			Offset: req.Offset,
			Piece:  data[offset : offset+int64(req.Length)],
		})
	})
}

// scriptedSeed handshakes with the given info hash and calls
// reply for every request it receives
func scriptedSeed(t *testing.T, infoHash [20]byte, reply func(net.Conn, peer.RequestMessage)) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}

			go func(conn net.Conn) {
				defer conn.Close()

				if _, err := peer.ReadHandshake(conn); err != nil {
					return
				}

				peer.WriteMessage(conn, peer.NewHandshake(infoHash, peer.NewPeerID()))
				peer.WriteMessage(conn, peer.KeepAliveMessage{})
				conn.Write([]byte{0, 0, 0, 1, 42})

				for {
					msg, err := peer.ReadMessage(conn, peer.DefaultMaxLength)
					if err != nil {
						return
					}

					req, ok := msg.(peer.RequestMessage)
					if !ok {
						continue
					}

					reply(conn, req)
				}
			}(conn)
		}
	}()

	return l.Addr().String()
}

func TestWireFetcher(t *testing.T) {
	data := make([]byte, 45)
	for i := range data {
		data[i] = byte(255 - i)
	}

	torrent, err := btorrent.Create("wire.bin", data, 20)
	require.NoError(t, err)

	addr := fakeSeed(t, torrent.InfoHash, torrent, data)
	fetcher := download.WireFetcher{
		PeerID:       peer.NewPeerID(),
		PieceTimeout: 5 * time.Second,
		BlockLength:  6,
	}

	for i := 0; i < torrent.PieceCount; i++ {
		piece, err := fetcher.Fetch(context.Background(), torrent, i, addr)
		require.NoError(t, err)

		offset := torrent.PieceOffset(i)
		assert.Equal(t, data[offset:offset+torrent.PieceSize(i)], piece)
		assert.True(t, torrent.VerifyPiece(i, piece))
	}
}

func TestWireFetcherInfoHashMismatch(t *testing.T) {
	torrent := btorrent.New("a", 1, 4)
	addr := fakeSeed(t, [20]byte{9}, torrent, make([]byte, 4))

	_, err := download.WireFetcher{PieceTimeout: time.Second}.Fetch(context.Background(), torrent, 0, addr)
	assert.Error(t, err)
}

func TestWireFetcherUnreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	torrent := btorrent.New("a", 1, 4)
	_, err = download.WireFetcher{DialTimeout: time.Second}.Fetch(context.Background(), torrent, 0, addr)
	assert.Error(t, err)
}

func TestWireFetcherRejectsMisalignedBlocks(t *testing.T) {
	block := func(offset, n int) peer.PieceMessage {
		return peer.PieceMessage{Offset: uint32(offset), Piece: bytes.Repeat([]byte{0xaa}, n)}
	}

	tests := []struct {
		name  string
		reply []peer.PieceMessage
	}{
		// Bytes 24-31 are never sent
		{"overlapping", []peer.PieceMessage{block(0, 16), block(8, 16)}},
		{"short", []peer.PieceMessage{block(0, 8), block(8, 8), block(16, 16)}},
		{"long", []peer.PieceMessage{block(0, 24), block(16, 16)}},
		{"unrequested offset", []peer.PieceMessage{block(4, 16), block(16, 16)}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			torrent := btorrent.New("gaps.bin", 1, 32)

			var sent bool
			addr := scriptedSeed(t, torrent.InfoHash, func(conn net.Conn, req peer.RequestMessage) {
				if sent {
					return
				}
				sent = true

				for _, msg := range test.reply {
					peer.WriteMessage(conn, msg)
				}
			})

			fetcher := download.WireFetcher{
				PieceTimeout: 500 * time.Millisecond,
				BlockLength:  16,
			}

			data, err := fetcher.Fetch(context.Background(), torrent, 0, addr)
			assert.Error(t, err)
			assert.Nil(t, data)
		})
	}
}
