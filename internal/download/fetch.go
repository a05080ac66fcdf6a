package download

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/namvu9/seedbox/pkg/btorrent"
	"github.com/namvu9/seedbox/pkg/btorrent/peer"
	"github.com/namvu9/seedbox/pkg/errors"
)

// Fetcher retrieves one complete piece of a torrent from the
// peer at addr
type Fetcher interface {
	Fetch(ctx context.Context, t btorrent.Torrent, index int, addr string) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface
type FetcherFunc func(ctx context.Context, t btorrent.Torrent, index int, addr string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, t btorrent.Torrent, index int, addr string) ([]byte, error) {
	return f(ctx, t, index, addr)
}

const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultPieceTimeout = 30 * time.Second

	// maxPipeline bounds the number of block requests that
	// are outstanding on a connection
	maxPipeline = 8
)

// WireFetcher fetches pieces over the peer wire protocol. A
// connection is dialed and handshaked for every piece.
type WireFetcher struct {
	PeerID       [20]byte
	DialTimeout  time.Duration
	PieceTimeout time.Duration
	BlockLength  int
}

func (f WireFetcher) Fetch(ctx context.Context, t btorrent.Torrent, index int, addr string) ([]byte, error) {
	var op errors.Op = "(download.WireFetcher).Fetch"

	var (
		dialTimeout  = f.DialTimeout
		pieceTimeout = f.PieceTimeout
		blockLength  = f.BlockLength
	)

	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	if pieceTimeout <= 0 {
		pieceTimeout = DefaultPieceTimeout
	}
	if blockLength <= 0 {
		blockLength = peer.BlockLength
	}

	ctx, cancel := context.WithTimeout(ctx, pieceTimeout)
	defer cancel()

	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, op, errors.Network)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := peer.WriteMessage(conn, peer.NewHandshake(t.InfoHash, f.PeerID)); err != nil {
		return nil, errors.Wrap(err, op)
	}

	hs, err := peer.ReadHandshake(conn)
	if err != nil {
		return nil, errors.Wrap(err, op)
	}

	if hs.InfoHash != t.InfoHash {
		err := fmt.Errorf("%w: peer answered with info hash %x", peer.ErrProtocolViolation, hs.InfoHash)
		return nil, errors.Wrap(err, op, errors.Protocol)
	}

	data, err := readPiece(conn, t, index, blockLength)
	if err != nil {
		return nil, errors.Wrap(err, op)
	}

	return data, nil
}

// readPiece requests piece index in blocks of blockLength
// and assembles the replies
func readPiece(conn net.Conn, t btorrent.Torrent, index, blockLength int) ([]byte, error) {
	var op errors.Op = "download.readPiece"

	pieceSize := int(t.PieceSize(index))
	if pieceSize <= 0 {
		err := errors.Newf("piece %d out of range for %s", index, t.Name)
		return nil, errors.Wrap(err, op, errors.BadArgument)
	}

	var (
		buf       = make([]byte, pieceSize)
		nReceived int
		next      int

		// Offset -> length of every request not yet answered
		outstanding = make(map[int]int)
	)

	request := func() error {
		length := blockLength
		if next+length > pieceSize {
			length = pieceSize - next
		}

		msg := peer.RequestMessage{
			Index:  uint32(index),
			Offset: uint32(next),
			Length: uint32(length),
		}

		if err := peer.WriteMessage(conn, msg); err != nil {
			return err
		}

		outstanding[next] = length
		next += length

		return nil
	}

	for nReceived < pieceSize {
		for len(outstanding) < maxPipeline && next < pieceSize {
			if err := request(); err != nil {
				return nil, errors.Wrap(err, op)
			}
		}

		msg, err := peer.ReadMessage(conn, uint32(blockLength)+9)
		if err != nil {
			if peer.Recoverable(err) {
				continue
			}

			return nil, errors.Wrap(err, op)
		}

		piece, ok := msg.(peer.PieceMessage)
		if !ok || int(piece.Index) != index {
			continue
		}

		offset := int(piece.Offset)
		length, ok := outstanding[offset]
		if !ok {
			// Not requested, or already received
			continue
		}

		if len(piece.Piece) != length {
			err := fmt.Errorf("%w: got %d bytes at offset %d, requested %d", peer.ErrProtocolViolation, len(piece.Piece), offset, length)
			return nil, errors.Wrap(err, op, errors.Protocol)
		}

		copy(buf[offset:], piece.Piece)
		delete(outstanding, offset)
		nReceived += length
	}

	return buf, nil
}
