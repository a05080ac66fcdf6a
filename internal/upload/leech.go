package upload

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/namvu9/seedbox/internal/storage"
	"github.com/namvu9/seedbox/pkg/btorrent"
	"github.com/namvu9/seedbox/pkg/btorrent/peer"
)

// leech is a connection to a peer downloading from us.
// lastReceived and served are guarded by the service's
// mutex.
type leech struct {
	id      uuid.UUID
	conn    net.Conn
	torrent btorrent.Torrent
	file    storage.Storage
	peerID  [20]byte

	lastReceived time.Time
	served       int

	outbox    chan peer.Message
	done      chan struct{}
	closeOnce sync.Once
}

func newLeech(conn net.Conn, t btorrent.Torrent, file storage.Storage, peerID [20]byte, outboxSize int) *leech {
	return &leech{
		id:      uuid.New(),
		conn:    conn,
		torrent: t,
		file:    file,
		peerID:  peerID,
		outbox:  make(chan peer.Message, outboxSize),
		done:    make(chan struct{}),
	}
}

// idle reports whether nothing has been received from the
// leech for longer than max. A leech that has not sent
// anything yet is never idle.
func (l *leech) idle(now time.Time, max time.Duration) bool {
	if l.lastReceived.IsZero() {
		return false
	}

	return now.Sub(l.lastReceived) > max
}

func (l *leech) addr() string {
	if l.conn == nil || l.conn.RemoteAddr() == nil {
		return ""
	}

	return l.conn.RemoteAddr().String()
}

// enqueue queues msg for the writer without blocking
func (l *leech) enqueue(msg peer.Message) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.outbox <- msg:
		return true
	default:
		return false
	}
}

func (l *leech) close() {
	l.closeOnce.Do(func() {
		close(l.done)
		l.conn.Close()
		if l.file != nil {
			l.file.Close()
		}
	})
}

// LeechStat describes one live leech connection
type LeechStat struct {
	ID           string    `json:"id"`
	Torrent      string    `json:"torrent"`
	Peer         string    `json:"peer"`
	Client       string    `json:"client"`
	LastReceived time.Time `json:"lastReceived"`
	Served       int       `json:"served"`
}
