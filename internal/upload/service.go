package upload

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/namvu9/seedbox/internal/storage"
	"github.com/namvu9/seedbox/pkg/btorrent"
	"github.com/namvu9/seedbox/pkg/btorrent/peer"
	"github.com/namvu9/seedbox/pkg/errors"
)

// ErrOutOfRange is returned for requests that extend past
// the end of the served file
var ErrOutOfRange = storage.ErrOutOfRange

const (
	DefaultKeepAliveInterval    = 30 * time.Second
	DefaultMaxKeepAliveInterval = 2 * time.Minute
	DefaultMaxConnections       = 50
)

type Config struct {
	IP   string
	Port uint16

	// MaxConnections bounds the number of concurrent leech
	// connections
	MaxConnections int

	KeepAliveInterval    time.Duration
	MaxKeepAliveInterval time.Duration
	HandshakeTimeout     time.Duration
	WriteTimeout         time.Duration

	// MaxMessageLength bounds the body length of incoming
	// messages
	MaxMessageLength uint32
	OutboxSize       int

	PeerID [20]byte
	Clock  clockwork.Clock
}

func (cfg Config) withDefaults() Config {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if cfg.MaxKeepAliveInterval <= 0 {
		cfg.MaxKeepAliveInterval = DefaultMaxKeepAliveInterval
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxMessageLength == 0 {
		cfg.MaxMessageLength = peer.DefaultMaxLength
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = 64
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	return cfg
}

// connEvent is handed from a connection's reader or writer
// goroutine to the service loop
type connEvent struct {
	l     *leech
	msg   peer.Message
	err   error
	write bool
}

// Service seeds pieces of registered torrents to any number
// of leeches. All protocol handling happens on one loop
// goroutine; per-connection goroutines only block on their
// own socket.
type Service struct {
	cfg     Config
	clock   clockwork.Clock
	store   storage.Service
	emitter chan<- interface{}

	listener *BoundedListener

	mu       sync.Mutex
	torrents map[[20]byte]btorrent.Torrent
	conns    map[uuid.UUID]*leech
	closed   bool

	events    chan connEvent
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewService(cfg Config, store storage.Service, emitter chan<- interface{}) *Service {
	cfg = cfg.withDefaults()

	return &Service{
		cfg:      cfg,
		clock:    cfg.Clock,
		store:    store,
		emitter:  emitter,
		torrents: make(map[[20]byte]btorrent.Torrent),
		conns:    make(map[uuid.UUID]*leech),
		events:   make(chan connEvent, 64),
		done:     make(chan struct{}),
	}
}

// Seed makes t available to leeches. The torrent's file must
// be complete in storage.
func (s *Service) Seed(t btorrent.Torrent) error {
	var op errors.Op = "(*upload.Service).Seed"

	if err := t.Validate(); err != nil {
		return errors.Wrap(err, op)
	}

	if !s.store.Has(t) {
		err := errors.Newf("%s: no complete file at %s", t.Name, s.store.Path(t))
		return errors.Wrap(err, op, errors.NotFound)
	}

	s.mu.Lock()
	s.torrents[t.InfoHash] = t
	s.mu.Unlock()

	log.Info().
		Str("op", op.String()).
		Str("torrent", t.Name).
		Str("hash", t.HexHash()).
		Msg("seeding")

	return nil
}

// Unseed stops serving the torrent with the given id and
// closes its leech connections
func (s *Service) Unseed(id string) error {
	var evicted []*leech

	s.mu.Lock()
	var found bool
	for hash, t := range s.torrents {
		if t.ID() == id {
			delete(s.torrents, hash)
			found = true
		}
	}

	for key, l := range s.conns {
		if l.torrent.ID() == id {
			evicted = append(evicted, l)
			delete(s.conns, key)
		}
	}
	s.mu.Unlock()

	if !found {
		err := fmt.Errorf("%w: %s", errUnknownTorrent, id)
		return errors.Wrap(err, errors.Op("(*upload.Service).Unseed"), errors.NotFound)
	}

	for _, l := range evicted {
		s.evict(l, "unseeded")
	}

	return nil
}

var errUnknownTorrent = errors.New("torrent is not seeded")

// Seeding returns the torrents currently served
func (s *Service) Seeding() []btorrent.Torrent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []btorrent.Torrent
	for _, t := range s.torrents {
		out = append(out, t)
	}

	return out
}

// Listen binds the listener and starts the accept loop, the
// service loop and the keep-alive monitor. Failing to bind
// is the only fatal error of the service.
func (s *Service) Listen(ctx context.Context) error {
	var op errors.Op = "(*upload.Service).Listen"

	addr := fmt.Sprintf("%s:%d", s.cfg.IP, s.cfg.Port)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, op, errors.Network)
	}

	s.listener = NewBoundedListener(l, s.cfg.MaxConnections)

	s.wg.Add(3)
	go s.acceptLoop()
	go s.loop()
	go s.keepAlive()

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	log.Info().
		Str("op", op.String()).
		Str("addr", s.listener.Addr().String()).
		Int("maxConnections", s.cfg.MaxConnections).
		Msg("listening for leeches")

	return nil
}

// Addr returns the address the service listens on, or nil
// before Listen
func (s *Service) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Connections returns the number of live leech connections
func (s *Service) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.conns)
}

func (s *Service) Stat() []LeechStat {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []LeechStat
	for _, l := range s.conns {
		out = append(out, LeechStat{
			ID:           l.id.String(),
			Torrent:      l.torrent.Name,
			Peer:         l.addr(),
			Client:       peer.ClientName(l.peerID),
			LastReceived: l.lastReceived,
			Served:       l.served,
		})
	}

	return out
}

// Close stops accepting connections, closes every leech
// connection and waits for the service goroutines to exit
func (s *Service) Close() error {
	var err error

	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		conns := s.conns
		s.conns = make(map[uuid.UUID]*leech)
		s.mu.Unlock()

		close(s.done)
		if s.listener != nil {
			err = s.listener.Close()
		}

		for _, l := range conns {
			l.close()
		}

		s.wg.Wait()
	})

	return err
}

func (s *Service) acceptLoop() {
	defer s.wg.Done()
	var op errors.Op = "(*upload.Service).acceptLoop"

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}

			log.Err(err).Str("op", op.String()).Msg("accept failed")
			continue
		}

		go s.accept(conn)
	}
}

// accept performs the handshake on a new connection and
// registers it in the connection table
func (s *Service) accept(conn net.Conn) {
	var op errors.Op = "(*upload.Service).accept"

	l, err := s.handshake(conn)
	if err != nil {
		log.Debug().
			Str("op", op.String()).
			Str("peer", conn.RemoteAddr().String()).
			Err(err).
			Msg("handshake failed")
		conn.Close()
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		l.close()
		return
	}
	s.conns[l.id] = l
	s.mu.Unlock()

	go s.read(l)
	go s.write(l)

	log.Info().
		Str("op", op.String()).
		Str("peer", l.addr()).
		Str("torrent", l.torrent.Name).
		Str("client", peer.ClientName(l.peerID)).
		Msg("leech joined")

	s.emit(LeechJoined{
		ID:      l.id.String(),
		Torrent: l.torrent.Name,
		Peer:    l.addr(),
		Client:  peer.ClientName(l.peerID),
	})
}

func (s *Service) handshake(conn net.Conn) (*leech, error) {
	var op errors.Op = "(*upload.Service).handshake"

	conn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	msg, err := peer.ReadHandshake(conn)
	if err != nil {
		return nil, errors.Wrap(err, op)
	}

	s.mu.Lock()
	t, ok := s.torrents[msg.InfoHash]
	s.mu.Unlock()

	if !ok {
		err := fmt.Errorf("%w: info hash %x", errUnknownTorrent, msg.InfoHash)
		return nil, errors.Wrap(err, op, errors.NotFound)
	}

	file, err := s.store.OpenReader(t)
	if err != nil {
		return nil, errors.Wrap(err, op)
	}

	if err := peer.WriteMessage(conn, peer.NewHandshake(t.InfoHash, s.cfg.PeerID)); err != nil {
		file.Close()
		return nil, errors.Wrap(err, op)
	}

	return newLeech(conn, t, file, msg.PeerID, s.cfg.OutboxSize), nil
}

// read frames messages off the leech's socket and hands
// them to the service loop
func (s *Service) read(l *leech) {
	for {
		msg, err := peer.ReadMessage(l.conn, s.cfg.MaxMessageLength)

		select {
		case s.events <- connEvent{l: l, msg: msg, err: err}:
		case <-l.done:
			return
		case <-s.done:
			return
		}

		if err != nil && !peer.Recoverable(err) {
			return
		}
	}
}

// write drains the leech's outbox
func (s *Service) write(l *leech) {
	for {
		select {
		case <-l.done:
			return
		case msg := <-l.outbox:
			l.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))

			err := peer.WriteMessage(l.conn, msg)
			if err == nil {
				continue
			}

			if _, ok := msg.(peer.KeepAliveMessage); ok {
				// Left for the receive tick
				log.Debug().
					Str("op", "(*upload.Service).write").
					Str("peer", l.addr()).
					Err(err).
					Msg("keep-alive failed")
				continue
			}

			select {
			case s.events <- connEvent{l: l, err: err, write: true}:
			case <-l.done:
			case <-s.done:
			}
			return
		}
	}
}

func (s *Service) loop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

func (s *Service) handle(ev connEvent) {
	var op errors.Op = "(*upload.Service).handle"

	if !s.tracked(ev.l) {
		return
	}

	if ev.err != nil {
		if ev.write {
			s.remove(ev.l, "write failed")
			return
		}

		if errors.IsEOF(ev.err) {
			s.remove(ev.l, "closed by peer")
			return
		}

		if !peer.Recoverable(ev.err) {
			log.Debug().
				Str("op", op.String()).
				Str("peer", ev.l.addr()).
				Err(ev.err).
				Msg("read failed")
			s.remove(ev.l, ev.err.Error())
			return
		}

		log.Warn().
			Str("op", op.String()).
			Str("peer", ev.l.addr()).
			Err(ev.err).
			Msg("discarding message")
	}

	s.touch(ev.l)

	if msg, ok := ev.msg.(peer.RequestMessage); ok {
		s.handleRequest(ev.l, msg)
	}
}

func (s *Service) handleRequest(l *leech, msg peer.RequestMessage) {
	var op errors.Op = "(*upload.Service).handleRequest"

	block, err := s.readBlock(l, msg)
	if err != nil {
		log.Warn().
			Str("op", op.String()).
			Str("peer", l.addr()).
			Str("torrent", l.torrent.Name).
			Str("request", msg.String()).
			Err(err).
			Msg("dropping request")
		return
	}

	reply := peer.PieceMessage{
		Index:  msg.Index,
		Offset: msg.Offset,
		Piece:  block,
	}

	if !l.enqueue(reply) {
		log.Warn().
			Str("op", op.String()).
			Str("peer", l.addr()).
			Str("request", msg.String()).
			Msg("outbox full, dropping reply")
		return
	}

	s.mu.Lock()
	l.served++
	s.mu.Unlock()

	s.emit(PieceServed{
		Torrent: l.torrent.Name,
		Peer:    l.addr(),
		Index:   int(msg.Index),
		Offset:  int(msg.Offset),
		Length:  len(block),
	})
}

// readBlock reads the requested range of the leech's file
func (s *Service) readBlock(l *leech, msg peer.RequestMessage) ([]byte, error) {
	var op errors.Op = "(*upload.Service).readBlock"

	maxBlock := s.cfg.MaxMessageLength - 9
	if int(msg.Index) >= l.torrent.PieceCount || msg.Length > maxBlock {
		err := fmt.Errorf("%w: %s", ErrOutOfRange, msg)
		return nil, errors.Wrap(err, op, errors.BadArgument)
	}

	offset := l.torrent.PieceOffset(int(msg.Index)) + int64(msg.Offset)
	block, err := l.file.ReadRange(offset, int(msg.Length))
	if err != nil {
		return nil, errors.Wrap(err, op)
	}

	return block, nil
}

func (s *Service) tracked(l *leech) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.conns[l.id]
	return ok
}

func (s *Service) touch(l *leech) {
	s.mu.Lock()
	l.lastReceived = s.clock.Now()
	s.mu.Unlock()
}

// remove deletes l from the connection table and closes it
func (s *Service) remove(l *leech, reason string) {
	s.mu.Lock()
	_, ok := s.conns[l.id]
	delete(s.conns, l.id)
	s.mu.Unlock()

	if ok {
		s.evict(l, reason)
	}
}

// evict closes a leech that is no longer in the connection
// table
func (s *Service) evict(l *leech, reason string) {
	l.close()

	log.Info().
		Str("op", "(*upload.Service).evict").
		Str("peer", l.addr()).
		Str("torrent", l.torrent.Name).
		Str("reason", reason).
		Msg("leech removed")

	s.emit(LeechEvicted{
		ID:      l.id.String(),
		Torrent: l.torrent.Name,
		Peer:    l.addr(),
		Reason:  reason,
	})
}

func (s *Service) emit(ev interface{}) {
	select {
	case s.emitter <- ev:
	default:
	}
}
