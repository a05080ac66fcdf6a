package session

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/namvu9/seedbox/internal/download"
	"github.com/namvu9/seedbox/internal/metrics"
	"github.com/namvu9/seedbox/internal/storage"
	"github.com/namvu9/seedbox/internal/upload"
	"github.com/namvu9/seedbox/pkg/btorrent"
	"github.com/namvu9/seedbox/pkg/btorrent/peer"
	"github.com/namvu9/seedbox/pkg/ch"
	"github.com/namvu9/seedbox/pkg/errors"
)

// Session represents an instance of the client. It downloads
// torrents with one scheduler, seeds them with one upload
// service and fans their progress events out to subscribers.
type Session struct {
	cfg       Config
	peerID    [20]byte
	startedAt time.Time

	store     storage.Service
	scheduler *download.Scheduler
	upload    *upload.Service
	metrics   *metrics.Metrics
	broker    *ch.Broker

	events chan interface{}
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	torrents map[string]btorrent.Torrent
	closed   bool
}

func New(cfg Config) *Session {
	cfg = cfg.withDefaults()

	var (
		peerID = peer.NewPeerID()
		events = make(chan interface{}, cfg.EventBuffer)
		store  = storage.NewService(storage.Config{BaseDir: cfg.DownloadDir})
	)

	fetcher := download.WireFetcher{
		PeerID:       peerID,
		PieceTimeout: cfg.PieceTimeout,
	}

	scheduler := download.NewScheduler(download.Config{
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
		Clock:     cfg.Clock,
	}, store, fetcher, events)

	up := upload.NewService(upload.Config{
		IP:                   cfg.IP,
		Port:                 cfg.Port,
		MaxConnections:       cfg.MaxConnections,
		KeepAliveInterval:    cfg.KeepAliveInterval,
		MaxKeepAliveInterval: cfg.MaxKeepAliveInterval,
		PeerID:               peerID,
		Clock:                cfg.Clock,
	}, store, events)

	return &Session{
		cfg:       cfg,
		peerID:    peerID,
		store:     store,
		scheduler: scheduler,
		upload:    up,
		metrics:   metrics.New(),
		broker:    ch.NewBroker(),
		events:    events,
		torrents:  make(map[string]btorrent.Torrent),
	}
}

// Init binds the seeding listener, starts the event pump and
// seeds every complete torrent found in the base directory
func (s *Session) Init(ctx context.Context) error {
	var op errors.Op = "(*session.Session).Init"

	for _, dir := range []string{s.cfg.BaseDir, s.cfg.DownloadDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, op, errors.IO)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.startedAt = time.Now()

	if err := s.upload.Listen(ctx); err != nil {
		cancel()
		return errors.Wrap(err, op)
	}

	s.wg.Add(1)
	go s.handleEvents(ctx)

	if err := s.loadTorrents(); err != nil {
		log.Warn().
			Str("op", op.String()).
			Str("dir", s.cfg.BaseDir).
			Err(err).
			Msg("could not load torrents")
	}

	if s.cfg.ForwardPort {
		s.forwardPort()
	}

	return nil
}

func (s *Session) handleEvents(ctx context.Context) {
	defer s.wg.Done()
	defer s.broker.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-s.events:
			if v, ok := event.(download.TorrentFinished); ok {
				s.handleTorrentFinished(v)
			}

			s.metrics.Observe(event)
			s.broker.Publish(event)
		}
	}
}

func (s *Session) handleTorrentFinished(ev download.TorrentFinished) {
	m, ok := s.scheduler.Manager(ev.Torrent)
	if !ok {
		return
	}

	if err := s.upload.Seed(m.Torrent()); err != nil {
		log.Err(err).
			Str("op", "(*session.Session).handleTorrentFinished").
			Str("torrent", ev.Torrent).
			Msg("could not seed finished torrent")
	}
}

func (s *Session) loadTorrents() error {
	torrents, err := btorrent.LoadDir(s.cfg.BaseDir)
	if err != nil {
		return err
	}

	for _, t := range torrents {
		if !s.complete(t) {
			log.Info().
				Str("op", "(*session.Session).loadTorrents").
				Str("torrent", t.Name).
				Msg("skipping incomplete torrent")
			continue
		}

		s.track(t)
		if err := s.upload.Seed(t); err != nil {
			return err
		}
	}

	return nil
}

// complete reports whether the data of t is present in the
// download directory and, if t carries piece hashes, that
// every piece verifies
func (s *Session) complete(t btorrent.Torrent) bool {
	if !s.store.Has(t) {
		return false
	}

	if len(t.Hashes) == 0 {
		return true
	}

	r, err := s.store.OpenReader(t)
	if err != nil {
		return false
	}
	defer r.Close()

	for i := 0; i < t.PieceCount; i++ {
		data, err := r.ReadRange(t.PieceOffset(i), int(t.PieceSize(i)))
		if err != nil || !t.VerifyPiece(i, data) {
			return false
		}
	}

	return true
}

func (s *Session) forwardPort() {
	var op errors.Op = "(*session.Session).forwardPort"

	addr, ok := s.upload.Addr().(*net.TCPAddr)
	if !ok {
		return
	}

	if err := s.cfg.Ports.Forward(uint16(addr.Port)); err != nil {
		log.Warn().
			Str("op", op.String()).
			Int("port", addr.Port).
			Err(err).
			Msg("port forwarding failed")
		return
	}

	ip, err := s.cfg.Ports.ExternalIP()
	if err != nil {
		return
	}

	log.Info().
		Str("op", op.String()).
		Str("addr", fmt.Sprintf("%s:%d", ip, addr.Port)).
		Msg("seeding port forwarded")
}

func (s *Session) track(t btorrent.Torrent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.torrents[t.ID()] = t
}

// register saves the metainfo of t in the base directory so
// that it is seeded again by later sessions. Torrents without
// piece hashes have no metainfo file.
func (s *Session) register(t btorrent.Torrent) error {
	s.track(t)

	if len(t.Hashes) == 0 {
		return nil
	}

	location := filepath.Join(s.cfg.BaseDir, fmt.Sprintf("%s.torrent", t.HexHash()))
	if _, err := os.Stat(location); err == nil {
		return nil
	}

	if err := btorrent.Save(location, t); err != nil {
		return errors.Wrap(err, errors.Op("(*session.Session).register"), errors.IO)
	}

	return nil
}

// Download adds t to the scheduler, fetching its pieces from
// the given peers, and starts the scheduling loop
func (s *Session) Download(t btorrent.Torrent, peers download.PeerPieceMap) error {
	var op errors.Op = "(*session.Session).Download"

	if err := s.register(t); err != nil {
		return errors.Wrap(err, op)
	}

	if err := s.scheduler.AddTorrent(t, peers); err != nil {
		return errors.Wrap(err, op)
	}

	s.scheduler.Start()

	return nil
}

// Seed serves t from the download directory
func (s *Session) Seed(t btorrent.Torrent) error {
	var op errors.Op = "(*session.Session).Seed"

	if err := s.register(t); err != nil {
		return errors.Wrap(err, op)
	}

	if err := s.upload.Seed(t); err != nil {
		return errors.Wrap(err, op)
	}

	return nil
}

// Pause stops requesting pieces of the torrent with the
// given id
func (s *Session) Pause(id string) error {
	return s.scheduler.Stop(id)
}

func (s *Session) Resume(id string) error {
	return s.scheduler.Resume(id)
}

// Torrent returns a torrent known to the session
func (s *Session) Torrent(id string) (btorrent.Torrent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.torrents[id]
	return t, ok
}

// Subscribe returns a channel of progress events and a
// function that ends the subscription. Events are dropped
// when the channel is full.
func (s *Session) Subscribe(size int) (<-chan interface{}, func()) {
	return s.broker.Subscribe(size)
}

func (s *Session) Stats() Stat {
	var stat Stat

	if addr := s.upload.Addr(); addr != nil {
		stat.Addr = addr.String()
	}
	if !s.startedAt.IsZero() {
		stat.Uptime = time.Since(s.startedAt)
	}

	stat.Downloads = s.scheduler.Stats()
	sort.Slice(stat.Downloads, func(i, j int) bool {
		return stat.Downloads[i].Name < stat.Downloads[j].Name
	})

	stat.Leeches = s.upload.Stat()

	leeches := make(map[string]int)
	for _, l := range stat.Leeches {
		leeches[l.Torrent]++
	}

	for _, t := range s.upload.Seeding() {
		stat.Seeding = append(stat.Seeding, SeedStat{
			Name:    t.Name,
			Hash:    t.HexHash(),
			Pieces:  t.PieceCount,
			Size:    sizeOf(t),
			Leeches: leeches[t.ID()],
		})
	}
	sort.Slice(stat.Seeding, func(i, j int) bool {
		return stat.Seeding[i].Name < stat.Seeding[j].Name
	})

	return stat
}

// Addr returns the address leeches connect to
func (s *Session) Addr() net.Addr {
	return s.upload.Addr()
}

func (s *Session) PeerID() [20]byte {
	return s.peerID
}

func (s *Session) Metrics() *metrics.Metrics {
	return s.metrics
}

// Close shuts the scheduler down, closes every leech
// connection and releases the storage
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs errors.Errors

	s.scheduler.Shutdown()

	if err := s.upload.Close(); err != nil {
		errs = append(errs, err)
	}

	if s.cfg.ForwardPort {
		if err := s.cfg.Ports.Clear(); err != nil {
			errs = append(errs, err)
		}
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	if err := s.store.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Wrap(errs, errors.Op("(*session.Session).Close"))
	}

	return nil
}
