package download

import (
	"fmt"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/namvu9/seedbox/internal/storage"
	"github.com/namvu9/seedbox/pkg/btorrent"
	"github.com/namvu9/seedbox/pkg/errors"
)

var (
	ErrNoSeeds          = errors.New("no seeds available")
	ErrUnknownTorrent   = errors.New("unknown torrent")
	ErrDuplicateTorrent = errors.New("torrent already added")
	ErrQueueFull        = errors.New("admission queue is full")
	ErrShutdown         = errors.New("scheduler is shut down")
)

const (
	DefaultWorkers      = 8
	DefaultQueueSize    = 100
	DefaultIdleInterval = time.Second
)

type Config struct {
	// Workers is the number of fetch jobs that may run at
	// once across all torrents
	Workers int

	// QueueSize bounds the number of torrents waiting to be
	// picked up by a running loop
	QueueSize int

	// IdleInterval is how long the loop waits when a pass
	// dispatched nothing and no result arrived
	IdleInterval time.Duration

	Clock clockwork.Clock
}

func (cfg Config) withDefaults() Config {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = DefaultIdleInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	return cfg
}

// Scheduler downloads any number of torrents using one pool
// of workers. Torrents added while the loop runs are handed
// to it through a bounded queue; the active list is only
// touched by the loop while it runs.
type Scheduler struct {
	cfg     Config
	clock   clockwork.Clock
	pool    *Pool
	store   storage.Service
	fetcher Fetcher
	emitter chan<- interface{}

	pending chan *Manager
	wake    chan struct{}
	quit    chan struct{}

	mu       sync.Mutex
	running  bool
	closed   bool
	loopDone chan struct{}
	registry map[string]*Manager
	retired  map[string]*Manager
	paused   map[string]bool

	active []*Manager
}

func NewScheduler(cfg Config, store storage.Service, fetcher Fetcher, emitter chan<- interface{}) *Scheduler {
	cfg = cfg.withDefaults()

	return &Scheduler{
		cfg:      cfg,
		clock:    cfg.Clock,
		pool:     NewPool(cfg.Workers),
		store:    store,
		fetcher:  fetcher,
		emitter:  emitter,
		pending:  make(chan *Manager, cfg.QueueSize),
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		registry: make(map[string]*Manager),
		retired:  make(map[string]*Manager),
		paused:   make(map[string]bool),
	}
}

// AddTorrent registers t for download from the given peers
func (s *Scheduler) AddTorrent(t btorrent.Torrent, peers PeerPieceMap) error {
	var op errors.Op = "(*download.Scheduler).AddTorrent"

	if err := t.Validate(); err != nil {
		return errors.Wrap(err, op)
	}

	if peers.Empty() {
		err := fmt.Errorf("%w: %s", ErrNoSeeds, t.ID())
		return errors.Wrap(err, op, errors.BadArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.Wrap(ErrShutdown, op)
	}

	if _, ok := s.registry[t.ID()]; ok {
		err := fmt.Errorf("%w: %s", ErrDuplicateTorrent, t.ID())
		return errors.Wrap(err, op, errors.BadArgument)
	}

	file, err := s.store.Open(t)
	if err != nil {
		return errors.Wrap(err, op)
	}

	m := NewManager(t, peers, file, s.fetcher, s.pool, s.emitter)

	if !s.running {
		s.active = append(s.active, m)
	} else {
		select {
		case s.pending <- m:
			s.notify()
		default:
			err := fmt.Errorf("%w: %s", ErrQueueFull, t.ID())
			return errors.Wrap(err, op)
		}
	}

	s.registry[t.ID()] = m
	delete(s.retired, t.ID())

	log.Info().
		Str("op", op.String()).
		Str("torrent", t.Name).
		Int("pieces", t.PieceCount).
		Int("peers", len(peers)).
		Msg("torrent added")

	return nil
}

// Start launches the scheduling loop unless it is already
// running
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || s.closed {
		return
	}

	s.running = true
	s.loopDone = make(chan struct{})

	go s.loop(s.loopDone)
}

// Stop pauses the torrent with the given id. Jobs already
// running are allowed to complete.
func (s *Scheduler) Stop(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.registry[id]
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownTorrent, id)
		return errors.Wrap(err, errors.Op("(*download.Scheduler).Stop"), errors.NotFound)
	}

	s.paused[id] = true
	m.setState(Paused)

	return nil
}

// Resume un-pauses the torrent with the given id
func (s *Scheduler) Resume(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.registry[id]
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownTorrent, id)
		return errors.Wrap(err, errors.Op("(*download.Scheduler).Resume"), errors.NotFound)
	}

	delete(s.paused, id)
	m.setState(Downloading)
	s.notify()

	return nil
}

// SetPeerPieces updates the pieces held by addr for the
// torrent with the given id
func (s *Scheduler) SetPeerPieces(id, addr string, pieces mapset.Set[int]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.registry[id]
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownTorrent, id)
		return errors.Wrap(err, errors.Op("(*download.Scheduler).SetPeerPieces"), errors.NotFound)
	}

	m.SetPeerPieces(addr, pieces)
	s.notify()

	return nil
}

// Shutdown stops admissions and the loop, waits for running
// jobs to finish and records their results, then tears down
// every manager
func (s *Scheduler) Shutdown() {
	var op errors.Op = "(*download.Scheduler).Shutdown"

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	running, done := s.running, s.loopDone
	s.mu.Unlock()

	close(s.quit)
	if running {
		<-done
	}

	results := s.pool.Shutdown()
	for _, res := range results {
		s.apply(res)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, m := range s.registry {
		m.Shutdown()
		delete(s.registry, id)
		s.retired[id] = m
	}
	s.active = nil

	log.Info().
		Str("op", op.String()).
		Int("drained", len(results)).
		Msg("scheduler shut down")
}

// Running reports whether the scheduling loop is running
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// Pool returns the worker pool shared by all torrents
func (s *Scheduler) Pool() *Pool {
	return s.pool
}

// Manager returns the manager of a registered or finished
// torrent
func (s *Scheduler) Manager(id string) (*Manager, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.registry[id]; ok {
		return m, true
	}

	m, ok := s.retired[id]
	return m, ok
}

func (s *Scheduler) Stat(id string) (ManagerStat, error) {
	m, ok := s.Manager(id)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownTorrent, id)
		return ManagerStat{}, errors.Wrap(err, errors.Op("(*download.Scheduler).Stat"), errors.NotFound)
	}

	return m.Stat(), nil
}

// Stats returns the stats of every registered and finished
// torrent
func (s *Scheduler) Stats() []ManagerStat {
	s.mu.Lock()
	managers := make([]*Manager, 0, len(s.registry)+len(s.retired))
	for _, m := range s.registry {
		managers = append(managers, m)
	}
	for _, m := range s.retired {
		managers = append(managers, m)
	}
	s.mu.Unlock()

	out := make([]ManagerStat, 0, len(managers))
	for _, m := range managers {
		out = append(out, m.Stat())
	}

	return out
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(done chan struct{}) {
	defer close(done)

	log.Debug().Str("op", "(*download.Scheduler).loop").Msg("scheduling loop started")

	for {
		select {
		case <-s.quit:
			s.stopLoop()
			return
		default:
		}

		s.admit()

		var (
			before   = s.pool.Submitted()
			retiring = s.sweep()
		)

		s.retire(retiring)
		applied := s.applyCompleted()

		if len(s.active) == 0 {
			s.mu.Lock()
			if len(s.pending) == 0 {
				s.running = false
				s.mu.Unlock()

				log.Debug().Str("op", "(*download.Scheduler).loop").Msg("no active torrents, loop exiting")
				return
			}
			s.mu.Unlock()
			continue
		}

		if s.pool.Submitted() != before || applied > 0 {
			continue
		}

		select {
		case res := <-s.pool.Results():
			s.apply(res)
		case <-s.wake:
		case <-s.clock.After(s.cfg.IdleInterval):
		case <-s.quit:
			s.stopLoop()
			return
		}
	}
}

func (s *Scheduler) stopLoop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Torrents admitted but never picked up remain
	// registered and are torn down by Shutdown
	for {
		select {
		case m := <-s.pending:
			s.active = append(s.active, m)
		default:
			s.running = false
			return
		}
	}
}

// admit moves queued torrents to the active list
func (s *Scheduler) admit() {
	for {
		select {
		case m := <-s.pending:
			s.active = append(s.active, m)
		default:
			return
		}
	}
}

// sweep asks every active, non-paused torrent for one more
// piece and returns the finished ones
func (s *Scheduler) sweep() []*Manager {
	var finished []*Manager

	for _, m := range s.active {
		if s.isPaused(m.ID()) {
			continue
		}

		if m.DownloadNextPiece() == Finished {
			finished = append(finished, m)
		}
	}

	return finished
}

func (s *Scheduler) isPaused(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.paused[id]
}

func (s *Scheduler) retire(finished []*Manager) {
	if len(finished) == 0 {
		return
	}

	done := make(map[*Manager]bool, len(finished))
	for _, m := range finished {
		done[m] = true
	}

	active := s.active[:0]
	for _, m := range s.active {
		if !done[m] {
			active = append(active, m)
		}
	}
	for i := len(active); i < len(s.active); i++ {
		s.active[i] = nil
	}
	s.active = active

	for _, m := range finished {
		m.setState(Done)

		s.mu.Lock()
		delete(s.registry, m.ID())
		delete(s.paused, m.ID())
		s.retired[m.ID()] = m
		s.mu.Unlock()

		if err := s.store.Release(m.Torrent()); err != nil {
			log.Warn().
				Str("op", "(*download.Scheduler).retire").
				Str("torrent", m.ID()).
				Err(err).
				Msg("could not release storage")
		}

		stat := m.Stat()

		log.Info().
			Str("op", "(*download.Scheduler).retire").
			Str("torrent", m.ID()).
			Dur("elapsed", stat.Elapsed).
			Str("rate", stat.DownloadRate.String()+"/s").
			Msg("torrent finished")

		select {
		case s.emitter <- TorrentFinished{Torrent: m.ID(), Pieces: stat.TotalPieces, Elapsed: stat.Elapsed}:
		default:
		}
	}
}

// applyCompleted records every result available without
// blocking
func (s *Scheduler) applyCompleted() int {
	var n int

	for {
		select {
		case res := <-s.pool.Results():
			s.apply(res)
			n++
		default:
			return n
		}
	}
}

func (s *Scheduler) apply(res Result) {
	if res.Job.manager != nil {
		res.Job.manager.complete(res)
	}
}
