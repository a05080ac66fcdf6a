package download

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rs/zerolog/log"

	"github.com/namvu9/seedbox/internal/storage"
	"github.com/namvu9/seedbox/pkg/bits"
	"github.com/namvu9/seedbox/pkg/btorrent"
	"github.com/namvu9/seedbox/pkg/errors"
	"github.com/namvu9/seedbox/pkg/size"
)

// Status is the result of a download pass over a torrent
type Status int

const (
	NotFinished Status = iota
	Finished
)

func (s Status) String() string {
	if s == Finished {
		return "Finished"
	}

	return "NotFinished"
}

var ErrCorruptPiece = errors.New("piece failed verification")

// PeerPieceMap maps peer addresses to the indices of the
// pieces they hold
type PeerPieceMap map[string]mapset.Set[int]

// NewPeerPieceMap returns a map where every peer in addrs
// holds all pieceCount pieces
func NewPeerPieceMap(pieceCount int, addrs ...string) PeerPieceMap {
	pm := make(PeerPieceMap)

	for _, addr := range addrs {
		pieces := mapset.NewThreadUnsafeSet[int]()
		for i := 0; i < pieceCount; i++ {
			pieces.Add(i)
		}
		pm[addr] = pieces
	}

	return pm
}

// Empty reports whether no peer holds any piece
func (pm PeerPieceMap) Empty() bool {
	for _, pieces := range pm {
		if pieces != nil && pieces.Cardinality() > 0 {
			return false
		}
	}

	return true
}

// Submitter accepts jobs without blocking
type Submitter interface {
	TrySubmit(Job) bool
}

// Snapshot partitions the piece indices of a torrent
type Snapshot struct {
	Owned        []int
	InFlight     []int
	NotRequested []int
}

// Manager tracks the pieces of one torrent and issues fetch
// jobs for the missing ones
type Manager struct {
	mu sync.Mutex

	torrent btorrent.Torrent
	store   storage.Storage
	fetcher Fetcher
	pool    Submitter
	emitter chan<- interface{}

	owned    bits.BitField
	inFlight bits.BitField
	peers    PeerPieceMap

	// Per peer
	failures map[string]int
	active   map[string]int

	state      State
	downloaded int64
	failed     int
	started    time.Time
	finished   time.Time
}

func NewManager(t btorrent.Torrent, peers PeerPieceMap, store storage.Storage, fetcher Fetcher, pool Submitter, emitter chan<- interface{}) *Manager {
	m := &Manager{
		torrent:  t,
		store:    store,
		fetcher:  fetcher,
		pool:     pool,
		emitter:  emitter,
		owned:    bits.NewBitField(t.PieceCount),
		inFlight: bits.NewBitField(t.PieceCount),
		peers:    make(PeerPieceMap),
		failures: make(map[string]int),
		active:   make(map[string]int),
		state:    Queued,
	}

	for addr, pieces := range peers {
		m.peers[addr] = pieces.Clone()
	}

	return m
}

func (m *Manager) ID() string {
	return m.torrent.ID()
}

func (m *Manager) Torrent() btorrent.Torrent {
	return m.torrent
}

// DownloadNextPiece submits a fetch job for the lowest
// missing piece that is not in flight and held by some peer.
// It returns Finished once every piece is owned.
func (m *Manager) DownloadNextPiece() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.owned.Count() == m.torrent.PieceCount {
		return Finished
	}

	if m.state == Done || m.state == Stopped {
		return NotFinished
	}

	if m.started.IsZero() {
		m.started = time.Now()
	}
	if m.state == Queued {
		m.state = Downloading
	}

	for i := 0; i < m.torrent.PieceCount; i++ {
		if m.owned.Get(i) || m.inFlight.Get(i) {
			continue
		}

		addr, ok := m.pickPeer(i)
		if !ok {
			continue
		}

		m.inFlight.Set(i)
		m.active[addr]++

		if !m.pool.TrySubmit(m.job(i, addr)) {
			m.inFlight.Unset(i)
			m.active[addr]--
		}

		return NotFinished
	}

	return NotFinished
}

// pickPeer returns the peer holding piece i with the fewest
// failed fetches, then the fewest jobs in flight, then the
// lowest address
func (m *Manager) pickPeer(i int) (string, bool) {
	var candidates []string
	for addr, pieces := range m.peers {
		if pieces != nil && pieces.Contains(i) {
			candidates = append(candidates, addr)
		}
	}

	if len(candidates) == 0 {
		return "", false
	}

	sort.Slice(candidates, func(a, b int) bool {
		x, y := candidates[a], candidates[b]

		if m.failures[x] != m.failures[y] {
			return m.failures[x] < m.failures[y]
		}

		if m.active[x] != m.active[y] {
			return m.active[x] < m.active[y]
		}

		return x < y
	})

	return candidates[0], true
}

func (m *Manager) job(index int, addr string) Job {
	return Job{
		Torrent: m.torrent.ID(),
		Index:   index,
		Peer:    addr,
		manager: m,
		run: func() error {
			return m.fetch(index, addr)
		},
	}
}

// fetch runs on a pool worker
func (m *Manager) fetch(index int, addr string) error {
	var op errors.Op = "(*download.Manager).fetch"

	data, err := m.fetcher.Fetch(context.Background(), m.torrent, index, addr)
	if err != nil {
		return errors.Wrap(err, op)
	}

	if want := m.torrent.PieceSize(index); int64(len(data)) != want {
		err := fmt.Errorf("%w: piece %d has %d bytes, want %d", ErrCorruptPiece, index, len(data), want)
		return errors.Wrap(err, op, errors.Protocol)
	}

	if !m.torrent.VerifyPiece(index, data) {
		err := fmt.Errorf("%w: piece %d hash mismatch", ErrCorruptPiece, index)
		return errors.Wrap(err, op, errors.Protocol)
	}

	if err := m.store.WriteRange(m.torrent.PieceOffset(index), data); err != nil {
		return errors.Wrap(err, op, errors.IO)
	}

	return nil
}

// complete records the result of a fetch job. A failed piece
// goes back to not requested.
func (m *Manager) complete(res Result) {
	var op errors.Op = "(*download.Manager).complete"

	m.mu.Lock()
	defer m.mu.Unlock()

	index, addr := res.Job.Index, res.Job.Peer

	m.inFlight.Unset(index)
	if m.active[addr] > 0 {
		m.active[addr]--
	}

	if res.Err != nil {
		m.failures[addr]++
		m.failed++

		log.Warn().
			Str("op", op.String()).
			Str("torrent", m.torrent.Name).
			Str("peer", addr).
			Int("index", index).
			Strs("trace", errors.Ops(res.Err)).
			Err(res.Err).
			Msg("fetch failed")

		m.emit(FetchFailed{
			Torrent: m.torrent.Name,
			Index:   index,
			Peer:    addr,
			Err:     res.Err,
		})
		return
	}

	if m.owned.Get(index) {
		return
	}

	m.owned.Set(index)
	m.downloaded += m.torrent.PieceSize(index)

	log.Debug().
		Str("op", op.String()).
		Str("torrent", m.torrent.Name).
		Str("peer", addr).
		Int("index", index).
		Dur("elapsed", res.Duration).
		Msg("piece downloaded")

	m.emit(PieceDownloaded{
		Torrent: m.torrent.Name,
		Index:   index,
		Length:  int(m.torrent.PieceSize(index)),
		Peer:    addr,
		Elapsed: res.Duration,
	})
}

// SetPeerPieces replaces the set of pieces held by addr. An
// empty or nil set removes the peer.
func (m *Manager) SetPeerPieces(addr string, pieces mapset.Set[int]) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pieces == nil || pieces.Cardinality() == 0 {
		delete(m.peers, addr)
		return
	}

	m.peers[addr] = pieces.Clone()
}

// Snapshot returns the owned, in-flight and not requested
// piece indices
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Snapshot
	for i := 0; i < m.torrent.PieceCount; i++ {
		switch {
		case m.owned.Get(i):
			s.Owned = append(s.Owned, i)
		case m.inFlight.Get(i):
			s.InFlight = append(s.InFlight, i)
		default:
			s.NotRequested = append(s.NotRequested, i)
		}
	}

	return s
}

// Owned returns a copy of the owned pieces
func (m *Manager) Owned() bits.BitField {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := bits.NewBitField(m.torrent.PieceCount)
	copy(out, m.owned)

	return out
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Done || m.state == Stopped {
		return
	}

	if s == Done {
		m.finished = time.Now()
	}

	m.state = s
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Shutdown marks the manager stopped. Pieces already owned
// stay in storage.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Done {
		m.state = Stopped
	}
}

func (m *Manager) Stat() ManagerStat {
	m.mu.Lock()
	defer m.mu.Unlock()

	var elapsed time.Duration
	switch {
	case m.started.IsZero():
	case !m.finished.IsZero():
		elapsed = m.finished.Sub(m.started)
	default:
		elapsed = time.Since(m.started)
	}

	total := m.torrent.TotalLength()

	return ManagerStat{
		Name:         m.torrent.Name,
		Hash:         m.torrent.HexHash(),
		State:        m.state.String(),
		Pieces:       m.owned.Count(),
		TotalPieces:  m.torrent.PieceCount,
		Pending:      m.inFlight.Count(),
		Peers:        len(m.peers),
		Failures:     m.failed,
		Downloaded:   size.Size(m.downloaded),
		Left:         size.Size(total - m.downloaded),
		Total:        size.Size(total),
		DownloadRate: size.Rate(size.Size(m.downloaded), elapsed),
		Elapsed:      elapsed,
	}
}

func (m *Manager) emit(ev interface{}) {
	select {
	case m.emitter <- ev:
	default:
	}
}
