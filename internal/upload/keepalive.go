package upload

import (
	"github.com/namvu9/seedbox/pkg/btorrent/peer"
	"github.com/rs/zerolog/log"
)

// keepAlive runs the send and receive ticks until the
// service is closed
func (s *Service) keepAlive() {
	defer s.wg.Done()

	var (
		send    = s.clock.NewTicker(s.cfg.KeepAliveInterval)
		receive = s.clock.NewTicker(s.cfg.MaxKeepAliveInterval)
	)
	defer send.Stop()
	defer receive.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-send.Chan():
			s.sendKeepAlives()
		case <-receive.Chan():
			s.evictIdle()
		}
	}
}

// sendKeepAlives queues a keep-alive message for every
// tracked leech. A full outbox already carries traffic, so
// the message is skipped.
func (s *Service) sendKeepAlives() int {
	s.mu.Lock()
	leeches := make([]*leech, 0, len(s.conns))
	for _, l := range s.conns {
		leeches = append(leeches, l)
	}
	s.mu.Unlock()

	var sent int
	for _, l := range leeches {
		if l.enqueue(peer.KeepAliveMessage{}) {
			sent++
		}
	}

	return sent
}

// evictIdle removes every leech that has been silent for
// longer than the maximum keep-alive interval in one pass
// over the connection table, then closes them
func (s *Service) evictIdle() int {
	now := s.clock.Now()

	var evicted []*leech

	s.mu.Lock()
	for id, l := range s.conns {
		if l.idle(now, s.cfg.MaxKeepAliveInterval) {
			evicted = append(evicted, l)
			delete(s.conns, id)
		}
	}
	s.mu.Unlock()

	if len(evicted) > 0 {
		log.Debug().
			Str("op", "(*upload.Service).evictIdle").
			Int("count", len(evicted)).
			Msg("evicting idle leeches")
	}

	for _, l := range evicted {
		s.evict(l, "keep-alive timeout")
	}

	return len(evicted)
}
