package ch

import (
	"context"
	"sync"
)

// Broker spreads the events received on one channel to any
// number of subscribers. Slow subscribers miss events; the
// broker never blocks on them.
type Broker struct {
	mu     sync.Mutex
	subs   map[chan interface{}]struct{}
	closed bool
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[chan interface{}]struct{}),
	}
}

// Subscribe returns a channel receiving every event
// published after the call, and a function that cancels the
// subscription and closes the channel
func (b *Broker) Subscribe(size int) (<-chan interface{}, func()) {
	out := make(chan interface{}, size)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(out)
		return out, func() {}
	}

	b.subs[out] = struct{}{}

	var once sync.Once
	return out, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			if _, ok := b.subs[out]; ok {
				delete(b.subs, out)
				close(out)
			}
		})
	}
}

// Publish hands ev to every subscriber that has room for it
func (b *Broker) Publish(ev interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for out := range b.subs {
		select {
		case out <- ev:
		default:
		}
	}
}

// Run publishes the events received on in until ctx is done
// or in is closed, then closes every subscription
func (b *Broker) Run(ctx context.Context, in <-chan interface{}) {
	defer b.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			b.Publish(ev)
		}
	}
}

func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true
	for out := range b.subs {
		close(out)
		delete(b.subs, out)
	}
}
