package upload

import (
	"net"
	"sync"
)

// BoundedListener limits the number of open connections
// accepted from the wrapped listener. Accept blocks while
// the limit is reached; closing an accepted connection frees
// its slot.
type BoundedListener struct {
	net.Listener

	slots     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewBoundedListener(l net.Listener, maxConns int) *BoundedListener {
	return &BoundedListener{
		Listener: l,
		slots:    make(chan struct{}, maxConns),
		done:     make(chan struct{}),
	}
}

func (bl *BoundedListener) Accept() (net.Conn, error) {
	select {
	case bl.slots <- struct{}{}:
	case <-bl.done:
		return nil, net.ErrClosed
	}

	conn, err := bl.Listener.Accept()
	if err != nil {
		<-bl.slots
		return nil, err
	}

	return &boundedConn{Conn: conn, slots: bl.slots}, nil
}

func (bl *BoundedListener) Close() error {
	bl.closeOnce.Do(func() {
		close(bl.done)
	})

	return bl.Listener.Close()
}

// Open returns the number of accepted connections that have
// not been closed
func (bl *BoundedListener) Open() int {
	return len(bl.slots)
}

type boundedConn struct {
	net.Conn
	slots chan struct{}
	once  sync.Once
}

func (c *boundedConn) Close() error {
	c.once.Do(func() {
		<-c.slots
	})

	return c.Conn.Close()
}
