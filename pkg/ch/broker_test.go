package ch_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/namvu9/seedbox/pkg/ch"
)

func TestBrokerSpread(t *testing.T) {
	b := ch.NewBroker()

	a, cancelA := b.Subscribe(4)
	c, cancelC := b.Subscribe(1)
	defer cancelC()

	b.Publish(1)
	b.Publish(2)

	assert.Equal(t, 1, <-a)
	assert.Equal(t, 2, <-a)

	// c had room for one event only
	assert.Equal(t, 1, <-c)
	assert.Len(t, c, 0)

	cancelA()
	cancelA()
	_, ok := <-a
	assert.False(t, ok)

	b.Publish(3)
	assert.Equal(t, 3, <-c)
}

func TestBrokerRun(t *testing.T) {
	var (
		b      = ch.NewBroker()
		in     = make(chan interface{})
		ctx    = context.Background()
		out, _ = b.Subscribe(1)
		done   = make(chan struct{})
	)

	go func() {
		b.Run(ctx, in)
		close(done)
	}()

	in <- "event"
	assert.Equal(t, "event", <-out)

	close(in)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}

	_, ok := <-out
	assert.False(t, ok, "subscriptions are closed when Run returns")

	late, _ := b.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok)
}
