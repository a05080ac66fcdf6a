package download

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolTrySubmit(t *testing.T) {
	p := NewPool(2)
	gate := make(chan struct{})

	blocking := Job{run: func() error { <-gate; return nil }}

	// Workers need not be running yet
	require.True(t, p.TrySubmit(blocking))
	require.True(t, p.TrySubmit(blocking))

	assert.False(t, p.TrySubmit(blocking), "both workers are busy")
	assert.Equal(t, 2, p.InFlight())
	assert.Equal(t, uint64(2), p.Submitted())

	close(gate)

	for i := 0; i < 2; i++ {
		select {
		case res := <-p.Results():
			assert.NoError(t, res.Err)
		case <-time.After(time.Second):
			t.Fatal("no result")
		}
	}

	assert.Equal(t, 0, p.InFlight())
	assert.Equal(t, 2, p.Peak())
	assert.True(t, p.TrySubmit(Job{}), "slots are free once results are delivered")
	<-p.Results()
	assert.Empty(t, p.Shutdown())
	assert.False(t, p.TrySubmit(blocking))
}

func TestPoolShutdownReturnsResults(t *testing.T) {
	p := NewPool(1)

	job := Job{Index: 3, run: func() error {
		time.Sleep(10 * time.Millisecond)
		return nil
	}}
	require.True(t, p.TrySubmit(job))

	results := p.Shutdown()
	require.Len(t, results, 1)
	assert.Equal(t, 3, results[0].Job.Index)
	assert.Nil(t, p.Shutdown())
}

func TestPoolRecoversPanics(t *testing.T) {
	p := NewPool(1)
	defer p.Shutdown()

	job := Job{Torrent: "x", Index: 1, run: func() error { panic("boom") }}
	require.True(t, p.TrySubmit(job))

	res := <-p.Results()
	assert.Error(t, res.Err)
}

func TestPoolAcceptsUpToSizeImmediately(t *testing.T) {
	p := NewPool(3)
	defer p.Shutdown()

	gate := make(chan struct{})
	defer close(gate)

	for i := 0; i < 3; i++ {
		assert.True(t, p.TrySubmit(Job{Index: i, run: func() error { <-gate; return nil }}), "job %d", i)
	}

	assert.False(t, p.TrySubmit(Job{Index: 3}))
	assert.Equal(t, 3, p.InFlight())
}
