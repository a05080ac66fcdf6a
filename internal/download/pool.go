package download

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Job fetches and commits one piece
type Job struct {
	Torrent string
	Index   int
	Peer    string

	run     func() error
	manager *Manager
}

// Result is the outcome of a job
type Result struct {
	Job      Job
	Err      error
	Duration time.Duration
}

// Pool runs jobs on a fixed number of workers shared by all
// torrents. A job is only accepted when it can take one of
// Size slots, so at most Size jobs run at any time. A slot is
// released before the job's result is handed over.
type Pool struct {
	size    int
	slots   chan struct{}
	jobs    chan Job
	results chan Result

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	inFlight  int64
	peak      int64
	submitted uint64
}

func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}

	p := &Pool{
		size:    workers,
		slots:   make(chan struct{}, workers),
		jobs:    make(chan Job, workers),
		results: make(chan Result, workers),
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}

	return p
}

// TrySubmit queues job for a worker without blocking. It
// returns false if every slot is taken or the pool has been
// shut down.
func (p *Pool) TrySubmit(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false
	}

	select {
	case p.slots <- struct{}{}:
	default:
		return false
	}

	n := atomic.AddInt64(&p.inFlight, 1)
	atomic.AddUint64(&p.submitted, 1)

	// Holding a slot guarantees room in the buffer
	p.jobs <- job

	for {
		peak := atomic.LoadInt64(&p.peak)
		if n <= peak || atomic.CompareAndSwapInt64(&p.peak, peak, n) {
			break
		}
	}

	return true
}

// Results delivers the result of every accepted job
func (p *Pool) Results() <-chan Result {
	return p.results
}

func (p *Pool) Size() int {
	return p.size
}

// InFlight returns the number of jobs accepted and not yet
// finished
func (p *Pool) InFlight() int {
	return int(atomic.LoadInt64(&p.inFlight))
}

// Peak returns the highest number of jobs that have been in
// flight at once
func (p *Pool) Peak() int {
	return int(atomic.LoadInt64(&p.peak))
}

// Submitted returns the number of jobs accepted so far
func (p *Pool) Submitted() uint64 {
	return atomic.LoadUint64(&p.submitted)
}

// Shutdown stops accepting jobs, waits for running jobs to
// finish and returns the results nobody has received
func (p *Pool) Shutdown() []Result {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var out []Result
	for {
		select {
		case res := <-p.results:
			out = append(out, res)
		case <-done:
			for {
				select {
				case res := <-p.results:
					out = append(out, res)
				default:
					return out
				}
			}
		}
	}
}

func (p *Pool) work() {
	defer p.wg.Done()

	for job := range p.jobs {
		start := time.Now()
		err := runJob(job)
		atomic.AddInt64(&p.inFlight, -1)
		<-p.slots

		p.results <- Result{
			Job:      job,
			Err:      err,
			Duration: time.Since(start),
		}
	}
}

func runJob(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("piece %d of %s: job panicked: %v", job.Index, job.Torrent, r)
		}
	}()

	if job.run == nil {
		return nil
	}

	return job.run()
}
