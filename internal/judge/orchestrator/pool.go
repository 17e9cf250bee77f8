package orchestrator

import (
	"os"
	"sync"
)

// testingEnvSet reports whether the TESTING environment flag is set,
// which switches judging to in-caller execution so tests can assert on
// final state without polling.
func testingEnvSet() bool {
	return os.Getenv("TESTING") != ""
}

// pool is a bounded worker pool: a fixed number of judge workers
// draining one job channel. Submissions queue as ids; each worker
// judges sequentially so per-submission time measurement stays
// meaningful.
type pool struct {
	jobs    chan string
	workers int
	handle  func(submissionID string)

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func newPool(workers, queueSize int, handle func(string)) *pool {
	return &pool{
		jobs:    make(chan string, queueSize),
		workers: workers,
		handle:  handle,
	}
}

func (p *pool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				for submissionID := range p.jobs {
					p.handle(submissionID)
				}
			}()
		}
	})
}

// TrySubmit enqueues without blocking; false means the queue is full.
func (p *pool) TrySubmit(submissionID string) bool {
	select {
	case p.jobs <- submissionID:
		return true
	default:
		return false
	}
}

// Stop closes the queue and waits for in-flight judges to finish.
func (p *pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.jobs)
	})
	p.wg.Wait()
}
