// Package dispatcher manages worker fan-out over the mod queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/moditems-crawler/internal/crawler"
	"github.com/JakeFAU/moditems-crawler/internal/worker"
)

// Queue is a crawler.Queue that can signal that no more items will arrive.
type Queue interface {
	crawler.Queue
	Close()
}

// Runner is the part of a worker the dispatcher drives.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   Queue
	workers []Runner
}

// New creates a Dispatcher.
func New(queue Queue, workers []*worker.Worker) *Dispatcher {
	runners := make([]Runner, 0, len(workers))
	for _, w := range workers {
		runners = append(runners, w)
	}
	return NewWithRunners(queue, runners)
}

// NewWithRunners creates a Dispatcher over arbitrary runners.
func NewWithRunners(queue Queue, runners []Runner) *Dispatcher {
	return &Dispatcher{queue: queue, workers: runners}
}

// Run starts all workers and blocks until every worker returns, which
// happens once the queue is closed and drained or the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Process feeds names to the workers, closes the queue and waits for the
// pool to finish. An enqueue error stops feeding but still lets queued mods
// drain.
func (d *Dispatcher) Process(ctx context.Context, names []string) error {
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	var feedErr error
	for _, name := range names {
		if err := d.Enqueue(ctx, crawler.QueueItem{ModName: name, Submitted: time.Now().UTC()}); err != nil {
			feedErr = err
			break
		}
	}
	d.queue.Close()
	<-done
	return feedErr
}
