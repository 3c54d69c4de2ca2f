// Package dispatcher fans the countries of one run out to the workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/mofcom-crawler/internal/crawler"
)

// Runner is a queue consumer that returns once the queue is drained or the
// context ends.
type Runner interface {
	Run(ctx context.Context)
}

// ClosableQueue is a queue the producer can close once every item is in.
type ClosableQueue interface {
	crawler.Queue
	Close()
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   ClosableQueue
	workers []Runner
	clock   crawler.Clock
}

// New creates a Dispatcher.
func New(queue ClosableQueue, workers []Runner, clock crawler.Clock) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		clock:   clock,
	}
}

// Run starts all workers and blocks until every one has returned.
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

// Dispatch runs the workers, feeds them every country, closes the queue and
// waits for the workers to drain it. An enqueue error stops feeding but the
// countries already queued are still crawled.
func (d *Dispatcher) Dispatch(ctx context.Context, runID string, countries []crawler.Country) error {
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	var enqueueErr error
	for _, country := range countries {
		item := crawler.QueueItem{RunID: runID, Country: country}
		if d.clock != nil {
			item.Submitted = d.clock.Now().Unix()
		}
		if err := d.Enqueue(ctx, item); err != nil {
			enqueueErr = err
			break
		}
	}
	d.queue.Close()
	<-done
	return enqueueErr
}
