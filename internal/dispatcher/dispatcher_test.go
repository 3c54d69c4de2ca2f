package dispatcher

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mofcom-crawler/internal/clock/system"
	"github.com/JakeFAU/mofcom-crawler/internal/crawler"
	"github.com/JakeFAU/mofcom-crawler/internal/queue/memory"
)

// collector drains the queue and remembers what it saw.
type collector struct {
	queue crawler.Queue
	mu    *sync.Mutex
	seen  *[]string
}

func (c collector) Run(ctx context.Context) {
	for {
		item, err := c.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		c.mu.Lock()
		*c.seen = append(*c.seen, item.Country.Code)
		c.mu.Unlock()
	}
}

func TestDispatchFeedsEveryCountryAndWaits(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	var mu sync.Mutex
	var seen []string
	workers := []Runner{
		collector{queue: q, mu: &mu, seen: &seen},
		collector{queue: q, mu: &mu, seen: &seen},
	}
	d := New(q, workers, system.NewFixed(time.Unix(1720000000, 0)))

	countries := []crawler.Country{{Code: "BR"}, {Code: "KE"}, {Code: "NG"}, {Code: "ZA"}}
	require.NoError(t, d.Dispatch(context.Background(), "run-1", countries))

	sort.Strings(seen)
	require.Equal(t, []string{"BR", "KE", "NG", "ZA"}, seen)
}

func TestDispatchStopsFeedingOnCancel(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := New(q, nil, nil)
	err := d.Dispatch(ctx, "run-1", []crawler.Country{{Code: "KE"}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestEnqueueWrapsErrors(t *testing.T) {
	t.Parallel()

	d := New(&errorQueue{err: errors.New("boom")}, nil, nil)
	err := d.Enqueue(context.Background(), crawler.QueueItem{RunID: "run"})
	require.EqualError(t, err, "queue enqueue: boom")
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, crawler.QueueItem) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (crawler.QueueItem, error) {
	return crawler.QueueItem{}, crawler.ErrQueueClosed
}

func (q *errorQueue) Close() {}
