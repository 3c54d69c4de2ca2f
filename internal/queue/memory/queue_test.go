package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mofcom-crawler/internal/crawler"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(0)
	result := make(chan crawler.QueueItem, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	item := crawler.QueueItem{RunID: "run-1", Country: crawler.Country{Code: "KE", Name: "Kenya"}}
	require.NoError(t, q.Enqueue(context.Background(), item))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		require.Equal(t, item, got)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return item")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewQueue(1).Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)

	full := NewQueue(1)
	require.NoError(t, full.Enqueue(context.Background(), crawler.QueueItem{RunID: "primed"}))
	require.ErrorIs(t, full.Enqueue(ctx, crawler.QueueItem{}), context.Canceled)
}

func TestQueueCloseDrainsThenReportsClosed(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, crawler.QueueItem{RunID: "a"}))
	q.Close()
	q.Close()

	require.ErrorIs(t, q.Enqueue(ctx, crawler.QueueItem{RunID: "b"}), crawler.ErrQueueClosed)

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "a", got.RunID)

	_, err = q.Dequeue(ctx)
	require.ErrorIs(t, err, crawler.ErrQueueClosed)
}
