package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/mofcom-crawler/internal/clock/system"
	"github.com/JakeFAU/mofcom-crawler/internal/crawler"
	"github.com/JakeFAU/mofcom-crawler/internal/normalize"
	"github.com/JakeFAU/mofcom-crawler/internal/queue/memory"
	ledgermemory "github.com/JakeFAU/mofcom-crawler/internal/storage/memory"
)

type fakeResolver struct {
	marks map[string]string
	fail  map[string]bool
}

func (f fakeResolver) Resolve(_ context.Context, c crawler.Country) (string, bool, error) {
	if f.fail[c.Code] {
		return "", false, errors.New("store unavailable")
	}
	wm, ok := f.marks[c.Code]
	return wm, ok, nil
}

type call struct {
	partition crawler.Partition
	watermark string
	guard     *normalize.Guard
}

type fakeDriver struct {
	mu     sync.Mutex
	calls  []call
	result func(p crawler.Partition) crawler.PartitionResult
}

func (f *fakeDriver) Run(_ context.Context, p crawler.Partition, wm string, guard *normalize.Guard) crawler.PartitionResult {
	f.mu.Lock()
	f.calls = append(f.calls, call{partition: p, watermark: wm, guard: guard})
	f.mu.Unlock()
	if f.result != nil {
		return f.result(p)
	}
	return crawler.PartitionResult{Partition: p, State: crawler.PartitionDone, Pages: 1}
}

type fakeReconciler struct {
	mu      sync.Mutex
	batches [][]crawler.Record
}

func (f *fakeReconciler) ReconcileAll(_ context.Context, _ string, records []crawler.Record) crawler.ReconcileCounts {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, records)
	return crawler.ReconcileCounts{Inserted: len(records)}
}

type fixture struct {
	worker     *Worker
	queue      *memory.Queue
	driver     *fakeDriver
	reconciler *fakeReconciler
	ledger     *ledgermemory.RunLedger
	reported   []crawler.PartitionRun
}

func newFixture(t *testing.T, resolver fakeResolver, driver *fakeDriver) *fixture {
	t.Helper()
	f := &fixture{
		queue:      memory.NewQueue(4),
		driver:     driver,
		reconciler: &fakeReconciler{},
		ledger:     ledgermemory.NewRunLedger(),
	}
	var mu sync.Mutex
	f.worker = New(1, Config{Terms: [][]string{{"贷款", "中国"}, {"投资"}}}, Deps{
		Queue:      f.queue,
		Resolver:   resolver,
		Driver:     driver,
		Reconciler: f.reconciler,
		Ledger:     f.ledger,
		Clock:      system.NewFixed(time.Date(2024, 7, 2, 0, 0, 0, 0, time.UTC)),
		Logger:     zaptest.NewLogger(t),
		Report: func(run crawler.PartitionRun) {
			mu.Lock()
			defer mu.Unlock()
			f.reported = append(f.reported, run)
		},
	})
	return f
}

var (
	kenya  = crawler.Country{Code: "KE", Name: "Kenya", Region: "Africa"}
	brazil = crawler.Country{Code: "BR", Name: "Brazil", Region: "Latin America and the Caribbean"}
)

func TestWorkerRunsEveryPartitionUntilQueueCloses(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fakeResolver{marks: map[string]string{"KE": "2024-05-01"}}, &fakeDriver{})
	ctx := context.Background()
	require.NoError(t, f.queue.Enqueue(ctx, crawler.QueueItem{RunID: "run-1", Country: kenya}))
	require.NoError(t, f.queue.Enqueue(ctx, crawler.QueueItem{RunID: "run-1", Country: brazil}))
	f.queue.Close()

	done := make(chan struct{})
	go func() {
		f.worker.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after the queue drained")
	}

	require.Len(t, f.driver.calls, 4)
	require.Equal(t, "贷款+中国", f.driver.calls[0].partition.Keyword)
	require.Equal(t, "Kenya", f.driver.calls[0].partition.CountryName)
	require.Equal(t, "2024-05-01", f.driver.calls[0].watermark)
	require.Equal(t, "投资", f.driver.calls[1].partition.Keyword)
	require.Empty(t, f.driver.calls[2].watermark)

	guards := map[*normalize.Guard]bool{}
	for _, c := range f.driver.calls {
		guards[c.guard] = true
	}
	require.Len(t, guards, 4, "every partition gets its own guard")

	require.Len(t, f.ledger.Runs(), 4)
	require.Len(t, f.reported, 4)
	for _, run := range f.ledger.Runs() {
		require.Equal(t, crawler.PartitionDone, run.State)
	}
}

func TestWorkerReconcilesAbortedPartitions(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{result: func(p crawler.Partition) crawler.PartitionResult {
		return crawler.PartitionResult{
			Partition: p,
			State:     crawler.PartitionAborted,
			Pages:     2,
			Entries:   3,
			Records:   []crawler.Record{{ArticleURL: "http://a/" + p.Keyword}},
			Err:       crawler.ErrPageLimit,
		}
	}}
	f := newFixture(t, fakeResolver{}, driver)

	f.worker.ProcessCountry(context.Background(), crawler.QueueItem{RunID: "run-1", Country: kenya})

	require.Len(t, f.reconciler.batches, 2)
	runs := f.ledger.Runs()
	require.Len(t, runs, 2)
	require.Equal(t, crawler.PartitionAborted, runs[0].State)
	require.Equal(t, 1, runs[0].Counts.Inserted)
	require.Equal(t, 1, runs[0].Accepted)
	require.Equal(t, 2, runs[0].Pages)
	require.Contains(t, runs[0].ErrorText, "page limit")
}

func TestWorkerSkipsCountryOnWatermarkError(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{}
	f := newFixture(t, fakeResolver{fail: map[string]bool{"KE": true}}, driver)

	f.worker.ProcessCountry(context.Background(), crawler.QueueItem{RunID: "run-1", Country: kenya})

	require.Empty(t, driver.calls)
	require.Len(t, f.reported, 2)
	for _, run := range f.reported {
		require.Equal(t, crawler.PartitionSkipped, run.State)
		require.Contains(t, run.ErrorText, "store unavailable")
	}
}

func TestWorkerDropsRecordsWhenCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	driver := &fakeDriver{result: func(p crawler.Partition) crawler.PartitionResult {
		cancel()
		return crawler.PartitionResult{
			Partition: p,
			State:     crawler.PartitionAborted,
			Records:   []crawler.Record{{ArticleURL: "http://a/1"}},
			Err:       context.Canceled,
		}
	}}
	f := newFixture(t, fakeResolver{}, driver)

	f.worker.ProcessCountry(ctx, crawler.QueueItem{RunID: "run-1", Country: kenya})

	require.Len(t, driver.calls, 1)
	require.Empty(t, f.reconciler.batches)
	require.Len(t, f.ledger.Runs(), 1)
	require.Equal(t, crawler.PartitionAborted, f.ledger.Runs()[0].State)
}
