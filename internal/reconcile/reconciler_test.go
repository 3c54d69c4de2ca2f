package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/mofcom-crawler/internal/clock/system"
	"github.com/JakeFAU/mofcom-crawler/internal/crawler"
	pubmemory "github.com/JakeFAU/mofcom-crawler/internal/publisher/memory"
	"github.com/JakeFAU/mofcom-crawler/internal/store/memory"
)

var now = time.Date(2024, 7, 2, 8, 0, 0, 0, time.UTC)

func record(url, title string) crawler.Record {
	return crawler.Record{
		ArticleURL:            url,
		OriginalTitle:         title,
		Country:               "Kenya",
		Keywords:              "贷款,中国",
		ArticlePublishDateEst: "2024-05-02 22:30",
	}
}

// racingStore reports no existing rows but refuses every insert, as when a
// concurrent run wins the race.
type racingStore struct{ err error }

func (racingStore) Find(context.Context, crawler.Query) (crawler.RecordPage, error) {
	return crawler.RecordPage{}, nil
}

func (s racingStore) Create(context.Context, crawler.Record) (crawler.Record, error) {
	return crawler.Record{}, s.err
}

func newReconciler(t *testing.T, store crawler.RecordStore, pub crawler.Publisher, topic string) *Reconciler {
	t.Helper()
	r, err := New(Config{Topic: topic, StoreTimeout: time.Second}, store, pub, system.NewFixed(now), zaptest.NewLogger(t))
	require.NoError(t, err)
	return r
}

func TestReconcileInsertsAndAnnounces(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	pub := pubmemory.New()
	r := newReconciler(t, store, pub, "records")

	outcome, err := r.Reconcile(context.Background(), "run-1", record("http://a/1", "一"))
	require.NoError(t, err)
	require.Equal(t, crawler.OutcomeInserted, outcome)
	require.Equal(t, 1, store.Len())

	require.Equal(t, []crawler.RecordEvent{{
		Type:         crawler.RecordInsertedEvent,
		RunID:        "run-1",
		ArticleURL:   "http://a/1",
		Country:      "Kenya",
		Keywords:     "贷款,中国",
		Title:        "一",
		PublishedEst: "2024-05-02 22:30",
		EmittedAt:    now,
	}}, pub.Events())
	require.Equal(t, "records", pub.Messages()[0].Topic)
}

func TestReconcileIsIdempotent(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	pub := pubmemory.New()
	r := newReconciler(t, store, pub, "records")
	records := []crawler.Record{record("http://a/1", "一"), record("http://a/2", "二")}

	first := r.ReconcileAll(context.Background(), "run-1", records)
	require.Equal(t, crawler.ReconcileCounts{Inserted: 2}, first)

	second := r.ReconcileAll(context.Background(), "run-2", records)
	require.Equal(t, crawler.ReconcileCounts{Existing: 2}, second)
	require.Equal(t, 2, store.Len())
	require.Len(t, pub.Events(), 2)
}

func TestReconcileMatchesByTitleWithoutURL(t *testing.T) {
	t.Parallel()

	store := memory.NewStore(record("", "无链接"))
	r := newReconciler(t, store, nil, "")

	outcome, err := r.Reconcile(context.Background(), "run-1", record("", "无链接"))
	require.NoError(t, err)
	require.Equal(t, crawler.OutcomeAlreadyExists, outcome)

	outcome, err = r.Reconcile(context.Background(), "run-1", record("", "另一个"))
	require.NoError(t, err)
	require.Equal(t, crawler.OutcomeInserted, outcome)
}

func TestReconcileConflictIsAlreadyExists(t *testing.T) {
	t.Parallel()

	r := newReconciler(t, racingStore{err: crawler.ErrAlreadyExists}, pubmemory.New(), "records")
	outcome, err := r.Reconcile(context.Background(), "run-1", record("http://a/1", "一"))
	require.NoError(t, err)
	require.Equal(t, crawler.OutcomeAlreadyExists, outcome)
}

func TestReconcileFailures(t *testing.T) {
	t.Parallel()

	pub := pubmemory.New()
	r := newReconciler(t, racingStore{err: errors.New("502 bad gateway")}, pub, "records")
	counts := r.ReconcileAll(context.Background(), "run-1", []crawler.Record{record("http://a/1", "一")})
	require.Equal(t, crawler.ReconcileCounts{Failed: 1}, counts)
	require.Empty(t, pub.Messages())
}

func TestReconcilePublishFailureKeepsInsert(t *testing.T) {
	t.Parallel()

	pub := pubmemory.New()
	pub.FailWith(errors.New("topic not found"))
	store := memory.NewStore()
	r := newReconciler(t, store, pub, "records")

	outcome, err := r.Reconcile(context.Background(), "run-1", record("http://a/1", "一"))
	require.NoError(t, err)
	require.Equal(t, crawler.OutcomeInserted, outcome)
	require.Equal(t, 1, store.Len())
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, nil, system.New(), nil)
	require.Error(t, err)
	_, err = New(Config{}, memory.NewStore(), nil, nil, nil)
	require.Error(t, err)
}
