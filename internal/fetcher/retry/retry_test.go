package retry

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/mofcom-crawler/internal/crawler"
)

type scriptedFetcher struct {
	mu        sync.Mutex
	calls     int
	errs      []error
	resp      crawler.FetchResponse
	deadlines []bool
}

func (s *scriptedFetcher) Fetch(ctx context.Context, _ crawler.FetchRequest) (crawler.FetchResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, hasDeadline := ctx.Deadline()
	s.deadlines = append(s.deadlines, hasDeadline)
	idx := s.calls
	s.calls++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return crawler.FetchResponse{}, s.errs[idx]
	}
	return s.resp, nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestFetchSucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	next := &scriptedFetcher{
		errs: []error{errors.New("connection reset"), errors.New("i/o timeout")},
		resp: crawler.FetchResponse{StatusCode: http.StatusOK, Body: []byte("ok")},
	}
	f := New(next, crawler.RetryPolicy{MaxAttempts: 5, PerAttemptTimeout: time.Second}, zap.New(core))
	f.sleep = noSleep

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "http://example.com", Kind: crawler.FetchKindResults})
	require.NoError(t, err)
	require.Equal(t, 3, resp.Attempts)
	require.Equal(t, 3, next.calls)
	require.Equal(t, []bool{true, true, true}, next.deadlines)
	require.Equal(t, 2, logs.FilterMessage("fetch attempt failed, retrying").Len())
}

func TestFetchGivesUpWithFetchError(t *testing.T) {
	t.Parallel()

	boom := errors.New("dial tcp: connection refused")
	next := &scriptedFetcher{errs: []error{boom, boom, boom, boom}}
	f := New(next, crawler.RetryPolicy{MaxAttempts: 3}, nil)
	f.sleep = noSleep

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "http://example.com/a", Kind: crawler.FetchKindArticle})
	var fetchErr *crawler.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, crawler.FetchUnavailable, fetchErr.Kind)
	require.Equal(t, 3, fetchErr.Attempts)
	require.Equal(t, "http://example.com/a", fetchErr.URL)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 3, next.calls)
}

func TestFetchReturnsHTTPStatusWithoutRetry(t *testing.T) {
	t.Parallel()

	next := &scriptedFetcher{resp: crawler.FetchResponse{StatusCode: http.StatusInternalServerError}}
	f := New(next, crawler.RetryPolicy{MaxAttempts: 5}, nil)

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "http://example.com"})
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, 1, next.calls)
}

func TestFetchStopsWhenContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	next := &scriptedFetcher{errs: []error{errors.New("timeout"), errors.New("timeout")}}
	f := New(next, crawler.RetryPolicy{MaxAttempts: 5}, nil)
	f.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := f.Fetch(ctx, crawler.FetchRequest{URL: "http://example.com"})
	require.ErrorIs(t, err, context.Canceled)
	var fetchErr *crawler.FetchError
	require.False(t, errors.As(err, &fetchErr))
	require.Equal(t, 1, next.calls)
}

func TestNewDefaultsToSingleAttempt(t *testing.T) {
	t.Parallel()

	next := &scriptedFetcher{errs: []error{errors.New("boom"), errors.New("boom")}}
	f := New(next, crawler.RetryPolicy{}, nil)
	require.Equal(t, 1, f.Policy().MaxAttempts)

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "http://example.com"})
	require.Error(t, err)
	require.Equal(t, 1, next.calls)
}

func TestSleepContext(t *testing.T) {
	t.Parallel()

	require.NoError(t, sleepContext(context.Background(), time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
