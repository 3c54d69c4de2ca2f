package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrNoResults signals an empty results list, the normal end of pagination.
	ErrNoResults = errors.New("no results")
	// ErrPageLimit signals that a partition hit the configured page ceiling.
	ErrPageLimit = errors.New("page limit reached")
	// ErrQueueClosed is returned by Dequeue once a closed queue is drained.
	ErrQueueClosed = errors.New("queue closed")
	// ErrAlreadyExists is returned by a RecordStore when the natural key is taken.
	ErrAlreadyExists = errors.New("record already exists")
)

// MalformedPageError reports a results page missing an expected container.
type MalformedPageError struct {
	Selector string
	// ListMissing is set when the page frame is intact but the results list
	// is absent, which the portal also serves past the last page.
	ListMissing bool
}

func (e *MalformedPageError) Error() string {
	return fmt.Sprintf("malformed results page: missing %q", e.Selector)
}

// FetchErrorKind classifies a fetch failure.
type FetchErrorKind string

// FetchUnavailable means the retry budget was spent without a response.
const FetchUnavailable FetchErrorKind = "unavailable"

// FetchError is returned once a fetch gives up.
type FetchError struct {
	Kind     FetchErrorKind
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s %s after %d attempt(s): %v", e.Kind, e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// HTTPStatusError reports a non-success HTTP status.
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}
