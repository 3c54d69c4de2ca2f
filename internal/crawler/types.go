package crawler

import (
	"net/http"
	"strings"
	"time"
)

// SentinelTime marks a publish timestamp that could not be recovered.
var SentinelTime = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)

// IsSentinel reports whether t is the unrecoverable-date marker.
func IsSentinel(t time.Time) bool {
	return t.Year() <= 1
}

// Partition is one (country, compound keyword) crawl unit.
type Partition struct {
	RunID       string
	CountryCode string
	CountryName string
	Region      string
	Keyword     string
	Terms       []string
}

// NewPartition builds a partition from a country and the constituent terms of one keyword line.
func NewPartition(runID string, country Country, terms []string) Partition {
	return Partition{
		RunID:       runID,
		CountryCode: country.Code,
		CountryName: country.Name,
		Region:      country.Region,
		Keyword:     strings.Join(terms, "+"),
		Terms:       append([]string(nil), terms...),
	}
}

// Country is one entry of the country catalog.
type Country struct {
	Code   string `yaml:"code"`
	Name   string `yaml:"name"`
	Region string `yaml:"region"`
}

// SearchResultEntry is one listing on a search results page.
type SearchResultEntry struct {
	Link     string
	Title    string
	Snippet  string
	Tag      string
	Footer   string
	DateHint string
}

// LayoutKind names the article layout a page was parsed with.
type LayoutKind string

// Known article layouts.
const (
	LayoutFull LayoutKind = "full"
	LayoutStub LayoutKind = "stub"
)

// ParsedArticle is the layout-independent result of article extraction.
type ParsedArticle struct {
	Title       string
	Body        string
	Published   time.Time
	Outlet      string
	ContentType string
	Exists      bool
	Layout      LayoutKind
	Warnings    []string
}

// Record is the canonical row persisted in the remote store.
type Record struct {
	ID                    int64  `json:"Id,omitempty"`
	OriginalTitle         string `json:"originalTitle"`
	OriginalContent       string `json:"originalContent"`
	OriginalLanguage      string `json:"originalLanguage"`
	Source                string `json:"source"`
	OriginalOutlet        string `json:"originalOutlet"`
	ArticlePublishDateEst string `json:"articlePublishDateEst"`
	ArticleURL            string `json:"articleUrl"`
	Country               string `json:"country"`
	Region                string `json:"region"`
	IsEnglish             bool   `json:"isEnglish"`
	Keywords              string `json:"keywords"`
}

// RecordDateLayout is the layout of Record.ArticlePublishDateEst.
const RecordDateLayout = "2006-01-02 15:04"

// FetchKind distinguishes results pages from article pages.
type FetchKind string

// Fetch kinds.
const (
	FetchKindResults FetchKind = "results"
	FetchKindArticle FetchKind = "article"
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Kind    FetchKind
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Attempts   int
}

// PartitionState is the terminal state of a partition pass.
type PartitionState string

// Terminal partition states.
const (
	PartitionDone    PartitionState = "done"
	PartitionAborted PartitionState = "aborted"
	PartitionSkipped PartitionState = "skipped"
)

// RejectReason explains why the normalizer dropped an article.
type RejectReason string

// Rejection reasons, in evaluation order.
const (
	RejectPolicyExcluded  RejectReason = "policy_excluded"
	RejectDuplicateTitle  RejectReason = "duplicate_title"
	RejectKeywordMismatch RejectReason = "keyword_mismatch"
)

// PartitionResult summarizes one partition pass.
type PartitionResult struct {
	Partition Partition
	State     PartitionState
	Pages     int
	Entries   int
	Existing  int
	Skipped   int
	Rejected  map[RejectReason]int
	Records   []Record
	Err       error
}

// ReconcileOutcome is the result of reconciling one record.
type ReconcileOutcome string

// Reconcile outcomes.
const (
	OutcomeInserted      ReconcileOutcome = "inserted"
	OutcomeAlreadyExists ReconcileOutcome = "already_exists"
	OutcomeFailed        ReconcileOutcome = "failed"
)

// ReconcileCounts aggregates reconcile outcomes.
type ReconcileCounts struct {
	Inserted int
	Existing int
	Failed   int
}

// Add increments the counter for outcome.
func (c *ReconcileCounts) Add(outcome ReconcileOutcome) {
	switch outcome {
	case OutcomeInserted:
		c.Inserted++
	case OutcomeAlreadyExists:
		c.Existing++
	case OutcomeFailed:
		c.Failed++
	}
}

// PartitionRun is the ledger row written for every partition pass.
type PartitionRun struct {
	RunID      string
	Country    string
	Keyword    string
	Watermark  string
	State      PartitionState
	Pages      int
	Entries    int
	Accepted   int
	Counts     ReconcileCounts
	ErrorText  string
	StartedAt  time.Time
	FinishedAt time.Time
}

// RecordEvent is published for every inserted record.
type RecordEvent struct {
	Type         string    `json:"type"`
	RunID        string    `json:"run_id"`
	ArticleURL   string    `json:"article_url"`
	Country      string    `json:"country"`
	Keywords     string    `json:"keywords"`
	Title        string    `json:"title"`
	PublishedEst string    `json:"published_est"`
	EmittedAt    time.Time `json:"emitted_at"`
}

// RecordInsertedEvent is the RecordEvent type for new rows.
const RecordInsertedEvent = "record.inserted"

// RunSummary aggregates a full crawl pass.
type RunSummary struct {
	RunID      string
	Countries  int
	Partitions int
	Aborted    int
	Skipped    int
	Counts     ReconcileCounts
	StartedAt  time.Time
	FinishedAt time.Time
}
