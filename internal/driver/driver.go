// Package driver walks the result pages of one partition and turns their
// entries into buffered records.
package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mofcom-crawler/internal/crawler"
	"github.com/JakeFAU/mofcom-crawler/internal/logging"
	"github.com/JakeFAU/mofcom-crawler/internal/metrics"
	"github.com/JakeFAU/mofcom-crawler/internal/normalize"
)

// Entry outcomes reported to metrics.
const (
	entryAccepted    = "accepted"
	entryExisting    = "existing"
	entryStoreError  = "store_error"
	entryFetchFailed = "fetch_failed"
	entryParseFailed = "parse_failed"
)

// Config bounds a partition pass.
type Config struct {
	MaxPages      int
	ArchivePrefix string
	StoreTimeout  time.Duration
}

// Deps are the collaborators of a Driver. Archive and Hasher are optional.
type Deps struct {
	Pages      crawler.Fetcher
	Articles   crawler.Fetcher
	Source     crawler.Source
	Normalizer *normalize.Normalizer
	Store      crawler.RecordStore
	Archive    crawler.BlobStore
	Hasher     crawler.Hasher
	Logger     *zap.Logger
}

// Driver runs partitions.
type Driver struct {
	cfg  Config
	deps Deps
}

// New validates deps.
func New(cfg Config, deps Deps) (*Driver, error) {
	switch {
	case deps.Pages == nil || deps.Articles == nil:
		return nil, errors.New("driver requires page and article fetchers")
	case deps.Source == nil:
		return nil, errors.New("driver requires a source")
	case deps.Normalizer == nil:
		return nil, errors.New("driver requires a normalizer")
	case deps.Store == nil:
		return nil, errors.New("driver requires a record store")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Archive != nil && deps.Hasher == nil {
		return nil, errors.New("driver archive requires a hasher")
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 500
	}
	return &Driver{cfg: cfg, deps: deps}, nil
}

// Run paginates p from page 1 until the results run out, the page ceiling
// is hit or a page cannot be used. Entry-level failures never end the pass.
// guard must be fresh for every partition.
func (d *Driver) Run(
	ctx context.Context,
	p crawler.Partition,
	watermark string,
	guard *normalize.Guard,
) crawler.PartitionResult {
	logger := logging.ForPartition(d.deps.Logger, p).With(zap.String("watermark", watermark))
	result := crawler.PartitionResult{
		Partition: p,
		Rejected:  make(map[crawler.RejectReason]int),
	}

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return d.finish(logger, result, crawler.PartitionAborted, err)
		}
		if page > d.cfg.MaxPages {
			return d.finish(logger, result, crawler.PartitionAborted,
				fmt.Errorf("%w: %d pages", crawler.ErrPageLimit, d.cfg.MaxPages))
		}

		entries, done, err := d.fetchPage(ctx, logger, p, watermark, page)
		if err != nil {
			return d.finish(logger, result, crawler.PartitionAborted, err)
		}
		result.Pages++
		if done {
			return d.finish(logger, result, crawler.PartitionDone, nil)
		}

		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return d.finish(logger, result, crawler.PartitionAborted, err)
			}
			d.processEntry(ctx, logger, p, entry, guard, &result)
		}
	}
}

// fetchPage returns the entries of one results page, or done when the page
// marks the end of pagination.
func (d *Driver) fetchPage(
	ctx context.Context,
	logger *zap.Logger,
	p crawler.Partition,
	watermark string,
	page int,
) ([]crawler.SearchResultEntry, bool, error) {
	pageURL, err := d.deps.Source.SearchURL(p, watermark, page)
	if err != nil {
		return nil, false, fmt.Errorf("build search url: %w", err)
	}
	pageLogger := logger.With(zap.Int("page", page), zap.String("url", pageURL))

	resp, err := d.deps.Pages.Fetch(ctx, crawler.FetchRequest{URL: pageURL, Kind: crawler.FetchKindResults})
	if err != nil {
		return nil, false, fmt.Errorf("fetch results page %d: %w", page, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, false, &crawler.HTTPStatusError{URL: pageURL, StatusCode: resp.StatusCode}
	}

	entries, err := d.deps.Source.ParseResults(pageURL, resp.Body)
	if errors.Is(err, crawler.ErrNoResults) {
		pageLogger.Debug("results exhausted", logging.Stage("page"))
		return nil, true, nil
	}
	var malformed *crawler.MalformedPageError
	if errors.As(err, &malformed) {
		uri := d.archive(ctx, pageLogger, p, resp.Body)
		if malformed.ListMissing && page > 1 {
			pageLogger.Warn("results list missing after first page, treating as exhausted",
				logging.Stage("page"), zap.String("archive", uri))
			return nil, true, nil
		}
		pageLogger.Error("malformed results page",
			logging.Stage("page"), zap.String("selector", malformed.Selector), zap.String("archive", uri))
		return nil, false, err
	}
	if err != nil {
		return nil, false, fmt.Errorf("parse results page %d: %w", page, err)
	}
	pageLogger.Debug("results page parsed", logging.Stage("page"), zap.Int("entries", len(entries)))
	return entries, false, nil
}

func (d *Driver) processEntry(
	ctx context.Context,
	logger *zap.Logger,
	p crawler.Partition,
	entry crawler.SearchResultEntry,
	guard *normalize.Guard,
	result *crawler.PartitionResult,
) {
	result.Entries++
	entryLogger := logger.With(zap.String("url", entry.Link))

	exists, err := d.urlExists(ctx, entry.Link)
	if err != nil {
		result.Skipped++
		metrics.ObserveEntry(entryStoreError)
		entryLogger.Warn("existence check failed, skipping entry", logging.Stage("entry"), zap.Error(err))
		return
	}
	if exists {
		result.Existing++
		metrics.ObserveEntry(entryExisting)
		entryLogger.Debug("already stored", logging.Stage("entry"))
		return
	}

	resp, err := d.deps.Articles.Fetch(ctx, crawler.FetchRequest{URL: entry.Link, Kind: crawler.FetchKindArticle})
	if err != nil {
		result.Skipped++
		metrics.ObserveEntry(entryFetchFailed)
		entryLogger.Warn("article fetch failed, skipping entry", logging.Stage("article"), zap.Error(err))
		return
	}
	if transientStatus(resp.StatusCode) {
		result.Skipped++
		metrics.ObserveEntry(entryFetchFailed)
		entryLogger.Warn("article unavailable, skipping entry", logging.Stage("article"),
			zap.Int("status", resp.StatusCode))
		return
	}
	parsed, err := d.deps.Source.ParseArticle(resp.Body, entry)
	if err != nil {
		result.Skipped++
		metrics.ObserveEntry(entryParseFailed)
		entryLogger.Warn("article parse failed, skipping entry", logging.Stage("article"), zap.Error(err))
		return
	}
	for _, warning := range parsed.Warnings {
		metrics.ObserveDataQualityWarning(warning)
		entryLogger.Warn("article data quality", logging.Stage("article"),
			zap.String("warning", warning), zap.String("layout", string(parsed.Layout)))
	}

	record, reason, ok := d.deps.Normalizer.Normalize(parsed, entry.Link, p, guard)
	if !ok {
		result.Rejected[reason]++
		metrics.ObserveEntry(string(reason))
		entryLogger.Debug("entry rejected", logging.Stage("normalize"), zap.String("reason", string(reason)))
		return
	}
	result.Records = append(result.Records, record)
	metrics.ObserveEntry(entryAccepted)
}

// transientStatus reports whether an article response should be retried on
// a later pass rather than stored as a deleted-article stub.
func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func (d *Driver) urlExists(ctx context.Context, link string) (bool, error) {
	if d.cfg.StoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.StoreTimeout)
		defer cancel()
	}
	page, err := d.deps.Store.Find(ctx, crawler.Query{
		Where:  crawler.Where(crawler.FieldURL, crawler.OpEq, link),
		Fields: []string{crawler.FieldURL},
		Limit:  1,
	})
	if err != nil {
		return false, err
	}
	return page.TotalRows > 0 || len(page.Records) > 0, nil
}

// archive keeps the raw body of an unusable page and returns its URI, or ""
// when archiving is disabled or fails.
func (d *Driver) archive(ctx context.Context, logger *zap.Logger, p crawler.Partition, body []byte) string {
	if d.deps.Archive == nil {
		return ""
	}
	digest, err := d.deps.Hasher.Hash(body)
	if err != nil {
		logger.Warn("hash malformed page", logging.Stage("archive"), zap.Error(err))
		return ""
	}
	key := path.Join(strings.Trim(d.cfg.ArchivePrefix, "/"), "malformed", p.RunID, p.CountryCode, digest+".html")
	uri, err := d.deps.Archive.PutObject(ctx, key, "text/html; charset=utf-8", bytes.NewReader(body))
	if err != nil {
		logger.Warn("archive malformed page", logging.Stage("archive"), zap.Error(err))
		return ""
	}
	return uri
}

func (d *Driver) finish(
	logger *zap.Logger,
	result crawler.PartitionResult,
	state crawler.PartitionState,
	err error,
) crawler.PartitionResult {
	result.State = state
	result.Err = err
	metrics.ObservePartition(string(state))

	fields := []zap.Field{
		logging.Stage("partition"),
		zap.String("state", string(state)),
		zap.Int("pages", result.Pages),
		zap.Int("entries", result.Entries),
		zap.Int("existing", result.Existing),
		zap.Int("skipped", result.Skipped),
		zap.Int("accepted", len(result.Records)),
	}
	for reason, n := range result.Rejected {
		fields = append(fields, zap.Int("rejected_"+string(reason), n))
	}
	if err != nil {
		logger.Error("partition aborted", append(fields, zap.Error(err))...)
		return result
	}
	logger.Info("partition complete", fields...)
	return result
}
