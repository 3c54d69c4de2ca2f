// Package app builds the crawl pipeline from configuration and runs one pass.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/mofcom-crawler/internal/catalog"
	"github.com/JakeFAU/mofcom-crawler/internal/clock/system"
	"github.com/JakeFAU/mofcom-crawler/internal/config"
	"github.com/JakeFAU/mofcom-crawler/internal/crawler"
	"github.com/JakeFAU/mofcom-crawler/internal/dispatcher"
	"github.com/JakeFAU/mofcom-crawler/internal/driver"
	collyfetcher "github.com/JakeFAU/mofcom-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/mofcom-crawler/internal/fetcher/retry"
	"github.com/JakeFAU/mofcom-crawler/internal/hash/sha256"
	"github.com/JakeFAU/mofcom-crawler/internal/id/uuid"
	"github.com/JakeFAU/mofcom-crawler/internal/metrics"
	"github.com/JakeFAU/mofcom-crawler/internal/normalize"
	"github.com/JakeFAU/mofcom-crawler/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/mofcom-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/mofcom-crawler/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/mofcom-crawler/internal/queue/memory"
	"github.com/JakeFAU/mofcom-crawler/internal/reconcile"
	"github.com/JakeFAU/mofcom-crawler/internal/source/mofcom"
	gcsstorage "github.com/JakeFAU/mofcom-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/mofcom-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/mofcom-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/mofcom-crawler/internal/storage/postgres"
	storememory "github.com/JakeFAU/mofcom-crawler/internal/store/memory"
	"github.com/JakeFAU/mofcom-crawler/internal/store/nocodb"
	"github.com/JakeFAU/mofcom-crawler/internal/watermark"
	"github.com/JakeFAU/mofcom-crawler/internal/worker"
)

const pushTimeout = 10 * time.Second

// App holds one fully wired crawl pass.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	countries []crawler.Country
	terms     [][]string
	clock     crawler.Clock
	ids       crawler.IDGenerator
	queue     *queuememory.Queue
	dispatch  *dispatcher.Dispatcher

	pubsubClient *pubsub.Client
	gcpPublisher *gcppublisher.Publisher
	storage      *storage.Client
	pgLedger     *pgstore.RunLedger

	mu   sync.Mutex
	runs []crawler.PartitionRun
}

// Option replaces a collaborator Build would otherwise create from config.
type Option func(*options)

type options struct {
	fetcher   crawler.Fetcher
	store     crawler.RecordStore
	publisher crawler.Publisher
	archive   crawler.BlobStore
	ledger    crawler.RunLedger
	clock     crawler.Clock
	ids       crawler.IDGenerator
}

// WithFetcher serves both result pages and articles from f. Retries still apply.
func WithFetcher(f crawler.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithRecordStore uses store instead of NocoDB.
func WithRecordStore(store crawler.RecordStore) Option {
	return func(o *options) { o.store = store }
}

// WithPublisher uses p for record notifications.
func WithPublisher(p crawler.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithArchive keeps malformed pages in blobs.
func WithArchive(blobs crawler.BlobStore) Option {
	return func(o *options) { o.archive = blobs }
}

// WithLedger records partition runs in ledger.
func WithLedger(ledger crawler.RunLedger) Option {
	return func(o *options) { o.ledger = ledger }
}

// WithClock sets the time source.
func WithClock(clock crawler.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithIDGenerator sets how run IDs are minted.
func WithIDGenerator(ids crawler.IDGenerator) Option {
	return func(o *options) { o.ids = ids }
}

// Build creates every dependency of a crawl pass. Close must be called on
// the returned App even when Run is never invoked.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger, clock: o.clock, ids: o.ids}
	if a.clock == nil {
		a.clock = system.New()
	}
	if a.ids == nil {
		a.ids = uuid.New()
	}
	logger.Info("building crawl pipeline",
		zap.Bool("dry_run", cfg.Crawler.DryRun),
		zap.Int("concurrency", cfg.Crawler.Concurrency),
		zap.String("archive", cfg.Archive.Backend),
	)

	var err error
	if a.countries, err = selectCountries(cfg.Countries); err != nil {
		return nil, err
	}
	if a.terms, err = loadTerms(cfg.Search); err != nil {
		return nil, err
	}

	tz, err := normalize.NewConverter(cfg.Timezones.Source, cfg.Timezones.Reference)
	if err != nil {
		return nil, fmt.Errorf("time zones: %w", err)
	}
	src, err := mofcom.New(mofcom.Config{
		BaseURL:     cfg.Search.BaseURL,
		KeywordType: cfg.Search.KeywordType,
		PageSize:    cfg.Search.PageSize,
		EndDate:     cfg.Search.EndDate,
	}, tz.Source())
	if err != nil {
		return nil, fmt.Errorf("search source init failed: %w", err)
	}
	norm, err := normalize.New(normalize.Config{
		SourceName: cfg.Search.SourceName,
		Language:   cfg.Search.Language,
		PolicyTag:  mofcom.PolicyTag,
	}, tz)
	if err != nil {
		return nil, fmt.Errorf("normalizer init failed: %w", err)
	}

	store := o.store
	if store == nil {
		if store, err = setupStore(a); err != nil {
			return nil, err
		}
	}
	archive := o.archive
	if archive == nil {
		if archive, err = setupArchive(ctx, a); err != nil {
			a.closeInfrastructure()
			return nil, err
		}
	}
	publisher := o.publisher
	if publisher == nil {
		if publisher, err = setupPublisher(ctx, a); err != nil {
			a.closeInfrastructure()
			return nil, err
		}
	}
	ledger := o.ledger
	if ledger == nil {
		if ledger, err = setupLedger(ctx, a); err != nil {
			a.closeInfrastructure()
			return nil, err
		}
	}

	pages, articles := setupFetchers(cfg, o.fetcher, logger)

	drv, err := driver.New(driver.Config{
		MaxPages:      cfg.Search.MaxPages,
		ArchivePrefix: cfg.Archive.Prefix,
		StoreTimeout:  cfg.StoreTimeout(),
	}, driver.Deps{
		Pages:      pages,
		Articles:   articles,
		Source:     src,
		Normalizer: norm,
		Store:      store,
		Archive:    archive,
		Hasher:     sha256.New(),
		Logger:     logger.Named("driver"),
	})
	if err != nil {
		a.closeInfrastructure()
		return nil, fmt.Errorf("partition driver init failed: %w", err)
	}
	rec, err := reconcile.New(reconcile.Config{
		Topic:        cfg.PubSub.TopicName,
		StoreTimeout: cfg.StoreTimeout(),
	}, store, publisher, a.clock, logger.Named("reconcile"))
	if err != nil {
		a.closeInfrastructure()
		return nil, fmt.Errorf("reconciler init failed: %w", err)
	}
	resolver := watermark.New(store, tz, cfg.Search.EndDate, cfg.StoreTimeout()).WithLogger(logger.Named("watermark"))

	a.queue = queuememory.NewQueue(cfg.Crawler.QueueDepth)
	workers := make([]dispatcher.Runner, 0, cfg.Crawler.Concurrency)
	for i := 0; i < cfg.Crawler.Concurrency; i++ {
		workers = append(workers, worker.New(i, worker.Config{Terms: a.terms}, worker.Deps{
			Queue:      a.queue,
			Resolver:   resolver,
			Driver:     drv,
			Reconciler: rec,
			Ledger:     ledger,
			Clock:      a.clock,
			Logger:     logger.Named("worker"),
			Report:     a.record,
		}))
	}
	a.dispatch = dispatcher.New(a.queue, workers, a.clock)
	return a, nil
}

func selectCountries(cfg config.CountriesConfig) ([]crawler.Country, error) {
	cat, err := catalog.Default()
	if err != nil {
		return nil, fmt.Errorf("country catalog: %w", err)
	}
	countries, err := cat.Select(catalog.Selection{
		Exclude: cfg.Exclude,
		Only:    cfg.Only,
		Regions: cfg.Regions,
	})
	if err != nil {
		return nil, fmt.Errorf("select countries: %w", err)
	}
	if len(countries) == 0 {
		return nil, errors.New("country selection is empty")
	}
	return countries, nil
}

func loadTerms(cfg config.SearchConfig) ([][]string, error) {
	var terms [][]string
	if len(cfg.Terms) > 0 {
		terms = catalog.ParseTerms(cfg.Terms)
	} else {
		var err error
		if terms, err = catalog.LoadTermsFile(cfg.TermsFile); err != nil {
			return nil, err
		}
	}
	if len(terms) == 0 {
		return nil, errors.New("no search terms configured")
	}
	return terms, nil
}

func setupFetchers(cfg config.Config, base crawler.Fetcher, logger *zap.Logger) (crawler.Fetcher, crawler.Fetcher) {
	if base == nil {
		limiter := ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.RPS,
			DefaultBurst: cfg.RateLimit.Burst,
		})
		base = collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.HTTP.UserAgent,
			RespectRobots: cfg.HTTP.RespectRobots,
			Timeout:       cfg.FetchTimeout(),
		}, limiter)
	}
	pages := retry.New(base, crawler.RetryPolicy{
		MaxAttempts:       cfg.HTTP.PageMaxAttempts,
		PerAttemptTimeout: cfg.FetchTimeout(),
		MaxJitter:         cfg.RetryJitter(),
	}, logger.Named("fetch.results"))
	articles := retry.New(base, crawler.RetryPolicy{
		MaxAttempts:       cfg.HTTP.ArticleMaxAttempts,
		PerAttemptTimeout: cfg.FetchTimeout(),
		MaxJitter:         cfg.RetryJitter(),
	}, logger.Named("fetch.articles"))
	return pages, articles
}

func setupStore(a *App) (crawler.RecordStore, error) {
	if a.cfg.Crawler.DryRun {
		a.logger.Warn("dry run: records are kept in memory and never reach the store")
		return storememory.NewStore(), nil
	}
	client, err := nocodb.New(nocodb.Config{
		BaseURL: a.cfg.Store.BaseURL,
		Token:   a.cfg.Store.Token,
		Timeout: a.cfg.StoreTimeout(),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("record store init failed: %w", err)
	}
	a.logger.Info("record store initialized", zap.String("base_url", a.cfg.Store.BaseURL))
	return client, nil
}

func setupArchive(ctx context.Context, a *App) (crawler.BlobStore, error) {
	switch a.cfg.Archive.Backend {
	case config.ArchiveGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		blobs, err := gcsstorage.New(a.storage, gcsstorage.Config{Bucket: a.cfg.Archive.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.logger.Info("archiving malformed pages to GCS", zap.String("bucket", a.cfg.Archive.Bucket))
		return blobs, nil
	case config.ArchiveLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		a.logger.Info("archiving malformed pages locally", zap.String("path", a.cfg.Archive.Local.BaseDir))
		return blobs, nil
	case config.ArchiveMemory:
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, nil
	}
}

func setupPublisher(ctx context.Context, a *App) (crawler.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Debug("no Pub/Sub topic configured, record events stay in memory")
		return memorypublisher.New(), nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.gcpPublisher = gcppublisher.New(a.pubsubClient.Publisher(a.cfg.PubSub.TopicName))
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.gcpPublisher, nil
}

func setupLedger(ctx context.Context, a *App) (crawler.RunLedger, error) {
	if a.cfg.Database.DSN == "" {
		return memorystorage.NewRunLedger(), nil
	}
	var err error
	a.pgLedger, err = pgstore.NewRunLedger(ctx, pgstore.LedgerConfig{
		DSN:   a.cfg.Database.DSN,
		Table: a.cfg.Database.Table,
	})
	if err != nil {
		return nil, fmt.Errorf("run ledger init failed: %w", err)
	}
	a.logger.Info("run ledger initialized", zap.String("table", a.cfg.Database.Table))
	return a.pgLedger, nil
}

// Countries is the selected country list, ordered by code.
func (a *App) Countries() []crawler.Country {
	return append([]crawler.Country(nil), a.countries...)
}

// Run crawls every selected country once and summarizes the pass. The
// summary is valid even when an error is returned.
func (a *App) Run(ctx context.Context) (crawler.RunSummary, error) {
	runID, err := a.ids.NewID()
	if err != nil {
		return crawler.RunSummary{}, fmt.Errorf("run id: %w", err)
	}
	started := a.clock.Now()
	a.logger.Info("crawl started",
		zap.String("run_id", runID),
		zap.Int("countries", len(a.countries)),
		zap.Int("keywords", len(a.terms)),
	)

	dispatchErr := a.dispatch.Dispatch(ctx, runID, a.countries)

	summary := a.summarize(runID, started, a.clock.Now())
	metrics.ObserveRun(summary.StartedAt, summary.FinishedAt)
	a.pushMetrics(ctx)
	a.logger.Info("crawl finished",
		zap.String("run_id", runID),
		zap.Int("partitions", summary.Partitions),
		zap.Int("aborted", summary.Aborted),
		zap.Int("skipped", summary.Skipped),
		zap.Int("inserted", summary.Counts.Inserted),
		zap.Int("existing", summary.Counts.Existing),
		zap.Int("failed", summary.Counts.Failed),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
	)

	if dispatchErr != nil {
		return summary, fmt.Errorf("dispatch countries: %w", dispatchErr)
	}
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("crawl interrupted: %w", err)
	}
	return summary, nil
}

func (a *App) record(run crawler.PartitionRun) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runs = append(a.runs, run)
}

func (a *App) summarize(runID string, started, finished time.Time) crawler.RunSummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	summary := crawler.RunSummary{
		RunID:      runID,
		Countries:  len(a.countries),
		Partitions: len(a.runs),
		StartedAt:  started,
		FinishedAt: finished,
	}
	for _, run := range a.runs {
		switch run.State {
		case crawler.PartitionAborted:
			summary.Aborted++
		case crawler.PartitionSkipped:
			summary.Skipped++
		}
		summary.Counts.Inserted += run.Counts.Inserted
		summary.Counts.Existing += run.Counts.Existing
		summary.Counts.Failed += run.Counts.Failed
	}
	return summary
}

func (a *App) pushMetrics(ctx context.Context) {
	if a.cfg.Metrics.PushgatewayURL == "" {
		return
	}
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
	defer cancel()
	if err := metrics.Push(pushCtx, a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.JobName); err != nil {
		a.logger.Warn("metrics push failed", zap.Error(err))
	}
}

// Close releases clients opened by Build.
func (a *App) Close() {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure() {
	if a.gcpPublisher != nil {
		a.gcpPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgLedger != nil {
		a.pgLedger.Close()
	}
}
