// Package worker crawls one country at a time: it resolves the watermark,
// runs every keyword partition and reconciles what they found.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/mofcom-crawler/internal/crawler"
	"github.com/JakeFAU/mofcom-crawler/internal/logging"
	"github.com/JakeFAU/mofcom-crawler/internal/metrics"
	"github.com/JakeFAU/mofcom-crawler/internal/normalize"
)

// WatermarkResolver reads the high-water mark of a country.
type WatermarkResolver interface {
	Resolve(ctx context.Context, country crawler.Country) (string, bool, error)
}

// PartitionRunner drives one partition.
type PartitionRunner interface {
	Run(ctx context.Context, p crawler.Partition, watermark string, guard *normalize.Guard) crawler.PartitionResult
}

// RecordReconciler stores the records of a partition.
type RecordReconciler interface {
	ReconcileAll(ctx context.Context, runID string, records []crawler.Record) crawler.ReconcileCounts
}

// Config controls Worker behavior.
type Config struct {
	// Terms holds one entry per keyword line, each split into its terms.
	Terms [][]string
}

// Deps are the collaborators of a Worker. Ledger and Report may be nil.
type Deps struct {
	Queue      crawler.Queue
	Resolver   WatermarkResolver
	Driver     PartitionRunner
	Reconciler RecordReconciler
	Ledger     crawler.RunLedger
	Clock      crawler.Clock
	Logger     *zap.Logger
	// Report receives every finished partition run.
	Report func(crawler.PartitionRun)
}

// Worker consumes countries from the queue.
type Worker struct {
	id     int
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New constructs a Worker.
func New(id int, cfg Config, deps Deps) *Worker {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:     id,
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming countries until the queue is drained or the context
// finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, crawler.ErrQueueClosed) || ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.ProcessCountry(ctx, item)
	}
}

// ProcessCountry runs every partition of one country sequentially.
func (w *Worker) ProcessCountry(ctx context.Context, item crawler.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	country := item.Country
	logger := w.logger.With(zap.String("run_id", item.RunID), zap.String("country", country.Code))

	watermark, ok, err := w.deps.Resolver.Resolve(ctx, country)
	if err != nil {
		logger.Error("watermark lookup failed, skipping country", logging.Stage("watermark"), zap.Error(err))
		for _, terms := range w.cfg.Terms {
			p := crawler.NewPartition(item.RunID, country, terms)
			now := w.deps.Clock.Now()
			run := crawler.PartitionRun{
				RunID:      item.RunID,
				Country:    country.Code,
				Keyword:    p.Keyword,
				State:      crawler.PartitionSkipped,
				ErrorText:  err.Error(),
				StartedAt:  now,
				FinishedAt: now,
			}
			metrics.ObservePartition(string(crawler.PartitionSkipped))
			w.startLedger(ctx, logger, run)
			w.finish(ctx, logger, run)
		}
		return
	}
	if !ok {
		logger.Info("no watermark, crawling unbounded", logging.Stage("watermark"))
	} else {
		logger.Info("watermark resolved", logging.Stage("watermark"), zap.String("watermark", watermark))
	}

	for _, terms := range w.cfg.Terms {
		if ctx.Err() != nil {
			return
		}
		w.runPartition(ctx, logger, crawler.NewPartition(item.RunID, country, terms), watermark)
	}
}

func (w *Worker) runPartition(ctx context.Context, logger *zap.Logger, p crawler.Partition, watermark string) {
	logger = logger.With(zap.String("keyword", p.Keyword))
	run := crawler.PartitionRun{
		RunID:     p.RunID,
		Country:   p.CountryCode,
		Keyword:   p.Keyword,
		Watermark: watermark,
		StartedAt: w.deps.Clock.Now(),
	}
	w.startLedger(ctx, logger, run)

	result := w.deps.Driver.Run(ctx, p, watermark, normalize.NewGuard())

	run.State = result.State
	run.Pages = result.Pages
	run.Entries = result.Entries
	run.Accepted = len(result.Records)
	if result.Err != nil {
		run.ErrorText = result.Err.Error()
	}

	if len(result.Records) > 0 {
		if ctx.Err() != nil {
			logger.Warn("run canceled, dropping buffered records",
				logging.Stage("reconcile"), zap.Int("records", len(result.Records)))
		} else {
			run.Counts = w.deps.Reconciler.ReconcileAll(ctx, p.RunID, result.Records)
			logger.Info("partition reconciled",
				logging.Stage("reconcile"),
				zap.Int("inserted", run.Counts.Inserted),
				zap.Int("existing", run.Counts.Existing),
				zap.Int("failed", run.Counts.Failed))
		}
	}
	run.FinishedAt = w.deps.Clock.Now()
	w.finish(ctx, logger, run)
}

func (w *Worker) startLedger(ctx context.Context, logger *zap.Logger, run crawler.PartitionRun) {
	if w.deps.Ledger == nil {
		return
	}
	if err := w.deps.Ledger.StartPartition(ctx, run); err != nil {
		logger.Warn("ledger start failed", logging.Stage("ledger"), zap.Error(err))
	}
}

func (w *Worker) finish(ctx context.Context, logger *zap.Logger, run crawler.PartitionRun) {
	if w.deps.Ledger != nil {
		if err := w.deps.Ledger.FinishPartition(context.WithoutCancel(ctx), run); err != nil {
			logger.Warn("ledger finish failed", logging.Stage("ledger"), zap.Error(err))
		}
	}
	if w.deps.Report != nil {
		w.deps.Report(run)
	}
}
