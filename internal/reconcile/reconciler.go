// Package reconcile inserts buffered records into the remote store without
// duplicating rows that are already there.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mofcom-crawler/internal/crawler"
	"github.com/JakeFAU/mofcom-crawler/internal/logging"
	"github.com/JakeFAU/mofcom-crawler/internal/metrics"
)

// Config controls notification and per-call timeouts.
type Config struct {
	// Topic is passed to the publisher; empty disables notifications.
	Topic        string
	StoreTimeout time.Duration
}

// Reconciler checks then creates each record.
type Reconciler struct {
	cfg       Config
	store     crawler.RecordStore
	publisher crawler.Publisher
	clock     crawler.Clock
	logger    *zap.Logger
}

// New builds a Reconciler. publisher may be nil.
func New(cfg Config, store crawler.RecordStore, publisher crawler.Publisher, clock crawler.Clock, logger *zap.Logger) (*Reconciler, error) {
	if store == nil {
		return nil, errors.New("reconciler requires a record store")
	}
	if clock == nil {
		return nil, errors.New("reconciler requires a clock")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{cfg: cfg, store: store, publisher: publisher, clock: clock, logger: logger}, nil
}

// ReconcileAll reconciles records in order and tallies the outcomes.
func (r *Reconciler) ReconcileAll(ctx context.Context, runID string, records []crawler.Record) crawler.ReconcileCounts {
	var counts crawler.ReconcileCounts
	for _, record := range records {
		outcome, err := r.Reconcile(ctx, runID, record)
		counts.Add(outcome)
		if err != nil {
			r.logger.Warn("record not stored",
				logging.Stage("reconcile"),
				zap.String("run_id", runID),
				zap.String("url", record.ArticleURL),
				zap.Error(err))
		}
	}
	return counts
}

// Reconcile stores record unless a row with the same URL (or, for records
// without a URL, the same title) exists. The check and the insert are not
// atomic; a concurrent insert surfaces as a conflict and is reported as
// OutcomeAlreadyExists.
func (r *Reconciler) Reconcile(ctx context.Context, runID string, record crawler.Record) (crawler.ReconcileOutcome, error) {
	exists, err := r.exists(ctx, record)
	if err != nil {
		metrics.ObserveRecord(string(crawler.OutcomeFailed))
		return crawler.OutcomeFailed, fmt.Errorf("check existing record: %w", err)
	}
	if exists {
		metrics.ObserveRecord(string(crawler.OutcomeAlreadyExists))
		return crawler.OutcomeAlreadyExists, nil
	}

	createCtx, cancel := r.withTimeout(ctx)
	created, err := r.store.Create(createCtx, record)
	cancel()
	switch {
	case errors.Is(err, crawler.ErrAlreadyExists):
		r.logger.Warn("record inserted concurrently",
			logging.Stage("reconcile"), zap.String("run_id", runID), zap.String("url", record.ArticleURL), zap.Error(err))
		metrics.ObserveRecord(string(crawler.OutcomeAlreadyExists))
		return crawler.OutcomeAlreadyExists, nil
	case err != nil:
		metrics.ObserveRecord(string(crawler.OutcomeFailed))
		return crawler.OutcomeFailed, fmt.Errorf("create record: %w", err)
	}

	metrics.ObserveRecord(string(crawler.OutcomeInserted))
	r.logger.Debug("record inserted",
		logging.Stage("reconcile"), zap.String("run_id", runID), zap.String("url", record.ArticleURL), zap.Int64("id", created.ID))
	r.announce(ctx, runID, record)
	return crawler.OutcomeInserted, nil
}

func (r *Reconciler) exists(ctx context.Context, record crawler.Record) (bool, error) {
	where := crawler.Where(crawler.FieldURL, crawler.OpEq, record.ArticleURL)
	if record.ArticleURL == "" {
		where = crawler.Where(crawler.FieldTitle, crawler.OpEq, record.OriginalTitle)
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	page, err := r.store.Find(ctx, crawler.Query{Where: where, Fields: []string{crawler.FieldURL}, Limit: 1})
	if err != nil {
		return false, err
	}
	return page.TotalRows > 0 || len(page.Records) > 0, nil
}

// announce publishes the insert; failures are logged and never change the
// outcome.
func (r *Reconciler) announce(ctx context.Context, runID string, record crawler.Record) {
	if r.publisher == nil || r.cfg.Topic == "" {
		return
	}
	event := crawler.RecordEvent{
		Type:         crawler.RecordInsertedEvent,
		RunID:        runID,
		ArticleURL:   record.ArticleURL,
		Country:      record.Country,
		Keywords:     record.Keywords,
		Title:        record.OriginalTitle,
		PublishedEst: record.ArticlePublishDateEst,
		EmittedAt:    r.clock.Now(),
	}
	if _, err := r.publisher.Publish(ctx, r.cfg.Topic, event); err != nil {
		r.logger.Warn("publish record event",
			logging.Stage("notify"), zap.String("url", record.ArticleURL), zap.Error(err))
	}
}

func (r *Reconciler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.StoreTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.cfg.StoreTimeout)
}
