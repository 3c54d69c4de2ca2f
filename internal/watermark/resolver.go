// Package watermark reads the per-country high-water mark from the record
// store.
package watermark

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mofcom-crawler/internal/crawler"
	"github.com/JakeFAU/mofcom-crawler/internal/logging"
	"github.com/JakeFAU/mofcom-crawler/internal/metrics"
	"github.com/JakeFAU/mofcom-crawler/internal/normalize"
)

// WarnUnparsableWatermark is the data-quality kind counted when the stored
// publish date cannot be read back.
const WarnUnparsableWatermark = "unparsable_watermark"

// Resolver finds the latest stored publish date for a country.
type Resolver struct {
	store   crawler.RecordStore
	tz      *normalize.Converter
	endDate string
	timeout time.Duration
	logger  *zap.Logger
}

// New builds a Resolver. endDate, when set, caps the lookup so that rows
// beyond the crawl window do not move the mark.
func New(store crawler.RecordStore, tz *normalize.Converter, endDate string, timeout time.Duration) *Resolver {
	return &Resolver{store: store, tz: tz, endDate: strings.TrimSpace(endDate), timeout: timeout, logger: zap.NewNop()}
}

// WithLogger sets the logger used for unreadable stored dates.
func (r *Resolver) WithLogger(logger *zap.Logger) *Resolver {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// Query is the store request issued for country.
func (r *Resolver) Query(country crawler.Country) crawler.Query {
	where := crawler.Where(crawler.FieldCountry, crawler.OpEq, country.Name)
	if r.endDate != "" {
		where = where.And(crawler.Condition{
			Field: crawler.FieldPublishDate,
			Op:    crawler.OpLte,
			Sub:   "exactDate",
			Value: r.endDate,
		})
	}
	return crawler.Query{
		Where:  where,
		Fields: []string{crawler.FieldPublishDate},
		Sort:   "-" + crawler.FieldPublishDate,
		Limit:  1,
	}
}

// Resolve returns the yyyy-mm-dd watermark and true, or "" and false when the
// country has no usable rows. Store failures are returned as errors.
func (r *Resolver) Resolve(ctx context.Context, country crawler.Country) (string, bool, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	page, err := r.store.Find(ctx, r.Query(country))
	if err != nil {
		return "", false, fmt.Errorf("resolve watermark for %s: %w", country.Code, err)
	}
	if len(page.Records) == 0 {
		return "", false, nil
	}
	raw := strings.TrimSpace(page.Records[0].ArticlePublishDateEst)
	if raw == "" {
		return "", false, nil
	}
	stored, err := r.tz.ParseStored(raw)
	if err != nil {
		metrics.ObserveDataQualityWarning(WarnUnparsableWatermark)
		r.logger.Warn("stored publish date unreadable, crawling full history",
			logging.Stage("watermark"),
			zap.String("country", country.Code),
			zap.String("value", raw),
			zap.Error(err),
		)
		return "", false, nil
	}
	if crawler.IsSentinel(stored) {
		return "", false, nil
	}
	return stored.Format(time.DateOnly), true, nil
}
