package normalize

import (
	"fmt"
	"time"

	"github.com/JakeFAU/mofcom-crawler/internal/crawler"
)

// Converter moves publish timestamps from the portal's zone into the
// reference zone records are stored in.
type Converter struct {
	source    *time.Location
	reference *time.Location
}

// NewConverter loads both zones by IANA name.
func NewConverter(source, reference string) (*Converter, error) {
	src, err := time.LoadLocation(source)
	if err != nil {
		return nil, fmt.Errorf("load source zone %q: %w", source, err)
	}
	ref, err := time.LoadLocation(reference)
	if err != nil {
		return nil, fmt.Errorf("load reference zone %q: %w", reference, err)
	}
	return &Converter{source: src, reference: ref}, nil
}

// Source is the zone article timestamps are printed in.
func (c *Converter) Source() *time.Location { return c.source }

// Reference is the zone records are stored in.
func (c *Converter) Reference() *time.Location { return c.reference }

// ToReference returns t in the reference zone. The sentinel is returned
// unchanged.
func (c *Converter) ToReference(t time.Time) time.Time {
	if crawler.IsSentinel(t) {
		return crawler.SentinelTime
	}
	return t.In(c.reference)
}

// Format renders t for Record.ArticlePublishDateEst.
func (c *Converter) Format(t time.Time) string {
	return c.ToReference(t).Format(crawler.RecordDateLayout)
}

// ParseStored reads a stored ArticlePublishDateEst value. Values with an
// explicit offset keep it; bare values are read in the reference zone.
func (c *Converter) ParseStored(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05Z07:00", "2006-01-02 15:04Z07:00"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.In(c.reference), nil
		}
	}
	for _, layout := range []string{crawler.RecordDateLayout, time.DateTime, time.DateOnly} {
		if t, err := time.ParseInLocation(layout, raw, c.reference); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}
