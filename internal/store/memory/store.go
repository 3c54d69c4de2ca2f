// Package memory provides an in-process crawler.RecordStore used by tests and
// dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/mofcom-crawler/internal/crawler"
)

// Store keeps records in insertion order and enforces articleUrl uniqueness.
type Store struct {
	mu      sync.RWMutex
	records []crawler.Record
	nextID  int64
}

// NewStore returns an empty store, optionally seeded.
func NewStore(seed ...crawler.Record) *Store {
	s := &Store{}
	for _, rec := range seed {
		s.insert(rec)
	}
	return s
}

// Find evaluates query.Where against every record.
func (s *Store) Find(ctx context.Context, query crawler.Query) (crawler.RecordPage, error) {
	if err := ctx.Err(); err != nil {
		return crawler.RecordPage{}, err
	}
	s.mu.RLock()
	matched := make([]crawler.Record, 0)
	for _, rec := range s.records {
		ok, err := matches(rec, query.Where)
		if err != nil {
			s.mu.RUnlock()
			return crawler.RecordPage{}, err
		}
		if ok {
			matched = append(matched, rec)
		}
	}
	s.mu.RUnlock()

	if query.Sort != "" {
		field := strings.TrimPrefix(query.Sort, "-")
		desc := strings.HasPrefix(query.Sort, "-")
		sort.SliceStable(matched, func(i, j int) bool {
			a, b := fieldValue(matched[i], field), fieldValue(matched[j], field)
			if desc {
				return a > b
			}
			return a < b
		})
	}
	total := len(matched)
	if query.Limit > 0 && len(matched) > query.Limit {
		matched = matched[:query.Limit]
	}
	return crawler.RecordPage{Records: matched, TotalRows: total}, nil
}

// Create inserts record unless its URL is already stored.
func (s *Store) Create(ctx context.Context, record crawler.Record) (crawler.Record, error) {
	if err := ctx.Err(); err != nil {
		return crawler.Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ArticleURL != "" {
		for _, rec := range s.records {
			if rec.ArticleURL == record.ArticleURL {
				return crawler.Record{}, fmt.Errorf("%w: %s", crawler.ErrAlreadyExists, record.ArticleURL)
			}
		}
	}
	return s.insert(record), nil
}

// Records returns a copy of every stored record.
func (s *Store) Records() []crawler.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.Record(nil), s.records...)
}

// Len is the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) insert(record crawler.Record) crawler.Record {
	s.nextID++
	record.ID = s.nextID
	s.records = append(s.records, record)
	return record
}

func matches(rec crawler.Record, filter crawler.Filter) (bool, error) {
	for _, cond := range filter {
		got := fieldValue(rec, cond.Field)
		want := cond.Value
		if cond.Sub == "exactDate" {
			got = datePart(got)
			want = datePart(want)
		}
		switch cond.Op {
		case crawler.OpEq:
			if got != want {
				return false, nil
			}
		case crawler.OpNeq:
			if got == want {
				return false, nil
			}
		case crawler.OpLte:
			if got > want {
				return false, nil
			}
		default:
			return false, fmt.Errorf("unsupported operator %q", cond.Op)
		}
	}
	return true, nil
}

func datePart(v string) string {
	if len(v) > len("2006-01-02") {
		return v[:len("2006-01-02")]
	}
	return v
}

func fieldValue(rec crawler.Record, field string) string {
	switch field {
	case crawler.FieldTitle:
		return rec.OriginalTitle
	case crawler.FieldURL:
		return rec.ArticleURL
	case crawler.FieldCountry:
		return rec.Country
	case crawler.FieldPublishDate:
		return rec.ArticlePublishDateEst
	case "region":
		return rec.Region
	case "keywords":
		return rec.Keywords
	case "source":
		return rec.Source
	case "originalOutlet":
		return rec.OriginalOutlet
	default:
		return ""
	}
}

var _ crawler.RecordStore = (*Store)(nil)
