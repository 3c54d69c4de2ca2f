// Package mofcom addresses and parses the MOFCOM allSearch portal: the
// results listing and the two article layouts it links to.
package mofcom

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/mofcom-crawler/internal/crawler"
)

// PolicyTag is the classification MOFCOM gives to policy documents.
const PolicyTag = "政策"

// Config shapes the search query.
type Config struct {
	BaseURL     string
	KeywordType string
	PageSize    int
	// EndDate is the inclusive upper bound, yyyy-mm-dd, or empty for none.
	EndDate string
}

// Source implements crawler.Source for MOFCOM.
type Source struct {
	cfg  Config
	base *url.URL
	loc  *time.Location
}

// New validates cfg. loc is the zone the portal prints timestamps in.
func New(cfg Config, loc *time.Location) (*Source, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "?"))
	if err != nil {
		return nil, fmt.Errorf("parse search base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("search base url %q must be absolute", cfg.BaseURL)
	}
	if loc == nil {
		return nil, fmt.Errorf("source time zone is required")
	}
	if cfg.KeywordType == "" {
		cfg.KeywordType = "all"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 30
	}
	return &Source{cfg: cfg, base: base, loc: loc}, nil
}

// Location is the zone article timestamps are parsed in.
func (s *Source) Location() *time.Location {
	return s.loc
}

var _ crawler.Source = (*Source)(nil)
