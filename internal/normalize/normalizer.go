// Package normalize turns parsed articles into canonical records: it applies
// the policy, duplicate-title and keyword filters and converts publish
// timestamps into the reference zone.
package normalize

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/mofcom-crawler/internal/crawler"
)

// Config carries the constant fields stamped on every record.
type Config struct {
	SourceName string
	Language   string
	// PolicyTag is the classification that excludes an article.
	PolicyTag string
}

// Normalizer applies filters and builds records.
type Normalizer struct {
	cfg Config
	tz  *Converter
}

// New returns a Normalizer. tz is required.
func New(cfg Config, tz *Converter) (*Normalizer, error) {
	if tz == nil {
		return nil, fmt.Errorf("timezone converter is required")
	}
	if cfg.Language == "" {
		cfg.Language = "zh"
	}
	return &Normalizer{cfg: cfg, tz: tz}, nil
}

// Normalize filters parsed and, when it is accepted, returns the record and
// registers its title in guard. On rejection it returns the reason and false.
//
// Filters run in order: policy classification, duplicate title, keyword
// presence. Stub articles only carry the listing snippet, so the keyword
// filter is not applied to them.
func (n *Normalizer) Normalize(
	parsed crawler.ParsedArticle,
	link string,
	p crawler.Partition,
	guard *Guard,
) (crawler.Record, crawler.RejectReason, bool) {
	if n.isPolicy(parsed) {
		return crawler.Record{}, crawler.RejectPolicyExcluded, false
	}
	title := CleanTitle(parsed.Title)
	if guard.Seen(title) {
		return crawler.Record{}, crawler.RejectDuplicateTitle, false
	}
	if parsed.Exists && !ContainsAllTerms(parsed.Body, p.Terms) {
		return crawler.Record{}, crawler.RejectKeywordMismatch, false
	}

	guard.Add(title)
	return crawler.Record{
		OriginalTitle:         title,
		OriginalContent:       parsed.Body,
		OriginalLanguage:      n.cfg.Language,
		Source:                n.cfg.SourceName,
		OriginalOutlet:        parsed.Outlet,
		ArticlePublishDateEst: n.tz.Format(parsed.Published),
		ArticleURL:            link,
		Country:               p.CountryName,
		Region:                p.Region,
		IsEnglish:             false,
		Keywords:              strings.Join(p.Terms, ","),
	}, "", true
}

func (n *Normalizer) isPolicy(parsed crawler.ParsedArticle) bool {
	if n.cfg.PolicyTag == "" {
		return false
	}
	if parsed.Exists {
		return strings.TrimSpace(parsed.ContentType) == n.cfg.PolicyTag
	}
	return strings.Contains(parsed.ContentType, n.cfg.PolicyTag)
}

// ContainsAllTerms reports whether body contains every term as a literal,
// case-sensitive substring.
func ContainsAllTerms(body string, terms []string) bool {
	for _, term := range terms {
		if !strings.Contains(body, term) {
			return false
		}
	}
	return true
}
