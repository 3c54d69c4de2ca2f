package mofcom

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/mofcom-crawler/internal/crawler"
)

// ParseArticle extracts an article using whichever layout the page has.
// Pages lacking the title or content node yield the stub built from entry.
func (s *Source) ParseArticle(body []byte, entry crawler.SearchResultEntry) (crawler.ParsedArticle, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.ParsedArticle{}, fmt.Errorf("parse article html: %w", err)
	}
	return DetectLayout(doc, entry, s.loc).Extract(), nil
}
