package mofcom

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/mofcom-crawler/internal/crawler"
	"github.com/JakeFAU/mofcom-crawler/internal/metrics"
)

// Selectors of the results page.
const (
	ResultsContainerSelector = "div.wms-con"
	ResultsListSelector      = "div.s-info-box"
)

var datePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// ParseResults extracts the listing entries of one results page.
//
// A page without the outer container, or without the list box, is
// malformed. A list box with no linked items is the end of pagination and
// yields crawler.ErrNoResults.
func (s *Source) ParseResults(pageURL string, body []byte) ([]crawler.SearchResultEntry, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse results html: %w", err)
	}
	container := doc.Find(ResultsContainerSelector).First()
	if container.Length() == 0 {
		return nil, &crawler.MalformedPageError{Selector: ResultsContainerSelector}
	}
	list := container.Find(ResultsListSelector).First()
	if list.Length() == 0 {
		return nil, &crawler.MalformedPageError{Selector: ResultsListSelector, ListMissing: true}
	}
	items := list.Find("li")
	if items.Length() == 0 {
		return nil, crawler.ErrNoResults
	}

	base, _ := url.Parse(pageURL) //nolint:errcheck // relative links stay as-is without a base
	entries := make([]crawler.SearchResultEntry, 0, items.Length())
	items.Each(func(_ int, li *goquery.Selection) {
		entry, ok := parseEntry(li, base)
		if !ok {
			metrics.ObserveDataQualityWarning(WarnEntryWithoutLink)
			return
		}
		entries = append(entries, entry)
	})
	if len(entries) == 0 {
		return nil, crawler.ErrNoResults
	}
	return entries, nil
}

func parseEntry(li *goquery.Selection, base *url.URL) (crawler.SearchResultEntry, bool) {
	anchor := li.Find("a[href]").First()
	href, _ := anchor.Attr("href")
	link := resolveLink(base, strings.TrimSpace(href))
	if link == "" {
		return crawler.SearchResultEntry{}, false
	}
	footer := compact(li.Find("div.ft-col p").First().Text())
	return crawler.SearchResultEntry{
		Link:     link,
		Title:    strings.TrimSpace(anchor.Text()),
		Snippet:  strings.TrimSpace(li.Find("div.bd").First().Text()),
		Tag:      strings.TrimSpace(li.Find("em.tag").First().Text()),
		Footer:   footer,
		DateHint: datePattern.FindString(footer),
	}, true
}

func resolveLink(base *url.URL, href string) string {
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil || ref.IsAbs() {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
