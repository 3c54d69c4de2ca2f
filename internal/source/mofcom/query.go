package mofcom

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/mofcom-crawler/internal/crawler"
)

// SearchURL builds the results page URL for one partition page. The portal
// expects parameters in a fixed order and the terms of a compound keyword
// joined by a literal '+', so the query is assembled by hand.
func (s *Source) SearchURL(p crawler.Partition, watermark string, page int) (string, error) {
	if page < 1 {
		return "", fmt.Errorf("page must be >= 1, got %d", page)
	}
	if strings.TrimSpace(p.CountryCode) == "" {
		return "", fmt.Errorf("partition has no country code")
	}
	if len(p.Terms) == 0 {
		return "", fmt.Errorf("partition %s has no terms", p.CountryCode)
	}
	escaped := make([]string, 0, len(p.Terms))
	for _, term := range p.Terms {
		escaped = append(escaped, url.QueryEscape(term))
	}

	var b strings.Builder
	b.WriteString(s.base.String())
	b.WriteString("?siteId=")
	b.WriteString(url.QueryEscape(strings.ToLower(p.CountryCode)))
	b.WriteString("&keyWordType=")
	b.WriteString(url.QueryEscape(s.cfg.KeywordType))
	b.WriteString("&includeAll=")
	b.WriteString(strings.Join(escaped, "+"))
	b.WriteString("&random=&notInclude=&size=")
	b.WriteString(strconv.Itoa(s.cfg.PageSize))
	b.WriteString("&searchScope=is_all&hightSearchType=all&radio=publish_time_str")
	b.WriteString("&startTime=")
	b.WriteString(url.QueryEscape(watermark))
	b.WriteString("&endTime=")
	b.WriteString(url.QueryEscape(s.cfg.EndDate))
	b.WriteString("&page=")
	b.WriteString(strconv.Itoa(page))
	return b.String(), nil
}
