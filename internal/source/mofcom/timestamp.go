package mofcom

import (
	"regexp"
	"strings"
	"time"

	"github.com/JakeFAU/mofcom-crawler/internal/crawler"
)

// Timestamp layouts printed by the portal: full articles carry minutes,
// listings only the day.
const (
	DateTimeLayout = "2006-01-02 15:04"
	DateLayout     = "2006-01-02"
)

var timestampPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}(?:\s+\d{1,2}:\d{2})?`)

// ParseTimestamp parses raw in loc using either known layout. On failure it
// returns crawler.SentinelTime and false.
func ParseTimestamp(raw string, loc *time.Location) (time.Time, bool) {
	raw = strings.Join(strings.Fields(raw), " ")
	for _, layout := range []string{DateTimeLayout, DateLayout} {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true
		}
	}
	return crawler.SentinelTime, false
}

// findTimestamp locates the first timestamp-looking run inside free text.
func findTimestamp(text string) string {
	return timestampPattern.FindString(text)
}
