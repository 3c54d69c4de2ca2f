package mofcom

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/mofcom-crawler/internal/crawler"
)

// Article page selectors.
const (
	TitleSelector    = "#artitle"
	ContentSelector  = "#zoom"
	MetadataSelector = "section.article-tool"
)

// Markers inside the metadata block and listing footer.
const (
	categoryMarker = "分类："
	sourceMarker   = "来源："
	typeMarker     = "类型："
	deletedPrefix  = "[DELETED] "
)

// Data-quality warning kinds. All but WarnEntryWithoutLink are attached to
// a ParsedArticle.
const (
	WarnMissingMetadata  = "missing_metadata"
	WarnMissingCategory  = "missing_category"
	WarnMissingOutlet    = "missing_outlet"
	WarnUnparsableDate   = "unparsable_date"
	WarnStubFooter       = "stub_footer_unmatched"
	WarnEntryWithoutLink = "entry_without_link"
)

var stubFooterPattern = regexp.MustCompile(`来源：(.+?) (\d{4}-\d{2}-\d{2})`)

// ArticleLayout is one way of turning a fetched article into a ParsedArticle.
type ArticleLayout interface {
	Kind() crawler.LayoutKind
	Extract() crawler.ParsedArticle
}

// DetectLayout picks FullArticle when the page has both the title and the
// content node, and StubArticle (built from the listing) otherwise.
func DetectLayout(doc *goquery.Document, entry crawler.SearchResultEntry, loc *time.Location) ArticleLayout {
	if doc != nil &&
		doc.Find(TitleSelector).Length() > 0 &&
		doc.Find(ContentSelector).Length() > 0 {
		return &FullArticle{doc: doc, loc: loc}
	}
	return &StubArticle{entry: entry, loc: loc}
}

// FullArticle is a live article page.
type FullArticle struct {
	doc *goquery.Document
	loc *time.Location
}

// Kind implements ArticleLayout.
func (*FullArticle) Kind() crawler.LayoutKind { return crawler.LayoutFull }

// Extract implements ArticleLayout.
func (a *FullArticle) Extract() crawler.ParsedArticle {
	out := crawler.ParsedArticle{
		Title:     strings.TrimSpace(a.doc.Find(TitleSelector).First().Text()),
		Exists:    true,
		Layout:    crawler.LayoutFull,
		Published: crawler.SentinelTime,
	}

	content := a.doc.Find(ContentSelector).First().Clone()
	content.Find("script, style").Remove()
	out.Body = strings.TrimSpace(content.Text())

	tool := a.doc.Find(MetadataSelector).First()
	if tool.Length() == 0 {
		out.Warnings = append(out.Warnings, WarnMissingMetadata, WarnUnparsableDate)
		return out
	}

	out.ContentType = extractCategory(tool)
	if out.ContentType == "" {
		out.Warnings = append(out.Warnings, WarnMissingCategory)
	}
	out.Outlet = extractOutlet(tool)
	if out.Outlet == "" {
		out.Warnings = append(out.Warnings, WarnMissingOutlet)
	}

	paragraphs := tool.Find("p")
	raw := ""
	if paragraphs.Length() > 1 {
		raw = findTimestamp(compact(paragraphs.Eq(1).Text()))
	}
	if raw == "" {
		raw = findTimestamp(compact(tool.Text()))
	}
	published, ok := ParseTimestamp(raw, a.loc)
	if !ok {
		out.Warnings = append(out.Warnings, WarnUnparsableDate)
	}
	out.Published = published
	return out
}

func extractCategory(tool *goquery.Selection) string {
	if !strings.Contains(compact(tool.Text()), strings.TrimSuffix(categoryMarker, "：")) {
		return ""
	}
	category := ""
	tool.Find("span.m-ar-none").EachWithBreak(func(_ int, span *goquery.Selection) bool {
		text := compact(span.Text())
		if idx := strings.Index(text, categoryMarker); idx >= 0 {
			category = strings.TrimSpace(text[idx+len(categoryMarker):])
			return false
		}
		return true
	})
	return category
}

func extractOutlet(tool *goquery.Selection) string {
	text := compact(tool.Find("p").First().Text())
	idx := strings.Index(text, sourceMarker)
	if idx < 0 {
		return ""
	}
	outlet := text[idx+len(sourceMarker):]
	if end := strings.Index(outlet, typeMarker); end >= 0 {
		outlet = outlet[:end]
	}
	return strings.TrimSpace(outlet)
}

// StubArticle stands in for a deleted or moved article, rebuilt from the
// results listing.
type StubArticle struct {
	entry crawler.SearchResultEntry
	loc   *time.Location
}

// Kind implements ArticleLayout.
func (*StubArticle) Kind() crawler.LayoutKind { return crawler.LayoutStub }

// Extract implements ArticleLayout.
func (a *StubArticle) Extract() crawler.ParsedArticle {
	out := crawler.ParsedArticle{
		Title:       deletedPrefix + a.entry.Title,
		Body:        a.entry.Snippet,
		ContentType: a.entry.Tag,
		Exists:      false,
		Layout:      crawler.LayoutStub,
		Published:   crawler.SentinelTime,
	}
	match := stubFooterPattern.FindStringSubmatch(a.entry.Footer)
	if match == nil {
		out.Warnings = append(out.Warnings, WarnStubFooter)
		return out
	}
	out.Outlet = strings.TrimSpace(match[1])
	published, ok := ParseTimestamp(match[2], a.loc)
	if !ok {
		out.Warnings = append(out.Warnings, WarnUnparsableDate)
	}
	out.Published = published
	return out
}

// compact collapses whitespace runs to single spaces.
func compact(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
