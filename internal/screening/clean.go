package screening

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/amara/loan-screener/internal/engine"
	"github.com/microcosm-cc/bluemonday"
)

// CleanDescription flattens a loan description to plain text. Gateway
// descriptions arrive as loose HTML fragments with entity escapes, stray
// markup, and the occasional invalid byte sequence.
func CleanDescription(raw string) string {
	s := sanitizeUTF8(raw)
	s = sanitizeHTML(s)
	return htmlToText(s)
}

// CleanLoan normalizes the free-text fields of a fetched loan in place.
// Both description variants are cleaned so the phrase rule sees the same
// shape of text regardless of language.
func CleanLoan(l *engine.RawLoan) {
	l.Name = cleanText(sanitizeUTF8(l.Name))
	l.Description = CleanDescription(l.Description)
	l.DescriptionOriginal = CleanDescription(l.DescriptionOriginal)
}

// sanitizeHTML uses bluemonday to strip unsafe tags and attributes from HTML.
func sanitizeHTML(s string) string {
	p := bluemonday.UGCPolicy()
	return p.Sanitize(s)
}

// htmlToText converts HTML to plain text, collapsing whitespace.
func htmlToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return cleanText(html)
	}
	return cleanText(doc.Text())
}

// cleanText normalizes whitespace to single spaces.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// sanitizeUTF8 removes invalid UTF-8 byte sequences that cause PostgreSQL errors.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "")
}
