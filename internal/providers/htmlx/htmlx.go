// Package htmlx strips HTML to plain text and collapses quoted reply
// history, the one CPU-bound normalization step the orchestrator runs
// inline (no network call, no suspension point).
package htmlx

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// ToPlainText strips tags and collapses whitespace, returning the visible
// text content of an HTML document or fragment.
func ToPlainText(input string) string {
	if !strings.Contains(input, "<") {
		return collapseWhitespace(input)
	}

	tokenizer := html.NewTokenizer(strings.NewReader(input))
	var sb strings.Builder

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return collapseWhitespace(sb.String())
		case html.TextToken:
			sb.Write(tokenizer.Text())
			sb.WriteByte(' ')
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			switch string(name) {
			case "br", "p", "div", "li", "tr":
				sb.WriteByte('\n')
			}
		}
	}
}

var quoteHeaderRe = regexp.MustCompile(`(?im)^\s*(on .{0,120} wrote:|-----\s*original message\s*-----|from:\s*.*$)`)

// CollapseQuotedHistory truncates a plain-text body at the first line that
// looks like a provider-inserted quote marker ("On ... wrote:", Outlook's
// "-----Original Message-----", or a bare "From:" header), so only the new
// content of a reply is kept.
func CollapseQuotedHistory(body string) string {
	loc := quoteHeaderRe.FindStringIndex(body)
	if loc == nil {
		return strings.TrimSpace(body)
	}
	return strings.TrimSpace(body[:loc[0]])
}

var wsRe = regexp.MustCompile(`[ \t]+`)
var blankLinesRe = regexp.MustCompile(`\n{3,}`)

func collapseWhitespace(s string) string {
	s = html.UnescapeString(s)
	s = wsRe.ReplaceAllString(s, " ")
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// IsReplySubject reports whether subject carries a localized "re:" prefix,
// case-insensitive, per the canonical-message contract.
func IsReplySubject(subject string) bool {
	s := strings.TrimSpace(strings.ToLower(subject))
	prefixes := []string{"re:", "re :", "sv:", "antw:", "aw:"}
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
