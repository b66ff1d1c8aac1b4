// Package htmltext normalizes user-supplied content: HTML-to-Markdown
// conversion for storage and search, plus URL-safe slug generation.
package htmltext

import (
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// htmlTagPattern matches common HTML tags to detect if a string contains HTML.
// Looks for opening tags like <p>, <br>, <div>, <b>, etc.
var htmlTagPattern = regexp.MustCompile(`<(p|br|div|span|b|i|strong|em|a|ul|ol|li|h[1-6]|blockquote|img|pre|code)[\s>/]`)

// ContainsHTML checks if a string appears to contain HTML markup.
func ContainsHTML(s string) bool {
	return htmlTagPattern.MatchString(strings.ToLower(s))
}

// ToMarkdown converts HTML content to Markdown. Rich-text editors submit
// post bodies as HTML; we store Markdown so search indexing and excerpts
// work on plain text. Input without HTML is returned unchanged.
func ToMarkdown(s string) string {
	if s == "" || !ContainsHTML(s) {
		return s
	}

	markdown, err := htmltomarkdown.ConvertString(s)
	if err != nil {
		// If conversion fails, keep the original string
		return s
	}

	return strings.TrimSpace(markdown)
}
