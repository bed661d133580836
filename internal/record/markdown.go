package record

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/russross/blackfriday/v2"
	"golang.org/x/net/html"
)

// Text formats
const (
	FormatMarkdown = "markdown"
	FormatPlain    = "plain-text"
)

var whitespace = regexp.MustCompile(`\s+`)

// PlainText normalizes a record body to plain text according to its format.
// Markdown is rendered and its text nodes collected; other formats only have
// their whitespace collapsed.
func PlainText(text, format string) string {
	if format == "" || strings.HasPrefix(format, FormatMarkdown) {
		rendered := blackfriday.Run([]byte(text))
		doc, err := html.Parse(bytes.NewReader(rendered))
		if err == nil {
			text = collectText(doc)
		}
	}
	return whitespace.ReplaceAllString(strings.TrimSpace(text), " ")
}

func collectText(n *html.Node) string {
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
		return ""
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			b.WriteString(c.Data)
		case html.ElementNode:
			if child := collectText(c); child != "" {
				if b.Len() > 0 {
					b.WriteString(" ")
				}
				b.WriteString(child)
			}
		}
	}
	return b.String()
}
