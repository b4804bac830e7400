// ABOUTME: Converts fetched bodies to plain text for LLM prompts
// ABOUTME: HTML keeps visible text only; markdown is rendered first, then stripped

package fetch

import (
	"bytes"
	"mime"
	"strings"

	"github.com/yuin/goldmark"
	"golang.org/x/net/html"
)

// Text returns the prompt-ready text of a fetch result.
func (r *Result) Text() string {
	return ExtractText(r.ContentType, r.FinalURL, r.Body)
}

// ExtractText converts body to plain text based on its content type, falling
// back to the URL extension for markdown served as text/plain.
func ExtractText(contentType, sourceURL string, body []byte) string {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	body = bytes.ToValidUTF8(body, nil)

	switch {
	case strings.Contains(mediaType, "html"):
		if text := visibleText(body); text != "" {
			return text
		}
	case mediaType == "text/markdown" || mediaType == "text/x-markdown" || isMarkdownPath(sourceURL):
		var buf bytes.Buffer
		if err := goldmark.Convert(body, &buf); err == nil {
			if text := visibleText(buf.Bytes()); text != "" {
				return text
			}
		}
	}
	return strings.TrimSpace(string(body))
}

func isMarkdownPath(u string) bool {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	u = strings.ToLower(u)
	return strings.HasSuffix(u, ".md") || strings.HasSuffix(u, ".markdown")
}

// visibleText walks the parsed document and joins text nodes outside
// script, style and noscript elements.
func visibleText(src []byte) string {
	doc, err := html.Parse(bytes.NewReader(src))
	if err != nil {
		return ""
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			}
		}
		if n.Type == html.TextNode {
			if val := strings.Join(strings.Fields(n.Data), " "); val != "" {
				if b.Len() > 0 {
					b.WriteString(" ")
				}
				b.WriteString(val)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return b.String()
}
