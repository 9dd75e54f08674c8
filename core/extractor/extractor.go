package extractor

import (
	"bytes"
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ErrEmptyDocument is returned when the input has no parseable content.
var ErrEmptyDocument = errors.New("empty document")

var (
	noiseSelector = "script, style, nav, footer, header, iframe, noscript, ads, " +
		".ads, .advertisement, .adsbygoogle, ins.adsbygoogle"
	// Content regions in priority order; the first match wins.
	regionSelectors = []string{"div.entry-content", "div.post-content", "article", "body"}
)

// Extract returns the title and plain text of an HTML page.
// The title falls back to sourceURL when the page has none.
func Extract(htmlBytes []byte, sourceURL string) (string, string, error) {
	if len(bytes.TrimSpace(htmlBytes)) == 0 {
		return "", "", ErrEmptyDocument
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlBytes))
	if err != nil {
		return "", "", err
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = sourceURL
	}

	doc.Find(noiseSelector).Remove()

	region := doc.Selection
	for _, selector := range regionSelectors {
		if found := doc.Find(selector).First(); found.Length() > 0 {
			region = found
			break
		}
	}

	return title, Text(region), nil
}

// Text renders every non-empty text node below s as one line with
// whitespace runs collapsed.
func Text(s *goquery.Selection) string {
	var lines []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if line := strings.Join(strings.Fields(n.Data), " "); line != "" {
				lines = append(lines, line)
			}
			return
		case html.CommentNode:
			return
		case html.ElementNode:
			if n.Data == "title" || n.Data == "head" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	for _, n := range s.Nodes {
		walk(n)
	}
	return strings.Join(lines, "\n")
}
