// Package readable reduces fetched HTML to its main text.
package readable

import (
	"bufio"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// blockSelector lists the elements whose text becomes output lines.
const blockSelector = "h1,h2,h3,h4,h5,h6,p,li,td,th,blockquote,pre"

// Extract returns the page title and main-content text of html. When
// readability finds no article the whole body is used instead.
func Extract(html, pageURL string) (string, string, error) {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return "", "", fmt.Errorf("parse url: %w", err)
	}

	var title, body string
	parser := readability.NewParser()
	article, err := parser.Parse(strings.NewReader(html), parsedURL)
	if err == nil {
		title = normalizeText(article.Title)
		body = article.Content
	}

	text := ""
	if body != "" {
		text, err = blockText(body)
		if err != nil {
			return "", "", err
		}
	}
	if text == "" {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			return "", "", fmt.Errorf("parse html: %w", err)
		}
		doc.Find("script,style,noscript,nav,footer").Remove()
		if title == "" {
			title = normalizeText(doc.Find("title").First().Text())
		}
		text = normalizeText(doc.Find("body").Text())
	}
	return title, text, nil
}

// blockText joins the text of block elements, one per line.
func blockText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse article: %w", err)
	}
	var lines []string
	doc.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		// Nested blocks are emitted by their innermost element.
		if s.Find(blockSelector).Length() > 0 {
			return
		}
		if line := normalizeText(s.Text()); line != "" {
			lines = append(lines, line)
		}
	})
	if len(lines) == 0 {
		return normalizeText(doc.Text()), nil
	}
	return strings.Join(lines, "\n"), nil
}

// normalizeText trims every line and joins the non-empty ones with spaces.
func normalizeText(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.Join(strings.Fields(scanner.Text()), " ")
		if line != "" {
			b.WriteString(line)
			b.WriteString(" ")
		}
	}
	return strings.TrimSpace(b.String())
}
