package main

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	readability "codeberg.org/readeck/go-readability"
)

var fullDocumentRe = regexp.MustCompile(`(?i)<(?:html|body)[\s>]`)

// isFullHTMLDocument reports whether input is a complete page, as found in
// a site HTML export, rather than a storage-format fragment.
func isFullHTMLDocument(b []byte) bool {
	return fullDocumentRe.Match(b)
}

// extractArticle runs go-readability on a full HTML page and returns the
// main content and its title. Navigation, breadcrumbs and footers of the
// export page are dropped.
func extractArticle(htmlBytes []byte, pageURL *url.URL) (content string, title string, err error) {
	article, err := readability.FromReader(bytes.NewReader(htmlBytes), pageURL)
	if err != nil {
		return "", "", fmt.Errorf("readability extraction failed: %w", err)
	}
	if strings.TrimSpace(article.Content) == "" {
		return "", "", fmt.Errorf("readability extracted no content from %s", pageURL)
	}
	return article.Content, article.Title, nil
}
