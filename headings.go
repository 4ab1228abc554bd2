package main

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
)

var (
	titleTagRe  = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	firstH1Re   = regexp.MustCompile(`(?is)<h1[^>]*>(.*?)</h1>`)
	htmlTagRe   = regexp.MustCompile(`<[^>]+>`)
	headingRe   = regexp.MustCompile(`(?i)<(/?)h([1-6])([^>]*)>`)
	spacePartRe = regexp.MustCompile(`^[^:]{1,100}\s:\s+`)
)

// exportTitle finds a page title in a site HTML export: the <title> element,
// else the first <h1>. Returns "" when neither is present.
func exportTitle(doc []byte) string {
	if m := titleTagRe.FindSubmatch(doc); m != nil {
		if t := cleanExportTitle(html.UnescapeString(htmlTagRe.ReplaceAllString(string(m[1]), ""))); t != "" {
			return t
		}
	}
	if m := firstH1Re.FindSubmatch(doc); m != nil {
		return strings.TrimSpace(html.UnescapeString(htmlTagRe.ReplaceAllString(string(m[1]), "")))
	}
	return ""
}

// cleanExportTitle drops the "Space Name : " prefix export pages put in
// front of the page title.
func cleanExportTitle(title string) string {
	title = strings.Join(strings.Fields(title), " ")
	return strings.TrimSpace(spacePartRe.ReplaceAllString(title, ""))
}

// shiftHeadings moves every heading one level down (h1->h2, ..., clamped at
// h6) so a page can sit under its own h1.
func shiftHeadings(text string) string {
	return headingRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := headingRe.FindStringSubmatch(match)
		level, _ := strconv.Atoi(parts[2])
		level = min(level+1, 6)
		if parts[1] == "/" {
			return fmt.Sprintf("</h%d>", level)
		}
		return fmt.Sprintf("<h%d%s>", level, parts[3])
	})
}

// chapterHeader is the h1 and byline placed above each page in a bundle.
func chapterHeader(ch epubChapter, i int) string {
	header := "<h1>" + html.EscapeString(chapterTitle(ch, i)) + "</h1>\n"
	var parts []string
	if !ch.Created.IsZero() {
		parts = append(parts, html.EscapeString(ch.Created.Format("January 2, 2006")))
	}
	if ch.URL != "" {
		display := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(ch.URL, "https://"), "http://"), "/")
		parts = append(parts, fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(ch.URL), html.EscapeString(display)))
	}
	if len(parts) > 0 {
		header += `<p class="byline">` + strings.Join(parts, "<br/>") + "</p>\n"
	}
	return header
}
