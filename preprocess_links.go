package main

import (
	"html"
	"net/url"
	"regexp"
	"strings"
)

// linkRule rewrites one syntactic form of ac:link. build reports false to
// leave the match for a later rule.
type linkRule struct {
	name  string
	re    *regexp.Regexp
	build func(m []string, pageID string) (string, bool)
}

const (
	linkOpen      = `<ac:link(\s[^>]*[^/>])?>\s*`
	linkClose     = `\s*</ac:link>`
	cdataLinkBody = `<ac:plain-text-link-body>\s*<!\[CDATA\[(.*?)\]\]>\s*</ac:plain-text-link-body>`
	emptyLinkBody = `<ac:plain-text-link-body>\s*(?:<!\[CDATA\[\s*\]\]>)?\s*</ac:plain-text-link-body>`
)

// linkRules are tried in order. Forms that are subsets of one another must
// come after the more specific form or they would shadow it.
var linkRules = []linkRule{
	{
		name: "page, self-closing, text",
		re:   regexp.MustCompile(`(?s)` + linkOpen + `<ri:page\b([^>]*?)/>\s*` + cdataLinkBody + linkClose),
		build: func(m []string, _ string) (string, bool) {
			return pageAnchor(m[1], m[2], m[3])
		},
	},
	{
		name: "page, self-closing, empty text",
		re:   regexp.MustCompile(`(?s)` + linkOpen + `<ri:page\b([^>]*?)/>\s*` + emptyLinkBody + linkClose),
		build: func(m []string, _ string) (string, bool) {
			return pageAnchor(m[1], m[2], "")
		},
	},
	{
		name: "page, legacy, text",
		re:   regexp.MustCompile(`(?s)` + linkOpen + `<ri:page\b([^>]*[^/>])>\s*</ri:page>\s*` + cdataLinkBody + linkClose),
		build: func(m []string, _ string) (string, bool) {
			return pageAnchor(m[1], m[2], m[3])
		},
	},
	{
		name: "page, legacy, empty text",
		re:   regexp.MustCompile(`(?s)` + linkOpen + `<ri:page\b([^>]*[^/>])>\s*</ri:page>\s*` + emptyLinkBody + linkClose),
		build: func(m []string, _ string) (string, bool) {
			return pageAnchor(m[1], m[2], "")
		},
	},
	{
		name: "page, rich body",
		re:   regexp.MustCompile(`(?s)` + linkOpen + `<ri:page\b([^>]*?)/?>(?:\s*</ri:page>)?\s*<ac:link-body>(.*?)</ac:link-body>` + linkClose),
		build: func(m []string, _ string) (string, bool) {
			a := attrs(m[2])
			href := pageHref(a["ri:content-title"], a["ri:space-key"], attrs(m[1])["ac:anchor"])
			body := strings.TrimSpace(m[3])
			if stripTags(body) == "" && !strings.Contains(body, "<img") {
				body = html.EscapeString(a["ri:content-title"])
			}
			return `<a href="` + html.EscapeString(href) + `">` + body + `</a>`, true
		},
	},
	{
		name: "page, no body",
		re:   regexp.MustCompile(`(?s)` + linkOpen + `<ri:page\b([^>]*?)/?>(?:\s*</ri:page>)?` + linkClose),
		build: func(m []string, _ string) (string, bool) {
			return pageAnchor(m[1], m[2], "")
		},
	},
	{
		name: "space",
		re:   regexp.MustCompile(`(?s)` + linkOpen + `<ri:space\b([^>]*?)/?>(?:\s*</ri:space>)?\s*(?:` + cdataLinkBody + `|` + emptyLinkBody + `)?` + linkClose),
		build: func(m []string, _ string) (string, bool) {
			key := attrs(m[2])["ri:space-key"]
			if key == "" {
				return "", false
			}
			text := strings.TrimSpace(m[3])
			if text == "" {
				text = key
			}
			return `<a href="/spaces/` + html.EscapeString(url.PathEscape(key)) + `">` + html.EscapeString(text) + `</a>`, true
		},
	},
	{
		name: "user",
		re:   regexp.MustCompile(`(?s)` + linkOpen + `<ri:user\b([^>]*?)/?>(?:\s*</ri:user>)?\s*(?:` + cdataLinkBody + `|` + emptyLinkBody + `)?` + linkClose),
		build: func(m []string, _ string) (string, bool) {
			if text := strings.TrimSpace(m[3]); text != "" {
				return html.EscapeString(text), true
			}
			a := attrs(m[2])
			for _, k := range []string{"ri:username", "ri:userkey", "ri:account-id"} {
				if v := a[k]; v != "" {
					return "@" + html.EscapeString(v), true
				}
			}
			return "", false
		},
	},
	{
		name: "attachment",
		re:   regexp.MustCompile(`(?s)` + linkOpen + `<ri:attachment\b([^>]*?)/?>(?:\s*</ri:attachment>)?\s*(?:` + cdataLinkBody + `|` + emptyLinkBody + `|<ac:link-body>(.*?)</ac:link-body>)?` + linkClose),
		build: func(m []string, pageID string) (string, bool) {
			name := attrs(m[2])["ri:filename"]
			if name == "" {
				return "", false
			}
			href := `<a href="` + html.EscapeString(attachmentPath(pageID, name)) + `">`
			if rich := strings.TrimSpace(m[4]); rich != "" {
				return href + rich + `</a>`, true
			}
			text := strings.TrimSpace(m[3])
			if text == "" {
				text = name
			}
			return href + html.EscapeString(text) + `</a>`, true
		},
	},
}

var (
	anyLinkRe      = regexp.MustCompile(`(?s)<ac:link(\s[^>]*[^/>])?>(.*?)</ac:link>`)
	pageRefRe      = regexp.MustCompile(`<ri:page\b([^>]*?)/?>`)
	spaceRefRe     = regexp.MustCompile(`<ri:space\b([^>]*?)/?>`)
	strayLinkRe    = regexp.MustCompile(`<ac:link(?:\s[^>]*)?/?>|</ac:link>`)
	refElementRe   = regexp.MustCompile(`(?s)<ri:[a-z-]+\b[^>]*?/>|<ri:[a-z-]+\b[^>]*>.*?</ri:[a-z-]+>`)
	linkBodyOpenRe = regexp.MustCompile(`</?ac:(?:plain-text-link-body|link-body)>`)
)

// processConfluenceLinks normalizes every ac:link form into a plain anchor.
// Links no rule recognizes go through a fallback chain and only end up as a
// comment when neither text nor a target can be recovered.
func processConfluenceLinks(s, pageID string) string {
	for _, rule := range linkRules {
		rule := rule
		s = rule.re.ReplaceAllStringFunc(s, func(match string) string {
			out, ok := rule.build(rule.re.FindStringSubmatch(match), pageID)
			if !ok {
				return match
			}
			return out
		})
	}
	s = anyLinkRe.ReplaceAllStringFunc(s, func(match string) string {
		m := anyLinkRe.FindStringSubmatch(match)
		return fallbackLink(attrs(m[1]), m[2])
	})
	return strayLinkRe.ReplaceAllStringFunc(s, func(string) string {
		debugf("unprocessed link element\n")
		return macroComment("Unprocessed Confluence link")
	})
}

// fallbackLink recovers what it can from a link no rule matched.
func fallbackLink(linkAttrs map[string]string, inner string) string {
	var title, space string
	if pm := pageRefRe.FindStringSubmatch(inner); pm != nil {
		a := attrs(pm[1])
		title, space = a["ri:content-title"], a["ri:space-key"]
	} else if sm := spaceRefRe.FindStringSubmatch(inner); sm != nil {
		space = attrs(sm[1])["ri:space-key"]
	}
	anchor := linkAttrs["ac:anchor"]

	text, _ := cdataText(inner)
	text = strings.TrimSpace(text)
	if text == "" {
		rest := refElementRe.ReplaceAllString(inner, "")
		rest = linkBodyOpenRe.ReplaceAllString(rest, "")
		text = stripTags(rest)
	}

	var href string
	switch {
	case title != "":
		href = pageHref(title, space, anchor)
	case space != "":
		href = "/spaces/" + url.PathEscape(space)
	case anchor != "":
		href = "#" + anchor
	}

	if text == "" {
		switch {
		case title != "":
			text = title
		case space != "":
			text = space
		case href != "":
			text = "Link"
		}
	}
	switch {
	case href != "":
		return `<a href="` + html.EscapeString(href) + `">` + html.EscapeString(text) + `</a>`
	case text != "":
		return html.EscapeString(text)
	}
	debugf("link without target or text\n")
	return macroComment("Unprocessed Confluence link")
}

// pageAnchor renders a link to a page from the attributes of ac:link and
// ri:page. An empty text falls back to the page title.
func pageAnchor(linkAttrs, pageAttrs, text string) (string, bool) {
	a := attrs(pageAttrs)
	title := a["ri:content-title"]
	if strings.TrimSpace(text) == "" {
		if title == "" {
			return "", false
		}
		text = title
	}
	href := pageHref(title, a["ri:space-key"], attrs(linkAttrs)["ac:anchor"])
	return `<a href="` + html.EscapeString(href) + `">` + html.EscapeString(text) + `</a>`, true
}

// pageHref returns the wiki-relative path of a page, qualified by its space
// when the link crosses spaces.
func pageHref(title, spaceKey, anchor string) string {
	var href string
	switch {
	case title == "" && anchor != "":
		return "#" + anchor
	case spaceKey != "":
		href = "/spaces/" + url.PathEscape(spaceKey) + "/pages/" + url.PathEscape(title)
	default:
		href = "/pages/" + url.PathEscape(title)
	}
	if anchor != "" {
		href += "#" + anchor
	}
	return href
}
