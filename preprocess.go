// Macro preprocessing: rewrites storage-format macro elements into plain
// HTML before the markup is handed to the Markdown converter.
//
// Every pass is a text rewrite over a small, closed grammar of ac:/ri:
// elements. Spans that cannot yield content become HTML comments naming the
// macro so nothing disappears silently.
package main

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"
)

// placeholderPageID stands in for the page identity when attachment URLs are
// built without one.
const placeholderPageID = "PAGE_ID"

// admonitionMacros are unwrapped into styled divs instead of being annotated.
var admonitionMacros = map[string]bool{
	"info":    true,
	"warning": true,
	"note":    true,
	"tip":     true,
}

var (
	codeMacroRe      = regexp.MustCompile(`(?s)<ac:structured-macro\b[^>]*?\bac:name="(code|noformat)"[^>]*?(/>|>(.*?)</ac:structured-macro>)`)
	languageParamRe  = regexp.MustCompile(`<ac:parameter[^>]*ac:name="language"[^>]*>([^<]+)</ac:parameter>`)
	plainTextBodyRe  = regexp.MustCompile(`(?s)<ac:plain-text-body>(.*?)</ac:plain-text-body>`)
	richTextBodyRe   = regexp.MustCompile(`(?s)<ac:rich-text-body>(.*)</ac:rich-text-body>`)
	cdataRe          = regexp.MustCompile(`(?s)<!\[CDATA\[(.*?)\]\]>`)
	parameterRe      = regexp.MustCompile(`(?s)<ac:parameter\b[^>]*?\bac:name="([^"]*)"[^>]*>(.*?)</ac:parameter>`)
	emptyParameterRe = regexp.MustCompile(`<ac:parameter\b[^>]*/>`)
	attrRe           = regexp.MustCompile(`([\w:-]+)\s*=\s*"([^"]*)"`)
	macroNameRe      = regexp.MustCompile(`\bac:name="([^"]*)"`)
	macroOpenRe      = regexp.MustCompile(`<ac:structured-macro\b[^>]*>`)
	selfClosingMacro = regexp.MustCompile(`<ac:structured-macro\b([^>]*?)/>`)
	imageMacroRe     = regexp.MustCompile(`(?s)<ac:image\b([^>]*?)(?:/>|>(.*?)</ac:image>)`)
	attachmentRefRe  = regexp.MustCompile(`<ri:attachment\b[^>]*?\bri:filename="([^"]*)"`)
	urlRefRe         = regexp.MustCompile(`<ri:url\b[^>]*?\bri:value="([^"]*)"`)
	tagRe            = regexp.MustCompile(`(?s)<[^>]*>`)
)

const (
	macroOpenTag  = "<ac:structured-macro"
	macroCloseTag = "</ac:structured-macro>"
)

// preprocess rewrites raw storage markup into intermediate HTML. The pass
// order matters: table macros are unwrapped before the generic macro pass
// can swallow them, and links run after every macro body has been exposed.
func preprocess(raw, pageID string) string {
	out := preprocessConfluenceTables(raw)
	out = processCodeMacros(out)
	out = processImageMacros(out, pageID)
	out = processGenericMacros(out, pageID)
	out = processConfluenceLinks(out, pageID)
	out = processInlineElements(out)
	return out
}

// macroComment builds an HTML comment whose text cannot terminate early.
func macroComment(format string, args ...any) string {
	text := fmt.Sprintf(format, args...)
	text = strings.ReplaceAll(text, "--", "- -")
	text = strings.ReplaceAll(text, ">", "&gt;")
	return "<!-- " + text + " -->"
}

// attrs parses name="value" pairs from the inside of a start tag.
func attrs(s string) map[string]string {
	m := map[string]string{}
	for _, a := range attrRe.FindAllStringSubmatch(s, -1) {
		m[a[1]] = html.UnescapeString(a[2])
	}
	return m
}

// cdataText joins every CDATA section in s. The editor splits bodies
// containing "]]>" into adjacent sections, so joining restores them.
func cdataText(s string) (string, bool) {
	sections := cdataRe.FindAllStringSubmatch(s, -1)
	if sections == nil {
		return "", false
	}
	var b strings.Builder
	for _, sec := range sections {
		b.WriteString(sec[1])
	}
	return b.String(), true
}

// stripTags returns the text of an HTML fragment.
func stripTags(s string) string {
	return strings.TrimSpace(html.UnescapeString(tagRe.ReplaceAllString(s, "")))
}

// ---------- code / noformat ----------

func processCodeMacros(s string) string {
	return codeMacroRe.ReplaceAllStringFunc(s, func(match string) string {
		m := codeMacroRe.FindStringSubmatch(match)
		name, closing, inner := m[1], m[2], m[3]
		if closing == "/>" {
			debugf("code macro %q has no body\n", name)
			return macroComment("Confluence macro: %s (no body)", name)
		}
		body, ok := plainTextBody(inner)
		if !ok {
			debugf("code macro %q: no extractable body\n", name)
			return macroComment("Confluence macro: %s (no extractable body)", name)
		}
		lang := ""
		if name == "code" {
			if lm := languageParamRe.FindStringSubmatch(inner); lm != nil {
				lang = strings.TrimSpace(html.UnescapeString(lm[1]))
			}
		}
		return codeBlockHTML(lang, body)
	})
}

// plainTextBody extracts the text of an ac:plain-text-body element.
func plainTextBody(inner string) (string, bool) {
	pm := plainTextBodyRe.FindStringSubmatch(inner)
	if pm == nil {
		return "", false
	}
	if text, ok := cdataText(pm[1]); ok {
		return text, true
	}
	text := html.UnescapeString(pm[1])
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	return text, true
}

func codeBlockHTML(lang, body string) string {
	var b strings.Builder
	b.WriteString("<pre><code")
	if lang != "" {
		b.WriteString(` class="language-`)
		b.WriteString(html.EscapeString(lang))
		b.WriteString(`"`)
	}
	b.WriteString(">")
	b.WriteString(html.EscapeString(body))
	b.WriteString("</code></pre>")
	return b.String()
}

// ---------- embedded images ----------

func processImageMacros(s, pageID string) string {
	return imageMacroRe.ReplaceAllStringFunc(s, func(match string) string {
		m := imageMacroRe.FindStringSubmatch(match)
		a := attrs(m[1])
		inner := m[2]

		var src, name string
		if am := attachmentRefRe.FindStringSubmatch(inner); am != nil {
			name = html.UnescapeString(am[1])
			src = attachmentPath(pageID, name)
		} else if um := urlRefRe.FindStringSubmatch(inner); um != nil {
			src = html.UnescapeString(um[1])
		} else {
			debugf("image macro without attachment or url reference\n")
			return macroComment("Confluence macro: image (no source)")
		}

		alt := a["ac:alt"]
		if alt == "" {
			alt = a["ac:title"]
		}
		if alt == "" {
			alt = name
		}
		return imgTag(src, alt, a["ac:width"], a["ac:height"], a["ac:border"])
	})
}

// attachmentPath builds the download path of a file attached to pageID.
func attachmentPath(pageID, filename string) string {
	if pageID == "" {
		pageID = placeholderPageID
	}
	return "/download/attachments/" + url.PathEscape(pageID) + "/" + url.PathEscape(filename)
}

func imgTag(src, alt, width, height, border string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<img src="%s" alt="%s"`, html.EscapeString(src), html.EscapeString(alt))
	for _, kv := range [][2]string{{"width", width}, {"height", height}, {"border", border}} {
		if kv[1] != "" {
			fmt.Fprintf(&b, ` %s="%s"`, kv[0], html.EscapeString(kv[1]))
		}
	}
	b.WriteString(" />")
	return b.String()
}

// ---------- generic structured macros ----------

// processGenericMacros resolves the remaining structured macros innermost
// first, so a macro body never contains an unprocessed macro by the time its
// parent is rewritten.
func processGenericMacros(s, pageID string) string {
	s = selfClosingMacro.ReplaceAllStringFunc(s, func(match string) string {
		name := "unknown"
		if nm := macroNameRe.FindStringSubmatch(match); nm != nil {
			name = nm[1]
		}
		return macroComment("Confluence macro: %s", name)
	})

	for {
		end := strings.Index(s, macroCloseTag)
		if end < 0 {
			break
		}
		start := lastMacroOpen(s[:end])
		if start < 0 {
			debugf("stray %s dropped\n", macroCloseTag)
			s = s[:end] + s[end+len(macroCloseTag):]
			continue
		}
		openEnd := start + strings.IndexByte(s[start:], '>') + 1
		open := s[start:openEnd]
		inner := s[openEnd:end]
		s = s[:start] + renderMacro(open, inner, pageID) + s[end+len(macroCloseTag):]
	}

	// Anything still open never had a closing tag.
	return macroOpenRe.ReplaceAllStringFunc(s, func(match string) string {
		name := "unknown"
		if nm := macroNameRe.FindStringSubmatch(match); nm != nil {
			name = nm[1]
		}
		debugf("macro %q is not terminated\n", name)
		return macroComment("Confluence macro: %s (unterminated)", name)
	})
}

// lastMacroOpen finds the last macro start tag in s.
func lastMacroOpen(s string) int {
	for {
		i := strings.LastIndex(s, macroOpenTag)
		if i < 0 {
			return -1
		}
		rest := s[i+len(macroOpenTag):]
		if rest != "" && (rest[0] == '>' || rest[0] == ' ' || rest[0] == '\t' || rest[0] == '\n' || rest[0] == '\r') &&
			strings.IndexByte(rest, '>') >= 0 {
			return i
		}
		s = s[:i]
	}
}

type macroParam struct {
	name, value string
}

// macroParams returns the top-level parameters of a macro body in order.
func macroParams(inner string) []macroParam {
	withoutBodies := richTextBodyRe.ReplaceAllString(inner, "")
	withoutBodies = plainTextBodyRe.ReplaceAllString(withoutBodies, "")
	var params []macroParam
	for _, pm := range parameterRe.FindAllStringSubmatch(withoutBodies, -1) {
		params = append(params, macroParam{name: pm[1], value: stripTags(pm[2])})
	}
	return params
}

func paramValue(params []macroParam, name string) string {
	for _, p := range params {
		if p.name == name {
			return p.value
		}
	}
	return ""
}

func renderMacro(open, inner, pageID string) string {
	name := "unknown"
	if nm := macroNameRe.FindStringSubmatch(open); nm != nil {
		name = nm[1]
	}
	params := macroParams(inner)

	var rich string
	hasRich := false
	if rm := richTextBodyRe.FindStringSubmatch(inner); rm != nil {
		rich, hasRich = rm[1], true
	}

	switch {
	case admonitionMacros[name]:
		if !hasRich {
			return macroComment("Confluence macro: %s", name)
		}
		body := rich
		if title := paramValue(params, "title"); title != "" {
			body = "<p><strong>" + html.EscapeString(title) + "</strong></p>" + body
		}
		return `<div class="confluence-macro-` + name + `">` + body + `</div>`
	case name == "gallery":
		return galleryHTML(params, pageID)
	}

	var body string
	switch {
	case hasRich:
		body = rich
	default:
		if text, ok := plainTextBody(inner); ok {
			body = codeBlockHTML("", text)
		} else {
			rest := parameterRe.ReplaceAllString(inner, "")
			rest = emptyParameterRe.ReplaceAllString(rest, "")
			if strings.TrimSpace(rest) != "" {
				body = rest
			}
		}
	}
	if body == "" {
		return macroComment("Confluence macro: %s", name)
	}

	var header strings.Builder
	header.WriteString("BEGIN MACRO: " + name)
	for _, p := range params {
		if p.name == "" {
			continue
		}
		fmt.Fprintf(&header, " %s=%q", p.name, p.value)
	}
	return macroComment("%s", header.String()) + body + macroComment("END MACRO: %s", name)
}

// galleryHTML lists the attachments a gallery macro names explicitly.
func galleryHTML(params []macroParam, pageID string) string {
	var files []string
	for _, f := range strings.Split(paramValue(params, "include"), ",") {
		if f = strings.TrimSpace(f); f != "" {
			files = append(files, f)
		}
	}
	if len(files) == 0 {
		return macroComment("Confluence macro: gallery (all attachments)")
	}
	var b strings.Builder
	b.WriteString(`<div class="confluence-gallery">`)
	for _, f := range files {
		b.WriteString("<p>" + imgTag(attachmentPath(pageID, f), f, "", "", "") + "</p>")
	}
	b.WriteString("</div>")
	return b.String()
}

// ---------- inline elements ----------

var (
	emoticonRe      = regexp.MustCompile(`<ac:emoticon\b([^>]*?)/?>(?:\s*</ac:emoticon>)?`)
	inlineCommentRe = regexp.MustCompile(`</?ac:inline-comment-marker\b[^>]*>`)
	taskRe          = regexp.MustCompile(`(?s)<ac:task>(.*?)</ac:task>`)
	taskStatusRe    = regexp.MustCompile(`(?s)<ac:task-status>(.*?)</ac:task-status>`)
	taskBodyRe      = regexp.MustCompile(`(?s)<ac:task-body>(.*?)</ac:task-body>`)
	taskListRe      = regexp.MustCompile(`</?ac:task-list>`)
	timeRe          = regexp.MustCompile(`<time\b([^>]*?)/?>(?:\s*</time>)?`)
	placeholderRe   = regexp.MustCompile(`(?s)<ac:placeholder\b[^>]*>.*?</ac:placeholder>`)
)

var emoticons = map[string]string{
	"smile":       ":)",
	"sad":         ":(",
	"cheeky":      ":P",
	"laugh":       ":D",
	"wink":        ";)",
	"thumbs-up":   "(y)",
	"thumbs-down": "(n)",
	"information": "(i)",
	"tick":        "(/)",
	"cross":       "(x)",
	"warning":     "(!)",
	"plus":        "(+)",
	"minus":       "(-)",
	"question":    "(?)",
	"light-on":    "(on)",
	"light-off":   "(off)",
	"yellow-star": "(*)",
	"heart":       "<3",
}

// processInlineElements handles the small inline elements that carry text
// but no structure: emoticons, task lists, dates and comment markers.
func processInlineElements(s string) string {
	s = emoticonRe.ReplaceAllStringFunc(s, func(match string) string {
		a := attrs(emoticonRe.FindStringSubmatch(match)[1])
		if fb := a["ac:emoji-fallback"]; fb != "" {
			return html.EscapeString(fb)
		}
		if e, ok := emoticons[a["ac:name"]]; ok {
			return html.EscapeString(e)
		}
		if sn := a["ac:emoji-shortname"]; sn != "" {
			return html.EscapeString(sn)
		}
		return ":" + html.EscapeString(a["ac:name"]) + ":"
	})
	s = inlineCommentRe.ReplaceAllString(s, "")
	s = taskRe.ReplaceAllStringFunc(s, func(match string) string {
		inner := taskRe.FindStringSubmatch(match)[1]
		box := "[ ]"
		if sm := taskStatusRe.FindStringSubmatch(inner); sm != nil && strings.TrimSpace(sm[1]) == "complete" {
			box = "[x]"
		}
		body := ""
		if bm := taskBodyRe.FindStringSubmatch(inner); bm != nil {
			body = strings.TrimSpace(bm[1])
		}
		return "<li>" + box + " " + body + "</li>"
	})
	s = taskListRe.ReplaceAllStringFunc(s, func(tag string) string {
		if strings.HasPrefix(tag, "</") {
			return "</ul>"
		}
		return "<ul>"
	})
	s = timeRe.ReplaceAllStringFunc(s, func(match string) string {
		return html.EscapeString(attrs(timeRe.FindStringSubmatch(match)[1])["datetime"])
	})
	s = placeholderRe.ReplaceAllString(s, macroComment("Confluence placeholder"))
	return s
}
