package main

import (
	"regexp"
	"strings"
)

var (
	tableMacroOpenRe = regexp.MustCompile(`<ac:structured-macro\b[^>]*?\bac:name="table(?:-[a-z]+)*"(?:[^>]*[^/>])?>`)
	cellOpenRe       = regexp.MustCompile(`<(t[hd]|table)\b([^>]*)>`)
	classAttrRe      = regexp.MustCompile(`\s+class="([^"]*)"`)
	cellRe           = regexp.MustCompile(`(?s)(<t[hd]\b[^>]*>)(.*?)(</t[hd]>)`)
	tableRe          = regexp.MustCompile(`(?s)<table\b[^>]*>.*?</table>`)
	nbspRe           = regexp.MustCompile(`&nbsp;|&#160;|\x{00a0}`)
)

// platformTableClasses are editor classes with no meaning outside the wiki.
var platformTableClasses = map[string]bool{
	"confluenceTable": true,
	"confluenceTh":    true,
	"confluenceTd":    true,
}

// preprocessConfluenceTables unwraps table macros to their table HTML and
// normalizes the cells inside every table.
func preprocessConfluenceTables(s string) string {
	s = unwrapTableMacros(s)
	s = cellOpenRe.ReplaceAllStringFunc(s, stripPlatformClasses)
	s = cellRe.ReplaceAllStringFunc(s, func(match string) string {
		m := cellRe.FindStringSubmatch(match)
		content := strings.TrimSpace(m[2])
		if isBlankHTML(content) {
			content = " "
		}
		return m[1] + content + m[3]
	})
	return tableRe.ReplaceAllStringFunc(s, func(table string) string {
		if isBlankHTML(table) {
			debugf("dropping empty table\n")
			return ""
		}
		return table
	})
}

// contentMarkers are markup that later passes turn into visible output even
// when no plain text surrounds it.
var contentMarkers = []string{"<img", "<ac:", "<ri:", "<![CDATA[", "<time"}

// isBlankHTML reports whether a fragment renders to nothing visible.
func isBlankHTML(s string) bool {
	for _, m := range contentMarkers {
		if strings.Contains(s, m) {
			return false
		}
	}
	return strings.TrimSpace(nbspRe.ReplaceAllString(stripTags(s), "")) == ""
}

// unwrapTableMacros replaces each table* macro with its rich text body. The
// closing tag is found by depth so macros nested in cells stay intact.
func unwrapTableMacros(s string) string {
	for {
		loc := tableMacroOpenRe.FindStringIndex(s)
		if loc == nil {
			return s
		}
		end, closeLen := matchingMacroClose(s, loc[1])
		if end < 0 {
			debugf("table macro is not terminated\n")
			return s[:loc[0]] + macroComment("Confluence macro: table (unterminated)") + s[loc[1]:]
		}
		inner := s[loc[1]:end]
		body := ""
		if i := strings.Index(inner, "<ac:rich-text-body>"); i >= 0 {
			if j := strings.LastIndex(inner, "</ac:rich-text-body>"); j > i {
				body = inner[i+len("<ac:rich-text-body>") : j]
			}
		}
		s = s[:loc[0]] + body + s[end+closeLen:]
	}
}

// matchingMacroClose returns the index of the close tag matching a macro
// whose start tag ends at from.
func matchingMacroClose(s string, from int) (int, int) {
	depth := 1
	i := from
	for i < len(s) {
		nextOpen := strings.Index(s[i:], macroOpenTag)
		nextClose := strings.Index(s[i:], macroCloseTag)
		if nextClose < 0 {
			return -1, 0
		}
		if nextOpen >= 0 && nextOpen < nextClose {
			tagEnd := strings.IndexByte(s[i+nextOpen:], '>')
			if tagEnd < 0 {
				return -1, 0
			}
			if s[i+nextOpen+tagEnd-1] != '/' {
				depth++
			}
			i += nextOpen + tagEnd + 1
			continue
		}
		depth--
		if depth == 0 {
			return i + nextClose, len(macroCloseTag)
		}
		i += nextClose + len(macroCloseTag)
	}
	return -1, 0
}

// stripPlatformClasses removes editor classes from a table or cell start
// tag and leaves every other attribute alone.
func stripPlatformClasses(tag string) string {
	return classAttrRe.ReplaceAllStringFunc(tag, func(attr string) string {
		var keep []string
		for _, c := range strings.Fields(classAttrRe.FindStringSubmatch(attr)[1]) {
			if !platformTableClasses[c] {
				keep = append(keep, c)
			}
		}
		if len(keep) == 0 {
			return ""
		}
		return ` class="` + strings.Join(keep, " ") + `"`
	})
}
