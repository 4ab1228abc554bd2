// Destination adapter: turns exporter Markdown into plain Markdown for the
// destination wiki, where annotation comments have no use.
package main

import (
	"regexp"
	"strings"
)

var (
	annotationCommentRe = regexp.MustCompile(`(?s)<!-- (?:Confluence (?:attachment|macro|placeholder)|Image attributes|Unprocessed Confluence link)\b.*? -->`)
	galleryCommentRe    = regexp.MustCompile(`<!-- (?:End )?Gallery -->`)
	beginMacroRe        = regexp.MustCompile(`<!-- BEGIN MACRO: ([\w.-]+)(.*?) -->`)
	endMacroRe          = regexp.MustCompile(`<!-- END MACRO: ([\w.-]+) -->`)
	blankRunRe          = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)
)

// calloutLabels lists the macros rendered as callouts. An empty label means
// the macro name is used.
var calloutLabels = map[string]string{
	"info":    "Info",
	"warning": "Warning",
	"note":    "Note",
	"tip":     "Tip",
	"error":   "",
	"success": "",
	"panel":   "",
}

// toDestinationMarkdown removes exporter annotations, turns admonition
// blocks into blockquote callouts and tidies blank lines. Applying it to its
// own output changes nothing.
func toDestinationMarkdown(md string) string {
	md = annotationCommentRe.ReplaceAllString(md, "")
	md = galleryCommentRe.ReplaceAllString(md, "")
	md = convertMacroBlocks(md)
	md = blankRunRe.ReplaceAllString(md, "\n\n")
	return strings.TrimSpace(md)
}

// convertMacroBlocks resolves BEGIN/END comment pairs innermost first.
func convertMacroBlocks(md string) string {
	for {
		end := endMacroRe.FindStringSubmatchIndex(md)
		if end == nil {
			break
		}
		begins := beginMacroRe.FindAllStringSubmatchIndex(md[:end[0]], -1)
		if len(begins) == 0 {
			md = md[:end[0]] + md[end[1]:]
			continue
		}
		b := begins[len(begins)-1]
		name := md[b[2]:b[3]]
		params := attrs(md[b[4]:b[5]])
		body := md[b[1]:end[0]]

		var replacement string
		if label, ok := calloutLabels[name]; ok {
			if label == "" {
				label = name
				if t := params["title"]; t != "" {
					label = t
				}
			}
			replacement = "\n\n" + callout(label, body) + "\n\n"
		} else {
			replacement = body
		}
		md = md[:b[0]] + replacement + md[end[1]:]
	}
	return beginMacroRe.ReplaceAllString(md, "")
}

// callout renders a labelled blockquote around body.
func callout(label, body string) string {
	lines := strings.Split(strings.Trim(body, "\n"), "\n")
	var b strings.Builder
	b.WriteString("> **" + label + "**")
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			b.WriteString("\n>")
			continue
		}
		b.WriteString("\n> " + line)
	}
	return b.String()
}
