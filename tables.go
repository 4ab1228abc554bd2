package main

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/dom"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"golang.org/x/net/html"
)

var cellNewlinesRe = regexp.MustCompile(`\s*\n\s*`)

// tableCell is one converted cell and its optional color annotation.
type tableCell struct {
	Text       string
	Annotation string
}

func (c tableCell) String() string {
	if c.Annotation == "" {
		return c.Text
	}
	if c.Text == "" {
		return "{." + c.Annotation + "}"
	}
	return c.Text + " {." + c.Annotation + "}"
}

// renderMarkdownTable emits a pipe table. Rows are rebuilt from the DOM so
// cell styles can be inspected; the separator goes under the first row of
// the table only, and only when that row holds a header cell.
func renderMarkdownTable(ctx converter.Context, w converter.Writer, n *html.Node) converter.RenderStatus {
	rows := tableRows(n)
	var b strings.Builder
	for i, tr := range rows {
		cells := rowCells(ctx, tr)
		if len(cells) == 0 {
			continue
		}
		parts := make([]string, len(cells))
		for j, c := range cells {
			parts[j] = c.String()
		}
		b.WriteString("| " + strings.Join(parts, " | ") + " |\n")
		if i == 0 && hasHeaderCell(tr) {
			b.WriteString(strings.TrimSuffix(strings.Repeat("| --- ", len(cells)), " ") + " |\n")
		}
	}
	if b.Len() == 0 {
		return converter.RenderSuccess
	}
	w.WriteString("\n\n")
	w.WriteString(b.String())
	w.WriteString("\n\n")
	return converter.RenderSuccess
}

// tableRows returns the rows of a table in document order, whether or not
// they sit in thead/tbody/tfoot, without descending into nested tables.
func tableRows(table *html.Node) []*html.Node {
	var rows []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.Data {
			case "tr":
				rows = append(rows, c)
			case "thead", "tbody", "tfoot":
				walk(c)
			}
		}
	}
	walk(table)
	return rows
}

func hasHeaderCell(tr *html.Node) bool {
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "th" {
			return true
		}
	}
	return false
}

func rowCells(ctx converter.Context, tr *html.Node) []tableCell {
	var cells []tableCell
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || (c.Data != "td" && c.Data != "th") {
			continue
		}
		var buf bytes.Buffer
		ctx.RenderChildNodes(ctx, &buf, c)
		text := strings.TrimSpace(buf.String())
		text = cellNewlinesRe.ReplaceAllString(text, " ")
		text = escapeCellPipes(text)
		cells = append(cells, tableCell{Text: text, Annotation: cellAnnotation(c)})
	}
	return cells
}

// escapeCellPipes escapes pipes the engine left bare. A pipe behind an odd
// run of backslashes is already escaped.
func escapeCellPipes(text string) string {
	if !strings.Contains(text, "|") {
		return text
	}
	var b strings.Builder
	backslashes := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == '|' && backslashes%2 == 0 {
			b.WriteByte('\\')
		}
		if c == '\\' {
			backslashes++
		} else {
			backslashes = 0
		}
		b.WriteByte(c)
	}
	return b.String()
}

// cellAnnotation names a cell's background color, from its inline style or
// the editor's highlight attribute.
func cellAnnotation(cell *html.Node) string {
	if style, ok := dom.GetAttribute(cell, "style"); ok {
		if r, g, b, ok := parseBackgroundColor(style); ok {
			return colorName(r, g, b)
		}
	}
	if v, ok := dom.GetAttribute(cell, "data-highlight-colour"); ok {
		if hex, ok := highlightColor(v); ok {
			if r, g, b, ok := parseColor(hex); ok {
				return colorName(r, g, b)
			}
		}
	}
	return ""
}
