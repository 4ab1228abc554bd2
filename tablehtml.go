package main

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const (
	defaultTableStyle = "border-collapse: collapse;"
	defaultCellStyle  = "border: 1px solid #ccc; padding: 4px 8px;"
)

// tableContainerTags are laid out one element per line; everything else is
// written inline inside its cell.
var tableContainerTags = map[string]bool{
	"table":    true,
	"thead":    true,
	"tbody":    true,
	"tfoot":    true,
	"tr":       true,
	"colgroup": true,
}

// renderHTMLTable keeps a table as cleaned, indented HTML.
func renderHTMLTable(ctx converter.Context, w converter.Writer, n *html.Node) converter.RenderStatus {
	var raw bytes.Buffer
	if err := html.Render(&raw, n); err != nil {
		return converter.RenderTryNext
	}
	cleaned, err := cleanTableHTML(raw.String())
	if err != nil {
		debugf("table cleanup failed: %v\n", err)
		return converter.RenderTryNext
	}
	w.WriteString("\n\n")
	w.WriteString(cleaned)
	w.WriteString("\n\n")
	return converter.RenderSuccess
}

// cleanTableHTML strips editor classes and attributes from a table, turns
// highlight markers into inline background colors, and adds a minimal
// border style when the table carries no styling at all.
func cleanTableHTML(tableHTML string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(tableHTML))
	if err != nil {
		return "", fmt.Errorf("parsing table: %w", err)
	}
	table := doc.Find("table").First()
	if table.Length() == 0 {
		return "", fmt.Errorf("no table element")
	}

	all := table.Find("*").AddSelection(table)
	all.Each(func(_ int, sel *goquery.Selection) {
		cleanTableElement(sel)
	})

	styled := false
	all.EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if v, ok := sel.Attr("style"); ok && strings.TrimSpace(v) != "" {
			styled = true
		}
		return !styled
	})
	if !styled {
		table.SetAttr("style", defaultTableStyle)
		table.Find("th, td").SetAttr("style", defaultCellStyle)
	}

	var b strings.Builder
	writeIndentedTable(&b, table.Get(0), 0)
	return strings.TrimRight(b.String(), "\n"), nil
}

func cleanTableElement(sel *goquery.Selection) {
	background := ""
	if cls, ok := sel.Attr("class"); ok {
		var keep []string
		for _, c := range strings.Fields(cls) {
			switch {
			case strings.HasPrefix(c, "confluence"), c == "wrapped", c == "relative-table", c == "fixed-table":
			case strings.HasPrefix(c, "highlight-"):
				if hex, ok := highlightColor(strings.TrimPrefix(c, "highlight-")); ok {
					background = hex
				}
			default:
				keep = append(keep, c)
			}
		}
		if len(keep) > 0 {
			sel.SetAttr("class", strings.Join(keep, " "))
		} else {
			sel.RemoveAttr("class")
		}
	}
	if v, ok := sel.Attr("data-highlight-colour"); ok {
		if hex, ok := highlightColor(v); ok {
			background = hex
		}
	}

	var drop []string
	for _, a := range sel.Get(0).Attr {
		if strings.HasPrefix(a.Key, "data-highlight") || strings.HasPrefix(a.Key, "data-mce") {
			drop = append(drop, a.Key)
		}
	}
	for _, k := range drop {
		sel.RemoveAttr(k)
	}

	if background != "" {
		style, _ := sel.Attr("style")
		if !strings.Contains(style, "background") {
			style = strings.TrimSpace(style)
			if style != "" && !strings.HasSuffix(style, ";") {
				style += ";"
			}
			if style != "" {
				style += " "
			}
			sel.SetAttr("style", style+"background-color: "+background+";")
		}
	}
}

// writeIndentedTable serializes a table with two spaces of indentation per
// nesting level of its structural elements.
func writeIndentedTable(b *strings.Builder, n *html.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	if !tableContainerTags[n.Data] {
		var buf bytes.Buffer
		html.Render(&buf, n)
		b.WriteString(indent + strings.TrimSpace(buf.String()) + "\n")
		return
	}
	b.WriteString(indent + startTag(n) + "\n")
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.ElementNode:
			writeIndentedTable(b, c, depth+1)
		case html.CommentNode:
			b.WriteString(indent + "  <!--" + c.Data + "-->\n")
		}
	}
	b.WriteString(indent + "</" + n.Data + ">\n")
}

func startTag(n *html.Node) string {
	var b strings.Builder
	b.WriteString("<" + n.Data)
	for _, a := range n.Attr {
		fmt.Fprintf(&b, ` %s="%s"`, a.Key, html.EscapeString(a.Val))
	}
	b.WriteString(">")
	return b.String()
}
