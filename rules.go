package main

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/dom"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"golang.org/x/net/html"
)

// registerRules installs the overrides on top of the commonmark rules.
// PriorityEarly (100) runs before the commonmark plugin (PriorityStandard 500).
func registerRules(conv *converter.Converter, preserveTables bool) {
	// The base plugin drops comments; ours carry macro annotations.
	conv.Register.TagType("#comment", converter.TagTypeInline, converter.PriorityEarly)
	conv.Register.Renderer(renderComment, converter.PriorityEarly)

	conv.Register.RendererFor("pre", converter.TagTypeBlock, renderCodeBlock, converter.PriorityEarly)
	conv.Register.RendererFor("img", converter.TagTypeInline, renderImage, converter.PriorityEarly)
	conv.Register.RendererFor("div", converter.TagTypeBlock, renderMacroDiv, converter.PriorityEarly)

	if preserveTables {
		conv.Register.RendererFor("table", converter.TagTypeBlock, renderHTMLTable, converter.PriorityEarly)
	} else {
		conv.Register.RendererFor("table", converter.TagTypeBlock, renderMarkdownTable, converter.PriorityEarly)
	}
}

func renderComment(ctx converter.Context, w converter.Writer, n *html.Node) converter.RenderStatus {
	if n.Type != html.CommentNode {
		return converter.RenderTryNext
	}
	w.WriteString("<!--")
	w.WriteString(n.Data)
	w.WriteString("-->")
	return converter.RenderSuccess
}

// renderCodeBlock fences <pre> content, taking the language from a
// language-* class on the inner <code>.
func renderCodeBlock(ctx converter.Context, w converter.Writer, n *html.Node) converter.RenderStatus {
	code := n
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "code" {
			code = c
			break
		}
	}
	lang := ""
	for _, class := range classes(code) {
		if strings.HasPrefix(class, "language-") {
			lang = strings.TrimPrefix(class, "language-")
			break
		}
	}
	body := strings.TrimSuffix(textContent(code), "\n")

	fence := "```"
	for strings.Contains(body, fence) {
		fence += "`"
	}
	w.WriteString("\n\n")
	w.WriteString(fence + lang + "\n")
	w.WriteString(body)
	w.WriteString("\n" + fence + "\n\n")
	return converter.RenderSuccess
}

var attachmentSrcRe = regexp.MustCompile(`/download/(?:attachments|thumbnails)/[^/]+/([^/?#]+)`)

// renderImage writes a Markdown image. Attachment images get a comment with
// the original file name; other images keep their sizing as a comment.
func renderImage(ctx converter.Context, w converter.Writer, n *html.Node) converter.RenderStatus {
	src := strings.TrimSpace(dom.GetAttributeOr(n, "src", ""))
	if src == "" {
		return converter.RenderTryNext
	}
	alt := strings.TrimSpace(dom.GetAttributeOr(n, "alt", ""))
	alt = strings.NewReplacer("[", `\[`, "]", `\]`, "\n", " ").Replace(alt)
	if strings.ContainsAny(src, " ()") {
		src = "<" + src + ">"
	}
	w.WriteString("![" + alt + "](" + src + ")")

	if m := attachmentSrcRe.FindStringSubmatch(src); m != nil {
		name, err := url.PathUnescape(m[1])
		if err != nil {
			name = m[1]
		}
		w.WriteString(macroComment("Confluence attachment: %s", name))
		return converter.RenderSuccess
	}

	var sizing []string
	for _, key := range []string{"width", "height", "border"} {
		if v, ok := dom.GetAttribute(n, key); ok && v != "" {
			sizing = append(sizing, key+"="+v)
		}
	}
	if len(sizing) > 0 {
		w.WriteString(macroComment("Image attributes: %s", strings.Join(sizing, ", ")))
	}
	return converter.RenderSuccess
}

// renderMacroDiv wraps admonition and gallery divs in marker comments.
func renderMacroDiv(ctx converter.Context, w converter.Writer, n *html.Node) converter.RenderStatus {
	for _, class := range classes(n) {
		switch {
		case class == "confluence-gallery":
			w.WriteString("\n\n<!-- Gallery -->\n\n")
			ctx.RenderChildNodes(ctx, w, n)
			w.WriteString("\n\n<!-- End Gallery -->\n\n")
			return converter.RenderSuccess
		case strings.HasPrefix(class, "confluence-macro-"):
			name := strings.TrimPrefix(class, "confluence-macro-")
			w.WriteString("\n\n<!-- BEGIN MACRO: " + name + " -->\n\n")
			ctx.RenderChildNodes(ctx, w, n)
			w.WriteString("\n\n<!-- END MACRO: " + name + " -->\n\n")
			return converter.RenderSuccess
		}
	}
	return converter.RenderTryNext
}

func classes(n *html.Node) []string {
	return strings.Fields(dom.GetAttributeOr(n, "class", ""))
}

// textContent concatenates the text below n.
func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}
