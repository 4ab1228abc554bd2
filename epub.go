// Offline epub bundle of an exported space, built from the intermediate HTML
// the preprocessor produces for each page.
package main

import (
	"encoding/base64"
	"fmt"
	gohtml "html"
	"strings"
	"time"

	epub "github.com/go-shiori/go-epub"
)

// epubChapter is one exported page.
type epubChapter struct {
	Title   string
	HTML    string    // preprocessed storage markup
	URL     string    // page URL on the source wiki
	Created time.Time // zero when unknown
}

// epubImages maps sanitized attachment file names to downloaded copies.
type epubImages map[string]string

func (m epubImages) add(assets []downloadedAsset) {
	for _, a := range assets {
		m[a.SanitizedFilename] = a.LocalPath
	}
}

// imageEmbedder adds each downloaded attachment to the book once and
// resolves img sources to the copy inside it.
type imageEmbedder struct {
	book   *epub.Epub
	images epubImages
	added  map[string]string
}

func (ie *imageEmbedder) resolve(src string) string {
	name := sanitizeFilename(attachmentFilename(src))
	if internal, ok := ie.added[name]; ok {
		return internal
	}
	local, ok := ie.images[name]
	if !ok {
		debugf("epub: no local copy of %s\n", src)
		return ""
	}
	internal, err := ie.book.AddImage(local, name)
	if err != nil {
		fmt.Fprintf(logOut, "Warning: failed to add image %s: %v\n", name, err)
		return ""
	}
	ie.added[name] = internal
	return internal
}

func chapterFilename(i int) string {
	return fmt.Sprintf("page%03d.xhtml", i+1)
}

// buildTOCBody lists every page with its creation date and source link.
func buildTOCBody(spaceKey string, chapters []epubChapter) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h1>%s</h1>\n<ol class=\"toc\">\n", gohtml.EscapeString(spaceKey))
	for i, ch := range chapters {
		fmt.Fprintf(&b, "<li>\n<a href=\"%s\">%s</a>\n", chapterFilename(i), gohtml.EscapeString(chapterTitle(ch, i)))
		var meta []string
		if !ch.Created.IsZero() {
			meta = append(meta, ch.Created.Format("January 2, 2006"))
		}
		if ch.URL != "" {
			meta = append(meta, `<a href="`+gohtml.EscapeString(ch.URL)+`">source</a>`)
		}
		if len(meta) > 0 {
			fmt.Fprintf(&b, "<p class=\"toc-meta\">%s</p>\n", strings.Join(meta, " · "))
		}
		b.WriteString("</li>\n")
	}
	b.WriteString("</ol>\n")
	return b.String()
}

func chapterTitle(ch epubChapter, i int) string {
	if ch.Title != "" {
		return ch.Title
	}
	return fmt.Sprintf("Page %d", i+1)
}

const epubCSS = `body { margin: 1em; line-height: 1.5; }
img { max-width: 100%; height: auto; }
pre, code { font-size: 0.85em; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 4px 8px; }
.confluence-macro-info, .confluence-macro-note, .confluence-macro-tip, .confluence-macro-warning { border-left: 3px solid #999; padding-left: 0.5em; margin: 1em 0; }
.byline { font-size: 0.85em; color: #666; margin-top: -0.5em; margin-bottom: 1.5em; }
.toc { list-style-type: none; padding-left: 0; }
.toc li { margin-bottom: 1.2em; }
.toc-meta { font-size: 0.85em; color: #666; margin-top: 0.1em; }`

// buildEpub writes an epub3 with a contents page followed by one section per
// page. Sections that fail to add are logged and skipped.
func buildEpub(spaceKey, baseURL string, chapters []epubChapter, images epubImages, outputPath string) error {
	if len(chapters) == 0 {
		return fmt.Errorf("no pages to bundle")
	}
	e, err := epub.NewEpub(spaceKey)
	if err != nil {
		return fmt.Errorf("creating epub: %w", err)
	}
	e.SetLang("en")
	e.SetAuthor("wikimd")

	cssPath, err := e.AddCSS("data:text/css;base64,"+base64.StdEncoding.EncodeToString([]byte(epubCSS)), "styles.css")
	if err != nil {
		fmt.Fprintf(logOut, "Warning: could not add CSS: %v\n", err)
		cssPath = ""
	}
	if _, err := e.AddSection(buildTOCBody(spaceKey, chapters), "Contents", "contents.xhtml", cssPath); err != nil {
		fmt.Fprintf(logOut, "Warning: could not add table of contents: %v\n", err)
	}

	if err := addCover(e, spaceKey, len(chapters)); err != nil {
		fmt.Fprintf(logOut, "Warning: could not add cover: %v\n", err)
	}

	embedder := &imageEmbedder{book: e, images: images, added: map[string]string{}}
	opts := xhtmlOptions{BaseURL: baseURL, Image: embedder.resolve}
	for i, ch := range chapters {
		title := chapterTitle(ch, i)
		body := chapterHeader(ch, i) + sanitizeForXHTML(shiftHeadings(ch.HTML), opts)
		if _, err := e.AddSection(body, title, chapterFilename(i), cssPath); err != nil {
			fmt.Fprintf(logOut, "Warning: could not add section %q: %v\n", title, err)
		}
	}

	if err := e.Write(outputPath); err != nil {
		return fmt.Errorf("writing epub: %w", err)
	}
	return nil
}
