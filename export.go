// Export orchestration: single pages, whole spaces, local export files, and
// republishing into the destination wiki.
package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// pageSource is the part of the source client the exporter needs.
type pageSource interface {
	GetPage(ctx context.Context, id string) (*Document, error)
	GetAllPagesFromSpace(ctx context.Context, key string) ([]Document, error)
}

// pagePublisher is the part of the destination client the exporter needs.
type pagePublisher interface {
	assetUploader
	GetPageByPath(ctx context.Context, path, locale string) (*wikiPage, error)
	CreatePage(ctx context.Context, in pageInput) (*wikiPage, error)
	UpdatePage(ctx context.Context, id int, in pageInput) error
}

// exportOptions are the per-run switches set from the command line.
type exportOptions struct {
	OutputDir      string
	PreserveTables bool
	DownloadImages bool
	ForWikiJS      bool
	EpubPath       string
}

// exporter runs conversions against one source and, for publishing, one
// destination.
type exporter struct {
	source  pageSource
	dest    pagePublisher
	baseURL string
	auth    AuthMethod
	cfg     config
	opts    exportOptions

	// client overrides the HTTP client used for attachment downloads.
	client *http.Client
}

// pageResult is one converted document.
type pageResult struct {
	Doc      Document
	Markdown string
	Path     string
	Assets   []downloadedAsset
}

var exportFileIDRe = regexp.MustCompile(`_(\d+)$`)

var exportExtensions = map[string]bool{
	".html":    true,
	".htm":     true,
	".xml":     true,
	".storage": true,
}

func (x *exporter) imageOptions(lowercase bool) imageOptions {
	o := x.cfg.imageOptions()
	o.Client = x.client
	o.LowercaseNames = lowercase
	return o
}

func (x *exporter) imageDir() string {
	return filepath.Join(x.outputDir(), "images")
}

func (x *exporter) outputDir() string {
	if x.opts.OutputDir == "" {
		return "."
	}
	return x.opts.OutputDir
}

// frontMatter is the metadata block written above every exported page.
func frontMatter(doc Document) string {
	created := ""
	if !doc.Created.IsZero() {
		created = doc.Created.UTC().Format(time.RFC3339)
	}
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "title: %s\n", strconv.Quote(doc.Title))
	fmt.Fprintf(&b, "id: %s\n", strconv.Quote(doc.ID))
	fmt.Fprintf(&b, "confluence_url: %s\n", strconv.Quote(doc.WebUIPath))
	fmt.Fprintf(&b, "created: %s\n", strconv.Quote(created))
	b.WriteString("---\n\n")
	return b.String()
}

// renderMarkdown converts html (storage markup, or rendered HTML when
// storage is false) and runs the optional image and destination stages.
func (x *exporter) renderMarkdown(ctx context.Context, doc Document, markup string, storage bool) (string, []downloadedAsset, error) {
	opts := conversionOptions{PreserveHTMLTables: x.opts.PreserveTables, PageID: doc.ID}
	var md string
	var err error
	if storage {
		md, err = convertStorageToMarkdown(markup, opts)
	} else {
		md, err = convertHTMLToMarkdown(markup, opts)
	}
	if err != nil {
		return "", nil, fmt.Errorf("converting %q: %w", doc.Title, err)
	}

	var assets []downloadedAsset
	if x.opts.DownloadImages {
		md, assets, err = downloadAndUpdateImages(ctx, md, x.imageDir(), x.baseURL, x.auth, x.imageOptions(false))
		if err != nil {
			return "", nil, err
		}
	}
	if x.opts.ForWikiJS {
		md = toDestinationMarkdown(md)
	}
	return md, assets, nil
}

func (x *exporter) renderPage(ctx context.Context, doc Document) (pageResult, error) {
	md, assets, err := x.renderMarkdown(ctx, doc, doc.Body, true)
	if err != nil {
		return pageResult{}, err
	}
	return pageResult{Doc: doc, Markdown: frontMatter(doc) + md + "\n", Assets: assets}, nil
}

// markdownFilename names the output file for doc. Titles already taken in
// this run get the page ID appended.
func markdownFilename(doc Document, used map[string]bool) string {
	base := strings.TrimSpace(doc.Title)
	if base == "" {
		base = doc.ID
	}
	base = sanitizeFilename(base)
	name := truncateFilename(base+".md", maxFilenameLen)
	if used[strings.ToLower(name)] && doc.ID != "" {
		name = truncateFilename(base+"_"+doc.ID+".md", maxFilenameLen)
	}
	if used != nil {
		used[strings.ToLower(name)] = true
	}
	return name
}

func (x *exporter) write(res *pageResult, used map[string]bool) error {
	dir := x.outputDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	res.Path = filepath.Join(dir, markdownFilename(res.Doc, used))
	if err := os.WriteFile(res.Path, []byte(res.Markdown), 0o644); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}

// exportPage converts one page. The Markdown is written to the output
// directory when one is set; otherwise only returned.
func (x *exporter) exportPage(ctx context.Context, id string) (pageResult, error) {
	doc, err := x.source.GetPage(ctx, id)
	if err != nil {
		return pageResult{}, err
	}
	fmt.Fprintf(logOut, "Title: %s\n", doc.Title)
	res, err := x.renderPage(ctx, *doc)
	if err != nil {
		return pageResult{}, err
	}
	if x.opts.OutputDir != "" {
		if err := x.write(&res, nil); err != nil {
			return pageResult{}, err
		}
	}
	return res, nil
}

// exportSpace converts every page of a space into the output directory,
// continuing past page failures. Listing failures are returned.
func (x *exporter) exportSpace(ctx context.Context, key string) (*tally, error) {
	docs, err := x.source.GetAllPagesFromSpace(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("listing space %s: %w", key, err)
	}
	fmt.Fprintf(logOut, "Exporting %d pages from %s\n", len(docs), key)

	t := newTally(len(docs))
	used := map[string]bool{}
	var chapters []epubChapter
	images := epubImages{}
	for i, doc := range docs {
		fmt.Fprintf(logOut, "[%d/%d] %s\n", i+1, len(docs), doc.Title)
		res, err := x.renderPage(ctx, doc)
		if err == nil {
			err = x.write(&res, used)
		}
		if err != nil {
			t.fail(doc.Title, err)
			continue
		}
		t.success(doc.Title, res.Path)
		if x.opts.EpubPath != "" {
			chapters = append(chapters, epubChapter{
				Title:   doc.Title,
				HTML:    preprocess(doc.Body, doc.ID),
				URL:     x.baseURL + doc.WebUIPath,
				Created: doc.Created,
			})
			images.add(res.Assets)
		}
	}

	if x.opts.EpubPath != "" && len(chapters) > 0 {
		fmt.Fprintf(logOut, "Building epub from %d pages...\n", len(chapters))
		if err := buildEpub(key, x.baseURL, chapters, images, x.opts.EpubPath); err != nil {
			return t, fmt.Errorf("building epub: %w", err)
		}
		fmt.Fprintf(logOut, "✓ %s (%d pages)\n", x.opts.EpubPath, len(chapters))
	}
	return t, nil
}

// pageIDFromFilename splits an export file name such as "Release-Notes_98765"
// into a title and page ID.
func pageIDFromFilename(base string) (title, id string) {
	title = base
	if m := exportFileIDRe.FindStringSubmatchIndex(base); m != nil {
		id = base[m[2]:m[3]]
		title = base[:m[0]]
	}
	title = strings.TrimSpace(strings.NewReplacer("-", " ", "_", " ").Replace(title))
	return title, id
}

// convertFile converts one local file. Complete HTML pages go through
// main-content extraction; anything else is treated as storage markup.
func (x *exporter) convertFile(ctx context.Context, path string) (pageResult, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return pageResult{}, err
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	title, id := pageIDFromFilename(base)
	doc := Document{ID: id, Title: title}
	if id != "" {
		doc.WebUIPath = "/pages/viewpage.action?pageId=" + id
	}

	var md string
	var assets []downloadedAsset
	if isFullHTMLDocument(b) {
		pageURL, err := x.fileURL(path)
		if err != nil {
			return pageResult{}, err
		}
		content, extracted, err := extractArticle(b, pageURL)
		if err != nil {
			return pageResult{}, err
		}
		if t := exportTitle(b); t != "" {
			doc.Title = t
		} else if t := cleanExportTitle(extracted); t != "" {
			doc.Title = t
		}
		md, assets, err = x.renderMarkdown(ctx, doc, content, false)
		if err != nil {
			return pageResult{}, err
		}
	} else {
		doc.Body = string(b)
		md, assets, err = x.renderMarkdown(ctx, doc, doc.Body, true)
		if err != nil {
			return pageResult{}, err
		}
	}
	return pageResult{Doc: doc, Markdown: frontMatter(doc) + md + "\n", Assets: assets}, nil
}

// fileURL is the URL relative links inside an export file resolve against:
// the source wiki when configured, else the file itself.
func (x *exporter) fileURL(path string) (*url.URL, error) {
	if x.baseURL != "" {
		return url.Parse(x.baseURL + "/")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return &url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}, nil
}

// convertDir converts every export file under dir, continuing past file
// failures.
func (x *exporter) convertDir(ctx context.Context, dir string) (*tally, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir && (d.Name() == "images" || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if exportExtensions[strings.ToLower(filepath.Ext(p))] {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	sort.Strings(files)

	t := newTally(len(files))
	used := map[string]bool{}
	for i, f := range files {
		fmt.Fprintf(logOut, "[%d/%d] %s\n", i+1, len(files), f)
		res, err := x.convertFile(ctx, f)
		if err == nil {
			err = x.write(&res, used)
		}
		if err != nil {
			t.fail(f, err)
			continue
		}
		t.success(f, res.Path)
	}
	return t, nil
}

// assetFolder is the destination asset folder for a space's attachments.
func (x *exporter) assetFolder(key string) string {
	return joinWikiPath(x.cfg.WikiJSPrefix, slugSegment(key, x.cfg.WikiJSLocale))
}

// publishSpace republishes every page of a space into the destination wiki,
// updating pages that already exist at their path.
func (x *exporter) publishSpace(ctx context.Context, key string) (*tally, error) {
	if x.dest == nil {
		return nil, fmt.Errorf("%w: no destination wiki configured", errConfig)
	}
	docs, err := x.source.GetAllPagesFromSpace(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("listing space %s: %w", key, err)
	}
	tmp, err := os.MkdirTemp("", "wikimd-assets-")
	if err != nil {
		return nil, fmt.Errorf("creating temporary directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	fmt.Fprintf(logOut, "Publishing %d pages from %s to %s\n", len(docs), key, x.cfg.WikiJSURL)
	t := newTally(len(docs))
	for i, doc := range docs {
		fmt.Fprintf(logOut, "[%d/%d] %s\n", i+1, len(docs), doc.Title)
		path, err := x.publishPage(ctx, doc, key, tmp)
		if err != nil {
			t.fail(doc.Title, err)
			continue
		}
		t.success(doc.Title, path)
	}
	return t, nil
}

func (x *exporter) publishPage(ctx context.Context, doc Document, key, imageDir string) (string, error) {
	locale := x.cfg.WikiJSLocale
	md, err := convertStorageToMarkdown(doc.Body, conversionOptions{PreserveHTMLTables: x.opts.PreserveTables, PageID: doc.ID})
	if err != nil {
		return "", fmt.Errorf("converting: %w", err)
	}
	target := wikiJSTarget{Uploader: x.dest, BaseURL: x.cfg.WikiJSURL, Folder: x.assetFolder(key)}
	md, _, err = processImagesForWikiJs(ctx, md, imageDir, x.baseURL, x.auth, x.imageOptions(x.cfg.LowercaseAssets), target)
	if err != nil {
		return "", err
	}
	md = toDestinationMarkdown(md)

	path := createHierarchicalPath(doc, x.cfg.WikiJSPrefix, locale)
	in := pageInput{
		Path:        path,
		Title:       doc.Title,
		Content:     md,
		Description: "Imported from " + key,
		Locale:      locale,
		Tags:        []string{strings.ToLower(key)},
	}
	existing, err := x.dest.GetPageByPath(ctx, path, locale)
	if err != nil {
		return "", fmt.Errorf("looking up %s: %w", path, err)
	}
	if existing != nil {
		debugf("updating page %d at %s\n", existing.ID, path)
		if err := x.dest.UpdatePage(ctx, existing.ID, in); err != nil {
			return "", err
		}
		return path, nil
	}
	if _, err := x.dest.CreatePage(ctx, in); err != nil {
		return "", err
	}
	return path, nil
}
