// Image pipeline: finds attachment images in converted Markdown, downloads
// them with credentials and points the references at the stored copies.
package main

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

type imageRefKind int

const (
	refMarkdown imageRefKind = iota
	refHTMLTag
)

// imageReference is one image found in converted text.
type imageReference struct {
	Kind      imageRefKind
	FullMatch string
	AltText   string
	URL       string
}

// downloadedAsset is an attachment written to disk by the pipeline.
type downloadedAsset struct {
	OriginalFilename  string
	SanitizedFilename string
	LocalPath         string
	ByteSize          int64
}

var (
	mdImageRe   = regexp.MustCompile(`!\[((?:\\.|[^\]\\])*)\]\(\s*<?([^)\s>]+)>?(?:\s+"[^"]*")?\s*\)`)
	htmlImgRe   = regexp.MustCompile(`<img\b[^>]*?\ssrc\s*=\s*"([^"]*)"[^>]*>`)
	htmlAltRe   = regexp.MustCompile(`\salt\s*=\s*"([^"]*)"`)
	htmlSrcRe   = regexp.MustCompile(`(\ssrc\s*=\s*")([^"]*)(")`)
	schemeURLRe = regexp.MustCompile(`^(?i)https?://`)
)

// findImageReferences scans text for Markdown images, then HTML img tags.
// Each call returns a fresh slice in discovery order.
func findImageReferences(text string) []imageReference {
	var refs []imageReference
	for _, m := range mdImageRe.FindAllStringSubmatch(text, -1) {
		refs = append(refs, imageReference{Kind: refMarkdown, FullMatch: m[0], AltText: m[1], URL: m[2]})
	}
	for _, m := range htmlImgRe.FindAllStringSubmatch(text, -1) {
		alt := ""
		if am := htmlAltRe.FindStringSubmatch(m[0]); am != nil {
			alt = html.UnescapeString(am[1])
		}
		refs = append(refs, imageReference{Kind: refHTMLTag, FullMatch: m[0], AltText: alt, URL: html.UnescapeString(m[1])})
	}
	return refs
}

// resolveAttachmentURL decides whether a reference is a fetchable attachment
// on baseURL and returns its absolute URL. Local paths, foreign hosts and
// anything outside /download/ are left alone.
func resolveAttachmentURL(ref, baseURL string) (string, bool) {
	if strings.HasPrefix(ref, "./") || strings.HasPrefix(ref, "../") {
		return "", false
	}
	base := strings.TrimSuffix(baseURL, "/")
	absolute := schemeURLRe.MatchString(ref)
	if absolute && (base == "" || !strings.Contains(ref, base)) {
		return "", false
	}
	if !strings.Contains(ref, "/download/") {
		return "", false
	}
	if absolute {
		return ref, true
	}
	if base == "" {
		return "", false
	}
	return base + "/" + strings.TrimPrefix(ref, "/"), true
}

// attachmentFilename extracts the decoded file name from an attachment URL.
func attachmentFilename(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.EscapedPath()
	}
	name := path.Base(p)
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	return name
}

// imageSink decides where a downloaded attachment ends up and returns the
// reference that replaces the original URL.
type imageSink interface {
	Store(ctx context.Context, asset downloadedAsset) (string, error)
}

// localSink keeps attachments next to the exported Markdown.
type localSink struct{}

func (localSink) Store(_ context.Context, asset downloadedAsset) (string, error) {
	return "./images/" + asset.SanitizedFilename, nil
}

// assetUploader is the part of the destination client the pipeline needs.
type assetUploader interface {
	UploadAsset(ctx context.Context, localPath, folder string) (*uploadedAsset, error)
}

// wikiJSSink uploads each attachment to the destination wiki and removes
// the local copy afterwards.
type wikiJSSink struct {
	uploader assetUploader
	baseURL  string
	folder   string
}

func (s wikiJSSink) Store(ctx context.Context, asset downloadedAsset) (string, error) {
	defer os.Remove(asset.LocalPath)
	up, err := s.uploader.UploadAsset(ctx, asset.LocalPath, s.folder)
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", asset.SanitizedFilename, err)
	}
	return getAssetURL(s.baseURL, up, s.folder), nil
}

// imageOptions configures downloads for one pipeline run.
type imageOptions struct {
	Client         *http.Client
	InsecureTLS    bool
	Timeout        time.Duration
	MaxWidth       int
	LowercaseNames bool
}

func (o imageOptions) httpClient() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return newHTTPClient(o.Timeout, o.InsecureTLS)
}

// downloadAndUpdateImages stores attachment images under imageDir and points
// the Markdown at ./images/{name}. Directory creation errors are returned;
// per-image failures are logged and leave the reference unchanged.
func downloadAndUpdateImages(ctx context.Context, markdown, imageDir, baseURL string, auth AuthMethod, opts imageOptions) (string, []downloadedAsset, error) {
	return runImagePipeline(ctx, markdown, imageDir, baseURL, auth, opts, localSink{})
}

// wikiJSTarget is where processImagesForWikiJs re-hosts attachments.
type wikiJSTarget struct {
	Uploader assetUploader
	BaseURL  string
	Folder   string
}

// processImagesForWikiJs downloads attachment images, uploads them to the
// destination wiki, and rewrites references to the hosted URLs. Local files
// are temporary.
func processImagesForWikiJs(ctx context.Context, markdown, imageDir, baseURL string, auth AuthMethod, opts imageOptions, target wikiJSTarget) (string, []downloadedAsset, error) {
	sink := wikiJSSink{uploader: target.Uploader, baseURL: target.BaseURL, folder: target.Folder}
	return runImagePipeline(ctx, markdown, imageDir, baseURL, auth, opts, sink)
}

func runImagePipeline(ctx context.Context, markdown, imageDir, baseURL string, auth AuthMethod, opts imageOptions, sink imageSink) (string, []downloadedAsset, error) {
	refs := findImageReferences(markdown)
	type candidate struct {
		ref imageReference
		url string
	}
	var candidates []candidate
	for _, ref := range refs {
		if abs, ok := resolveAttachmentURL(ref.URL, baseURL); ok {
			candidates = append(candidates, candidate{ref, abs})
		} else {
			debugf("image %s skipped\n", ref.URL)
		}
	}
	if len(candidates) == 0 {
		return markdown, nil, nil
	}
	if err := os.MkdirAll(imageDir, 0o755); err != nil {
		return markdown, nil, fmt.Errorf("creating image directory: %w", err)
	}

	client := opts.httpClient()
	stored := map[string]string{}
	var assets []downloadedAsset
	out := markdown
	for _, c := range candidates {
		newRef, seen := stored[c.url]
		if !seen {
			asset, err := downloadAttachment(ctx, client, auth, c.url, imageDir, opts)
			if err != nil {
				logImageFailure(c.url, err)
				continue
			}
			newRef, err = sink.Store(ctx, asset)
			if err != nil {
				fmt.Fprintf(logOut, "  Error: %v (skipping)\n", err)
				continue
			}
			stored[c.url] = newRef
			assets = append(assets, asset)
		}
		out = strings.Replace(out, c.ref.FullMatch, rewriteReference(c.ref, newRef), 1)
	}
	return out, assets, nil
}

// rewriteReference replaces the URL of a reference. Markdown images lose
// their title; img tags keep every attribute but src.
func rewriteReference(ref imageReference, newURL string) string {
	if ref.Kind == refHTMLTag {
		return htmlSrcRe.ReplaceAllStringFunc(ref.FullMatch, func(attr string) string {
			m := htmlSrcRe.FindStringSubmatch(attr)
			return m[1] + html.EscapeString(newURL) + m[3]
		})
	}
	return "![" + ref.AltText + "](" + newURL + ")"
}

// downloadAttachment fetches one attachment into dir. Nothing is left on
// disk when any step fails.
func downloadAttachment(ctx context.Context, client *http.Client, auth AuthMethod, rawURL, dir string, opts imageOptions) (downloadedAsset, error) {
	original := attachmentFilename(rawURL)
	name := sanitizeFilename(original)
	if opts.LowercaseNames {
		name = strings.ToLower(name)
	}

	data, _, err := fetchAuthenticated(ctx, client, auth, rawURL)
	if err != nil {
		return downloadedAsset{}, err
	}
	if scaled, format, changed := downscaleImage(data, opts.MaxWidth); changed {
		debugf("downscaled %s to %d px (%s -> %s)\n", name, opts.MaxWidth, humanSize(int64(len(data))), humanSize(int64(len(scaled))))
		data = scaled
		if format == "png" && !strings.EqualFold(filepath.Ext(name), ".png") {
			name = strings.TrimSuffix(name, filepath.Ext(name)) + ".png"
		}
	}

	dest := filepath.Join(dir, name)
	tmp := dest + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return downloadedAsset{}, fmt.Errorf("writing %s: %w", dest, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return downloadedAsset{}, fmt.Errorf("writing %s: %w", dest, err)
	}
	fmt.Fprintf(logOut, "Downloaded %s (%s)\n", name, humanSize(int64(len(data))))
	return downloadedAsset{
		OriginalFilename:  original,
		SanitizedFilename: name,
		LocalPath:         dest,
		ByteSize:          int64(len(data)),
	}, nil
}

func logImageFailure(rawURL string, err error) {
	fmt.Fprintf(logOut, "  Error: could not download %s: %v (skipping)\n", rawURL, err)
	var fe *fetchError
	if errors.As(err, &fe) {
		if d := fe.diagnostics(); d != "" {
			fmt.Fprintf(logOut, "    %s\n", d)
		}
	}
}
