package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

func quietLogs(t *testing.T) {
	t.Helper()
	prev := logOut
	logOut = io.Discard
	t.Cleanup(func() { logOut = prev })
}

// attachmentServer serves every path under /download/ from files, counting
// requests and requiring basic auth.
func attachmentServer(t *testing.T, files map[string][]byte, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		if u, p, ok := r.BasicAuth(); !ok || u != "bot" || p != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		data, ok := files[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

var testAuth = BasicAuth{Username: "bot", Token: "secret"}

func TestFindImageReferences_Order(t *testing.T) {
	text := `<img data-src="x" src="/download/attachments/1/b.png" alt="B &amp; C"> then ![a](/download/attachments/1/a.png "title")`
	refs := findImageReferences(text)
	if len(refs) != 2 {
		t.Fatalf("expected 2 references, got %d", len(refs))
	}
	if refs[0].Kind != refMarkdown || refs[0].URL != "/download/attachments/1/a.png" || refs[0].AltText != "a" {
		t.Errorf("unexpected markdown ref: %+v", refs[0])
	}
	if refs[1].Kind != refHTMLTag || refs[1].URL != "/download/attachments/1/b.png" || refs[1].AltText != "B & C" {
		t.Errorf("unexpected html ref: %+v", refs[1])
	}
}

func TestResolveAttachmentURL(t *testing.T) {
	base := "https://wiki.example.com"
	tests := []struct {
		ref  string
		want string
		ok   bool
	}{
		{"/download/attachments/1/a.png", base + "/download/attachments/1/a.png", true},
		{"download/attachments/1/a.png", base + "/download/attachments/1/a.png", true},
		{base + "/download/thumbnails/1/a.png", base + "/download/thumbnails/1/a.png", true},
		{"https://fake.example.com/download/attachments/1/a.png", "", false},
		{"./images/a.png", "", false},
		{"../a.png", "", false},
		{base + "/images/icons/a.png", "", false},
	}
	for _, tt := range tests {
		got, ok := resolveAttachmentURL(tt.ref, base)
		if got != tt.want || ok != tt.ok {
			t.Errorf("resolveAttachmentURL(%q) = %q,%v want %q,%v", tt.ref, got, ok, tt.want, tt.ok)
		}
	}
	if _, ok := resolveAttachmentURL("/download/attachments/1/a.png", ""); ok {
		t.Error("expected relative reference without base URL to be skipped")
	}
}

func TestAttachmentFilename_Decodes(t *testing.T) {
	got := attachmentFilename("https://wiki.example.com/download/attachments/1/my%20file%C3%A4.png?version=2&api=v2")
	if got != "my fileä.png" {
		t.Errorf("got %q", got)
	}
}

func TestDownloadAndUpdateImages_RewritesAndStores(t *testing.T) {
	quietLogs(t)
	png := makePNG(4, 4, color.NRGBA{0, 0, 255, 255})
	var hits int32
	srv := attachmentServer(t, map[string][]byte{
		"/download/attachments/1/diagram.png": png,
		"/download/attachments/1/my file.png": png,
	}, &hits)

	md := "![diagram](" + srv.URL + "/download/attachments/1/diagram.png)<!-- Confluence attachment: diagram.png -->\n\n" +
		"again ![d2](" + srv.URL + "/download/attachments/1/diagram.png)\n\n" +
		`<img src="/download/attachments/1/my%20file.png" alt="x" width="100">` + "\n\n" +
		"![ext](https://fake.example.com/download/attachments/1/diagram.png)\n\n" +
		"![local](./images/already.png)"

	dir := filepath.Join(t.TempDir(), "images")
	out, assets, err := downloadAndUpdateImages(context.Background(), md, dir, srv.URL, testAuth, imageOptions{Client: srv.Client()})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "![diagram](./images/diagram.png)<!-- Confluence attachment: diagram.png -->") {
		t.Errorf("expected first reference rewritten, got:\n%s", out)
	}
	if !strings.Contains(out, "again ![d2](./images/diagram.png)") {
		t.Errorf("expected repeated reference rewritten, got:\n%s", out)
	}
	if !strings.Contains(out, `<img src="./images/my file.png" alt="x" width="100">`) {
		t.Errorf("expected img tag rewritten with attributes kept, got:\n%s", out)
	}
	if !strings.Contains(out, "![ext](https://fake.example.com/download/attachments/1/diagram.png)") {
		t.Errorf("expected foreign host untouched, got:\n%s", out)
	}
	if !strings.Contains(out, "![local](./images/already.png)") {
		t.Errorf("expected local path untouched, got:\n%s", out)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Errorf("expected 2 downloads, got %d", got)
	}
	if len(assets) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(assets))
	}
	if assets[0].SanitizedFilename != "diagram.png" || assets[0].ByteSize != int64(len(png)) {
		t.Errorf("unexpected asset: %+v", assets[0])
	}
	if _, err := os.Stat(filepath.Join(dir, "diagram.png")); err != nil {
		t.Errorf("expected file on disk: %v", err)
	}
}

func TestDownloadAndUpdateImages_FailureLeavesReference(t *testing.T) {
	quietLogs(t)
	srv := attachmentServer(t, map[string][]byte{}, nil)
	md := "![gone](" + srv.URL + "/download/attachments/1/missing.png)"
	dir := t.TempDir()

	out, assets, err := downloadAndUpdateImages(context.Background(), md, dir, srv.URL, testAuth, imageOptions{Client: srv.Client()})
	if err != nil {
		t.Fatalf("per-image failures must not fail the page: %v", err)
	}
	if out != md {
		t.Errorf("expected markdown unchanged, got:\n%s", out)
	}
	if len(assets) != 0 {
		t.Errorf("expected no assets, got %d", len(assets))
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected nothing left on disk, found %d entries", len(entries))
	}
}

func TestDownloadAndUpdateImages_NoCandidatesNoDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "images")
	out, _, err := downloadAndUpdateImages(context.Background(), "no images here", dir, "https://wiki.example.com", nil, imageOptions{})
	if err != nil || out != "no images here" {
		t.Fatalf("unexpected result %q, %v", out, err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("expected image directory not to be created")
	}
}

func TestDownloadAndUpdateImages_DirectoryError(t *testing.T) {
	parent := t.TempDir()
	blocker := filepath.Join(parent, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	md := "![a](/download/attachments/1/a.png)"
	_, _, err := downloadAndUpdateImages(context.Background(), md, filepath.Join(blocker, "images"), "https://wiki.example.com", nil, imageOptions{})
	if err == nil {
		t.Fatal("expected directory creation error")
	}
}

func TestDownloadAttachment_LowercaseAndDownscale(t *testing.T) {
	quietLogs(t)
	var buf bytes.Buffer
	img := image.NewPaletted(image.Rect(0, 0, 800, 200), []color.Color{color.Black, color.White})
	if err := gif.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	srv := attachmentServer(t, map[string][]byte{"/download/attachments/1/Banner.GIF": buf.Bytes()}, nil)

	dir := t.TempDir()
	asset, err := downloadAttachment(context.Background(), srv.Client(), testAuth,
		srv.URL+"/download/attachments/1/Banner.GIF", dir,
		imageOptions{MaxWidth: 400, LowercaseNames: true})
	if err != nil {
		t.Fatal(err)
	}
	if asset.SanitizedFilename != "banner.png" {
		t.Errorf("expected banner.png, got %q", asset.SanitizedFilename)
	}
	if asset.OriginalFilename != "Banner.GIF" {
		t.Errorf("expected original name kept, got %q", asset.OriginalFilename)
	}
	f, err := os.Open(asset.LocalPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatal(err)
	}
	if format != "png" || cfg.Width != 400 || cfg.Height != 100 {
		t.Errorf("expected 400x100 png, got %dx%d %s", cfg.Width, cfg.Height, format)
	}
}

type fakeUploader struct {
	uploads []string
	err     error
}

func (f *fakeUploader) UploadAsset(_ context.Context, localPath, folder string) (*uploadedAsset, error) {
	if f.err != nil {
		return nil, f.err
	}
	if _, err := os.Stat(localPath); err != nil {
		return nil, err
	}
	name := filepath.Base(localPath)
	f.uploads = append(f.uploads, folder+"/"+name)
	return &uploadedAsset{Filename: name, Ext: strings.TrimPrefix(filepath.Ext(name), "."), Hash: "h" + name[:1], Folder: folder}, nil
}

func TestProcessImagesForWikiJs_UploadsAndCleansUp(t *testing.T) {
	quietLogs(t)
	png := makePNG(2, 2, color.White)
	srv := attachmentServer(t, map[string][]byte{"/download/attachments/7/Chart.png": png}, nil)
	up := &fakeUploader{}
	dir := t.TempDir()

	md := "![chart](/download/attachments/7/Chart.png)<!-- Confluence attachment: Chart.png -->"
	target := wikiJSTarget{Uploader: up, BaseURL: "https://docs.example.com", Folder: "imported/ops"}
	out, _, err := processImagesForWikiJs(context.Background(), md, dir, srv.URL, testAuth,
		imageOptions{Client: srv.Client(), LowercaseNames: true}, target)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "![chart](https://docs.example.com/_assets/hc.png)") {
		t.Errorf("expected hosted URL, got:\n%s", out)
	}
	if len(up.uploads) != 1 || up.uploads[0] != "imported/ops/chart.png" {
		t.Errorf("unexpected uploads: %v", up.uploads)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected local copies removed, found %d entries", len(entries))
	}
}

func TestProcessImagesForWikiJs_UploadFailureLeavesReference(t *testing.T) {
	quietLogs(t)
	srv := attachmentServer(t, map[string][]byte{"/download/attachments/7/a.png": makePNG(1, 1, color.White)}, nil)
	up := &fakeUploader{err: errors.New("boom")}
	md := "![a](/download/attachments/7/a.png)"
	out, _, err := processImagesForWikiJs(context.Background(), md, t.TempDir(), srv.URL, testAuth,
		imageOptions{Client: srv.Client()}, wikiJSTarget{Uploader: up, BaseURL: "https://docs.example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if out != md {
		t.Errorf("expected reference unchanged, got:\n%s", out)
	}
}

func TestDownloadAndUpdateImages_ClassificationScenario(t *testing.T) {
	quietLogs(t)
	var hits int32
	srv := attachmentServer(t, map[string][]byte{
		"/download/attachments/123456/screenshot.png": makePNG(2, 2, color.White),
	}, &hits)

	md := `![Screenshot](/download/attachments/123456/screenshot.png "Page Screenshot")` + "\n" +
		"![External](https://example.com/image.png)\n" +
		"![Local](./local-image.png)"
	dir := filepath.Join(t.TempDir(), "images")
	out, assets, err := downloadAndUpdateImages(context.Background(), md, dir, srv.URL, testAuth, imageOptions{Client: srv.Client()})
	if err != nil {
		t.Fatal(err)
	}
	want := "![Screenshot](./images/screenshot.png)\n" +
		"![External](https://example.com/image.png)\n" +
		"![Local](./local-image.png)"
	if out != want {
		t.Errorf("expected:\n%s\ngot:\n%s", want, out)
	}
	if len(assets) != 1 || atomic.LoadInt32(&hits) != 1 {
		t.Errorf("expected one download, got %d assets and %d requests", len(assets), hits)
	}
	if _, err := os.Stat(filepath.Join(dir, "screenshot.png")); err != nil {
		t.Errorf("expected images/screenshot.png: %v", err)
	}
}

func TestDownloadAndUpdateImages_EscapedBracketInAlt(t *testing.T) {
	quietLogs(t)
	srv := attachmentServer(t, map[string][]byte{
		"/download/attachments/9/x.png": makePNG(2, 2, color.White),
	}, nil)

	md, err := convertStorageToMarkdown(`<p><ac:image ac:alt="a]b"><ri:attachment ri:filename="x.png"/></ac:image></p>`,
		conversionOptions{PageID: "9"})
	if err != nil {
		t.Fatal(err)
	}
	refs := findImageReferences(md)
	if len(refs) != 1 || refs[0].AltText != `a\]b` {
		t.Fatalf("expected one reference with escaped alt, got %+v in:\n%s", refs, md)
	}

	out, assets, err := downloadAndUpdateImages(context.Background(), md, t.TempDir(), srv.URL, testAuth, imageOptions{Client: srv.Client()})
	if err != nil {
		t.Fatal(err)
	}
	if len(assets) != 1 || !strings.Contains(out, `![a\]b](./images/x.png)`) {
		t.Errorf("expected reference rewritten, got %d assets:\n%s", len(assets), out)
	}
}
