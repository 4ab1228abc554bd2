package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type fakeSource struct {
	pages   map[string]Document
	space   []Document
	listErr error
}

func (f *fakeSource) GetPage(_ context.Context, id string) (*Document, error) {
	doc, ok := f.pages[id]
	if !ok {
		return nil, &APIError{StatusCode: 404, Message: "failed to get page " + id}
	}
	return &doc, nil
}

func (f *fakeSource) GetAllPagesFromSpace(_ context.Context, key string) ([]Document, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.space, nil
}

type fakePublisher struct {
	fakeUploader
	existing map[string]int
	created  []pageInput
	updated  map[int]pageInput
	failPath string
}

func (f *fakePublisher) GetPageByPath(_ context.Context, path, locale string) (*wikiPage, error) {
	if id, ok := f.existing[path]; ok {
		return &wikiPage{ID: id, Path: path}, nil
	}
	return nil, nil
}

func (f *fakePublisher) CreatePage(_ context.Context, in pageInput) (*wikiPage, error) {
	if in.Path == f.failPath {
		return nil, errors.New("create refused")
	}
	f.created = append(f.created, in)
	return &wikiPage{ID: 100 + len(f.created), Path: in.Path}, nil
}

func (f *fakePublisher) UpdatePage(_ context.Context, id int, in pageInput) error {
	if f.updated == nil {
		f.updated = map[int]pageInput{}
	}
	f.updated[id] = in
	return nil
}

func TestFrontMatter(t *testing.T) {
	doc := Document{
		ID:        "42",
		Title:     `Say "hi"`,
		WebUIPath: "/spaces/DOC/pages/42",
		Created:   time.Date(2024, 5, 6, 7, 8, 9, 0, time.FixedZone("CET", 3600)),
	}
	want := "---\n" +
		"title: \"Say \\\"hi\\\"\"\n" +
		"id: \"42\"\n" +
		"confluence_url: \"/spaces/DOC/pages/42\"\n" +
		"created: \"2024-05-06T06:08:09Z\"\n" +
		"---\n\n"
	if got := frontMatter(doc); got != want {
		t.Errorf("expected:\n%s\ngot:\n%s", want, got)
	}
	if got := frontMatter(Document{ID: "1"}); !strings.Contains(got, "created: \"\"\n") {
		t.Errorf("expected empty created date, got:\n%s", got)
	}
}

func TestExportPage_Stdout(t *testing.T) {
	quietLogs(t)
	src := &fakeSource{pages: map[string]Document{
		"7": {ID: "7", Title: "Home", Body: "<h1>Welcome</h1><p>Hello</p>"},
	}}
	x := &exporter{source: src}
	res, err := x.exportPage(context.Background(), "7")
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != "" {
		t.Errorf("expected nothing written, got %s", res.Path)
	}
	if !strings.HasPrefix(res.Markdown, "---\ntitle: \"Home\"\n") {
		t.Errorf("expected front matter, got:\n%s", res.Markdown)
	}
	if !strings.Contains(res.Markdown, "# Welcome\n\nHello\n") {
		t.Errorf("expected converted body, got:\n%s", res.Markdown)
	}
}

func TestExportPage_NotFound(t *testing.T) {
	quietLogs(t)
	x := &exporter{source: &fakeSource{}}
	_, err := x.exportPage(context.Background(), "404")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 404 {
		t.Errorf("expected APIError 404, got %v", err)
	}
}

func TestExportPage_WritesFile(t *testing.T) {
	quietLogs(t)
	dir := t.TempDir()
	src := &fakeSource{pages: map[string]Document{
		"7": {ID: "7", Title: "Ops / Runbook", Body: "<p>x</p>"},
	}}
	x := &exporter{source: src, opts: exportOptions{OutputDir: dir}}
	res, err := x.exportPage(context.Background(), "7")
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != filepath.Join(dir, "Ops _ Runbook.md") {
		t.Errorf("unexpected path %s", res.Path)
	}
	data, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != res.Markdown {
		t.Error("file content differs from result")
	}
}

func TestExportPage_ForWikiJS(t *testing.T) {
	quietLogs(t)
	src := &fakeSource{pages: map[string]Document{
		"1": {ID: "1", Title: "T", Body: `<p>a</p><ac:structured-macro ac:name="toc"/>`},
	}}
	x := &exporter{source: src, opts: exportOptions{ForWikiJS: true}}
	res, err := x.exportPage(context.Background(), "1")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(res.Markdown, "Confluence macro") {
		t.Errorf("expected annotations stripped, got:\n%s", res.Markdown)
	}
}

func TestExportSpace_DuplicateTitles(t *testing.T) {
	quietLogs(t)
	dir := t.TempDir()
	src := &fakeSource{space: []Document{
		{ID: "1", Title: "Notes", Body: "<p>one</p>"},
		{ID: "2", Title: "Notes", Body: "<p>two</p>"},
		{ID: "3", Title: "", Body: "<p>three</p>"},
	}}
	x := &exporter{source: src, opts: exportOptions{OutputDir: dir}}
	tl, err := x.exportSpace(context.Background(), "DOC")
	if err != nil {
		t.Fatal(err)
	}
	if ok, failed := tl.counts(); ok != 3 || failed != 0 {
		t.Errorf("expected 3 succeeded, got %d/%d", ok, failed)
	}
	for name, want := range map[string]string{"Notes.md": "one", "Notes_2.md": "two", "3.md": "three"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Errorf("missing %s: %v", name, err)
			continue
		}
		if !strings.Contains(string(data), want) {
			t.Errorf("%s: expected %q, got:\n%s", name, want, data)
		}
	}
}

func TestExportSpace_ListingError(t *testing.T) {
	quietLogs(t)
	x := &exporter{source: &fakeSource{listErr: errors.New("down")}}
	if _, err := x.exportSpace(context.Background(), "DOC"); err == nil || !strings.Contains(err.Error(), "listing space DOC") {
		t.Errorf("expected listing error, got %v", err)
	}
}

func TestExportSpace_WriteFailureIsCounted(t *testing.T) {
	quietLogs(t)
	blocker := filepath.Join(t.TempDir(), "file")
	os.WriteFile(blocker, []byte("x"), 0o644)
	src := &fakeSource{space: []Document{{ID: "1", Title: "A", Body: "<p>a</p>"}}}
	x := &exporter{source: src, opts: exportOptions{OutputDir: filepath.Join(blocker, "out")}}
	tl, err := x.exportSpace(context.Background(), "DOC")
	if err != nil {
		t.Fatal(err)
	}
	if _, failed := tl.counts(); failed != 1 {
		t.Errorf("expected 1 failure, got %d", failed)
	}
}

func TestExportSpace_Epub(t *testing.T) {
	quietLogs(t)
	dir := t.TempDir()
	src := &fakeSource{space: []Document{
		{ID: "1", Title: "Intro", Body: "<h1>Hello</h1><p>World</p>", WebUIPath: "/spaces/DOC/pages/1"},
	}}
	epubPath := filepath.Join(dir, "doc.epub")
	x := &exporter{source: src, baseURL: "https://wiki.example.com", opts: exportOptions{OutputDir: dir, EpubPath: epubPath}}
	if _, err := x.exportSpace(context.Background(), "DOC"); err != nil {
		t.Fatal(err)
	}
	files := readZip(t, epubPath)
	page := findEntry(files, "page001.xhtml")
	if page == "" {
		t.Fatal("expected page section in epub")
	}
	if !strings.Contains(page, "https://wiki.example.com/spaces/DOC/pages/1") {
		t.Errorf("expected source link in chapter, got:\n%s", page)
	}
}

func TestPageIDFromFilename(t *testing.T) {
	tests := []struct {
		in, title, id string
	}{
		{"Release-Notes_98765", "Release Notes", "98765"},
		{"Plain_Page", "Plain Page", ""},
		{"12345", "12345", ""},
	}
	for _, tt := range tests {
		title, id := pageIDFromFilename(tt.in)
		if title != tt.title || id != tt.id {
			t.Errorf("pageIDFromFilename(%q) = %q,%q want %q,%q", tt.in, title, id, tt.title, tt.id)
		}
	}
}

func TestConvertFile_Storage(t *testing.T) {
	quietLogs(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "Release-Notes_98765.storage")
	os.WriteFile(path, []byte(`<p><ac:image><ri:attachment ri:filename="a.png"/></ac:image></p>`), 0o644)

	x := &exporter{}
	res, err := x.convertFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if res.Doc.Title != "Release Notes" || res.Doc.ID != "98765" {
		t.Errorf("unexpected doc: %+v", res.Doc)
	}
	if !strings.Contains(res.Markdown, "/download/attachments/98765/a.png") {
		t.Errorf("expected attachment resolved against file ID, got:\n%s", res.Markdown)
	}
}

func TestConvertDir_SkipsImagesAndHidden(t *testing.T) {
	quietLogs(t)
	in := t.TempDir()
	out := t.TempDir()
	os.MkdirAll(filepath.Join(in, "images"), 0o755)
	os.MkdirAll(filepath.Join(in, ".git"), 0o755)
	os.MkdirAll(filepath.Join(in, "sub"), 0o755)
	os.WriteFile(filepath.Join(in, "A_1.xml"), []byte("<p>a</p>"), 0o644)
	os.WriteFile(filepath.Join(in, "sub", "B_2.storage"), []byte("<p>b</p>"), 0o644)
	os.WriteFile(filepath.Join(in, "images", "C_3.html"), []byte("<p>c</p>"), 0o644)
	os.WriteFile(filepath.Join(in, ".git", "D_4.xml"), []byte("<p>d</p>"), 0o644)
	os.WriteFile(filepath.Join(in, "notes.txt"), []byte("skip"), 0o644)

	x := &exporter{opts: exportOptions{OutputDir: out}}
	tl, err := x.convertDir(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if ok, failed := tl.counts(); ok != 2 || failed != 0 {
		t.Errorf("expected 2 converted, got %d/%d", ok, failed)
	}
	for _, name := range []string{"A.md", "B.md"} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}
}

func TestPublishSpace_CreatesAndUpdates(t *testing.T) {
	quietLogs(t)
	src := &fakeSource{space: []Document{
		{ID: "1", Title: "Home", Body: "<p>home</p>"},
		{ID: "2", Title: "Über Uns", Body: `<ac:structured-macro ac:name="note"><ac:rich-text-body><p>hi</p></ac:rich-text-body></ac:structured-macro>`,
			Ancestors: []Ancestor{{ID: "1", Title: "Home"}}},
		{ID: "3", Title: "Broken", Body: "<p>x</p>"},
	}}
	dest := &fakePublisher{existing: map[string]int{"kb/home": 55}, failPath: "kb/broken"}
	x := &exporter{
		source: src,
		dest:   dest,
		cfg:    config{WikiJSURL: "https://docs.example.com", WikiJSLocale: "en", WikiJSPrefix: "kb"},
	}
	tl, err := x.publishSpace(context.Background(), "OPS")
	if err != nil {
		t.Fatal(err)
	}
	if ok, failed := tl.counts(); ok != 2 || failed != 1 {
		t.Errorf("expected 2 ok, 1 failed; got %d/%d", ok, failed)
	}
	up, ok := dest.updated[55]
	if !ok || up.Path != "kb/home" || up.Title != "Home" {
		t.Errorf("expected Home updated in place, got %+v", dest.updated)
	}
	if len(dest.created) != 1 {
		t.Fatalf("expected one created page, got %d", len(dest.created))
	}
	c := dest.created[0]
	if c.Path != "kb/home/ueber-uns" {
		t.Errorf("unexpected path %q", c.Path)
	}
	if c.Description != "Imported from OPS" || len(c.Tags) != 1 || c.Tags[0] != "ops" || c.Locale != "en" {
		t.Errorf("unexpected page input: %+v", c)
	}
	if !strings.Contains(c.Content, "> **Note**\n> hi") || strings.Contains(c.Content, "<!--") {
		t.Errorf("expected destination markdown, got:\n%s", c.Content)
	}
}

func TestPublishSpace_RequiresDestination(t *testing.T) {
	x := &exporter{source: &fakeSource{}}
	if _, err := x.publishSpace(context.Background(), "OPS"); !errors.Is(err, errConfig) {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestAssetFolder(t *testing.T) {
	x := &exporter{cfg: config{WikiJSPrefix: "kb", WikiJSLocale: "en"}}
	if got := x.assetFolder("OPS"); got != "kb/ops" {
		t.Errorf("got %q", got)
	}
}
