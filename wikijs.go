package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/gosimple/slug"
)

// WikiJSClient talks to the destination wiki's GraphQL API and its asset
// upload endpoint.
type WikiJSClient struct {
	baseURL string
	rc      *resty.Client
}

// NewWikiJSClient builds a client authenticated with an API key. A nil hc
// uses newHTTPClient with default settings.
func NewWikiJSClient(baseURL, apiKey string, hc *http.Client) *WikiJSClient {
	if hc == nil {
		hc = newHTTPClient(defaultTimeout, false)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	rc := resty.NewWithClient(hc).
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetHeader("User-Agent", defaultUA)
	return &WikiJSClient{baseURL: baseURL, rc: rc}
}

// wikiPage is the subset of a destination page the exporter cares about.
type wikiPage struct {
	ID    int    `json:"id"`
	Path  string `json:"path"`
	Title string `json:"title"`
}

// pageInput is the content of a page to create or update.
type pageInput struct {
	Path        string
	Title       string
	Content     string
	Description string
	Locale      string
	Tags        []string
}

// uploadedAsset describes an attachment stored on the destination wiki.
type uploadedAsset struct {
	Filename string
	Ext      string
	Hash     string
	FolderID int
	Folder   string
}

type graphQLError struct {
	Message string `json:"message"`
}

type responseResult struct {
	Succeeded bool   `json:"succeeded"`
	ErrorCode int    `json:"errorCode"`
	Message   string `json:"message"`
}

func (r responseResult) err(op string) error {
	if r.Succeeded {
		return nil
	}
	return &APIError{StatusCode: http.StatusOK, Message: fmt.Sprintf("%s: %s (code %d)", op, r.Message, r.ErrorCode)}
}

// graphql posts a query and decodes its data member into out.
func (c *WikiJSClient) graphql(ctx context.Context, query string, vars map[string]any, out any) error {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{"query": query, "variables": vars}).
		Post("/graphql")
	if err != nil {
		return fmt.Errorf("graphql request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode(), Message: "graphql request failed", Body: string(resp.Body())}
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		msgs := make([]string, len(envelope.Errors))
		for i, e := range envelope.Errors {
			msgs[i] = e.Message
		}
		return &APIError{StatusCode: resp.StatusCode(), Message: strings.Join(msgs, "; "), Body: string(resp.Body())}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to parse data: %w", err)
	}
	return nil
}

const singleByPathQuery = `query ($path: String!, $locale: String!) {
  pages { singleByPath(path: $path, locale: $locale) { id path title } }
}`

// GetPageByPath returns the page at path, or nil when it does not exist.
func (c *WikiJSClient) GetPageByPath(ctx context.Context, path, locale string) (*wikiPage, error) {
	var data struct {
		Pages struct {
			SingleByPath *wikiPage `json:"singleByPath"`
		} `json:"pages"`
	}
	err := c.graphql(ctx, singleByPathQuery, map[string]any{"path": path, "locale": locale}, &data)
	if err != nil {
		if isPageNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return data.Pages.SingleByPath, nil
}

func isPageNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && strings.Contains(strings.ToLower(apiErr.Message), "does not exist")
}

const createPageMutation = `mutation ($content: String!, $description: String!, $locale: String!, $path: String!, $tags: [String]!, $title: String!) {
  pages {
    create(content: $content, description: $description, editor: "markdown", isPublished: true, isPrivate: false, locale: $locale, path: $path, tags: $tags, title: $title) {
      responseResult { succeeded errorCode message }
      page { id path title }
    }
  }
}`

// CreatePage creates a Markdown page and returns it.
func (c *WikiJSClient) CreatePage(ctx context.Context, in pageInput) (*wikiPage, error) {
	var data struct {
		Pages struct {
			Create struct {
				ResponseResult responseResult `json:"responseResult"`
				Page           *wikiPage      `json:"page"`
			} `json:"create"`
		} `json:"pages"`
	}
	if err := c.graphql(ctx, createPageMutation, in.vars(), &data); err != nil {
		return nil, err
	}
	res := data.Pages.Create
	if err := res.ResponseResult.err("create " + in.Path); err != nil {
		return nil, err
	}
	return res.Page, nil
}

const updatePageMutation = `mutation ($id: Int!, $content: String!, $description: String!, $locale: String!, $path: String!, $tags: [String]!, $title: String!) {
  pages {
    update(id: $id, content: $content, description: $description, editor: "markdown", isPublished: true, locale: $locale, path: $path, tags: $tags, title: $title) {
      responseResult { succeeded errorCode message }
    }
  }
}`

// UpdatePage replaces the content of an existing page.
func (c *WikiJSClient) UpdatePage(ctx context.Context, id int, in pageInput) error {
	vars := in.vars()
	vars["id"] = id
	var data struct {
		Pages struct {
			Update struct {
				ResponseResult responseResult `json:"responseResult"`
			} `json:"update"`
		} `json:"pages"`
	}
	if err := c.graphql(ctx, updatePageMutation, vars, &data); err != nil {
		return err
	}
	return data.Pages.Update.ResponseResult.err("update " + in.Path)
}

func (in pageInput) vars() map[string]any {
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}
	return map[string]any{
		"content":     in.Content,
		"description": in.Description,
		"locale":      in.Locale,
		"path":        in.Path,
		"tags":        tags,
		"title":       in.Title,
	}
}

type assetFolder struct {
	ID   int    `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

const foldersQuery = `query ($parentFolderId: Int!) {
  assets { folders(parentFolderId: $parentFolderId) { id slug name } }
}`

const createFolderMutation = `mutation ($parentFolderId: Int!, $slug: String!) {
  assets { createFolder(parentFolderId: $parentFolderId, slug: $slug) { responseResult { succeeded errorCode message } } }
}`

func (c *WikiJSClient) folders(ctx context.Context, parent int) ([]assetFolder, error) {
	var data struct {
		Assets struct {
			Folders []assetFolder `json:"folders"`
		} `json:"assets"`
	}
	if err := c.graphql(ctx, foldersQuery, map[string]any{"parentFolderId": parent}, &data); err != nil {
		return nil, err
	}
	return data.Assets.Folders, nil
}

// ensureFolder resolves a slash-separated folder path to its ID, creating
// missing segments. The empty path is the root folder, ID 0.
func (c *WikiJSClient) ensureFolder(ctx context.Context, folderPath string) (int, error) {
	id := 0
	for _, seg := range strings.Split(strings.Trim(folderPath, "/"), "/") {
		if seg == "" {
			continue
		}
		found, err := c.findFolder(ctx, id, seg)
		if err != nil {
			return 0, err
		}
		if found < 0 {
			var data struct {
				Assets struct {
					CreateFolder struct {
						ResponseResult responseResult `json:"responseResult"`
					} `json:"createFolder"`
				} `json:"assets"`
			}
			err := c.graphql(ctx, createFolderMutation, map[string]any{"parentFolderId": id, "slug": seg}, &data)
			if err != nil {
				return 0, err
			}
			if err := data.Assets.CreateFolder.ResponseResult.err("create folder " + seg); err != nil {
				return 0, err
			}
			debugf("created asset folder %s under %d\n", seg, id)
			if found, err = c.findFolder(ctx, id, seg); err != nil {
				return 0, err
			}
			if found < 0 {
				return 0, fmt.Errorf("asset folder %s missing after creation", seg)
			}
		}
		id = found
	}
	return id, nil
}

func (c *WikiJSClient) findFolder(ctx context.Context, parent int, slugName string) (int, error) {
	list, err := c.folders(ctx, parent)
	if err != nil {
		return 0, err
	}
	for _, f := range list {
		if f.Slug == slugName {
			return f.ID, nil
		}
	}
	return -1, nil
}

// UploadAsset uploads a local file into the asset folder named by folder.
// The upload endpoint takes two mediaUpload parts: the folder metadata,
// then the file.
func (c *WikiJSClient) UploadAsset(ctx context.Context, localPath, folder string) (*uploadedAsset, error) {
	folderID, err := c.ensureFolder(ctx, folder)
	if err != nil {
		return nil, fmt.Errorf("resolving asset folder %q: %w", folder, err)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	name := filepath.Base(localPath)
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	resp, err := c.rc.R().
		SetContext(ctx).
		SetFormData(map[string]string{"mediaUpload": `{"folderId":` + strconv.Itoa(folderID) + `}`}).
		SetMultipartField("mediaUpload", name, contentType, f).
		Post("/u")
	if err != nil {
		return nil, fmt.Errorf("upload request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode(), Message: "asset upload failed", Body: string(resp.Body())}
	}
	return &uploadedAsset{
		Filename: name,
		Ext:      ext,
		FolderID: folderID,
		Folder:   strings.Trim(folder, "/"),
	}, nil
}

// umlautReplacer spells out German umlauts before transliteration so they
// come out as two letters rather than the bare vowel.
var umlautReplacer = strings.NewReplacer(
	"ä", "ae", "ö", "oe", "ü", "ue",
	"Ä", "Ae", "Ö", "Oe", "Ü", "Ue",
	"ß", "ss",
)

// slugSegment turns one title into a lowercase, hyphenated path segment.
func slugSegment(title, locale string) string {
	lang := strings.ToLower(strings.SplitN(locale, "-", 2)[0])
	if lang == "" {
		lang = "en"
	}
	s := slug.MakeLang(umlautReplacer.Replace(title), lang)
	if s == "" {
		return "untitled"
	}
	return s
}

func joinWikiPath(prefix string, segments ...string) string {
	var parts []string
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, segments...)
	return strings.Join(parts, "/")
}

// sanitizePagePath converts a page title into a destination path under prefix.
func sanitizePagePath(title, prefix, locale string) string {
	return joinWikiPath(prefix, slugSegment(title, locale))
}

// createHierarchicalPath mirrors the source page tree: each ancestor title
// becomes one sanitized segment ahead of the page's own.
func createHierarchicalPath(doc Document, prefix, locale string) string {
	segments := make([]string, 0, len(doc.Ancestors)+1)
	for _, a := range doc.Ancestors {
		segments = append(segments, slugSegment(a.Title, locale))
	}
	segments = append(segments, slugSegment(doc.Title, locale))
	return joinWikiPath(prefix, segments...)
}

// getAssetURL is the address an uploaded asset is served from. A content
// hash is preferred; otherwise the folder path and file name are used.
func getAssetURL(base string, asset *uploadedAsset, folder string) string {
	base = strings.TrimSuffix(base, "/")
	if asset.Hash != "" {
		ext := asset.Ext
		if ext == "" {
			ext = strings.TrimPrefix(filepath.Ext(asset.Filename), ".")
		}
		return base + "/_assets/" + asset.Hash + "." + ext
	}
	if f := strings.Trim(folder, "/"); f != "" {
		return base + "/" + f + "/" + asset.Filename
	}
	return base + "/" + asset.Filename
}
