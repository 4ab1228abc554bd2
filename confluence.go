package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	pageExpand      = "body.storage,version,space,ancestors,history"
	spacePageLimit  = 50
	maxErrorBodyLen = 512
)

// AuthMethod applies credentials to an outgoing request.
type AuthMethod interface {
	Apply(req *http.Request)
}

// BasicAuth authenticates with a user name and API token.
type BasicAuth struct {
	Username string
	Token    string
}

func (b BasicAuth) Apply(req *http.Request) {
	req.SetBasicAuth(b.Username, b.Token)
}

// BearerAuth authenticates with a personal access token.
type BearerAuth struct {
	Token string
}

func (b BearerAuth) Apply(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+b.Token)
}

// Ancestor is a parent page in the page tree, root first.
type Ancestor struct {
	ID    string
	Title string
}

// Document is one page as retrieved from the source wiki. Body holds the raw
// storage markup and is never modified by the conversion stages.
type Document struct {
	ID        string
	Title     string
	Body      string
	WebUIPath string
	SpaceKey  string
	Ancestors []Ancestor
	Created   time.Time
}

// APIError is a non-2xx response from a remote wiki API.
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
}

// ConfluenceClient reads pages from the source wiki's REST API.
type ConfluenceClient struct {
	baseURL    string
	httpClient *http.Client
	auth       AuthMethod
}

// Option configures a ConfluenceClient.
type Option func(*ConfluenceClient)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *ConfluenceClient) {
		c.httpClient = hc
	}
}

func NewConfluenceClient(baseURL string, auth AuthMethod, opts ...Option) *ConfluenceClient {
	c := &ConfluenceClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: newHTTPClient(defaultTimeout, false),
		auth:       auth,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL is the site root attachments and page links are resolved against.
func (c *ConfluenceClient) BaseURL() string { return c.baseURL }

// Auth returns the credentials used for API calls and attachment downloads.
func (c *ConfluenceClient) Auth() AuthMethod { return c.auth }

type apiContent struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
	Space struct {
		Key string `json:"key"`
	} `json:"space"`
	Ancestors []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"ancestors"`
	History struct {
		CreatedDate string `json:"createdDate"`
	} `json:"history"`
	Links struct {
		WebUI string `json:"webui"`
	} `json:"_links"`
}

func (a apiContent) document() Document {
	doc := Document{
		ID:        a.ID,
		Title:     a.Title,
		Body:      a.Body.Storage.Value,
		WebUIPath: a.Links.WebUI,
		SpaceKey:  a.Space.Key,
	}
	for _, anc := range a.Ancestors {
		doc.Ancestors = append(doc.Ancestors, Ancestor{ID: anc.ID, Title: anc.Title})
	}
	if a.History.CreatedDate != "" {
		if t, err := time.Parse(time.RFC3339, a.History.CreatedDate); err == nil {
			doc.Created = t
		} else {
			debugf("page %s: unparsable created date %q\n", a.ID, a.History.CreatedDate)
		}
	}
	return doc
}

// GetPage retrieves a single page with its storage body.
func (c *ConfluenceClient) GetPage(ctx context.Context, id string) (*Document, error) {
	q := url.Values{"expand": []string{pageExpand}}
	u := fmt.Sprintf("%s/rest/api/content/%s?%s", c.baseURL, url.PathEscape(id), q.Encode())

	var content apiContent
	if err := c.getJSON(ctx, u, "failed to get page "+id, &content); err != nil {
		return nil, err
	}
	doc := content.document()
	return &doc, nil
}

// GetAllPagesFromSpace retrieves every page in a space, following start/limit
// pagination until the server returns a short page.
func (c *ConfluenceClient) GetAllPagesFromSpace(ctx context.Context, key string) ([]Document, error) {
	var docs []Document
	start := 0
	for {
		q := url.Values{
			"spaceKey": []string{key},
			"type":     []string{"page"},
			"expand":   []string{pageExpand},
			"start":    []string{strconv.Itoa(start)},
			"limit":    []string{strconv.Itoa(spacePageLimit)},
		}
		u := c.baseURL + "/rest/api/content?" + q.Encode()

		var page struct {
			Results []apiContent `json:"results"`
			Limit   int          `json:"limit"`
			Size    int          `json:"size"`
		}
		if err := c.getJSON(ctx, u, "failed to list space "+key, &page); err != nil {
			return nil, err
		}
		for _, r := range page.Results {
			docs = append(docs, r.document())
		}
		debugf("space %s: %d pages so far\n", key, len(docs))

		limit := page.Limit
		if limit <= 0 {
			limit = spacePageLimit
		}
		if len(page.Results) < limit {
			break
		}
		start += len(page.Results)
	}
	return docs, nil
}

func (c *ConfluenceClient) getJSON(ctx context.Context, u, what string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", defaultUA)
	if c.auth != nil {
		c.auth.Apply(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	defer resp.Body.Close()

	body, err := readLimited(resp.Body, maxResponseBytes)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		b := string(body)
		if len(b) > maxErrorBodyLen {
			b = b[:maxErrorBodyLen]
		}
		return &APIError{StatusCode: resp.StatusCode, Message: what, Body: b}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("json decode error: %w", err)
	}
	return nil
}
