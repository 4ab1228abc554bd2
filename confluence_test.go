package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func pageJSON(id, title string) map[string]any {
	return map[string]any{
		"id":    id,
		"title": title,
		"body":  map[string]any{"storage": map[string]any{"value": "<p>" + title + "</p>"}},
		"space": map[string]any{"key": "DOC"},
		"ancestors": []map[string]any{
			{"id": "1", "title": "Root"},
			{"id": "2", "title": "Guides"},
		},
		"history": map[string]any{"createdDate": "2024-01-02T03:04:05.000Z"},
		"_links":  map[string]any{"webui": "/spaces/DOC/pages/" + id},
	}
}

func TestConfluenceClient_GetPage(t *testing.T) {
	var gotPath, gotExpand, gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotExpand = r.URL.Query().Get("expand")
		gotUser, _, _ = r.BasicAuth()
		json.NewEncoder(w).Encode(pageJSON("42", "Setup"))
	}))
	defer srv.Close()

	c := NewConfluenceClient(srv.URL+"/", BasicAuth{Username: "bot", Token: "t"}, WithHTTPClient(srv.Client()))
	doc, err := c.GetPage(context.Background(), "42")
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/rest/api/content/42" || gotExpand != pageExpand || gotUser != "bot" {
		t.Errorf("unexpected request: path=%q expand=%q user=%q", gotPath, gotExpand, gotUser)
	}
	if doc.ID != "42" || doc.Title != "Setup" || doc.Body != "<p>Setup</p>" || doc.SpaceKey != "DOC" {
		t.Errorf("unexpected document: %+v", doc)
	}
	if doc.WebUIPath != "/spaces/DOC/pages/42" {
		t.Errorf("WebUIPath = %q", doc.WebUIPath)
	}
	if len(doc.Ancestors) != 2 || doc.Ancestors[0].Title != "Root" || doc.Ancestors[1].ID != "2" {
		t.Errorf("unexpected ancestors: %+v", doc.Ancestors)
	}
	if want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC); !doc.Created.Equal(want) {
		t.Errorf("Created = %v, want %v", doc.Created, want)
	}
	if c.BaseURL() != srv.URL {
		t.Errorf("BaseURL = %q", c.BaseURL())
	}
}

func TestConfluenceClient_GetPageError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"No content found with id 9"}`))
	}))
	defer srv.Close()

	c := NewConfluenceClient(srv.URL, BearerAuth{Token: "t"}, WithHTTPClient(srv.Client()))
	_, err := c.GetPage(context.Background(), "9")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "failed to get page 9" {
		t.Errorf("unexpected error: %+v", apiErr)
	}
	if apiErr.Body == "" {
		t.Error("expected response body kept for diagnostics")
	}
}

func TestConfluenceClient_GetAllPagesFromSpacePaginates(t *testing.T) {
	const total = 2*spacePageLimit + 3
	var starts []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("spaceKey") != "DOC" || q.Get("type") != "page" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		start, _ := strconv.Atoi(q.Get("start"))
		limit, _ := strconv.Atoi(q.Get("limit"))
		starts = append(starts, start)
		var results []map[string]any
		for i := start; i < total && i < start+limit; i++ {
			results = append(results, pageJSON(strconv.Itoa(i), fmt.Sprintf("Page %d", i)))
		}
		json.NewEncoder(w).Encode(map[string]any{"results": results, "limit": limit, "size": len(results)})
	}))
	defer srv.Close()

	c := NewConfluenceClient(srv.URL, BearerAuth{Token: "t"}, WithHTTPClient(srv.Client()))
	docs, err := c.GetAllPagesFromSpace(context.Background(), "DOC")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != total {
		t.Fatalf("expected %d pages, got %d", total, len(docs))
	}
	if docs[total-1].Title != fmt.Sprintf("Page %d", total-1) {
		t.Errorf("unexpected last page: %+v", docs[total-1])
	}
	want := []int{0, spacePageLimit, 2 * spacePageLimit}
	if fmt.Sprint(starts) != fmt.Sprint(want) {
		t.Errorf("requested starts %v, want %v", starts, want)
	}
}

func TestConfluenceClient_EmptySpace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[],"limit":50,"size":0}`))
	}))
	defer srv.Close()

	c := NewConfluenceClient(srv.URL, nil, WithHTTPClient(srv.Client()))
	docs, err := c.GetAllPagesFromSpace(context.Background(), "EMPTY")
	if err != nil || len(docs) != 0 {
		t.Errorf("expected no pages, got %d, %v", len(docs), err)
	}
}

func TestConfluenceClient_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>login</html>`))
	}))
	defer srv.Close()

	c := NewConfluenceClient(srv.URL, nil, WithHTTPClient(srv.Client()))
	if _, err := c.GetPage(context.Background(), "1"); err == nil {
		t.Error("expected decode error")
	}
}

func TestBearerAuth_Apply(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "https://wiki.example.com", nil)
	BearerAuth{Token: "pat"}.Apply(req)
	if got := req.Header.Get("Authorization"); got != "Bearer pat" {
		t.Errorf("Authorization = %q", got)
	}
}
