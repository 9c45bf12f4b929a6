// Package wikitest serves a small in-memory MediaWiki action API for tests.
package wikitest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// Page is a fake wiki page.
type Page struct {
	Extract string
	Images  []string
}

// Wiki holds the fake content. Image titles resolve to
// <server>/images/<title> unless listed in BrokenImages.
type Wiki struct {
	// Search maps a srsearch value ("<mod> items") to result titles.
	Search map[string][]string
	// Pages maps page titles to their content.
	Pages map[string]Page
	// BrokenImages lists file titles that have no imageinfo.
	BrokenImages map[string]bool
	// MissingFiles lists image paths that answer 404.
	MissingFiles map[string]bool
	// LargeFiles maps image paths to a padded body size in bytes.
	LargeFiles map[string]int
	// FailSearch answers every search with a 500.
	FailSearch bool
}

// Server wraps an httptest.Server with request counters.
type Server struct {
	*httptest.Server

	wiki     Wiki
	mu       sync.Mutex
	searches map[string]int
	requests atomic.Int64
}

// New starts a fake wiki and closes it when the test ends.
func New(t testing.TB, wiki Wiki) *Server {
	t.Helper()
	s := &Server{wiki: wiki, searches: make(map[string]int)}
	mux := http.NewServeMux()
	mux.HandleFunc("/api.php", s.handleAPI)
	mux.HandleFunc("/images/", s.handleImage)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// APIURL is the action API endpoint.
func (s *Server) APIURL() string {
	return s.URL + "/api.php"
}

// ImageURL is the URL the fake resolves a file title to.
func (s *Server) ImageURL(title string) string {
	return s.URL + "/images/" + strings.ReplaceAll(title, " ", "_")
}

// Searches reports how often srsearch was queried with term.
func (s *Server) Searches(term string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searches[term]
}

// Requests reports the total number of requests served.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	q := r.URL.Query()
	if q.Get("action") != "query" || q.Get("format") != "json" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	switch {
	case q.Get("list") == "search":
		s.serveSearch(w, q.Get("srsearch"))
	case q.Get("prop") == "images|extracts":
		s.serveDetails(w, q.Get("titles"))
	case q.Get("prop") == "imageinfo":
		s.serveImageInfo(w, q.Get("titles"))
	default:
		http.Error(w, "unsupported query", http.StatusBadRequest)
	}
}

func (s *Server) serveSearch(w http.ResponseWriter, term string) {
	s.mu.Lock()
	s.searches[term]++
	s.mu.Unlock()
	if s.wiki.FailSearch {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	hits := make([]map[string]any, 0)
	for i, title := range s.wiki.Search[term] {
		hits = append(hits, map[string]any{"ns": 0, "title": title, "pageid": 100 + i, "snippet": ""})
	}
	writeJSON(w, map[string]any{"query": map[string]any{"search": hits}})
}

func (s *Server) serveDetails(w http.ResponseWriter, title string) {
	p, ok := s.wiki.Pages[title]
	if !ok {
		writeJSON(w, map[string]any{"query": map[string]any{"pages": map[string]any{
			"-1": map[string]any{"ns": 0, "title": title, "missing": ""},
		}}})
		return
	}
	images := make([]map[string]any, 0, len(p.Images))
	for _, img := range p.Images {
		images = append(images, map[string]any{"ns": 6, "title": img})
	}
	writeJSON(w, map[string]any{"query": map[string]any{"pages": map[string]any{
		"1": map[string]any{"pageid": 1, "ns": 0, "title": title, "extract": p.Extract, "images": images},
	}}})
}

func (s *Server) serveImageInfo(w http.ResponseWriter, title string) {
	if s.wiki.BrokenImages[title] {
		writeJSON(w, map[string]any{"query": map[string]any{"pages": map[string]any{
			"-1": map[string]any{"ns": 6, "title": title, "missing": "", "imagerepository": ""},
		}}})
		return
	}
	writeJSON(w, map[string]any{"query": map[string]any{"pages": map[string]any{
		"-1": map[string]any{
			"ns":        6,
			"title":     title,
			"imageinfo": []map[string]any{{"url": s.ImageURL(title)}},
		},
	}}})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	name := strings.TrimPrefix(r.URL.Path, "/images/")
	if s.wiki.MissingFiles[name] {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if n, ok := s.wiki.LargeFiles[name]; ok {
		_, _ = w.Write(bytes.Repeat([]byte{'x'}, n))
		return
	}
	_, _ = w.Write([]byte("png:" + name))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
