// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// ModStatus is the terminal outcome of processing one mod.
type ModStatus string

// Mod outcomes reported by the worker.
const (
	ModStatusPersisted ModStatus = "persisted"
	ModStatusSkipped   ModStatus = "skipped"
	ModStatusFailed    ModStatus = "failed"
)

// Store is the persisted document holding every processed mod.
type Store struct {
	Mods []ModRecord `json:"mods"`
}

// ModRecord groups the items discovered for one mod.
type ModRecord struct {
	ModName string       `json:"mod_name"`
	Items   []ItemRecord `json:"items"`
}

// ItemRecord holds the images resolved for one wiki page. The page title and
// extract are only used while processing and are not persisted.
type ItemRecord struct {
	Images []ImageRecord `json:"images"`
}

// ImageRecord describes one resolved image.
type ImageRecord struct {
	// Name is the title of the item the image belongs to.
	Name string `json:"name"`
	// URL is the resolved download URL.
	URL string `json:"url"`
	// LocalPath is where the image was written, empty when not downloaded.
	LocalPath string `json:"localPath"`
}

// SearchResult is one hit from the wiki text search.
type SearchResult struct {
	Title   string `json:"title"`
	PageID  int    `json:"pageid"`
	Snippet string `json:"snippet"`
}

// ItemDetails is the transient view of a wiki page.
type ItemDetails struct {
	Title       string
	Description string
	Images      []string
}

// QueueItem wraps a mod name waiting for a worker.
type QueueItem struct {
	ModName   string
	Submitted time.Time
}

// ModResult summarizes the outcome of one processed mod.
type ModResult struct {
	ModName string
	Status  ModStatus
	Items   int
	Images  int
	Failed  int
	Elapsed time.Duration
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
	Timeout time.Duration
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
