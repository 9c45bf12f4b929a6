package crawler

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrQueueClosed is returned by Queue.Dequeue once no more items will arrive.
var ErrQueueClosed = errors.New("queue closed")

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// WikiClient wraps the MediaWiki endpoints used to discover mod items.
// Implementations swallow failures and return empty sentinels.
type WikiClient interface {
	Search(ctx context.Context, modName string) []SearchResult
	ItemDetails(ctx context.Context, title string) *ItemDetails
	ImageURL(ctx context.Context, imageTitle string) string
}

// ImageDownloader stores an image locally and returns its location, or an
// empty string when the download failed.
type ImageDownloader interface {
	Download(ctx context.Context, url string, itemTitle string) string
}

// BlobStore writes raw artifacts and returns a URI or path.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// ModStore is the append-only cache of processed mods.
type ModStore interface {
	Has(modName string) bool
	Claim(modName string) bool
	Release(modName string)
	Append(ctx context.Context, mod ModRecord) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for mod names.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Limiter gates outbound requests.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Hasher derives the short, stable digest that disambiguates image file
// names.
type Hasher interface {
	Short(s string) string
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
