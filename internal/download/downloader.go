// Package download fetches resolved image URLs and writes them through a
// BlobStore under stable, filesystem-safe names.
package download

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/JakeFAU/moditems-crawler/internal/crawler"
	"github.com/JakeFAU/moditems-crawler/internal/hash/sha256"
	"github.com/JakeFAU/moditems-crawler/internal/metrics"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultExtension = ".png"
	// MaxNameBytes is the longest file name most filesystems accept.
	MaxNameBytes = 255
)

// Config tunes the downloader.
type Config struct {
	Timeout time.Duration
}

// Downloader implements crawler.ImageDownloader.
type Downloader struct {
	fetcher crawler.Fetcher
	blobs   crawler.BlobStore
	hasher  crawler.Hasher
	timeout time.Duration
	logger  *zap.Logger
}

// New builds a Downloader.
func New(cfg Config, fetcher crawler.Fetcher, blobs crawler.BlobStore, logger *zap.Logger) *Downloader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		fetcher: fetcher,
		blobs:   blobs,
		hasher:  sha256.New(),
		timeout: cfg.Timeout,
		logger:  logger.Named("download"),
	}
}

// Download fetches imageURL and stores it as FileName(itemTitle, imageURL).
// It returns the stored location, or "" when any step fails.
func (d *Downloader) Download(ctx context.Context, imageURL string, itemTitle string) string {
	location, size, err := d.download(ctx, imageURL, itemTitle)
	if err != nil {
		d.logger.Error("image download failed", zap.String("url", imageURL), zap.Error(err))
		return ""
	}
	metrics.ObserveDownloadBytes(size)
	d.logger.Info("image downloaded",
		zap.String("item", itemTitle),
		zap.String("location", location),
		zap.String("size", humanize.Bytes(uint64(size))),
	)
	return location
}

func (d *Downloader) download(ctx context.Context, imageURL, itemTitle string) (string, int, error) {
	resp, err := d.fetcher.Fetch(ctx, crawler.FetchRequest{URL: imageURL, Timeout: d.timeout})
	if err != nil {
		return "", 0, fmt.Errorf("fetch image: %w", err)
	}
	name := FileName(d.hasher, itemTitle, imageURL)
	location, err := d.blobs.PutObject(ctx, name, contentType(resp), bytes.NewReader(resp.Body))
	if err != nil {
		return "", 0, fmt.Errorf("store image: %w", err)
	}
	return location, len(resp.Body), nil
}

// contentType trusts the server unless it sent nothing useful, in which case
// the bytes are sniffed.
func contentType(resp crawler.FetchResponse) string {
	if ct := resp.Headers.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	return mimetype.Detect(resp.Body).String()
}

// FileName derives "<itemTitle>_<hash16(url)><ext>" and sanitizes it. The
// extension comes from the URL path and defaults to .png.
func FileName(hasher crawler.Hasher, itemTitle, imageURL string) string {
	ext := defaultExtension
	if u, err := url.Parse(imageURL); err == nil {
		if e := path.Ext(u.Path); e != "" {
			ext = e
		}
	}
	return Sanitize(itemTitle + "_" + hasher.Short(imageURL) + ext)
}

// Sanitize replaces characters that are invalid in file names with '_' and
// truncates the result to MaxNameBytes without splitting a UTF-8 sequence.
func Sanitize(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`<>:"/\|?*`, r) {
			return '_'
		}
		return r
	}, name)
	if len(cleaned) <= MaxNameBytes {
		return cleaned
	}
	cut := MaxNameBytes
	for cut > 0 && !utf8.RuneStart(cleaned[cut]) {
		cut--
	}
	return cleaned[:cut]
}
