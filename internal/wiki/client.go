// Package wiki talks to a MediaWiki action API to discover mod items, their
// image references and the download URLs of those images.
package wiki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/moditems-crawler/internal/crawler"
	"github.com/JakeFAU/moditems-crawler/internal/metrics"
	"github.com/JakeFAU/moditems-crawler/internal/retry"
)

// API endpoints as labeled in metrics and logs.
const (
	EndpointSearch    = "search"
	EndpointDetails   = "details"
	EndpointImageInfo = "imageinfo"
)

const defaultSearchLimit = 50

var (
	// ErrNoPage is returned when a title resolves to no page.
	ErrNoPage = errors.New("wiki: page not found")
	// ErrNoImageURL is returned when imageinfo carries no url.
	ErrNoImageURL = errors.New("wiki: image url not found")
)

// Config points the client at an API endpoint.
type Config struct {
	BaseURL     string
	SearchLimit int
	Timeout     time.Duration
}

// Client implements crawler.WikiClient. Public methods never return errors;
// failures are logged and reported as empty results.
type Client struct {
	base    *url.URL
	cfg     Config
	fetcher crawler.Fetcher
	limiter crawler.Limiter
	policy  *retry.ExponentialPolicy
	logger  *zap.Logger
}

// New validates cfg and builds a Client. limiter and policy may be nil.
func New(
	cfg Config,
	fetcher crawler.Fetcher,
	limiter crawler.Limiter,
	policy *retry.ExponentialPolicy,
	logger *zap.Logger,
) (*Client, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("wiki client requires a fetcher")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", cfg.BaseURL)
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = defaultSearchLimit
	}
	if policy == nil {
		policy = retry.New(retry.Config{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		base:    base,
		cfg:     cfg,
		fetcher: fetcher,
		limiter: limiter,
		policy:  policy,
		logger:  logger.Named("wiki"),
	}, nil
}

// Search returns the pages matching "<modName> items" in search order.
func (c *Client) Search(ctx context.Context, modName string) []crawler.SearchResult {
	results, err := c.search(ctx, modName)
	if err != nil {
		c.logger.Error("search failed", zap.String("mod", modName), zap.Error(err))
		return []crawler.SearchResult{}
	}
	c.logger.Debug("search complete", zap.String("mod", modName), zap.Int("results", len(results)))
	return results
}

// ItemDetails returns the extract and image titles of a page, or nil when
// the page cannot be fetched or does not exist.
func (c *Client) ItemDetails(ctx context.Context, title string) *crawler.ItemDetails {
	details, err := c.details(ctx, title)
	if err != nil {
		if errors.Is(err, ErrNoPage) {
			c.logger.Warn("item page missing", zap.String("title", title))
		} else {
			c.logger.Error("fetch item details failed", zap.String("title", title), zap.Error(err))
		}
		return nil
	}
	c.logger.Debug("item details",
		zap.String("title", details.Title),
		zap.String("description", details.Description),
		zap.Int("images", len(details.Images)),
	)
	return details
}

// ImageURL resolves a file title to its download URL, or "" on failure.
func (c *Client) ImageURL(ctx context.Context, imageTitle string) string {
	u, err := c.imageURL(ctx, imageTitle)
	if err != nil {
		c.logger.Error("resolve image url failed", zap.String("image", imageTitle), zap.Error(err))
		return ""
	}
	return u
}

type apiError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

type searchResponse struct {
	Error *apiError `json:"error"`
	Query *struct {
		Search []crawler.SearchResult `json:"search"`
	} `json:"query"`
}

type pagesResponse struct {
	Error *apiError `json:"error"`
	Query *struct {
		Pages map[string]page `json:"pages"`
	} `json:"query"`
}

type page struct {
	PageID  int             `json:"pageid"`
	Title   string          `json:"title"`
	Missing json.RawMessage `json:"missing"`
	Invalid json.RawMessage `json:"invalid"`
	Extract string          `json:"extract"`
	Images  []struct {
		Title string `json:"title"`
	} `json:"images"`
	ImageInfo []struct {
		URL string `json:"url"`
	} `json:"imageinfo"`
}

func (p page) exists() bool {
	return len(p.Missing) == 0 && len(p.Invalid) == 0
}

func (c *Client) search(ctx context.Context, modName string) ([]crawler.SearchResult, error) {
	params := url.Values{}
	params.Set("list", "search")
	params.Set("srsearch", modName+" items")
	params.Set("srnamespace", "0")
	params.Set("srlimit", strconv.Itoa(c.cfg.SearchLimit))

	var resp searchResponse
	if err := c.query(ctx, EndpointSearch, params, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error.asError()
	}
	if resp.Query == nil || resp.Query.Search == nil {
		return nil, fmt.Errorf("response missing query.search")
	}
	return resp.Query.Search, nil
}

func (c *Client) details(ctx context.Context, title string) (*crawler.ItemDetails, error) {
	params := url.Values{}
	params.Set("prop", "images|extracts")
	params.Set("titles", title)
	params.Set("exintro", "1")
	params.Set("explaintext", "1")

	pages, err := c.pages(ctx, EndpointDetails, params)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 || !pages[0].exists() {
		return nil, ErrNoPage
	}
	p := pages[0]
	details := &crawler.ItemDetails{
		Title:       p.Title,
		Description: p.Extract,
		Images:      make([]string, 0, len(p.Images)),
	}
	if details.Title == "" {
		details.Title = title
	}
	for _, img := range p.Images {
		details.Images = append(details.Images, img.Title)
	}
	return details, nil
}

func (c *Client) imageURL(ctx context.Context, imageTitle string) (string, error) {
	params := url.Values{}
	params.Set("prop", "imageinfo")
	params.Set("iiprop", "url")
	params.Set("titles", imageTitle)

	pages, err := c.pages(ctx, EndpointImageInfo, params)
	if err != nil {
		return "", err
	}
	for _, p := range pages {
		for _, info := range p.ImageInfo {
			if info.URL != "" {
				return info.URL, nil
			}
		}
	}
	return "", ErrNoImageURL
}

// pages runs a prop query and returns its pages ordered by key.
func (c *Client) pages(ctx context.Context, endpoint string, params url.Values) ([]page, error) {
	var resp pagesResponse
	if err := c.query(ctx, endpoint, params, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error.asError()
	}
	if resp.Query == nil {
		return nil, nil
	}
	keys := slices.Sorted(maps.Keys(resp.Query.Pages))
	out := make([]page, 0, len(keys))
	for _, k := range keys {
		out = append(out, resp.Query.Pages[k])
	}
	return out, nil
}

func (c *Client) query(ctx context.Context, endpoint string, params url.Values, out any) error {
	params.Set("action", "query")
	params.Set("format", "json")
	target := c.endpointURL(params)

	start := time.Now()
	body, err := c.fetch(ctx, target)
	if err == nil {
		if decodeErr := json.Unmarshal(body, out); decodeErr != nil {
			err = fmt.Errorf("decode %s response: %w", endpoint, decodeErr)
		}
	}
	metrics.ObserveAPIRequest(endpoint, err, time.Since(start))
	return err
}

func (c *Client) endpointURL(params url.Values) string {
	u := *c.base
	merged := c.base.Query()
	for k, v := range params {
		merged[k] = v
	}
	u.RawQuery = merged.Encode()
	return u.String()
}

func (c *Client) fetch(ctx context.Context, target string) ([]byte, error) {
	headers := http.Header{}
	headers.Set("Accept", "application/json")

	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, target); err != nil {
				return nil, err
			}
		}
		resp, err := c.fetcher.Fetch(ctx, crawler.FetchRequest{
			URL:     target,
			Headers: headers,
			Timeout: c.cfg.Timeout,
		})
		if err == nil {
			return resp.Body, nil
		}
		if !c.policy.ShouldRetry(err, attempt) {
			return nil, err
		}
		delay := c.policy.Backoff(attempt)
		c.logger.Warn("retrying wiki request",
			zap.String("url", target),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := retry.Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (e *apiError) asError() error {
	return fmt.Errorf("api error %s: %s", e.Code, strings.TrimSpace(e.Info))
}
