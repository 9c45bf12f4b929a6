// Package collyfetcher implements crawler.Fetcher on top of a gocolly
// collector. Every wiki API call goes through it.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/moditems-crawler/internal/crawler"
	"github.com/JakeFAU/moditems-crawler/internal/retry"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = 32 << 20
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	// Timeout is the upper bound for one request; a shorter
	// FetchRequest.Timeout wins.
	Timeout time.Duration
	// MaxBodyBytes is the largest accepted body. Larger responses fail with
	// retry.ErrBodyTooLarge instead of being truncated.
	MaxBodyBytes int
}

// Fetcher issues GET requests through clones of one base collector, so all
// calls share a pooled transport but never each other's callbacks.
type Fetcher struct {
	cfg  Config
	base *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	base := colly.NewCollector(colly.AllowURLRevisit())
	base.WithTransport(pooledTransport())
	base.SetRequestTimeout(cfg.Timeout)
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	// One byte over the cap lets onResponse tell a full body from a cut one.
	base.MaxBodySize = cfg.MaxBodyBytes + 1
	if cfg.UserAgent != "" {
		base.UserAgent = cfg.UserAgent
	}
	base.IgnoreRobotsTxt = !cfg.RespectRobots
	return &Fetcher{cfg: cfg, base: base}
}

// Fetch performs one GET. HTTP error statuses come back as
// *retry.StatusError so the retry policy can classify them.
func (f *Fetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	timeout := f.cfg.Timeout
	if req.Timeout > 0 && req.Timeout < timeout {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v := &visit{req: req, limit: f.cfg.MaxBodyBytes, start: time.Now()}
	c := f.base.Clone()
	c.Context = ctx
	v.attach(c)

	done := make(chan error, 1)
	go func() { done <- c.Visit(req.URL) }()

	select {
	case <-ctx.Done():
		return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", req.URL, ctx.Err())
	case err := <-done:
		if v.err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", req.URL, v.err)
		}
		if err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", req.URL, err)
		}
		return v.resp, nil
	}
}

// visit holds the state of one Fetch call while colly invokes its callbacks.
type visit struct {
	req   crawler.FetchRequest
	limit int
	start time.Time
	resp  crawler.FetchResponse
	err   error
}

type callbacks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

func (v *visit) attach(c callbacks) {
	c.OnRequest(v.onRequest)
	c.OnResponse(v.onResponse)
	c.OnError(v.onError)
}

func (v *visit) onRequest(r *colly.Request) {
	for key, values := range v.req.Headers {
		for _, value := range values {
			r.Headers.Add(key, value)
		}
	}
}

func (v *visit) onResponse(r *colly.Response) {
	if v.limit > 0 && len(r.Body) > v.limit {
		v.err = fmt.Errorf("%w: over %d bytes", retry.ErrBodyTooLarge, v.limit)
		return
	}
	v.resp = crawler.FetchResponse{
		URL:        r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Headers:    r.Headers.Clone(),
		Body:       append([]byte(nil), r.Body...),
		Duration:   time.Since(v.start),
	}
}

func (v *visit) onError(r *colly.Response, err error) {
	if r != nil && r.StatusCode >= http.StatusBadRequest {
		v.err = &retry.StatusError{StatusCode: r.StatusCode}
		return
	}
	v.err = err
}

func pooledTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
