package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/moditems-crawler/internal/crawler"
	"github.com/JakeFAU/moditems-crawler/internal/retry"
)

func TestNewConfiguresBaseCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "moditems-test", RespectRobots: true, MaxBodyBytes: 1 << 20})
	require.Equal(t, "moditems-test", f.base.UserAgent)
	require.False(t, f.base.IgnoreRobotsTxt)
	require.True(t, f.base.AllowURLRevisit, "repeated API queries must not be deduplicated")
	require.Equal(t, 1<<20+1, f.base.MaxBodySize)
	require.Equal(t, defaultTimeout, f.cfg.Timeout)

	unset := New(Config{})
	require.Equal(t, defaultMaxBodyBytes, unset.cfg.MaxBodyBytes)
	require.Equal(t, defaultMaxBodyBytes+1, unset.base.MaxBodySize)

	clone := f.base.Clone()
	require.Equal(t, "moditems-test", clone.UserAgent)
}

func TestVisitCallbacks(t *testing.T) {
	t.Parallel()

	v := &visit{
		req:   crawler.FetchRequest{URL: "https://wiki.example/api.php", Headers: http.Header{"X-Trace": {"yes"}}},
		start: time.Now(),
	}
	hooks := &stubHooks{}
	v.attach(hooks)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"query":{}}`),
		Headers:    &http.Header{"Content-Type": {"application/json"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://wiki.example/api.php")},
	})
	require.Equal(t, http.StatusOK, v.resp.StatusCode)
	require.Equal(t, `{"query":{}}`, string(v.resp.Body))
	require.Equal(t, "application/json", v.resp.Headers.Get("Content-Type"))

	hooks.onError(nil, errors.New("connection reset"))
	require.EqualError(t, v.err, "connection reset")

	hooks.onError(&colly.Response{StatusCode: http.StatusServiceUnavailable}, errors.New("unavailable"))
	var statusErr *retry.StatusError
	require.ErrorAs(t, v.err, &statusErr)
	require.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
}

func TestVisitWithoutHeaders(t *testing.T) {
	t.Parallel()

	v := &visit{}
	collyReq := &colly.Request{Headers: &http.Header{}}
	v.onRequest(collyReq)
	require.Empty(t, *collyReq.Headers)
}

func TestFetchAgainstServer(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{UserAgent: "test-agent", Timeout: 5 * time.Second})
	for i := 0; i < 2; i++ {
		resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/api.php?q=1"})
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.JSONEq(t, `{"ok":true}`, string(resp.Body))
	}
	require.Equal(t, int32(2), hits.Load(), "the same URL must be fetchable more than once")

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/missing"})
	var statusErr *retry.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestFetchRejectsBodyOverCap(t *testing.T) {
	t.Parallel()

	const limit = 64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		size := limit
		if r.URL.Path == "/big.png" {
			size = limit + 1
		}
		_, _ = w.Write(bytes.Repeat([]byte{'x'}, size))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: 5 * time.Second, MaxBodyBytes: limit})

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/fits.png"})
	require.NoError(t, err)
	require.Len(t, resp.Body, limit)

	_, err = f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/big.png"})
	require.ErrorIs(t, err, retry.ErrBodyTooLarge)
}

func TestVisitRejectsOversizedBody(t *testing.T) {
	t.Parallel()

	v := &visit{limit: 4, start: time.Now()}
	v.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("12345"),
		Headers:    &http.Header{},
		Request:    &colly.Request{URL: mustParseURL(t, "https://wiki.example/big.png")},
	})
	require.ErrorIs(t, v.err, retry.ErrBodyTooLarge)
	require.Empty(t, v.resp.Body)
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, crawler.FetchRequest{URL: srv.URL})
	require.Error(t, err)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
