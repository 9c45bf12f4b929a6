package download

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/moditems-crawler/internal/crawler"
	"github.com/JakeFAU/moditems-crawler/internal/hash/sha256"
	"github.com/JakeFAU/moditems-crawler/internal/storage/memory"
)

type fakeFetcher struct {
	body        []byte
	contentType string
	err         error
	lastReq     crawler.FetchRequest
}

func (f *fakeFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return crawler.FetchResponse{}, f.err
	}
	headers := http.Header{}
	if f.contentType != "" {
		headers.Set("Content-Type", f.contentType)
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: 200, Headers: headers, Body: f.body}, nil
}

type blobStoreFunc func() error

func (f blobStoreFunc) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", f()
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a_b_c_d_e_f_g_h_i_", Sanitize(`a<b>c:d"e/f\g|h?i*`))
	assert.Equal(t, "Golden Apple_x.png", Sanitize("Golden Apple_x.png"))
	assert.Equal(t, "Яблоко.png", Sanitize("Яблоко.png"))
}

func TestSanitizeTruncatesOnRuneBoundary(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", 300)
	assert.Len(t, Sanitize(long), MaxNameBytes)

	// Two-byte runes starting at an even offset put byte 255 inside a rune.
	mixed := "aa" + strings.Repeat("я", 200)
	got := Sanitize(mixed)
	assert.LessOrEqual(t, len(got), MaxNameBytes)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, MaxNameBytes-1, len(got))
}

func TestFileName(t *testing.T) {
	t.Parallel()

	h := sha256.New()
	pngURL := "https://static.wikia.nocookie.net/minecraft/images/Apple.png"
	name := FileName(h, "Apple", pngURL)
	assert.Equal(t, "Apple_"+h.Short(pngURL)+".png", name)
	assert.Equal(t, name, FileName(h, "Apple", pngURL))

	revision := "https://static.wikia.nocookie.net/minecraft/images/a/a1/Apple.gif/revision/latest?cb=2020"
	assert.Equal(t, "Apple_"+h.Short(revision)+".png", FileName(h, "Apple", revision))

	gif := "https://example.com/img/Spin.gif?x=1"
	assert.True(t, strings.HasSuffix(FileName(h, "Spin", gif), ".gif"))

	assert.Equal(t, "A_B_"+h.Short(pngURL)+".png", FileName(h, "A/B", pngURL))
}

func TestDownloadStoresImage(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	fetcher := &fakeFetcher{body: []byte("png-bytes"), contentType: "image/png"}
	d := New(Config{}, fetcher, blobs, nil)

	imageURL := "https://example.com/Apple.png"
	location := d.Download(context.Background(), imageURL, "Apple")

	name := FileName(sha256.New(), "Apple", imageURL)
	require.Equal(t, "memory://"+name, location)
	stored, ok := blobs.Get(name)
	require.True(t, ok)
	require.Equal(t, "png-bytes", string(stored))
	require.Equal(t, defaultTimeout, fetcher.lastReq.Timeout)
}

func TestDownloadFailuresYieldEmpty(t *testing.T) {
	t.Parallel()

	fetchFail := New(Config{}, &fakeFetcher{err: errors.New("timeout")}, memory.NewBlobStore(), nil)
	require.Empty(t, fetchFail.Download(context.Background(), "https://example.com/a.png", "A"))

	storeFail := New(Config{}, &fakeFetcher{body: []byte("x")}, blobStoreFunc(func() error { return errors.New("disk full") }), nil)
	require.Empty(t, storeFail.Download(context.Background(), "https://example.com/a.png", "A"))
}

func TestContentTypeFallsBackToSniffing(t *testing.T) {
	t.Parallel()

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	cases := []struct {
		name   string
		header string
		want   string
	}{
		{name: "server header wins", header: "image/gif", want: "image/gif"},
		{name: "missing header", want: "image/png"},
		{name: "generic header", header: "application/octet-stream", want: "image/png"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			headers := http.Header{}
			if tc.header != "" {
				headers.Set("Content-Type", tc.header)
			}
			assert.Equal(t, tc.want, contentType(crawler.FetchResponse{Headers: headers, Body: png}))
		})
	}
}
