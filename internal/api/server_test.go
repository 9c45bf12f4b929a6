package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/moditems-crawler/internal/crawler"
)

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(sampleStore()), "/healthz")

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(sampleStore()), "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ready"}`, rec.Body.String())

	broken := NewServer(&fakeReader{err: errors.New("corrupt")}, Config{}, zap.NewNop())
	rec = serve(t, broken, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	server := newTestServer(sampleStore())
	serve(t, server, "/healthz")
	rec := serve(t, server, "/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_ListMods(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(sampleStore()), "/v1/mods")

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{
		"total": 3,
		"mods": [
			{"mod_name": "AppleSkin", "items": 2},
			{"mod_name": "Botania", "items": 0},
			{"mod_name": "Create", "items": 1}
		]
	}`, rec.Body.String())
}

func TestServer_ListModsPaging(t *testing.T) {
	t.Parallel()

	server := newTestServer(sampleStore())

	rec := serve(t, server, "/v1/mods?limit=1&offset=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Total int          `json:"total"`
		Mods  []modSummary `json:"mods"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 3, body.Total)
	require.Equal(t, []modSummary{{ModName: "Botania", Items: 0}}, body.Mods)

	rec = serve(t, server, "/v1/mods?offset=10")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"total":3,"mods":[]}`, rec.Body.String())

	rec = serve(t, server, "/v1/mods?limit=zero")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid limit")

	rec = serve(t, server, "/v1/mods?offset=-1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid offset")
}

func TestServer_GetMod(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(sampleStore()), "/v1/mods/AppleSkin")

	require.Equal(t, http.StatusOK, rec.Code)
	var mod crawler.ModRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mod))
	require.Equal(t, "AppleSkin", mod.ModName)
	require.Len(t, mod.Items, 2)
	require.Equal(t, "https://img.example/apple.png", mod.Items[0].Images[0].URL)
}

func TestServer_GetModEmptyItems(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(sampleStore()), "/v1/mods/Botania")

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"mod_name":"Botania","items":[]}`, rec.Body.String())
}

func TestServer_GetModNotFound(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(sampleStore()), "/v1/mods/Unknown")

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.JSONEq(t, `{"error":"mod not found"}`, rec.Body.String())
}

func TestServer_ReadFailure(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeReader{err: errors.New("disk gone")}, Config{}, zap.NewNop())

	rec := serve(t, server, "/v1/mods")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "failed to read store")
}

func TestServer_NilReader(t *testing.T) {
	t.Parallel()

	handler := NewModHandler(nil, nil)
	rec := httptest.NewRecorder()
	handler.ListMods(rec, httptest.NewRequest(http.MethodGet, "/v1/mods", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_FileStoreReloadsPerRequest(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "mod_items_data.json")
	server := NewServer(FileStore{Path: path}, Config{}, zap.NewNop())

	rec := serve(t, server, "/v1/mods")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"total":0,"mods":[]}`, rec.Body.String())

	doc := `{"mods":[{"mod_name":"AppleSkin","items":[]}]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	rec = serve(t, server, "/v1/mods")
	require.JSONEq(t, `{"total":1,"mods":[{"mod_name":"AppleSkin","items":0}]}`, rec.Body.String())

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	rec = serve(t, server, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeReader{doc: sampleStore()}, Config{APIKey: "secret"}, zap.NewNop())

	rec := serve(t, server, "/v1/mods")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/mods", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, server, "/v1/mods?api_key=secret")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, server, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(sampleStore()), "/healthz")

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	handler := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
	require.NotNil(t, buf)
}

// --- helpers/fakes ---

type fakeReader struct {
	doc crawler.Store
	err error
}

func (f *fakeReader) Read(context.Context) (crawler.Store, error) {
	if f.err != nil {
		return crawler.Store{}, f.err
	}
	return f.doc, nil
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

func sampleStore() crawler.Store {
	return crawler.Store{Mods: []crawler.ModRecord{
		{
			ModName: "AppleSkin",
			Items: []crawler.ItemRecord{
				{Images: []crawler.ImageRecord{{Name: "Apple", URL: "https://img.example/apple.png"}}},
				{Images: []crawler.ImageRecord{{Name: "Golden Apple", URL: "https://img.example/golden.png"}}},
			},
		},
		{ModName: "Botania", Items: []crawler.ItemRecord{}},
		{
			ModName: "Create",
			Items: []crawler.ItemRecord{
				{Images: []crawler.ImageRecord{{Name: "Cog", URL: "https://img.example/cog.gif", LocalPath: "mod_items_data/Cog.gif"}}},
			},
		},
	}}
}

func newTestServer(doc crawler.Store) *Server {
	return NewServer(&fakeReader{doc: doc}, Config{}, zap.NewNop())
}

func serve(t *testing.T, server *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}
