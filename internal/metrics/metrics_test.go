package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Minecraft.Fandom.com/api.php", "minecraft.fandom.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if apiRequestsTotal == nil || downloadBytesTotal == nil || storeSavesTotal == nil ||
		activeWorkers == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()
	before := testutil.ToFloat64(storeSavesTotal.WithLabelValues("success"))
	ObserveStoreSave(nil)
	if got := testutil.ToFloat64(storeSavesTotal.WithLabelValues("success")); got != before+1 {
		t.Fatalf("expected store saves to grow by 1, got %f -> %f", before, got)
	}

	errBefore := testutil.ToFloat64(apiRequestsTotal.WithLabelValues("search", "error"))
	ObserveAPIRequest("search", errors.New("boom"), 10*time.Millisecond)
	if got := testutil.ToFloat64(apiRequestsTotal.WithLabelValues("search", "error")); got != errBefore+1 {
		t.Fatalf("expected api error counter to grow, got %f -> %f", errBefore, got)
	}

	bytesBefore := testutil.ToFloat64(downloadBytesTotal)
	ObserveDownloadBytes(0)
	ObserveDownloadBytes(512)
	if got := testutil.ToFloat64(downloadBytesTotal); got != bytesBefore+512 {
		t.Fatalf("expected 512 more bytes, got %f -> %f", bytesBefore, got)
	}

	IncActiveWorkers()
	DecActiveWorkers()
	if got := testutil.ToFloat64(activeWorkers); got != 0 {
		t.Fatalf("expected active workers back to 0, got %f", got)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://minecraft.fandom.com/api.php", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
