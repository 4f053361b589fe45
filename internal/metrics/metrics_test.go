package metrics

import (
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
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
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

func TestStatusClass(t *testing.T) {
	cases := map[int]string{0: "error", 200: "2xx", 204: "2xx", 301: "3xx", 404: "4xx", 503: "5xx", 999: "error"}
	for code, want := range cases {
		if got := StatusClass(code); got != want {
			t.Errorf("StatusClass(%d) = %q; want %q", code, got, want)
		}
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if harvestActiveWorkers == nil || fetchAttemptsTotal == nil ||
		sitemapPagesTotal == nil || artifactsWrittenTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObservers(t *testing.T) {
	Init()

	ObserveRateLimitDelay("observe.test", 250*time.Millisecond)
	if got := testutil.CollectAndCount(harvestRateLimitDelaysSeconds); got < 1 {
		t.Errorf("rate limit delays not observed")
	}

	beforeBytes := testutil.ToFloat64(fetchBytesTotal.WithLabelValues("observe.test"))
	ObserveFetch("https://observe.test/doc", 200, 512)
	ObserveFetch("https://observe.test/doc", 0, 0)
	if got := testutil.ToFloat64(fetchAttemptsTotal.WithLabelValues("observe.test", "error")); got != 1 {
		t.Errorf("transport errors = %f; want 1", got)
	}
	if got := testutil.ToFloat64(fetchBytesTotal.WithLabelValues("observe.test")); got != beforeBytes+512 {
		t.Errorf("bytes = %f; want %f", got, beforeBytes+512)
	}

	ObserveSitemapPage("observe-type", "denied")
	if got := testutil.ToFloat64(sitemapPagesTotal.WithLabelValues("observe-type", "denied")); got != 1 {
		t.Errorf("sitemap pages = %f; want 1", got)
	}

	beforeRecords := testutil.ToFloat64(artifactsWrittenTotal.WithLabelValues("record"))
	ObserveArtifact("record", 64)
	if got := testutil.ToFloat64(artifactsWrittenTotal.WithLabelValues("record")); got != beforeRecords+1 {
		t.Errorf("artifacts = %f; want %f", got, beforeRecords+1)
	}

	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if got := testutil.ToFloat64(harvestActiveWorkers); got < 1 {
		t.Errorf("active workers = %f; want >= 1", got)
	}
	DecActiveWorkers()
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
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
