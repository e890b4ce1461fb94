package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ParaToolsInc/snapped/hist"
	"github.com/ParaToolsInc/snapped/log"
	"github.com/ParaToolsInc/snapped/tbon"
	"github.com/ParaToolsInc/snapped/types"
)

func testServer(t *testing.T) (*httptest.Server, *tbon.Tbon) {
	t.Helper()

	logger := log.NewLogger("test", log.ParseLevel("error"))
	node, err := tbon.InitRoot("127.0.0.1:0", logger)
	if err != nil {
		t.Fatalf("InitRoot failed: %v", err)
	}

	mux := http.NewServeMux()
	NewServer(node, logger).RegisterRoutes(mux)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, node
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestIndex(t *testing.T) {
	ts, _ := testServer(t)

	code, body := get(t, ts.URL+"/")
	if code != http.StatusOK {
		t.Fatalf("GET / = %d, want 200", code)
	}
	if !strings.Contains(body, "<html") {
		t.Errorf("index is not HTML: %.60s", body)
	}
}

func TestKeys(t *testing.T) {
	ts, node := testServer(t)
	node.SetCounter("b", 2)
	node.SetCounter("a", 1)

	code, body := get(t, ts.URL+"/keys/")
	if code != http.StatusOK {
		t.Fatalf("GET /keys/ = %d, want 200", code)
	}

	var keys []string
	if err := json.Unmarshal([]byte(body), &keys); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("keys = %v, want sorted [a b]", keys)
	}
}

func TestKeys_EmptyIsStillJSON(t *testing.T) {
	ts, _ := testServer(t)

	code, body := get(t, ts.URL+"/keys/")
	if code != http.StatusOK {
		t.Fatalf("GET /keys/ = %d, want 200", code)
	}
	if strings.TrimSpace(body) != "[]" {
		t.Errorf("body = %q, want []", body)
	}
}

func TestValues(t *testing.T) {
	ts, node := testServer(t)
	node.SetCounter("a", 5)

	code, body := get(t, ts.URL+"/values/a")
	if code != http.StatusOK {
		t.Fatalf("GET /values/a = %d, want 200", code)
	}

	var values map[string]uint64
	if err := json.Unmarshal([]byte(body), &values); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v, ok := values[types.Hostkey()]; !ok || v != 5 {
		t.Errorf("values = %v, want {%s: 5}", values, types.Hostkey())
	}
}

func TestValues_MissingKeyIs404(t *testing.T) {
	ts, node := testServer(t)
	node.SetCounter("a", 5)

	code, body := get(t, ts.URL+"/values/b")
	if code != http.StatusNotFound {
		t.Fatalf("GET /values/b = %d, want 404", code)
	}
	if !strings.Contains(body, "No data found for key 'b'") {
		t.Errorf("body = %q", body)
	}
}

func TestHistogram(t *testing.T) {
	ts, node := testServer(t)
	node.SetCounter("a", 5)

	code, body := get(t, ts.URL+"/hist/a")
	if code != http.StatusOK {
		t.Fatalf("GET /hist/a = %d, want 200", code)
	}

	var summary hist.Summary
	if err := json.Unmarshal([]byte(body), &summary); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(summary.Buckets) != 1 {
		t.Fatalf("buckets = %v, want one", summary.Buckets)
	}
	if b := summary.Buckets[0]; b[0] != 5 || b[1] != 5 || b[2] != 1 {
		t.Errorf("bucket = %v, want [5 5 1]", b)
	}
	if summary.Mean != 5 {
		t.Errorf("mean = %v, want 5", summary.Mean)
	}
	if summary.Ts <= 0 {
		t.Errorf("ts = %v, want positive", summary.Ts)
	}
}

func TestHistogram_MissingKeyIs404(t *testing.T) {
	ts, node := testServer(t)
	node.SetCounter("a", 5)

	code, body := get(t, ts.URL+"/hist/b")
	if code != http.StatusNotFound {
		t.Fatalf("GET /hist/b = %d, want 404", code)
	}
	if !strings.Contains(body, "No datapoints found for key 'b'") {
		t.Errorf("body = %q", body)
	}
}

func TestUnknownPath(t *testing.T) {
	ts, _ := testServer(t)

	code, body := get(t, ts.URL+"/nope")
	if code != http.StatusNotFound {
		t.Fatalf("GET /nope = %d, want 404", code)
	}
	if !strings.Contains(body, "No such API endpoint") {
		t.Errorf("body = %q", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := testServer(t)

	// Drive one query so the counter vec has something to expose.
	get(t, ts.URL+"/keys/")

	code, body := get(t, ts.URL+"/metrics")
	if code != http.StatusOK {
		t.Fatalf("GET /metrics = %d, want 200", code)
	}
	if !strings.Contains(body, "treemon_queries_total") {
		t.Errorf("metrics exposition missing treemon_queries_total")
	}
}
