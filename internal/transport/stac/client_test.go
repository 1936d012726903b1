package stac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kailas-cloud/dashboard-api/internal/domain"
	"github.com/kailas-cloud/dashboard-api/internal/domain/mosaic"
	"github.com/kailas-cloud/dashboard-api/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterPipelineMetrics()
	os.Exit(m.Run())
}

func itemJSON(id string) map[string]any {
	return map[string]any{
		"type":         "Feature",
		"stac_version": "1.0.0",
		"id":           id,
		"geometry": map[string]any{
			"type":        "Polygon",
			"coordinates": [][][]float64{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}},
		},
		"bbox":       []float64{0, 0, 1, 1},
		"properties": map[string]any{"datetime": "2020-01-01T00:00:00Z"},
		"links":      []any{},
		"assets": map[string]any{
			"visual": map[string]any{"href": "https://example.com/" + id + ".tif"},
		},
	}
}

func newRequest(t *testing.T, root string) mosaic.SearchRequest {
	t.Helper()
	req, err := mosaic.NewSearchRequest(mosaic.SearchParams{
		STACAPIRoot: root,
		Username:    "test_user",
		Collections: []string{"sentinel-s2-l2a-cogs"},
		Datetime:    "2020-01-01/2020-02-01",
		BBox:        []float64{0, 0, 1, 1},
	})
	if err != nil {
		t.Fatalf("NewSearchRequest: %v", err)
	}
	return req
}

func TestSearch_FollowsNextLinks(t *testing.T) {
	var calls atomic.Int32
	var srvURL string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if r.Method != http.MethodPost || r.URL.Path != "/search" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["limit"] != float64(2) {
			t.Errorf("unexpected limit: %v", body["limit"])
		}

		page := map[string]any{"type": "FeatureCollection"}
		switch n {
		case 1:
			if body["datetime"] != "2020-01-01/2020-02-01" {
				t.Errorf("unexpected datetime: %v", body["datetime"])
			}
			page["features"] = []any{itemJSON("a"), itemJSON("b")}
			page["links"] = []any{map[string]any{
				"rel": "next", "href": srvURL + "/search", "method": "POST",
				"body": map[string]any{"token": "page2"}, "merge": true,
			}}
		default:
			if body["token"] != "page2" || body["collections"] == nil {
				t.Errorf("merged body expected, got %v", body)
			}
			page["features"] = []any{itemJSON("c")}
		}
		w.Header().Set("Content-Type", "application/geo+json")
		_ = json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()
	srvURL = srv.URL

	c, err := New(WithLimits(2, 10))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	items, err := c.Search(context.Background(), newRequest(t, srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0].Id != "a" || items[2].Id != "c" {
		t.Errorf("unexpected order: %s, %s", items[0].Id, items[2].Id)
	}
	if items[0].Assets["visual"].Href != "https://example.com/a.tif" {
		t.Errorf("unexpected visual asset: %v", items[0].Assets["visual"])
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestSearch_CapsAtMaxItems(t *testing.T) {
	var calls atomic.Int32
	var srvURL string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		features := make([]any, 0, 2)
		for i := range 2 {
			features = append(features, itemJSON(fmt.Sprintf("p%d-%d", n, i)))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"type":     "FeatureCollection",
			"features": features,
			"links":    []any{map[string]any{"rel": "next", "href": srvURL + "/search?token=x", "method": "GET"}},
		})
	}))
	defer srv.Close()
	srvURL = srv.URL

	c, _ := New(WithLimits(2, 3))
	items, err := c.Search(context.Background(), newRequest(t, srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 3 {
		t.Errorf("expected 3 items, got %d", len(items))
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestSearch_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"limit too large"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c, _ := New()
	_, err := c.Search(context.Background(), newRequest(t, srv.URL))
	if !errors.Is(err, domain.ErrCatalogSearch) {
		t.Fatalf("expected ErrCatalogSearch, got %v", err)
	}
	detail := domain.Detail(err)
	if !strings.HasPrefix(detail, "STAC Search error: catalog returned 400") {
		t.Errorf("unexpected detail: %q", detail)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Errorf("expected APIError with status 400, got %v", err)
	}
}

func TestSearch_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	defer srv.Close()

	c, _ := New()
	_, err := c.Search(context.Background(), newRequest(t, srv.URL))
	if !errors.Is(err, domain.ErrCatalogSearch) {
		t.Fatalf("expected ErrCatalogSearch, got %v", err)
	}
}

func TestSearch_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c, _ := New()
	_, err := c.Search(ctx, newRequest(t, srv.URL))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestNew_InvalidOptions(t *testing.T) {
	if _, err := New(WithHTTPClient(nil)); err == nil {
		t.Error("expected error for nil http client")
	}
	if _, err := New(WithLimits(0, 10)); err == nil {
		t.Error("expected error for zero page size")
	}
}

func TestNextRequest(t *testing.T) {
	prev := map[string]any{"limit": 500, "collections": []string{"c"}}

	m, b := nextRequest(&pageLink{Href: "x", Method: "GET"}, prev)
	if m != http.MethodGet || b != nil {
		t.Errorf("GET link: got %s %v", m, b)
	}

	m, b = nextRequest(&pageLink{Href: "x", Body: map[string]any{"token": "t"}}, prev)
	if m != http.MethodPost || len(b) != 1 {
		t.Errorf("POST without merge: got %s %v", m, b)
	}

	_, b = nextRequest(&pageLink{Href: "x", Method: "post", Body: map[string]any{"token": "t"}, Merge: true}, prev)
	if b["token"] != "t" || b["limit"] != 500 {
		t.Errorf("merge lost fields: %v", b)
	}
	if _, ok := prev["token"]; ok {
		t.Error("merge mutated previous body")
	}
}
