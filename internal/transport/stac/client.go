// Package stac queries STAC API catalogs for the mosaic pipeline.
package stac

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	stacgo "github.com/planetlabs/go-stac"
	"go.uber.org/zap"

	"github.com/kailas-cloud/dashboard-api/internal/domain"
	"github.com/kailas-cloud/dashboard-api/internal/domain/mosaic"
	"github.com/kailas-cloud/dashboard-api/internal/metrics"
)

const (
	// DefaultPageSize is the largest page most STAC APIs accept.
	DefaultPageSize = 500
	// DefaultMaxItems caps the items collected across pages.
	DefaultMaxItems = 1000

	maxErrorBody = 1024
)

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("stac: http client cannot be nil")
		}
		c.httpClient = hc
		return nil
	}
}

// WithLimits sets the page size and the overall item cap.
func WithLimits(pageSize, maxItems int) Option {
	return func(c *Client) error {
		if pageSize <= 0 || maxItems <= 0 {
			return fmt.Errorf("stac: limits must be positive, got page=%d max=%d", pageSize, maxItems)
		}
		c.pageSize = pageSize
		c.maxItems = maxItems
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) error {
		c.logger = l
		return nil
	}
}

// Client searches a STAC API given per request by SearchRequest.STACAPIRoot.
type Client struct {
	httpClient *http.Client
	pageSize   int
	maxItems   int
	logger     *zap.Logger
}

// New creates a Client.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		pageSize:   DefaultPageSize,
		maxItems:   DefaultMaxItems,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// itemPage is one page of a POST /search response.
type itemPage struct {
	Type     string         `json:"type"`
	Features []*stacgo.Item `json:"features"`
	Links    []pageLink     `json:"links,omitempty"`
}

// pageLink is a STAC API link with the optional paging extension fields.
type pageLink struct {
	Href   string         `json:"href"`
	Rel    string         `json:"rel"`
	Method string         `json:"method,omitempty"`
	Body   map[string]any `json:"body,omitempty"`
	Merge  bool           `json:"merge,omitempty"`
}

func (p *itemPage) next() *pageLink {
	for i := range p.Links {
		if strings.EqualFold(p.Links[i].Rel, "next") && p.Links[i].Href != "" {
			return &p.Links[i]
		}
	}
	return nil
}

// Search runs POST {root}/search and follows next links until the item cap
// is reached or the catalog runs out of pages.
// Every failure wraps domain.ErrCatalogSearch.
func (c *Client) Search(ctx context.Context, req mosaic.SearchRequest) ([]*stacgo.Item, error) {
	items, err := c.search(ctx, req)
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues("stac", "search", "error").Inc()
		return nil, domain.NewDetailError(domain.ErrCatalogSearch, "STAC Search error: "+err.Error(), err)
	}
	metrics.UpstreamRequestsTotal.WithLabelValues("stac", "search", "ok").Inc()
	return items, nil
}

func (c *Client) search(ctx context.Context, req mosaic.SearchRequest) ([]*stacgo.Item, error) {
	body := searchBody(req, c.pageSize)
	method := http.MethodPost
	href := strings.TrimRight(req.STACAPIRoot(), "/") + "/search"

	var items []*stacgo.Item
	for len(items) < c.maxItems {
		page, err := c.fetchPage(ctx, method, href, body)
		if err != nil {
			return nil, err
		}
		for _, it := range page.Features {
			if it != nil {
				items = append(items, it)
			}
		}

		link := page.next()
		if link == nil || len(page.Features) == 0 {
			break
		}
		href = link.Href
		method, body = nextRequest(link, body)
	}

	if len(items) > c.maxItems {
		items = items[:c.maxItems]
	}
	c.logger.Debug("STAC search finished",
		zap.String("root", req.STACAPIRoot()),
		zap.Int("items", len(items)),
	)
	return items, nil
}

// nextRequest derives the follow-up request from a next link: POST with the
// link body (merged onto the previous body when merge is set), or GET href.
func nextRequest(link *pageLink, prev map[string]any) (string, map[string]any) {
	method := strings.ToUpper(link.Method)
	if method == "" {
		method = http.MethodGet
		if link.Body != nil {
			method = http.MethodPost
		}
	}
	if method != http.MethodPost {
		return method, nil
	}
	if !link.Merge {
		return method, link.Body
	}
	merged := make(map[string]any, len(prev)+len(link.Body))
	for k, v := range prev {
		merged[k] = v
	}
	for k, v := range link.Body {
		merged[k] = v
	}
	return method, merged
}

func (c *Client) fetchPage(ctx context.Context, method, href string, body map[string]any) (*itemPage, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode search body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, href, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/geo+json, application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, href, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{Status: resp.StatusCode, Body: string(raw)}
	}

	var page itemPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return &page, nil
}

// searchBody builds the POST /search payload from the request filters.
func searchBody(req mosaic.SearchRequest, limit int) map[string]any {
	body := map[string]any{"limit": limit}
	if ids := req.IDs(); len(ids) > 0 {
		body["ids"] = ids
	}
	if cols := req.Collections(); len(cols) > 0 {
		body["collections"] = cols
	}
	if dt := req.Datetime(); dt != "" {
		body["datetime"] = dt
	}
	if bbox := req.BBox(); len(bbox) > 0 {
		body["bbox"] = bbox
	}
	if geom := req.Intersects(); len(geom) > 0 {
		body["intersects"] = geom
	}
	if q := req.Query(); len(q) > 0 {
		body["query"] = q
	}
	return body
}

// APIError is a non-2xx catalog response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("catalog returned %d: %s", e.Status, e.Body)
}
