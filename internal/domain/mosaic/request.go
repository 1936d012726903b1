package mosaic

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/kailas-cloud/dashboard-api/internal/domain"
)

// SearchParams is the raw input for NewSearchRequest.
type SearchParams struct {
	STACAPIRoot string
	Username    string
	IDs         []string
	Collections []string
	Datetime    string
	BBox        []float64
	Intersects  json.RawMessage
	Query       map[string]any
}

// SearchRequest describes a catalog query on behalf of a user (immutable value object).
type SearchRequest struct {
	stacAPIRoot string
	username    string
	ids         []string
	collections []string
	datetime    string
	bbox        []float64
	intersects  json.RawMessage
	query       map[string]any
}

// NewSearchRequest validates params and creates a SearchRequest.
// username and stac_api_root are required; bbox must hold 4 or 6 numbers when set.
func NewSearchRequest(p SearchParams) (SearchRequest, error) {
	if p.Username == "" {
		return SearchRequest{}, invalid("username parameter must be defined.")
	}
	if p.STACAPIRoot == "" {
		return SearchRequest{}, invalid("stac_api_root parameter must be defined.")
	}
	if n := len(p.BBox); n != 0 && n != 4 && n != 6 {
		return SearchRequest{}, invalid(fmt.Sprintf("bbox must contain 4 or 6 coordinates, got %d", n))
	}
	if len(p.Intersects) > 0 && !json.Valid(p.Intersects) {
		return SearchRequest{}, invalid("intersects must be a valid GeoJSON geometry")
	}

	return SearchRequest{
		stacAPIRoot: p.STACAPIRoot,
		username:    p.Username,
		ids:         slices.Clone(p.IDs),
		collections: slices.Clone(p.Collections),
		datetime:    p.Datetime,
		bbox:        slices.Clone(p.BBox),
		intersects:  slices.Clone(p.Intersects),
		query:       maps.Clone(p.Query),
	}, nil
}

func invalid(msg string) error {
	return domain.NewDetailError(domain.ErrInvalidRequest, msg, nil)
}

// STACAPIRoot returns the catalog root URL.
func (r SearchRequest) STACAPIRoot() string { return r.stacAPIRoot }

// Username returns the requesting user.
func (r SearchRequest) Username() string { return r.username }

// IDs returns a copy of the item id filter.
func (r SearchRequest) IDs() []string { return slices.Clone(r.ids) }

// Collections returns a copy of the collection filter.
func (r SearchRequest) Collections() []string { return slices.Clone(r.collections) }

// Datetime returns the datetime filter.
func (r SearchRequest) Datetime() string { return r.datetime }

// BBox returns a copy of the bounding box filter.
func (r SearchRequest) BBox() []float64 { return slices.Clone(r.bbox) }

// Intersects returns a copy of the raw intersects geometry.
func (r SearchRequest) Intersects() json.RawMessage { return slices.Clone(r.intersects) }

// Query returns a shallow copy of the query filter.
func (r SearchRequest) Query() map[string]any { return maps.Clone(r.query) }
