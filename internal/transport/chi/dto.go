package chi

import (
	"encoding/json"

	"github.com/paulmach/orb/geojson"

	dommeta "github.com/kailas-cloud/dashboard-api/internal/domain/metadata"
	dommosaic "github.com/kailas-cloud/dashboard-api/internal/domain/mosaic"
)

type errorResponse struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// createMosaicRequest is a STAC item search plus the catalog root and the
// tile server user. Unknown search fields are ignored.
type createMosaicRequest struct {
	STACAPIRoot string          `json:"stac_api_root"`
	Username    string          `json:"username"`
	IDs         []string        `json:"ids,omitempty"`
	Collections []string        `json:"collections,omitempty"`
	Datetime    string          `json:"datetime,omitempty"`
	BBox        []float64       `json:"bbox,omitempty"`
	Intersects  json.RawMessage `json:"intersects,omitempty"`
	Query       map[string]any  `json:"query,omitempty"`
}

func (r createMosaicRequest) params() dommosaic.SearchParams {
	return dommosaic.SearchParams{
		STACAPIRoot: r.STACAPIRoot,
		Username:    r.Username,
		IDs:         r.IDs,
		Collections: r.Collections,
		Datetime:    r.Datetime,
		BBox:        r.BBox,
		Intersects:  r.Intersects,
		Query:       r.Query,
	}
}

type linkJSON struct {
	Href  string `json:"href"`
	Rel   string `json:"rel"`
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
}

type mosaicResponse struct {
	ID    string     `json:"id"`
	Links []linkJSON `json:"links"`
}

// record decodes a mosaic body back into the domain record.
func (m mosaicResponse) record() dommosaic.Record {
	links := make([]dommosaic.Link, len(m.Links))
	for i, l := range m.Links {
		links[i] = dommosaic.Link{Href: l.Href, Rel: l.Rel, Type: l.Type, Title: l.Title}
	}
	return dommosaic.Reconstruct(m.ID, links)
}

// Dataset fields use camelCase names on the wire.

type sourceJSON struct {
	Type        string   `json:"type"`
	Tiles       []string `json:"tiles,omitempty"`
	SourceLayer string   `json:"sourceLayer,omitempty"`
	LayerType   string   `json:"layerType,omitempty"`
	SourceURL   string   `json:"sourceUrl,omitempty"`
	Data        string   `json:"data,omitempty"`
}

type swatchJSON struct {
	Color string `json:"color"`
	Name  string `json:"name"`
}

type legendJSON struct {
	Type  string          `json:"type"`
	Min   string          `json:"min,omitempty"`
	Max   string          `json:"max,omitempty"`
	Stops json.RawMessage `json:"stops"`
}

type compareJSON struct {
	Enabled  bool       `json:"enabled"`
	Help     string     `json:"help"`
	YearDiff int        `json:"yearDiff"`
	MapLabel string     `json:"mapLabel"`
	Source   sourceJSON `json:"source"`
	TimeUnit string     `json:"timeUnit,omitempty"`
}

type datasetJSON struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Type             string         `json:"type"`
	IsPeriodic       bool           `json:"isPeriodic"`
	TimeUnit         string         `json:"timeUnit"`
	Domain           []string       `json:"domain"`
	Source           sourceJSON     `json:"source"`
	BackgroundSource *sourceJSON    `json:"backgroundSource,omitempty"`
	ExclusiveWith    []string       `json:"exclusiveWith"`
	Swatch           *swatchJSON    `json:"swatch,omitempty"`
	Compare          *compareJSON   `json:"compare,omitempty"`
	Legend           *legendJSON    `json:"legend,omitempty"`
	Paint            map[string]any `json:"paint,omitempty"`
	Info             string         `json:"info"`
	Order            int            `json:"order"`
}

type datasetsResponse struct {
	Datasets []datasetJSON `json:"datasets"`
}

// Sites keep the snake_case names of the site documents.

type siteJSON struct {
	ID          string            `json:"id"`
	Label       string            `json:"label"`
	Summary     string            `json:"summary"`
	Center      []float64         `json:"center"`
	Polygon     *geojson.Geometry `json:"polygon"`
	BoundingBox []float64         `json:"bounding_box"`
	Indicators  []json.RawMessage `json:"indicators"`
	Links       []linkJSON        `json:"links"`
}

type sitesResponse struct {
	Sites []siteJSON `json:"sites"`
}

func sourceToJSON(s dommeta.Source) sourceJSON {
	if s.IsGeoJSON() {
		return sourceJSON{Type: s.Type, Data: s.Data}
	}
	return sourceJSON{
		Type:        s.Type,
		Tiles:       s.Tiles,
		SourceLayer: s.SourceLayer,
		LayerType:   s.LayerType,
		SourceURL:   s.SourceURL,
	}
}

func datasetToJSON(d dommeta.Dataset) datasetJSON {
	out := datasetJSON{
		ID:            d.ID,
		Name:          d.Name,
		Type:          d.Type,
		IsPeriodic:    d.IsPeriodic,
		TimeUnit:      d.TimeUnit,
		Domain:        nonNil(d.Domain),
		Source:        sourceToJSON(d.Source),
		ExclusiveWith: nonNil(d.ExclusiveWith),
		Paint:         d.Paint,
		Info:          d.Info,
		Order:         d.Order,
	}
	if d.BackgroundSource != nil {
		bg := sourceToJSON(*d.BackgroundSource)
		out.BackgroundSource = &bg
	}
	if d.Swatch != nil {
		out.Swatch = &swatchJSON{Color: d.Swatch.Color, Name: d.Swatch.Name}
	}
	if d.Compare != nil {
		out.Compare = &compareJSON{
			Enabled:  d.Compare.Enabled,
			Help:     d.Compare.Help,
			YearDiff: d.Compare.YearDiff,
			MapLabel: d.Compare.MapLabel,
			Source:   sourceToJSON(d.Compare.Source),
			TimeUnit: d.Compare.TimeUnit,
		}
	}
	if d.Legend != nil {
		out.Legend = &legendJSON{
			Type:  d.Legend.Type,
			Min:   d.Legend.Min,
			Max:   d.Legend.Max,
			Stops: d.Legend.Stops,
		}
	}
	return out
}

func datasetsToJSON(ds []dommeta.Dataset) datasetsResponse {
	out := datasetsResponse{Datasets: make([]datasetJSON, len(ds))}
	for i, d := range ds {
		out.Datasets[i] = datasetToJSON(d)
	}
	return out
}

func siteToJSON(s dommeta.Site) siteJSON {
	links := make([]linkJSON, len(s.Links))
	for i, l := range s.Links {
		links[i] = linkJSON{Href: l.Href, Rel: l.Rel, Type: l.Type, Title: l.Title}
	}
	indicators := s.Indicators
	if indicators == nil {
		indicators = []json.RawMessage{}
	}
	return siteJSON{
		ID:          s.ID,
		Label:       s.Label,
		Summary:     s.Summary,
		Center:      nonNil(s.Center),
		Polygon:     s.Polygon,
		BoundingBox: s.BoundingBox,
		Indicators:  indicators,
		Links:       links,
	}
}

func sitesToJSON(sites []dommeta.Site) sitesResponse {
	out := sitesResponse{Sites: make([]siteJSON, len(sites))}
	for i, s := range sites {
		out.Sites[i] = siteToJSON(s)
	}
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
