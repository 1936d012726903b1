package metadata

import (
	"encoding/json"
	"slices"

	"github.com/paulmach/orb/geojson"
)

// Link is a hypermedia reference attached to a site.
type Link struct {
	Href  string
	Rel   string
	Type  string
	Title string
}

// Site is a named area of interest with its indicators.
type Site struct {
	ID          string
	Label       string
	Summary     string
	Center      []float64
	Polygon     *geojson.Geometry
	BoundingBox []float64
	Indicators  []json.RawMessage
	Links       []Link
}

// WithSelfLink returns a copy of s with a rel=self link under apiURL.
func (s Site) WithSelfLink(apiURL string) Site {
	out := s
	out.Center = slices.Clone(s.Center)
	out.BoundingBox = slices.Clone(s.BoundingBox)
	out.Links = append(slices.Clone(s.Links), Link{
		Href:  apiURL + "/sites/" + s.ID,
		Rel:   "self",
		Type:  "application/json",
		Title: "Self",
	})
	return out
}
