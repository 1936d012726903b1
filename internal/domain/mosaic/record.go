package mosaic

import (
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Link is a hypermedia reference.
type Link struct {
	Href  string
	Rel   string
	Type  string
	Title string
}

// Record is a published mosaic: an id controlled by the tile server plus links.
type Record struct {
	id    string
	links []Link
}

// NewRecord builds a Record with its tilejson link rooted at apiRoot.
func NewRecord(id, apiRoot string) Record {
	return Record{
		id: id,
		links: []Link{{
			Href:  TileJSONURL(apiRoot, id),
			Rel:   "tilejson",
			Type:  "application/json",
			Title: "TileJSON",
		}},
	}
}

// Reconstruct restores a Record from stored or decoded values.
func Reconstruct(id string, links []Link) Record {
	return Record{id: id, links: slices.Clone(links)}
}

// ID returns the opaque mosaic identifier.
func (r Record) ID() string { return r.id }

// Links returns a copy of the record links.
func (r Record) Links() []Link { return slices.Clone(r.links) }

// TileJSONURL returns the tile server's TileJSON endpoint for a mosaic id.
func TileJSONURL(apiRoot, id string) string {
	return strings.TrimRight(apiRoot, "/") + "/mosaicjson/" + id + "/tilejson.json"
}

// NewLayerName returns a random 32-character alphanumeric layer name.
func NewLayerName() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
