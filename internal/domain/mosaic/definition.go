package mosaic

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/maptile/tilecover"
)

const (
	// SpecVersion is the MosaicJSON document version produced by NewDefinition.
	SpecVersion = "0.0.2"
	// zoomLimit is the deepest web mercator zoom accepted for a definition.
	zoomLimit = 24
)

// Feature is one asset with its footprint.
type Feature struct {
	Geometry orb.Geometry
	Asset    string
}

// Definition is a MosaicJSON document mapping quadkeys to asset URLs (immutable).
type Definition struct {
	minZoom     int
	maxZoom     int
	quadkeyZoom int
	bounds      orb.Bound
	tiles       map[string][]string
}

// NewDefinition covers every feature at quadkey zoom = minZoom.
// Assets keep feature order within a tile.
func NewDefinition(minZoom, maxZoom int, features []Feature) (Definition, error) {
	if minZoom < 0 || maxZoom > zoomLimit || minZoom > maxZoom {
		return Definition{}, fmt.Errorf("invalid zoom range %d-%d", minZoom, maxZoom)
	}
	if len(features) == 0 {
		return Definition{}, fmt.Errorf("no features to cover")
	}

	tiles := make(map[string][]string)
	var bound orb.Bound
	for i, f := range features {
		if f.Geometry == nil {
			return Definition{}, fmt.Errorf("feature %d has no geometry", i)
		}
		if f.Asset == "" {
			return Definition{}, fmt.Errorf("feature %d has no asset", i)
		}

		cover, err := tilecover.Geometry(f.Geometry, maptile.Zoom(minZoom))
		if err != nil {
			return Definition{}, fmt.Errorf("cover feature %d: %w", i, err)
		}
		for t := range cover {
			qk := Quadkey(t)
			tiles[qk] = append(tiles[qk], f.Asset)
		}

		if i == 0 {
			bound = f.Geometry.Bound()
		} else {
			bound = bound.Union(f.Geometry.Bound())
		}
	}

	return Definition{
		minZoom:     minZoom,
		maxZoom:     maxZoom,
		quadkeyZoom: minZoom,
		bounds:      bound,
		tiles:       tiles,
	}, nil
}

// MinZoom returns the minimum zoom.
func (d Definition) MinZoom() int { return d.minZoom }

// MaxZoom returns the maximum zoom.
func (d Definition) MaxZoom() int { return d.maxZoom }

// QuadkeyZoom returns the zoom of the tile keys.
func (d Definition) QuadkeyZoom() int { return d.quadkeyZoom }

// Bounds returns west, south, east, north.
func (d Definition) Bounds() [4]float64 {
	return [4]float64{d.bounds.Min.X(), d.bounds.Min.Y(), d.bounds.Max.X(), d.bounds.Max.Y()}
}

// Center returns lon, lat, minzoom.
func (d Definition) Center() [3]float64 {
	c := d.bounds.Center()
	return [3]float64{c.X(), c.Y(), float64(d.minZoom)}
}

// Tiles returns a deep copy of the quadkey to assets map.
func (d Definition) Tiles() map[string][]string {
	out := make(map[string][]string, len(d.tiles))
	for k, v := range d.tiles {
		out[k] = slices.Clone(v)
	}
	return out
}

// Quadkeys returns the sorted tile keys.
func (d Definition) Quadkeys() []string {
	return slices.Sorted(maps.Keys(d.tiles))
}

type definitionJSON struct {
	MosaicJSON  string              `json:"mosaicjson"`
	Version     string              `json:"version"`
	MinZoom     int                 `json:"minzoom"`
	MaxZoom     int                 `json:"maxzoom"`
	QuadkeyZoom int                 `json:"quadkey_zoom"`
	Bounds      [4]float64          `json:"bounds"`
	Center      [3]float64          `json:"center"`
	Tiles       map[string][]string `json:"tiles"`
}

// MarshalJSON encodes the MosaicJSON wire document.
func (d Definition) MarshalJSON() ([]byte, error) {
	return json.Marshal(definitionJSON{
		MosaicJSON:  SpecVersion,
		Version:     "1.0.0",
		MinZoom:     d.minZoom,
		MaxZoom:     d.maxZoom,
		QuadkeyZoom: d.quadkeyZoom,
		Bounds:      d.Bounds(),
		Center:      d.Center(),
		Tiles:       d.tiles,
	})
}

// Quadkey encodes a tile as a Bing-style base-4 quadkey of Z digits.
func Quadkey(t maptile.Tile) string {
	var b strings.Builder
	b.Grow(int(t.Z))
	for i := int(t.Z); i > 0; i-- {
		digit := byte('0')
		mask := uint32(1) << (i - 1)
		if t.X&mask != 0 {
			digit++
		}
		if t.Y&mask != 0 {
			digit += 2
		}
		b.WriteByte(digit)
	}
	return b.String()
}
