package metadata

import (
	"encoding/json"
	"slices"
)

// DefaultOrder places datasets without an explicit order last.
const DefaultOrder = 10000

// GlobalScope is the scope of datasets not tied to a site.
const GlobalScope = "global"

// Source describes where a map layer's data comes from.
// Tile sources set Tiles; GeoJSON sources set Data.
type Source struct {
	Type        string
	Tiles       []string
	SourceLayer string
	LayerType   string
	SourceURL   string
	Data        string
}

// IsGeoJSON reports whether the source is a GeoJSON document.
func (s Source) IsGeoJSON() bool { return s.Data != "" && len(s.Tiles) == 0 }

// Swatch is a legend color sample.
type Swatch struct {
	Color string
	Name  string
}

// Legend describes the layer legend. Stops is either a list of colors or of {color, label}.
type Legend struct {
	Type  string
	Min   string
	Max   string
	Stops json.RawMessage
}

// Comparison configures the year-over-year compare mode.
type Comparison struct {
	Enabled  bool
	Help     string
	YearDiff int
	MapLabel string
	Source   Source
	TimeUnit string
}

// Dataset is a map layer offered to the dashboard.
type Dataset struct {
	ID               string
	Name             string
	Type             string
	IsPeriodic       bool
	TimeUnit         string
	Domain           []string
	Source           Source
	BackgroundSource *Source
	ExclusiveWith    []string
	Swatch           *Swatch
	Compare          *Comparison
	Legend           *Legend
	Paint            map[string]any
	Info             string
	Order            int
}

// Clone returns a deep copy of the templated parts of d.
func (d Dataset) Clone() Dataset {
	out := d
	out.Domain = slices.Clone(d.Domain)
	out.ExclusiveWith = slices.Clone(d.ExclusiveWith)
	out.Source.Tiles = slices.Clone(d.Source.Tiles)
	if d.BackgroundSource != nil {
		bg := *d.BackgroundSource
		bg.Tiles = slices.Clone(bg.Tiles)
		out.BackgroundSource = &bg
	}
	if d.Compare != nil {
		cmp := *d.Compare
		cmp.Source.Tiles = slices.Clone(cmp.Source.Tiles)
		out.Compare = &cmp
	}
	return out
}

// Scope holds the per-scope overrides for one dataset.
type Scope struct {
	Domain []string
}

// Index is the parsed dataset metadata document: every dataset plus the
// datasets visible in each scope ("global" or a site id).
type Index struct {
	All    map[string]Dataset
	Scopes map[string]map[string]Scope
}

// Scope returns the dataset overrides for a scope id.
func (i Index) Scope(id string) (map[string]Scope, bool) {
	s, ok := i.Scopes[id]
	return s, ok
}
