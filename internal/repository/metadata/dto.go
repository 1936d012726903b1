package metadata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb/geojson"

	dommeta "github.com/kailas-cloud/dashboard-api/internal/domain/metadata"
)

const allDatasetsKey = "_all"

// looseString accepts JSON strings and numbers.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = looseString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*s = looseString(num.String())
	return nil
}

type sourceRow struct {
	Type        string   `json:"type"`
	Tiles       []string `json:"tiles"`
	SourceLayer string   `json:"source_layer"`
	LayerType   string   `json:"layer_type"`
	SourceURL   string   `json:"source_url"`
	Data        string   `json:"data"`
}

type swatchRow struct {
	Color string `json:"color"`
	Name  string `json:"name"`
}

type legendRow struct {
	Type  string          `json:"type"`
	Min   looseString     `json:"min"`
	Max   looseString     `json:"max"`
	Stops json.RawMessage `json:"stops"`
}

type compareRow struct {
	Enabled  bool      `json:"enabled"`
	Help     string    `json:"help"`
	YearDiff int       `json:"year_diff"`
	MapLabel string    `json:"map_label"`
	Source   sourceRow `json:"source"`
	TimeUnit string    `json:"time_unit"`
}

// datasetRow is a dataset as stored in the metadata document.
type datasetRow struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Type             string         `json:"type"`
	IsPeriodic       bool           `json:"is_periodic"`
	TimeUnit         string         `json:"time_unit"`
	Domain           []string       `json:"domain"`
	Source           sourceRow      `json:"source"`
	BackgroundSource *sourceRow     `json:"background_source"`
	ExclusiveWith    []string       `json:"exclusive_with"`
	Swatch           *swatchRow     `json:"swatch"`
	Compare          *compareRow    `json:"compare"`
	Legend           *legendRow     `json:"legend"`
	Paint            map[string]any `json:"paint"`
	Info             string         `json:"info"`
	Order            *int           `json:"order"`
}

type scopeRow struct {
	Domain []string `json:"domain"`
}

func (r sourceRow) toDomain() dommeta.Source {
	return dommeta.Source{
		Type:        r.Type,
		Tiles:       r.Tiles,
		SourceLayer: r.SourceLayer,
		LayerType:   r.LayerType,
		SourceURL:   r.SourceURL,
		Data:        r.Data,
	}
}

func (r datasetRow) toDomain() (dommeta.Dataset, error) {
	if r.ID == "" || r.Name == "" || r.Type == "" {
		return dommeta.Dataset{}, errors.New("id, name and type are required")
	}
	if r.Source.Type == "" {
		return dommeta.Dataset{}, errors.New("source.type is required")
	}

	d := dommeta.Dataset{
		ID:            r.ID,
		Name:          r.Name,
		Type:          r.Type,
		IsPeriodic:    r.IsPeriodic,
		TimeUnit:      r.TimeUnit,
		Domain:        r.Domain,
		Source:        r.Source.toDomain(),
		ExclusiveWith: r.ExclusiveWith,
		Paint:         r.Paint,
		Info:          r.Info,
		Order:         dommeta.DefaultOrder,
	}
	if r.Order != nil {
		d.Order = *r.Order
	}
	if r.BackgroundSource != nil {
		bg := r.BackgroundSource.toDomain()
		d.BackgroundSource = &bg
	}
	if r.Swatch != nil {
		d.Swatch = &dommeta.Swatch{Color: r.Swatch.Color, Name: r.Swatch.Name}
	}
	if r.Compare != nil {
		d.Compare = &dommeta.Comparison{
			Enabled:  r.Compare.Enabled,
			Help:     r.Compare.Help,
			YearDiff: r.Compare.YearDiff,
			MapLabel: r.Compare.MapLabel,
			Source:   r.Compare.Source.toDomain(),
			TimeUnit: r.Compare.TimeUnit,
		}
	}
	if r.Legend != nil {
		d.Legend = &dommeta.Legend{
			Type:  r.Legend.Type,
			Min:   string(r.Legend.Min),
			Max:   string(r.Legend.Max),
			Stops: r.Legend.Stops,
		}
	}
	return d, nil
}

// parseDatasetIndex decodes {"_all": {id: dataset}, "<scope>": {id: {"domain": [...]}}}.
func parseDatasetIndex(data []byte) (dommeta.Index, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return dommeta.Index{}, fmt.Errorf("decode dataset metadata: %w", err)
	}
	rawAll, ok := doc[allDatasetsKey]
	if !ok {
		return dommeta.Index{}, fmt.Errorf("dataset metadata has no %q section", allDatasetsKey)
	}

	var rows map[string]datasetRow
	if err := json.Unmarshal(rawAll, &rows); err != nil {
		return dommeta.Index{}, fmt.Errorf("decode %s: %w", allDatasetsKey, err)
	}
	idx := dommeta.Index{
		All:    make(map[string]dommeta.Dataset, len(rows)),
		Scopes: make(map[string]map[string]dommeta.Scope, len(doc)-1),
	}
	for key, row := range rows {
		d, err := row.toDomain()
		if err != nil {
			return dommeta.Index{}, fmt.Errorf("dataset %q: %w", key, err)
		}
		idx.All[key] = d
	}

	for scope, raw := range doc {
		if scope == allDatasetsKey {
			continue
		}
		var entries map[string]scopeRow
		if err := json.Unmarshal(raw, &entries); err != nil {
			return dommeta.Index{}, fmt.Errorf("decode scope %q: %w", scope, err)
		}
		s := make(map[string]dommeta.Scope, len(entries))
		for id, e := range entries {
			s[id] = dommeta.Scope{Domain: e.Domain}
		}
		idx.Scopes[scope] = s
	}
	return idx, nil
}

type linkRow struct {
	Href  string `json:"href"`
	Rel   string `json:"rel"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

type siteRow struct {
	ID          string            `json:"id"`
	Label       string            `json:"label"`
	Summary     string            `json:"summary"`
	Center      []float64         `json:"center"`
	Polygon     *geojson.Geometry `json:"polygon"`
	BoundingBox []float64         `json:"bounding_box"`
	Indicators  []json.RawMessage `json:"indicators"`
	Links       []linkRow         `json:"links"`
}

// parseSites decodes {"sites": [...]}.
func parseSites(data []byte) ([]dommeta.Site, error) {
	var doc struct {
		Sites []siteRow `json:"sites"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode site metadata: %w", err)
	}

	sites := make([]dommeta.Site, 0, len(doc.Sites))
	for i, r := range doc.Sites {
		if r.ID == "" {
			return nil, fmt.Errorf("site #%d: missing id", i)
		}
		links := make([]dommeta.Link, len(r.Links))
		for j, l := range r.Links {
			links[j] = dommeta.Link{Href: l.Href, Rel: l.Rel, Type: l.Type, Title: l.Title}
		}
		sites = append(sites, dommeta.Site{
			ID:          r.ID,
			Label:       r.Label,
			Summary:     r.Summary,
			Center:      r.Center,
			Polygon:     r.Polygon,
			BoundingBox: r.BoundingBox,
			Indicators:  r.Indicators,
			Links:       links,
		})
	}
	return sites, nil
}
