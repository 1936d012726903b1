// Package dataset serves the map layers available globally and per site.
package dataset

import (
	"context"
	"fmt"
	"sort"
	"strings"

	dommeta "github.com/kailas-cloud/dashboard-api/internal/domain/metadata"
	"github.com/kailas-cloud/dashboard-api/internal/usecase/site"
)

// detectionsPrefix marks datasets whose source is a GeoJSON document.
const detectionsPrefix = "detections-"

// Servers holds the upstream roots substituted into tile templates.
type Servers struct {
	VectorTileserverURL string
	TitilerServerURL    string
}

// Service serves dataset metadata.
type Service struct {
	reader  MetadataReader
	servers Servers
}

// New creates a dataset service.
func New(reader MetadataReader, servers Servers) *Service {
	return &Service{reader: reader, servers: servers}
}

// List returns every known dataset.
func (s *Service) List(ctx context.Context, apiURL string) ([]dommeta.Dataset, error) {
	idx, err := s.reader.Datasets(ctx)
	if err != nil {
		return nil, fmt.Errorf("load datasets: %w", err)
	}
	scope := make(map[string]dommeta.Scope, len(idx.All))
	for id, d := range idx.All {
		scope[id] = dommeta.Scope{Domain: d.Domain}
	}
	return s.process(idx, scope, apiURL, ""), nil
}

// Get returns the datasets visible at a location: the global ones, plus the
// site's own when locationID names a site. "global" returns only the global ones.
func (s *Service) Get(ctx context.Context, locationID, apiURL string) ([]dommeta.Dataset, error) {
	idx, err := s.reader.Datasets(ctx)
	if err != nil {
		return nil, fmt.Errorf("load datasets: %w", err)
	}
	globalScope, _ := idx.Scope(dommeta.GlobalScope)
	global := s.process(idx, globalScope, apiURL, dommeta.GlobalScope)
	if locationID == dommeta.GlobalScope {
		return global, nil
	}

	sites, err := s.reader.Sites(ctx)
	if err != nil {
		return nil, fmt.Errorf("load sites: %w", err)
	}
	if _, ok := site.Find(sites, locationID); !ok {
		return nil, site.NotFound(locationID)
	}

	siteScope, ok := idx.Scope(locationID)
	if !ok {
		return global, nil
	}
	return append(global, s.process(idx, siteScope, apiURL, locationID)...), nil
}

// process resolves the datasets of one scope: the scope's domain replaces the
// stored one, URL templates are filled and the result is ordered.
func (s *Service) process(idx dommeta.Index, scope map[string]dommeta.Scope, apiURL, spotlightID string) []dommeta.Dataset {
	tiles := s.tileReplacer(apiURL, spotlightID)
	roots := strings.NewReplacer(
		"{vector_tileserver_url}", s.servers.VectorTileserverURL,
		"{titiler_server_url}", s.servers.TitilerServerURL,
	)

	out := make([]dommeta.Dataset, 0, len(scope))
	for id, sc := range scope {
		stored, ok := idx.All[id]
		if !ok {
			continue
		}
		d := stored.Clone()
		d.Domain = append([]string(nil), sc.Domain...)

		formatTiles(tiles, d.Source.Tiles)
		if d.Source.SourceURL != "" {
			d.Source.SourceURL = roots.Replace(d.Source.SourceURL)
		}
		if d.BackgroundSource != nil {
			formatTiles(tiles, d.BackgroundSource.Tiles)
		}
		if d.Compare != nil {
			formatTiles(tiles, d.Compare.Source.Tiles)
		}
		if strings.HasPrefix(id, detectionsPrefix) && len(d.Source.Tiles) > 0 {
			d.Source = dommeta.Source{Type: d.Source.Type, Data: d.Source.Tiles[0]}
		}
		out = append(out, d)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Service) tileReplacer(apiURL, spotlightID string) *strings.Replacer {
	pairs := []string{
		"{api_url}", apiURL,
		"{vector_tileserver_url}", s.servers.VectorTileserverURL,
		"{titiler_server_url}", s.servers.TitilerServerURL,
	}
	if spotlightID != "" {
		pairs = append(pairs, "{spotlightId}", spotlightID)
	}
	return strings.NewReplacer(pairs...)
}

func formatTiles(r *strings.Replacer, tiles []string) {
	for i, t := range tiles {
		tiles[i] = r.Replace(t)
	}
}
