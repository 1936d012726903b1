package mosaic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	stacgo "github.com/planetlabs/go-stac"

	"github.com/kailas-cloud/dashboard-api/internal/domain"
	dommosaic "github.com/kailas-cloud/dashboard-api/internal/domain/mosaic"
)

// VisualAsset is the asset key mosaics are built from.
const VisualAsset = "visual"

// Assembler builds MosaicJSON definitions from catalog items.
// All assets are assumed uniform: the zoom range comes from the first item.
type Assembler struct {
	inspector Inspector
}

// NewAssembler creates an Assembler.
func NewAssembler(inspector Inspector) *Assembler {
	return &Assembler{inspector: inspector}
}

// Assemble implements DefinitionBuilder.
func (a *Assembler) Assemble(ctx context.Context, items []*stacgo.Item) (dommosaic.Definition, error) {
	def, err := a.assemble(ctx, items)
	if err != nil {
		return dommosaic.Definition{}, domain.NewDetailError(
			domain.ErrMosaicAssembly,
			"Error extracting mosaic data from results: "+err.Error(),
			err,
		)
	}
	return def, nil
}

func (a *Assembler) assemble(ctx context.Context, items []*stacgo.Item) (dommosaic.Definition, error) {
	if len(items) == 0 {
		return dommosaic.Definition{}, errors.New("no items")
	}

	href, err := visualHref(items[0])
	if err != nil {
		return dommosaic.Definition{}, err
	}
	raster, err := a.inspector.Inspect(ctx, href)
	if err != nil {
		return dommosaic.Definition{}, err
	}
	minZoom, maxZoom, err := dommosaic.ZoomRange(raster)
	if err != nil {
		return dommosaic.Definition{}, err
	}

	features := make([]dommosaic.Feature, 0, len(items))
	for _, it := range items {
		asset, err := visualHref(it)
		if err != nil {
			return dommosaic.Definition{}, err
		}
		geom, err := itemGeometry(it)
		if err != nil {
			return dommosaic.Definition{}, err
		}
		features = append(features, dommosaic.Feature{Geometry: geom, Asset: asset})
	}

	return dommosaic.NewDefinition(minZoom, maxZoom, features)
}

func visualHref(it *stacgo.Item) (string, error) {
	a, ok := it.Assets[VisualAsset]
	if !ok || a == nil || a.Href == "" {
		return "", fmt.Errorf("item %q has no %q asset", it.Id, VisualAsset)
	}
	return a.Href, nil
}

// itemGeometry returns the item footprint, falling back to its bbox.
func itemGeometry(it *stacgo.Item) (orb.Geometry, error) {
	if it.Geometry != nil {
		raw, err := json.Marshal(it.Geometry)
		if err != nil {
			return nil, fmt.Errorf("item %q: encode geometry: %w", it.Id, err)
		}
		g, err := geojson.UnmarshalGeometry(raw)
		if err != nil {
			return nil, fmt.Errorf("item %q: invalid geometry: %w", it.Id, err)
		}
		if g.Geometry() != nil {
			return g.Geometry(), nil
		}
	}

	switch b := it.Bbox; len(b) {
	case 4:
		return orb.Bound{Min: orb.Point{b[0], b[1]}, Max: orb.Point{b[2], b[3]}}.ToPolygon(), nil
	case 6:
		return orb.Bound{Min: orb.Point{b[0], b[1]}, Max: orb.Point{b[3], b[4]}}.ToPolygon(), nil
	default:
		return nil, fmt.Errorf("item %q has neither geometry nor bbox", it.Id)
	}
}
