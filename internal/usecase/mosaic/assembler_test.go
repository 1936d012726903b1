package mosaic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	stacgo "github.com/planetlabs/go-stac"

	"github.com/kailas-cloud/dashboard-api/internal/domain"
	dommosaic "github.com/kailas-cloud/dashboard-api/internal/domain/mosaic"
)

type mockInspector struct {
	raster dommosaic.Raster
	err    error
	hrefs  []string
}

func (m *mockInspector) Inspect(_ context.Context, href string) (dommosaic.Raster, error) {
	m.hrefs = append(m.hrefs, href)
	return m.raster, m.err
}

// testItem is a 1x1 degree item whose west edge is at lon.
func testItem(id string, lon float64) *stacgo.Item {
	return &stacgo.Item{
		Id: id,
		Geometry: map[string]any{
			"type": "Polygon",
			"coordinates": []any{[]any{
				[]any{lon, 1.0}, []any{lon + 1, 1.0}, []any{lon + 1, 2.0}, []any{lon, 2.0}, []any{lon, 1.0},
			}},
		},
		Assets: map[string]*stacgo.Asset{
			VisualAsset: {Href: fmt.Sprintf("https://example.com/%s/TCI.tif", id)},
		},
	}
}

var sentinel2 = dommosaic.Raster{Width: 10980, Height: 10980, ResX: 10, ResY: 10}

func TestAssemble(t *testing.T) {
	in := &mockInspector{raster: sentinel2}
	a := NewAssembler(in)

	def, err := a.Assemble(context.Background(), []*stacgo.Item{testItem("a", 1), testItem("b", 3)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.MinZoom() != 7 || def.MaxZoom() != 13 || def.QuadkeyZoom() != 7 {
		t.Errorf("unexpected zooms: %d %d %d", def.MinZoom(), def.MaxZoom(), def.QuadkeyZoom())
	}
	if b := def.Bounds(); b != [4]float64{1, 1, 4, 2} {
		t.Errorf("unexpected bounds: %v", b)
	}

	seen := map[string]bool{}
	for _, assets := range def.Tiles() {
		for _, a := range assets {
			seen[a] = true
		}
	}
	if !seen["https://example.com/a/TCI.tif"] || !seen["https://example.com/b/TCI.tif"] {
		t.Errorf("both assets should be referenced: %v", seen)
	}
}

// The zoom range comes from the first item only; later items with other
// resolutions are not inspected.
func TestAssemble_FirstItemIsRepresentative(t *testing.T) {
	in := &mockInspector{raster: sentinel2}
	a := NewAssembler(in)

	if _, err := a.Assemble(context.Background(), []*stacgo.Item{testItem("first", 0), testItem("second", 2)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(in.hrefs) != 1 || in.hrefs[0] != "https://example.com/first/TCI.tif" {
		t.Errorf("expected a single inspection of the first item, got %v", in.hrefs)
	}
}

func TestAssemble_BBoxFallback(t *testing.T) {
	item := testItem("a", 0)
	item.Geometry = nil
	item.Bbox = []float64{10, 10, 11, 11}

	def, err := NewAssembler(&mockInspector{raster: sentinel2}).Assemble(context.Background(), []*stacgo.Item{item})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b := def.Bounds(); b != [4]float64{10, 10, 11, 11} {
		t.Errorf("unexpected bounds: %v", b)
	}
}

func TestAssemble_Errors(t *testing.T) {
	noVisual := testItem("novis", 0)
	delete(noVisual.Assets, VisualAsset)

	noGeom := testItem("nogeom", 0)
	noGeom.Geometry = nil

	tests := []struct {
		name  string
		in    *mockInspector
		items []*stacgo.Item
		want  string
	}{
		{"no items", &mockInspector{raster: sentinel2}, nil, "no items"},
		{"no visual asset", &mockInspector{raster: sentinel2}, []*stacgo.Item{noVisual}, `item "novis" has no "visual" asset`},
		{"inspect fails", &mockInspector{err: errors.New("read header: 403")}, []*stacgo.Item{testItem("a", 0)}, "read header: 403"},
		{"bad raster", &mockInspector{raster: dommosaic.Raster{Width: 10, Height: 10}}, []*stacgo.Item{testItem("a", 0)}, "invalid raster resolution"},
		{"no footprint", &mockInspector{raster: sentinel2}, []*stacgo.Item{noGeom}, "neither geometry nor bbox"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewAssembler(tc.in).Assemble(context.Background(), tc.items)
			if !errors.Is(err, domain.ErrMosaicAssembly) {
				t.Fatalf("expected ErrMosaicAssembly, got %v", err)
			}
			detail := domain.Detail(err)
			if !strings.HasPrefix(detail, "Error extracting mosaic data from results: ") || !strings.Contains(detail, tc.want) {
				t.Errorf("unexpected detail: %q", detail)
			}
		})
	}
}
