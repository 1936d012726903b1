package metadata

import "testing"

func TestDataset_CloneIsDeep(t *testing.T) {
	d := Dataset{
		ID:               "no2",
		Domain:           []string{"2020-01-01"},
		Source:           Source{Type: "raster", Tiles: []string{"{api_url}/a"}},
		BackgroundSource: &Source{Type: "vector", Tiles: []string{"{api_url}/bg"}},
		Compare:          &Comparison{Source: Source{Tiles: []string{"{api_url}/cmp"}}},
	}

	c := d.Clone()
	c.Domain[0] = "x"
	c.Source.Tiles[0] = "x"
	c.BackgroundSource.Tiles[0] = "x"
	c.Compare.Source.Tiles[0] = "x"

	if d.Domain[0] != "2020-01-01" || d.Source.Tiles[0] != "{api_url}/a" {
		t.Error("clone shares domain or source tiles")
	}
	if d.BackgroundSource.Tiles[0] != "{api_url}/bg" || d.Compare.Source.Tiles[0] != "{api_url}/cmp" {
		t.Error("clone shares nested sources")
	}
}

func TestSource_IsGeoJSON(t *testing.T) {
	if !(Source{Type: "geojson", Data: "x.geojson"}).IsGeoJSON() {
		t.Error("data-only source should be GeoJSON")
	}
	if (Source{Type: "raster", Tiles: []string{"t"}}).IsGeoJSON() {
		t.Error("tile source should not be GeoJSON")
	}
}

func TestSite_WithSelfLink(t *testing.T) {
	s := Site{ID: "be", Links: []Link{{Href: "https://example.com/about", Rel: "about"}}}

	out := s.WithSelfLink("https://api.example.com/v1")
	if len(out.Links) != 2 {
		t.Fatalf("expected 2 links, got %d", len(out.Links))
	}
	self := out.Links[1]
	if self.Href != "https://api.example.com/v1/sites/be" || self.Rel != "self" ||
		self.Type != "application/json" || self.Title != "Self" {
		t.Errorf("unexpected self link: %+v", self)
	}
	if len(s.Links) != 1 {
		t.Error("WithSelfLink mutated the receiver")
	}
}
