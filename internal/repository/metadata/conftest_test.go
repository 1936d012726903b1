package metadata

import (
	"bytes"
	"context"
	"io"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const datasetDoc = `{
  "_all": {
    "no2": {
      "id": "no2",
      "name": "NO₂",
      "type": "raster-timeseries",
      "is_periodic": true,
      "time_unit": "month",
      "domain": ["2015-01-01T00:00:00Z", "2021-01-01T00:00:00Z"],
      "source": {
        "type": "raster",
        "tiles": ["{api_url}/{spotlightId}/cog/tiles/{z}/{x}/{y}"]
      },
      "compare": {
        "enabled": true,
        "help": "Compare with baseline",
        "year_diff": 2,
        "map_label": "{date}: Base vs Mean",
        "source": {"type": "raster", "tiles": ["{titiler_server_url}/base/{z}/{x}/{y}"]}
      },
      "legend": {"type": "gradient", "min": 0, "max": "1.5", "stops": ["#99c5e0", "#f9eaa9"]},
      "paint": {"raster-opacity": 0.9},
      "order": 2
    },
    "detections-ship": {
      "id": "detections-ship",
      "name": "Shipping",
      "type": "inference-timeseries",
      "source": {"type": "geojson", "tiles": ["{api_url}/detections/ship/{spotlightId}/{date}.geojson"]},
      "background_source": {"type": "raster", "tiles": ["{vector_tileserver_url}/planet/{z}/{x}/{y}"]},
      "swatch": {"color": "#C0C0C0", "name": "Grey"}
    }
  },
  "global": {"no2": {"domain": ["2019-01-01T00:00:00Z"]}},
  "sf": {"detections-ship": {"domain": ["2020-01-01T00:00:00Z", "2020-02-01T00:00:00Z"]}}
}`

const siteDoc = `{
  "sites": [
    {
      "id": "sf",
      "label": "San Francisco",
      "summary": "Bay area",
      "center": [37.7775, -122.416389],
      "polygon": {"type": "Polygon", "coordinates": [[[-122.6, 37.6], [-122.3, 37.6], [-122.3, 37.9], [-122.6, 37.6]]]},
      "bounding_box": [-122.6, 37.6, -122.3, 37.9],
      "indicators": [{"id": "water-chlorophyll"}]
    },
    {"id": "la", "label": "Los Angeles", "summary": "", "center": [34.05, -118.25]}
  ]
}`

// mockSource implements Source for tests.
type mockSource struct {
	fetchFn   func(ctx context.Context, key string) ([]byte, error)
	callCount atomic.Int32
}

func (m *mockSource) Fetch(ctx context.Context, key string) ([]byte, error) {
	m.callCount.Add(1)
	if m.fetchFn != nil {
		return m.fetchFn(ctx, key)
	}
	switch key {
	case "datasets.json":
		return []byte(datasetDoc), nil
	case "sites.json":
		return []byte(siteDoc), nil
	}
	return nil, ErrDocumentNotFound
}

// mockS3 implements ObjectGetter for tests.
type mockS3 struct {
	getFn func(in *s3.GetObjectInput) ([]byte, error)
}

func (m *mockS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, err := m.getFn(in)
	if err != nil {
		return nil, err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}
