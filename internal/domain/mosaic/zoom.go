package mosaic

import (
	"fmt"
	"math"
)

const (
	// TileSize is the web mercator tile edge in pixels.
	TileSize = 256
	// earthRadius is the WGS84 semi-major axis in meters.
	earthRadius = 6378137.0
	// metersPerDegree converts degrees to meters along the equator.
	metersPerDegree = 2 * math.Pi * earthRadius / 360
)

// Raster is the resolution metadata of a representative asset.
type Raster struct {
	Width      int
	Height     int
	ResX       float64
	ResY       float64
	Geographic bool
}

// ZoomRange derives minzoom and maxzoom from native resolution.
// maxzoom matches the native pixel size. minzoom matches the pixel size of the
// deepest power-of-two overview whose shorter side still exceeds one tile.
// Geographic resolutions are converted to meters at the equator.
func ZoomRange(r Raster) (int, int, error) {
	if r.Width <= 0 || r.Height <= 0 {
		return 0, 0, fmt.Errorf("invalid raster size %dx%d", r.Width, r.Height)
	}
	res := math.Max(math.Abs(r.ResX), math.Abs(r.ResY))
	if res == 0 || math.IsNaN(res) || math.IsInf(res, 0) {
		return 0, 0, fmt.Errorf("invalid raster resolution %v", res)
	}
	if r.Geographic {
		res *= metersPerDegree
	}

	overviewRes := res * math.Exp2(float64(overviewLevel(r.Width, r.Height)))
	return zoomForPixelSize(overviewRes), zoomForPixelSize(res), nil
}

// overviewLevel counts the halvings until the shorter side fits in a tile.
func overviewLevel(width, height int) int {
	level, factor := 0, 1
	for min(width/factor, height/factor) > TileSize {
		factor *= 2
		level++
	}
	return level
}

func metersPerPixel(zoom int) float64 {
	return 2 * math.Pi * earthRadius / (TileSize * math.Exp2(float64(zoom)))
}

// zoomForPixelSize returns the deepest zoom whose pixels are not finer than size.
func zoomForPixelSize(size float64) int {
	for z := range zoomLimit {
		if size > metersPerPixel(z) {
			return max(0, z-1)
		}
	}
	return zoomLimit - 1
}
