// Package dataset loads heat map points from files or generates them.
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"heatmap-tiles/internal/heatmap"
)

// DefaultIntensityProperty is the GeoJSON property read for a point's intensity.
const DefaultIntensityProperty = "intensity"

// Load reads points from a .geojson/.json or .csv file.
func Load(path, intensityProp string) ([]heatmap.Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		return ReadGeoJSON(f, intensityProp)
	case ".csv":
		return ReadCSV(f)
	default:
		return nil, fmt.Errorf("unsupported dataset format %q", filepath.Ext(path))
	}
}

// LoadOrGenerate loads path, or generates n synthetic points when path is empty.
// The returned string names the source for logging.
func LoadOrGenerate(path, intensityProp string, n int, seed int64) ([]heatmap.Point, string, error) {
	if path == "" {
		return Synthetic(n, seed), fmt.Sprintf("synthetic (%d points, seed %d)", n, seed), nil
	}
	points, err := Load(path, intensityProp)
	if err != nil {
		return nil, "", err
	}
	return points, path, nil
}
