package dataset

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"heatmap-tiles/internal/heatmap"
)

// ReadGeoJSON reads a FeatureCollection. Point and MultiPoint features become
// points, other geometries are skipped. Intensity comes from the prop property
// and defaults to 1 when the property is missing.
func ReadGeoJSON(r io.Reader, prop string) ([]heatmap.Point, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read geojson: %w", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}
	if prop == "" {
		prop = DefaultIntensityProperty
	}

	points := make([]heatmap.Point, 0, len(fc.Features))
	skipped := 0
	for i, f := range fc.Features {
		intensity, err := featureIntensity(f.Properties, prop)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}

		switch g := f.Geometry.(type) {
		case orb.Point:
			points = append(points, heatmap.Point{Lat: g.Lat(), Lon: g.Lon(), Intensity: intensity})
		case orb.MultiPoint:
			for _, p := range g {
				points = append(points, heatmap.Point{Lat: p.Lat(), Lon: p.Lon(), Intensity: intensity})
			}
		default:
			skipped++
		}
	}

	if skipped > 0 {
		log.Printf("⚠️ Skipped %d non-point features", skipped)
	}
	return points, nil
}

func featureIntensity(props geojson.Properties, prop string) (float64, error) {
	v, ok := props[prop]
	if !ok || v == nil {
		return 1, nil
	}

	switch x := v.(type) {
	case float64:
		return x, nil
	case json.Number:
		return x.Float64()
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, fmt.Errorf("property %q: %w", prop, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("property %q has type %T", prop, v)
	}
}
