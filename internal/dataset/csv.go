package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"heatmap-tiles/internal/heatmap"
)

// ReadCSV reads records with a header naming lat, lon and an optional
// intensity column, in any order. Missing intensity means 1.
func ReadCSV(r io.Reader) ([]heatmap.Point, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	latCol, lonCol, intensityCol := -1, -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "lat", "latitude":
			latCol = i
		case "lon", "lng", "long", "longitude":
			lonCol = i
		case "intensity", "weight", "value":
			intensityCol = i
		}
	}
	if latCol < 0 || lonCol < 0 {
		return nil, errors.New("csv header needs lat and lon columns")
	}

	var points []heatmap.Point
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}

		p := heatmap.Point{Intensity: 1}
		if p.Lat, err = parseField(rec, latCol); err != nil {
			return nil, fmt.Errorf("line %d lat: %w", line, err)
		}
		if p.Lon, err = parseField(rec, lonCol); err != nil {
			return nil, fmt.Errorf("line %d lon: %w", line, err)
		}
		if intensityCol >= 0 && intensityCol < len(rec) && strings.TrimSpace(rec[intensityCol]) != "" {
			if p.Intensity, err = parseField(rec, intensityCol); err != nil {
				return nil, fmt.Errorf("line %d intensity: %w", line, err)
			}
		}
		points = append(points, p)
	}
	return points, nil
}

func parseField(rec []string, col int) (float64, error) {
	if col >= len(rec) {
		return 0, errors.New("missing field")
	}
	return strconv.ParseFloat(strings.TrimSpace(rec[col]), 64)
}
