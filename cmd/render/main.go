// Command render draws one heat map image to a PNG file.
//
// USAGE:
//
//	go run ./cmd/render -bbox -10,35,30,60 -width 1024 -height 640 -out europe.png
//	go run ./cmd/render -tile webmercator/3/4/2 -out tile.png
//
// Heat map settings and the dataset come from the same environment variables
// as the server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/fogleman/gg"
	"github.com/joho/godotenv"

	"heatmap-tiles/internal/config"
	"heatmap-tiles/internal/dataset"
	"heatmap-tiles/internal/heatmap"
	"heatmap-tiles/internal/layer"
)

func main() {
	bbox := flag.String("bbox", "-180,-90,180,90", "sector as minLon,minLat,maxLon,maxLat")
	tile := flag.String("tile", "", "tile as scheme/level/col/row (overrides -bbox)")
	width := flag.Int("width", 1024, "image width in pixels (-bbox only)")
	height := flag.Int("height", 512, "image height in pixels (-bbox only)")
	out := flag.String("out", "heatmap.png", "output PNG path")
	flag.Parse()

	if err := godotenv.Load(".env"); err != nil {
		log.Println("💡 No .env file found, using environment variables only")
	}

	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	opts, err := appConfig.HeatmapOptions()
	if err != nil {
		log.Fatalf("❌ Invalid heat map options: %v", err)
	}

	dsCfg := appConfig.Dataset
	points, source, err := dataset.LoadOrGenerate(dsCfg.Path, dsCfg.IntensityProp, dsCfg.SyntheticPoints, dsCfg.SyntheticSeed)
	if err != nil {
		log.Fatalf("❌ Failed to load dataset: %v", err)
	}

	hm, err := heatmap.New(points, opts)
	if err != nil {
		log.Fatalf("❌ Failed to build heat map: %v", err)
	}
	log.Printf("📍 %d points from %s", hm.Len(), source)

	var result *heatmap.Tile
	if *tile != "" {
		scheme, key, err := parseTile(*tile)
		if err != nil {
			log.Fatalf("❌ -tile: %v", err)
		}
		l := layer.New(hm, scheme, layer.Config{TileSize: appConfig.Tile.Size})
		result, err = l.Tile(context.Background(), key)
		l.Close()
		if err != nil {
			log.Fatalf("❌ Render failed: %v", err)
		}
	} else {
		sector, err := parseBBox(*bbox)
		if err != nil {
			log.Fatalf("❌ -bbox: %v", err)
		}
		result, err = hm.RenderTile(sector, *width, *height)
		if err != nil {
			log.Fatalf("❌ Render failed: %v", err)
		}
	}

	if err := gg.NewContextForImage(result.NRGBA()).SavePNG(*out); err != nil {
		log.Fatalf("❌ Failed to write %s: %v", *out, err)
	}
	log.Printf("✅ Wrote %s (%dx%d, %d candidate points, %v)",
		*out, result.Width(), result.Height(), result.Candidates, result.Elapsed)
}

func parseTile(s string) (layer.Scheme, layer.TileKey, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 4 {
		return nil, layer.TileKey{}, fmt.Errorf("want scheme/level/col/row, got %q", s)
	}
	scheme, err := layer.SchemeByName(parts[0])
	if err != nil {
		return nil, layer.TileKey{}, err
	}

	var nums [3]int
	for i, p := range parts[1:] {
		if nums[i], err = strconv.Atoi(p); err != nil {
			return nil, layer.TileKey{}, fmt.Errorf("%q is not an integer", p)
		}
	}
	return scheme, layer.TileKey{Level: nums[0], Col: nums[1], Row: nums[2]}, nil
}

func parseBBox(s string) (heatmap.Sector, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return heatmap.Sector{}, fmt.Errorf("want minLon,minLat,maxLon,maxLat, got %q", s)
	}

	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return heatmap.Sector{}, fmt.Errorf("%q is not a number", p)
		}
		v[i] = f
	}
	sector := heatmap.Sector{MinLon: v[0], MinLat: v[1], MaxLon: v[2], MaxLat: v[3]}
	return sector, sector.Validate()
}
