package dataset

import (
	"math"
	"math/rand"

	"heatmap-tiles/internal/heatmap"
)

// Synthetic returns n clustered points. The same seed gives the same points.
func Synthetic(n int, seed int64) []heatmap.Point {
	if n <= 0 {
		return nil
	}
	rng := rand.New(rand.NewSource(seed))

	type cluster struct{ lat, lon, spread, weight float64 }
	clusters := make([]cluster, min(1+n/1000, 12))
	for i := range clusters {
		clusters[i] = cluster{
			lat:    rng.Float64()*120 - 60,
			lon:    rng.Float64()*360 - 180,
			spread: 0.5 + rng.Float64()*4,
			weight: 1 + rng.Float64()*9,
		}
	}

	points := make([]heatmap.Point, n)
	for i := range points {
		c := clusters[rng.Intn(len(clusters))]
		points[i] = heatmap.Point{
			Lat:       math.Max(-90, math.Min(90, c.lat+rng.NormFloat64()*c.spread)),
			Lon:       math.Max(-180, math.Min(180, c.lon+rng.NormFloat64()*c.spread)),
			Intensity: rng.ExpFloat64() * c.weight,
		}
	}
	return points
}
