// Package krige provides spatial estimators that turn a neighborhood of map
// samples into a point estimate and its variance.
package krige

import (
	"fmt"
	"strings"

	"go.ngs.io/tec-interp/internal/domain"
)

// Estimator estimates the field at (lon, lat) from a neighborhood. Failures
// caused by the neighborhood itself wrap domain.ErrEstimation.
type Estimator interface {
	Estimate(nb domain.Neighborhood, lon, lat float64) (domain.Estimate, error)
}

// Method names accepted by New.
const (
	MethodOrdinary = "ordinary"
	MethodBilinear = "bilinear"
)

// Config selects an estimator and its variogram.
type Config struct {
	Method string
	Model  Model
	NLags  int
}

// DefaultConfig returns ordinary kriging with an exponential variogram.
func DefaultConfig() Config {
	return Config{Method: MethodOrdinary, Model: Exponential, NLags: DefaultNLags}
}

// New builds the estimator named by cfg.Method.
func New(cfg Config) (Estimator, error) {
	switch strings.ToLower(cfg.Method) {
	case "", MethodOrdinary, "kriging":
		return NewOrdinary(cfg.Model, cfg.NLags), nil
	case MethodBilinear:
		return Bilinear{}, nil
	default:
		return nil, fmt.Errorf("unknown estimation method %q", cfg.Method)
	}
}

// point is a neighborhood sample with duplicates merged.
type point struct {
	lat, lon, value float64
}

// distinctPoints merges samples sharing a location by averaging their values.
// Order of first appearance is kept.
func distinctPoints(nb domain.Neighborhood) []point {
	type key struct{ lat, lon float64 }
	index := make(map[key]int, nb.Len())
	counts := make([]int, 0, nb.Len())
	pts := make([]point, 0, nb.Len())
	for i := range nb.Values {
		k := key{nb.Lats[i], domain.NormalizeLon180(nb.Lons[i])}
		if j, ok := index[k]; ok {
			pts[j].value += nb.Values[i]
			counts[j]++
			continue
		}
		index[k] = len(pts)
		pts = append(pts, point{lat: k.lat, lon: k.lon, value: nb.Values[i]})
		counts = append(counts, 1)
	}
	for j := range pts {
		pts[j].value /= float64(counts[j])
	}
	return pts
}
