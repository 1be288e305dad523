package krige

import (
	"fmt"
	"math"

	"go.ngs.io/tec-interp/internal/domain"
)

// cell is one lattice cell with the sample values at its four corners:
// v00 at (x0, y0), v10 at (x1, y0), v01 at (x0, y1), v11 at (x1, y1).
type cell struct {
	x0, x1, y0, y1     float64
	v00, v10, v01, v11 float64
}

// interpolate performs bilinear interpolation within the cell:
//
//	f(x,y) ≈ (1-t)(1-u)f(x0,y0) + t(1-u)f(x1,y0) + (1-t)u*f(x0,y1) + tu*f(x1,y1)
//
// where t = (x - x0) / (x1 - x0) and u = (y - y0) / (y1 - y0).
// It also returns the bilinear weights.
func (c cell) interpolate(x, y float64) (float64, [4]float64, error) {
	if c.x1 <= c.x0 || c.y1 <= c.y0 {
		return 0, [4]float64{}, fmt.Errorf("invalid grid cell [%.4f, %.4f]x[%.4f, %.4f]", c.x0, c.x1, c.y0, c.y1)
	}

	// Small tolerance for floating point.
	const epsilon = 1e-9
	if x < c.x0-epsilon || x > c.x1+epsilon {
		return 0, [4]float64{}, fmt.Errorf("x coordinate %.6f is outside grid cell [%.6f, %.6f]", x, c.x0, c.x1)
	}
	if y < c.y0-epsilon || y > c.y1+epsilon {
		return 0, [4]float64{}, fmt.Errorf("y coordinate %.6f is outside grid cell [%.6f, %.6f]", y, c.y0, c.y1)
	}

	t := math.Max(0, math.Min(1, (x-c.x0)/(c.x1-c.x0)))
	u := math.Max(0, math.Min(1, (y-c.y0)/(c.y1-c.y0)))

	w := [4]float64{(1 - t) * (1 - u), t * (1 - u), (1 - t) * u, t * u}
	return w[0]*c.v00 + w[1]*c.v10 + w[2]*c.v01 + w[3]*c.v11, w, nil
}

// Bilinear interpolates within the one-degree lattice cell containing the
// query, using the four corner samples of the neighborhood. The variance is
// the weighted spread of the corners around the estimate.
type Bilinear struct{}

// Estimate implements Estimator.
func (Bilinear) Estimate(nb domain.Neighborhood, lon, lat float64) (domain.Estimate, error) {
	if err := nb.Validate(); err != nil {
		return domain.Estimate{}, err
	}

	// Corners are keyed by the integer degree their cell centre lies in, with
	// longitudes unwrapped around the query so the seam is continuous.
	type key struct{ lat, lon int }
	samples := make(map[key]float64, nb.Len())
	for i := range nb.Values {
		ulon := lon + domain.NormalizeLon180(nb.Lons[i]-lon)
		samples[key{int(math.Floor(nb.Lats[i])), int(math.Floor(ulon))}] = nb.Values[i]
	}

	x0 := math.Floor(lon-0.5) + 0.5
	y0 := math.Floor(lat-0.5) + 0.5
	xs := []float64{x0}
	if lon == x0 {
		xs = append(xs, x0-1)
	}
	ys := []float64{y0}
	if lat == y0 {
		ys = append(ys, y0-1)
	}

	// A query on a lattice line may sit on the far edge of the cell below.
	var c cell
	found := false
	for _, cy := range ys {
		for _, cx := range xs {
			kx, ky := int(math.Floor(cx)), int(math.Floor(cy))
			v00, ok00 := samples[key{ky, kx}]
			v10, ok10 := samples[key{ky, kx + 1}]
			v01, ok01 := samples[key{ky + 1, kx}]
			v11, ok11 := samples[key{ky + 1, kx + 1}]
			if ok00 && ok10 && ok01 && ok11 {
				c = cell{x0: cx, x1: cx + 1, y0: cy, y1: cy + 1, v00: v00, v10: v10, v01: v01, v11: v11}
				found = true
				break
			}
		}
		if found {
			break
		}
	}
	if !found {
		return domain.Estimate{}, fmt.Errorf("no complete lattice cell around (%.4f, %.4f): %w", lon, lat, domain.ErrEstimation)
	}

	value, w, err := c.interpolate(lon, lat)
	if err != nil {
		return domain.Estimate{}, fmt.Errorf("%v: %w", err, domain.ErrEstimation)
	}

	var variance float64
	for i, v := range []float64{c.v00, c.v10, c.v01, c.v11} {
		d := v - value
		variance += w[i] * d * d
	}
	return domain.Estimate{Value: value, Variance: variance}, nil
}
