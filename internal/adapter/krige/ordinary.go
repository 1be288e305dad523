package krige

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"go.ngs.io/tec-interp/internal/domain"
)

// exactTolerance is the lag (degrees) below which a query coincides with a
// sample.
const exactTolerance = 1e-10

// Ordinary is ordinary kriging on the sphere. Lags are great-circle
// distances in degrees and the variogram is refitted for every
// neighborhood.
type Ordinary struct {
	Model Model
	NLags int
}

// NewOrdinary returns an ordinary kriging estimator.
func NewOrdinary(m Model, nlags int) *Ordinary {
	if nlags < 1 {
		nlags = DefaultNLags
	}
	return &Ordinary{Model: m, NLags: nlags}
}

// Estimate implements Estimator.
func (o *Ordinary) Estimate(nb domain.Neighborhood, lon, lat float64) (domain.Estimate, error) {
	if err := nb.Validate(); err != nil {
		return domain.Estimate{}, err
	}
	pts := distinctPoints(nb)
	if len(pts) < 2 {
		return domain.Estimate{}, fmt.Errorf("%d distinct sample location(s), need at least 2: %w", len(pts), domain.ErrEstimation)
	}

	query := point{lat: lat, lon: lon}
	lags := make([]float64, len(pts))
	for i, p := range pts {
		lags[i] = distanceDeg(p, query)
		if lags[i] < exactTolerance {
			return domain.Estimate{Value: p.value}, nil
		}
	}

	if constant, ok := constantValue(pts); ok {
		return domain.Estimate{Value: constant}, nil
	}

	v, err := o.fit(pts)
	if err != nil {
		return domain.Estimate{}, err
	}
	return solve(v, pts, lags)
}

// fit fits the variogram of the configured family to the samples.
func (o *Ordinary) fit(pts []point) (Variogram, error) {
	bins := experimentalVariogram(pts, o.NLags)
	if len(bins) == 0 {
		return Variogram{}, fmt.Errorf("no sample pairs to build a variogram: %w", domain.ErrEstimation)
	}
	allZeroLag := true
	for _, b := range bins {
		if b.lag > 0 {
			allZeroLag = false
			break
		}
	}
	if allZeroLag {
		return Variogram{}, fmt.Errorf("all sample distances are zero: %w", domain.ErrEstimation)
	}
	return fitVariogram(o.Model, bins), nil
}

// solve builds and solves the ordinary kriging system
//
//	[ -γ(d_ij)  1 ] [ w ]   [ -γ(d_i0) ]
//	[    1ᵀ     0 ] [ μ ] = [     1    ]
//
// with a zero diagonal, and returns Σ w_i z_i and Σ x_k (-b_k).
func solve(v Variogram, pts []point, lags []float64) (domain.Estimate, error) {
	n := len(pts)
	a := mat.NewDense(n+1, n+1, nil)
	b := mat.NewVecDense(n+1, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			g := -v.At(distanceDeg(pts[i], pts[j]))
			a.Set(i, j, g)
			a.Set(j, i, g)
		}
		a.Set(i, n, 1)
		a.Set(n, i, 1)
		b.SetVec(i, -v.At(lags[i]))
	}
	b.SetVec(n, 1)

	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return domain.Estimate{}, fmt.Errorf("kriging system: %v: %w", err, domain.ErrEstimation)
	}

	var value, variance float64
	for i := 0; i < n; i++ {
		value += x.AtVec(i) * pts[i].value
	}
	for k := 0; k <= n; k++ {
		variance -= x.AtVec(k) * b.AtVec(k)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return domain.Estimate{}, fmt.Errorf("kriging produced a non-finite estimate: %w", domain.ErrEstimation)
	}
	// Round-off can leave a tiny negative variance.
	if variance < 0 {
		variance = 0
	}
	return domain.Estimate{Value: value, Variance: variance}, nil
}

func constantValue(pts []point) (float64, bool) {
	first := pts[0].value
	for _, p := range pts[1:] {
		if p.value != first {
			return 0, false
		}
	}
	return first, true
}

func distanceDeg(a, b point) float64 {
	return domain.GreatCircleDegrees(a.lat, a.lon, b.lat, b.lon)
}
