package krige

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/optimize"
)

// DefaultNLags is the number of lag bins of the experimental variogram.
const DefaultNLags = 75

// Model is a variogram family.
type Model int

const (
	Exponential Model = iota
	Spherical
	Gaussian
	Linear
)

func (m Model) String() string {
	switch m {
	case Spherical:
		return "spherical"
	case Gaussian:
		return "gaussian"
	case Linear:
		return "linear"
	default:
		return "exponential"
	}
}

// ParseModel parses a variogram family name.
func ParseModel(s string) (Model, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "exponential", "exp":
		return Exponential, nil
	case "spherical", "sph":
		return Spherical, nil
	case "gaussian", "gauss":
		return Gaussian, nil
	case "linear":
		return Linear, nil
	default:
		return 0, fmt.Errorf("unknown variogram model %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Model) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Model) UnmarshalText(text []byte) error {
	parsed, err := ParseModel(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Variogram is a fitted variogram. For the bounded families Params holds
// (partial sill, range, nugget); for Linear it holds (slope, nugget).
type Variogram struct {
	Model  Model
	Params []float64
}

// At evaluates the variogram at lag h (degrees).
func (v Variogram) At(h float64) float64 {
	return evalModel(v.Model, v.Params, h)
}

func evalModel(m Model, p []float64, h float64) float64 {
	if m == Linear {
		return p[0]*h + p[1]
	}
	psill, rng, nugget := p[0], p[1], p[2]
	if rng <= 0 {
		return psill + nugget
	}
	switch m {
	case Spherical:
		if h >= rng {
			return psill + nugget
		}
		r := h / rng
		return psill*(1.5*r-0.5*r*r*r) + nugget
	case Gaussian:
		a := rng * 4 / 7
		return psill*(1-math.Exp(-(h*h)/(a*a))) + nugget
	default:
		return psill*(1-math.Exp(-h/(rng/3))) + nugget
	}
}

// lagBin is one bin of the experimental variogram.
type lagBin struct {
	lag, semivariance float64
}

// experimentalVariogram bins the pairwise semivariances into nlags bins of
// equal width between the smallest and largest pair distance. Empty bins
// are dropped.
func experimentalVariogram(pts []point, nlags int) []lagBin {
	if nlags < 1 {
		nlags = DefaultNLags
	}
	n := len(pts)
	type pair struct{ d, g float64 }
	pairs := make([]pair, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := distanceDeg(pts[i], pts[j])
			diff := pts[i].value - pts[j].value
			pairs = append(pairs, pair{d: d, g: 0.5 * diff * diff})
		}
	}
	if len(pairs) == 0 {
		return nil
	}
	sort.Slice(pairs, func(a, b int) bool { return pairs[a].d < pairs[b].d })

	dmin, dmax := pairs[0].d, pairs[len(pairs)-1].d
	width := (dmax - dmin) / float64(nlags)

	bins := make([]lagBin, 0, nlags)
	var sumD, sumG float64
	count, current := 0, 0
	flush := func() {
		if count > 0 {
			bins = append(bins, lagBin{lag: sumD / float64(count), semivariance: sumG / float64(count)})
		}
		sumD, sumG, count = 0, 0, 0
	}
	for _, p := range pairs {
		b := nlags - 1
		if width > 0 {
			b = int((p.d - dmin) / width)
			if b >= nlags {
				b = nlags - 1
			}
		}
		if b != current {
			flush()
			current = b
		}
		sumD += p.d
		sumG += p.g
		count++
	}
	flush()
	return bins
}

// fitVariogram fits the model to the experimental bins by minimizing the
// squared residuals with Nelder-Mead. Parameters are kept non-negative by
// optimizing over their absolute values.
func fitVariogram(m Model, bins []lagBin) Variogram {
	minG, maxG := math.Inf(1), math.Inf(-1)
	minL, maxL := math.Inf(1), math.Inf(-1)
	for _, b := range bins {
		minG = math.Min(minG, b.semivariance)
		maxG = math.Max(maxG, b.semivariance)
		minL = math.Min(minL, b.lag)
		maxL = math.Max(maxL, b.lag)
	}

	var x0 []float64
	if m == Linear {
		slope := 0.0
		if maxL > minL {
			slope = (maxG - minG) / (maxL - minL)
		}
		x0 = []float64{slope, minG}
	} else {
		x0 = []float64{maxG - minG, 0.25 * maxL, minG}
	}

	if len(bins) < 2 {
		// Nothing to fit against; a pure sill keeps the system solvable.
		if m == Linear {
			return Variogram{Model: m, Params: []float64{maxG / math.Max(maxL, 1e-12), 0}}
		}
		return Variogram{Model: m, Params: []float64{maxG, maxL, 0}}
	}

	abs := func(x []float64) []float64 {
		p := make([]float64, len(x))
		for i, v := range x {
			p[i] = math.Abs(v)
		}
		return p
	}
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			p := abs(x)
			var sum float64
			for _, b := range bins {
				r := evalModel(m, p, b.lag) - b.semivariance
				sum += r * r
			}
			return sum
		},
	}

	// Minimize may stop on an iteration limit with a usable point.
	result, _ := optimize.Minimize(problem, x0, nil, &optimize.NelderMead{})
	if result == nil || !finite(result.X) {
		return Variogram{Model: m, Params: abs(x0)}
	}
	return Variogram{Model: m, Params: abs(result.X)}
}

func finite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
