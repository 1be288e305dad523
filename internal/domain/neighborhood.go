package domain

import (
	"fmt"
	"math/rand"
	"sync"
)

// EarthRadiusKm is the spherical Earth radius used for neighborhood cones.
const EarthRadiusKm = 6378.0

// Permuter supplies random permutations; *rand.Rand satisfies it.
type Permuter interface {
	Perm(n int) []int
}

type globalPermuter struct{}

func (globalPermuter) Perm(n int) []int { return rand.Perm(n) }

// Neighborhood is a set of samples in geographic coordinates.
type Neighborhood struct {
	Lons   []float64 `json:"lons"`
	Lats   []float64 `json:"lats"`
	Values []float64 `json:"values"`
}

// Len returns the number of samples.
func (n Neighborhood) Len() int {
	return len(n.Values)
}

// Validate checks that the coordinate and value arrays line up.
func (n Neighborhood) Validate() error {
	if len(n.Lons) != len(n.Lats) || len(n.Lons) != len(n.Values) {
		return fmt.Errorf("neighborhood lons=%d lats=%d values=%d: %w",
			len(n.Lons), len(n.Lats), len(n.Values), ErrDimensionMismatch)
	}
	return nil
}

// Selector finds lattice points inside a great-circle cone around a centre.
// Unit vectors of the lattice are computed once; a Selector is safe for
// concurrent use as long as the supplied Permuters are not shared.
type Selector struct {
	lattice       Lattice
	earthRadiusKm float64
	lats, lons    []float64
	vecs          [][3]float64
}

// NewSelector precomputes the lattice unit vectors. A non-positive radius
// falls back to EarthRadiusKm.
func NewSelector(lattice Lattice, earthRadiusKm float64) *Selector {
	if earthRadiusKm <= 0 {
		earthRadiusKm = EarthRadiusKm
	}
	n := len(lattice.Lats) * len(lattice.Lons)
	s := &Selector{
		lattice:       lattice,
		earthRadiusKm: earthRadiusKm,
		lats:          make([]float64, 0, n),
		lons:          make([]float64, 0, n),
		vecs:          make([][3]float64, 0, n),
	}
	// Latitude-major order, matching a (lat, lon) meshgrid.
	for _, lat := range lattice.Lats {
		for _, lon := range lattice.Lons {
			s.lats = append(s.lats, lat)
			s.lons = append(s.lons, lon)
			s.vecs = append(s.vecs, UnitVector(lat, lon))
		}
	}
	return s
}

var (
	defaultSelectorOnce sync.Once
	defaultSelector     *Selector
)

// DefaultSelector returns the shared selector over DefaultLattice.
func DefaultSelector() *Selector {
	defaultSelectorOnce.Do(func() {
		defaultSelector = NewSelector(DefaultLattice(), EarthRadiusKm)
	})
	return defaultSelector
}

// Within returns every lattice point whose central angle to the centre is
// below radiusKm / earthRadius, without any cap.
func (s *Selector) Within(centerLat, centerLon, radiusKm float64) (lats, lons []float64) {
	if radiusKm <= 0 {
		return nil, nil
	}
	gamma := radiusKm / s.earthRadiusKm
	c := UnitVector(centerLat, centerLon)
	for i, v := range s.vecs {
		if angleBetween(v, c) < gamma {
			lats = append(lats, s.lats[i])
			lons = append(lons, s.lons[i])
		}
	}
	return lats, lons
}

// NeighborsWithin returns the lattice points within radiusKm of the centre,
// randomly thinned to at most maxPoints. Survivors keep lattice order.
// A nil Permuter uses the global math/rand source.
func (s *Selector) NeighborsWithin(centerLat, centerLon, radiusKm float64, maxPoints int, p Permuter) (lats, lons []float64) {
	if maxPoints <= 0 {
		return nil, nil
	}
	lats, lons = s.Within(centerLat, centerLon, radiusKm)
	excess := len(lats) - maxPoints
	if excess <= 0 {
		return lats, lons
	}
	if p == nil {
		p = globalPermuter{}
	}
	drop := make([]bool, len(lats))
	for _, i := range p.Perm(len(lats))[:excess] {
		drop[i] = true
	}
	keptLats := make([]float64, 0, maxPoints)
	keptLons := make([]float64, 0, maxPoints)
	for i := range lats {
		if drop[i] {
			continue
		}
		keptLats = append(keptLats, lats[i])
		keptLons = append(keptLons, lons[i])
	}
	return keptLats, keptLons
}

// NeighborsWithin runs the default selector.
func NeighborsWithin(centerLat, centerLon, radiusKm float64, maxPoints int, p Permuter) (lats, lons []float64) {
	return DefaultSelector().NeighborsWithin(centerLat, centerLon, radiusKm, maxPoints, p)
}

// SampleNeighborhood reads the epoch samples under the given lattice points.
// Points whose row falls outside the map, or whose sample is missing, are
// skipped.
func SampleNeighborhood(epoch *MapEpoch, lats, lons []float64) (Neighborhood, error) {
	if len(lats) != len(lons) {
		return Neighborhood{}, fmt.Errorf("lattice lats=%d lons=%d: %w", len(lats), len(lons), ErrDimensionMismatch)
	}
	nb := Neighborhood{
		Lons:   make([]float64, 0, len(lats)),
		Lats:   make([]float64, 0, len(lats)),
		Values: make([]float64, 0, len(lats)),
	}
	for i := range lats {
		col, row, err := GeoToGrid(lons[i], lats[i])
		if err != nil {
			return Neighborhood{}, err
		}
		ci, ri := int(col), int(row)
		v, ok := epoch.At(ci, ri)
		if !ok {
			continue
		}
		lon, lat, err := GridToGeo(float64(ci), float64(ri))
		if err != nil {
			continue
		}
		nb.Lons = append(nb.Lons, lon)
		nb.Lats = append(nb.Lats, lat)
		nb.Values = append(nb.Values, v)
	}
	return nb, nb.Validate()
}
