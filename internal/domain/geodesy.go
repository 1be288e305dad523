package domain

import (
	"fmt"
	"math"
)

const (
	// GridLonOffset maps longitude to column: col = lon + GridLonOffset.
	GridLonOffset = 179.5
	// GridLatOrigin is the latitude of row 0 (cell centre of the northern edge).
	GridLatOrigin = 89.5
	// MaxGridRow is the largest row accepted by GridToGeo.
	MaxGridRow = 180.0
	// GridColumns is the number of longitude columns of a global map.
	GridColumns = 360
)

// Deg2Rad converts degrees to radians.
func Deg2Rad(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// Rad2Deg converts radians to degrees.
func Rad2Deg(rad float64) float64 {
	return rad * 180.0 / math.Pi
}

// NormalizeLon360 maps arbitrary degree longitudes into [0, 360).
func NormalizeLon360(lon float64) float64 {
	lon = math.Mod(lon, 360.0)
	if lon < 0 {
		lon += 360.0
	}
	if lon >= 360.0 {
		lon = 0
	}
	return lon
}

// NormalizeLon180 maps arbitrary degree longitudes into [-180, 180).
func NormalizeLon180(lon float64) float64 {
	lon = NormalizeLon360(lon + 180.0)
	return lon - 180.0
}

// GeoToGrid converts a geographic position to fractional grid coordinates.
// Longitude is always wrapped; latitude outside [-90, 90] is rejected.
func GeoToGrid(lon, lat float64) (col, row float64, err error) {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return 0, 0, fmt.Errorf("latitude %.4f outside [-90, 90]: %w", lat, ErrRange)
	}
	if math.IsNaN(lon) || math.IsInf(lon, 0) {
		return 0, 0, fmt.Errorf("longitude %v is not finite: %w", lon, ErrRange)
	}
	col = NormalizeLon360(lon + GridLonOffset)
	row = math.Abs(lat - GridLatOrigin)
	return col, row, nil
}

// GridToGeo converts grid coordinates back to longitude in [-180, 180) and
// latitude. Columns wrap modulo 360; rows outside [0, 180] are rejected.
func GridToGeo(col, row float64) (lon, lat float64, err error) {
	if math.IsNaN(row) || row < 0 || row > MaxGridRow {
		return 0, 0, fmt.Errorf("row %.4f outside [0, %.0f]: %w", row, MaxGridRow, ErrRange)
	}
	if math.IsNaN(col) || math.IsInf(col, 0) {
		return 0, 0, fmt.Errorf("column %v is not finite: %w", col, ErrRange)
	}
	lon = NormalizeLon180(col - GridLonOffset)
	lat = GridLatOrigin - row
	return lon, lat, nil
}

// UnitVector returns the Cartesian unit vector of a lat/lon position in degrees.
func UnitVector(lat, lon float64) [3]float64 {
	la, lo := Deg2Rad(lat), Deg2Rad(lon)
	return [3]float64{
		math.Cos(la) * math.Cos(lo),
		math.Cos(la) * math.Sin(lo),
		math.Sin(la),
	}
}

// angleBetween returns the angle in radians between two unit vectors. The
// atan2 form stays accurate for nearly coincident vectors.
func angleBetween(a, b [3]float64) float64 {
	cx := a[1]*b[2] - a[2]*b[1]
	cy := a[2]*b[0] - a[0]*b[2]
	cz := a[0]*b[1] - a[1]*b[0]
	dot := a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
	return math.Atan2(math.Sqrt(cx*cx+cy*cy+cz*cz), dot)
}

// GreatCircleAngle returns the central angle in radians between two points
// given in degrees.
func GreatCircleAngle(latA, lonA, latB, lonB float64) float64 {
	return angleBetween(UnitVector(latA, lonA), UnitVector(latB, lonB))
}

// GreatCircleDegrees is GreatCircleAngle expressed in degrees.
func GreatCircleDegrees(latA, lonA, latB, lonB float64) float64 {
	return Rad2Deg(GreatCircleAngle(latA, lonA, latB, lonB))
}

// Lattice is the set of cell-centre coordinates of a global map.
type Lattice struct {
	Lats []float64
	Lons []float64
}

// DefaultLattice returns the 1-degree lattice of cell centres, latitudes
// -89.5..89.5 and longitudes -179.5..179.5.
func DefaultLattice() Lattice {
	lats := make([]float64, 180)
	for i := range lats {
		lats[i] = -89.5 + float64(i)
	}
	lons := make([]float64, GridColumns)
	for i := range lons {
		lons[i] = -179.5 + float64(i)
	}
	return Lattice{Lats: lats, Lons: lons}
}
