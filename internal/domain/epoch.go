package domain

import (
	"math"
	"time"
)

// MapEpoch is one global TEC map for a single timestamp.
// Values is indexed [row][column]; row 0 is the northernmost band and
// columns wrap at the seam.
type MapEpoch struct {
	Time   time.Time
	Slot   int
	Source string // Archive file name the epoch was read from.
	Values [][]float64
}

// Rows returns the number of latitude rows.
func (e *MapEpoch) Rows() int {
	return len(e.Values)
}

// Cols returns the number of longitude columns.
func (e *MapEpoch) Cols() int {
	if len(e.Values) == 0 {
		return 0
	}
	return len(e.Values[0])
}

// At returns the sample at (col, row). Columns wrap modulo the map width;
// rows outside the map and missing samples report false.
func (e *MapEpoch) At(col, row int) (float64, bool) {
	if row < 0 || row >= e.Rows() {
		return 0, false
	}
	cols := e.Cols()
	if cols == 0 {
		return 0, false
	}
	col %= cols
	if col < 0 {
		col += cols
	}
	v := e.Values[row][col]
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// QueryPoint is an interpolation target.
type QueryPoint struct {
	Lon  float64   `json:"lon"`
	Lat  float64   `json:"lat"`
	Time time.Time `json:"time"`
}

// Estimate is a spatial (or spatio-temporal) estimate and its variance.
type Estimate struct {
	Value    float64 `json:"value"`
	Variance float64 `json:"variance"`
}
