package domain

import (
	"errors"
	"math"
	"testing"
)

// TestGridRoundTrip checks gridToGeo(geoToGrid(p)) == p modulo 360 for every
// cell centre, with longitudes given in both conventions.
func TestGridRoundTrip(t *testing.T) {
	lattice := DefaultLattice()
	for _, lat := range lattice.Lats {
		for _, lon := range lattice.Lons {
			for _, in := range []float64{lon, NormalizeLon360(lon)} {
				col, row, err := GeoToGrid(in, lat)
				if err != nil {
					t.Fatalf("GeoToGrid(%v, %v): %v", in, lat, err)
				}
				gotLon, gotLat, err := GridToGeo(col, row)
				if err != nil {
					t.Fatalf("GridToGeo(%v, %v): %v", col, row, err)
				}
				if gotLat != lat {
					t.Fatalf("lat round trip: got %v, want %v", gotLat, lat)
				}
				if NormalizeLon360(gotLon) != NormalizeLon360(in) {
					t.Fatalf("lon round trip: got %v, want %v (mod 360)", gotLon, in)
				}
			}
		}
	}
}

func TestGeoToGrid_KnownCells(t *testing.T) {
	tests := []struct {
		lon, lat         float64
		wantCol, wantRow float64
	}{
		{-179.5, 89.5, 0, 0},
		{179.5, -89.5, 359, 179},
		{0.5, 0.5, 180, 89},
		{200.5, 10.5, 20, 79}, // 200.5 == -159.5.
		{540.5, 0.5, 0, 89},   // Wraps twice.
	}

	for _, tt := range tests {
		col, row, err := GeoToGrid(tt.lon, tt.lat)
		if err != nil {
			t.Fatalf("GeoToGrid(%v, %v): %v", tt.lon, tt.lat, err)
		}
		if col != tt.wantCol || row != tt.wantRow {
			t.Errorf("GeoToGrid(%v, %v) = (%v, %v), want (%v, %v)", tt.lon, tt.lat, col, row, tt.wantCol, tt.wantRow)
		}
	}
}

func TestGeoToGrid_RangeErrors(t *testing.T) {
	for _, lat := range []float64{-90.01, 91, math.NaN()} {
		if _, _, err := GeoToGrid(0, lat); !errors.Is(err, ErrRange) {
			t.Errorf("GeoToGrid(0, %v) error = %v, want ErrRange", lat, err)
		}
	}
	// Longitude is wrapped, never rejected.
	if _, _, err := GeoToGrid(-1234.5, 0); err != nil {
		t.Errorf("GeoToGrid(-1234.5, 0): unexpected error %v", err)
	}
}

func TestGridToGeo_RangeErrors(t *testing.T) {
	for _, row := range []float64{-0.5, 180.5} {
		if _, _, err := GridToGeo(0, row); !errors.Is(err, ErrRange) {
			t.Errorf("GridToGeo(0, %v) error = %v, want ErrRange", row, err)
		}
	}
	for _, row := range []float64{0, 180} {
		if _, _, err := GridToGeo(0, row); err != nil {
			t.Errorf("GridToGeo(0, %v): unexpected error %v", row, err)
		}
	}
}

func TestGreatCircleAngle(t *testing.T) {
	tests := []struct {
		name                   string
		latA, lonA, latB, lonB float64
		want                   float64
	}{
		{"same point", 12.5, 45.5, 12.5, 45.5, 0},
		{"quarter along equator", 0, 0, 0, 90, math.Pi / 2},
		{"pole to equator", 90, 0, 0, 123, math.Pi / 2},
		{"antipodes", 0, 0, 0, 180, math.Pi},
		{"across the seam", 0, 179.5, 0, -179.5, Deg2Rad(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GreatCircleAngle(tt.latA, tt.lonA, tt.latB, tt.lonB)
			if math.Abs(got-tt.want) > 1e-7 {
				t.Errorf("GreatCircleAngle = %.10f, want %.10f", got, tt.want)
			}
		})
	}
}

func TestNormalizeLon(t *testing.T) {
	tests := []struct {
		in, want360, want180 float64
	}{
		{0, 0, 0},
		{-0.5, 359.5, -0.5},
		{360, 0, 0},
		{190, 190, -170},
		{-190, 170, 170},
		{725, 5, 5},
	}
	for _, tt := range tests {
		if got := NormalizeLon360(tt.in); got != tt.want360 {
			t.Errorf("NormalizeLon360(%v) = %v, want %v", tt.in, got, tt.want360)
		}
		if got := NormalizeLon180(tt.in); got != tt.want180 {
			t.Errorf("NormalizeLon180(%v) = %v, want %v", tt.in, got, tt.want180)
		}
	}
}
