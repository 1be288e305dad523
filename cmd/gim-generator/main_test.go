package main

import (
	"path/filepath"
	"testing"
	"time"

	"go.ngs.io/tec-interp/internal/adapter/archive"
	"go.ngs.io/tec-interp/internal/domain"
)

func TestIonosphere_TEC(t *testing.T) {
	ion := Ionosphere{Background: 5, Peak: 40, CrestLat: 15, CrestGain: 0.4}
	noonUTC := time.Date(2017, 3, 16, 14, 0, 0, 0, time.UTC)

	afternoon := ion.TEC(0, 0, noonUTC)
	night := ion.TEC(0, 180, noonUTC)
	if afternoon <= night {
		t.Errorf("afternoon TEC %v should exceed night TEC %v", afternoon, night)
	}
	if night != 5 {
		t.Errorf("night TEC at the equator = %v, want background 5", night)
	}
	if crest := ion.TEC(15, 0, noonUTC); crest <= ion.TEC(40, 0, noonUTC) {
		t.Errorf("crest TEC %v should exceed mid-latitude TEC", crest)
	}
	if polar := ion.TEC(89.5, 0, noonUTC); polar < 0 || polar > 1 {
		t.Errorf("polar TEC = %v, want near zero", polar)
	}
}

func TestWriteDay(t *testing.T) {
	root := t.TempDir()
	naming, err := archive.NewClient(archive.Config{BaseURL: "file://" + root, CacheDir: t.TempDir(), Resolution: archive.ResDaily})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	d := domain.Date{Year: 2016, Month: 2, Day: 29}
	path, size, err := writeDay(naming, Ionosphere{Background: 5, Peak: 40}, archive.ResDaily, d, root, t.TempDir())
	if err != nil {
		t.Fatalf("writeDay: %v", err)
	}
	if want := filepath.Join(root, "jplg", "2016", "jplg0600.16i.nc.gz"); path != want {
		t.Errorf("path = %s, want %s", path, want)
	}
	if size == 0 {
		t.Error("empty file")
	}

	// The written file is readable through the archive client.
	e, err := naming.LoadEpoch(t.Context(), archive.SlotRef{Date: d, Slot: 0, Time: d.Time()})
	if err != nil {
		t.Fatalf("LoadEpoch: %v", err)
	}
	if e.Rows() != gridRows || e.Cols() != gridCols {
		t.Errorf("map is %dx%d, want %dx%d", e.Rows(), e.Cols(), gridRows, gridCols)
	}
}
