package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.ngs.io/tec-interp/internal/adapter/archive"
	"go.ngs.io/tec-interp/internal/domain"
)

var trackDay = time.Date(2017, 3, 16, 0, 0, 0, 0, time.UTC)

// writeMirror writes one day of 2-hourly 4x8 maps valued by slot.
func writeMirror(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	naming, err := archive.NewClient(archive.Config{BaseURL: "file://" + root, CacheDir: t.TempDir(), Resolution: archive.Res2Hour})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	maps := make([][][]float32, 12)
	for s := range maps {
		maps[s] = make([][]float32, 4)
		for r := range maps[s] {
			maps[s][r] = make([]float32, 8)
			for c := range maps[s][r] {
				maps[s][r][c] = float32(10 + s)
			}
		}
	}
	raw := filepath.Join(t.TempDir(), "raw.nc")
	if err := archive.WriteMapFile(raw, maps, -1); err != nil {
		t.Fatalf("WriteMapFile: %v", err)
	}
	if err := archive.CompressFile(raw, filepath.Join(root, "jpld", "2017", naming.FileName(trackDay))); err != nil {
		t.Fatalf("CompressFile: %v", err)
	}
	return root
}

func writeTrack(t *testing.T) string {
	t.Helper()
	var sb strings.Builder
	for i := 0; i < 13; i++ {
		sb.WriteString("# header\n")
	}
	base := domain.ToSeconds1985(trackDay.Add(2 * time.Hour))
	for i, lat := range []float64{88, 87.8, 87.6} {
		sb.WriteString(strings.Join([]string{
			ftoa(base + float64(i)*3600), ftoa(lat), ftoa(-20 + float64(i)), "0.25",
		}, " ") + "\n")
	}
	// Repeated timestamp is dropped.
	sb.WriteString(ftoa(base) + " 88 -20 0.25\n")
	path := filepath.Join(t.TempDir(), "pass.asc")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatalf("write track: %v", err)
	}
	return path
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestURLCommand(t *testing.T) {
	out, err := run(t, "url", "--resolution", "2h", "--archive-url", "https://example.test/gim", "--time", "2016-12-31T23:50:00Z")
	if err != nil {
		t.Fatalf("url: %v", err)
	}
	if !strings.Contains(out, "https://example.test/gim/jpld/2016/jpld3660.16i.nc.gz") ||
		!strings.Contains(out, "https://example.test/gim/jpld/2017/jpld0010.17i.nc.gz") {
		t.Errorf("output missing day-boundary files:\n%s", out)
	}
}

func TestNeighborsCommand(t *testing.T) {
	out, err := run(t, "neighbors", "--lat", "10", "--lon", "20", "--radius-km", "300", "--max-points", "4", "--seed", "1")
	if err != nil {
		t.Fatalf("neighbors: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 5 || !strings.HasPrefix(lines[0], "# 4 lattice points") {
		t.Errorf("unexpected output:\n%s", out)
	}

	if _, err := run(t, "neighbors", "--lat", "100", "--lon", "0"); err == nil {
		t.Error("expected an error for latitude 100")
	}
}

func TestInterpolateAndCorrectCommands(t *testing.T) {
	mirror := writeMirror(t)
	trackPath := writeTrack(t)
	common := []string{
		"--archive-url", "file://" + mirror,
		"--cache-dir", t.TempDir(),
		"--resolution", "2h",
		"--log-level", "error",
		"--track", trackPath,
		"--radius-km", "300",
	}

	out, err := run(t, append([]string{"interpolate"}, common...)...)
	if err != nil {
		t.Fatalf("interpolate: %v", err)
	}
	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatalf("parse CSV: %v\n%s", err, out)
	}
	if len(records) != 4 {
		t.Fatalf("got %d CSV rows, want header + 3:\n%s", len(records), out)
	}
	// 02:00, 03:00 and 04:00 are slots 1, 1.5 and 2.
	for i, want := range []string{"11", "11.5", "12"} {
		if records[i+1][5] != want {
			t.Errorf("row %d tec = %s, want %s", i, records[i+1][5], want)
		}
	}

	out, err = run(t, append([]string{"correct", "--scale", "-1"}, common...)...)
	if err != nil {
		t.Fatalf("correct: %v", err)
	}
	records, err = csv.NewReader(strings.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatalf("parse CSV: %v", err)
	}
	if records[0][len(records[0])-1] != "corrected_sla_m" || len(records) != 4 {
		t.Errorf("unexpected correct output:\n%s", out)
	}
}

func TestSavedRunsAreListed(t *testing.T) {
	mirror := writeMirror(t)
	trackPath := writeTrack(t)
	resultsDir := t.TempDir()
	common := []string{
		"--archive-url", "file://" + mirror,
		"--cache-dir", t.TempDir(),
		"--results-dir", resultsDir,
		"--resolution", "2h",
		"--log-level", "error",
	}

	if _, err := run(t, append([]string{"interpolate", "--track", trackPath, "--radius-km", "300", "--save", "--seed", "7"}, common...)...); err != nil {
		t.Fatalf("interpolate --save: %v", err)
	}

	out, err := run(t, append([]string{"runs"}, common...)...)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want header + 1 run:\n%s", len(lines), out)
	}
	fields := strings.Fields(lines[1])
	if len(fields) != 5 || fields[2] != "interpolate" || fields[3] != "3" || fields[4] != "0" {
		t.Fatalf("unexpected run row %q", lines[1])
	}

	out, err = run(t, append([]string{"runs", fields[0]}, common...)...)
	if err != nil {
		t.Fatalf("runs %s: %v", fields[0], err)
	}
	var got struct {
		ID     string    `json:"id"`
		Kind   string    `json:"kind"`
		Values []float64 `json:"values"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode run: %v\n%s", err, out)
	}
	if got.ID != fields[0] || got.Kind != "interpolate" || len(got.Values) != 3 {
		t.Errorf("stored run = %+v", got)
	}
}
