// Package track loads satellite altimetry tracks and writes per-record
// results as CSV.
package track

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/tec-interp/internal/domain"
)

// DefaultHeaderLines is the number of comment lines at the top of an .asc
// track export.
const DefaultHeaderLines = 13

// Options controls how a track file is read.
type Options struct {
	// MaxAbsLat drops records poleward of this latitude. Zero keeps all.
	MaxAbsLat float64
	// HeaderLines is the number of leading lines skipped in .asc files.
	HeaderLines int
}

// DefaultOptions returns the options matching the standard exports.
func DefaultOptions() Options {
	return Options{HeaderLines: DefaultHeaderLines}
}

// columns holds the raw per-record values of a track file, times still in
// seconds since 1985.
type columns struct {
	secs, lats, lons, sla []float64
}

func (c *columns) add(sec, lat, lon, sla float64) {
	c.secs = append(c.secs, sec)
	c.lats = append(c.lats, lat)
	c.lons = append(c.lons, lon)
	c.sla = append(c.sla, sla)
}

// Load reads an .asc or .nc track file. Times are seconds since 1985-01-01
// and longitudes are normalized to [0, 360). Records with a missing or
// non-finite time, latitude, longitude or sla are dropped.
func Load(path string, opts Options) (domain.Track, error) {
	var (
		cols columns
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".asc":
		cols, err = loadASC(path, opts.HeaderLines)
	case ".nc":
		cols, err = loadNetCDF(path)
	default:
		return domain.Track{}, fmt.Errorf("unsupported track file type %q for %s", ext, path)
	}
	if err != nil {
		return domain.Track{}, err
	}

	tr, err := cols.track()
	if err != nil {
		return domain.Track{}, fmt.Errorf("%s: %w", path, err)
	}
	if tr.Len() == 0 {
		return domain.Track{}, fmt.Errorf("no valid records in %s", path)
	}
	if opts.MaxAbsLat > 0 {
		tr = tr.WithinLatitude(opts.MaxAbsLat)
	}
	return tr, tr.Validate()
}

// track converts the valid records into a Track.
func (c columns) track() (domain.Track, error) {
	n := len(c.secs)
	if len(c.lats) != n || len(c.lons) != n || len(c.sla) != n {
		return domain.Track{}, domain.ErrDimensionMismatch
	}
	var tr domain.Track
	for i := 0; i < n; i++ {
		if !finite(c.lats[i], c.lons[i], c.sla[i]) || math.Abs(c.lats[i]) > 90 {
			continue
		}
		at, err := domain.FromSeconds1985(c.secs[i])
		if err != nil {
			continue
		}
		tr.Times = append(tr.Times, at)
		tr.Lats = append(tr.Lats, c.lats[i])
		tr.Lons = append(tr.Lons, domain.NormalizeLon360(c.lons[i]))
		tr.SLA = append(tr.SLA, c.sla[i])
	}
	return tr, nil
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func loadASC(path string, headerLines int) (columns, error) {
	//nolint:gosec // G304: track path comes from the operator.
	file, err := os.Open(path)
	if err != nil {
		return columns{}, fmt.Errorf("failed to open track file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var cols columns
	scanner := bufio.NewScanner(file)
	line := 0
	for scanner.Scan() {
		line++
		if line <= headerLines {
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 4 {
			return columns{}, fmt.Errorf("%s line %d: expected at least 4 columns, got %d", path, line, len(fields))
		}

		var vals [4]float64
		for i := range vals {
			if vals[i], err = strconv.ParseFloat(fields[i], 64); err != nil {
				return columns{}, fmt.Errorf("%s line %d column %d: %w", path, line, i+1, err)
			}
		}
		cols.add(vals[0], vals[1], vals[2], vals[3])
	}
	if err := scanner.Err(); err != nil {
		return columns{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(cols.secs) == 0 {
		return columns{}, fmt.Errorf("no records found in %s", path)
	}
	return cols, nil
}

func loadNetCDF(path string) (columns, error) {
	nc, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return columns{}, fmt.Errorf("failed to open NetCDF file: %w", err)
	}
	defer func() { _ = nc.Close() }()

	var cols columns
	for _, c := range []struct {
		name string
		dst  *[]float64
	}{
		{"time", &cols.secs},
		{"lat", &cols.lats},
		{"lon", &cols.lons},
		{"sla", &cols.sla},
	} {
		if *c.dst, err = readColumn(nc, c.name); err != nil {
			return columns{}, err
		}
	}
	return cols, nil
}

// readColumn reads a 1D variable as float64, applying fill, scale_factor
// and add_offset.
func readColumn(nc netcdf.Dataset, name string) ([]float64, error) {
	v, err := nc.Var(name)
	if err != nil {
		return nil, fmt.Errorf("variable %q not found: %w", name, err)
	}
	n, err := v.Len()
	if err != nil {
		return nil, fmt.Errorf("failed to get length of %q: %w", name, err)
	}
	varType, err := v.Type()
	if err != nil {
		return nil, fmt.Errorf("failed to get type of %q: %w", name, err)
	}

	out := make([]float64, n)
	switch varType {
	case netcdf.DOUBLE:
		err = v.ReadFloat64s(out)
	case netcdf.FLOAT:
		tmp := make([]float32, n)
		if err = v.ReadFloat32s(tmp); err == nil {
			for i, x := range tmp {
				out[i] = float64(x)
			}
		}
	case netcdf.INT:
		tmp := make([]int32, n)
		if err = v.ReadInt32s(tmp); err == nil {
			for i, x := range tmp {
				out[i] = float64(x)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported type %v for %q", varType, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", name, err)
	}

	fill, hasFill := attrFloat64(v, "_FillValue")
	scale, hasScale := attrFloat64(v, "scale_factor")
	offset, _ := attrFloat64(v, "add_offset")
	for i, x := range out {
		if hasFill && x == fill {
			out[i] = math.NaN()
			continue
		}
		if hasScale {
			x *= scale
		}
		out[i] = x + offset
	}
	return out, nil
}

func attrFloat64(v netcdf.Var, name string) (float64, bool) {
	a := v.Attr(name)
	if n, err := a.Len(); err != nil || n == 0 {
		return 0, false
	}
	buf64 := make([]float64, 1)
	if err := a.ReadFloat64s(buf64); err == nil {
		return buf64[0], true
	}
	buf32 := make([]float32, 1)
	if err := a.ReadFloat32s(buf32); err == nil {
		return float64(buf32[0]), true
	}
	bufi := make([]int32, 1)
	if err := a.ReadInt32s(bufi); err == nil {
		return float64(bufi[0]), true
	}
	return 0, false
}

// WriteNetCDF writes tr in the layout Load reads back.
func WriteNetCDF(path string, tr domain.Track) error {
	if err := tr.Validate(); err != nil {
		return err
	}
	ds, err := netcdf.CreateFile(path, netcdf.CLOBBER)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() { _ = ds.Close() }()

	dim, err := ds.AddDim("time", uint64(tr.Len()))
	if err != nil {
		return err
	}
	secs := make([]float64, tr.Len())
	for i, t := range tr.Times {
		secs[i] = domain.ToSeconds1985(t)
	}
	columns := []struct {
		name   string
		values []float64
	}{
		{"time", secs},
		{"lat", tr.Lats},
		{"lon", tr.Lons},
		{"sla", tr.SLA},
	}

	vars := make([]netcdf.Var, len(columns))
	for i, c := range columns {
		if vars[i], err = ds.AddVar(c.name, netcdf.DOUBLE, []netcdf.Dim{dim}); err != nil {
			return fmt.Errorf("failed to add %q: %w", c.name, err)
		}
	}
	if err := vars[0].Attr("units").WriteBytes([]byte("seconds since 1985-01-01 00:00:00")); err != nil {
		return err
	}
	if err := ds.EndDef(); err != nil {
		return fmt.Errorf("failed to leave define mode: %w", err)
	}
	for i, c := range columns {
		if err := vars[i].WriteFloat64s(c.values); err != nil {
			return fmt.Errorf("failed to write %q: %w", c.name, err)
		}
	}
	return nil
}
