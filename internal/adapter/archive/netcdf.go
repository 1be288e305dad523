package archive

import (
	"fmt"
	"math"

	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/tec-interp/internal/domain"
)

const (
	// TECVarName is the map variable inside archive files.
	TECVarName = "tecmap"
)

// readTECMap reads one map slot from a decompressed archive file. The map
// variable is either [slot, row, col] or a single [row, col] map, in which
// case only slot 0 exists.
func readTECMap(path string, slot int) ([][]float64, error) {
	nc, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return nil, fmt.Errorf("failed to open NetCDF file: %w", err)
	}
	defer func() { _ = nc.Close() }()

	v, err := nc.Var(TECVarName)
	if err != nil {
		return nil, fmt.Errorf("variable %q not found in %s: %w", TECVarName, path, err)
	}

	dims, err := v.Dims()
	if err != nil {
		return nil, fmt.Errorf("failed to get dimensions: %w", err)
	}
	lens := make([]uint64, len(dims))
	for i, d := range dims {
		if lens[i], err = d.Len(); err != nil {
			return nil, fmt.Errorf("failed to get dim%d length: %w", i, err)
		}
	}

	var start, count []uint64
	var nRows, nCols int
	switch len(dims) {
	case 2:
		if slot != 0 {
			return nil, fmt.Errorf("slot %d requested from single-map file %s: %w", slot, path, domain.ErrRange)
		}
		nRows, nCols = int(lens[0]), int(lens[1])
		start = []uint64{0, 0}
		count = []uint64{lens[0], lens[1]}
	case 3:
		if slot < 0 || uint64(slot) >= lens[0] {
			return nil, fmt.Errorf("slot %d outside [0, %d) in %s: %w", slot, lens[0], path, domain.ErrRange)
		}
		nRows, nCols = int(lens[1]), int(lens[2])
		start = []uint64{uint64(slot), 0, 0}
		count = []uint64{1, lens[1], lens[2]}
	default:
		return nil, fmt.Errorf("expected 2D or 3D %s, got %dD", TECVarName, len(dims))
	}

	flat, err := readFloat64Slice(v, start, count, nRows*nCols)
	if err != nil {
		return nil, err
	}

	// Missing samples are flagged in packed units, so compare before scaling.
	if fill, ok := getFillValue(v); ok {
		for i, val := range flat {
			if val == fill {
				flat[i] = math.NaN()
			}
		}
	}
	if scale, ok := attrFloat64(v, "scale_factor"); ok && scale != 0 {
		for i := range flat {
			flat[i] *= scale
		}
	}
	if offset, ok := attrFloat64(v, "add_offset"); ok {
		for i := range flat {
			flat[i] += offset
		}
	}

	values := make([][]float64, nRows)
	for i := 0; i < nRows; i++ {
		values[i] = flat[i*nCols : (i+1)*nCols]
	}
	return values, nil
}

// readFloat64Slice reads a hyperslab of a numeric variable as float64.
func readFloat64Slice(v netcdf.Var, start, count []uint64, total int) ([]float64, error) {
	varType, err := v.Type()
	if err != nil {
		return nil, fmt.Errorf("failed to get variable type: %w", err)
	}

	flat := make([]float64, total)
	switch varType {
	case netcdf.DOUBLE:
		if err := v.ReadFloat64Slice(flat, start, count); err != nil {
			return nil, fmt.Errorf("failed to read float64 map: %w", err)
		}
	case netcdf.FLOAT:
		tmp := make([]float32, total)
		if err := v.ReadFloat32Slice(tmp, start, count); err != nil {
			return nil, fmt.Errorf("failed to read float32 map: %w", err)
		}
		for i, val := range tmp {
			flat[i] = float64(val)
		}
	case netcdf.SHORT:
		tmp := make([]int16, total)
		if err := v.ReadInt16Slice(tmp, start, count); err != nil {
			return nil, fmt.Errorf("failed to read int16 map: %w", err)
		}
		for i, val := range tmp {
			flat[i] = float64(val)
		}
	case netcdf.INT:
		tmp := make([]int32, total)
		if err := v.ReadInt32Slice(tmp, start, count); err != nil {
			return nil, fmt.Errorf("failed to read int32 map: %w", err)
		}
		for i, val := range tmp {
			flat[i] = float64(val)
		}
	default:
		return nil, fmt.Errorf("unsupported data type: %v", varType)
	}
	return flat, nil
}

// getFillValue returns the _FillValue or missing_value attribute if present.
func getFillValue(v netcdf.Var) (float64, bool) {
	for _, name := range []string{"_FillValue", "missing_value"} {
		if f, ok := attrFloat64(v, name); ok {
			return f, true
		}
	}
	return 0, false
}

// attrFloat64 reads the first element of a numeric attribute. The reader
// refuses type conversions, so each storage type is tried in turn.
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
	bufs := make([]int16, 1)
	if err := a.ReadInt16s(bufs); err == nil {
		return float64(bufs[0]), true
	}
	return 0, false
}

// WriteMapFile writes maps indexed [slot][row][col] as a 3D float tecmap
// variable. Samples equal to fill are left as is and flagged through the
// _FillValue attribute.
func WriteMapFile(path string, maps [][][]float32, fill float32) error {
	if len(maps) == 0 || len(maps[0]) == 0 {
		return fmt.Errorf("no map data to write: %w", domain.ErrDimensionMismatch)
	}
	nSlots, nRows, nCols := len(maps), len(maps[0]), len(maps[0][0])

	flat := make([]float32, 0, nSlots*nRows*nCols)
	for s, m := range maps {
		if len(m) != nRows {
			return fmt.Errorf("map %d has %d rows, want %d: %w", s, len(m), nRows, domain.ErrDimensionMismatch)
		}
		for r, row := range m {
			if len(row) != nCols {
				return fmt.Errorf("map %d row %d has %d columns, want %d: %w", s, r, len(row), nCols, domain.ErrDimensionMismatch)
			}
			flat = append(flat, row...)
		}
	}

	ds, err := netcdf.CreateFile(path, netcdf.CLOBBER)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() { _ = ds.Close() }()

	timeDim, err := ds.AddDim("time", uint64(nSlots))
	if err != nil {
		return err
	}
	latDim, err := ds.AddDim("lat", uint64(nRows))
	if err != nil {
		return err
	}
	lonDim, err := ds.AddDim("lon", uint64(nCols))
	if err != nil {
		return err
	}

	v, err := ds.AddVar(TECVarName, netcdf.FLOAT, []netcdf.Dim{timeDim, latDim, lonDim})
	if err != nil {
		return err
	}
	if err := v.Attr("_FillValue").WriteFloat32s([]float32{fill}); err != nil {
		return fmt.Errorf("failed to write fill value: %w", err)
	}
	if err := v.Attr("units").WriteBytes([]byte("TECU")); err != nil {
		return fmt.Errorf("failed to write units: %w", err)
	}

	if err := ds.EndDef(); err != nil {
		return fmt.Errorf("failed to leave define mode: %w", err)
	}
	if err := v.WriteFloat32s(flat); err != nil {
		return fmt.Errorf("failed to write %s: %w", TECVarName, err)
	}
	return nil
}
