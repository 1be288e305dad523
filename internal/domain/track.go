package domain

import (
	"fmt"
	"sort"
	"time"
)

// Track is a satellite altimetry track: parallel arrays of time, position
// and sea level anomaly.
type Track struct {
	Times []time.Time
	Lats  []float64
	Lons  []float64
	SLA   []float64
}

// Len returns the number of records.
func (t Track) Len() int {
	return len(t.Times)
}

// Validate checks that all arrays have the same length.
func (t Track) Validate() error {
	n := len(t.Times)
	if len(t.Lats) != n || len(t.Lons) != n || len(t.SLA) != n {
		return fmt.Errorf("track times=%d lats=%d lons=%d sla=%d: %w",
			n, len(t.Lats), len(t.Lons), len(t.SLA), ErrDimensionMismatch)
	}
	return nil
}

// Points converts the track into interpolation query points.
func (t Track) Points() []QueryPoint {
	pts := make([]QueryPoint, t.Len())
	for i := range pts {
		pts[i] = QueryPoint{Lon: t.Lons[i], Lat: t.Lats[i], Time: t.Times[i]}
	}
	return pts
}

// keep returns the records whose index is marked true.
func (t Track) keep(mask []bool) Track {
	out := Track{}
	for i, ok := range mask {
		if !ok {
			continue
		}
		out.Times = append(out.Times, t.Times[i])
		out.Lats = append(out.Lats, t.Lats[i])
		out.Lons = append(out.Lons, t.Lons[i])
		out.SLA = append(out.SLA, t.SLA[i])
	}
	return out
}

// Dedupe drops records whose timestamp already appeared earlier.
func (t Track) Dedupe() Track {
	seen := make(map[int64]bool, t.Len())
	mask := make([]bool, t.Len())
	for i, ts := range t.Times {
		k := ts.UnixNano()
		if seen[k] {
			continue
		}
		seen[k] = true
		mask[i] = true
	}
	return t.keep(mask)
}

// MatchTo keeps only the records whose timestamp exists in ref.
func (t Track) MatchTo(ref Track) Track {
	want := make(map[int64]bool, ref.Len())
	for _, ts := range ref.Times {
		want[ts.UnixNano()] = true
	}
	mask := make([]bool, t.Len())
	for i, ts := range t.Times {
		mask[i] = want[ts.UnixNano()]
	}
	return t.keep(mask)
}

// WithinLatitude keeps the records with |lat| <= maxAbsLat.
func (t Track) WithinLatitude(maxAbsLat float64) Track {
	mask := make([]bool, t.Len())
	for i, lat := range t.Lats {
		mask[i] = lat >= -maxAbsLat && lat <= maxAbsLat
	}
	return t.keep(mask)
}

// DeleteIndices removes the given record indices from every array.
func (t Track) DeleteIndices(indices []int) (Track, error) {
	if err := t.Validate(); err != nil {
		return Track{}, err
	}
	mask, err := deletionMask(t.Len(), indices)
	if err != nil {
		return Track{}, err
	}
	return t.keep(mask), nil
}

// Subsample randomly removes records until at most max remain. It returns
// the reduced track and the removed indices in ascending order, so the same
// removal can be applied to companion tracks.
func (t Track) Subsample(max int, p Permuter) (Track, []int) {
	excess := t.Len() - max
	if max < 0 || excess <= 0 {
		return t, nil
	}
	if p == nil {
		p = globalPermuter{}
	}
	removed := append([]int(nil), p.Perm(t.Len())[:excess]...)
	sort.Ints(removed)
	out, _ := t.DeleteIndices(removed)
	return out, removed
}

// SplitPasses cuts the track wherever consecutive records are more than
// maxGap apart.
func (t Track) SplitPasses(maxGap time.Duration) []Track {
	if t.Len() == 0 {
		return nil
	}
	var passes []Track
	start := 0
	for i := 1; i <= t.Len(); i++ {
		if i < t.Len() && t.Times[i].Sub(t.Times[i-1]) <= maxGap {
			continue
		}
		passes = append(passes, Track{
			Times: append([]time.Time(nil), t.Times[start:i]...),
			Lats:  append([]float64(nil), t.Lats[start:i]...),
			Lons:  append([]float64(nil), t.Lons[start:i]...),
			SLA:   append([]float64(nil), t.SLA[start:i]...),
		})
		start = i
	}
	return passes
}

// DeleteIndices returns a copy of s without the given indices. Duplicate
// indices are ignored; out-of-range indices are an error.
func DeleteIndices[T any](s []T, indices []int) ([]T, error) {
	mask, err := deletionMask(len(s), indices)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(s))
	for i, ok := range mask {
		if ok {
			out = append(out, s[i])
		}
	}
	return out, nil
}

func deletionMask(n int, indices []int) ([]bool, error) {
	mask := make([]bool, n)
	for i := range mask {
		mask[i] = true
	}
	for _, idx := range indices {
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("index %d outside [0, %d): %w", idx, n, ErrRange)
		}
		mask[idx] = false
	}
	return mask, nil
}
