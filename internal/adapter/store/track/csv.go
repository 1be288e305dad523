package track

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"go.ngs.io/tec-interp/internal/domain"
)

// Row is one output record of an interpolated or corrected track.
type Row struct {
	Time      time.Time
	Lat       float64
	Lon       float64
	SLA       float64
	TEC       float64
	Variance  float64
	Corrected *float64
}

// Rows zips a track with its estimates. corrected may be nil.
func Rows(tr domain.Track, tec, variance, corrected []float64) ([]Row, error) {
	n := tr.Len()
	if len(tec) != n || len(variance) != n || (corrected != nil && len(corrected) != n) {
		return nil, fmt.Errorf("track has %d records, got tec=%d variance=%d corrected=%d: %w",
			n, len(tec), len(variance), len(corrected), domain.ErrDimensionMismatch)
	}
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Row{
			Time:     tr.Times[i],
			Lat:      tr.Lats[i],
			Lon:      tr.Lons[i],
			SLA:      tr.SLA[i],
			TEC:      tec[i],
			Variance: variance[i],
		}
		if corrected != nil {
			c := corrected[i]
			rows[i].Corrected = &c
		}
	}
	return rows, nil
}

// WriteCSV writes rows with a header. The corrected_sla column is present
// only when the first row carries a corrected value.
func WriteCSV(w io.Writer, rows []Row) error {
	writer := csv.NewWriter(w)
	withCorrected := len(rows) > 0 && rows[0].Corrected != nil

	header := []string{"time", "sec1985", "lat", "lon", "sla_m", "tec_tecu", "variance"}
	if withCorrected {
		header = append(header, "corrected_sla_m")
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for i, r := range rows {
		record := []string{
			r.Time.UTC().Format(time.RFC3339),
			formatFloat(domain.ToSeconds1985(r.Time)),
			formatFloat(r.Lat),
			formatFloat(r.Lon),
			formatFloat(r.SLA),
			formatFloat(r.TEC),
			formatFloat(r.Variance),
		}
		if withCorrected {
			if r.Corrected == nil {
				return fmt.Errorf("row %d has no corrected value", i)
			}
			record = append(record, formatFloat(*r.Corrected))
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record %d: %w", i, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
