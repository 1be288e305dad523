// Package main generates synthetic global ionosphere map files laid out like
// the remote archive, for local mirrors and tests.
package main

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"go.ngs.io/tec-interp/internal/adapter/archive"
	"go.ngs.io/tec-interp/internal/domain"
)

const (
	gridRows = 180
	gridCols = domain.GridColumns
	fillTEC  = float32(-9999)
)

// Ionosphere describes the synthetic TEC field: a daytime bulge following
// the sun and two equatorial anomaly crests.
type Ionosphere struct {
	Background float64 // TECU at night
	Peak       float64 // TECU added at the sub-solar afternoon maximum
	CrestLat   float64 // Latitude of the anomaly crests (degrees)
	CrestGain  float64 // Relative enhancement at the crests
}

// TEC returns the vertical TEC at a position and time.
func (ion Ionosphere) TEC(lat, lon float64, t time.Time) float64 {
	localHour := math.Mod(domain.MinutesOfDay(t)/60+lon/15+24, 24)
	// Maximum around 14 LT, minimum before dawn.
	diurnal := math.Max(0, math.Cos((localHour-14)*math.Pi/12))
	latTaper := math.Cos(domain.Deg2Rad(lat))
	crest := 1 + ion.CrestGain*(math.Exp(-sq((lat-ion.CrestLat)/8))+math.Exp(-sq((lat+ion.CrestLat)/8)))
	return ion.Background*latTaper + ion.Peak*diurnal*latTaper*latTaper*crest
}

func sq(x float64) float64 { return x * x }

// dayMaps returns the maps of one day, [slot][row][col].
func dayMaps(ion Ionosphere, res archive.Resolution, d domain.Date) [][][]float32 {
	maps := make([][][]float32, res.SlotsPerDay())
	for s := range maps {
		at := d.Time().Add(time.Duration(s) * res.Step())
		maps[s] = make([][]float32, gridRows)
		for r := range maps[s] {
			maps[s][r] = make([]float32, gridCols)
			for c := range maps[s][r] {
				lon, lat, err := domain.GridToGeo(float64(c), float64(r))
				if err != nil {
					maps[s][r][c] = fillTEC
					continue
				}
				maps[s][r][c] = float32(ion.TEC(lat, lon, at))
			}
		}
	}
	return maps
}

func main() {
	outDir := flag.StringP("out", "o", "./data/gim", "Output directory (archive root)")
	startStr := flag.String("start", "2017-01-01", "First day to generate (YYYY-MM-DD)")
	days := flag.Int("days", 1, "Number of consecutive days")
	resStr := flag.String("resolution", "15m", "Product resolution: 15m, 2h or daily")
	index := flag.String("index", "0", "Archive file index")
	background := flag.Float64("background", 5, "Night-time TEC (TECU)")
	peak := flag.Float64("peak", 40, "Daytime TEC enhancement (TECU)")
	crestLat := flag.Float64("crest-lat", 15, "Equatorial anomaly crest latitude (degrees)")
	crestGain := flag.Float64("crest-gain", 0.4, "Relative enhancement at the crests")
	verbose := flag.BoolP("verbose", "v", false, "Log every file")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	start, err := time.Parse("2006-01-02", *startStr)
	if err != nil {
		log.Fatalf("Invalid start date: %v", err)
	}
	res, err := archive.ParseResolution(*resStr)
	if err != nil {
		log.Fatalf("Invalid resolution: %v", err)
	}
	if *days < 1 {
		log.Fatalf("days must be positive, got %d", *days)
	}

	root, err := filepath.Abs(*outDir)
	if err != nil {
		log.Fatalf("Invalid output directory: %v", err)
	}
	naming, err := archive.NewClient(archive.Config{
		BaseURL:      "file://" + root,
		CacheDir:     filepath.Join(os.TempDir(), "gim-generator"),
		Resolution:   res,
		ArchiveIndex: *index,
	}, archive.WithLogger(log))
	if err != nil {
		log.Fatalf("Failed to configure archive naming: %v", err)
	}

	ionosphere := Ionosphere{Background: *background, Peak: *peak, CrestLat: *crestLat, CrestGain: *crestGain}
	log.WithFields(logrus.Fields{
		"start":      *startStr,
		"days":       *days,
		"resolution": res.String(),
		"out":        root,
	}).Info("generating synthetic maps")

	tmpDir, err := os.MkdirTemp("", "gim-generator-*")
	if err != nil {
		log.Fatalf("Failed to create temp directory: %v", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	d := domain.DateOf(start)
	var total int64
	for i := 0; i < *days; i++ {
		path, size, err := writeDay(naming, ionosphere, res, d, root, tmpDir)
		if err != nil {
			log.Fatalf("Failed to generate %s: %v", d, err)
		}
		total += size
		entry := log.WithFields(logrus.Fields{"date": d.String(), "file": filepath.Base(path)})
		if *verbose {
			entry.Infof("wrote %d bytes", size)
		} else {
			entry.Debug("wrote file")
		}
		d = domain.NextDay(d)
	}

	log.Printf("=== Generation Complete ===")
	log.Printf("Files created under: %s", filepath.Join(root, res.Type()))
	log.Printf("Grid: %d x %d, %d maps per file", gridRows, gridCols, res.SlotsPerDay())
	log.Printf("Total size: ~%.1f MB (%d files)", float64(total)/1024/1024, *days)
	log.Printf("Use with: TEC_ARCHIVE_URL=file://%s", root)
}

// writeDay writes one compressed day file into the archive layout and
// returns its path and size.
func writeDay(naming *archive.Client, ion Ionosphere, res archive.Resolution, d domain.Date, root, tmpDir string) (string, int64, error) {
	raw := filepath.Join(tmpDir, fmt.Sprintf("%s.nc", d))
	if err := archive.WriteMapFile(raw, dayMaps(ion, res, d), fillTEC); err != nil {
		return "", 0, err
	}
	defer func() { _ = os.Remove(raw) }()

	dst := filepath.Join(root, res.Type(), fmt.Sprintf("%04d", d.Year), naming.FileName(d.Time()))
	if err := archive.CompressFile(raw, dst); err != nil {
		return "", 0, err
	}
	fi, err := os.Stat(dst)
	if err != nil {
		return "", 0, err
	}
	return dst, fi.Size(), nil
}
