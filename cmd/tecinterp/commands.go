package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go.ngs.io/tec-interp/internal/adapter/store/results"
	"go.ngs.io/tec-interp/internal/adapter/store/track"
	"go.ngs.io/tec-interp/internal/domain"
	"go.ngs.io/tec-interp/internal/usecase"
)

var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02T15:04", "2006-01-02"}

// parseTime accepts RFC 3339 and a few shorter UTC layouts.
func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q (expected RFC3339 or YYYY-MM-DD[THH:MM[:SS]])", s)
}

func newURLCmd(a *app) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "url",
		Short: "Print the archive files and map slots needed at a time",
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := parseTime(at)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SLOT\tTIME\tFILE\tURL")
			for _, ref := range a.client.Slots(t) {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", ref.Slot, ref.Time.Format(time.RFC3339), a.client.FileName(ref.Time), a.client.URLFor(ref.Time))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&at, "time", "t", "", "query time (UTC)")
	_ = cmd.MarkFlagRequired("time")
	return cmd
}

func newFetchCmd(a *app) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download archive files for a range of days into the cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, err := parseTime(from)
			if err != nil {
				return err
			}
			end := start
			if to != "" {
				if end, err = parseTime(to); err != nil {
					return err
				}
			}
			if end.Before(start) {
				return fmt.Errorf("--to %s is before --from %s", to, from)
			}

			for d := domain.DateOf(start); !d.Time().After(end); d = domain.NextDay(d) {
				path, err := a.client.Fetch(cmd.Context(), d.Time())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			a.log.WithField("downloads", a.client.Downloads()).Info("fetch complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last day, inclusive (default: --from)")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func newNeighborsCmd(a *app) *cobra.Command {
	var (
		lat, lon, radius float64
		maxPoints        int
		seed             int64
		asJSON           bool
	)
	cmd := &cobra.Command{
		Use:   "neighbors",
		Short: "List the lattice points used around a location",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, _, err := domain.GeoToGrid(lon, lat); err != nil {
				return err
			}
			if radius <= 0 {
				radius = a.cfg.Interpolation.RadiusKm
			}
			if maxPoints <= 0 {
				maxPoints = a.cfg.Interpolation.MaxPoints
			}
			var perm domain.Permuter
			if seed != 0 {
				perm = rand.New(rand.NewSource(seed))
			}
			lats, lons := domain.NeighborsWithin(lat, lon, radius, maxPoints, perm)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"count": len(lats), "lats": lats, "lons": lons})
			}
			fmt.Fprintf(out, "# %d lattice points within %.1f km of (%.4f, %.4f)\n", len(lats), radius, lat, lon)
			for i := range lats {
				fmt.Fprintf(out, "%.1f\t%.1f\n", lats[i], lons[i])
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.Float64Var(&lat, "lat", 0, "latitude in degrees")
	fl.Float64Var(&lon, "lon", 0, "longitude in degrees")
	fl.Float64Var(&radius, "radius-km", 0, "radius in km (default from config)")
	fl.IntVar(&maxPoints, "max-points", 0, "maximum number of points (default from config)")
	fl.Int64Var(&seed, "seed", 0, "seed for thinning")
	fl.BoolVar(&asJSON, "json", false, "print JSON")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	return cmd
}

// trackFlags select and pre-filter the input track.
type trackFlags struct {
	path        string
	maxAbsLat   float64
	headerLines int
	subsample   int
	passGap     time.Duration
	out         string
	save        bool
}

func (f *trackFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.path, "track", "", "track file (.asc or .nc)")
	fl.Float64Var(&f.maxAbsLat, "max-lat", 0, "drop records with |lat| above this (0 keeps all)")
	fl.IntVar(&f.headerLines, "header-lines", track.DefaultHeaderLines, "header lines in .asc files")
	fl.IntVar(&f.subsample, "subsample", 0, "randomly keep at most this many records (0 keeps all)")
	fl.DurationVar(&f.passGap, "pass-gap", time.Minute, "gap that separates satellite passes")
	fl.StringVarP(&f.out, "out", "o", "-", "output CSV file (- for stdout)")
	fl.BoolVar(&f.save, "save", false, "store the run in the results database")
	_ = cmd.MarkFlagRequired("track")
}

// load reads, deduplicates and optionally thins the track.
func (f *trackFlags) load(log logrus.FieldLogger, seed int64) (domain.Track, error) {
	tr, err := track.Load(f.path, track.Options{MaxAbsLat: f.maxAbsLat, HeaderLines: f.headerLines})
	if err != nil {
		return domain.Track{}, err
	}
	n := tr.Len()
	tr = tr.Dedupe()
	if f.subsample > 0 {
		var perm domain.Permuter
		if seed != 0 {
			perm = rand.New(rand.NewSource(seed))
		}
		tr, _ = tr.Subsample(f.subsample, perm)
	}
	log.WithFields(logrus.Fields{
		"file":    f.path,
		"records": n,
		"kept":    tr.Len(),
		"passes":  len(tr.SplitPasses(f.passGap)),
	}).Info("track loaded")
	return tr, nil
}

func (f *trackFlags) writeRows(cmd *cobra.Command, rows []track.Row) error {
	var w io.Writer = cmd.OutOrStdout()
	if f.out != "" && f.out != "-" {
		file, err := os.Create(f.out)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() { _ = file.Close() }()
		w = file
	}
	return track.WriteCSV(w, rows)
}

// saveRun stores res when --save is set.
func (a *app) saveRun(f *trackFlags, res *usecase.BatchResult, kind string) error {
	if !f.save {
		return nil
	}
	store, err := results.Open(a.cfg.ResultsStoreConfig())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	run, err := res.Record(kind)
	if err != nil {
		return err
	}
	if err := store.Save(run); err != nil {
		return err
	}
	a.log.WithFields(logrus.Fields{"run_id": run.ID, "dir": a.cfg.Results.Dir}).Info("run stored")
	return nil
}

func newInterpolateCmd(a *app) *cobra.Command {
	var (
		tf trackFlags
		ef estimationFlags
	)
	cmd := &cobra.Command{
		Use:   "interpolate",
		Short: "Interpolate TEC along an altimetry track and write CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tr, err := tf.load(a.log, ef.seed)
			if err != nil {
				return err
			}
			it, err := a.interpolator(cmd, &ef)
			if err != nil {
				return err
			}

			res, err := it.InterpolateBatch(cmd.Context(), tr.Points())
			if err != nil {
				return err
			}
			kept, err := tr.DeleteIndices(res.FailedIndices)
			if err != nil {
				return err
			}
			rows, err := track.Rows(kept, res.Values, res.Variances, nil)
			if err != nil {
				return err
			}
			if err := tf.writeRows(cmd, rows); err != nil {
				return err
			}
			return a.saveRun(&tf, res, usecase.KindInterpolate)
		},
	}
	tf.register(cmd)
	ef.register(cmd)
	return cmd
}

func newCorrectCmd(a *app) *cobra.Command {
	var (
		tf        trackFlags
		ef        estimationFlags
		scale     float64
		frequency float64
		reference string
	)
	cmd := &cobra.Command{
		Use:   "correct",
		Short: "Apply the ionospheric correction to a track's sea level anomalies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tr, err := tf.load(a.log, ef.seed)
			if err != nil {
				return err
			}
			if reference != "" {
				ref, err := track.Load(reference, track.Options{HeaderLines: tf.headerLines})
				if err != nil {
					return fmt.Errorf("failed to load reference track: %w", err)
				}
				tr = tr.MatchTo(ref)
				a.log.WithField("kept", tr.Len()).Info("matched to reference track")
			}
			it, err := a.interpolator(cmd, &ef)
			if err != nil {
				return err
			}

			out, res, err := it.CorrectTrack(cmd.Context(), tr, domain.Correction{Scale: scale, FrequencyHz: frequency})
			if err != nil {
				return err
			}
			rows, err := track.Rows(out.Track, out.TEC, out.Variance, out.Corrected)
			if err != nil {
				return err
			}
			if err := tf.writeRows(cmd, rows); err != nil {
				return err
			}
			return a.saveRun(&tf, res, usecase.KindCorrect)
		},
	}
	tf.register(cmd)
	ef.register(cmd)
	cmd.Flags().Float64Var(&scale, "scale", 1, "calibration factor applied to the delay (alpha * beta)")
	cmd.Flags().Float64Var(&frequency, "frequency", domain.DefaultAltimeterFrequencyHz, "altimeter frequency in Hz")
	cmd.Flags().StringVar(&reference, "match", "", "keep only records whose time exists in this reference track")
	return cmd
}

func newRunsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs [id]",
		Short: "List stored runs, or print one as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := results.Open(a.cfg.ResultsStoreConfig())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				run, err := store.Get(args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(run)
			}

			list, err := store.List()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCREATED\tKIND\tTOTAL\tFAILED")
			for _, s := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", s.ID, s.CreatedAt.Format(time.RFC3339), s.Kind, s.Total, s.Failed)
			}
			return w.Flush()
		},
	}
	return cmd
}
