package main

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go.ngs.io/tec-interp/internal/adapter/archive"
	"go.ngs.io/tec-interp/internal/adapter/krige"
	"go.ngs.io/tec-interp/internal/config"
	"go.ngs.io/tec-interp/internal/usecase"
)

const version = "0.1.0"

// app is the state shared by all subcommands once configuration is loaded.
type app struct {
	configFile string
	envFiles   []string
	logLevel   string

	// Overrides applied on top of the loaded configuration.
	archiveURL string
	cacheDir   string
	resolution string
	resultsDir string

	cfg    *config.Config
	log    *logrus.Logger
	client *archive.Client
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "tecinterp",
		Short: "Interpolate ionospheric TEC maps at arbitrary points and times.",
		Long: `tecinterp downloads global ionosphere maps, estimates total electron
content at query points by spatial kriging and linear blending in time,
and applies the ionospheric correction to altimetry tracks.`,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return a.startup(cmd) },
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "TOML configuration file")
	flags.StringSliceVar(&a.envFiles, "env-file", nil, "dotenv files to load (default .env if present)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	flags.StringVar(&a.archiveURL, "archive-url", "", "map archive base URL (http(s):// or file://)")
	flags.StringVar(&a.cacheDir, "cache-dir", "", "local cache directory for archive files")
	flags.StringVar(&a.resolution, "resolution", "", "map product resolution: 15m, 2h or daily")
	flags.StringVar(&a.resultsDir, "results-dir", "", "directory of the run store (default tec-interp-results next to the cache)")

	root.AddCommand(
		newVersionCmd(),
		newURLCmd(a),
		newFetchCmd(a),
		newNeighborsCmd(a),
		newInterpolateCmd(a),
		newCorrectCmd(a),
		newRunsCmd(a),
	)
	return root
}

// startup loads configuration, applies command-line overrides and builds
// the archive client.
func (a *app) startup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configFile, a.envFiles...)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.archiveURL != "" {
		cfg.Archive.BaseURL = a.archiveURL
	}
	if a.cacheDir != "" {
		cfg.Archive.CacheDir = a.cacheDir
	}
	if a.resolution != "" {
		if cfg.Archive.Resolution, err = archive.ParseResolution(a.resolution); err != nil {
			return err
		}
	}
	// Each CLI invocation is a separate process, so runs must go to disk to
	// be listed later.
	if a.resultsDir != "" {
		cfg.Results.Dir = a.resultsDir
	}
	if cfg.Results.Dir == "" {
		cfg.Results.Dir = filepath.Join(filepath.Dir(filepath.Clean(cfg.Archive.CacheDir)), "tec-interp-results")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.log = cfg.NewLogger()
	a.log.SetOutput(cmd.ErrOrStderr())
	a.client, err = archive.NewClient(cfg.ArchiveClientConfig(), archive.WithLogger(a.log))
	return err
}

// estimationFlags are the interpolation settings a command may override.
type estimationFlags struct {
	method     string
	variogram  string
	nlags      int
	radiusKm   float64
	maxPoints  int
	workers    int
	seed       int64
	purgeCache bool
}

func (f *estimationFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.method, "method", "", "estimator: ordinary or bilinear")
	fl.StringVar(&f.variogram, "variogram", "", "variogram model: exponential, spherical, gaussian or linear")
	fl.IntVar(&f.nlags, "nlags", 0, "variogram lag bins")
	fl.Float64Var(&f.radiusKm, "radius-km", 0, "neighborhood radius in km")
	fl.IntVar(&f.maxPoints, "max-points", 0, "maximum neighborhood size")
	fl.IntVar(&f.workers, "workers", 0, "concurrent interpolation workers")
	fl.Int64Var(&f.seed, "seed", 0, "seed for neighborhood thinning (0 picks one per run)")
	fl.BoolVar(&f.purgeCache, "purge-cache", false, "remove the archive cache when done")
}

// interpolator builds the pipeline from configuration and flag overrides.
func (a *app) interpolator(cmd *cobra.Command, f *estimationFlags) (*usecase.Interpolator, error) {
	kc := a.cfg.KrigeConfig()
	if f.method != "" {
		kc.Method = f.method
	}
	if f.variogram != "" {
		m, err := krige.ParseModel(f.variogram)
		if err != nil {
			return nil, err
		}
		kc.Model = m
	}
	if f.nlags > 0 {
		kc.NLags = f.nlags
	}
	est, err := krige.New(kc)
	if err != nil {
		return nil, err
	}

	p := a.cfg.Params()
	if f.radiusKm > 0 {
		p.RadiusKm = f.radiusKm
	}
	if f.maxPoints > 0 {
		p.MaxPoints = f.maxPoints
	}
	if f.workers > 0 {
		p.Workers = f.workers
	}
	if f.seed != 0 {
		p.Seed = f.seed
	}
	if cmd.Flags().Changed("purge-cache") {
		p.PurgeCache = f.purgeCache
	}
	return usecase.NewInterpolator(a.client, est, p, a.log)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of tecinterp",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tecinterp v%s\n", version)
		},
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	}
}
