// Package main provides the TEC interpolation HTTP server.
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"go.ngs.io/tec-interp/internal/adapter/archive"
	"go.ngs.io/tec-interp/internal/adapter/krige"
	"go.ngs.io/tec-interp/internal/adapter/store/results"
	"go.ngs.io/tec-interp/internal/config"
	httpHandler "go.ngs.io/tec-interp/internal/http"
	"go.ngs.io/tec-interp/internal/scheduler"
)

const version = "0.1.0"

func main() {
	// Parse command-line flags.
	showHelp := flag.Bool("help", false, "Show usage information")
	showVersion := flag.Bool("version", false, "Show version information")
	configFile := flag.String("config", "", "TOML configuration file")
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}

	if *showVersion {
		fmt.Printf("tec-interp server version %s\n", version)
		return
	}

	// Load configuration from file, .env and environment.
	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := cfg.NewLogger()

	log.Printf("Starting TEC interpolation server...")
	log.Printf("Port: %s", cfg.Server.Port)
	log.Printf("Archive: %s (%s)", cfg.Archive.BaseURL, cfg.Archive.Resolution)
	log.Printf("Cache directory: %s", cfg.Archive.CacheDir)

	// Initialize archive client.
	client, err := archive.NewClient(cfg.ArchiveClientConfig(), archive.WithLogger(log))
	if err != nil {
		log.Fatalf("Failed to create archive client: %v", err)
	}

	// Validate the estimator settings up front.
	if _, err := krige.New(cfg.KrigeConfig()); err != nil {
		log.Fatalf("Invalid estimator configuration: %v", err)
	}

	// Initialize run store (in memory unless a directory is configured).
	store, err := results.Open(cfg.ResultsStoreConfig())
	if err != nil {
		log.Fatalf("Failed to open results store: %v", err)
	}
	defer func() { _ = store.Close() }()
	if cfg.Results.Dir != "" {
		log.Printf("Results directory: %s", cfg.Results.Dir)
	} else {
		log.Printf("Results store in memory (set TEC_RESULTS_DIR to persist runs)")
	}

	// Start cache janitor.
	janitor := scheduler.NewJanitor(client, cfg.Archive.CacheMaxAge, cfg.Archive.JanitorInterval, log)
	if err := janitor.Start(); err != nil {
		log.Fatalf("Failed to start cache janitor: %v", err)
	}
	defer janitor.Stop()

	// Setup router.
	handler := httpHandler.NewHandler(client, store, cfg.KrigeConfig(), cfg.Params(), log)
	router := httpHandler.SetupRouter(handler, cfg.Server.CORSAllowedOrigins)

	// Start server.
	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	log.Printf("Server listening on %s", addr)
	log.Printf("Health check: http://localhost:%s/health", cfg.Server.Port)
	log.Printf("API endpoints:")
	log.Printf("  - GET  /v1/tec/archive")
	log.Printf("  - GET  /v1/tec/neighborhood")
	log.Printf("  - POST /v1/tec/interpolate")
	log.Printf("  - GET  /v1/tec/runs[/:id]")

	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// printUsage prints usage information.
func printUsage() {
	fmt.Printf("TEC Interpolation Server v%s\n\n", version)
	fmt.Println("USAGE:")
	fmt.Println("  tec-server [flags]")
	fmt.Println()
	fmt.Println("FLAGS:")
	fmt.Println("  --help          Show this help message")
	fmt.Println("  --version       Show version information")
	fmt.Println("  --config FILE   TOML configuration file")
	fmt.Println()
	fmt.Println("ENVIRONMENT VARIABLES:")
	fmt.Println("  PORT                    Server port (default: 8080)")
	fmt.Println("  TEC_ARCHIVE_URL         Map archive base URL, http(s):// or file:// (default: JPL research archive)")
	fmt.Println("  TEC_CACHE_DIR           Local cache for archive files (default: $TMPDIR/tec-interp-cache)")
	fmt.Println("  TEC_RESOLUTION          Map product: 15m, 2h or daily (default: 15m)")
	fmt.Println("  TEC_METHOD              Estimator: ordinary or bilinear (default: ordinary)")
	fmt.Println("  TEC_VARIOGRAM           exponential, spherical, gaussian or linear (default: exponential)")
	fmt.Println("  TEC_NLAGS               Variogram lag bins (default: 75)")
	fmt.Println("  TEC_RADIUS_KM           Neighborhood radius in km (default: 500)")
	fmt.Println("  TEC_MAX_POINTS          Maximum neighborhood size (default: 300)")
	fmt.Println("  TEC_WORKERS             Concurrent interpolation workers (default: number of CPUs)")
	fmt.Println("  TEC_CACHE_MAX_AGE       Remove cached files older than this (default: 168h, 0 disables)")
	fmt.Println("  TEC_RESULTS_DIR         BadgerDB directory for stored runs (default: in memory)")
	fmt.Println("  TEC_LOG_LEVEL           Log level (default: info)")
	fmt.Println("  CORS_ALLOWED_ORIGINS    Comma-separated list of allowed origins (default: all origins)")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start server with default settings")
	fmt.Println("  tec-server")
	fmt.Println()
	fmt.Println("  # Serve a local mirror written by gim-generator")
	fmt.Println("  TEC_ARCHIVE_URL=file:///srv/gim TEC_RESOLUTION=2h tec-server")
	fmt.Println()
	fmt.Println("API ENDPOINTS:")
	fmt.Println("  GET  /health                  Health check")
	fmt.Println("  GET  /v1/tec/archive          Archive files and map slots for a time")
	fmt.Println("  GET  /v1/tec/neighborhood     Lattice neighborhood of a location")
	fmt.Println("  POST /v1/tec/interpolate      Interpolate TEC at a batch of points")
	fmt.Println("  GET  /v1/tec/runs/:id         Stored batch results")
	fmt.Println()
}
