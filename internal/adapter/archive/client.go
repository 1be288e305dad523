// Package archive downloads and reads global ionosphere maps (GIMs) from a
// daily-file archive, keeping a local cache of decompressed files.
package archive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"go.ngs.io/tec-interp/internal/domain"
)

// DefaultBaseURL is the public research GIM archive.
const DefaultBaseURL = "https://sideshow.jpl.nasa.gov/pub/iono_daily/gim_for_research"

var errNotFound = errors.New("archive file not found")

// Config controls where maps come from and how downloads are retried.
type Config struct {
	BaseURL      string
	CacheDir     string
	Resolution   Resolution
	ArchiveIndex string // Single-character file version, usually "0".

	MaxAttempts    int // Total download attempts per file.
	RequestTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns the 15-minute product with a cache in the system
// temp directory.
func DefaultConfig() Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		CacheDir:       filepath.Join(os.TempDir(), "tec-interp-cache"),
		Resolution:     Res15Min,
		ArchiveIndex:   "0",
		MaxAttempts:    5,
		RequestTimeout: 2 * time.Minute,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = def.BaseURL
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.ArchiveIndex == "" {
		c.ArchiveIndex = def.ArchiveIndex
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for downloads.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger for download progress and retries.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) { c.log = log }
}

// WithBreakerSettings replaces the circuit breaker guarding the archive host.
func WithBreakerSettings(st gobreaker.Settings) Option {
	return func(c *Client) { c.breaker = gobreaker.NewCircuitBreaker(st) }
}

type epochKey struct {
	file string
	slot int
}

// Client fetches archive files into its cache directory and serves decoded
// map epochs. Each Client owns its cache state; it is safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        logrus.FieldLogger
	breaker    *gobreaker.CircuitBreaker

	group     singleflight.Group
	downloads atomic.Int64

	mu     sync.RWMutex
	epochs map[epochKey]*domain.MapEpoch
}

// NewClient creates an archive client. A file:// base URL reads from a local
// mirror with the same directory layout as the remote archive.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	cfg.applyDefaults()
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid archive URL %q: %w", cfg.BaseURL, err)
	}

	c := &Client{
		cfg:    cfg,
		log:    logrus.StandardLogger(),
		epochs: make(map[epochKey]*domain.MapEpoch),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if u.Scheme == "file" {
			transport.RegisterProtocol("file", http.NewFileTransport(http.Dir("/")))
		}
		c.httpClient = &http.Client{Transport: transport, Timeout: cfg.RequestTimeout}
	}
	if c.breaker == nil {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "gim-archive",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 10
			},
		})
	}
	return c, nil
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Resolution returns the product resolution the client reads.
func (c *Client) Resolution() Resolution {
	return c.cfg.Resolution
}

// fileName returns the compressed archive file name for a day:
// <type><DOY:03><index>.<YY>i.nc.gz.
func (c *Client) fileName(d domain.Date) string {
	return fmt.Sprintf("%s%03d%s.%02di.nc.gz",
		c.cfg.Resolution.Type(), domain.DayOfYear(d), c.cfg.ArchiveIndex, d.Year%100)
}

func (c *Client) urlFor(d domain.Date) string {
	return fmt.Sprintf("%s/%s/%04d/%s", c.cfg.BaseURL, c.cfg.Resolution.Type(), d.Year, c.fileName(d))
}

func (c *Client) localPath(d domain.Date) string {
	return filepath.Join(c.cfg.CacheDir, strings.TrimSuffix(c.fileName(d), ".gz"))
}

// FileName returns the archive file name holding the maps of t's day.
func (c *Client) FileName(t time.Time) string {
	return c.fileName(domain.DateOf(t))
}

// URLFor returns the download URL of the file holding the maps of t's day.
func (c *Client) URLFor(t time.Time) string {
	return c.urlFor(domain.DateOf(t))
}

// Fetch makes sure the file for t's day is in the cache and returns its
// local path. Repeated calls do not download again.
func (c *Client) Fetch(ctx context.Context, t time.Time) (string, error) {
	return c.fetchDate(ctx, domain.DateOf(t))
}

func (c *Client) fetchDate(ctx context.Context, d domain.Date) (string, error) {
	local := c.localPath(d)
	if fileReady(local) {
		touch(local)
		return local, nil
	}

	v, err, _ := c.group.Do(local, func() (interface{}, error) {
		if fileReady(local) {
			return local, nil
		}
		if err := c.download(ctx, c.urlFor(d), local); err != nil {
			return nil, err
		}
		return local, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// download retries downloadOnce with exponential backoff, each attempt going
// through the circuit breaker.
func (c *Client) download(ctx context.Context, src, local string) error {
	if err := os.MkdirAll(c.cfg.CacheDir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	log := c.log.WithFields(logrus.Fields{"url": src, "file": filepath.Base(local)})
	attempts := 0
	op := func() error {
		attempts++
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.downloadOnce(ctx, src, local)
		})
		if errors.Is(err, errNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.InitialBackoff
	eb.MaxInterval = c.cfg.MaxBackoff
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.cfg.MaxAttempts-1)), ctx)

	start := time.Now()
	err := backoff.RetryNotify(op, policy, func(err error, d time.Duration) {
		log.WithError(err).Warnf("download attempt %d/%d failed, retrying in %v", attempts, c.cfg.MaxAttempts, d)
	})
	if err != nil {
		return fmt.Errorf("%w: %s after %d attempt(s): %w", domain.ErrDownload, src, attempts, err)
	}

	c.downloads.Add(1)
	log.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Info("downloaded archive file")
	return nil
}

func (c *Client) downloadOnce(ctx context.Context, src, local string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	// Files are already gzipped; keep the transport from decoding them.
	req.Header.Set("Accept-Encoding", "identity")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", errNotFound, src)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, src)
	}

	if _, err := gunzipTo(resp.Body, local); err != nil {
		return err
	}
	if !fileReady(local) {
		return fmt.Errorf("file %s missing after download", local)
	}
	return nil
}

// Downloads returns the number of files fetched over the network.
func (c *Client) Downloads() int64 {
	return c.downloads.Load()
}

// touch marks a cached file as recently used for PurgeOlderThan.
func touch(path string) {
	now := time.Now()
	_ = os.Chtimes(path, now, now)
}

func fileReady(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular() && fi.Size() > 0
}
