package archive

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"go.ngs.io/tec-interp/internal/domain"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// mirror lays out gzipped archive files under a root directory the way the
// remote archive does.
type mirror struct {
	root   string
	naming *Client
}

func newMirror(t *testing.T, res Resolution) *mirror {
	t.Helper()
	naming, err := NewClient(Config{BaseURL: "http://unused", Resolution: res, CacheDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return &mirror{root: t.TempDir(), naming: naming}
}

// addDay writes a file for d whose every sample equals base + slot.
func (m *mirror) addDay(t *testing.T, d domain.Date, base float32) {
	t.Helper()
	res := m.naming.Resolution()
	maps := make([][][]float32, res.SlotsPerDay())
	for s := range maps {
		maps[s] = [][]float32{
			{base + float32(s), base + float32(s), base + float32(s), base + float32(s)},
			{base + float32(s), base + float32(s), base + float32(s), base + float32(s)},
		}
	}
	raw := filepath.Join(t.TempDir(), "raw.nc")
	if err := WriteMapFile(raw, maps, testFill); err != nil {
		t.Fatalf("WriteMapFile: %v", err)
	}
	dst := filepath.Join(m.root, res.Type(), d.Time().Format("2006"), m.naming.fileName(d))
	if err := CompressFile(raw, dst); err != nil {
		t.Fatalf("CompressFile: %v", err)
	}
}

// serve exposes the mirror over HTTP and counts requests.
func (m *mirror) serve(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	fs := http.FileServer(http.Dir(m.root))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fs.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestClient(t *testing.T, baseURL string, res Resolution) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:        baseURL,
		CacheDir:       filepath.Join(t.TempDir(), "cache"),
		Resolution:     res,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestFileNameAndURL(t *testing.T) {
	tests := []struct {
		name     string
		res      Resolution
		when     time.Time
		wantFile string
		wantURL  string
	}{
		{
			name:     "15 minute product",
			res:      Res15Min,
			when:     time.Date(2017, 3, 16, 10, 37, 0, 0, time.UTC),
			wantFile: "jpli0750.17i.nc.gz",
			wantURL:  "https://example.org/gim/jpli/2017/jpli0750.17i.nc.gz",
		},
		{
			name:     "2 hour product",
			res:      Res2Hour,
			when:     time.Date(2009, 1, 5, 0, 0, 0, 0, time.UTC),
			wantFile: "jpld0050.09i.nc.gz",
			wantURL:  "https://example.org/gim/jpld/2009/jpld0050.09i.nc.gz",
		},
		{
			name:     "leap year end",
			res:      ResDaily,
			when:     time.Date(2016, 12, 31, 23, 59, 0, 0, time.UTC),
			wantFile: "jplg3660.16i.nc.gz",
			wantURL:  "https://example.org/gim/jplg/2016/jplg3660.16i.nc.gz",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(Config{BaseURL: "https://example.org/gim/", Resolution: tt.res})
			if err != nil {
				t.Fatalf("NewClient: %v", err)
			}
			if got := c.FileName(tt.when); got != tt.wantFile {
				t.Errorf("FileName = %q, want %q", got, tt.wantFile)
			}
			if got := c.URLFor(tt.when); got != tt.wantURL {
				t.Errorf("URLFor = %q, want %q", got, tt.wantURL)
			}
		})
	}
}

func TestSlotsFor(t *testing.T) {
	day := domain.Date{Year: 2017, Month: 3, Day: 16}
	next := domain.Date{Year: 2017, Month: 3, Day: 17}
	at := func(h, m int) time.Time { return time.Date(2017, 3, 16, h, m, 0, 0, time.UTC) }

	type ref struct {
		date domain.Date
		slot int
	}
	tests := []struct {
		name string
		res  Resolution
		when time.Time
		want []ref
	}{
		{"15m exact", Res15Min, at(10, 30), []ref{{day, 42}}},
		{"15m between", Res15Min, at(10, 37), []ref{{day, 42}, {day, 43}}},
		{"15m midnight", Res15Min, at(0, 0), []ref{{day, 0}}},
		{"15m last slot", Res15Min, at(23, 50), []ref{{day, 95}, {next, 0}}},
		{"2h exact", Res2Hour, at(10, 0), []ref{{day, 5}}},
		{"2h odd hour", Res2Hour, at(11, 0), []ref{{day, 5}, {day, 6}}},
		{"2h last exact", Res2Hour, at(22, 0), []ref{{day, 11}}},
		{"2h last slot", Res2Hour, at(23, 0), []ref{{day, 11}, {next, 0}}},
		{"daily", ResDaily, at(12, 0), []ref{{day, 0}, {next, 0}}},
		{
			"year rollover", Res15Min,
			time.Date(2016, 12, 31, 23, 50, 0, 0, time.UTC),
			[]ref{{domain.Date{Year: 2016, Month: 12, Day: 31}, 95}, {domain.Date{Year: 2017, Month: 1, Day: 1}, 0}},
		},
		{
			"sub-minute offset", Res15Min,
			time.Date(2017, 3, 16, 10, 30, 1, 0, time.UTC),
			[]ref{{day, 42}, {day, 43}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SlotsFor(tt.res, tt.when)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d slots, want %d", len(got), len(tt.want))
			}
			for i, w := range tt.want {
				if got[i].Date != w.date || got[i].Slot != w.slot {
					t.Errorf("slot %d = %s/%d, want %s/%d", i, got[i].Date, got[i].Slot, w.date, w.slot)
				}
			}
			if len(got) == 2 && got[1].Time.Sub(got[0].Time) != tt.res.Step() {
				t.Errorf("bracketing maps are %v apart, want %v", got[1].Time.Sub(got[0].Time), tt.res.Step())
			}
		})
	}
}

func TestFetch_Idempotent(t *testing.T) {
	m := newMirror(t, Res15Min)
	day := domain.Date{Year: 2017, Month: 3, Day: 16}
	m.addDay(t, day, 10)
	srv, hits := m.serve(t)
	c := newTestClient(t, srv.URL, Res15Min)

	when := time.Date(2017, 3, 16, 10, 37, 0, 0, time.UTC)
	first, err := c.Fetch(context.Background(), when)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	second, err := c.Fetch(context.Background(), when)
	if err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if first != second {
		t.Errorf("paths differ: %q vs %q", first, second)
	}
	if hits.Load() != 1 || c.Downloads() != 1 {
		t.Errorf("hits=%d downloads=%d, want 1 each", hits.Load(), c.Downloads())
	}
	if fi, err := os.Stat(first); err != nil || fi.Size() == 0 {
		t.Errorf("cached file missing or empty: %v", err)
	}
}

func TestFetch_ConcurrentCallersShareDownload(t *testing.T) {
	m := newMirror(t, Res15Min)
	m.addDay(t, domain.Date{Year: 2017, Month: 3, Day: 16}, 10)
	srv, hits := m.serve(t)
	c := newTestClient(t, srv.URL, Res15Min)

	when := time.Date(2017, 3, 16, 1, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Fetch(context.Background(), when)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("server saw %d requests, want 1", hits.Load())
	}
}

func TestFetch_RetriesThenFails(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL, Res15Min)

	_, err := c.Fetch(context.Background(), time.Date(2017, 3, 16, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, domain.ErrDownload) {
		t.Fatalf("error = %v, want ErrDownload", err)
	}
	if hits.Load() != 3 {
		t.Errorf("server saw %d attempts, want 3", hits.Load())
	}
	if c.Downloads() != 0 {
		t.Errorf("Downloads = %d, want 0", c.Downloads())
	}
}

func TestFetch_NotFoundIsNotRetried(t *testing.T) {
	m := newMirror(t, Res15Min)
	srv, hits := m.serve(t)
	c := newTestClient(t, srv.URL, Res15Min)

	_, err := c.Fetch(context.Background(), time.Date(2017, 3, 16, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, domain.ErrDownload) {
		t.Fatalf("error = %v, want ErrDownload", err)
	}
	if hits.Load() != 1 {
		t.Errorf("server saw %d requests, want 1", hits.Load())
	}
}

func TestFetch_RecoversAfterTransientFailure(t *testing.T) {
	m := newMirror(t, Res15Min)
	m.addDay(t, domain.Date{Year: 2017, Month: 3, Day: 16}, 10)
	fs := http.FileServer(http.Dir(m.root))
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fs.ServeHTTP(w, r)
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL, Res15Min)

	if _, err := c.Fetch(context.Background(), time.Date(2017, 3, 16, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("server saw %d requests, want 2", hits.Load())
	}
}

func TestFetch_FileMirror(t *testing.T) {
	m := newMirror(t, Res2Hour)
	m.addDay(t, domain.Date{Year: 2017, Month: 3, Day: 16}, 3)
	c := newTestClient(t, "file://"+m.root, Res2Hour)

	epochs, err := c.ResolveEpochs(context.Background(), time.Date(2017, 3, 16, 4, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ResolveEpochs: %v", err)
	}
	if len(epochs) != 1 || epochs[0].Values[0][0] != 5 {
		t.Fatalf("unexpected epochs %+v", epochs)
	}
}

func TestResolveEpochs_DayBoundary(t *testing.T) {
	m := newMirror(t, Res15Min)
	m.addDay(t, domain.Date{Year: 2016, Month: 12, Day: 31}, 0)
	m.addDay(t, domain.Date{Year: 2017, Month: 1, Day: 1}, 1000)
	srv, hits := m.serve(t)
	c := newTestClient(t, srv.URL, Res15Min)

	epochs, err := c.ResolveEpochs(context.Background(), time.Date(2016, 12, 31, 23, 50, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ResolveEpochs: %v", err)
	}
	if len(epochs) != 2 {
		t.Fatalf("got %d epochs, want 2", len(epochs))
	}
	if v := epochs[0].Values[1][2]; v != 95 {
		t.Errorf("first epoch sample = %v, want 95", v)
	}
	if v := epochs[1].Values[1][2]; v != 1000 {
		t.Errorf("second epoch sample = %v, want 1000 (next day's slot 0)", v)
	}
	if want := time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC); !epochs[1].Time.Equal(want) {
		t.Errorf("second epoch time = %v, want %v", epochs[1].Time, want)
	}
	if hits.Load() != 2 {
		t.Errorf("server saw %d requests, want 2", hits.Load())
	}

	// Decoded maps are served from memory on the next call.
	again, err := c.ResolveEpochs(context.Background(), time.Date(2016, 12, 31, 23, 55, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("second ResolveEpochs: %v", err)
	}
	if again[0] != epochs[0] || again[1] != epochs[1] {
		t.Error("expected cached epochs to be reused")
	}
}

func TestResolveEpochs_ExactTime(t *testing.T) {
	m := newMirror(t, Res15Min)
	m.addDay(t, domain.Date{Year: 2017, Month: 3, Day: 16}, 0)
	srv, _ := m.serve(t)
	c := newTestClient(t, srv.URL, Res15Min)

	epochs, err := c.ResolveEpochs(context.Background(), time.Date(2017, 3, 16, 6, 45, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ResolveEpochs: %v", err)
	}
	if len(epochs) != 1 || epochs[0].Slot != 27 || epochs[0].Values[0][0] != 27 {
		t.Fatalf("unexpected epochs %+v", epochs)
	}
}

func TestPrefetchAll(t *testing.T) {
	m := newMirror(t, Res15Min)
	m.addDay(t, domain.Date{Year: 2016, Month: 12, Day: 31}, 0)
	m.addDay(t, domain.Date{Year: 2017, Month: 1, Day: 1}, 0)
	srv, hits := m.serve(t)
	c := newTestClient(t, srv.URL, Res15Min)

	times := []time.Time{
		time.Date(2016, 12, 31, 10, 0, 0, 0, time.UTC),
		time.Date(2016, 12, 31, 12, 7, 0, 0, time.UTC),
		time.Date(2016, 12, 31, 23, 50, 0, 0, time.UTC),
	}
	if got := len(c.RequiredDates(times)); got != 2 {
		t.Fatalf("RequiredDates = %d days, want 2", got)
	}
	if err := c.PrefetchAll(context.Background(), times); err != nil {
		t.Fatalf("PrefetchAll: %v", err)
	}
	if hits.Load() != 2 || c.Downloads() != 2 {
		t.Errorf("hits=%d downloads=%d, want 2 each", hits.Load(), c.Downloads())
	}
}

func TestPurge(t *testing.T) {
	m := newMirror(t, Res15Min)
	m.addDay(t, domain.Date{Year: 2017, Month: 3, Day: 16}, 0)
	srv, hits := m.serve(t)
	c := newTestClient(t, srv.URL, Res15Min)
	when := time.Date(2017, 3, 16, 8, 0, 0, 0, time.UTC)

	path, err := c.Fetch(context.Background(), when)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if _, err := c.ResolveEpochs(context.Background(), when); err != nil {
		t.Fatalf("ResolveEpochs: %v", err)
	}

	// Fresh files survive an age-based purge.
	if n, err := c.PurgeOlderThan(time.Hour); err != nil || n != 0 {
		t.Fatalf("PurgeOlderThan(fresh) = %d, %v", n, err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	if n, err := c.PurgeOlderThan(time.Hour); err != nil || n != 1 {
		t.Fatalf("PurgeOlderThan(stale) = %d, %v", n, err)
	}
	if c.CachedEpochs() != 0 {
		t.Errorf("CachedEpochs = %d after purge, want 0", c.CachedEpochs())
	}

	if _, err := c.Fetch(context.Background(), when); err != nil {
		t.Fatalf("Fetch after purge: %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("server saw %d requests, want 2", hits.Load())
	}

	if err := c.Purge(); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if _, err := os.Stat(c.Config().CacheDir); !os.IsNotExist(err) {
		t.Errorf("cache directory still present: %v", err)
	}
}

func TestParseResolution(t *testing.T) {
	tests := []struct {
		in   string
		want Resolution
	}{
		{"15m", Res15Min},
		{"JPLI", Res15Min},
		{"0", Res15Min},
		{"2h", Res2Hour},
		{"1", Res2Hour},
		{"daily", ResDaily},
	}
	for _, tt := range tests {
		got, err := ParseResolution(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseResolution(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseResolution("hourly"); err == nil {
		t.Error("expected an error for an unknown resolution")
	}
	if Res15Min.SlotsPerDay() != 96 || Res2Hour.SlotsPerDay() != 12 || ResDaily.SlotsPerDay() != 1 {
		t.Error("unexpected slots per day")
	}
}

func TestLoadEpoch_RefetchesPurgedFile(t *testing.T) {
	m := newMirror(t, Res15Min)
	m.addDay(t, domain.Date{Year: 2017, Month: 3, Day: 16}, 10)
	srv, hits := m.serve(t)
	c := newTestClient(t, srv.URL, Res15Min)
	when := time.Date(2017, 3, 16, 2, 0, 0, 0, time.UTC)

	path, err := c.Fetch(context.Background(), when)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	// The janitor removes the file after the fetch returned its path.
	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	ref := c.Slots(when)[0]
	values, err := c.readSlot(context.Background(), ref, path)
	if err != nil {
		t.Fatalf("readSlot: %v", err)
	}
	if values[0][0] != 18 {
		t.Errorf("value = %v, want 18 (slot 8)", values[0][0])
	}
	if hits.Load() != 2 || c.Downloads() != 2 {
		t.Errorf("hits=%d downloads=%d, want 2 each", hits.Load(), c.Downloads())
	}
}

func TestPurgeOlderThan_KeepsRecentlyUsedFiles(t *testing.T) {
	m := newMirror(t, Res15Min)
	m.addDay(t, domain.Date{Year: 2017, Month: 3, Day: 16}, 0)
	srv, _ := m.serve(t)
	c := newTestClient(t, srv.URL, Res15Min)
	when := time.Date(2017, 3, 16, 8, 0, 0, 0, time.UTC)

	path, err := c.Fetch(context.Background(), when)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	// A cache hit counts as a use.
	if _, err := c.Fetch(context.Background(), when); err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if n, err := c.PurgeOlderThan(time.Hour); err != nil || n != 0 {
		t.Fatalf("PurgeOlderThan = %d, %v, want nothing removed", n, err)
	}
	if !fileReady(path) {
		t.Error("recently used file was removed")
	}
}
