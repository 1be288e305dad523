package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.ngs.io/tec-interp/internal/domain"
)

// SlotRef addresses one map: the day whose file holds it and its index in
// that file.
type SlotRef struct {
	Date domain.Date
	Slot int
	Time time.Time
}

// SlotsFor returns the maps needed to interpolate at t. A time on a slot
// boundary needs a single map; any other time needs the two bracketing maps.
// When t falls in the last slot of its day the second map is slot 0 of the
// next day's file.
func SlotsFor(res Resolution, t time.Time) []SlotRef {
	t = t.UTC()
	d := domain.DateOf(t)
	midnight := d.Time()
	step := res.Step()
	elapsed := t.Sub(midnight)

	slot := int(elapsed / step)
	first := SlotRef{Date: d, Slot: slot, Time: midnight.Add(time.Duration(slot) * step)}
	if elapsed%step == 0 {
		return []SlotRef{first}
	}

	second := SlotRef{Date: d, Slot: slot + 1, Time: first.Time.Add(step)}
	if second.Slot >= res.SlotsPerDay() {
		second.Date = domain.NextDay(d)
		second.Slot = 0
	}
	return []SlotRef{first, second}
}

// Slots returns SlotsFor at the client's resolution.
func (c *Client) Slots(t time.Time) []SlotRef {
	return SlotsFor(c.cfg.Resolution, t)
}

// LoadEpoch returns the map at ref, downloading its file if needed. Decoded
// maps are kept in memory and shared between callers; treat them as
// read-only.
func (c *Client) LoadEpoch(ctx context.Context, ref SlotRef) (*domain.MapEpoch, error) {
	local := c.localPath(ref.Date)
	key := epochKey{file: local, slot: ref.Slot}

	c.mu.RLock()
	e, ok := c.epochs[key]
	c.mu.RUnlock()
	if ok {
		return e, nil
	}

	path, err := c.fetchDate(ctx, ref.Date)
	if err != nil {
		return nil, err
	}
	values, err := c.readSlot(ctx, ref, path)
	if err != nil {
		return nil, err
	}

	e = &domain.MapEpoch{
		Time:   ref.Time,
		Slot:   ref.Slot,
		Source: filepath.Base(path),
		Values: values,
	}

	c.mu.Lock()
	if cached, ok := c.epochs[key]; ok {
		e = cached
	} else {
		c.epochs[key] = e
	}
	c.mu.Unlock()
	return e, nil
}

// readSlot reads one map from a fetched file. The janitor may remove the
// file between the fetch and the read, in which case it is fetched again once.
func (c *Client) readSlot(ctx context.Context, ref SlotRef, path string) ([][]float64, error) {
	values, err := readTECMap(path, ref.Slot)
	if err != nil && !fileReady(path) {
		c.log.WithField("file", filepath.Base(path)).Debug("cached file removed before read, fetching again")
		if path, err = c.fetchDate(ctx, ref.Date); err != nil {
			return nil, err
		}
		values, err = readTECMap(path, ref.Slot)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read slot %d of %s: %w", ref.Slot, filepath.Base(path), err)
	}
	return values, nil
}

// ResolveEpochs returns the one or two maps bracketing t.
func (c *Client) ResolveEpochs(ctx context.Context, t time.Time) ([]*domain.MapEpoch, error) {
	refs := c.Slots(t)
	epochs := make([]*domain.MapEpoch, 0, len(refs))
	for _, ref := range refs {
		e, err := c.LoadEpoch(ctx, ref)
		if err != nil {
			return nil, err
		}
		epochs = append(epochs, e)
	}
	return epochs, nil
}

// RequiredDates returns the distinct days whose files are needed for times,
// in first-seen order. Next-day files for last-slot times are included.
func (c *Client) RequiredDates(times []time.Time) []domain.Date {
	seen := make(map[domain.Date]bool)
	var dates []domain.Date
	for _, t := range times {
		for _, ref := range c.Slots(t) {
			if seen[ref.Date] {
				continue
			}
			seen[ref.Date] = true
			dates = append(dates, ref.Date)
		}
	}
	return dates
}

// PrefetchAll downloads every file needed for times, one at a time, so that
// later interpolation reads only from the cache.
func (c *Client) PrefetchAll(ctx context.Context, times []time.Time) error {
	dates := c.RequiredDates(times)
	for i, d := range dates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.fetchDate(ctx, d); err != nil {
			return err
		}
		c.log.WithField("date", d.String()).Debugf("prefetched %d/%d archive files", i+1, len(dates))
	}
	return nil
}

// Purge removes the cache directory and drops all decoded maps.
func (c *Client) Purge() error {
	c.mu.Lock()
	c.epochs = make(map[epochKey]*domain.MapEpoch)
	c.mu.Unlock()

	if err := os.RemoveAll(c.cfg.CacheDir); err != nil {
		return fmt.Errorf("failed to remove cache directory: %w", err)
	}
	return nil
}

// PurgeOlderThan removes cached files not used within age, along with their
// decoded maps, and returns how many files were removed. Every fetch of a
// cached file refreshes its modification time.
func (c *Client) PurgeOlderThan(age time.Duration) (int, error) {
	entries, err := os.ReadDir(c.cfg.CacheDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to list cache directory: %w", err)
	}

	cutoff := time.Now().Add(-age)
	removed := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(c.cfg.CacheDir, entry.Name())
		if err := os.Remove(path); err != nil {
			return len(removed), fmt.Errorf("failed to remove %s: %w", path, err)
		}
		removed[path] = true
	}

	if len(removed) > 0 {
		c.mu.Lock()
		for key := range c.epochs {
			if removed[key.file] {
				delete(c.epochs, key)
			}
		}
		c.mu.Unlock()
	}
	return len(removed), nil
}

// CachedEpochs returns the number of decoded maps held in memory.
func (c *Client) CachedEpochs() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.epochs)
}
