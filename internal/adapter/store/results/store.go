// Package results persists batch interpolation runs in BadgerDB. Records are
// JSON encoded and zstd compressed.
package results

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"
)

const keyPrefix = "run/"

// ErrNotFound is returned by Get for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// Run is the stored record of one batch.
type Run struct {
	ID            string          `json:"id"`
	CreatedAt     time.Time       `json:"created_at"`
	Kind          string          `json:"kind"`
	Params        json.RawMessage `json:"params,omitempty"`
	Total         int             `json:"total"`
	Values        []float64       `json:"values"`
	Variances     []float64       `json:"variances"`
	FailedIndices []int           `json:"failed_indices"`
	ElapsedMs     int64           `json:"elapsed_ms"`
}

// Summary is the listing view of a run.
type Summary struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Kind      string    `json:"kind"`
	Total     int       `json:"total"`
	Failed    int       `json:"failed"`
}

// Config selects where the store lives.
type Config struct {
	// Dir is the BadgerDB directory. Empty opens an in-memory store.
	Dir string
	// TTL expires runs after the given duration. Zero keeps them.
	TTL time.Duration
}

// Store is a BadgerDB-backed run store, safe for concurrent use.
type Store struct {
	db  *badger.DB
	ttl time.Duration
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Open opens or creates the store.
func Open(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.Dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		_ = db.Close()
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	return &Store{db: db, ttl: cfg.TTL, enc: enc, dec: dec}, nil
}

// Save stores run under its ID, replacing any previous record.
func (s *Store) Save(run Run) error {
	if run.ID == "" {
		return errors.New("run ID is required")
	}
	raw, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	blob := s.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2))

	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(keyPrefix+run.ID), blob)
		if s.ttl > 0 {
			e = e.WithTTL(s.ttl)
		}
		return txn.SetEntry(e)
	})
}

// Get returns the run with the given ID.
func (s *Store) Get(id string) (Run, error) {
	var run Run
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return s.decode(val, &run)
		})
	})
	return run, err
}

// List returns summaries of all stored runs, newest first.
func (s *Store) List() ([]Summary, error) {
	var out []Summary
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var run Run
			if err := item.Value(func(val []byte) error { return s.decode(val, &run) }); err != nil {
				return fmt.Errorf("run %s: %w", strings.TrimPrefix(string(item.Key()), keyPrefix), err)
			}
			out = append(out, Summary{
				ID:        run.ID,
				CreatedAt: run.CreatedAt,
				Kind:      run.Kind,
				Total:     run.Total,
				Failed:    len(run.FailedIndices),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Delete removes a run. Deleting an unknown ID is not an error.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + id))
	})
}

func (s *Store) decode(val []byte, run *Run) error {
	raw, err := s.dec.DecodeAll(val, nil)
	if err != nil {
		return fmt.Errorf("decompression failed: %w", err)
	}
	if err := json.Unmarshal(raw, run); err != nil {
		return fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return nil
}

// Close releases the database and codec resources.
func (s *Store) Close() error {
	s.dec.Close()
	_ = s.enc.Close()
	return s.db.Close()
}
