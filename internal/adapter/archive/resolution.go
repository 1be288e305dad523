package archive

import (
	"fmt"
	"strings"
	"time"
)

// Resolution is the time resolution of a map archive product.
type Resolution int

const (
	// Res15Min selects the 15-minute product (96 maps per daily file).
	Res15Min Resolution = iota
	// Res2Hour selects the 2-hour product (12 maps per daily file).
	Res2Hour
	// ResDaily selects the daily product (one map per file).
	ResDaily
)

// Type returns the product type used in archive paths and file names.
func (r Resolution) Type() string {
	switch r {
	case Res2Hour:
		return "jpld"
	case ResDaily:
		return "jplg"
	default:
		return "jpli"
	}
}

// Step returns the spacing between consecutive maps.
func (r Resolution) Step() time.Duration {
	switch r {
	case Res2Hour:
		return 2 * time.Hour
	case ResDaily:
		return 24 * time.Hour
	default:
		return 15 * time.Minute
	}
}

// SlotsPerDay returns the number of maps in one daily file.
func (r Resolution) SlotsPerDay() int {
	return int(24 * time.Hour / r.Step())
}

func (r Resolution) String() string {
	switch r {
	case Res2Hour:
		return "2h"
	case ResDaily:
		return "daily"
	default:
		return "15m"
	}
}

// ParseResolution accepts the short names ("15m", "2h", "daily"), the product
// types ("jpli", "jpld", "jplg") and the legacy numeric codes ("0", "1").
func ParseResolution(s string) (Resolution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "15m", "15min", "jpli", "0":
		return Res15Min, nil
	case "2h", "2hour", "jpld", "1":
		return Res2Hour, nil
	case "daily", "1d", "24h", "jplg", "2":
		return ResDaily, nil
	default:
		return 0, fmt.Errorf("unknown resolution %q (use 15m, 2h or daily)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Resolution) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so a Resolution can be
// decoded straight from configuration files.
func (r *Resolution) UnmarshalText(text []byte) error {
	parsed, err := ParseResolution(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
