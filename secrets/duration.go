package secrets

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Day is the longest unit of the lifetime grammar.
const Day = 24 * time.Hour

var (
	// ErrInvalidDuration is returned by ParseDuration for strings outside `\d+[smhd]`.
	ErrInvalidDuration = errors.New("invalid duration")

	durationPattern = regexp.MustCompile(`^(\d+)([smhd])$`)
)

var durationUnits = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': Day,
}

// ParseDuration parses a lifetime string such as "15m" or "7d".
//
// Only a decimal count followed by exactly one of s, m, h or d is accepted.
// Zero is allowed by the grammar; overflow is rejected.
func ParseDuration(s string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}

	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}

	unit := durationUnits[m[2][0]]
	if n > int64(1<<63-1)/int64(unit) {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidDuration, s)
	}

	return time.Duration(n) * unit, nil
}

// FormatDuration renders d in canonical form: the largest unit that divides it
// evenly. Sub-second remainders are truncated.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)

	switch {
	case d == 0:
		return "0s"
	case d%Day == 0:
		return strconv.FormatInt(int64(d/Day), 10) + "d"
	case d%time.Hour == 0:
		return strconv.FormatInt(int64(d/time.Hour), 10) + "h"
	case d%time.Minute == 0:
		return strconv.FormatInt(int64(d/time.Minute), 10) + "m"
	default:
		return strconv.FormatInt(int64(d/time.Second), 10) + "s"
	}
}
