package secrets

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"0s":   0,
		"45s":  45 * time.Second,
		"15m":  15 * time.Minute,
		"24h":  24 * time.Hour,
		"7d":   7 * Day,
		"090m": 90 * time.Minute,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		if err != nil {
			t.Fatalf("ParseDuration(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseDuration(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseDurationRejectsOutsideGrammar(t *testing.T) {
	for _, in := range []string{"", "15", "m", "1.5h", "-1h", "1w", "1h30m", " 1h", "1H", "99999999999999999999d"} {
		if _, err := ParseDuration(in); !errors.Is(err, ErrInvalidDuration) {
			t.Fatalf("ParseDuration(%q): expected ErrInvalidDuration, got %v", in, err)
		}
	}
}

func TestFormatDurationCanonical(t *testing.T) {
	cases := map[time.Duration]string{
		0:                       "0s",
		90 * time.Second:        "90s",
		120 * time.Second:       "2m",
		90 * time.Minute:        "90m",
		48 * time.Hour:          "2d",
		25 * time.Hour:          "25h",
		7 * Day:                 "7d",
		1500 * time.Millisecond: "1s",
	}
	for in, want := range cases {
		if got := FormatDuration(in); got != want {
			t.Fatalf("FormatDuration(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestDurationRoundTrip(t *testing.T) {
	units := []string{"s", "m", "h", "d"}
	for n := 0; n <= 200; n += 7 {
		for _, u := range units {
			in := fmt.Sprintf("%d%s", n, u)
			d, err := ParseDuration(in)
			if err != nil {
				t.Fatalf("parse %q: %v", in, err)
			}
			canonical := FormatDuration(d)
			back, err := ParseDuration(canonical)
			if err != nil {
				t.Fatalf("parse canonical %q: %v", canonical, err)
			}
			if back != d {
				t.Fatalf("round trip %q -> %q: %v != %v", in, canonical, back, d)
			}
		}
	}
}
