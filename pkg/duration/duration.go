// Package duration parses and formats human-readable durations. It extends
// Go's standard duration syntax with day and week units, which is what
// retention settings like "30d" or "2w" want to be written in.
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// Day is 24 hours.
	Day = 24 * time.Hour
	// Week is 7 days.
	Week = 7 * Day
)

// extendedUnit matches a number followed by a day or week unit, with
// optional whitespace in between: "30d", "2 weeks", "1wk".
var extendedUnit = regexp.MustCompile(`(?i)(\d+)\s*(weeks?|wks?|w|days?|d)`)

// wordUnit matches standard time units written out as words, which Go's
// parser does not accept: "3 hours", "45 secs".
var wordUnit = regexp.MustCompile(`(?i)(\d+)\s*(hours?|hrs?|minutes?|mins?|seconds?|secs?|milliseconds?|ms)`)

var wordToShort = map[string]string{
	"hour": "h", "hours": "h", "hr": "h", "hrs": "h",
	"minute": "m", "minutes": "m", "min": "m", "mins": "m",
	"second": "s", "seconds": "s", "sec": "s", "secs": "s",
	"millisecond": "ms", "milliseconds": "ms", "ms": "ms",
}

// Parse parses a human-readable duration. On top of everything
// time.ParseDuration accepts, it understands day (d, day, days) and week
// (w, wk, week, weeks) units and tolerates whitespace between components,
// so "1w2d12h", "30 days" and "720h" all work.
func Parse(s string) (time.Duration, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	negative := strings.HasPrefix(s, "-")
	if negative {
		s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
	}

	// Fold day/week components into an hour total and strip them from the
	// string; the remainder must be valid standard syntax.
	var hours int64
	rest := extendedUnit.ReplaceAllStringFunc(s, func(match string) string {
		parts := extendedUnit.FindStringSubmatch(match)
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return match
		}
		if strings.HasPrefix(strings.ToLower(parts[2]), "w") {
			n *= 7
		}
		hours += n * 24
		return ""
	})

	rest = wordUnit.ReplaceAllStringFunc(rest, func(match string) string {
		parts := wordUnit.FindStringSubmatch(match)
		if short, ok := wordToShort[strings.ToLower(parts[2])]; ok {
			return parts[1] + short
		}
		return match
	})
	rest = strings.Join(strings.Fields(rest), "")

	combined := rest
	if hours > 0 {
		combined = fmt.Sprintf("%dh%s", hours, rest)
	}
	if combined == "" {
		combined = "0s"
	}

	d, err := time.ParseDuration(combined)
	if err != nil {
		return 0, fmt.Errorf("duration: parsing %q: %w", orig, err)
	}
	if negative {
		d = -d
	}
	return d, nil
}

// MustParse is Parse for literals; it panics on error.
func MustParse(s string) time.Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Format renders a duration with the largest sensible units, omitting zero
// components: 36 hours becomes "1d12h", 90 seconds "1m30s".
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	negative := d < 0
	if negative {
		d = -d
	}

	var b strings.Builder
	for _, unit := range []struct {
		span time.Duration
		name string
	}{
		{Week, "w"},
		{Day, "d"},
		{time.Hour, "h"},
		{time.Minute, "m"},
		{time.Second, "s"},
		{time.Millisecond, "ms"},
		{time.Microsecond, "µs"},
		{time.Nanosecond, "ns"},
	} {
		if n := d / unit.span; n > 0 {
			fmt.Fprintf(&b, "%d%s", n, unit.name)
			d -= n * unit.span
		}
	}

	if negative {
		return "-" + b.String()
	}
	return b.String()
}
