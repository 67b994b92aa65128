// Package bytesize parses and formats human-readable byte sizes using
// binary (1024-based) units, the convention download rate limits and file
// sizes are written in.
package bytesize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Size is a byte count.
type Size int64

// Binary unit spans.
const (
	B  Size = 1
	KB Size = 1024
	MB Size = 1024 * KB
	GB Size = 1024 * MB
	TB Size = 1024 * GB
	PB Size = 1024 * TB
)

var units = map[string]Size{
	"":  B,
	"b": B, "byte": B, "bytes": B,
	"k": KB, "kb": KB, "kib": KB,
	"m": MB, "mb": MB, "mib": MB,
	"g": GB, "gb": GB, "gib": GB,
	"t": TB, "tb": TB, "tib": TB,
	"p": PB, "pb": PB, "pib": PB,
}

// sizeRe matches an integer or decimal value with an optional unit suffix,
// whitespace tolerated: "5MB", "1.5 GB", "1024".
var sizeRe = regexp.MustCompile(`(?i)^\s*(-?[0-9]+(?:\.[0-9]+)?)\s*([a-z]*)\s*$`)

// Parse parses a human-readable byte size. Units are case-insensitive and
// binary-based; a bare number is a byte count.
func Parse(s string) (Size, error) {
	if strings.TrimSpace(s) == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}

	m := sizeRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("bytesize: invalid size %q", s)
	}

	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q: %w", m[1], err)
	}
	mult, ok := units[strings.ToLower(m[2])]
	if !ok {
		return 0, fmt.Errorf("bytesize: unknown unit %q", m[2])
	}
	return Size(value * float64(mult)), nil
}

// MustParse is Parse for literals; it panics on error.
func MustParse(s string) Size {
	size, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return size
}

// Format renders a size with the largest unit that keeps the value at or
// above one, trimming insignificant decimals: 5242880 becomes "5MB",
// 1610612736 becomes "1.5GB".
func Format(s Size) string {
	if s == 0 {
		return "0B"
	}
	negative := s < 0
	if negative {
		s = -s
	}

	out := fmt.Sprintf("%dB", s)
	for _, unit := range []struct {
		span Size
		name string
	}{
		{PB, "PB"}, {TB, "TB"}, {GB, "GB"}, {MB, "MB"}, {KB, "KB"},
	} {
		if s >= unit.span {
			value := float64(s) / float64(unit.span)
			if value == float64(int64(value)) {
				out = fmt.Sprintf("%d%s", int64(value), unit.name)
			} else {
				trimmed := strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", value), "0"), ".")
				out = trimmed + unit.name
			}
			break
		}
	}

	if negative {
		return "-" + out
	}
	return out
}

// Bytes returns the size as an int64 byte count.
func (s Size) Bytes() int64 { return int64(s) }

// String renders the size the way Format does.
func (s Size) String() string { return Format(s) }
