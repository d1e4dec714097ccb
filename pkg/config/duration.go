package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/tornflow/tornflow/pkg/errors"
)

// ParseISODuration parses an ISO-8601 duration of the subset used by
// endpoint frequencies: PnDTnHnMnS (weeks accepted as PnW). "PT15M"
// yields 15 minutes, "P1D" yields 24 hours. A designator with no digits
// ("PTM") is a parse error.
func ParseISODuration(s string) (time.Duration, error) {
	orig := s
	if s == "" || s[0] != 'P' {
		return 0, errors.Newf(errors.ErrorTypeConfig, "invalid ISO-8601 duration %q", orig)
	}
	s = s[1:]

	var (
		total   time.Duration
		inTime  bool
		sawUnit bool
	)

	for len(s) > 0 {
		if s[0] == 'T' {
			if inTime {
				return 0, errors.Newf(errors.ErrorTypeConfig, "invalid ISO-8601 duration %q", orig)
			}
			inTime = true
			s = s[1:]
			continue
		}

		digits := 0
		for digits < len(s) && (s[digits] >= '0' && s[digits] <= '9' || s[digits] == '.') {
			digits++
		}
		if digits == 0 || digits == len(s) {
			return 0, errors.Newf(errors.ErrorTypeConfig, "invalid ISO-8601 duration %q", orig)
		}

		n, err := strconv.ParseFloat(s[:digits], 64)
		if err != nil {
			return 0, errors.Newf(errors.ErrorTypeConfig, "invalid ISO-8601 duration %q", orig)
		}
		unit := s[digits]
		s = s[digits+1:]

		var scale time.Duration
		switch {
		case !inTime && unit == 'W':
			scale = 7 * 24 * time.Hour
		case !inTime && unit == 'D':
			scale = 24 * time.Hour
		case inTime && unit == 'H':
			scale = time.Hour
		case inTime && unit == 'M':
			scale = time.Minute
		case inTime && unit == 'S':
			scale = time.Second
		default:
			return 0, errors.Newf(errors.ErrorTypeConfig,
				"invalid designator %q in ISO-8601 duration %q", string(unit), orig)
		}

		total += time.Duration(n * float64(scale))
		sawUnit = true
	}

	if !sawUnit {
		return 0, errors.Newf(errors.ErrorTypeConfig, "invalid ISO-8601 duration %q", orig)
	}
	return total, nil
}

// FormatISODuration renders a duration in the same subset, for logs and
// round-tripping configuration.
func FormatISODuration(d time.Duration) string {
	if d == 0 {
		return "PT0S"
	}

	var b strings.Builder
	b.WriteByte('P')

	if days := d / (24 * time.Hour); days > 0 {
		b.WriteString(strconv.FormatInt(int64(days), 10))
		b.WriteByte('D')
		d -= days * 24 * time.Hour
	}
	if d == 0 {
		return b.String()
	}

	b.WriteByte('T')
	if h := d / time.Hour; h > 0 {
		b.WriteString(strconv.FormatInt(int64(h), 10))
		b.WriteByte('H')
		d -= h * time.Hour
	}
	if m := d / time.Minute; m > 0 {
		b.WriteString(strconv.FormatInt(int64(m), 10))
		b.WriteByte('M')
		d -= m * time.Minute
	}
	if sec := d / time.Second; sec > 0 {
		b.WriteString(strconv.FormatInt(int64(sec), 10))
		b.WriteByte('S')
	}
	return b.String()
}
