package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tornflow/tornflow/pkg/errors"
)

// Unix epoch bounds considered a plausible calendar range when deciding
// whether a bare number is a timestamp (2000-01-01 .. 2100-01-01).
const (
	EpochMin = 946684800
	EpochMax = 4102444800
)

// timestampLayouts are tried in order when parsing string timestamps
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Coerce casts value to the given column type. A nil value passes
// through unchanged; the caller decides between null and a default based
// on the column mode. Irreconcilable values return a validation error.
func Coerce(value interface{}, t ColumnType) (interface{}, error) {
	if value == nil {
		return nil, nil
	}

	switch t {
	case TypeString:
		return coerceString(value), nil
	case TypeInteger:
		return coerceInteger(value)
	case TypeFloat:
		return coerceFloat(value)
	case TypeBoolean:
		return coerceBoolean(value)
	case TypeTimestamp:
		return coerceTimestamp(value)
	default:
		return nil, errors.Newf(errors.ErrorTypeValidation, "unknown column type %q", t)
	}
}

// DefaultValue returns the per-type default substituted for missing
// REQUIRED values: 0, "", false, or the cycle's reference timestamp.
func DefaultValue(t ColumnType, ref time.Time) interface{} {
	switch t {
	case TypeString:
		return ""
	case TypeInteger:
		return int64(0)
	case TypeFloat:
		return float64(0)
	case TypeBoolean:
		return false
	case TypeTimestamp:
		if ref.IsZero() {
			return time.Now().UTC()
		}
		return ref
	default:
		return nil
	}
}

func coerceString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case float64:
		// Avoid the %v exponent form for large JSON numbers
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func coerceInteger(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case float32:
		return int64(v), nil
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n, nil
		}
		// "45000.0" style numerics still coerce
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return int64(f), nil
		}
		return nil, errors.Newf(errors.ErrorTypeValidation, "cannot coerce %q to INTEGER", v)
	case time.Time:
		return v.Unix(), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeValidation, "cannot coerce %T to INTEGER", value)
	}
}

func coerceFloat(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f, nil
		}
		return nil, errors.Newf(errors.ErrorTypeValidation, "cannot coerce %q to FLOAT", v)
	default:
		return nil, errors.Newf(errors.ErrorTypeValidation, "cannot coerce %T to FLOAT", value)
	}
}

func coerceBoolean(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	case int:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "1":
			return true, nil
		case "false", "no", "0":
			return false, nil
		}
		return nil, errors.Newf(errors.ErrorTypeValidation, "cannot coerce %q to BOOLEAN", v)
	default:
		return nil, errors.Newf(errors.ErrorTypeValidation, "cannot coerce %T to BOOLEAN", value)
	}
}

func coerceTimestamp(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil
	case int64:
		return epochToTime(v)
	case int:
		return epochToTime(int64(v))
	case float64:
		return epochToTime(int64(v))
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return epochToTime(n)
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return nil, errors.Newf(errors.ErrorTypeValidation, "cannot coerce %q to TIMESTAMP", v)
	default:
		return nil, errors.Newf(errors.ErrorTypeValidation, "cannot coerce %T to TIMESTAMP", value)
	}
}

func epochToTime(n int64) (interface{}, error) {
	// Millisecond epochs are normalized before the range check
	if n > EpochMax && n/1000 >= EpochMin && n/1000 <= EpochMax {
		return time.Unix(n/1000, (n%1000)*int64(time.Millisecond)).UTC(), nil
	}
	if n < EpochMin || n > EpochMax {
		return nil, errors.Newf(errors.ErrorTypeValidation,
			"epoch %d outside plausible calendar range", n)
	}
	return time.Unix(n, 0).UTC(), nil
}

// LooksLikeEpoch reports whether n falls in the plausible calendar range
// for a Unix timestamp, in seconds or milliseconds.
func LooksLikeEpoch(n int64) bool {
	if n >= EpochMin && n <= EpochMax {
		return true
	}
	ms := n / 1000
	return ms >= EpochMin && ms <= EpochMax
}

// LooksLikeTimestampString reports whether s parses under any of the
// accepted ISO-8601 layouts. Bare digit strings are not timestamps here;
// numeric epochs are classified from their numeric form.
func LooksLikeTimestampString(s string) bool {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}
