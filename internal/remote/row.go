package remote

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// DateLayout is the wire format for calendar-day columns.
const DateLayout = "2006-01-02"

// String returns the column as a string. Missing and nil columns yield "".
func (r Row) String(col string) (string, error) {
	switch v := r[col].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return "", fmt.Errorf("column %s: expected string, got %T", col, v)
	}
}

// Int returns the column as an int. Backends decode numbers differently
// (JSON float64, pgx int32/int64), so every numeric type is accepted.
func (r Row) Int(col string) (int, error) {
	switch v := r[col].(type) {
	case nil:
		return 0, nil
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("column %s: %v is not an integer", col, v)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("column %s: %w", col, err)
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("column %s: %w", col, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("column %s: expected integer, got %T", col, v)
	}
}

// Time returns the column as a UTC time. Strings are parsed as RFC 3339 or
// as a calendar day.
func (r Row) Time(col string) (time.Time, error) {
	switch v := r[col].(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return v.UTC(), nil
	case string:
		if v == "" {
			return time.Time{}, nil
		}
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t.UTC(), nil
		}
		t, err := time.Parse(DateLayout, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("column %s: unrecognised time %q", col, v)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("column %s: expected time, got %T", col, v)
	}
}

// IntMap returns a JSON object column as map[string]int.
func (r Row) IntMap(col string) (map[string]int, error) {
	switch v := r[col].(type) {
	case nil:
		return nil, nil
	case map[string]int:
		out := make(map[string]int, len(v))
		for k, n := range v {
			out[k] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]int, len(v))
		for k := range v {
			n, err := Row(v).Int(k)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", col, err)
			}
			out[k] = n
		}
		return out, nil
	case string:
		return decodeIntMap(col, []byte(v))
	case []byte:
		return decodeIntMap(col, v)
	default:
		return nil, fmt.Errorf("column %s: expected object, got %T", col, v)
	}
}

func decodeIntMap(col string, raw []byte) (map[string]int, error) {
	var out map[string]int
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("column %s: %w", col, err)
	}
	return out, nil
}
