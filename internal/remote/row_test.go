package remote

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRowIntAcceptsBackendNumberTypes(t *testing.T) {
	row := Row{"a": 3, "b": int32(4), "c": int64(5), "d": float64(6), "e": json.Number("7"), "f": "8"}
	for col, want := range map[string]int{"a": 3, "b": 4, "c": 5, "d": 6, "e": 7, "f": 8, "missing": 0} {
		got, err := row.Int(col)
		require.NoError(t, err, col)
		require.Equal(t, want, got, col)
	}

	_, err := Row{"x": 1.5}.Int("x")
	require.Error(t, err)
	_, err = Row{"x": true}.Int("x")
	require.Error(t, err)
}

func TestRowTimeParsesDaysAndTimestamps(t *testing.T) {
	day, err := Row{"date": "2025-06-01"}.Time("date")
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC), day)

	ts, err := Row{"at": "2025-06-01T10:30:00+02:00"}.Time("at")
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, time.June, 1, 8, 30, 0, 0, time.UTC), ts)

	_, err = Row{"at": "yesterday"}.Time("at")
	require.Error(t, err)
}

func TestRowIntMap(t *testing.T) {
	got, err := Row{"r": map[string]any{"reading": float64(4)}}.IntMap("r")
	require.NoError(t, err)
	require.Equal(t, map[string]int{"reading": 4}, got)

	got, err = Row{"r": []byte(`{"speaking":2}`)}.IntMap("r")
	require.NoError(t, err)
	require.Equal(t, map[string]int{"speaking": 2}, got)
}

func TestErrorMessageAndUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &Error{Op: "upsert", Table: TableProfiles, Err: cause}
	require.Equal(t, "remote upsert profiles: connection reset", err.Error())
	require.ErrorIs(t, err, cause)

	err = &Error{Op: "insert", Table: TableActivities, Status: 409, Message: "conflict"}
	require.Equal(t, "remote insert activities: status 409: conflict", err.Error())
}
