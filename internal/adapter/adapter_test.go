package adapter

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"example.com/learnsync/internal/domain"
	"example.com/learnsync/internal/remote"
)

var (
	created = time.Date(2025, time.June, 1, 9, 30, 0, 0, time.UTC)
	updated = time.Date(2025, time.June, 2, 18, 0, 0, 0, time.UTC)
)

func state(id string) domain.SyncState {
	return domain.SyncState{ID: id, OwnerID: "u1", CreatedAt: created, UpdatedAt: updated}
}

func assertGolden(t *testing.T, name string, row remote.Row) {
	t.Helper()
	data, err := json.MarshalIndent(row, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}

func TestProfileToWire(t *testing.T) {
	assertGolden(t, "profile_to_wire", Profiles.ToWire(domain.Profile{
		SyncState:        state("p-1"),
		DisplayName:      "Ana",
		TargetLanguage:   "es",
		Level:            "B1",
		DailyGoalMinutes: 30,
		TotalMinutes:     1260,
		TotalActivities:  42,
		LastCheckInHour:  20,
	}))
}

func TestActivityToWire(t *testing.T) {
	assertGolden(t, "activity_to_wire", Activities.ToWire(domain.Activity{
		SyncState: state("a-1"),
		Date:      time.Date(2025, time.June, 1, 15, 4, 0, 0, time.UTC),
		Minutes:   45,
		Category:  domain.CategoryReading,
		Language:  "es",
		Comment:   "graded reader ch. 3",
	}))
}

func TestFeedbackToWire(t *testing.T) {
	assertGolden(t, "feedback_to_wire", Feedback.ToWire(domain.DailyFeedback{
		SyncState: state("f-1"),
		Date:      time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
		Rating:    4,
		Note:      "tired but consistent",
	}))
}

func TestCheckInToWire(t *testing.T) {
	assertGolden(t, "check_in_to_wire", CheckIns.ToWire(domain.CheckIn{
		SyncState:     state("c-1"),
		Date:          time.Date(2025, time.June, 1, 21, 15, 0, 0, time.UTC),
		HourMilestone: 25,
		Ratings:       map[string]int{"listening": 4, "speaking": 2},
		Reflections:   "podcasts are paying off",
	}))
}

func TestToWireIsPure(t *testing.T) {
	checkIn := domain.CheckIn{SyncState: state("c-1"), HourMilestone: 5, Ratings: map[string]int{"reading": 3}}
	row := CheckIns.ToWire(checkIn)
	row["ratings"].(map[string]int)["reading"] = 1
	require.Equal(t, 3, checkIn.Ratings["reading"])
	require.False(t, checkIn.IsSynced)
}

func TestFromWireAcceptsJSONDecodedRows(t *testing.T) {
	// Shapes as produced by a JSON backend: numbers as float64, days as strings.
	activity, err := Activities.FromWire(remote.Row{
		"id": "a-9", "user_id": "u1", "date": "2025-06-01", "minutes": float64(30),
		"activity_type": "listening", "language": "fr", "comment": "",
		"created_at": "2025-06-01T09:30:00Z", "updated_at": "2025-06-02T18:00:00Z",
	})
	require.NoError(t, err)
	require.True(t, activity.IsSynced)
	require.Equal(t, 30, activity.Minutes)
	require.Equal(t, domain.CategoryListening, activity.Category)
	require.True(t, activity.CreatedAt.Equal(created))

	checkIn, err := CheckIns.FromWire(remote.Row{
		"id": "c-9", "user_id": "u1", "date": "2025-06-01T21:15:00Z", "hour_milestone": float64(50),
		"ratings": map[string]any{"reading": float64(5)},
	})
	require.NoError(t, err)
	require.Equal(t, map[string]int{"reading": 5}, checkIn.Ratings)

	_, err = Feedback.FromWire(remote.Row{"id": "f-9", "rating": "high"})
	require.Error(t, err)
}

func TestFromWireInvertsToWire(t *testing.T) {
	profile := domain.Profile{SyncState: state("p-2"), DisplayName: "Jo", TotalMinutes: 75}
	back, err := Profiles.FromWire(Profiles.ToWire(profile))
	require.NoError(t, err)
	profile.IsSynced = true
	require.Equal(t, profile, back)
}

func TestCheckRejectsMalformedRecords(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"rating out of range", Feedback.Check(domain.DailyFeedback{SyncState: state("f"), Rating: 9}, nil)},
		{"negative minutes", Activities.Check(domain.Activity{SyncState: state("a"), Date: created, Minutes: -5}, nil)},
		{"zero milestone", CheckIns.Check(domain.CheckIn{SyncState: state("c")}, nil)},
		{"missing owner", Activities.Check(domain.Activity{SyncState: domain.SyncState{ID: "a"}, Date: created, Minutes: 5}, nil)},
		{"owner with spaces", Activities.Check(domain.Activity{SyncState: domain.SyncState{ID: "a", OwnerID: "not an id"}, Date: created, Minutes: 5}, nil)},
		{"owner not uuid", Activities.Check(domain.Activity{SyncState: state("a"), Date: created, Minutes: 5}, UUIDOwners)},
		{"missing id", Profiles.Check(domain.Profile{SyncState: domain.SyncState{OwnerID: "u1"}}, nil)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.True(t, errors.Is(tc.err, ErrMalformed), "got %v", tc.err)
		})
	}

	require.NoError(t, Activities.Check(domain.Activity{
		SyncState: domain.SyncState{ID: "a", OwnerID: "7c9e6679-7425-40de-944b-e07fc1f90ae7"}, Date: created, Minutes: 0,
	}, UUIDOwners))
}

func TestPartitionKeepsOrderAndReportsRejects(t *testing.T) {
	records := []domain.DailyFeedback{
		{SyncState: state("f-1"), Date: created, Rating: 3},
		{SyncState: state("f-2"), Date: created, Rating: 0},
		{SyncState: state("f-3"), Date: created, Rating: 5},
	}
	valid, rows, rejected := Feedback.Partition(records, OpaqueOwners)
	require.Len(t, valid, 2)
	require.Equal(t, "f-1", rows[0]["id"])
	require.Equal(t, "f-3", rows[1]["id"])
	require.Len(t, rejected, 1)
	require.Equal(t, "f-2", rejected[0].ID)
	require.Equal(t, domain.KindDailyFeedback, rejected[0].Kind)
}

func TestLeaderboardFromWireRanksInOrder(t *testing.T) {
	entries, err := LeaderboardFromWire([]remote.Row{
		{"user_id": "u2", "display_name": "Lee", "target_language": "ko", "total_minutes": 900},
		{"user_id": "u1", "display_name": "Ana", "target_language": "es", "total_minutes": int64(600)},
	})
	require.NoError(t, err)
	require.Equal(t, []domain.LeaderboardEntry{
		{Rank: 1, OwnerID: "u2", DisplayName: "Lee", TargetLanguage: "ko", TotalMinutes: 900},
		{Rank: 2, OwnerID: "u1", DisplayName: "Ana", TargetLanguage: "es", TotalMinutes: 600},
	}, entries)
}
