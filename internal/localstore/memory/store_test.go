package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/learnsync/internal/domain"
)

func state(id, owner string, synced bool, created time.Time) domain.SyncState {
	return domain.SyncState{ID: id, OwnerID: owner, IsSynced: synced, CreatedAt: created, UpdatedAt: created}
}

func TestStoreQueryFilters(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	store := New()

	require.NoError(t, store.Commit(ctx, domain.Changeset{
		Activities: []domain.Activity{
			{SyncState: state("a1", "", false, base), Minutes: 10},
			{SyncState: state("a2", "u1", true, base.Add(time.Minute)), Minutes: 20},
			{SyncState: state("a3", "u1", false, base.Add(2*time.Minute)), Minutes: 30},
			{SyncState: state("a4", "u2", false, base.Add(3*time.Minute)), Minutes: 40},
		},
	}))

	all, err := store.Activities(ctx, domain.Query{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, "a1", all[0].ID)

	owned, err := store.Activities(ctx, domain.OwnedBy("u1"))
	require.NoError(t, err)
	require.Equal(t, []string{"a2", "a3"}, ids(owned))

	dirty, err := store.Activities(ctx, domain.DirtyOwnedBy("u1"))
	require.NoError(t, err)
	require.Equal(t, []string{"a3"}, ids(dirty))

	foreign, err := store.Activities(ctx, domain.NotOwnedBy("u1"))
	require.NoError(t, err)
	require.Equal(t, []string{"a1", "a4"}, ids(foreign))
}

func TestStoreCommitFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	store := New()
	now := time.Now().UTC()
	require.NoError(t, store.Commit(ctx, domain.Changeset{
		Profiles: []domain.Profile{{SyncState: state("p1", "", false, now), DisplayName: "Ana"}},
	}))

	boom := errors.New("disk full")
	store.FailCommits(boom)
	err := store.Commit(ctx, domain.Changeset{
		Profiles: []domain.Profile{{SyncState: state("p1", "u1", true, now), DisplayName: "Ana"}},
	})
	require.ErrorIs(t, err, boom)

	profiles, err := store.Profiles(ctx, domain.Query{})
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	require.Empty(t, profiles[0].OwnerID)
	require.False(t, profiles[0].IsSynced)
	require.Equal(t, 1, store.Commits())
}

func TestStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := New()
	now := time.Now().UTC()
	require.NoError(t, store.Commit(ctx, domain.Changeset{
		CheckIns: []domain.CheckIn{{SyncState: state("c1", "u1", false, now), HourMilestone: 10, Ratings: map[string]int{"focus": 4}}},
	}))

	got, err := store.CheckIns(ctx, domain.Query{})
	require.NoError(t, err)
	got[0].Ratings["focus"] = 1
	got[0].IsSynced = true

	again, err := store.CheckIns(ctx, domain.Query{})
	require.NoError(t, err)
	require.Equal(t, 4, again[0].Ratings["focus"])
	require.False(t, again[0].IsSynced)
}

func TestStoreCommitDeletes(t *testing.T) {
	ctx := context.Background()
	store := New()
	now := time.Now()
	require.NoError(t, store.Commit(ctx, domain.Changeset{
		Feedback: []domain.DailyFeedback{{SyncState: state("f1", "u1", false, now), Rating: 3}},
	}))

	deleteF1 := domain.Changeset{Deletes: []domain.Ref{{Kind: domain.KindDailyFeedback, ID: "f1"}}}
	require.NoError(t, store.Commit(ctx, deleteF1))
	feedback, err := store.Feedback(ctx, domain.Query{})
	require.NoError(t, err)
	require.Empty(t, feedback)

	// A missing delete target rolls back the upserts committed with it.
	err = store.Commit(ctx, domain.Changeset{
		Activities: []domain.Activity{{SyncState: state("a1", "u1", false, now), Minutes: 5}},
		Deletes:    deleteF1.Deletes,
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
	activities, err := store.Activities(ctx, domain.Query{})
	require.NoError(t, err)
	require.Empty(t, activities)
}

func TestStoreRejectsMissingID(t *testing.T) {
	store := New()
	err := store.Commit(context.Background(), domain.Changeset{Activities: []domain.Activity{{Minutes: 5}}})
	require.Error(t, err)
	require.Zero(t, store.Commits())
}

func ids(activities []domain.Activity) []string {
	out := make([]string, len(activities))
	for i, a := range activities {
		out[i] = a.ID
	}
	return out
}

func TestMarkSyncedMatchesVersion(t *testing.T) {
	ctx := context.Background()
	store := New()
	v1 := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Commit(ctx, domain.Changeset{
		Feedback: []domain.DailyFeedback{
			{SyncState: state("f1", "u1", false, v1), Rating: 3},
			{SyncState: state("f2", "u1", false, v1), Rating: 4},
		},
	}))

	marked, err := store.MarkSynced(ctx, domain.KindDailyFeedback, []domain.Version{
		{ID: "f1", UpdatedAt: v1},
		{ID: "f2", UpdatedAt: v1.Add(-time.Second)},
		{ID: "missing", UpdatedAt: v1},
	})
	require.NoError(t, err)
	require.Equal(t, 1, marked)

	dirty, err := store.Feedback(ctx, domain.DirtyOwnedBy("u1"))
	require.NoError(t, err)
	require.Len(t, dirty, 1)
	require.Equal(t, "f2", dirty[0].ID)

	store.FailCommits(errors.New("disk full"))
	_, err = store.MarkSynced(ctx, domain.KindDailyFeedback, []domain.Version{{ID: "f2", UpdatedAt: v1}})
	require.Error(t, err)
}

func TestClaimSkipsRecordsEditedSinceRead(t *testing.T) {
	ctx := context.Background()
	store := New()
	v1 := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Commit(ctx, domain.Changeset{
		Activities: []domain.Activity{
			{SyncState: state("a1", "", true, v1), Minutes: 20},
			{SyncState: state("a2", "", false, v1), Minutes: 30},
		},
	}))

	edited := domain.Activity{SyncState: state("a2", "", false, v1.Add(time.Minute)), Minutes: 99}
	require.NoError(t, store.Commit(ctx, domain.Changeset{Activities: []domain.Activity{edited}}))

	now := v1.Add(time.Hour)
	claimed, err := store.Claim(ctx, "u1", now, map[domain.Kind][]domain.Version{
		domain.KindActivity: {{ID: "a1", UpdatedAt: v1}, {ID: "a2", UpdatedAt: v1}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, claimed[domain.KindActivity])

	owned, err := store.Activities(ctx, domain.OwnedBy("u1"))
	require.NoError(t, err)
	require.Equal(t, []string{"a1"}, ids(owned))
	require.False(t, owned[0].IsSynced)
	require.Equal(t, now, owned[0].UpdatedAt)

	unowned, err := store.Activities(ctx, domain.NotOwnedBy("u1"))
	require.NoError(t, err)
	require.Len(t, unowned, 1)
	require.Equal(t, 99, unowned[0].Minutes)

	_, err = store.Claim(ctx, "u1", now, map[domain.Kind][]domain.Version{"lesson": nil})
	require.Error(t, err)
}
