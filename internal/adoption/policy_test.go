package adoption

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/learnsync/internal/domain"
	"example.com/learnsync/internal/localstore/memory"
)

func seeded(t *testing.T) *memory.Store {
	t.Helper()
	now := time.Date(2025, time.July, 1, 10, 0, 0, 0, time.UTC)
	store := memory.New()
	require.NoError(t, store.Commit(context.Background(), domain.Changeset{
		Profiles: []domain.Profile{
			{SyncState: domain.SyncState{ID: "p-null", IsSynced: true, CreatedAt: now}},
		},
		Activities: []domain.Activity{
			{SyncState: domain.SyncState{ID: "a-null", CreatedAt: now}},
			{SyncState: domain.SyncState{ID: "a-userA", OwnerID: "userA", IsSynced: true, CreatedAt: now}},
			{SyncState: domain.SyncState{ID: "a-userB", OwnerID: "userB", IsSynced: true, CreatedAt: now}},
		},
		Feedback: []domain.DailyFeedback{
			{SyncState: domain.SyncState{ID: "f-userA", OwnerID: "userA", IsSynced: true, CreatedAt: now}},
		},
	}))
	return store
}

func TestAdoptClaimsUnownedAndMisownedRecords(t *testing.T) {
	ctx := context.Background()
	store := seeded(t)
	policy := NewPolicy(store, nil)

	result, err := policy.Adopt(ctx, "userB")
	require.NoError(t, err)
	require.Equal(t, Result{Profiles: 1, Activities: 2, Feedback: 1}, result)
	require.Equal(t, 4, result.Total())

	activities, err := store.Activities(ctx, domain.Query{})
	require.NoError(t, err)
	for _, a := range activities {
		require.Equal(t, "userB", a.OwnerID, a.ID)
		if a.ID == "a-userB" {
			require.True(t, a.IsSynced, "already-owned record must stay untouched")
			continue
		}
		require.False(t, a.IsSynced, "%s must be dirty after adoption", a.ID)
	}

	profiles, err := store.Profiles(ctx, domain.OwnedBy("userB"))
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	require.False(t, profiles[0].IsSynced)
}

func TestAdoptIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := seeded(t)
	policy := NewPolicy(store, nil)

	_, err := policy.Adopt(ctx, "userB")
	require.NoError(t, err)
	commits := store.Commits()

	result, err := policy.Adopt(ctx, "userB")
	require.NoError(t, err)
	require.Zero(t, result.Total())
	require.Equal(t, commits, store.Commits(), "second adoption must not write")
}

func TestAdoptNothingToClaim(t *testing.T) {
	store := memory.New()
	result, err := NewPolicy(store, nil).Adopt(context.Background(), "u1")
	require.NoError(t, err)
	require.Zero(t, result.Total())
	require.Zero(t, store.Commits())
}

func TestAdoptCommitFailureLeavesOwnershipUnchanged(t *testing.T) {
	ctx := context.Background()
	store := seeded(t)
	store.FailCommits(errors.New("disk full"))

	_, err := NewPolicy(store, nil).Adopt(ctx, "userB")
	require.ErrorContains(t, err, "disk full")

	unowned, err := store.Activities(ctx, domain.NotOwnedBy("userB"))
	require.NoError(t, err)
	require.Len(t, unowned, 2)
}

// editBeforeClaim commits a UI edit after adoption has read the records but
// before its claim lands.
type editBeforeClaim struct {
	*memory.Store
	edit func()
}

func (s *editBeforeClaim) Claim(ctx context.Context, owner string, now time.Time, versions map[domain.Kind][]domain.Version) (map[domain.Kind]int, error) {
	s.edit()
	return s.Store.Claim(ctx, owner, now, versions)
}

func TestAdoptKeepsEditCommittedDuringAdoption(t *testing.T) {
	ctx := context.Background()
	v1 := time.Date(2025, time.July, 1, 10, 0, 0, 0, time.UTC)
	base := memory.New()
	a1 := domain.Activity{SyncState: domain.SyncState{ID: "a1", CreatedAt: v1, UpdatedAt: v1}, Minutes: 20}
	require.NoError(t, base.Commit(ctx, domain.Changeset{Activities: []domain.Activity{a1}}))

	store := &editBeforeClaim{Store: base, edit: func() {
		edited := a1
		edited.Minutes = 99
		edited.MarkDirty(v1.Add(time.Minute))
		require.NoError(t, base.Commit(ctx, domain.Changeset{Activities: []domain.Activity{edited}}))
	}}

	result, err := NewPolicy(store, nil).Adopt(ctx, "u1")
	require.NoError(t, err)
	require.Zero(t, result.Activities)

	activities, err := base.Activities(ctx, domain.Query{})
	require.NoError(t, err)
	require.Len(t, activities, 1)
	require.Equal(t, 99, activities[0].Minutes, "the edit must survive adoption")
	require.Empty(t, activities[0].OwnerID)

	// The next adoption sees the edited version and claims it.
	store.edit = func() {}
	result, err = NewPolicy(store, nil).Adopt(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, result.Activities)
	owned, err := base.Activities(ctx, domain.OwnedBy("u1"))
	require.NoError(t, err)
	require.Equal(t, 99, owned[0].Minutes)
}

func TestAdoptRequiresIdentity(t *testing.T) {
	_, err := NewPolicy(memory.New(), nil).Adopt(context.Background(), "")
	require.Error(t, err)
}

func TestResultByKind(t *testing.T) {
	byKind := Result{Activities: 3, CheckIns: 1}.ByKind()
	require.Equal(t, 3, byKind[domain.KindActivity])
	require.Equal(t, 1, byKind[domain.KindCheckIn])
	require.Zero(t, byKind[domain.KindProfile])
}
