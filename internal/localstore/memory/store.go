// Package memory provides an in-memory device store for tests and local
// development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"example.com/learnsync/internal/domain"
)

// Store keeps records in maps guarded by a single lock, so a Commit is
// atomic with respect to readers.
type Store struct {
	mu          sync.RWMutex
	profiles    map[string]domain.Profile
	activities  map[string]domain.Activity
	feedback    map[string]domain.DailyFeedback
	checkIns    map[string]domain.CheckIn
	commits     int
	failCommits error
}

// New constructs an empty store.
func New() *Store {
	return &Store{
		profiles:   make(map[string]domain.Profile),
		activities: make(map[string]domain.Activity),
		feedback:   make(map[string]domain.DailyFeedback),
		checkIns:   make(map[string]domain.CheckIn),
	}
}

// FailCommits makes every subsequent Commit return err. Pass nil to reset.
func (s *Store) FailCommits(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommits = err
}

// Commits returns the number of successful commits.
func (s *Store) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

// Profiles implements domain.Store.
func (s *Store) Profiles(ctx context.Context, q domain.Query) ([]domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return collect(s.profiles, q, func(p domain.Profile) domain.SyncState { return p.SyncState }), nil
}

// Activities implements domain.Store.
func (s *Store) Activities(ctx context.Context, q domain.Query) ([]domain.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return collect(s.activities, q, func(a domain.Activity) domain.SyncState { return a.SyncState }), nil
}

// Feedback implements domain.Store.
func (s *Store) Feedback(ctx context.Context, q domain.Query) ([]domain.DailyFeedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return collect(s.feedback, q, func(f domain.DailyFeedback) domain.SyncState { return f.SyncState }), nil
}

// CheckIns implements domain.Store.
func (s *Store) CheckIns(ctx context.Context, q domain.Query) ([]domain.CheckIn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := collect(s.checkIns, q, func(c domain.CheckIn) domain.SyncState { return c.SyncState })
	for i := range out {
		out[i].Ratings = copyRatings(out[i].Ratings)
	}
	return out, nil
}

// Commit implements domain.Store.
func (s *Store) Commit(ctx context.Context, changes domain.Changeset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateIDs(changes); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCommits != nil {
		return s.failCommits
	}
	for _, ref := range changes.Deletes {
		found, err := s.exists(ref)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("delete %s %s: %w", ref.Kind, ref.ID, domain.ErrNotFound)
		}
	}
	for _, p := range changes.Profiles {
		s.profiles[p.ID] = p
	}
	for _, a := range changes.Activities {
		s.activities[a.ID] = a
	}
	for _, f := range changes.Feedback {
		s.feedback[f.ID] = f
	}
	for _, c := range changes.CheckIns {
		c.Ratings = copyRatings(c.Ratings)
		s.checkIns[c.ID] = c
	}
	for _, ref := range changes.Deletes {
		switch ref.Kind {
		case domain.KindProfile:
			delete(s.profiles, ref.ID)
		case domain.KindActivity:
			delete(s.activities, ref.ID)
		case domain.KindDailyFeedback:
			delete(s.feedback, ref.ID)
		case domain.KindCheckIn:
			delete(s.checkIns, ref.ID)
		}
	}
	s.commits++
	return nil
}

func (s *Store) exists(ref domain.Ref) (bool, error) {
	var found bool
	switch ref.Kind {
	case domain.KindProfile:
		_, found = s.profiles[ref.ID]
	case domain.KindActivity:
		_, found = s.activities[ref.ID]
	case domain.KindDailyFeedback:
		_, found = s.feedback[ref.ID]
	case domain.KindCheckIn:
		_, found = s.checkIns[ref.ID]
	default:
		return false, fmt.Errorf("unknown kind %q", ref.Kind)
	}
	return found, nil
}

// MarkSynced implements domain.Store.
func (s *Store) MarkSynced(ctx context.Context, kind domain.Kind, versions []domain.Version) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCommits != nil {
		return 0, s.failCommits
	}

	var marked int
	switch kind {
	case domain.KindProfile:
		marked = markSynced(s.profiles, versions, func(p *domain.Profile) *domain.SyncState { return &p.SyncState })
	case domain.KindActivity:
		marked = markSynced(s.activities, versions, func(a *domain.Activity) *domain.SyncState { return &a.SyncState })
	case domain.KindDailyFeedback:
		marked = markSynced(s.feedback, versions, func(f *domain.DailyFeedback) *domain.SyncState { return &f.SyncState })
	case domain.KindCheckIn:
		marked = markSynced(s.checkIns, versions, func(c *domain.CheckIn) *domain.SyncState { return &c.SyncState })
	default:
		return 0, fmt.Errorf("unknown kind %q", kind)
	}
	s.commits++
	return marked, nil
}

func markSynced[T any](items map[string]T, versions []domain.Version, state func(*T) *domain.SyncState) int {
	var marked int
	for _, v := range versions {
		item, ok := items[v.ID]
		if !ok {
			continue
		}
		st := state(&item)
		if !st.UpdatedAt.Equal(v.UpdatedAt) {
			continue
		}
		st.MarkSynced()
		items[v.ID] = item
		marked++
	}
	return marked
}

// Claim implements domain.Store.
func (s *Store) Claim(ctx context.Context, owner string, now time.Time, versions map[domain.Kind][]domain.Version) (map[domain.Kind]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for kind := range versions {
		if !slices.Contains(domain.Kinds, kind) {
			return nil, fmt.Errorf("unknown kind %q", kind)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCommits != nil {
		return nil, s.failCommits
	}

	claimed := make(map[domain.Kind]int, len(versions))
	claimed[domain.KindProfile] = claim(s.profiles, versions[domain.KindProfile], owner, now, func(p *domain.Profile) *domain.SyncState { return &p.SyncState })
	claimed[domain.KindActivity] = claim(s.activities, versions[domain.KindActivity], owner, now, func(a *domain.Activity) *domain.SyncState { return &a.SyncState })
	claimed[domain.KindDailyFeedback] = claim(s.feedback, versions[domain.KindDailyFeedback], owner, now, func(f *domain.DailyFeedback) *domain.SyncState { return &f.SyncState })
	claimed[domain.KindCheckIn] = claim(s.checkIns, versions[domain.KindCheckIn], owner, now, func(c *domain.CheckIn) *domain.SyncState { return &c.SyncState })
	s.commits++
	return claimed, nil
}

func claim[T any](items map[string]T, versions []domain.Version, owner string, now time.Time, state func(*T) *domain.SyncState) int {
	var claimed int
	for _, v := range versions {
		item, ok := items[v.ID]
		if !ok {
			continue
		}
		st := state(&item)
		if !st.UpdatedAt.Equal(v.UpdatedAt) {
			continue
		}
		st.OwnerID = owner
		st.MarkDirty(now)
		items[v.ID] = item
		claimed++
	}
	return claimed
}

func collect[T any](items map[string]T, q domain.Query, state func(T) domain.SyncState) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if q.Matches(state(item)) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := state(out[i]), state(out[j])
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

func validateIDs(changes domain.Changeset) error {
	for _, p := range changes.Profiles {
		if p.ID == "" {
			return errors.New("profile id is required")
		}
	}
	for _, a := range changes.Activities {
		if a.ID == "" {
			return errors.New("activity id is required")
		}
	}
	for _, f := range changes.Feedback {
		if f.ID == "" {
			return errors.New("feedback id is required")
		}
	}
	for _, c := range changes.CheckIns {
		if c.ID == "" {
			return errors.New("check-in id is required")
		}
	}
	return nil
}

func copyRatings(in map[string]int) map[string]int {
	if in == nil {
		return nil
	}
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
