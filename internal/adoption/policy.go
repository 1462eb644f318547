// Package adoption reassigns device records to the signed-in identity.
//
// Records created before sign-in have no owner, and records left behind by a
// previous account carry that account's owner. Either way they are invisible
// to a session pushing for the current identity until adopted. Adoption
// claims every such record, marks it dirty, and commits the lot atomically,
// so a crash mid-adoption leaves nothing half-owned. The claim is version
// checked: a record edited after adoption read it keeps the edit and is
// picked up by the next session instead.
package adoption

import (
	"context"
	"errors"
	"fmt"
	"time"

	"example.com/learnsync/internal/domain"
)

// Result counts adopted records per kind.
type Result struct {
	Profiles   int
	Activities int
	Feedback   int
	CheckIns   int
}

// Total returns the number of adopted records.
func (r Result) Total() int {
	return r.Profiles + r.Activities + r.Feedback + r.CheckIns
}

// ByKind returns the counts keyed by kind.
func (r Result) ByKind() map[domain.Kind]int {
	return map[domain.Kind]int{
		domain.KindProfile:       r.Profiles,
		domain.KindActivity:      r.Activities,
		domain.KindDailyFeedback: r.Feedback,
		domain.KindCheckIn:       r.CheckIns,
	}
}

// Policy claims unowned or mis-owned records.
type Policy struct {
	store domain.Store
	now   func() time.Time
}

// NewPolicy constructs a Policy.
func NewPolicy(store domain.Store, now func() time.Time) *Policy {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Policy{store: store, now: now}
}

// Adopt reassigns every record not owned by identity. Calling it again with
// the same identity finds nothing and writes nothing.
func (p *Policy) Adopt(ctx context.Context, identity string) (Result, error) {
	if identity == "" {
		return Result{}, errors.New("adopt: identity is required")
	}
	q := domain.NotOwnedBy(identity)
	now := p.now()

	profiles, err := p.store.Profiles(ctx, q)
	if err != nil {
		return Result{}, fmt.Errorf("adopt profiles: %w", err)
	}
	activities, err := p.store.Activities(ctx, q)
	if err != nil {
		return Result{}, fmt.Errorf("adopt activities: %w", err)
	}
	feedback, err := p.store.Feedback(ctx, q)
	if err != nil {
		return Result{}, fmt.Errorf("adopt feedback: %w", err)
	}
	checkIns, err := p.store.CheckIns(ctx, q)
	if err != nil {
		return Result{}, fmt.Errorf("adopt check-ins: %w", err)
	}

	if len(profiles)+len(activities)+len(feedback)+len(checkIns) == 0 {
		return Result{}, nil
	}
	versions := map[domain.Kind][]domain.Version{
		domain.KindProfile:       versionsOf(profiles, func(pr domain.Profile) domain.SyncState { return pr.SyncState }),
		domain.KindActivity:      versionsOf(activities, func(a domain.Activity) domain.SyncState { return a.SyncState }),
		domain.KindDailyFeedback: versionsOf(feedback, func(f domain.DailyFeedback) domain.SyncState { return f.SyncState }),
		domain.KindCheckIn:       versionsOf(checkIns, func(c domain.CheckIn) domain.SyncState { return c.SyncState }),
	}
	claimed, err := p.store.Claim(ctx, identity, now, versions)
	if err != nil {
		return Result{}, fmt.Errorf("adopt commit: %w", err)
	}
	return Result{
		Profiles:   claimed[domain.KindProfile],
		Activities: claimed[domain.KindActivity],
		Feedback:   claimed[domain.KindDailyFeedback],
		CheckIns:   claimed[domain.KindCheckIn],
	}, nil
}

func versionsOf[T any](records []T, state func(T) domain.SyncState) []domain.Version {
	out := make([]domain.Version, len(records))
	for i, r := range records {
		out[i] = domain.VersionOf(state(r))
	}
	return out
}
