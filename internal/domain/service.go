package domain

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/learnsync/internal/observability"
)

// ValidationError reports a rejected local mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Service applies local create/edit workflows. Every mutation it commits
// leaves the touched records dirty so the next sync session pushes them.
type Service struct {
	store    Store
	identity IdentityProvider
	now      func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceClock overrides the clock used to stamp mutations.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService constructs a Service.
func NewService(store Store, identity IdentityProvider, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		identity: identity,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ActivityInput captures an activity entry from the UI.
type ActivityInput struct {
	Date     time.Time
	Minutes  int
	Category ActivityCategory
	Language string
	Comment  string
}

// Validate ensures input correctness.
func (in ActivityInput) Validate() error {
	if in.Date.IsZero() {
		return invalid("date", "is required")
	}
	if in.Minutes <= 0 {
		return invalid("minutes", "must be > 0")
	}
	if !in.Category.Valid() {
		return invalid("category", fmt.Sprintf("%q is not a known category", in.Category))
	}
	if strings.TrimSpace(in.Language) == "" {
		return invalid("language", "is required")
	}
	return nil
}

// TimedSession is a completed stopwatch session.
type TimedSession struct {
	StartedAt time.Time
	EndedAt   time.Time
	Category  ActivityCategory
	Language  string
	Comment   string
}

// ProfileInput captures editable profile settings.
type ProfileInput struct {
	DisplayName      string
	TargetLanguage   string
	Level            string
	DailyGoalMinutes int
}

// Validate ensures input correctness.
func (in ProfileInput) Validate() error {
	if strings.TrimSpace(in.DisplayName) == "" {
		return invalid("display_name", "is required")
	}
	if in.DailyGoalMinutes < 0 {
		return invalid("daily_goal_minutes", "must be >= 0")
	}
	return nil
}

// FeedbackInput captures a daily rating.
type FeedbackInput struct {
	Date   time.Time
	Rating int
	Note   string
}

// Validate ensures input correctness.
func (in FeedbackInput) Validate() error {
	if in.Date.IsZero() {
		return invalid("date", "is required")
	}
	if in.Rating < 1 || in.Rating > 5 {
		return invalid("rating", "must be between 1 and 5")
	}
	return nil
}

// CheckInInput captures a milestone reflection.
type CheckInInput struct {
	Date          time.Time
	HourMilestone int
	Ratings       map[string]int
	Reflections   string
}

// Validate ensures input correctness.
func (in CheckInInput) Validate() error {
	if in.HourMilestone <= 0 {
		return invalid("hour_milestone", "must be > 0")
	}
	for category, rating := range in.Ratings {
		if rating < 1 || rating > 5 {
			return invalid("ratings."+category, "must be between 1 and 5")
		}
	}
	return nil
}

func (s *Service) owner() string {
	if s.identity == nil {
		return ""
	}
	if id, ok := s.identity.Current(); ok {
		return id
	}
	return ""
}

func (s *Service) newState(now time.Time) SyncState {
	return SyncState{
		ID:        uuid.NewString(),
		OwnerID:   s.owner(),
		IsSynced:  false,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// currentProfile returns the profile owned by the current identity, or the
// unclaimed device profile when nobody is signed in.
func (s *Service) currentProfile(ctx context.Context) (*Profile, error) {
	owner := s.owner()
	q := Query{Match: AnyOwner}
	if owner != "" {
		q = OwnedBy(owner)
	}
	profiles, err := s.store.Profiles(ctx, q)
	if err != nil {
		return nil, err
	}
	var current *Profile
	for i := range profiles {
		p := profiles[i]
		if owner == "" && p.Claimed() {
			continue
		}
		if current == nil || p.UpdatedAt.After(current.UpdatedAt) {
			current = &p
		}
	}
	return current, nil
}

// SaveProfile creates the device profile or edits the current one.
func (s *Service) SaveProfile(ctx context.Context, input ProfileInput) (*Profile, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	profile, err := s.currentProfile(ctx)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		profile = &Profile{SyncState: s.newState(now)}
	}
	profile.DisplayName = strings.TrimSpace(input.DisplayName)
	profile.TargetLanguage = input.TargetLanguage
	profile.Level = input.Level
	profile.DailyGoalMinutes = input.DailyGoalMinutes
	profile.MarkDirty(now)

	if err := s.commit(ctx, Changeset{Profiles: []Profile{*profile}}); err != nil {
		return nil, err
	}
	return profile, nil
}

// CreateActivity logs a new activity and adds it to the profile totals.
func (s *Service) CreateActivity(ctx context.Context, input ActivityInput) (*Activity, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	activity := Activity{
		SyncState: s.newState(now),
		Date:      input.Date.UTC(),
		Minutes:   input.Minutes,
		Category:  input.Category,
		Language:  input.Language,
		Comment:   input.Comment,
	}

	changes := Changeset{Activities: []Activity{activity}}
	if err := s.adjustTotals(ctx, &changes, input.Minutes, 1, now); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, changes); err != nil {
		return nil, err
	}
	return &activity, nil
}

// CompleteTimedActivity converts a finished stopwatch session into an activity.
func (s *Service) CompleteTimedActivity(ctx context.Context, session TimedSession) (*Activity, error) {
	if session.StartedAt.IsZero() || !session.EndedAt.After(session.StartedAt) {
		return nil, invalid("ended_at", "must be after started_at")
	}
	minutes := int(math.Round(session.EndedAt.Sub(session.StartedAt).Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return s.CreateActivity(ctx, ActivityInput{
		Date:     session.StartedAt,
		Minutes:  minutes,
		Category: session.Category,
		Language: session.Language,
		Comment:  session.Comment,
	})
}

// UpdateActivity edits an existing activity in place. The identifier is kept.
func (s *Service) UpdateActivity(ctx context.Context, id string, input ActivityInput) (*Activity, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	activity, err := s.findActivity(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	delta := input.Minutes - activity.Minutes
	activity.Date = input.Date.UTC()
	activity.Minutes = input.Minutes
	activity.Category = input.Category
	activity.Language = input.Language
	activity.Comment = input.Comment
	activity.MarkDirty(now)

	changes := Changeset{Activities: []Activity{*activity}}
	if delta != 0 {
		if err := s.adjustTotals(ctx, &changes, delta, 0, now); err != nil {
			return nil, err
		}
	}
	if err := s.commit(ctx, changes); err != nil {
		return nil, err
	}
	return activity, nil
}

// DeleteActivity removes an activity from the device only, together with its
// share of the profile totals. Already-pushed copies stay on the backend.
func (s *Service) DeleteActivity(ctx context.Context, id string) error {
	activity, err := s.findActivity(ctx, id)
	if err != nil {
		return err
	}
	changes := Changeset{Deletes: []Ref{{Kind: KindActivity, ID: id}}}
	if err := s.adjustTotals(ctx, &changes, -activity.Minutes, -1, s.now()); err != nil {
		return err
	}
	return s.commit(ctx, changes)
}

// ListActivities returns the activities visible to the current identity,
// newest first.
func (s *Service) ListActivities(ctx context.Context) ([]Activity, error) {
	owner := s.owner()
	q := Query{Match: AnyOwner}
	if owner != "" {
		q = OwnedBy(owner)
	}
	activities, err := s.store.Activities(ctx, q)
	if err != nil {
		return nil, err
	}
	out := activities[:0]
	for _, a := range activities {
		if owner == "" && a.Claimed() {
			continue
		}
		out = append(out, a)
	}
	sortActivities(out)
	return out, nil
}

// RecordFeedback stores the rating for a calendar day. A second rating for
// the same day edits the existing record.
func (s *Service) RecordFeedback(ctx context.Context, input FeedbackInput) (*DailyFeedback, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	day := Day(input.Date)
	owner := s.owner()

	existing, err := s.store.Feedback(ctx, Query{Match: AnyOwner})
	if err != nil {
		return nil, err
	}
	var feedback *DailyFeedback
	for i := range existing {
		if existing[i].OwnerID == owner && existing[i].Date.Equal(day) {
			feedback = &existing[i]
			break
		}
	}
	if feedback == nil {
		feedback = &DailyFeedback{SyncState: s.newState(now), Date: day}
	}
	feedback.Rating = input.Rating
	feedback.Note = input.Note
	feedback.MarkDirty(now)

	if err := s.commit(ctx, Changeset{Feedback: []DailyFeedback{*feedback}}); err != nil {
		return nil, err
	}
	return feedback, nil
}

// RecordCheckIn stores a milestone reflection and advances the profile's
// last-check-in marker.
func (s *Service) RecordCheckIn(ctx context.Context, input CheckInInput) (*CheckIn, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	date := input.Date
	if date.IsZero() {
		date = now
	}
	ratings := make(map[string]int, len(input.Ratings))
	for k, v := range input.Ratings {
		ratings[k] = v
	}
	checkIn := CheckIn{
		SyncState:     s.newState(now),
		Date:          date.UTC(),
		HourMilestone: input.HourMilestone,
		Ratings:       ratings,
		Reflections:   input.Reflections,
	}
	changes := Changeset{CheckIns: []CheckIn{checkIn}}

	profile, err := s.currentProfile(ctx)
	if err != nil {
		return nil, err
	}
	if profile != nil && input.HourMilestone > profile.LastCheckInHour {
		profile.LastCheckInHour = input.HourMilestone
		profile.MarkDirty(now)
		changes.Profiles = append(changes.Profiles, *profile)
	}

	if err := s.commit(ctx, changes); err != nil {
		return nil, err
	}
	return &checkIn, nil
}

func sortActivities(activities []Activity) {
	slices.SortStableFunc(activities, func(a, b Activity) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}

func (s *Service) findActivity(ctx context.Context, id string) (*Activity, error) {
	activities, err := s.store.Activities(ctx, Query{Match: AnyOwner})
	if err != nil {
		return nil, err
	}
	for i := range activities {
		if activities[i].ID == id {
			return &activities[i], nil
		}
	}
	return nil, ErrNotFound
}

// adjustTotals adds the profile edit to changes when a profile exists.
func (s *Service) adjustTotals(ctx context.Context, changes *Changeset, minutes, activities int, now time.Time) error {
	profile, err := s.currentProfile(ctx)
	if err != nil {
		return err
	}
	if profile == nil {
		return nil
	}
	profile.TotalMinutes = max(profile.TotalMinutes+minutes, 0)
	profile.TotalActivities = max(profile.TotalActivities+activities, 0)
	profile.MarkDirty(now)
	changes.Profiles = append(changes.Profiles, *profile)
	return nil
}

func (s *Service) commit(ctx context.Context, changes Changeset) error {
	if changes.Empty() {
		return nil
	}
	if err := s.store.Commit(ctx, changes); err != nil {
		return fmt.Errorf("commit local changes: %w", err)
	}
	observability.RecordLocalMutation(s.now())
	return nil
}
