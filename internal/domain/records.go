// Package domain defines the syncable records kept on the device and the
// local mutation workflows that keep their dirty flags exact.
package domain

import (
	"time"
)

// Kind names a syncable entity type.
type Kind string

const (
	KindProfile       Kind = "profile"
	KindActivity      Kind = "activity"
	KindDailyFeedback Kind = "daily_feedback"
	KindCheckIn       Kind = "check_in"
)

// Kinds lists every syncable kind in push order.
var Kinds = []Kind{KindProfile, KindActivity, KindDailyFeedback, KindCheckIn}

// SyncState carries the identity-ownership and dirty-tracking fields shared by
// every syncable record.
type SyncState struct {
	ID string
	// OwnerID is empty until an authenticated identity claims the record.
	OwnerID   string
	IsSynced  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MarkDirty records a local mutation.
func (s *SyncState) MarkDirty(now time.Time) {
	s.IsSynced = false
	s.UpdatedAt = now.UTC()
}

// MarkSynced records a confirmed push of the current state.
func (s *SyncState) MarkSynced() {
	s.IsSynced = true
}

// Claimed reports whether an identity owns the record.
func (s SyncState) Claimed() bool {
	return s.OwnerID != ""
}

// OwnedBy reports whether identity owns the record.
func (s SyncState) OwnedBy(identity string) bool {
	return s.OwnerID != "" && s.OwnerID == identity
}

// Profile is the learner's settings and running totals. There is one per
// owner identity; before authentication the device keeps a single unclaimed one.
type Profile struct {
	SyncState
	DisplayName      string
	TargetLanguage   string
	Level            string
	DailyGoalMinutes int
	TotalMinutes     int
	TotalActivities  int
	// LastCheckInHour is the most recent hour milestone a check-in was recorded for.
	LastCheckInHour int
}

// ActivityCategory classifies a logged learning activity.
type ActivityCategory string

const (
	CategoryWatching  ActivityCategory = "watching"
	CategoryReading   ActivityCategory = "reading"
	CategoryListening ActivityCategory = "listening"
	CategorySpeaking  ActivityCategory = "speaking"
	CategoryWriting   ActivityCategory = "writing"
	CategoryTutoring  ActivityCategory = "tutoring"
	CategoryOther     ActivityCategory = "other"
)

// Valid reports whether the category is one of the known values.
func (c ActivityCategory) Valid() bool {
	switch c {
	case CategoryWatching, CategoryReading, CategoryListening, CategorySpeaking, CategoryWriting, CategoryTutoring, CategoryOther:
		return true
	}
	return false
}

// Activity is an append-mostly log entry of time spent learning.
type Activity struct {
	SyncState
	Date     time.Time
	Minutes  int
	Category ActivityCategory
	Language string
	Comment  string
}

// DailyFeedback is the learner's rating of a calendar day.
type DailyFeedback struct {
	SyncState
	Date   time.Time
	Rating int
	Note   string
}

// CheckIn is a reflection recorded when the learner crosses an hour milestone.
type CheckIn struct {
	SyncState
	Date          time.Time
	HourMilestone int
	Ratings       map[string]int
	Reflections   string
}

// LeaderboardEntry is a read-only row of the aggregate leaderboard. It is
// never stored locally.
type LeaderboardEntry struct {
	Rank           int    `json:"rank"`
	OwnerID        string `json:"user_id"`
	DisplayName    string `json:"display_name"`
	TargetLanguage string `json:"target_language"`
	TotalMinutes   int    `json:"total_minutes"`
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
