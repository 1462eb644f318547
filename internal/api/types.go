package api

import (
	"fmt"
	"time"

	"example.com/learnsync/internal/domain"
)

const dayLayout = "2006-01-02"

// SessionRequest is the payload for PUT /v1/session.
type SessionRequest struct {
	Token string `json:"token"`
}

// SessionResponse describes the signed-in identity.
type SessionResponse struct {
	UserID    string    `json:"user_id,omitempty"`
	SignedIn  bool      `json:"signed_in"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// ProfileRequest is the payload for PUT /v1/profile.
type ProfileRequest struct {
	DisplayName      string `json:"display_name"`
	TargetLanguage   string `json:"target_language"`
	Level            string `json:"level"`
	DailyGoalMinutes int    `json:"daily_goal_minutes"`
}

// ProfileView exposes the local profile.
type ProfileView struct {
	ID               string `json:"id"`
	UserID           string `json:"user_id,omitempty"`
	DisplayName      string `json:"display_name"`
	TargetLanguage   string `json:"target_language"`
	Level            string `json:"level"`
	DailyGoalMinutes int    `json:"daily_goal_minutes"`
	TotalMinutes     int    `json:"total_minutes"`
	TotalActivities  int    `json:"total_activities"`
	IsSynced         bool   `json:"is_synced"`
}

// ActivityRequest is the payload for POST /v1/activities and PUT /v1/activities/{id}.
// A request carrying both started_at and ended_at records a timed session.
type ActivityRequest struct {
	Date      string     `json:"date"`
	Minutes   int        `json:"minutes"`
	Category  string     `json:"activity_type"`
	Language  string     `json:"language"`
	Comment   string     `json:"comment"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

func (r ActivityRequest) input() (domain.ActivityInput, error) {
	date, err := parseDay(r.Date)
	if err != nil {
		return domain.ActivityInput{}, err
	}
	return domain.ActivityInput{
		Date:     date,
		Minutes:  r.Minutes,
		Category: domain.ActivityCategory(r.Category),
		Language: r.Language,
		Comment:  r.Comment,
	}, nil
}

// ActivityView exposes a local activity with its sync state.
type ActivityView struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Date      string    `json:"date"`
	Minutes   int       `json:"minutes"`
	Category  string    `json:"activity_type"`
	Language  string    `json:"language"`
	Comment   string    `json:"comment,omitempty"`
	IsSynced  bool      `json:"is_synced"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items []ActivityView `json:"items"`
}

// FeedbackRequest is the payload for POST /v1/feedback.
type FeedbackRequest struct {
	Date   string `json:"date"`
	Rating int    `json:"rating"`
	Note   string `json:"note"`
}

// FeedbackView exposes a daily rating.
type FeedbackView struct {
	ID       string `json:"id"`
	Date     string `json:"date"`
	Rating   int    `json:"rating"`
	Note     string `json:"note,omitempty"`
	IsSynced bool   `json:"is_synced"`
}

// CheckInRequest is the payload for POST /v1/checkins.
type CheckInRequest struct {
	Date          string         `json:"date"`
	HourMilestone int            `json:"hour_milestone"`
	Ratings       map[string]int `json:"ratings"`
	Reflections   string         `json:"reflections"`
}

// CheckInView exposes a recorded check-in.
type CheckInView struct {
	ID            string         `json:"id"`
	HourMilestone int            `json:"hour_milestone"`
	Ratings       map[string]int `json:"ratings"`
	Reflections   string         `json:"reflections,omitempty"`
	IsSynced      bool           `json:"is_synced"`
}

// LeaderboardResponse lists the top learners.
type LeaderboardResponse struct {
	Items []domain.LeaderboardEntry `json:"items"`
}

// parseDay accepts YYYY-MM-DD. An empty value means today.
func parseDay(raw string) (time.Time, error) {
	if raw == "" {
		return domain.Day(time.Now()), nil
	}
	t, err := time.Parse(dayLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be YYYY-MM-DD: %q", raw)
	}
	return t, nil
}

func toActivityView(a domain.Activity) ActivityView {
	return ActivityView{
		ID:        a.ID,
		UserID:    a.OwnerID,
		Date:      a.Date.Format(dayLayout),
		Minutes:   a.Minutes,
		Category:  string(a.Category),
		Language:  a.Language,
		Comment:   a.Comment,
		IsSynced:  a.IsSynced,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func toProfileView(p domain.Profile) ProfileView {
	return ProfileView{
		ID:               p.ID,
		UserID:           p.OwnerID,
		DisplayName:      p.DisplayName,
		TargetLanguage:   p.TargetLanguage,
		Level:            p.Level,
		DailyGoalMinutes: p.DailyGoalMinutes,
		TotalMinutes:     p.TotalMinutes,
		TotalActivities:  p.TotalActivities,
		IsSynced:         p.IsSynced,
	}
}
