package adapter

import (
	"context"
	"fmt"
	"time"

	"example.com/learnsync/internal/domain"
	"example.com/learnsync/internal/remote"
)

// Profiles is pushed every session, upserted on the owner column.
var Profiles = Entity[domain.Profile]{
	Kind:        domain.KindProfile,
	Table:       remote.TableProfiles,
	Mode:        Upsert,
	ConflictKey: remote.OwnerColumn,
	State:       func(p *domain.Profile) *domain.SyncState { return &p.SyncState },
	Load: func(ctx context.Context, store domain.Store, q domain.Query) ([]domain.Profile, error) {
		return store.Profiles(ctx, q)
	},
	ToWire: func(p domain.Profile) remote.Row {
		return stateColumns(p.SyncState, remote.Row{
			"display_name":       p.DisplayName,
			"target_language":    p.TargetLanguage,
			"level":              p.Level,
			"daily_goal_minutes": p.DailyGoalMinutes,
			"total_minutes":      p.TotalMinutes,
			"total_activities":   p.TotalActivities,
			"last_check_in_hour": p.LastCheckInHour,
		})
	},
	FromWire: func(row remote.Row) (domain.Profile, error) {
		var (
			p   domain.Profile
			err error
		)
		if p.SyncState, err = syncState(p.SyncState, row); err != nil {
			return p, err
		}
		r := reader{row: row}
		p.DisplayName = r.str("display_name")
		p.TargetLanguage = r.str("target_language")
		p.Level = r.str("level")
		p.DailyGoalMinutes = r.integer("daily_goal_minutes")
		p.TotalMinutes = r.integer("total_minutes")
		p.TotalActivities = r.integer("total_activities")
		p.LastCheckInHour = r.integer("last_check_in_hour")
		return p, r.err
	},
	Validate: func(p domain.Profile) error {
		if p.TotalMinutes < 0 || p.TotalActivities < 0 || p.DailyGoalMinutes < 0 {
			return fmt.Errorf("profile %s has negative totals", p.ID)
		}
		return nil
	},
}

// Activities are inserted keyed by id; re-sending an edited activity
// overwrites the pushed copy.
var Activities = Entity[domain.Activity]{
	Kind:  domain.KindActivity,
	Table: remote.TableActivities,
	Mode:  Insert,
	State: func(a *domain.Activity) *domain.SyncState { return &a.SyncState },
	Load: func(ctx context.Context, store domain.Store, q domain.Query) ([]domain.Activity, error) {
		return store.Activities(ctx, q)
	},
	ToWire: func(a domain.Activity) remote.Row {
		return stateColumns(a.SyncState, remote.Row{
			"date":          a.Date.UTC().Format(remote.DateLayout),
			"minutes":       a.Minutes,
			"activity_type": string(a.Category),
			"language":      a.Language,
			"comment":       a.Comment,
		})
	},
	FromWire: func(row remote.Row) (domain.Activity, error) {
		var (
			a   domain.Activity
			err error
		)
		if a.SyncState, err = syncState(a.SyncState, row); err != nil {
			return a, err
		}
		r := reader{row: row}
		a.Date = r.timestamp("date")
		a.Minutes = r.integer("minutes")
		a.Category = domain.ActivityCategory(r.str("activity_type"))
		a.Language = r.str("language")
		a.Comment = r.str("comment")
		return a, r.err
	},
	Validate: func(a domain.Activity) error {
		if a.Minutes < 0 {
			return fmt.Errorf("activity %s has negative minutes", a.ID)
		}
		if a.Date.IsZero() {
			return fmt.Errorf("activity %s has no date", a.ID)
		}
		return nil
	},
}

// Feedback is upserted by id so an edited rating replaces the pushed one.
var Feedback = Entity[domain.DailyFeedback]{
	Kind:        domain.KindDailyFeedback,
	Table:       remote.TableDailyFeedback,
	Mode:        Upsert,
	ConflictKey: "id",
	State:       func(f *domain.DailyFeedback) *domain.SyncState { return &f.SyncState },
	Load: func(ctx context.Context, store domain.Store, q domain.Query) ([]domain.DailyFeedback, error) {
		return store.Feedback(ctx, q)
	},
	ToWire: func(f domain.DailyFeedback) remote.Row {
		return stateColumns(f.SyncState, remote.Row{
			"date":   f.Date.UTC().Format(remote.DateLayout),
			"rating": f.Rating,
			"note":   f.Note,
		})
	},
	FromWire: func(row remote.Row) (domain.DailyFeedback, error) {
		var (
			f   domain.DailyFeedback
			err error
		)
		if f.SyncState, err = syncState(f.SyncState, row); err != nil {
			return f, err
		}
		r := reader{row: row}
		f.Date = domain.Day(r.timestamp("date"))
		f.Rating = r.integer("rating")
		f.Note = r.str("note")
		return f, r.err
	},
	Validate: func(f domain.DailyFeedback) error {
		if f.Rating < 1 || f.Rating > 5 {
			return fmt.Errorf("feedback %s rating %d out of range", f.ID, f.Rating)
		}
		return nil
	},
}

// CheckIns are upserted by id.
var CheckIns = Entity[domain.CheckIn]{
	Kind:        domain.KindCheckIn,
	Table:       remote.TableCheckIns,
	Mode:        Upsert,
	ConflictKey: "id",
	State:       func(c *domain.CheckIn) *domain.SyncState { return &c.SyncState },
	Load: func(ctx context.Context, store domain.Store, q domain.Query) ([]domain.CheckIn, error) {
		return store.CheckIns(ctx, q)
	},
	ToWire: func(c domain.CheckIn) remote.Row {
		ratings := make(map[string]int, len(c.Ratings))
		for k, v := range c.Ratings {
			ratings[k] = v
		}
		return stateColumns(c.SyncState, remote.Row{
			"date":           c.Date.UTC(),
			"hour_milestone": c.HourMilestone,
			"ratings":        ratings,
			"reflections":    c.Reflections,
		})
	},
	FromWire: func(row remote.Row) (domain.CheckIn, error) {
		var (
			c   domain.CheckIn
			err error
		)
		if c.SyncState, err = syncState(c.SyncState, row); err != nil {
			return c, err
		}
		r := reader{row: row}
		c.Date = r.timestamp("date")
		c.HourMilestone = r.integer("hour_milestone")
		c.Reflections = r.str("reflections")
		if r.err == nil {
			c.Ratings, r.err = row.IntMap("ratings")
		}
		return c, r.err
	},
	Validate: func(c domain.CheckIn) error {
		if c.HourMilestone <= 0 {
			return fmt.Errorf("check-in %s milestone %d is not positive", c.ID, c.HourMilestone)
		}
		for category, rating := range c.Ratings {
			if rating < 1 || rating > 5 {
				return fmt.Errorf("check-in %s rating %s=%d out of range", c.ID, category, rating)
			}
		}
		return nil
	},
}

// LeaderboardColumns are the profile columns a leaderboard pull reads.
var LeaderboardColumns = []string{remote.OwnerColumn, "display_name", "target_language", "total_minutes"}

// LeaderboardFromWire ranks rows in the order the backend returned them.
func LeaderboardFromWire(rows []remote.Row) ([]domain.LeaderboardEntry, error) {
	out := make([]domain.LeaderboardEntry, 0, len(rows))
	for i, row := range rows {
		r := reader{row: row}
		entry := domain.LeaderboardEntry{
			Rank:           i + 1,
			OwnerID:        r.str(remote.OwnerColumn),
			DisplayName:    r.str("display_name"),
			TargetLanguage: r.str("target_language"),
			TotalMinutes:   r.integer("total_minutes"),
		}
		if r.err != nil {
			return nil, fmt.Errorf("leaderboard row %d: %w", i, r.err)
		}
		out = append(out, entry)
	}
	return out, nil
}

// reader keeps the first conversion error.
type reader struct {
	row remote.Row
	err error
}

func (r *reader) str(col string) string {
	if r.err != nil {
		return ""
	}
	v, err := r.row.String(col)
	r.err = err
	return v
}

func (r *reader) integer(col string) int {
	if r.err != nil {
		return 0
	}
	v, err := r.row.Int(col)
	r.err = err
	return v
}

func (r *reader) timestamp(col string) (t time.Time) {
	if r.err != nil {
		return t
	}
	t, r.err = r.row.Time(col)
	return t
}
