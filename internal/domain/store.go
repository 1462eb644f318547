package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a local record cannot be located.
var ErrNotFound = errors.New("record not found")

// OwnerMatch selects how Query.Owner filters records.
type OwnerMatch int

const (
	// AnyOwner ignores ownership.
	AnyOwner OwnerMatch = iota
	// OwnerEquals keeps records owned by Query.Owner.
	OwnerEquals
	// OwnerNotEquals keeps records that are unclaimed or owned by someone other than Query.Owner.
	OwnerNotEquals
)

// Query filters local reads.
type Query struct {
	Owner        string
	Match        OwnerMatch
	UnsyncedOnly bool
}

// OwnedBy builds a query for records owned by identity.
func OwnedBy(identity string) Query {
	return Query{Owner: identity, Match: OwnerEquals}
}

// DirtyOwnedBy builds a query for unsynced records owned by identity.
func DirtyOwnedBy(identity string) Query {
	return Query{Owner: identity, Match: OwnerEquals, UnsyncedOnly: true}
}

// NotOwnedBy builds a query for unclaimed or mis-owned records.
func NotOwnedBy(identity string) Query {
	return Query{Owner: identity, Match: OwnerNotEquals}
}

// Matches reports whether the record state passes the filter.
func (q Query) Matches(s SyncState) bool {
	if q.UnsyncedOnly && s.IsSynced {
		return false
	}
	switch q.Match {
	case OwnerEquals:
		return s.OwnerID != "" && s.OwnerID == q.Owner
	case OwnerNotEquals:
		return s.OwnerID == "" || s.OwnerID != q.Owner
	}
	return true
}

// Ref names one stored record.
type Ref struct {
	Kind Kind
	ID   string
}

// Changeset is a batch of writes applied to the local store in one atomic
// commit. Records are upserted by ID, then Deletes are removed. Deleting a
// record that does not exist fails the whole commit with ErrNotFound.
type Changeset struct {
	Profiles   []Profile
	Activities []Activity
	Feedback   []DailyFeedback
	CheckIns   []CheckIn
	Deletes    []Ref
}

// Len returns the number of writes in the changeset.
func (c Changeset) Len() int {
	return len(c.Profiles) + len(c.Activities) + len(c.Feedback) + len(c.CheckIns) + len(c.Deletes)
}

// Empty reports whether the changeset carries no records.
func (c Changeset) Empty() bool {
	return c.Len() == 0
}

// Version identifies one observed state of a record.
type Version struct {
	ID        string
	UpdatedAt time.Time
}

// VersionOf returns the version of s.
func VersionOf(s SyncState) Version {
	return Version{ID: s.ID, UpdatedAt: s.UpdatedAt}
}

// Store is the device-local persistent store. Reads return copies; all
// writes are explicit atomic commits.
type Store interface {
	Profiles(ctx context.Context, q Query) ([]Profile, error)
	Activities(ctx context.Context, q Query) ([]Activity, error)
	Feedback(ctx context.Context, q Query) ([]DailyFeedback, error)
	CheckIns(ctx context.Context, q Query) ([]CheckIn, error)
	Commit(ctx context.Context, changes Changeset) error
	// MarkSynced sets IsSynced on every listed record whose UpdatedAt still
	// equals the given version, in one atomic commit. Records edited since
	// that version stay dirty. It returns how many records were marked.
	MarkSynced(ctx context.Context, kind Kind, versions []Version) (int, error)
	// Claim hands the listed records to owner and marks them dirty at now,
	// in one atomic commit. As with MarkSynced, a record whose UpdatedAt no
	// longer equals its listed version is left alone. It returns the number
	// of records claimed per kind.
	Claim(ctx context.Context, owner string, now time.Time, versions map[Kind][]Version) (map[Kind]int, error)
}

// IdentityProvider exposes the current authenticated identity, if any.
type IdentityProvider interface {
	Current() (string, bool)
}
