// Package remote declares the backend contract the sync engine pushes to and
// pulls from. Rows are column-keyed maps so any table-oriented backend can
// serve them.
package remote

import (
	"context"
	"fmt"
)

// Backend table names.
const (
	TableProfiles      = "profiles"
	TableActivities    = "activities"
	TableDailyFeedback = "daily_feedback"
	TableCheckIns      = "check_ins"
)

// OwnerColumn is the column every table scopes rows by.
const OwnerColumn = "user_id"

// Row is one record in wire form.
type Row map[string]any

// FilterOp is a comparison used in a Select filter.
type FilterOp string

const (
	OpEq  FilterOp = "eq"
	OpNeq FilterOp = "neq"
	OpGt  FilterOp = "gt"
	OpGte FilterOp = "gte"
	OpLt  FilterOp = "lt"
	OpLte FilterOp = "lte"
)

// Filter restricts Select results to rows where Column Op Value holds.
type Filter struct {
	Column string
	Op     FilterOp
	Value  any
}

// SelectQuery describes a read.
type SelectQuery struct {
	// Columns to return; empty selects every column.
	Columns    []string
	Filters    []Filter
	OrderBy    string
	Descending bool
	// Limit caps the result size; zero means unbounded.
	Limit int
}

// Client is the backend capability used during a sync session. Every
// operation is a single remote round-trip and must be safe to retry.
type Client interface {
	// Upsert inserts rows, replacing any existing row with the same conflictKey value.
	Upsert(ctx context.Context, table string, rows []Row, conflictKey string) error
	// Insert appends rows keyed by id. A row whose id already exists replaces
	// the stored one, so re-delivery never duplicates and an edit is never lost.
	Insert(ctx context.Context, table string, rows []Row) error
	// Select reads rows.
	Select(ctx context.Context, table string, q SelectQuery) ([]Row, error)
}

// Error is a failure reported by the backend.
type Error struct {
	Op      string
	Table   string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("remote %s %s: status %d: %s", e.Op, e.Table, e.Status, msg)
	}
	return fmt.Sprintf("remote %s %s: %s", e.Op, e.Table, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}
