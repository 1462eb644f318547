// Package adapter maps local records to and from their backend row form and
// decides which records are too malformed to push.
//
// Each syncable kind is described by an Entity: where it lives remotely, how
// it is written (upsert on a conflict key, or insert), how it converts, and
// how the engine reaches its local copies. The sync engine drives every kind
// through the same generic push path using these descriptors.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"example.com/learnsync/internal/domain"
	"example.com/learnsync/internal/remote"
)

// WriteMode selects the remote operation used to push a kind.
type WriteMode int

const (
	// Upsert replaces any remote row with the same conflict key.
	Upsert WriteMode = iota
	// Insert appends rows; the backend ignores ids it already has.
	Insert
)

// OwnerParser rejects owner identities the backend cannot accept.
type OwnerParser func(owner string) error

// ErrMalformed marks records that are skipped instead of pushed.
var ErrMalformed = errors.New("malformed record")

// OpaqueOwners accepts any non-empty identity without whitespace.
func OpaqueOwners(owner string) error {
	if owner == "" {
		return fmt.Errorf("%w: owner is empty", ErrMalformed)
	}
	if strings.IndexFunc(owner, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: owner %q contains whitespace", ErrMalformed, owner)
	}
	return nil
}

// UUIDOwners requires RFC 4122 identities, as issued by hosted auth backends.
func UUIDOwners(owner string) error {
	if _, err := uuid.Parse(owner); err != nil {
		return fmt.Errorf("%w: owner %q is not a uuid", ErrMalformed, owner)
	}
	return nil
}

// Entity describes one syncable kind.
type Entity[T any] struct {
	Kind        domain.Kind
	Table       string
	Mode        WriteMode
	ConflictKey string

	// State exposes the embedded sync fields of a record.
	State func(*T) *domain.SyncState
	// Load reads local records matching q.
	Load func(ctx context.Context, store domain.Store, q domain.Query) ([]T, error)

	// ToWire is total and pure.
	ToWire func(T) remote.Row
	// FromWire rebuilds a record from a backend row. The result is marked synced.
	FromWire func(remote.Row) (T, error)
	// Validate reports kind-specific malformations. May be nil.
	Validate func(T) error
}

// Check reports whether rec may be pushed.
func (e Entity[T]) Check(rec T, owners OwnerParser) error {
	if owners == nil {
		owners = OpaqueOwners
	}
	state := e.State(&rec)
	if state.ID == "" {
		return fmt.Errorf("%w: %s has no id", ErrMalformed, e.Kind)
	}
	if err := owners(state.OwnerID); err != nil {
		return err
	}
	if e.Validate != nil {
		if err := e.Validate(rec); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	return nil
}

// Partition splits records into pushable rows and rejected records.
// Rows and valid keep the same order.
func (e Entity[T]) Partition(records []T, owners OwnerParser) (valid []T, rows []remote.Row, rejected []Rejection) {
	for _, rec := range records {
		if err := e.Check(rec, owners); err != nil {
			rejected = append(rejected, Rejection{Kind: e.Kind, ID: e.State(&rec).ID, Err: err})
			continue
		}
		valid = append(valid, rec)
		rows = append(rows, e.ToWire(rec))
	}
	return valid, rows, rejected
}

// Rejection records why a record was not pushed.
type Rejection struct {
	Kind domain.Kind
	ID   string
	Err  error
}

func syncState(state domain.SyncState, row remote.Row) (domain.SyncState, error) {
	var err error
	if state.ID, err = row.String("id"); err != nil {
		return state, err
	}
	if state.OwnerID, err = row.String(remote.OwnerColumn); err != nil {
		return state, err
	}
	if state.CreatedAt, err = row.Time("created_at"); err != nil {
		return state, err
	}
	if state.UpdatedAt, err = row.Time("updated_at"); err != nil {
		return state, err
	}
	state.IsSynced = true
	return state, nil
}

func stateColumns(s domain.SyncState, row remote.Row) remote.Row {
	row["id"] = s.ID
	row[remote.OwnerColumn] = s.OwnerID
	row["created_at"] = s.CreatedAt.UTC()
	row["updated_at"] = s.UpdatedAt.UTC()
	return row
}
