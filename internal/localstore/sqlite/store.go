// Package sqlite persists device records in a single SQLite file using the
// pure-Go modernc driver. Each kind lives in its own table; ownership and the
// dirty flag are real columns so sync queries filter in SQL, while the rest of
// the record is kept as a JSON payload.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"example.com/learnsync/internal/domain"
)

// Config configures the SQLite store.
type Config struct {
	// Path to the database file.
	Path string
	// BusyTimeoutMS bounds how long a writer waits for the file lock.
	BusyTimeoutMS int
}

var tables = map[domain.Kind]string{
	domain.KindProfile:       "profiles",
	domain.KindActivity:      "activities",
	domain.KindDailyFeedback: "daily_feedback",
	domain.KindCheckIn:       "check_ins",
}

// Store implements domain.Store on SQLite.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at cfg.Path and applies the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if cfg.BusyTimeoutMS <= 0 {
		cfg.BusyTimeoutMS = 5000
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeoutMS)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer per device file.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return store, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	for _, kind := range domain.Kinds {
		table := tables[kind]
		stmts := []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL DEFAULT '',
				is_synced INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL,
				payload TEXT NOT NULL
			)`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_owner_dirty ON %[1]s (owner_id, is_synced)`, table),
		}
		for _, stmt := range stmts {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("create %s: %w", table, err)
			}
		}
	}
	return nil
}

// Profiles implements domain.Store.
func (s *Store) Profiles(ctx context.Context, q domain.Query) ([]domain.Profile, error) {
	return load[domain.Profile](ctx, s.db, tables[domain.KindProfile], q)
}

// Activities implements domain.Store.
func (s *Store) Activities(ctx context.Context, q domain.Query) ([]domain.Activity, error) {
	return load[domain.Activity](ctx, s.db, tables[domain.KindActivity], q)
}

// Feedback implements domain.Store.
func (s *Store) Feedback(ctx context.Context, q domain.Query) ([]domain.DailyFeedback, error) {
	return load[domain.DailyFeedback](ctx, s.db, tables[domain.KindDailyFeedback], q)
}

// CheckIns implements domain.Store.
func (s *Store) CheckIns(ctx context.Context, q domain.Query) ([]domain.CheckIn, error) {
	return load[domain.CheckIn](ctx, s.db, tables[domain.KindCheckIn], q)
}

// Commit implements domain.Store. The whole changeset, deletes included, is
// written in one transaction.
func (s *Store) Commit(ctx context.Context, changes domain.Changeset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, p := range changes.Profiles {
		if err := upsert(ctx, tx, tables[domain.KindProfile], p.SyncState, p); err != nil {
			return err
		}
	}
	for _, a := range changes.Activities {
		if err := upsert(ctx, tx, tables[domain.KindActivity], a.SyncState, a); err != nil {
			return err
		}
	}
	for _, f := range changes.Feedback {
		if err := upsert(ctx, tx, tables[domain.KindDailyFeedback], f.SyncState, f); err != nil {
			return err
		}
	}
	for _, c := range changes.CheckIns {
		if err := upsert(ctx, tx, tables[domain.KindCheckIn], c.SyncState, c); err != nil {
			return err
		}
	}
	for _, ref := range changes.Deletes {
		if err := remove(ctx, tx, ref); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// MarkSynced implements domain.Store. The payload copy of the flag is kept
// in step with the column.
func (s *Store) MarkSynced(ctx context.Context, kind domain.Kind, versions []domain.Version) (int, error) {
	table, ok := tables[kind]
	if !ok {
		return 0, fmt.Errorf("unknown kind %q", kind)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt := fmt.Sprintf(`UPDATE %s
		SET is_synced = 1, payload = json_set(payload, '$.IsSynced', json('true'))
		WHERE id = ? AND updated_at = ?`, table)
	var marked int
	for _, v := range versions {
		res, err := tx.ExecContext(ctx, stmt, v.ID, v.UpdatedAt.UnixNano())
		if err != nil {
			return 0, fmt.Errorf("mark %s %s synced: %w", kind, v.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		marked += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return marked, nil
}

// Claim implements domain.Store. The payload copies of the owner, flag and
// timestamp are kept in step with the columns.
func (s *Store) Claim(ctx context.Context, owner string, now time.Time, versions map[domain.Kind][]domain.Version) (map[domain.Kind]int, error) {
	for kind := range versions {
		if _, ok := tables[kind]; !ok {
			return nil, fmt.Errorf("unknown kind %q", kind)
		}
	}
	now = now.UTC()
	stamp, err := json.Marshal(now)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	claimed := make(map[domain.Kind]int, len(versions))
	for _, kind := range domain.Kinds {
		stmt := fmt.Sprintf(`UPDATE %s
			SET owner_id = ?, is_synced = 0, updated_at = ?,
				payload = json_set(payload, '$.OwnerID', ?, '$.IsSynced', json('false'), '$.UpdatedAt', json(?))
			WHERE id = ? AND updated_at = ?`, tables[kind])
		for _, v := range versions[kind] {
			res, err := tx.ExecContext(ctx, stmt, owner, now.UnixNano(), owner, string(stamp), v.ID, v.UpdatedAt.UnixNano())
			if err != nil {
				return nil, fmt.Errorf("claim %s %s: %w", kind, v.ID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return nil, err
			}
			claimed[kind] += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return claimed, nil
}

func remove(ctx context.Context, tx *sql.Tx, ref domain.Ref) error {
	table, ok := tables[ref.Kind]
	if !ok {
		return fmt.Errorf("unknown kind %q", ref.Kind)
	}
	res, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), ref.ID)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", ref.Kind, ref.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("delete %s %s: %w", ref.Kind, ref.ID, domain.ErrNotFound)
	}
	return nil
}

func upsert(ctx context.Context, tx *sql.Tx, table string, state domain.SyncState, record any) error {
	if state.ID == "" {
		return fmt.Errorf("%s: id is required", table)
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", table, state.ID, err)
	}
	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, owner_id, is_synced, created_at, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			is_synced = excluded.is_synced,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			payload = excluded.payload`, table)
	_, err = tx.ExecContext(ctx, stmt,
		state.ID,
		state.OwnerID,
		boolToInt(state.IsSynced),
		state.CreatedAt.UnixNano(),
		state.UpdatedAt.UnixNano(),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("upsert %s %s: %w", table, state.ID, err)
	}
	return nil
}

func load[T any](ctx context.Context, db *sql.DB, table string, q domain.Query) ([]T, error) {
	var (
		conditions []string
		args       []any
	)
	switch q.Match {
	case domain.OwnerEquals:
		conditions = append(conditions, "owner_id <> '' AND owner_id = ?")
		args = append(args, q.Owner)
	case domain.OwnerNotEquals:
		conditions = append(conditions, "(owner_id = '' OR owner_id <> ?)")
		args = append(args, q.Owner)
	}
	if q.UnsyncedOnly {
		conditions = append(conditions, "is_synced = 0")
	}

	query := "SELECT payload FROM " + table
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		var record T
		if err := json.Unmarshal([]byte(payload), &record); err != nil {
			return nil, fmt.Errorf("decode %s: %w", table, err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
