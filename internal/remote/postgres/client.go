package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/learnsync/internal/remote"
)

// Client implements remote.Client over a multi-tenant Postgres database.
// Writes run in one transaction per call with app.tenant_id set to each
// row's owner so row-level security policies apply.
type Client struct {
	pool *pgxpool.Pool
}

// NewClient constructs a Client.
func NewClient(pool *pgxpool.Pool) *Client {
	return &Client{pool: pool}
}

// Connect opens a pool for url and verifies it with a ping.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Upsert implements remote.Client.
func (c *Client) Upsert(ctx context.Context, table string, rows []remote.Row, conflictKey string) error {
	if len(rows) == 0 {
		return nil
	}
	columns := columnsOf(rows)
	if !contains(columns, conflictKey) {
		return &remote.Error{Op: "upsert", Table: table, Message: "missing conflict column " + conflictKey}
	}

	if err := c.write(ctx, table, columns, rows, onConflictUpdate(columns, conflictKey)); err != nil {
		return &remote.Error{Op: "upsert", Table: table, Err: err}
	}
	return nil
}

// Insert implements remote.Client. The id column is the dedup key; a
// re-delivered id overwrites the stored row.
func (c *Client) Insert(ctx context.Context, table string, rows []remote.Row) error {
	if len(rows) == 0 {
		return nil
	}
	columns := columnsOf(rows)
	if !contains(columns, "id") {
		return &remote.Error{Op: "insert", Table: table, Message: "missing id column"}
	}
	if err := c.write(ctx, table, columns, rows, onConflictUpdate(columns, "id")); err != nil {
		return &remote.Error{Op: "insert", Table: table, Err: err}
	}
	return nil
}

// onConflictUpdate overwrites every non-key column on a key collision.
func onConflictUpdate(columns []string, key string) string {
	target := pgx.Identifier{key}.Sanitize()
	var updates []string
	for _, col := range columns {
		if col == key {
			continue
		}
		ident := pgx.Identifier{col}.Sanitize()
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", ident, ident))
	}
	if len(updates) == 0 {
		return fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", target)
	}
	return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", target, strings.Join(updates, ", "))
}

func (c *Client) write(ctx context.Context, table string, columns []string, rows []remote.Row, onConflict string) (err error) {
	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = pgx.Identifier{col}.Sanitize()
	}
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", pgx.Identifier{table}.Sanitize(), strings.Join(quoted, ", "))

	for _, group := range groupByOwner(rows) {
		if _, err = tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", group.owner); err != nil {
			return err
		}

		args := make([]any, 0, len(group.rows)*len(columns))
		tuples := make([]string, 0, len(group.rows))
		for _, row := range group.rows {
			placeholders := make([]string, len(columns))
			for i, col := range columns {
				args = append(args, row[col])
				placeholders[i] = fmt.Sprintf("$%d", len(args))
			}
			tuples = append(tuples, "("+strings.Join(placeholders, ",")+")")
		}
		if _, err = tx.Exec(ctx, prefix+strings.Join(tuples, ",")+" "+onConflict, args...); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// Select implements remote.Client. When the query filters on the owner
// column the read is tenant scoped; otherwise it sees whatever the
// database exposes to every tenant (the leaderboard view).
func (c *Client) Select(ctx context.Context, table string, q remote.SelectQuery) ([]remote.Row, error) {
	query, args, err := buildSelect(table, q)
	if err != nil {
		return nil, &remote.Error{Op: "select", Table: table, Err: err}
	}

	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, &remote.Error{Op: "select", Table: table, Err: err}
	}
	defer tx.Rollback(ctx)

	for _, f := range q.Filters {
		if f.Column == remote.OwnerColumn && f.Op == remote.OpEq {
			if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", fmt.Sprint(f.Value)); err != nil {
				return nil, &remote.Error{Op: "select", Table: table, Err: err}
			}
			break
		}
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, &remote.Error{Op: "select", Table: table, Err: err}
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := make([]remote.Row, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, &remote.Error{Op: "select", Table: table, Err: err}
		}
		row := make(remote.Row, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &remote.Error{Op: "select", Table: table, Err: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, &remote.Error{Op: "select", Table: table, Err: err}
	}
	return out, nil
}

var sqlOps = map[remote.FilterOp]string{
	remote.OpEq:  "=",
	remote.OpNeq: "<>",
	remote.OpGt:  ">",
	remote.OpGte: ">=",
	remote.OpLt:  "<",
	remote.OpLte: "<=",
}

func buildSelect(table string, q remote.SelectQuery) (string, []any, error) {
	cols := "*"
	if len(q.Columns) > 0 {
		quoted := make([]string, len(q.Columns))
		for i, col := range q.Columns {
			quoted[i] = pgx.Identifier{col}.Sanitize()
		}
		cols = strings.Join(quoted, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", cols, pgx.Identifier{table}.Sanitize())

	var args []any
	for i, f := range q.Filters {
		op, ok := sqlOps[f.Op]
		if !ok {
			return "", nil, fmt.Errorf("unsupported filter op %q", f.Op)
		}
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		args = append(args, f.Value)
		fmt.Fprintf(&b, "%s %s $%d", pgx.Identifier{f.Column}.Sanitize(), op, len(args))
	}
	if q.OrderBy != "" {
		dir := "ASC"
		if q.Descending {
			dir = "DESC"
		}
		fmt.Fprintf(&b, " ORDER BY %s %s", pgx.Identifier{q.OrderBy}.Sanitize(), dir)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}
	return b.String(), args, nil
}

type ownerGroup struct {
	owner string
	rows  []remote.Row
}

// groupByOwner keeps first-seen owner order.
func groupByOwner(rows []remote.Row) []ownerGroup {
	index := make(map[string]int)
	var groups []ownerGroup
	for _, row := range rows {
		owner := fmt.Sprint(row[remote.OwnerColumn])
		i, ok := index[owner]
		if !ok {
			i = len(groups)
			index[owner] = i
			groups = append(groups, ownerGroup{owner: owner})
		}
		groups[i].rows = append(groups[i].rows, row)
	}
	return groups
}

func columnsOf(rows []remote.Row) []string {
	seen := make(map[string]struct{})
	for _, row := range rows {
		for col := range row {
			seen[col] = struct{}{}
		}
	}
	columns := make([]string, 0, len(seen))
	for col := range seen {
		columns = append(columns, col)
	}
	sort.Strings(columns)
	return columns
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
