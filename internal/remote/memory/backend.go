// Package memory implements remote.Client in process. It backs the engine
// tests and the offline demo mode of the CLI.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"example.com/learnsync/internal/remote"
)

// Op names a remote operation for counters and failure injection.
type Op string

const (
	OpUpsert Op = "upsert"
	OpInsert Op = "insert"
	OpSelect Op = "select"
)

type callKey struct {
	op    Op
	table string
}

type failure struct {
	err     error
	oneShot bool
}

// Backend stores rows per table and counts every call it receives.
type Backend struct {
	mu       sync.Mutex
	tables   map[string][]remote.Row
	calls    map[callKey]int
	sequence []string
	failures map[callKey]failure
	delay    time.Duration
}

// New constructs an empty backend.
func New() *Backend {
	return &Backend{
		tables:   make(map[string][]remote.Row),
		calls:    make(map[callKey]int),
		failures: make(map[callKey]failure),
	}
}

// FailNext makes the next op on table return err.
func (b *Backend) FailNext(op Op, table string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[callKey{op, table}] = failure{err: err, oneShot: true}
}

// Fail makes every op on table return err until Recover is called.
func (b *Backend) Fail(op Op, table string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[callKey{op, table}] = failure{err: err}
}

// Recover clears all injected failures.
func (b *Backend) Recover() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = make(map[callKey]failure)
}

// SetDelay makes every call block for d (or until ctx is done).
func (b *Backend) SetDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delay = d
}

// Calls returns how many times op was invoked on table, failed calls included.
func (b *Backend) Calls(op Op, table string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[callKey{op, table}]
}

// Sequence returns "op:table" for every call in arrival order.
func (b *Backend) Sequence() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.sequence...)
}

// Rows returns a copy of every row stored in table.
func (b *Backend) Rows(table string) []remote.Row {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]remote.Row, len(b.tables[table]))
	for i, row := range b.tables[table] {
		out[i] = cloneRow(row)
	}
	return out
}

// Seed stores rows without counting a call.
func (b *Backend) Seed(table string, rows ...remote.Row) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, row := range rows {
		b.tables[table] = append(b.tables[table], cloneRow(row))
	}
}

// Upsert implements remote.Client.
func (b *Backend) Upsert(ctx context.Context, table string, rows []remote.Row, conflictKey string) error {
	if err := b.begin(ctx, OpUpsert, table); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, row := range rows {
		if _, ok := row[conflictKey]; !ok {
			return &remote.Error{Op: string(OpUpsert), Table: table, Status: 400, Message: "missing conflict column " + conflictKey}
		}
	}
	for _, row := range rows {
		if i := b.find(table, conflictKey, row[conflictKey]); i >= 0 {
			b.tables[table][i] = cloneRow(row)
			continue
		}
		b.tables[table] = append(b.tables[table], cloneRow(row))
	}
	return nil
}

// Insert implements remote.Client.
func (b *Backend) Insert(ctx context.Context, table string, rows []remote.Row) error {
	if err := b.begin(ctx, OpInsert, table); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, row := range rows {
		if i := b.find(table, "id", row["id"]); i >= 0 {
			b.tables[table][i] = cloneRow(row)
			continue
		}
		b.tables[table] = append(b.tables[table], cloneRow(row))
	}
	return nil
}

// Select implements remote.Client.
func (b *Backend) Select(ctx context.Context, table string, q remote.SelectQuery) ([]remote.Row, error) {
	if err := b.begin(ctx, OpSelect, table); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]remote.Row, 0)
	for _, row := range b.tables[table] {
		if matches(row, q.Filters) {
			out = append(out, project(row, q.Columns))
		}
	}
	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			c := compare(out[i][q.OrderBy], out[j][q.OrderBy])
			if q.Descending {
				return c > 0
			}
			return c < 0
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (b *Backend) begin(ctx context.Context, op Op, table string) error {
	b.mu.Lock()
	key := callKey{op, table}
	b.calls[key]++
	b.sequence = append(b.sequence, fmt.Sprintf("%s:%s", op, table))
	f, failing := b.failures[key]
	if failing && f.oneShot {
		delete(b.failures, key)
	}
	delay := b.delay
	b.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &remote.Error{Op: string(op), Table: table, Err: ctx.Err()}
		}
	}
	if failing {
		return &remote.Error{Op: string(op), Table: table, Err: f.err}
	}
	return ctx.Err()
}

func (b *Backend) find(table, column string, value any) int {
	for i, row := range b.tables[table] {
		if equal(row[column], value) {
			return i
		}
	}
	return -1
}

func matches(row remote.Row, filters []remote.Filter) bool {
	for _, f := range filters {
		v := row[f.Column]
		switch f.Op {
		case remote.OpEq:
			if !equal(v, f.Value) {
				return false
			}
		case remote.OpNeq:
			if equal(v, f.Value) {
				return false
			}
		case remote.OpGt:
			if compare(v, f.Value) <= 0 {
				return false
			}
		case remote.OpGte:
			if compare(v, f.Value) < 0 {
				return false
			}
		case remote.OpLt:
			if compare(v, f.Value) >= 0 {
				return false
			}
		case remote.OpLte:
			if compare(v, f.Value) > 0 {
				return false
			}
		}
	}
	return true
}

func equal(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func compare(a, b any) int {
	if fa, ok := number(a); ok {
		if fb, ok := number(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func project(row remote.Row, columns []string) remote.Row {
	if len(columns) == 0 {
		return cloneRow(row)
	}
	out := make(remote.Row, len(columns))
	for _, col := range columns {
		if v, ok := row[col]; ok {
			out[col] = v
		}
	}
	return out
}

func cloneRow(row remote.Row) remote.Row {
	out := make(remote.Row, len(row))
	for k, v := range row {
		if m, ok := v.(map[string]int); ok {
			cp := make(map[string]int, len(m))
			for mk, mv := range m {
				cp[mk] = mv
			}
			v = cp
		}
		out[k] = v
	}
	return out
}
