package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fleetinfo/portal/internal/portal"
)

// table describes how an entity maps onto its relational table. Every table
// has id, created_at and updated_at in addition to columns.
type table[T any] struct {
	name    string
	columns []string
	// values returns one argument per entry in columns.
	values func(v *T) []any
	// scan reads id, columns, created_at, updated_at in that order.
	scan func(row scanner) (T, error)

	partnerCol  string
	regionCol   string
	categoryCol string
	activeCol   string
	// keepIfEmpty lists text columns left untouched by Update when the new
	// value is empty (for example password hashes).
	keepIfEmpty map[string]bool
	// readOnly lists columns written on insert only.
	readOnly map[string]bool
}

func (t table[T]) selectList() string {
	cols := make([]string, 0, len(t.columns)+3)
	cols = append(cols, "id")
	cols = append(cols, t.columns...)
	cols = append(cols, "created_at", "updated_at")
	return strings.Join(cols, ", ")
}

// Repo implements portal.Repository for one table.
type Repo[T any] struct {
	db dbtx
	t  table[T]
}

func newRepo[T any](db dbtx, t table[T]) *Repo[T] {
	return &Repo[T]{db: db, t: t}
}

// where builds the filter clause for opts and returns it with its arguments.
func (r *Repo[T]) where(opts portal.ListOptions) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		clauses = append(clauses, col+" = $"+strconv.Itoa(len(args)))
	}
	if opts.BusinessPartnerID != nil && r.t.partnerCol != "" {
		add(r.t.partnerCol, *opts.BusinessPartnerID)
	}
	if opts.RegionID != nil && r.t.regionCol != "" {
		add(r.t.regionCol, *opts.RegionID)
	}
	if opts.CategoryID != nil && r.t.categoryCol != "" {
		add(r.t.categoryCol, *opts.CategoryID)
	}
	if opts.ActiveOnly && r.t.activeCol != "" {
		clauses = append(clauses, r.t.activeCol)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// List returns one page of rows plus the total matching count.
func (r *Repo[T]) List(ctx context.Context, opts portal.ListOptions) ([]T, int, error) {
	where, args := r.where(opts)

	var total int
	countSQL := "SELECT count(*) FROM " + r.t.name + where
	if err := r.db.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", r.t.name, mapError(err))
	}

	query := "SELECT " + r.t.selectList() + " FROM " + r.t.name + where + " ORDER BY id DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", r.t.name, mapError(err))
	}
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		v, err := r.t.scan(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan %s: %w", r.t.name, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate %s: %w", r.t.name, mapError(err))
	}
	return out, total, nil
}

// Get loads a single row by id.
func (r *Repo[T]) Get(ctx context.Context, id int64) (T, error) {
	query := "SELECT " + r.t.selectList() + " FROM " + r.t.name + " WHERE id = $1"
	v, err := r.t.scan(r.db.QueryRow(ctx, query, id))
	if err != nil {
		var zero T
		return zero, fmt.Errorf("get %s %d: %w", r.t.name, id, mapError(err))
	}
	return v, nil
}

// Create inserts v and returns the stored row.
func (r *Repo[T]) Create(ctx context.Context, v T) (T, error) {
	return r.createIn(ctx, r.db, v)
}

func (r *Repo[T]) createIn(ctx context.Context, db dbtx, v T) (T, error) {
	placeholders := make([]string, len(r.t.columns))
	for i := range r.t.columns {
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}
	query := "INSERT INTO " + r.t.name + " (" + strings.Join(r.t.columns, ", ") + ") VALUES (" +
		strings.Join(placeholders, ", ") + ") RETURNING " + r.t.selectList()
	out, err := r.t.scan(db.QueryRow(ctx, query, r.t.values(&v)...))
	if err != nil {
		var zero T
		return zero, fmt.Errorf("insert %s: %w", r.t.name, mapError(err))
	}
	return out, nil
}

// Update overwrites the mutable columns of row id with v.
func (r *Repo[T]) Update(ctx context.Context, id int64, v T) (T, error) {
	return r.updateIn(ctx, r.db, id, v)
}

func (r *Repo[T]) updateIn(ctx context.Context, db dbtx, id int64, v T) (T, error) {
	values := r.t.values(&v)
	sets := make([]string, 0, len(r.t.columns)+1)
	args := make([]any, 0, len(r.t.columns)+1)
	for i, col := range r.t.columns {
		if r.t.readOnly[col] {
			continue
		}
		args = append(args, values[i])
		ph := "$" + strconv.Itoa(len(args))
		if r.t.keepIfEmpty[col] {
			sets = append(sets, col+" = COALESCE(NULLIF("+ph+", ''), "+col+")")
			continue
		}
		sets = append(sets, col+" = "+ph)
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, id)
	query := "UPDATE " + r.t.name + " SET " + strings.Join(sets, ", ") +
		" WHERE id = $" + strconv.Itoa(len(args)) + " RETURNING " + r.t.selectList()
	out, err := r.t.scan(db.QueryRow(ctx, query, args...))
	if err != nil {
		var zero T
		return zero, fmt.Errorf("update %s %d: %w", r.t.name, id, mapError(err))
	}
	return out, nil
}

// Delete removes row id.
func (r *Repo[T]) Delete(ctx context.Context, id int64) error {
	return r.deleteIn(ctx, r.db, id)
}

func (r *Repo[T]) deleteIn(ctx context.Context, db dbtx, id int64) error {
	tag, err := db.Exec(ctx, "DELETE FROM "+r.t.name+" WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete %s %d: %w", r.t.name, id, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete %s %d: %w", r.t.name, id, portal.ErrNotFound)
	}
	return nil
}
