package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/accountpool/apiserver/internal/filter"
)

const defaultBatchSize = 100

// DBTX is the slice of database/sql shared by *sql.DB and *sql.Tx, so every
// operation can run either standalone or composed into a caller-owned
// transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Scanner is the row interface shared by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// Mapping binds an entity type to its table: column list, value extraction
// and row scanning. Scan order is always id followed by Columns.
type Mapping[T any] struct {
	Table   string
	Columns []string
	Schema  *filter.Schema
	Values  func(*T) []any
	Scan    func(row Scanner, t *T) error
	ID      func(*T) int64
	SetID   func(*T, int64)
}

func (m Mapping[T]) selectColumns() string {
	return "id, " + strings.Join(m.Columns, ", ")
}

func (m Mapping[T]) hasColumn(name string) bool {
	for _, c := range m.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Returning selects the result shape of an Update.
type Returning int

const (
	ReturningObjects Returning = iota
	ReturningIDs
	ReturningCount
)

// UpdateTarget selects which rows an Update touches. Exactly one variant is
// chosen at the call site.
type UpdateTarget interface {
	isUpdateTarget()
}

// ByID targets a single row by primary key. The update fails with
// ErrNotFound when the row does not exist.
type ByID struct {
	ID int64
}

func (ByID) isUpdateTarget() {}

// ByFilter targets every row matching a compiled filter. Zero matches is a
// valid outcome.
type ByFilter struct {
	Filter *filter.Filter
}

func (ByFilter) isUpdateTarget() {}

// UpdateResult carries the outcome of an Update in the requested shape.
type UpdateResult[T any] struct {
	Objects []T
	IDs     []int64
	Count   int
}

// Repository implements the generic persistence operations for one mapped
// entity. It holds no state beyond its handle; WithTx rebinds it to a
// transaction.
type Repository[T any] struct {
	db  DBTX
	m   Mapping[T]
	log *zap.Logger
}

func NewRepository[T any](db DBTX, m Mapping[T], log *zap.Logger) *Repository[T] {
	return &Repository[T]{db: db, m: m, log: log}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *Repository[T]) WithTx(tx *sql.Tx) *Repository[T] {
	return &Repository[T]{db: tx, m: r.m, log: r.log}
}

// Schema exposes the entity's filter schema for transport parsing.
func (r *Repository[T]) Schema() *filter.Schema {
	return r.m.Schema
}

func (r *Repository[T]) fail(op string, err error) error {
	err = wrapErr(err)
	r.log.Error("store operation failed",
		zap.String("entity", r.m.Table),
		zap.String("op", op),
		zap.Error(err),
	)
	return err
}

// Get returns the row with the given primary key.
func (r *Repository[T]) Get(ctx context.Context, id int64) (T, error) {
	var t T
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1",
		r.m.selectColumns(), r.m.Table)
	err := r.m.Scan(r.db.QueryRowContext(ctx, query, id), &t)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, ErrNotFound
		}
		return t, r.fail("get", err)
	}
	return t, nil
}

// GetBy returns the first row matching all given column values. A nil value
// matches IS NULL; a slice value matches membership.
func (r *Repository[T]) GetBy(ctx context.Context, conds map[string]any) (T, error) {
	var t T

	keys := make([]string, 0, len(conds))
	for key := range conds {
		if !r.m.hasColumn(key) && key != "id" {
			return t, fmt.Errorf("unknown column %q on %s", key, r.m.Table)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	args := filter.NewArgs()
	where := make([]string, 0, len(keys))
	for _, key := range keys {
		value := conds[key]
		switch {
		case value == nil:
			where = append(where, key+" IS NULL")
		case isSlice(value):
			where = append(where, key+" = ANY("+args.Add(pq.Array(value))+")")
		default:
			where = append(where, key+" = "+args.Add(value))
		}
	}

	query := fmt.Sprintf("SELECT %s FROM %s", r.m.selectColumns(), r.m.Table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " LIMIT 1"

	err := r.m.Scan(r.db.QueryRowContext(ctx, query, args.Values()...), &t)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, ErrNotFound
		}
		return t, r.fail("get_by", err)
	}
	return t, nil
}

// List returns one page of rows under the given filter and ordering.
func (r *Repository[T]) List(ctx context.Context, f *filter.Filter, offset, limit int) ([]T, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = defaultBatchSize
	}

	args := filter.NewArgs()
	query := fmt.Sprintf("SELECT %s FROM %s", r.m.selectColumns(), r.m.Table)

	if f != nil {
		where, err := f.Compile(args)
		if err != nil {
			return nil, err
		}
		if where != "" {
			query += " WHERE " + where
		}
		if orderBy := f.OrderBy(); orderBy != "" {
			query += " ORDER BY " + orderBy
		}
	}
	query += " OFFSET " + args.Add(offset) + " LIMIT " + args.Add(limit)

	rows, err := r.db.QueryContext(ctx, query, args.Values()...)
	if err != nil {
		return nil, r.fail("list", err)
	}
	defer rows.Close()

	items := make([]T, 0, limit)
	for rows.Next() {
		var t T
		if err := r.m.Scan(rows, &t); err != nil {
			return nil, r.fail("list", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, r.fail("list", err)
	}
	return items, nil
}

// Count returns the number of rows matching the filter.
func (r *Repository[T]) Count(ctx context.Context, f *filter.Filter) (int, error) {
	args := filter.NewArgs()
	query := fmt.Sprintf("SELECT COUNT(1) FROM %s", r.m.Table)

	if f != nil {
		where, err := f.Compile(args)
		if err != nil {
			return 0, err
		}
		if where != "" {
			query += " WHERE " + where
		}
	}

	var total int
	if err := r.db.QueryRowContext(ctx, query, args.Values()...).Scan(&total); err != nil {
		return 0, r.fail("count", err)
	}
	return total, nil
}

// Create inserts the row and fills in its generated primary key.
func (r *Repository[T]) Create(ctx context.Context, t *T) error {
	placeholders := make([]string, len(r.m.Columns))
	for i := range r.m.Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		r.m.Table, strings.Join(r.m.Columns, ", "), strings.Join(placeholders, ", "))

	var id int64
	if err := r.db.QueryRowContext(ctx, query, r.m.Values(t)...).Scan(&id); err != nil {
		return r.fail("create", err)
	}
	r.m.SetID(t, id)
	return nil
}

// BatchInsert inserts the rows in bounded multi-row statements, filling in
// generated primary keys. Batches are independent statements; when atomicity
// across batches matters, run inside a transaction via WithTx.
func (r *Repository[T]) BatchInsert(ctx context.Context, items []T, batchSize int) error {
	if batchSize < 1 {
		batchSize = defaultBatchSize
	}

	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]

		args := filter.NewArgs()
		rowsSQL := make([]string, 0, len(batch))
		for i := range batch {
			cells := make([]string, 0, len(r.m.Columns))
			for _, v := range r.m.Values(&batch[i]) {
				cells = append(cells, args.Add(v))
			}
			rowsSQL = append(rowsSQL, "("+strings.Join(cells, ", ")+")")
		}

		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s RETURNING id",
			r.m.Table, strings.Join(r.m.Columns, ", "), strings.Join(rowsSQL, ", "))

		rows, err := r.db.QueryContext(ctx, query, args.Values()...)
		if err != nil {
			return r.fail("batch_insert", err)
		}
		i := start
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return r.fail("batch_insert", err)
			}
			r.m.SetID(&items[i], id)
			i++
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return r.fail("batch_insert", err)
		}
		rows.Close()
	}
	return nil
}

// Update applies a column patch to the rows selected by target and returns
// the result in the requested shape.
func (r *Repository[T]) Update(ctx context.Context, target UpdateTarget, patch map[string]any, ret Returning) (UpdateResult[T], error) {
	var res UpdateResult[T]

	set, args, err := r.setClause(patch)
	if err != nil {
		return res, err
	}

	switch t := target.(type) {
	case ByID:
		return r.updateWhere(ctx, set, "id = "+args.Add(t.ID), args, ret, true)
	case ByFilter:
		if t.Filter == nil {
			return res, errors.New("bulk update requires a filter")
		}
		where, err := t.Filter.Compile(args)
		if err != nil {
			return res, err
		}
		return r.updateWhere(ctx, set, where, args, ret, false)
	default:
		return res, fmt.Errorf("unsupported update target %T", target)
	}
}

// UpdateObject applies a column patch to an already-loaded row and rescans
// the stored state into it.
func (r *Repository[T]) UpdateObject(ctx context.Context, t *T, patch map[string]any) error {
	set, args, err := r.setClause(patch)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = %s RETURNING %s",
		r.m.Table, set, args.Add(r.m.ID(t)), r.m.selectColumns())

	err = r.m.Scan(r.db.QueryRowContext(ctx, query, args.Values()...), t)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return r.fail("update_object", err)
	}
	return nil
}

// MapUpdate applies heterogeneous per-row patches keyed by primary key, in
// bounded batches. When the repository holds the pool handle, each batch
// commits in its own transaction so no locks are held across batches; under
// WithTx the caller's transaction is used as-is. Rows that no longer exist
// are skipped. Returns the number of rows actually updated.
func (r *Repository[T]) MapUpdate(ctx context.Context, patches map[int64]map[string]any, batchSize int) (int, error) {
	if batchSize < 1 {
		batchSize = defaultBatchSize
	}

	ids := make([]int64, 0, len(patches))
	for id := range patches {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	pool, _ := r.db.(*sql.DB)

	updated := 0
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}

		var n int
		var err error
		if pool != nil {
			err = Transact(ctx, pool, func(tx *sql.Tx) error {
				n, err = r.WithTx(tx).applyPatches(ctx, ids[start:end], patches)
				return err
			})
		} else {
			n, err = r.applyPatches(ctx, ids[start:end], patches)
		}
		if err != nil {
			return updated, err
		}
		updated += n
	}
	return updated, nil
}

func (r *Repository[T]) applyPatches(ctx context.Context, ids []int64, patches map[int64]map[string]any) (int, error) {
	updated := 0
	for _, id := range ids {
		set, args, err := r.setClause(patches[id])
		if err != nil {
			return updated, err
		}
		query := fmt.Sprintf("UPDATE %s SET %s WHERE id = %s",
			r.m.Table, set, args.Add(id))
		result, err := r.db.ExecContext(ctx, query, args.Values()...)
		if err != nil {
			return updated, r.fail("map_update", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return updated, r.fail("map_update", err)
		}
		updated += int(affected)
	}
	return updated, nil
}

// Upsert inserts the row or, on conflict over matchColumns, updates every
// other column. The stored state is rescanned into t.
func (r *Repository[T]) Upsert(ctx context.Context, t *T, matchColumns []string) error {
	if len(matchColumns) == 0 {
		return errors.New("upsert requires match columns")
	}
	match := map[string]bool{}
	for _, c := range matchColumns {
		if !r.m.hasColumn(c) {
			return fmt.Errorf("unknown column %q on %s", c, r.m.Table)
		}
		match[c] = true
	}

	placeholders := make([]string, len(r.m.Columns))
	for i := range r.m.Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	assignments := make([]string, 0, len(r.m.Columns))
	for _, c := range r.m.Columns {
		if !match[c] {
			assignments = append(assignments, c+" = EXCLUDED."+c)
		}
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s RETURNING %s",
		r.m.Table,
		strings.Join(r.m.Columns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(matchColumns, ", "),
		strings.Join(assignments, ", "),
		r.m.selectColumns(),
	)

	err := r.m.Scan(r.db.QueryRowContext(ctx, query, r.m.Values(t)...), t)
	if err != nil {
		return r.fail("upsert", err)
	}
	return nil
}

// Delete removes the row with the given primary key.
func (r *Repository[T]) Delete(ctx context.Context, id int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", r.m.Table)
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return r.fail("delete", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return r.fail("delete", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository[T]) setClause(patch map[string]any) (string, *filter.Args, error) {
	if len(patch) == 0 {
		return "", nil, errors.New("empty update patch")
	}

	columns := make([]string, 0, len(patch))
	for c := range patch {
		if !r.m.hasColumn(c) {
			return "", nil, fmt.Errorf("unknown column %q on %s", c, r.m.Table)
		}
		columns = append(columns, c)
	}
	sort.Strings(columns)

	args := filter.NewArgs()
	parts := make([]string, 0, len(columns))
	for _, c := range columns {
		parts = append(parts, c+" = "+args.Add(patch[c]))
	}
	return strings.Join(parts, ", "), args, nil
}

func (r *Repository[T]) updateWhere(ctx context.Context, set, where string, args *filter.Args, ret Returning, single bool) (UpdateResult[T], error) {
	var res UpdateResult[T]

	query := fmt.Sprintf("UPDATE %s SET %s", r.m.Table, set)
	if where != "" {
		query += " WHERE " + where
	}

	switch ret {
	case ReturningCount:
		result, err := r.db.ExecContext(ctx, query, args.Values()...)
		if err != nil {
			return res, r.fail("update", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return res, r.fail("update", err)
		}
		res.Count = int(affected)
	case ReturningIDs:
		rows, err := r.db.QueryContext(ctx, query+" RETURNING id", args.Values()...)
		if err != nil {
			return res, r.fail("update", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return res, r.fail("update", err)
			}
			res.IDs = append(res.IDs, id)
		}
		if err := rows.Err(); err != nil {
			return res, r.fail("update", err)
		}
		res.Count = len(res.IDs)
	default:
		rows, err := r.db.QueryContext(ctx, query+" RETURNING "+r.m.selectColumns(), args.Values()...)
		if err != nil {
			return res, r.fail("update", err)
		}
		defer rows.Close()
		for rows.Next() {
			var t T
			if err := r.m.Scan(rows, &t); err != nil {
				return res, r.fail("update", err)
			}
			res.Objects = append(res.Objects, t)
		}
		if err := rows.Err(); err != nil {
			return res, r.fail("update", err)
		}
		res.Count = len(res.Objects)
	}

	if single && res.Count == 0 {
		return res, ErrNotFound
	}
	return res, nil
}

func isSlice(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8
}
