package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of *pgxpool.Pool the store needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres maps records onto the tables declared in schema. Every column name
// is checked against the table whitelist before it is put into SQL; values
// always travel as bind parameters.
type Postgres struct {
	db Querier
}

var _ Store = (*Postgres)(nil)

func NewPostgres(db Querier) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Create(ctx context.Context, kind string, data Record) (Record, error) {
	t, err := lookup(kind)
	if err != nil {
		return nil, err
	}
	row := clone(data)
	if id, _ := row["id"].(string); id == "" {
		row["id"] = uuid.NewString()
	}
	sql, args, err := buildInsert(t, row)
	if err != nil {
		return nil, err
	}
	return p.one(ctx, sql, args)
}

func (p *Postgres) Update(ctx context.Context, kind string, where Record, data Record) (Record, error) {
	t, err := lookup(kind)
	if err != nil {
		return nil, err
	}
	sql, args, err := buildUpdate(t, where, data, true)
	if err != nil {
		return nil, err
	}
	return p.one(ctx, sql, args)
}

func (p *Postgres) UpdateMany(ctx context.Context, kind string, where Record, data Record) (int64, error) {
	t, err := lookup(kind)
	if err != nil {
		return 0, err
	}
	sql, args, err := buildUpdate(t, where, data, false)
	if err != nil {
		return 0, err
	}
	tag, err := p.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", t.Name, err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) FindUnique(ctx context.Context, kind string, where Record) (Record, error) {
	return p.FindFirst(ctx, kind, Query{Where: where})
}

func (p *Postgres) FindFirst(ctx context.Context, kind string, q Query) (Record, error) {
	q.Limit = 1
	rows, err := p.FindMany(ctx, kind, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

func (p *Postgres) FindMany(ctx context.Context, kind string, q Query) ([]Record, error) {
	t, err := lookup(kind)
	if err != nil {
		return nil, err
	}
	sql, args, err := buildSelect(t, q)
	if err != nil {
		return nil, err
	}
	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", t.Name, err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", t.Name, err)
	}
	return out, nil
}

func (p *Postgres) Delete(ctx context.Context, kind string, where Record) error {
	t, err := lookup(kind)
	if err != nil {
		return err
	}
	sql, args, err := buildDelete(t, where, true)
	if err != nil {
		return err
	}
	tag, err := p.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("delete %s: %w", t.Name, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteMany(ctx context.Context, kind string, where Record) (int64, error) {
	t, err := lookup(kind)
	if err != nil {
		return 0, err
	}
	sql, args, err := buildDelete(t, where, false)
	if err != nil {
		return 0, err
	}
	tag, err := p.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", t.Name, err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) one(ctx context.Context, sql string, args []any) (Record, error) {
	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err)
	}
	rec, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if err != nil {
		return nil, mapError(err)
	}
	return rec, nil
}

func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

// ---- SQL builders ----

func sortedKeys(r Record) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// whereClause renders equality filters starting at placeholder $start.
func whereClause(t table, where Record, start int) (string, []any, error) {
	if err := t.check(where); err != nil {
		return "", nil, err
	}
	if len(where) == 0 {
		return "", nil, nil
	}

	var parts []string
	var args []any
	n := start
	for _, k := range sortedKeys(where) {
		v := normalize(where[k])
		if v == nil {
			parts = append(parts, k+" IS NULL")
			continue
		}
		parts = append(parts, fmt.Sprintf("%s = $%d", k, n))
		args = append(args, v)
		n++
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

func returning(t table) string {
	return " RETURNING " + strings.Join(t.Columns, ", ")
}

func buildSelect(t table, q Query) (string, []any, error) {
	where, args, err := whereClause(t, q.Where, 1)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(t.Columns, ", "))
	b.WriteString(" FROM ")
	b.WriteString(t.Name)
	b.WriteString(where)
	if q.OrderBy != "" {
		if !t.has(q.OrderBy) {
			return "", nil, fmt.Errorf("%w: %s.%s", ErrBadColumn, t.Name, q.OrderBy)
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(q.OrderBy)
		if q.Desc {
			b.WriteString(" DESC")
		}
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}
	return b.String(), args, nil
}

func buildInsert(t table, data Record) (string, []any, error) {
	if err := t.check(data); err != nil {
		return "", nil, err
	}
	keys := sortedKeys(data)
	holders := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		holders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = data[k]
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.Name, strings.Join(keys, ", "), strings.Join(holders, ", "))
	return sql + returning(t), args, nil
}

// singleRow narrows a statement to the first row matching cond. Postgres has
// no UPDATE ... LIMIT, so the row is picked by id in a subquery. The subquery
// locks the row and the outer WHERE repeats cond: a writer that waited on the
// lock sees the committed row and matches nothing if cond no longer holds.
func singleRow(t table, cond string) string {
	sql := fmt.Sprintf(" WHERE id = (SELECT id FROM %s%s LIMIT 1 FOR UPDATE)", t.Name, cond)
	if cond != "" {
		sql += " AND " + strings.TrimPrefix(cond, " WHERE ")
	}
	return sql
}

// buildUpdate targets the first matching row when single is set.
func buildUpdate(t table, where, data Record, single bool) (string, []any, error) {
	if err := t.check(data); err != nil {
		return "", nil, err
	}
	if len(data) == 0 {
		return "", nil, fmt.Errorf("update %s: no columns", t.Name)
	}

	var sets []string
	var args []any
	for _, k := range sortedKeys(data) {
		args = append(args, data[k])
		sets = append(sets, fmt.Sprintf("%s = $%d", k, len(args)))
	}
	if t.Touch != "" {
		if _, ok := data[t.Touch]; !ok {
			sets = append(sets, t.Touch+" = NOW()")
		}
	}

	cond, whereArgs, err := whereClause(t, where, len(args)+1)
	if err != nil {
		return "", nil, err
	}
	args = append(args, whereArgs...)

	sql := fmt.Sprintf("UPDATE %s SET %s", t.Name, strings.Join(sets, ", "))
	if single {
		return sql + singleRow(t, cond) + returning(t), args, nil
	}
	return sql + cond, args, nil
}

func buildDelete(t table, where Record, single bool) (string, []any, error) {
	cond, args, err := whereClause(t, where, 1)
	if err != nil {
		return "", nil, err
	}
	if single {
		return "DELETE FROM " + t.Name + singleRow(t, cond), args, nil
	}
	return "DELETE FROM " + t.Name + cond, args, nil
}
