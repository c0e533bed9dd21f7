package store

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store used by tests and local runs without a
// database. Pointer values are dereferenced on write so rows look the same as
// the ones pgx scans back (plain values or nil).
type Memory struct {
	mu   sync.RWMutex
	rows map[string][]Record
	now  func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		rows: make(map[string][]Record),
		now:  time.Now,
	}
}

// SetClock overrides the timestamp source for column defaults.
func (m *Memory) SetClock(now func() time.Time) { m.now = now }

// Raw returns the stored copy of the first row matching where, bypassing any
// decorator. Tests use it to look at what actually got persisted.
func (m *Memory) Raw(kind string, where Record) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rows[kind] {
		if matches(r, where) {
			return clone(r), true
		}
	}
	return nil, false
}

func (m *Memory) Create(_ context.Context, kind string, data Record) (Record, error) {
	t, err := lookup(kind)
	if err != nil {
		return nil, err
	}
	if err := t.check(data); err != nil {
		return nil, err
	}
	row := normalizeRecord(t.withDefaults(data, m.now()))
	if id, _ := row["id"].(string); id == "" {
		row["id"] = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows[kind] {
		if r["id"] == row["id"] {
			return nil, fmt.Errorf("%w: %s %v", ErrConflict, kind, row["id"])
		}
	}
	m.rows[kind] = append(m.rows[kind], row)
	return clone(row), nil
}

func (m *Memory) Update(_ context.Context, kind string, where Record, data Record) (Record, error) {
	t, err := lookup(kind)
	if err != nil {
		return nil, err
	}
	if err := t.check(data); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows[kind] {
		if matches(r, where) {
			apply(t, r, data, m.now())
			return clone(r), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) UpdateMany(_ context.Context, kind string, where Record, data Record) (int64, error) {
	t, err := lookup(kind)
	if err != nil {
		return 0, err
	}
	if err := t.check(data); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.rows[kind] {
		if matches(r, where) {
			apply(t, r, data, m.now())
			n++
		}
	}
	return n, nil
}

func (m *Memory) FindUnique(ctx context.Context, kind string, where Record) (Record, error) {
	return m.FindFirst(ctx, kind, Query{Where: where})
}

func (m *Memory) FindFirst(ctx context.Context, kind string, q Query) (Record, error) {
	q.Limit = 1
	rows, err := m.FindMany(ctx, kind, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

func (m *Memory) FindMany(_ context.Context, kind string, q Query) ([]Record, error) {
	m.mu.RLock()
	var out []Record
	for _, r := range m.rows[kind] {
		if matches(r, q.Where) {
			out = append(out, clone(r))
		}
	}
	m.mu.RUnlock()

	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			c := compare(out[i][q.OrderBy], out[j][q.OrderBy])
			if q.Desc {
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

func (m *Memory) Delete(_ context.Context, kind string, where Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.rows[kind]
	for i, r := range rows {
		if matches(r, where) {
			m.rows[kind] = append(rows[:i], rows[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) DeleteMany(_ context.Context, kind string, where Record) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rows[kind][:0]
	var n int64
	for _, r := range m.rows[kind] {
		if matches(r, where) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.rows[kind] = kept
	return n, nil
}

func apply(t table, row, data Record, now time.Time) {
	for k, v := range normalizeRecord(data) {
		row[k] = v
	}
	if t.Touch == "" {
		return
	}
	if _, ok := data[t.Touch]; !ok {
		row[t.Touch] = now.UTC()
	}
}

func matches(row, where Record) bool {
	for k, want := range where {
		want = normalize(want)
		got, ok := row[k]
		if want == nil {
			if ok && got != nil {
				return false
			}
			continue
		}
		if !ok || compare(got, want) != 0 {
			return false
		}
	}
	return true
}

func clone(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func normalizeRecord(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = normalize(v)
	}
	return out
}

func normalize(v any) any {
	switch x := v.(type) {
	case *string:
		if x == nil {
			return nil
		}
		return *x
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC()
	case time.Time:
		return x.UTC()
	case *int:
		if x == nil {
			return nil
		}
		return int64(*x)
	case int:
		return int64(x)
	case int32:
		return int64(x)
	}
	return v
}

// compare orders two column values of the same dynamic type. Values of other
// types only compare equal when they are deeply equal.
func compare(a, b any) int {
	a, b = normalize(a), normalize(b)
	switch x := a.(type) {
	case nil:
		if b == nil {
			return 0
		}
		return -1
	case string:
		y, ok := b.(string)
		if !ok {
			break
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case int64:
		y, ok := b.(int64)
		if !ok {
			break
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			break
		}
		return x.Compare(y)
	case bool:
		y, ok := b.(bool)
		if !ok {
			break
		}
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	}
	if b == nil {
		return 1
	}
	if reflect.DeepEqual(a, b) {
		return 0
	}
	return 2
}
