package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/durocore/duro/internal/ferrors"
)

// EntityRow is one row of the entity table, as read back for the Query API.
type EntityRow struct {
	ID    string
	Bytes []byte
	State string
}

// ListAll returns every entity of class, ordered by id.
func (e *EntityStore) ListAll(ctx context.Context, q Queryer, class string) ([]EntityRow, error) {
	return e.queryRows(ctx, q, e.catalog.EntitySelectAll, class)
}

// ByProperty returns every entity of class carrying the property name=value.
func (e *EntityStore) ByProperty(ctx context.Context, q Queryer, class, name, value string) ([]EntityRow, error) {
	return e.ByProperties(ctx, q, class, map[string]string{name: value}, true)
}

// ByProperties returns every entity of class matching the given
// name/value pairs, combined with AND when matchAll is true and OR
// otherwise. Property names are sorted before building the statement so
// the generated SQL (and therefore any query-plan caching) is stable
// across calls with the same predicate set.
func (e *EntityStore) ByProperties(ctx context.Context, q Queryer, class string, props map[string]string, matchAll bool) ([]EntityRow, error) {
	if len(props) == 0 {
		return e.ListAll(ctx, q, class)
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	args := []any{class}
	pos := 1
	clauses := make([]string, 0, len(names))
	for _, name := range names {
		args = append(args, name, props[name])
		namePos, valuePos := pos+1, pos+2
		pos += 2
		clauses = append(clauses, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM entity_property p WHERE p.cls = e.cls AND p.id = e.id AND p.name = %s AND p.value = %s)",
			e.catalog.Placeholder(namePos), e.catalog.Placeholder(valuePos),
		))
	}

	joiner := " AND "
	if !matchAll {
		joiner = " OR "
	}
	query := fmt.Sprintf(
		"SELECT e.id, e.bytes, e.state FROM entity e WHERE e.cls = %s AND (%s) ORDER BY e.id ASC",
		e.catalog.Placeholder(1), strings.Join(clauses, joiner),
	)
	return e.queryRows(ctx, q, query, args...)
}

// RangeQuery names every parameter GetByPropertyWithRange needs. Start/End
// are 64-bit integers compared against a second property's value cast to a
// number; Inclusive flags control whether the boundary itself matches.
type RangeQuery struct {
	Class          string
	Name           string
	Value          string
	RangeName      string
	RangeStart     int64
	StartInclusive bool
	RangeEnd       int64
	EndInclusive   bool
	Limit          int
	LastID         string // exclusive keyset cursor; empty means start from the beginning
}

// ByPropertyRange implements getByPropertyWithRange: entities of Class
// carrying Name=Value, whose RangeName property (parsed as an integer)
// falls within [RangeStart, RangeEnd] per the inclusivity flags, paginated
// by id past LastID.
func (e *EntityStore) ByPropertyRange(ctx context.Context, q Queryer, rq RangeQuery) ([]EntityRow, error) {
	startOp := ">"
	if rq.StartInclusive {
		startOp = ">="
	}
	endOp := "<"
	if rq.EndInclusive {
		endOp = "<="
	}

	args := []any{rq.Class, rq.Name, rq.Value, rq.RangeName, rq.RangeStart, rq.RangeEnd}
	cast := e.catalog.NumericCast("p2.value")

	var b strings.Builder
	b.WriteString("SELECT e.id, e.bytes, e.state FROM entity e ")
	b.WriteString("JOIN entity_property p1 ON p1.cls = e.cls AND p1.id = e.id ")
	b.WriteString("JOIN entity_property p2 ON p2.cls = e.cls AND p2.id = e.id ")
	fmt.Fprintf(&b, "WHERE e.cls = %s AND p1.name = %s AND p1.value = %s AND p2.name = %s ",
		e.catalog.Placeholder(1), e.catalog.Placeholder(2), e.catalog.Placeholder(3), e.catalog.Placeholder(4))
	fmt.Fprintf(&b, "AND %s %s %s AND %s %s %s ",
		cast, startOp, e.catalog.Placeholder(5), cast, endOp, e.catalog.Placeholder(6))

	pos := 6
	if rq.LastID != "" {
		pos++
		args = append(args, rq.LastID)
		fmt.Fprintf(&b, "AND e.id > %s ", e.catalog.Placeholder(pos))
	}
	b.WriteString("ORDER BY e.id ASC ")

	if rq.Limit > 0 {
		pos++
		args = append(args, rq.Limit)
		fmt.Fprintf(&b, "LIMIT %s", e.catalog.Placeholder(pos))
	}

	return e.queryRows(ctx, q, b.String(), args...)
}

func (e *EntityStore) queryRows(ctx context.Context, q Queryer, query string, args ...any) ([]EntityRow, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &ferrors.StorageError{Op: "query entities", Err: err}
	}
	defer rows.Close()

	var out []EntityRow
	for rows.Next() {
		var r EntityRow
		if err := rows.Scan(&r.ID, &r.Bytes, &r.State); err != nil {
			return nil, &ferrors.StorageError{Op: "scan entity row", Err: err}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &ferrors.StorageError{Op: "iterate entity rows", Err: err}
	}
	return out, nil
}
