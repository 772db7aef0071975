package store

import (
	"fmt"
	"strings"
)

// query builds filtered SQL with positional placeholders, keeping each
// predicate paired with its bound values so argument order can never
// drift from predicate order.
type query struct {
	base  string
	conds []string
	args  []any
}

func newQuery(base string) *query {
	return &query{base: base}
}

// where appends a predicate and its bound values. The number of ?
// placeholders in cond must match len(args).
func (q *query) where(cond string, args ...any) *query {
	q.conds = append(q.conds, cond)
	q.args = append(q.args, args...)
	return q
}

// whereIn appends a NOT IN / IN style predicate over ids, rendering one
// placeholder per value. No-op for an empty slice.
func (q *query) whereNotIn(column string, ids []int64) *query {
	if len(ids) == 0 {
		return q
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	q.conds = append(q.conds, fmt.Sprintf("%s NOT IN (%s)", column, placeholders))
	for _, id := range ids {
		q.args = append(q.args, id)
	}
	return q
}

// build renders the final SQL and its argument list. suffix carries
// ORDER BY / LIMIT clauses; its args (e.g. the limit) are appended last.
func (q *query) build(suffix string, suffixArgs ...any) (string, []any) {
	var sb strings.Builder
	sb.WriteString(q.base)
	if len(q.conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(q.conds, " AND "))
	}
	if suffix != "" {
		sb.WriteString(" ")
		sb.WriteString(suffix)
	}
	return sb.String(), append(q.args, suffixArgs...)
}
