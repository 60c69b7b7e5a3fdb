package worktable

import "sort"

// orderClause is one OrderBy call, recorded in declaration order so Execute
// can re-apply them in reverse — the standard technique for building a
// stable multi-key sort out of repeated single-key stable sorts (spec.md
// §4.5: "stable multi-key sort, applied in reverse declaration order").
type orderClause[Row any] struct {
	less func(a, b Row) bool
}

// SelectQueryBuilder accumulates filter/sort/paginate clauses over an
// already-materialized row set and applies them on Execute, mirroring the
// generated SelectQueryBuilder's method chain (.range/.order_by/.offset/
// .limit/.execute) without a macro or per-column reflection: callers supply
// plain Go predicates and comparators instead of column names.
type SelectQueryBuilder[Row any] struct {
	rows    []Row
	filter  func(Row) bool
	orders  []orderClause[Row]
	offset  int
	limit   int
	hasLim  bool
}

func newSelectQueryBuilder[Row any](rows []Row) *SelectQueryBuilder[Row] {
	return &SelectQueryBuilder[Row]{rows: rows}
}

// Filter keeps only rows for which pred returns true — the hand-written
// equivalent of the generated `.range(column, a..=b)` clause.
func (b *SelectQueryBuilder[Row]) Filter(pred func(Row) bool) *SelectQueryBuilder[Row] {
	b.filter = pred
	return b
}

// OrderBy(less, desc) records a sort key; the first call is the primary
// key, the second the tiebreaker, and so on — applied in reverse during
// Execute so earlier calls win ties.
func (b *SelectQueryBuilder[Row]) OrderBy(less func(a, b Row) bool, desc bool) *SelectQueryBuilder[Row] {
	if desc {
		asc := less
		less = func(a, b Row) bool { return asc(b, a) }
	}
	b.orders = append(b.orders, orderClause[Row]{less: less})
	return b
}

func (b *SelectQueryBuilder[Row]) Offset(n int) *SelectQueryBuilder[Row] {
	b.offset = n
	return b
}

func (b *SelectQueryBuilder[Row]) Limit(n int) *SelectQueryBuilder[Row] {
	b.limit = n
	b.hasLim = true
	return b
}

// Execute applies Filter, then every OrderBy clause (reverse declaration
// order), then Offset, then Limit — spec.md §4.5's exact clause order.
func (b *SelectQueryBuilder[Row]) Execute() []Row {
	rows := b.rows
	if b.filter != nil {
		filtered := make([]Row, 0, len(rows))
		for _, r := range rows {
			if b.filter(r) {
				filtered = append(filtered, r)
			}
		}
		rows = filtered
	}

	for i := len(b.orders) - 1; i >= 0; i-- {
		clause := b.orders[i]
		sort.SliceStable(rows, func(a, c int) bool { return clause.less(rows[a], rows[c]) })
	}

	if b.offset > 0 {
		if b.offset >= len(rows) {
			return nil
		}
		rows = rows[b.offset:]
	}
	if b.hasLim && b.limit < len(rows) {
		if b.limit <= 0 {
			return nil
		}
		rows = rows[:b.limit]
	}
	return rows
}
