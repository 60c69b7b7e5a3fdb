package worktable

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type person struct {
	ID   int64
	Name string
	Age  int
}

func newPersonTable(t *testing.T) *Table[person, int64] {
	t.Helper()
	tbl, err := New(Config[person, int64]{
		Name:        "people",
		PkOf:        func(p person) int64 { return p.ID },
		WithPk:      func(p person, pk int64) person { p.ID = pk; return p },
		PkLess:      func(a, b int64) bool { return a < b },
		PkGenerator: NewAutoincrementGenerator(func(n uint64) int64 { return int64(n) }),
	})
	require.NoError(t, err)

	require.NoError(t, NewUniqueSecondaryIndex(tbl, "by_name", func(p person) string { return p.Name },
		func(a, b string) bool { return a < b }))
	require.NoError(t, NewNonUniqueSecondaryIndex(tbl, "by_age", func(p person) int { return p.Age },
		func(a, b int) bool { return a < b }))
	return tbl
}

func TestTableInsertSelect(t *testing.T) {
	tbl := newPersonTable(t)
	ctx := context.Background()

	pk, err := tbl.Insert(ctx, person{Name: "ada", Age: 30})
	require.NoError(t, err)
	require.Equal(t, int64(1), pk)

	got, err := tbl.Select(ctx, pk)
	require.NoError(t, err)
	require.Equal(t, "ada", got.Name)
	require.Equal(t, 1, tbl.Count())
}

func TestTableInsertDuplicateSecondaryRollsBack(t *testing.T) {
	tbl := newPersonTable(t)
	ctx := context.Background()

	_, err := tbl.Insert(ctx, person{Name: "ada", Age: 30})
	require.NoError(t, err)

	_, err = tbl.Insert(ctx, person{Name: "ada", Age: 40})
	require.ErrorIs(t, err, ErrAlreadyExists)

	// the failed insert must have left no trace in any index or data page.
	require.Equal(t, 1, tbl.Count())

	pk, err := tbl.Insert(ctx, person{Name: "grace", Age: 40})
	require.NoError(t, err)
	require.Equal(t, int64(3), pk, "the autoincrement counter does not rewind on rollback")
}

func TestTableDelete(t *testing.T) {
	tbl := newPersonTable(t)
	ctx := context.Background()

	pk, err := tbl.Insert(ctx, person{Name: "ada", Age: 30})
	require.NoError(t, err)

	require.NoError(t, tbl.Delete(ctx, pk))
	require.Equal(t, 0, tbl.Count())

	_, err = tbl.Select(ctx, pk)
	require.ErrorIs(t, err, ErrNotFound)

	err = tbl.Delete(ctx, pk)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTableUpdateByPkRebindsChangedSecondaryIndex(t *testing.T) {
	tbl := newPersonTable(t)
	ctx := context.Background()

	pk, err := tbl.Insert(ctx, person{Name: "ada", Age: 30})
	require.NoError(t, err)

	err = tbl.UpdateByPk(ctx, pk, func(p person) person {
		p.Age = 31
		return p
	})
	require.NoError(t, err)

	got, err := tbl.Select(ctx, pk)
	require.NoError(t, err)
	require.Equal(t, 31, got.Age)

	q, err := tbl.SelectBy("by_age", 31)
	require.NoError(t, err)
	require.Len(t, q.Execute(), 1)

	q, err = tbl.SelectBy("by_age", 30)
	require.NoError(t, err)
	require.Empty(t, q.Execute())
}

func TestTableUpdateByPkGrowingRowRelocates(t *testing.T) {
	tbl := newPersonTable(t)
	ctx := context.Background()

	pk, err := tbl.Insert(ctx, person{Name: "a", Age: 1})
	require.NoError(t, err)

	err = tbl.UpdateByPk(ctx, pk, func(p person) person {
		p.Name = "a-much-longer-name-than-before-to-force-relocation"
		return p
	})
	require.NoError(t, err)

	got, err := tbl.Select(ctx, pk)
	require.NoError(t, err)
	require.Equal(t, "a-much-longer-name-than-before-to-force-relocation", got.Name)

	q, err := tbl.SelectBy("by_name", "a-much-longer-name-than-before-to-force-relocation")
	require.NoError(t, err)
	require.Len(t, q.Execute(), 1)
}

func TestTableSelectAllOrderByAndLimit(t *testing.T) {
	tbl := newPersonTable(t)
	ctx := context.Background()

	for _, p := range []person{{Name: "carol", Age: 25}, {Name: "ada", Age: 30}, {Name: "bob", Age: 20}} {
		_, err := tbl.Insert(ctx, p)
		require.NoError(t, err)
	}

	rows := tbl.SelectAll().
		OrderBy(func(a, b person) bool { return a.Name < b.Name }, false).
		Limit(2).
		Execute()

	require.Len(t, rows, 2)
	require.Equal(t, "ada", rows[0].Name)
	require.Equal(t, "bob", rows[1].Name)
}

func TestTableCountBy(t *testing.T) {
	tbl := newPersonTable(t)
	ctx := context.Background()

	for _, p := range []person{{Name: "a", Age: 20}, {Name: "b", Age: 20}, {Name: "c", Age: 21}} {
		_, err := tbl.Insert(ctx, p)
		require.NoError(t, err)
	}

	n, err := tbl.CountBy("by_age", 20)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
