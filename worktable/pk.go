package worktable

import "sync/atomic"

// Generator issues primary keys for rows inserted without one already set,
// matching spec's three generator kinds (None, Autoincrement, Custom).
type Generator[Pk comparable] interface {
	// Next returns the next key to assign.
	Next() Pk
	// IsSentinel reports whether pk is the zero-value placeholder Insert
	// should replace with a generated key.
	IsSentinel(pk Pk) bool
}

// NoneGenerator never generates a key — every row must already carry one,
// and IsSentinel always reports false so Insert never calls Next.
type NoneGenerator[Pk comparable] struct{}

func NewNoneGenerator[Pk comparable]() *NoneGenerator[Pk] { return &NoneGenerator[Pk]{} }

func (g *NoneGenerator[Pk]) Next() Pk {
	var zero Pk
	return zero
}

func (g *NoneGenerator[Pk]) IsSentinel(Pk) bool { return false }

// AutoincrementGenerator issues a monotonically increasing counter,
// converted to Pk by toPk — since Go generics can't constrain Pk to "any
// integer type" while also being the comparable key of a Table, the
// counter is kept as a plain uint64 and handed to the caller's conversion.
type AutoincrementGenerator[Pk comparable] struct {
	counter uint64
	toPk    func(uint64) Pk
}

// NewAutoincrementGenerator builds a generator starting at 1; toPk converts
// the internal uint64 counter to the table's key type (e.g. func(n uint64)
// int64 { return int64(n) }).
func NewAutoincrementGenerator[Pk comparable](toPk func(uint64) Pk) *AutoincrementGenerator[Pk] {
	return &AutoincrementGenerator[Pk]{toPk: toPk}
}

func (g *AutoincrementGenerator[Pk]) Next() Pk {
	n := atomic.AddUint64(&g.counter, 1)
	return g.toPk(n)
}

func (g *AutoincrementGenerator[Pk]) IsSentinel(pk Pk) bool {
	var zero Pk
	return pk == zero
}

// CustomGenerator delegates key generation to an arbitrary function —
// the escape hatch for UUIDs or any other scheme Next can't express
// generically (see cmd/example's use of github.com/google/uuid).
type CustomGenerator[Pk comparable] struct {
	fn func() Pk
}

func NewCustomGenerator[Pk comparable](fn func() Pk) *CustomGenerator[Pk] {
	return &CustomGenerator[Pk]{fn: fn}
}

func (g *CustomGenerator[Pk]) Next() Pk { return g.fn() }

func (g *CustomGenerator[Pk]) IsSentinel(pk Pk) bool {
	var zero Pk
	return pk == zero
}
