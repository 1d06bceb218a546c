package lattice

import (
	"github.com/tasklattice/tasklattice/pkg/placeholder"
)

// Seed emits exactly one map seeded from defaults.
type Seed struct {
	Defaults SubstitutionMap
	Conflict ConflictPolicy
}

func NewSeed(defaults SubstitutionMap) *Seed {
	return &Seed{Defaults: defaults, Conflict: ConflictError}
}

func (s *Seed) Each(yield Yield) error {
	m, _, err := merge(SubstitutionMap{}, s.Defaults, s.Conflict)
	if err != nil {
		return err
	}
	_, err = yield(m)
	return err
}

func (s *Seed) EstimatedCardinality() (int64, bool) { return 1, true }

// Const merges a fixed set of constants into every map upstream produces.
type Const struct {
	Upstream Lattice
	Values   SubstitutionMap
	Conflict ConflictPolicy
}

func (l *Const) Each(yield Yield) error {
	return l.Upstream.Each(func(m SubstitutionMap) (bool, error) {
		merged, _, err := merge(m, l.Values, l.Conflict)
		if err != nil {
			return false, err
		}
		return yield(merged)
	})
}

func (l *Const) EstimatedCardinality() (int64, bool) { return l.Upstream.EstimatedCardinality() }

// Product cartesian-expands one parameter over a finite ordered tuple of
// values, for every map upstream produces.
type Product struct {
	Upstream Lattice
	Name     placeholder.Name
	Values   []placeholder.Value
	Conflict ConflictPolicy
}

func (l *Product) Each(yield Yield) error {
	return l.Upstream.Each(func(m SubstitutionMap) (bool, error) {
		for _, v := range l.Values {
			merged, _, err := merge(m, SubstitutionMap{l.Name: v}, l.Conflict)
			if err != nil {
				return false, err
			}
			cont, err := yield(merged)
			if err != nil || !cont {
				return cont, err
			}
		}
		return true, nil
	})
}

func (l *Product) EstimatedCardinality() (int64, bool) {
	up, ok := l.Upstream.EstimatedCardinality()
	if !ok {
		return 0, false
	}
	return up * int64(len(l.Values)), true
}

// Zip assigns aligned columns per row: row i supplies one value for each
// named column simultaneously. All columns must share the same row count.
type Zip struct {
	Upstream Lattice
	Columns  []placeholder.Name
	Rows     [][]placeholder.Value
	Conflict ConflictPolicy
}

// NewZip validates that every row has exactly len(columns) values.
func NewZip(upstream Lattice, columns []placeholder.Name, rows [][]placeholder.Value, conflict ConflictPolicy) (*Zip, error) {
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, &zipRowLengthError{rowIndex: i, got: len(row), want: len(columns)}
		}
	}
	return &Zip{Upstream: upstream, Columns: columns, Rows: rows, Conflict: conflict}, nil
}

type zipRowLengthError struct {
	rowIndex, got, want int
}

func (e *zipRowLengthError) Error() string {
	return "lattice: zip row " + itoa(e.rowIndex) + " has " + itoa(e.got) + " values, want " + itoa(e.want)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (l *Zip) Each(yield Yield) error {
	return l.Upstream.Each(func(m SubstitutionMap) (bool, error) {
		for _, row := range l.Rows {
			additions := make(SubstitutionMap, len(l.Columns))
			for i, col := range l.Columns {
				additions[col] = row[i]
			}
			merged, _, err := merge(m, additions, l.Conflict)
			if err != nil {
				return false, err
			}
			cont, err := yield(merged)
			if err != nil || !cont {
				return cont, err
			}
		}
		return true, nil
	})
}

func (l *Zip) EstimatedCardinality() (int64, bool) {
	up, ok := l.Upstream.EstimatedCardinality()
	if !ok {
		return 0, false
	}
	return up * int64(len(l.Rows)), true
}

// Derive applies a pure function producing additional bindings merged into
// every map upstream produces.
type Derive struct {
	Upstream Lattice
	Fn       func(SubstitutionMap) (SubstitutionMap, error)
	Conflict ConflictPolicy
}

func (l *Derive) Each(yield Yield) error {
	return l.Upstream.Each(func(m SubstitutionMap) (bool, error) {
		additions, err := l.Fn(m)
		if err != nil {
			return false, err
		}
		merged, _, err := merge(m, additions, l.Conflict)
		if err != nil {
			return false, err
		}
		return yield(merged)
	})
}

// EstimatedCardinality is reported as unknown. Derive emits exactly one
// merged map per upstream map (or stops with Fn's error), but it does not
// forward the upstream estimate.
func (l *Derive) EstimatedCardinality() (int64, bool) { return 0, false }

// Filter retains only the maps for which pred reports true.
type Filter struct {
	Upstream Lattice
	Pred     func(SubstitutionMap) (bool, error)
}

func (l *Filter) Each(yield Yield) error {
	return l.Upstream.Each(func(m SubstitutionMap) (bool, error) {
		ok, err := l.Pred(m)
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
		return yield(m)
	})
}

func (l *Filter) EstimatedCardinality() (int64, bool) { return 0, false }

// Dedup removes maps structurally equal (by sorted (key, value) pairs,
// spec.md 4.G) to one already emitted.
type Dedup struct {
	Upstream Lattice
}

func (l *Dedup) Each(yield Yield) error {
	seen := make(map[string]struct{})
	return l.Upstream.Each(func(m SubstitutionMap) (bool, error) {
		key := DedupKey(m)
		if _, ok := seen[key]; ok {
			return true, nil
		}
		seen[key] = struct{}{}
		return yield(m)
	})
}

func (l *Dedup) EstimatedCardinality() (int64, bool) { return 0, false }

// Concat appends B's stream after A's.
type Concat struct {
	A, B Lattice
}

func (l *Concat) Each(yield Yield) error {
	cont := true
	err := l.A.Each(func(m SubstitutionMap) (bool, error) {
		c, err := yield(m)
		cont = c
		return c, err
	})
	if err != nil || !cont {
		return err
	}
	return l.B.Each(yield)
}

func (l *Concat) EstimatedCardinality() (int64, bool) {
	a, ok := l.A.EstimatedCardinality()
	if !ok {
		return 0, false
	}
	b, ok := l.B.EstimatedCardinality()
	if !ok {
		return 0, false
	}
	return a + b, true
}

// ProductDimension is one named axis of a ConstrainedProduct search space.
type ProductDimension struct {
	Name   placeholder.Name
	Values []placeholder.Value
}

// ConstrainedProduct performs a depth-first cartesian search over space,
// for every map upstream produces, calling ok(partial) after each
// extension to prune branches early (spec.md 4.G).
type ConstrainedProduct struct {
	Upstream Lattice
	Space    []ProductDimension
	OK       func(partial SubstitutionMap) (bool, error)
	Conflict ConflictPolicy
}

func (l *ConstrainedProduct) Each(yield Yield) error {
	return l.Upstream.Each(func(base SubstitutionMap) (bool, error) {
		cont, err := l.search(base, 0, yield)
		return cont, err
	})
}

func (l *ConstrainedProduct) search(partial SubstitutionMap, dim int, yield Yield) (bool, error) {
	if dim == len(l.Space) {
		return yield(partial)
	}
	d := l.Space[dim]
	for _, v := range d.Values {
		extended, _, err := merge(partial, SubstitutionMap{d.Name: v}, l.Conflict)
		if err != nil {
			return false, err
		}
		ok, err := l.OK(extended)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}
		cont, err := l.search(extended, dim+1, yield)
		if err != nil || !cont {
			return cont, err
		}
	}
	return true, nil
}

func (l *ConstrainedProduct) EstimatedCardinality() (int64, bool) {
	// A constraint predicate can reject arbitrarily many branches; no
	// multiplicative upper bound can be assumed true cardinality.
	return 0, false
}
