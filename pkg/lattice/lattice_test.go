package lattice

import (
	"testing"

	"github.com/tasklattice/tasklattice/pkg/placeholder"
)

func TestSeedEmitsOne(t *testing.T) {
	l := NewSeed(SubstitutionMap{"a": placeholder.Int(1)})
	maps, err := Collect(l)
	if err != nil {
		t.Fatal(err)
	}
	if len(maps) != 1 {
		t.Fatalf("expected 1 map, got %d", len(maps))
	}
	if !maps[0]["a"].Equal(placeholder.Int(1)) {
		t.Errorf("got %v", maps[0])
	}
}

func TestProductCartesianExpands(t *testing.T) {
	seed := NewSeed(SubstitutionMap{})
	p := &Product{
		Upstream: seed,
		Name:     "x",
		Values:   []placeholder.Value{placeholder.Int(1), placeholder.Int(2), placeholder.Int(3)},
		Conflict: ConflictError,
	}
	maps, err := Collect(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(maps) != 3 {
		t.Fatalf("expected 3, got %d", len(maps))
	}
	n, ok := p.EstimatedCardinality()
	if !ok || n != 3 {
		t.Errorf("estimated cardinality = %d, %v", n, ok)
	}
}

func TestProductOfProductIsCartesian(t *testing.T) {
	seed := NewSeed(SubstitutionMap{})
	p1 := &Product{Upstream: seed, Name: "x", Values: []placeholder.Value{placeholder.Int(1), placeholder.Int(2)}, Conflict: ConflictError}
	p2 := &Product{Upstream: p1, Name: "y", Values: []placeholder.Value{placeholder.Str("a"), placeholder.Str("b")}, Conflict: ConflictError}
	maps, err := Collect(p2)
	if err != nil {
		t.Fatal(err)
	}
	if len(maps) != 4 {
		t.Fatalf("expected 4, got %d", len(maps))
	}
}

func TestZipRequiresMatchingRowLength(t *testing.T) {
	seed := NewSeed(SubstitutionMap{})
	_, err := NewZip(seed, []placeholder.Name{"a", "b"}, [][]placeholder.Value{{placeholder.Int(1)}}, ConflictError)
	if err == nil {
		t.Fatal("expected row-length mismatch error")
	}
}

func TestZipAlignsColumns(t *testing.T) {
	seed := NewSeed(SubstitutionMap{})
	z, err := NewZip(seed, []placeholder.Name{"a", "b"}, [][]placeholder.Value{
		{placeholder.Int(1), placeholder.Str("x")},
		{placeholder.Int(2), placeholder.Str("y")},
	}, ConflictError)
	if err != nil {
		t.Fatal(err)
	}
	maps, err := Collect(z)
	if err != nil {
		t.Fatal(err)
	}
	if len(maps) != 2 {
		t.Fatalf("expected 2, got %d", len(maps))
	}
	if !maps[0]["a"].Equal(placeholder.Int(1)) || !maps[0]["b"].Equal(placeholder.Str("x")) {
		t.Errorf("row 0 = %v", maps[0])
	}
}

func TestFilterRetainsMatching(t *testing.T) {
	seed := NewSeed(SubstitutionMap{})
	p := &Product{Upstream: seed, Name: "x", Values: []placeholder.Value{placeholder.Int(1), placeholder.Int(2), placeholder.Int(3)}, Conflict: ConflictError}
	f := &Filter{Upstream: p, Pred: func(m SubstitutionMap) (bool, error) {
		return m["x"].I > 1, nil
	}}
	maps, err := Collect(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(maps) != 2 {
		t.Fatalf("expected 2, got %d", len(maps))
	}
}

func TestDedupRemovesStructuralDuplicates(t *testing.T) {
	seed := NewSeed(SubstitutionMap{})
	z, err := NewZip(seed, []placeholder.Name{"x"}, [][]placeholder.Value{
		{placeholder.Int(1)}, {placeholder.Int(1)}, {placeholder.Int(2)},
	}, ConflictError)
	if err != nil {
		t.Fatal(err)
	}
	d := &Dedup{Upstream: z}
	maps, err := Collect(d)
	if err != nil {
		t.Fatal(err)
	}
	if len(maps) != 2 {
		t.Fatalf("expected 2 deduped maps, got %d", len(maps))
	}
}

func TestDedupDoesNotCrossEqualIntFloat(t *testing.T) {
	seed := NewSeed(SubstitutionMap{})
	z, err := NewZip(seed, []placeholder.Name{"x"}, [][]placeholder.Value{
		{placeholder.Int(1)}, {placeholder.Float(1.0)},
	}, ConflictError)
	if err != nil {
		t.Fatal(err)
	}
	d := &Dedup{Upstream: z}
	maps, err := Collect(d)
	if err != nil {
		t.Fatal(err)
	}
	if len(maps) != 2 {
		t.Fatalf("expected int(1) and float(1.0) to remain distinct, got %d", len(maps))
	}
}

func TestConcatAppendsStreams(t *testing.T) {
	a := NewSeed(SubstitutionMap{"x": placeholder.Int(1)})
	b := NewSeed(SubstitutionMap{"x": placeholder.Int(2)})
	c := &Concat{A: a, B: b}
	maps, err := Collect(c)
	if err != nil {
		t.Fatal(err)
	}
	if len(maps) != 2 {
		t.Fatalf("expected 2, got %d", len(maps))
	}
}

func TestConstrainedProductPrunesBranches(t *testing.T) {
	seed := NewSeed(SubstitutionMap{})
	cp := &ConstrainedProduct{
		Upstream: seed,
		Space: []ProductDimension{
			{Name: "a", Values: []placeholder.Value{placeholder.Int(1), placeholder.Int(2)}},
			{Name: "b", Values: []placeholder.Value{placeholder.Int(1), placeholder.Int(2)}},
		},
		OK: func(partial SubstitutionMap) (bool, error) {
			if b, ok := partial["b"]; ok {
				a := partial["a"]
				return b.I >= a.I, nil
			}
			return true, nil
		},
		Conflict: ConflictError,
	}
	maps, err := Collect(cp)
	if err != nil {
		t.Fatal(err)
	}
	if len(maps) != 3 { // (1,1) (1,2) (2,2)
		t.Fatalf("expected 3, got %d: %v", len(maps), maps)
	}
}

func TestConflictErrorPolicyRejectsDuplicateKey(t *testing.T) {
	seed := NewSeed(SubstitutionMap{"x": placeholder.Int(1)})
	c := &Const{Upstream: seed, Values: SubstitutionMap{"x": placeholder.Int(2)}, Conflict: ConflictError}
	if _, err := Collect(c); err == nil {
		t.Fatal("expected conflict error")
	}
}

func TestConflictFirstWinsKeepsUpstreamValue(t *testing.T) {
	seed := NewSeed(SubstitutionMap{"x": placeholder.Int(1)})
	c := &Const{Upstream: seed, Values: SubstitutionMap{"x": placeholder.Int(2)}, Conflict: ConflictFirstWins}
	maps, err := Collect(c)
	if err != nil {
		t.Fatal(err)
	}
	if !maps[0]["x"].Equal(placeholder.Int(1)) {
		t.Errorf("expected first-wins to keep 1, got %v", maps[0]["x"])
	}
}

func TestConflictLastWinsOverwrites(t *testing.T) {
	seed := NewSeed(SubstitutionMap{"x": placeholder.Int(1)})
	c := &Const{Upstream: seed, Values: SubstitutionMap{"x": placeholder.Int(2)}, Conflict: ConflictLastWins}
	maps, err := Collect(c)
	if err != nil {
		t.Fatal(err)
	}
	if !maps[0]["x"].Equal(placeholder.Int(2)) {
		t.Errorf("expected last-wins to overwrite to 2, got %v", maps[0]["x"])
	}
}

func TestIterWithIDsStableForFixedInput(t *testing.T) {
	seed := NewSeed(SubstitutionMap{"x": placeholder.Int(1)})
	var first, second string
	_ = IterWithIDs(seed, "salt", func(v Variant) (bool, error) {
		first = v.ID
		return true, nil
	})
	_ = IterWithIDs(seed, "salt", func(v Variant) (bool, error) {
		second = v.ID
		return true, nil
	})
	if first != second {
		t.Errorf("variant id not stable: %q vs %q", first, second)
	}
	if len(first) != 32 {
		t.Errorf("expected 32 hex chars (128 bits), got %d", len(first))
	}
}

func TestIterWithIDsChangesWithSalt(t *testing.T) {
	seed := NewSeed(SubstitutionMap{"x": placeholder.Int(1)})
	var a, b string
	_ = IterWithIDs(seed, "salt-a", func(v Variant) (bool, error) { a = v.ID; return true, nil })
	_ = IterWithIDs(seed, "salt-b", func(v Variant) (bool, error) { b = v.ID; return true, nil })
	if a == b {
		t.Error("expected different salts to produce different variant ids")
	}
}

func TestExprPredicateFiltersLattice(t *testing.T) {
	seed := NewSeed(SubstitutionMap{})
	p := &Product{Upstream: seed, Name: "x", Values: []placeholder.Value{placeholder.Int(1), placeholder.Int(2), placeholder.Int(3)}, Conflict: ConflictError}
	program, err := CompilePredicate("x > 1", []placeholder.Name{"x"})
	if err != nil {
		t.Fatal(err)
	}
	f := &Filter{Upstream: p, Pred: ExprPredicate(program)}
	maps, err := Collect(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(maps) != 2 {
		t.Fatalf("expected 2, got %d", len(maps))
	}
}
