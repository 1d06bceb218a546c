// Package lattice implements the lazy, composable substitution-map pipeline
// (component G): Seed/Const/Product/Zip/Derive/Filter/Dedup/Concat/
// ConstrainedProduct, with deterministic iteration and variant fingerprints.
//
// spec.md's lattice.py stub only sketches an "add_zip"/"add_product"
// builder and is superseded by spec.md 4.G, which is authoritative here
// (DESIGN.md Open Question: lattice semantics). The iteration shape itself
// — a pull-style Each(yield) contract with early-stop and error
// propagation — is grounded on the teacher's callback-driven evaluation
// loop in pkg/runtime/engine.go.
package lattice

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/tasklattice/tasklattice/pkg/placeholder"
)

// SubstitutionMap assigns a Value to each parameter name (spec.md 3).
type SubstitutionMap map[placeholder.Name]placeholder.Value

func (m SubstitutionMap) clone() SubstitutionMap {
	out := make(SubstitutionMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ConflictPolicy governs how a merge resolves a key present in both the
// upstream map and the values being merged in (spec.md 4.G).
type ConflictPolicy string

const (
	ConflictError     ConflictPolicy = "error"
	ConflictFirstWins ConflictPolicy = "first_wins"
	ConflictLastWins  ConflictPolicy = "last_wins"
)

func merge(dst SubstitutionMap, additions SubstitutionMap, policy ConflictPolicy) (SubstitutionMap, bool, error) {
	out := dst.clone()
	for k, v := range additions {
		if existing, ok := out[k]; ok {
			switch policy {
			case ConflictError:
				return nil, false, fmt.Errorf("lattice: conflicting assignment for %q", k)
			case ConflictFirstWins:
				_ = existing
				continue
			case ConflictLastWins:
				out[k] = v
			default:
				return nil, false, fmt.Errorf("lattice: unknown conflict policy %q", policy)
			}
		} else {
			out[k] = v
		}
	}
	return out, true, nil
}

// Yield is called once per emitted SubstitutionMap. Returning false stops
// iteration early without error; returning a non-nil error aborts it.
type Yield func(SubstitutionMap) (bool, error)

// Lattice is an immutable, lazily-evaluated chain of substitution-map
// producing operations (spec.md 4.G).
type Lattice interface {
	// Each streams every map in deterministic order to yield, stopping
	// early if yield returns false or an error.
	Each(yield Yield) error

	// EstimatedCardinality multiplies known per-stage factors; ok is false
	// when any stage in the chain cannot report one (e.g. Filter, Derive).
	EstimatedCardinality() (n int64, ok bool)
}

// ExactCardinality counts l's stream by iteration, stopping once limit
// maps have been seen if limit >= 0.
func ExactCardinality(l Lattice, limit int64) (int64, error) {
	if limit == 0 {
		return 0, nil
	}
	var n int64
	err := l.Each(func(SubstitutionMap) (bool, error) {
		n++
		if limit >= 0 && n >= limit {
			return false, nil
		}
		return true, nil
	})
	return n, err
}

// Collect materializes every map in l's stream. Intended for small
// lattices and tests; production callers should prefer Each/IterWithIDs.
func Collect(l Lattice) ([]SubstitutionMap, error) {
	var out []SubstitutionMap
	err := l.Each(func(m SubstitutionMap) (bool, error) {
		out = append(out, m)
		return true, nil
	})
	return out, err
}

// Variant pairs a map with its deterministic 128-bit variant identifier.
type Variant struct {
	ID  string
	Map SubstitutionMap
}

// YieldVariant is the IterWithIDs analog of Yield.
type YieldVariant func(Variant) (bool, error)

// IterWithIDs streams (variant_id, map) pairs, where variant_id is a
// fixed-width hex encoding of a 128-bit hash over the map's canonical
// encoding mixed with salt (spec.md 4.G). crypto/sha256 is used because no
// hashing library appears anywhere in the example pack.
func IterWithIDs(l Lattice, salt string, yield YieldVariant) error {
	return l.Each(func(m SubstitutionMap) (bool, error) {
		return yield(Variant{ID: VariantID(m, salt), Map: m})
	})
}

// VariantID computes the canonical 128-bit variant identifier for m under
// salt: keys sorted by string form, values tagged with their Kind and
// serialized via Value.String.
func VariantID(m SubstitutionMap, salt string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	h := sha256.New()
	_, _ = h.Write([]byte(salt))
	_, _ = h.Write([]byte{0})
	for _, k := range keys {
		v := m[placeholder.Name(k)]
		_, _ = h.Write([]byte(k))
		_, _ = h.Write([]byte{'='})
		_, _ = h.Write([]byte(v.Kind))
		_, _ = h.Write([]byte{':'})
		_, _ = h.Write([]byte(v.String()))
		_, _ = h.Write([]byte{';'})
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// DedupKey renders m's canonical (key, value) encoding used to compare maps
// for structural equality in Dedup (spec.md 4.G; DESIGN.md Open Question
// #2 — no int/float cross-equality, since Value.Equal never does either).
func DedupKey(m SubstitutionMap) string {
	return VariantID(m, "")
}
