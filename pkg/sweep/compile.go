package sweep

import (
	"fmt"
	"sort"

	"github.com/tasklattice/tasklattice/pkg/lattice"
	"github.com/tasklattice/tasklattice/pkg/placeholder"
	"github.com/tasklattice/tasklattice/pkg/runplan"
)

// Compile builds a RunPlan and a Lattice from a validated Config. Call
// Validate first; Compile does not re-run schema/domain checks.
//
// The Ops sequence is folded left to right starting from the mandatory
// leading Seed, the same way pkg/kernel/engine.go walks a Runbook's Steps
// in order building up execution state — here each Op wraps the
// previous Lattice instead of mutating a shared state map.
func Compile(cfg *Config) (*runplan.RunPlan, lattice.Lattice, error) {
	render := make([]runplan.UserRenderSpec, 0, len(cfg.Render))
	for _, entry := range cfg.Render {
		render = append(render, runplan.UserRenderSpec{Source: entry.Source, Target: entry.Target})
	}

	var opts []runplan.Option
	if cfg.LinkMode != "" {
		opts = append(opts, runplan.WithLinkMode(runplan.LinkMode(cfg.LinkMode)))
	}
	if len(cfg.IncludeGlobs) > 0 {
		opts = append(opts, runplan.WithIncludeGlobs(cfg.IncludeGlobs))
	}
	if len(cfg.ExcludeGlobs) > 0 {
		opts = append(opts, runplan.WithExcludeGlobs(cfg.ExcludeGlobs))
	}
	if cfg.Newline != "" || cfg.EnsureTrailingNewline != nil {
		nl := "\n"
		switch cfg.Newline {
		case "crlf":
			nl = "\r\n"
		case "lf", "":
			nl = "\n"
		}
		ensure := true
		if cfg.EnsureTrailingNewline != nil {
			ensure = *cfg.EnsureTrailingNewline
		}
		opts = append(opts, runplan.WithNewline(nl, ensure))
	}

	plan, err := runplan.New(cfg.Name, cfg.RunsRoot, cfg.PrototypeDir, render, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("sweep: build run plan: %w", err)
	}

	lat, err := compileOps(cfg.Ops)
	if err != nil {
		return nil, nil, err
	}
	return plan, lat, nil
}

func compileOps(ops []Op) (lattice.Lattice, error) {
	if len(ops) == 0 || ops[0].Kind != OpSeed {
		return nil, fmt.Errorf("sweep: ops must open with a seed op")
	}

	defaults, err := toSubstitutionMap(ops[0].Values)
	if err != nil {
		return nil, fmt.Errorf("sweep: ops[0] (seed): %w", err)
	}
	seed := lattice.NewSeed(defaults)
	if ops[0].Conflict != "" {
		seed.Conflict = lattice.ConflictPolicy(ops[0].Conflict)
	}

	var lat lattice.Lattice = seed
	known := namesOf(ops[0])

	for i := 1; i < len(ops); i++ {
		op := ops[i]
		path := fmt.Sprintf("ops[%d]", i)
		conflict := lattice.ConflictPolicy(op.Conflict)
		if conflict == "" {
			conflict = lattice.ConflictError
		}

		switch op.Kind {
		case OpConst:
			values, err := toSubstitutionMap(op.Values)
			if err != nil {
				return nil, fmt.Errorf("sweep: %s: %w", path, err)
			}
			lat = &lattice.Const{Upstream: lat, Values: values, Conflict: conflict}

		case OpProduct:
			values := make([]placeholder.Value, 0, len(op.Variants))
			for _, v := range op.Variants {
				pv, err := toValue(v)
				if err != nil {
					return nil, fmt.Errorf("sweep: %s.variants: %w", path, err)
				}
				values = append(values, pv)
			}
			lat = &lattice.Product{Upstream: lat, Name: placeholder.Name(op.Name), Values: values, Conflict: conflict}

		case OpZip:
			cols := make([]placeholder.Name, len(op.Columns))
			for ci, c := range op.Columns {
				cols[ci] = placeholder.Name(c)
			}
			rows := make([][]placeholder.Value, len(op.Rows))
			for r, row := range op.Rows {
				vals := make([]placeholder.Value, len(row))
				for c, v := range row {
					pv, err := toValue(v)
					if err != nil {
						return nil, fmt.Errorf("sweep: %s.rows[%d][%d]: %w", path, r, c, err)
					}
					vals[c] = pv
				}
				rows[r] = vals
			}
			zip, err := lattice.NewZip(lat, cols, rows, conflict)
			if err != nil {
				return nil, fmt.Errorf("sweep: %s: %w", path, err)
			}
			lat = zip

		case OpFilter:
			program, err := lattice.CompilePredicate(op.Expr, known)
			if err != nil {
				return nil, fmt.Errorf("sweep: %s: %w", path, err)
			}
			lat = &lattice.Filter{Upstream: lat, Pred: lattice.ExprPredicate(program)}

		case OpDedup:
			lat = &lattice.Dedup{Upstream: lat}

		case OpConstrainedProduct:
			// op.Space is a map; Go map iteration order is randomized per
			// process. Sort keys so the dimension order — and therefore
			// ConstrainedProduct's nested search order — is stable across
			// runs for a fixed document (spec.md 4.G's determinism
			// contract).
			spaceNames := make([]string, 0, len(op.Space))
			for name := range op.Space {
				spaceNames = append(spaceNames, name)
			}
			sort.Strings(spaceNames)

			space := make([]lattice.ProductDimension, 0, len(spaceNames))
			dimNames := make([]placeholder.Name, 0, len(spaceNames))
			for _, name := range spaceNames {
				variants := op.Space[name]
				vals := make([]placeholder.Value, 0, len(variants))
				for _, v := range variants {
					pv, err := toValue(v)
					if err != nil {
						return nil, fmt.Errorf("sweep: %s.space[%s]: %w", path, name, err)
					}
					vals = append(vals, pv)
				}
				dimNames = append(dimNames, placeholder.Name(name))
				space = append(space, lattice.ProductDimension{Name: placeholder.Name(name), Values: vals})
			}
			program, err := lattice.CompilePredicate(op.Expr, append(append([]placeholder.Name{}, known...), dimNames...))
			if err != nil {
				return nil, fmt.Errorf("sweep: %s: %w", path, err)
			}
			lat = &lattice.ConstrainedProduct{
				Upstream: lat,
				Space:    space,
				OK:       lattice.ExprPredicate(program),
				Conflict: conflict,
			}

		default:
			return nil, fmt.Errorf("sweep: %s: unknown op kind %q", path, op.Kind)
		}

		known = append(known, namesOf(op)...)
	}

	return lat, nil
}

func namesOf(op Op) []placeholder.Name {
	var names []placeholder.Name
	for k := range op.Values {
		names = append(names, placeholder.Name(k))
	}
	if op.Name != "" {
		names = append(names, placeholder.Name(op.Name))
	}
	for _, c := range op.Columns {
		names = append(names, placeholder.Name(c))
	}
	for k := range op.Space {
		names = append(names, placeholder.Name(k))
	}
	return names
}

func toSubstitutionMap(values map[string]any) (lattice.SubstitutionMap, error) {
	out := make(lattice.SubstitutionMap, len(values))
	for k, v := range values {
		pv, err := toValue(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[placeholder.Name(k)] = pv
	}
	return out, nil
}

// toValue converts a YAML/JSON-decoded scalar into a placeholder.Value.
// yaml.v3 decodes integers as int and floats as float64; both are
// accepted for the same reason pkg/placeholder/parse.go's literal parser
// accepts either.
func toValue(v any) (placeholder.Value, error) {
	switch x := v.(type) {
	case string:
		return placeholder.Str(x), nil
	case bool:
		return placeholder.Bool(x), nil
	case int:
		return placeholder.Int(int64(x)), nil
	case int64:
		return placeholder.Int(x), nil
	case float64:
		return placeholder.Float(x), nil
	default:
		return placeholder.Value{}, fmt.Errorf("unsupported value type %T", v)
	}
}
