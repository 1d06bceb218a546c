package placeholder

import (
	"fmt"
	"math"
)

// Resolve decides a parameter's effective type, coerces its default and
// domain to that type, and validates default membership — the algorithm of
// spec.md 4.C, grounded on
// original_source/src/tasklattice/placeholder/resolve.py.
func Resolve(pu *ParamUnresolved) (*ParamResolved, error) {
	loc := ""
	if pu.Placeholder != nil {
		loc = pu.Placeholder.Source.DescribeSpan(pu.Placeholder.InnerSpan)
	}

	effective, err := chooseType(pu)
	if err != nil {
		return nil, fmt.Errorf("%s: parameter %q: %w", loc, pu.Name, err)
	}

	def, err := coerceValue(pu.Default, effective)
	if err != nil {
		return nil, fmt.Errorf("%s: parameter %q: default value: %w", loc, pu.Name, err)
	}

	var dom Domain
	if pu.Domain != nil {
		dom, err = resolveDomain(pu.Domain, effective)
		if err != nil {
			return nil, fmt.Errorf("%s: parameter %q: domain: %w", loc, pu.Name, err)
		}
		if !dom.Contains(def) {
			return nil, fmt.Errorf("%s: parameter %q: default %s is not in domain", loc, pu.Name, def)
		}
	}

	return &ParamResolved{
		Name:          pu.Name,
		Default:       def,
		EffectiveType: effective,
		Domain:        dom,
		Description:   pu.Description,
		Placeholder:   pu.Placeholder,
	}, nil
}

func chooseType(pu *ParamUnresolved) (Kind, error) {
	if pu.DeclaredType != "" {
		return Kind(pu.DeclaredType), nil
	}
	if pu.Domain != nil {
		return inferTypeFromDomain(pu.Domain, pu.Default)
	}
	return pu.Default.Kind, nil
}

func inferTypeFromDomain(dom *DomainRaw, def Value) (Kind, error) {
	switch {
	case dom.Interval != nil:
		iv := dom.Interval
		if def.Kind == KindInt && iv.Lower.Kind == KindInt && iv.Upper.Kind == KindInt {
			return KindInt, nil
		}
		return KindFloat, nil
	case dom.Set != nil:
		return inferTypeFromSet(dom.Set.Values)
	default:
		return "", fmt.Errorf("empty domain")
	}
}

func inferTypeFromSet(values []Value) (Kind, error) {
	if len(values) == 0 {
		// No entries to infer from; fall back to string (an empty set
		// rejects every value regardless of type per spec.md 8).
		return KindStr, nil
	}
	allStr, allInt, allNumeric := true, true, true
	for _, v := range values {
		if v.Kind != KindStr {
			allStr = false
		}
		if v.Kind != KindInt {
			allInt = false
		}
		if v.Kind != KindInt && v.Kind != KindFloat {
			allNumeric = false
		}
	}
	switch {
	case allStr:
		return KindStr, nil
	case allInt:
		return KindInt, nil
	case allNumeric:
		return KindFloat, nil
	default:
		return "", fmt.Errorf("set domain has mixed, non-numeric member types; declare an explicit type")
	}
}

// coerceValue converts v to target per spec.md 4.C's coercion rules:
// int->float always allowed; float->int allowed only if exactly integral;
// bool and str never coerce to/from any other kind.
func coerceValue(v Value, target Kind) (Value, error) {
	if v.Kind == target {
		return v, nil
	}
	switch target {
	case KindFloat:
		if v.Kind == KindInt {
			return Float(float64(v.I)), nil
		}
	case KindInt:
		if v.Kind == KindFloat {
			if v.F == math.Trunc(v.F) && !math.IsInf(v.F, 0) {
				return Int(int64(v.F)), nil
			}
			return Value{}, fmt.Errorf("float %g is not exactly integral, cannot coerce to int", v.F)
		}
	}
	return Value{}, fmt.Errorf("cannot coerce %s value %s to %s", v.Kind, v, target)
}

func resolveDomain(raw *DomainRaw, target Kind) (Domain, error) {
	switch {
	case raw.Interval != nil:
		return resolveInterval(raw.Interval, target)
	case raw.Set != nil:
		return resolveSet(raw.Set, target)
	default:
		return nil, fmt.Errorf("empty domain")
	}
}

func resolveInterval(iv *IntervalRaw, target Kind) (Domain, error) {
	if target == KindStr || target == KindBool {
		return nil, fmt.Errorf("interval domains are numeric only, got type %s", target)
	}
	lower, err := coerceValue(iv.Lower, target)
	if err != nil {
		return nil, fmt.Errorf("lower bound: %w", err)
	}
	upper, err := coerceValue(iv.Upper, target)
	if err != nil {
		return nil, fmt.Errorf("upper bound: %w", err)
	}
	lo, _ := numericValue(lower)
	hi, _ := numericValue(upper)
	if lo > hi {
		return nil, fmt.Errorf("interval lower bound %s must be <= upper bound %s", lower, upper)
	}
	if lo == hi && !(iv.InclusiveLower && iv.InclusiveUpper) {
		return nil, fmt.Errorf("interval with equal bounds %s requires both ends inclusive", lower)
	}
	return IntervalDomain{
		Lower:          lower,
		Upper:          upper,
		InclusiveLower: iv.InclusiveLower,
		InclusiveUpper: iv.InclusiveUpper,
	}, nil
}

func resolveSet(set *SetRaw, target Kind) (Domain, error) {
	if target == KindBool {
		return nil, fmt.Errorf("boolean sets are not supported")
	}
	out := make([]Value, 0, len(set.Values))
	for _, v := range set.Values {
		cv, err := coerceValue(v, target)
		if err != nil {
			return nil, fmt.Errorf("set member %s: %w", v, err)
		}
		out = append(out, cv)
	}
	return SetDomain{Values: out}, nil
}
