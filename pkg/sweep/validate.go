package sweep

import (
	"encoding/json"
	"fmt"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError is one schema or domain violation found in a sweep
// document (pkg/schema/validate.go's ValidationError).
type ValidationError struct {
	Phase   string // semantic, domain
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
}

// validateSemantic validates cfg against the JSON Schema generated from
// Config: generate, compile, validate — mirroring pkg/schema/validate.go's
// validateSemantic two-step.
func validateSemantic(cfg *Config) []*ValidationError {
	data, err := json.Marshal(cfg)
	if err != nil {
		return []*ValidationError{{Phase: "semantic", Message: fmt.Sprintf("marshal for schema validation: %v", err)}}
	}

	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return []*ValidationError{{Phase: "semantic", Message: fmt.Sprintf("generate schema: %v", err)}}
	}

	var schemaDoc interface{}
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return []*ValidationError{{Phase: "semantic", Message: fmt.Sprintf("unmarshal schema: %v", err)}}
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("sweep-v1.json", schemaDoc); err != nil {
		return []*ValidationError{{Phase: "semantic", Message: fmt.Sprintf("add schema resource: %v", err)}}
	}

	sch, err := c.Compile("sweep-v1.json")
	if err != nil {
		return []*ValidationError{{Phase: "semantic", Message: fmt.Sprintf("compile schema: %v", err)}}
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return []*ValidationError{{Phase: "semantic", Message: fmt.Sprintf("unmarshal document: %v", err)}}
	}

	if err := sch.Validate(doc); err != nil {
		var errs []*ValidationError
		if ve, ok := err.(*sjsonschema.ValidationError); ok {
			for _, cause := range flattenValidationErrors(ve) {
				errs = append(errs, &ValidationError{
					Phase:   "semantic",
					Path:    strings.Join(cause.InstanceLocation, "/"),
					Message: fmt.Sprintf("%v", cause.ErrorKind),
				})
			}
		} else {
			errs = append(errs, &ValidationError{Phase: "semantic", Message: err.Error()})
		}
		return errs
	}
	return nil
}

func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// validateDomain applies rules the JSON Schema cannot express: the op
// sequence must open with a Seed, every op must populate the fields its
// Kind requires, and expr-valued ops must name a non-empty expression.
// Fields set for a different Kind are not rejected.
func validateDomain(cfg *Config) []*ValidationError {
	var errs []*ValidationError
	if len(cfg.Ops) == 0 {
		return errs // caught by the schema's minItems=1
	}
	if cfg.Ops[0].Kind != OpSeed {
		errs = append(errs, &ValidationError{Phase: "domain", Path: "ops[0].kind", Message: "the first op must be \"seed\""})
	}
	for i, op := range cfg.Ops {
		path := fmt.Sprintf("ops[%d]", i)
		switch op.Kind {
		case OpSeed, OpConst:
			if len(op.Values) == 0 {
				errs = append(errs, &ValidationError{Phase: "domain", Path: path + ".values", Message: fmt.Sprintf("%s requires non-empty values", op.Kind)})
			}
		case OpProduct:
			if op.Name == "" {
				errs = append(errs, &ValidationError{Phase: "domain", Path: path + ".name", Message: "product requires name"})
			}
			if len(op.Variants) == 0 {
				errs = append(errs, &ValidationError{Phase: "domain", Path: path + ".variants", Message: "product requires non-empty variants"})
			}
		case OpZip:
			if len(op.Columns) == 0 {
				errs = append(errs, &ValidationError{Phase: "domain", Path: path + ".columns", Message: "zip requires non-empty columns"})
			}
			for r, row := range op.Rows {
				if len(row) != len(op.Columns) {
					errs = append(errs, &ValidationError{Phase: "domain", Path: fmt.Sprintf("%s.rows[%d]", path, r), Message: "row length must match columns length"})
				}
			}
		case OpFilter:
			if strings.TrimSpace(op.Expr) == "" {
				errs = append(errs, &ValidationError{Phase: "domain", Path: path + ".expr", Message: "filter requires a non-empty expr"})
			}
		case OpConstrainedProduct:
			if strings.TrimSpace(op.Expr) == "" {
				errs = append(errs, &ValidationError{Phase: "domain", Path: path + ".expr", Message: "constrained_product requires a non-empty expr"})
			}
			if len(op.Space) == 0 {
				errs = append(errs, &ValidationError{Phase: "domain", Path: path + ".space", Message: "constrained_product requires a non-empty space"})
			}
		case OpDedup:
			// no fields required
		default:
			errs = append(errs, &ValidationError{Phase: "domain", Path: path + ".kind", Message: fmt.Sprintf("unknown op kind %q", op.Kind)})
		}
	}
	return errs
}

// Validate runs the semantic (JSON Schema) and domain validation phases
// against cfg and returns every violation found (pkg/schema/validate.go's
// ValidateFile, minus its structural phase — decode.go's Load already
// performs a strict YAML decode before Validate is ever reached).
func Validate(cfg *Config) []*ValidationError {
	var errs []*ValidationError
	errs = append(errs, validateSemantic(cfg)...)
	errs = append(errs, validateDomain(cfg)...)
	return errs
}
