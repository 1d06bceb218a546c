// Package sweep decodes, validates, and compiles a declarative sweep
// document: a YAML file naming a prototype, a RunPlan, and a sequence of
// lattice operations.
//
// Grounded on _examples/ormasoftchile-gert/pkg/schema's two-step
// "generate JSON Schema from the Go struct, then compile+validate a
// decoded document against it" pipeline
// (pkg/schema/export.go's GenerateJSONSchema, pkg/schema/validate.go's
// validateSemantic), and on pkg/kernel/schema/types.go's Step — a single
// struct whose Type field selects which of its other fields apply — as
// the model for Op.Kind.
package sweep

// Config is the top-level sweep document.
type Config struct {
	APIVersion string `yaml:"apiVersion" json:"apiVersion" jsonschema:"required,const=tasklattice/sweep/v1"`

	Name         string `yaml:"name"          json:"name"          jsonschema:"required"`
	PrototypeDir string `yaml:"prototype_dir" json:"prototype_dir" jsonschema:"required"`
	RunsRoot     string `yaml:"runs_root"     json:"runs_root"     jsonschema:"required"`

	Render []RenderEntry `yaml:"render,omitempty" json:"render,omitempty"`

	LinkMode              string   `yaml:"link_mode,omitempty" json:"link_mode,omitempty" jsonschema:"enum=copy,enum=symlink,enum=hardlink,default=copy"`
	Newline               string   `yaml:"newline,omitempty" json:"newline,omitempty" jsonschema:"enum=lf,enum=crlf,default=lf"`
	EnsureTrailingNewline *bool    `yaml:"ensure_trailing_newline,omitempty" json:"ensure_trailing_newline,omitempty"`
	IncludeGlobs          []string `yaml:"include,omitempty" json:"include,omitempty"`
	ExcludeGlobs          []string `yaml:"exclude,omitempty" json:"exclude,omitempty"`

	Ops []Op `yaml:"ops" json:"ops" jsonschema:"required,minItems=1"`
}

// RenderEntry names one prototype file to render (pkg/runplan.UserRenderSpec).
type RenderEntry struct {
	Source string `yaml:"source" json:"source" jsonschema:"required"`
	Target string `yaml:"target,omitempty" json:"target,omitempty"`
}

// OpKind selects which of Op's other fields are populated. Fields are
// populated based on Kind, the same convention kernel/v0's Step uses for
// its seven step types.
type OpKind string

const (
	OpSeed               OpKind = "seed"
	OpConst              OpKind = "const"
	OpProduct            OpKind = "product"
	OpZip                OpKind = "zip"
	OpFilter             OpKind = "filter"
	OpDedup              OpKind = "dedup"
	OpConstrainedProduct OpKind = "constrained_product"
)

// Op is one stage of the lattice pipeline. The first Op must be Seed.
//
// Derive and Concat have no declarative form here: Derive takes an
// arbitrary Go callback (not expressible as data), and Concat merges two
// independently built sub-lattices, which does not fit a single flat
// sequence. Both remain available to Go callers composing pkg/lattice
// directly.
type Op struct {
	Kind OpKind `yaml:"kind" json:"kind" jsonschema:"required,enum=seed,enum=const,enum=product,enum=zip,enum=filter,enum=dedup,enum=constrained_product"`

	// seed, const
	Values map[string]any `yaml:"values,omitempty" json:"values,omitempty"`

	// product
	Name     string `yaml:"name,omitempty" json:"name,omitempty"`
	Variants []any  `yaml:"variants,omitempty" json:"variants,omitempty"`

	// zip
	Columns []string `yaml:"columns,omitempty" json:"columns,omitempty"`
	Rows    [][]any  `yaml:"rows,omitempty" json:"rows,omitempty"`

	// filter, constrained_product
	Expr string `yaml:"expr,omitempty" json:"expr,omitempty"`

	// constrained_product
	Space map[string][]any `yaml:"space,omitempty" json:"space,omitempty"`

	// seed, const, product, zip, constrained_product
	Conflict string `yaml:"conflict,omitempty" json:"conflict,omitempty" jsonschema:"enum=error,enum=first_wins,enum=last_wins,default=error"`
}
