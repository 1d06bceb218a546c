// Package profile implements the per-format quoting/escaping policy bag
// (component D): built-in profiles for JSON, YAML, TOML, INI, properties,
// dotenv, and XML, plus a registry supporting named custom clones.
//
// Grounded on original_source/src/tasklattice/profile.py for the exact
// field values of each built-in profile.
package profile

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// ID identifies a profile, built-in or custom.
type ID string

const (
	JSON       ID = "json"
	YAML       ID = "yaml"
	TOML       ID = "toml"
	INI        ID = "ini"
	Properties ID = "properties"
	Dotenv     ID = "dotenv"
	XML        ID = "xml"
)

// Kind classifies how strictly a profile distinguishes typed scalars from
// strings.
type Kind string

const (
	KindTyped    Kind = "typed"    // JSON, YAML, TOML: bool/int/float are distinct from string
	KindStringly Kind = "stringly" // INI, properties, dotenv: everything renders as text
	KindXML      Kind = "xml"
)

// EscapePolicy selects which content escaper the renderer applies.
type EscapePolicy string

const (
	EscapeJSONPolicy       EscapePolicy = "json"
	EscapeYAMLPolicy       EscapePolicy = "yaml"
	EscapeTOMLPolicy       EscapePolicy = "toml"
	EscapePropertiesPolicy EscapePolicy = "properties"
	EscapeXMLPolicy        EscapePolicy = "xml"
)

// Profile is an immutable per-format policy bag (spec.md 3, "Profile").
// Construct via Get/Clone only; the zero value is not a valid Profile.
type Profile struct {
	ID   ID
	Kind Kind

	StringsMustBeQuoted       bool
	AllowedQuoteStyles        []string // "single", "double"
	PreferredQuoteStyle       string
	AutoQuoteUnquotedStrings  bool
	WarnOnQuotedNonString     bool
	CoerceQuotedNonStringToStr bool

	EscapePolicy EscapePolicy

	BoolTrue  string
	BoolFalse string

	FloatFormat         byte // 'g', 'f', 'e'
	FloatPrecision      int  // -1 means "shortest round-trip"
	StripTrailingZeros  bool

	// YAML-only.
	YAMLStringNeedsQuotes func(string) bool

	// XML-only.
	XMLAttributesMustRemainQuoted bool

	// Stringly-format-only: extra bytes that must be backslash-escaped
	// beyond \, \n, \r, \t.
	PropertiesExtraEscapes string

	CommentPrefixes []string
}

func boolSpellings() (string, string) { return "true", "false" }

func makeJSONProfile() Profile {
	t, f := boolSpellings()
	return Profile{
		ID:                        JSON,
		Kind:                      KindTyped,
		StringsMustBeQuoted:       true,
		AllowedQuoteStyles:        []string{"double"},
		PreferredQuoteStyle:       "double",
		AutoQuoteUnquotedStrings:  true,
		WarnOnQuotedNonString:     true,
		EscapePolicy:              EscapeJSONPolicy,
		BoolTrue:                  t,
		BoolFalse:                 f,
		FloatFormat:               'g',
		FloatPrecision:            -1,
		StripTrailingZeros:        false,
		CommentPrefixes:           nil,
	}
}

func makeYAMLProfile() Profile {
	t, f := boolSpellings()
	return Profile{
		ID:                       YAML,
		Kind:                     KindTyped,
		StringsMustBeQuoted:      false,
		AllowedQuoteStyles:       []string{"single", "double"},
		PreferredQuoteStyle:      "double",
		AutoQuoteUnquotedStrings: true,
		WarnOnQuotedNonString:    true,
		EscapePolicy:             EscapeYAMLPolicy,
		BoolTrue:                 t,
		BoolFalse:                f,
		FloatFormat:              'g',
		FloatPrecision:           -1,
		StripTrailingZeros:       true,
		YAMLStringNeedsQuotes:    DefaultYAMLNeedsQuotes,
		CommentPrefixes:          []string{"#"},
	}
}

func makeTOMLProfile() Profile {
	t, f := boolSpellings()
	return Profile{
		ID:                       TOML,
		Kind:                     KindTyped,
		StringsMustBeQuoted:      true,
		AllowedQuoteStyles:       []string{"double"},
		PreferredQuoteStyle:      "double",
		AutoQuoteUnquotedStrings: true,
		WarnOnQuotedNonString:    true,
		EscapePolicy:             EscapeTOMLPolicy,
		BoolTrue:                 t,
		BoolFalse:                f,
		FloatFormat:              'g',
		FloatPrecision:           -1,
		StripTrailingZeros:       false,
		CommentPrefixes:          []string{"#"},
	}
}

func makeINIProfile() Profile {
	t, f := boolSpellings()
	return Profile{
		ID:                     INI,
		Kind:                   KindStringly,
		StringsMustBeQuoted:    false,
		AllowedQuoteStyles:     []string{"single", "double"},
		PreferredQuoteStyle:    "double",
		EscapePolicy:           EscapePropertiesPolicy,
		BoolTrue:               t,
		BoolFalse:              f,
		FloatFormat:            'g',
		FloatPrecision:         -1,
		StripTrailingZeros:     true,
		PropertiesExtraEscapes: "",
		CommentPrefixes:        []string{";", "#"},
	}
}

func makePropertiesProfile() Profile {
	p := makeINIProfile()
	p.ID = Properties
	p.PropertiesExtraEscapes = "=:#!"
	p.CommentPrefixes = []string{"#", "!"}
	return p
}

func makeDotenvProfile() Profile {
	p := makeINIProfile()
	p.ID = Dotenv
	p.PropertiesExtraEscapes = "#"
	p.CommentPrefixes = []string{"#"}
	return p
}

func makeXMLProfile() Profile {
	t, f := boolSpellings()
	return Profile{
		ID:                            XML,
		Kind:                          KindXML,
		StringsMustBeQuoted:           false,
		AllowedQuoteStyles:            []string{"single", "double"},
		PreferredQuoteStyle:           "double",
		EscapePolicy:                  EscapeXMLPolicy,
		BoolTrue:                      t,
		BoolFalse:                     f,
		FloatFormat:                   'g',
		FloatPrecision:                -1,
		StripTrailingZeros:            true,
		XMLAttributesMustRemainQuoted: true,
		CommentPrefixes:               []string{"<!--"},
	}
}

var builtinFactories = map[ID]func() Profile{
	JSON:       makeJSONProfile,
	YAML:       makeYAMLProfile,
	TOML:       makeTOMLProfile,
	INI:        makeINIProfile,
	Properties: makePropertiesProfile,
	Dotenv:     makeDotenvProfile,
	XML:        makeXMLProfile,
}

var reservedNames = func() map[string]bool {
	m := map[string]bool{}
	for id := range builtinFactories {
		m[string(id)] = true
	}
	return m
}()

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type registry struct {
	mu    sync.Mutex
	cache map[ID]Profile
}

var reg = &registry{cache: map[ID]Profile{}}

// Get lazily constructs and returns the built-in or previously-cloned
// profile named by id.
func Get(id ID) (Profile, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return getOrCreateLocked(id)
}

func getOrCreateLocked(id ID) (Profile, error) {
	if p, ok := reg.cache[id]; ok {
		return p, nil
	}
	factory, ok := builtinFactories[id]
	if !ok {
		return Profile{}, fmt.Errorf("profile: unknown profile %q", id)
	}
	p := factory()
	reg.cache[id] = p
	return p, nil
}

// Override mutates a field on a cloned Profile. Overrides are typed
// functions, so only the fields a WithXxx constructor exposes can be set;
// a non-nil error from an Override aborts Clone.
type Override func(*Profile) error

func WithBoolSpellings(t, f string) Override {
	return func(p *Profile) error { p.BoolTrue, p.BoolFalse = t, f; return nil }
}

func WithFloatPrecision(prec int) Override {
	return func(p *Profile) error { p.FloatPrecision = prec; return nil }
}

func WithStripTrailingZeros(strip bool) Override {
	return func(p *Profile) error { p.StripTrailingZeros = strip; return nil }
}

// Clone registers a new named custom profile derived from base with
// overrides applied. Reserved (built-in) names are rejected; newName must
// be a valid C identifier (original_source's _validate_custom_name).
func Clone(newName string, base ID, overrides ...Override) (Profile, error) {
	if !identRe.MatchString(newName) {
		return Profile{}, fmt.Errorf("profile: custom name %q must match %s", newName, identRe.String())
	}
	lower := strings.ToLower(newName)
	if reservedNames[lower] {
		return Profile{}, fmt.Errorf("profile: name %q is reserved for a built-in profile", newName)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, exists := reg.cache[ID(lower)]; exists {
		return Profile{}, fmt.Errorf("profile: a profile named %q is already registered", newName)
	}

	baseProfile, err := getOrCreateLocked(base)
	if err != nil {
		return Profile{}, err
	}
	clone := baseProfile
	clone.ID = ID(lower)
	for _, o := range overrides {
		if err := o(&clone); err != nil {
			return Profile{}, err
		}
	}
	reg.cache[clone.ID] = clone
	return clone, nil
}

// List returns every registered profile id (built-in plus any clones
// registered so far in this process), sorted.
func List() []ID {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	// Ensure built-ins are present even if never previously fetched.
	for id := range builtinFactories {
		_, _ = getOrCreateLocked(id)
	}
	out := make([]ID, 0, len(reg.cache))
	for id := range reg.cache {
		out = append(out, id)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

var extToID = map[string]ID{
	".json":       JSON,
	".yaml":       YAML,
	".yml":        YAML,
	".toml":       TOML,
	".ini":        INI,
	".cfg":        INI,
	".properties": Properties,
	".env":        Dotenv,
	".xml":        XML,
}

// InferFromPath maps a file path's extension to a built-in profile id,
// defaulting to YAML for unrecognized extensions (original_source's
// infer_profile).
func InferFromPath(path string) ID {
	ext := strings.ToLower(filepath.Ext(path))
	if id, ok := extToID[ext]; ok {
		return id
	}
	return YAML
}

// Default returns the profile inferred for path, or YAML if path is empty.
func Default(path string) (Profile, error) {
	if path == "" {
		return Get(YAML)
	}
	return Get(InferFromPath(path))
}
