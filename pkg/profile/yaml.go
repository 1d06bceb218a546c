package profile

import "strings"

// riskyYAMLBarewords is the case-folded set of scalars that YAML would
// otherwise interpret as a non-string type if left unquoted. Grounded on
// original_source/src/tasklattice/profile.py's _RISKY_YAML.
var riskyYAMLBarewords = map[string]bool{
	"y": true, "n": true, "yes": true, "no": true,
	"on": true, "off": true, "true": true, "false": true,
	"null": true, "~": true, "nan": true, "inf": true,
}

const yamlRiskyChars = ": { } [ ] , # & * ? | > <"

// DefaultYAMLNeedsQuotes reports whether s would be misread by a YAML
// parser if emitted unquoted: empty strings, leading/trailing whitespace,
// case-folded reserved barewords, any of the risky punctuation characters,
// or a leading indicator character. Grounded on
// original_source/src/tasklattice/profile.py's default_yaml_needs_quotes.
func DefaultYAMLNeedsQuotes(s string) bool {
	if s == "" {
		return true
	}
	if s != strings.TrimSpace(s) {
		return true
	}
	if riskyYAMLBarewords[strings.ToLower(s)] {
		return true
	}
	for _, c := range strings.Fields(yamlRiskyChars) {
		if strings.Contains(s, c) {
			return true
		}
	}
	leadIndicators := []string{"-", ":", "?", "@", "`"}
	for _, ind := range leadIndicators {
		if strings.HasPrefix(s, ind) {
			return true
		}
	}
	return false
}
