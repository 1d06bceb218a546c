package placeholder

import (
	"testing"

	"github.com/tasklattice/tasklattice/pkg/tlsource"
)

func mustParam(t *testing.T, text string) (*Placeholder, *ParamResolved) {
	t.Helper()
	src, err := tlsource.New(tlsource.Origin{}, text)
	if err != nil {
		t.Fatal(err)
	}
	phs, err := Scan(src)
	if err != nil {
		t.Fatal(err)
	}
	if len(phs) != 1 {
		t.Fatalf("expected exactly 1 placeholder, got %d", len(phs))
	}
	pu, err := ParseUnresolved(phs[0])
	if err != nil {
		t.Fatal(err)
	}
	pr, err := Resolve(pu)
	if err != nil {
		t.Fatal(err)
	}
	return phs[0], pr
}

func TestScanFindsPlaceholder(t *testing.T) {
	_, pr := mustParam(t, `{"n": {{TL n = 1, type: int, domain: [0, 10]}}}`)
	if pr.Name != "n" {
		t.Errorf("name = %q", pr.Name)
	}
	if pr.EffectiveType != KindInt {
		t.Errorf("type = %v", pr.EffectiveType)
	}
	if !pr.Domain.Contains(Int(3)) {
		t.Errorf("domain should contain 3")
	}
	if pr.Domain.Contains(Int(11)) {
		t.Errorf("domain should not contain 11")
	}
}

func TestQuoteDetection(t *testing.T) {
	ph, _ := mustParam(t, `k: "{{TL k = "yes"}}"`)
	if ph.Quote == nil {
		t.Fatal("expected quote context to be detected")
	}
	if ph.Quote.Style != QuoteDouble {
		t.Errorf("style = %v", ph.Quote.Style)
	}
}

func TestUnquotedPlaceholder(t *testing.T) {
	ph, _ := mustParam(t, `x = {{TL x = 1}}`)
	if ph.Quote != nil {
		t.Errorf("expected no quote context, got %+v", ph.Quote)
	}
}

func TestTypeInferenceFromDomainDowngradesToInt(t *testing.T) {
	_, pr := mustParam(t, `{{TL n = 5, domain: [0, 10]}}`)
	if pr.EffectiveType != KindInt {
		t.Errorf("expected int downgrade, got %v", pr.EffectiveType)
	}
}

func TestTypeInferenceFromDomainStaysFloat(t *testing.T) {
	_, pr := mustParam(t, `{{TL x = 0.1, domain: (0,1)}}`)
	if pr.EffectiveType != KindFloat {
		t.Errorf("expected float, got %v", pr.EffectiveType)
	}
}

func TestLiteralTypeFallback(t *testing.T) {
	_, pr := mustParam(t, `{{TL flag = true}}`)
	if pr.EffectiveType != KindBool {
		t.Errorf("expected bool, got %v", pr.EffectiveType)
	}
}

func TestSetDomainAllString(t *testing.T) {
	_, pr := mustParam(t, `{{TL color = "red", domain: {"red","green","blue"} }}`)
	if pr.EffectiveType != KindStr {
		t.Errorf("expected str, got %v", pr.EffectiveType)
	}
	if !pr.Domain.Contains(Str("green")) {
		t.Error("expected domain to contain green")
	}
}

func TestDefaultOutsideDomainFails(t *testing.T) {
	src, err := tlsource.New(tlsource.Origin{}, `{{TL n = 20, domain: [0, 10]}}`)
	if err != nil {
		t.Fatal(err)
	}
	phs, err := Scan(src)
	if err != nil {
		t.Fatal(err)
	}
	pu, err := ParseUnresolved(phs[0])
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Resolve(pu); err == nil {
		t.Fatal("expected default-outside-domain error")
	}
}

func TestDuplicateMetaKeyFails(t *testing.T) {
	src, err := tlsource.New(tlsource.Origin{}, `{{TL n = 1, type: int, type: float}}`)
	if err != nil {
		t.Fatal(err)
	}
	phs, err := Scan(src)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseUnresolved(phs[0]); err == nil {
		t.Fatal("expected duplicate meta key error")
	}
}

func TestUnknownMetaKeyFails(t *testing.T) {
	src, err := tlsource.New(tlsource.Origin{}, `{{TL n = 1, bogus: 1}}`)
	if err != nil {
		t.Fatal(err)
	}
	phs, err := Scan(src)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseUnresolved(phs[0]); err == nil {
		t.Fatal("expected unknown meta key error")
	}
}

func TestEqualIntervalBoundsRequireBothInclusive(t *testing.T) {
	src, err := tlsource.New(tlsource.Origin{}, `{{TL n = 5, domain: (5, 5]}}`)
	if err != nil {
		t.Fatal(err)
	}
	phs, err := Scan(src)
	if err != nil {
		t.Fatal(err)
	}
	pu, err := ParseUnresolved(phs[0])
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Resolve(pu); err == nil {
		t.Fatal("expected equal-bounds-require-inclusive error")
	}
}

func TestEqualIntervalBoundsBothInclusiveOK(t *testing.T) {
	_, pr := mustParam(t, `{{TL n = 5, domain: [5, 5]}}`)
	if !pr.Domain.Contains(Int(5)) {
		t.Error("expected domain to contain the single point")
	}
}

func TestBoolNeverCoercesToInt(t *testing.T) {
	src, err := tlsource.New(tlsource.Origin{}, `{{TL n = true, type: int}}`)
	if err != nil {
		t.Fatal(err)
	}
	phs, err := Scan(src)
	if err != nil {
		t.Fatal(err)
	}
	pu, err := ParseUnresolved(phs[0])
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Resolve(pu); err == nil {
		t.Fatal("expected bool->int coercion to fail")
	}
}

func TestDescriptionParsed(t *testing.T) {
	_, pr := mustParam(t, `{{TL n = 1, desc: "a count"}}`)
	if pr.Description != "a count" {
		t.Errorf("description = %q", pr.Description)
	}
}

func TestMultiplePlaceholders(t *testing.T) {
	src, err := tlsource.New(tlsource.Origin{}, `{{TL a = 1}} and {{TL b = 2}}`)
	if err != nil {
		t.Fatal(err)
	}
	phs, err := Scan(src)
	if err != nil {
		t.Fatal(err)
	}
	if len(phs) != 2 {
		t.Fatalf("expected 2 placeholders, got %d", len(phs))
	}
}
