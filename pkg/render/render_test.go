package render

import (
	"strings"
	"testing"

	"github.com/tasklattice/tasklattice/pkg/placeholder"
	"github.com/tasklattice/tasklattice/pkg/profile"
	"github.com/tasklattice/tasklattice/pkg/tlsource"
	"github.com/tasklattice/tasklattice/pkg/tmpl"
)

func buildTemplate(t *testing.T, text string) *tmpl.Template {
	t.Helper()
	src, err := tlsource.New(tlsource.Origin{File: "t"}, text)
	if err != nil {
		t.Fatal(err)
	}
	tp, err := tmpl.Build(src)
	if err != nil {
		t.Fatal(err)
	}
	return tp
}

func TestRenderJSONTypedScalar(t *testing.T) {
	tp := buildTemplate(t, `{"count": {{TL count = 1}}}`)
	prof, _ := profile.Get(profile.JSON)
	out, warnings, err := Render(tp, map[placeholder.Name]placeholder.Value{"count": placeholder.Int(42)}, prof)
	if err != nil {
		t.Fatal(err)
	}
	if out != `{"count": 42}` {
		t.Errorf("got %q", out)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
}

func TestRenderJSONQuotedIntWarns(t *testing.T) {
	tp := buildTemplate(t, `{"count": "{{TL count = 1}}"}`)
	prof, _ := profile.Get(profile.JSON)
	out, warnings, err := Render(tp, map[placeholder.Name]placeholder.Value{"count": placeholder.Int(42)}, prof)
	if err != nil {
		t.Fatal(err)
	}
	if out != `{"count": "42"}` {
		t.Errorf("got %q", out)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", warnings)
	}
}

func TestRenderYAMLAutoQuotesRiskyBareword(t *testing.T) {
	tp := buildTemplate(t, `flag: {{TL flag = "yes"}}`)
	prof, _ := profile.Get(profile.YAML)
	out, warnings, err := Render(tp, map[placeholder.Name]placeholder.Value{"flag": placeholder.Str("yes")}, prof)
	if err != nil {
		t.Fatal(err)
	}
	if out != `flag: "yes"` {
		t.Errorf("got %q", out)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", warnings)
	}
}

func TestRenderYAMLPlainWordUnquoted(t *testing.T) {
	tp := buildTemplate(t, `name: {{TL name = "default"}}`)
	prof, _ := profile.Get(profile.YAML)
	out, _, err := Render(tp, map[placeholder.Name]placeholder.Value{"name": placeholder.Str("widget")}, prof)
	if err != nil {
		t.Fatal(err)
	}
	if out != `name: widget` {
		t.Errorf("got %q", out)
	}
}

func TestRenderPropertiesAlwaysString(t *testing.T) {
	tp := buildTemplate(t, `timeout={{TL timeout = 30}}`)
	prof, _ := profile.Get(profile.Properties)
	out, _, err := Render(tp, map[placeholder.Name]placeholder.Value{"timeout": placeholder.Int(90)}, prof)
	if err != nil {
		t.Fatal(err)
	}
	if out != `timeout=90` {
		t.Errorf("got %q", out)
	}
}

func TestRenderXMLAttribute(t *testing.T) {
	tp := buildTemplate(t, `<server port="{{TL port = 8080}}"/>`)
	prof, _ := profile.Get(profile.XML)
	out, warnings, err := Render(tp, map[placeholder.Name]placeholder.Value{"port": placeholder.Int(9090)}, prof)
	if err != nil {
		t.Fatal(err)
	}
	if out != `<server port="9090"/>` {
		t.Errorf("got %q", out)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
}

func TestRenderXMLText(t *testing.T) {
	tp := buildTemplate(t, `<name>{{TL name = "a & b"}}</name>`)
	prof, _ := profile.Get(profile.XML)
	out, _, err := Render(tp, map[placeholder.Name]placeholder.Value{"name": placeholder.Str("Tom & Jerry")}, prof)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Tom &amp; Jerry") {
		t.Errorf("got %q", out)
	}
}

func TestRenderUnknownKeyFails(t *testing.T) {
	tp := buildTemplate(t, `{{TL a = 1}}`)
	_, _, err := Render(tp, map[placeholder.Name]placeholder.Value{"b": placeholder.Int(1)}, mustProfile(t, profile.JSON))
	if err == nil {
		t.Fatal("expected error for undeclared key")
	}
}

func TestRenderTypeMismatchFails(t *testing.T) {
	tp := buildTemplate(t, `{{TL a = 1}}`)
	_, _, err := Render(tp, map[placeholder.Name]placeholder.Value{"a": placeholder.Str("x")}, mustProfile(t, profile.JSON))
	if err == nil {
		t.Fatal("expected type mismatch error")
	}
}

func TestRenderDomainViolationFails(t *testing.T) {
	tp := buildTemplate(t, `{{TL a = 5, domain:[0,10]}}`)
	_, _, err := Render(tp, map[placeholder.Name]placeholder.Value{"a": placeholder.Int(99)}, mustProfile(t, profile.JSON))
	if err == nil {
		t.Fatal("expected domain violation error")
	}
}

func TestRenderMissingKeyUsesDefault(t *testing.T) {
	tp := buildTemplate(t, `{{TL a = 7}}`)
	out, _, err := Render(tp, map[placeholder.Name]placeholder.Value{}, mustProfile(t, profile.JSON))
	if err != nil {
		t.Fatal(err)
	}
	if out != "7" {
		t.Errorf("got %q", out)
	}
}

func mustProfile(t *testing.T, id profile.ID) profile.Profile {
	t.Helper()
	p, err := profile.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	return p
}
