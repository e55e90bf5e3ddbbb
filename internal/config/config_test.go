package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultCatalogModules(t *testing.T) {
	cat := DefaultCatalog()
	offers, ok := cat.Module("offers")
	if !ok {
		t.Fatalf("offers module missing")
	}
	want := []string{"analysis", "service", "pricing", "proposal_draft", "email_draft", "upsell"}
	got := offers.LabelKeys()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("offers labels = %v, want %v", got, want)
	}
	if offers.Mode != ModeStructured {
		t.Fatalf("offers mode = %s", offers.Mode)
	}
	if offers.Labels[3].JSONKey() != "proposalDraft" || offers.Labels[0].JSONKey() != "analysis" {
		t.Fatalf("unexpected json keys: %s %s", offers.Labels[3].JSONKey(), offers.Labels[0].JSONKey())
	}
	email, ok := cat.Module("email")
	if !ok {
		t.Fatalf("email module missing")
	}
	if strings.Join(email.LabelKeys(), ",") != "reply_short,reply_standard,reply_detailed" {
		t.Fatalf("email labels = %v", email.LabelKeys())
	}
	for _, code := range []string{"contracts", "support", "marketing", "recruiting"} {
		m, ok := cat.Module(code)
		if !ok {
			t.Fatalf("module %s missing", code)
		}
		if m.DefaultPrompt("bg") == "" || m.DefaultPrompt("en") == "" {
			t.Fatalf("module %s missing default prompts", code)
		}
	}
	if _, ok := cat.Module("unknown"); ok {
		t.Fatalf("unexpected module")
	}
}

func TestCatalogValidate(t *testing.T) {
	cases := map[string]string{
		"empty":      "modules: []",
		"bad mode":   "modules:\n  - code: x\n    mode: free\n    labels: [{key: a}]",
		"no labels":  "modules:\n  - code: x\n    mode: labeled",
		"dup label":  "modules:\n  - code: x\n    mode: labeled\n    labels: [{key: a}, {key: a}]",
		"dup module": "modules:\n  - code: x\n    internal: true\n  - code: x\n    internal: true",
	}
	for name, doc := range cases {
		if _, err := CatalogFromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLabelTitleFallback(t *testing.T) {
	l := Label{Key: "summary", Title: map[string]string{"en": "Summary"}}
	if l.TitleFor("bg") != "Summary" {
		t.Fatalf("expected en fallback, got %s", l.TitleFor("bg"))
	}
	if (Label{Key: "x"}).TitleFor("bg") != "x" {
		t.Fatalf("expected key fallback")
	}
}

func TestLoadSettingsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "anagami.yml")
	doc := `server:
  addr: 0.0.0.0:9000
llm:
  provider: anthropic
  model: claude-sonnet-4-20250514
  timeout: 15s
public:
  rate_per_hour: 3
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Server.Addr != "0.0.0.0:9000" || s.LLM.Provider != ProviderAnthropic || s.LLM.Timeout != 15*time.Second {
		t.Fatalf("unexpected settings: %+v", s)
	}
	if s.Public.RatePerHour != 3 || s.Public.MaxInput != 4000 || s.Usage.RequestLogRetention != 100 {
		t.Fatalf("defaults not applied: %+v", s.Public)
	}
}

func TestSettingsValidate(t *testing.T) {
	s := Default()
	s.LLM.Provider = "mystery"
	if err := s.Validate(); err == nil {
		t.Fatalf("expected provider error")
	}
	s = Default()
	s.LLM.Timeout = 0
	if err := s.Validate(); err == nil {
		t.Fatalf("expected timeout error")
	}
	s = Default()
	s.Webhooks = []WebhookConfig{{URL: " "}}
	if err := s.Validate(); err == nil {
		t.Fatalf("expected webhook error")
	}
}
