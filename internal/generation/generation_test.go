package generation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"anagami/internal/config"
	"anagami/internal/db"
	"anagami/internal/llm"
	"anagami/internal/migrate"
	"anagami/internal/prompt"
	"anagami/internal/repo"
	"anagami/internal/retrieval"
	"anagami/internal/usage"
)

func offersLabels(t *testing.T) []config.Label {
	t.Helper()
	m, ok := config.DefaultCatalog().Module("offers")
	if !ok {
		t.Fatal("offers module missing")
	}
	return m.Labels
}

func TestParseStructuredRepairsTrailingCommaAndProse(t *testing.T) {
	raw := "Here is the result: {\"analysis\":\"a\", \"service\":\"s\", \"pricing\":\"p\", \"proposalDraft\":\"pd\", \"emailDraft\":\"ed\", \"upsell\":\"u\",}"
	got, err := ParseStructured(raw, offersLabels(t))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := map[string]string{"analysis": "a", "service": "s", "pricing": "p", "proposal_draft": "pd", "email_draft": "ed", "upsell": "u"}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("%s = %q, want %q", k, got[k], v)
		}
	}
}

func TestParseStructuredSmartQuotesAndMissingKeys(t *testing.T) {
	raw := "```json\n{“analysis”: “a”, \"pricing\": 1500, \"upsell\": null,\n}\n```"
	got, err := ParseStructured(raw, offersLabels(t))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got["analysis"] != "a" || got["pricing"] != "1500" || got["upsell"] != "" {
		t.Fatalf("unexpected values %v", got)
	}
	if v, ok := got["email_draft"]; !ok || v != "" {
		t.Fatalf("missing key should be empty string, got %q (present=%v)", v, ok)
	}
}

func TestParseStructuredKeepsBulgarianQuotesInValues(t *testing.T) {
	raw := "Ето резултата: {\"analysis\":\"Клиентът иска „бърз“ сайт\", \"service\":\"s\", \"pricing\":\"p\", \"proposalDraft\":\"pd\", \"emailDraft\":\"ed\", \"upsell\":\"u\",}"
	got, err := ParseStructured(raw, offersLabels(t))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got["analysis"] != "Клиентът иска „бърз“ сайт" || got["upsell"] != "u" {
		t.Fatalf("unexpected values %v", got)
	}
}

func TestParseStructuredAcceptsSnakeCaseKeys(t *testing.T) {
	got, err := ParseStructured(`{"proposal_draft":"pd"}`, offersLabels(t))
	if err != nil || got["proposal_draft"] != "pd" {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestParseStructuredRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"no json here", "{not: valid", "} backwards {"} {
		if _, err := ParseStructured(raw, offersLabels(t)); !errors.Is(err, errInvalidJSON) {
			t.Fatalf("%q: expected invalid JSON error, got %v", raw, err)
		}
	}
}

func TestParseLabeledKeepsEveryLabel(t *testing.T) {
	m, _ := config.DefaultCatalog().Module("email")
	text := "intro text ignored\nreply_short: Thanks!\nreply_standard:\nLine one\nLine two\n"
	got := ParseLabeled(text, m.Labels)
	if len(got) != 3 {
		t.Fatalf("expected 3 labels, got %v", got)
	}
	if got["reply_short"] != "Thanks!" || got["reply_standard"] != "Line one\nLine two" {
		t.Fatalf("unexpected parse %v", got)
	}
	if v, ok := got["reply_detailed"]; !ok || v != "" {
		t.Fatalf("missing label should map to empty string")
	}
}

func TestParseLabeledLongLines(t *testing.T) {
	m, _ := config.DefaultCatalog().Module("email")
	long := strings.Repeat("x", 2<<20)
	got := ParseLabeled("reply_short: "+long+"\r\nreply_standard: ok\r\n", m.Labels)
	if got["reply_short"] != long {
		t.Fatalf("long line truncated to %d bytes", len(got["reply_short"]))
	}
	if got["reply_standard"] != "ok" {
		t.Fatalf("reply_standard = %q", got["reply_standard"])
	}
}

func TestParseLabeledMarkdownAndTitles(t *testing.T) {
	m, _ := config.DefaultCatalog().Module("support")
	text := "**Classification:** billing\n- REPLY: Hello\n  we fixed it\n### Вътрешни бележки:\nrefund issued\nnote: not a label"
	got := ParseLabeled(text, m.Labels)
	if got["classification"] != "billing" {
		t.Fatalf("classification = %q", got["classification"])
	}
	if got["reply"] != "Hello\n  we fixed it" {
		t.Fatalf("reply = %q", got["reply"])
	}
	if got["internal_notes"] != "refund issued\nnote: not a label" {
		t.Fatalf("internal_notes = %q", got["internal_notes"])
	}
}

func TestAppendDisclaimerOnce(t *testing.T) {
	once := AppendDisclaimer("1000 EUR", "bg")
	twice := AppendDisclaimer(once, "bg")
	if once != twice || !strings.HasSuffix(once, Disclaimer("bg")) {
		t.Fatalf("disclaimer appended twice or missing: %q", twice)
	}
	if AppendDisclaimer("", "en") != Disclaimer("en") {
		t.Fatalf("empty text should become the disclaimer")
	}
}

func TestBuildUserMessage(t *testing.T) {
	cat := config.DefaultCatalog()
	m, _ := cat.Module("offers")
	msg := BuildUserMessage(Input{Language: "bg", InputText: "Нужен ми е сайт", Company: "ACME"}, m, config.ModeStructured,
		retrieval.Bundle{PricingRules: []string{"Website: 800-2500 EUR"}})
	for _, want := range []string{"Запитване: Нужен ми е сайт", "Компания: ACME", "Индустрия: Не е посочено", "- Website: 800-2500 EUR", "proposalDraft, emailDraft", "Изходът трябва да е изцяло на български език."} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
}

type fixture struct {
	orch  Orchestrator
	usage *usage.Logger
	calls int
	last  llm.Request
}

func newFixture(t *testing.T, reply func(ctx context.Context) (string, error)) *fixture {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatal(err)
	}
	r := repo.Repo{DB: conn}
	cat := config.DefaultCatalog()
	f := &fixture{usage: &usage.Logger{Repo: r, State: usage.NewState()}}
	f.orch = Orchestrator{
		Catalog:   cat,
		Prompts:   prompt.Resolver{Repo: r, Catalog: cat},
		Retriever: retrieval.Retriever{Repo: r},
		Usage:     f.usage,
		Settings:  config.LLMSettings{Model: "stub", Timeout: 50 * time.Millisecond, Temperature: 0.4},
		LLM: llm.ClientFunc(func(ctx context.Context, req llm.Request) (llm.Response, error) {
			f.calls++
			f.last = req
			text, err := reply(ctx)
			if err != nil {
				return llm.Response{}, err
			}
			return llm.Response{Text: text, TokensIn: 3, TokensOut: 4}, nil
		}),
	}
	return f
}

const sixKeys = `{"analysis":"a","service":"s","pricing":"около 1000 EUR","proposalDraft":"pd","emailDraft":"ed","upsell":"u"}`

func TestGenerateOffersScenario(t *testing.T) {
	f := newFixture(t, func(context.Context) (string, error) { return sixKeys, nil })
	out, err := f.orch.Generate(context.Background(), Input{Module: "offers", InputText: "Нужен ми е сайт", ActorID: "u1", Endpoint: "/tasks/generate"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	want := []string{"analysis", "service", "pricing", "proposal_draft", "email_draft", "upsell"}
	if len(out.Sections) != len(want) {
		t.Fatalf("sections = %+v", out.Sections)
	}
	for i, s := range out.Sections {
		if s.Type != want[i] {
			t.Fatalf("section %d = %s, want %s", i, s.Type, want[i])
		}
	}
	pricing := out.Value("pricing")
	if !strings.HasPrefix(pricing, "около 1000 EUR") || !strings.HasSuffix(pricing, Disclaimer("bg")) {
		t.Fatalf("pricing = %q", pricing)
	}
	if f.last.Schema == nil || f.last.Schema.Name != "sales_proposal" || f.last.System == "" {
		t.Fatalf("request = %+v", f.last)
	}
	rows, _ := f.usage.Repo.ListUsage(context.Background(), 10)
	if len(rows) != 1 || rows[0].Model != "stub" || rows[0].TokensOut != 4 {
		t.Fatalf("usage rows = %+v", rows)
	}
}

func TestGenerateSkipsDisclaimerWithBudgetAndTimeline(t *testing.T) {
	f := newFixture(t, func(context.Context) (string, error) { return sixKeys, nil })
	out, err := f.orch.Generate(context.Background(), Input{Module: "offers", Language: "en", InputText: "Need a site", Budget: "2000", Timeline: "2 months"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Value("pricing") != "около 1000 EUR" {
		t.Fatalf("pricing = %q", out.Value("pricing"))
	}
}

func TestGenerateLabeledModule(t *testing.T) {
	f := newFixture(t, func(context.Context) (string, error) { return "reply_short: ok", nil })
	out, err := f.orch.Generate(context.Background(), Input{Module: "email", Language: "en", InputText: "Where is my order?"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Sections) != 3 || out.Value("reply_short") != "ok" || out.Value("reply_detailed") != "" {
		t.Fatalf("sections = %+v", out.Sections)
	}
	if f.last.Schema != nil {
		t.Fatalf("labeled module should not request a schema")
	}
}

func TestGenerateFailuresAreModelErrors(t *testing.T) {
	cases := map[string]func(ctx context.Context) (string, error){
		"client":  func(context.Context) (string, error) { return "", errors.New("boom") },
		"parse":   func(context.Context) (string, error) { return "sorry, no JSON", nil },
		"empty":   func(context.Context) (string, error) { return "  ", nil },
		"timeout": func(ctx context.Context) (string, error) { <-ctx.Done(); return "", ctx.Err() },
	}
	for name, reply := range cases {
		f := newFixture(t, reply)
		_, err := f.orch.Generate(context.Background(), Input{Module: "offers", InputText: "Нужен ми е сайт"})
		var me *ModelError
		if !errors.As(err, &me) {
			t.Fatalf("%s: expected ModelError, got %v", name, err)
		}
		if name == "timeout" && !strings.Contains(err.Error(), "timed out") {
			t.Fatalf("timeout message = %q", err.Error())
		}
		rows, _ := f.usage.Repo.ListUsage(context.Background(), 10)
		if len(rows) != 0 {
			t.Fatalf("%s: usage recorded for failed generation", name)
		}
	}
}

func TestGenerateUnknownModule(t *testing.T) {
	f := newFixture(t, func(context.Context) (string, error) { return sixKeys, nil })
	for _, code := range []string{"nope", "admin"} {
		if _, err := f.orch.Generate(context.Background(), Input{Module: code, InputText: "x"}); !errors.Is(err, ErrUnknownModule) {
			t.Fatalf("%s: expected ErrUnknownModule, got %v", code, err)
		}
	}
	if f.calls != 0 {
		t.Fatalf("model called for unknown module")
	}
}
