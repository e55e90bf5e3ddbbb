package engine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"anagami/internal/config"
	"anagami/internal/db"
	"anagami/internal/domain"
	"anagami/internal/engine"
	"anagami/internal/engine/auth"
	"anagami/internal/generation"
	"anagami/internal/migrate"
	"anagami/internal/pricing"
	"anagami/internal/repo"
)

type stubGenerator struct {
	cat   *config.Catalog
	calls int
	err   error
}

func (g *stubGenerator) Generate(_ context.Context, in generation.Input) (generation.Output, error) {
	g.calls++
	if g.err != nil {
		return generation.Output{}, g.err
	}
	m, _ := g.cat.Module(in.Module)
	out := generation.Output{Module: m.Code, Mode: m.Mode, Usage: generation.Usage{Model: "stub", TokensIn: 10, TokensOut: 20}}
	for _, key := range m.LabelKeys() {
		out.Sections = append(out.Sections, generation.Section{Type: key, Content: fmt.Sprintf("%s for %s", key, in.InputText)})
	}
	return out, nil
}

type testEnv struct {
	Engine engine.Engine
	Gen    *stubGenerator
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cat := config.DefaultCatalog()
	gen := &stubGenerator{cat: cat}
	eng := engine.New(conn, cat, gen)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	users := []domain.User{
		{ID: "viewer", Email: "viewer@example.com", Role: auth.RoleViewer, IsActive: true},
		{ID: "agent", Email: "agent@example.com", Role: auth.RoleAgent, IsActive: true},
		{ID: "manager", Email: "manager@example.com", Role: auth.RoleManager, IsActive: true},
		{ID: "admin", Email: "admin@example.com", Role: auth.RoleAdmin, IsActive: true},
		{ID: "retired", Email: "retired@example.com", Role: auth.RoleAdmin, IsActive: false},
	}
	for _, u := range users {
		u.Name = u.ID
		u.CreatedAt = "2024-01-01T00:00:00Z"
		u.UpdatedAt = u.CreatedAt
		if err := eng.Repo.InsertUser(ctx, nil, u); err != nil {
			t.Fatalf("seed user %s: %v", u.ID, err)
		}
	}
	return testEnv{Engine: eng, Gen: gen, Ctx: ctx}
}

func (env testEnv) createTask(t *testing.T, opts engine.TaskCreateOptions) domain.Task {
	t.Helper()
	if opts.Module == "" {
		opts.Module = "offers"
	}
	if opts.InputText == "" {
		opts.InputText = "We need a website for a dental clinic"
	}
	if opts.ActorID == "" {
		opts.ActorID = "agent"
	}
	task, err := env.Engine.CreateTask(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestTaskLifecycle(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, engine.TaskCreateOptions{Language: "EN"})
	if task.Status != domain.TaskStatusDraft || task.Language != "en" {
		t.Fatalf("unexpected new task: %+v", task)
	}

	task, sections, err := env.Engine.GenerateTask(env.Ctx, task.ID, "agent")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if task.Status != domain.TaskStatusReviewed {
		t.Fatalf("expected reviewed, got %s", task.Status)
	}
	want := []string{"analysis", "service", "pricing", "proposal_draft", "email_draft", "upsell"}
	if len(sections) != len(want) {
		t.Fatalf("expected %d sections, got %d", len(want), len(sections))
	}
	for i, s := range sections {
		if s.SectionType != want[i] || s.Position != i || s.ContentFinal != nil {
			t.Fatalf("section %d: %+v", i, s)
		}
	}

	var forbidden auth.ForbiddenError
	if _, err := env.Engine.Approve(env.Ctx, task.ID, "agent"); !errors.As(err, &forbidden) {
		t.Fatalf("expected agent approval to be forbidden, got %v", err)
	}
	approved, err := env.Engine.Approve(env.Ctx, task.ID, "manager")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != domain.TaskStatusApproved || approved.ApprovedBy == nil || *approved.ApprovedBy != "manager" {
		t.Fatalf("unexpected approved task: %+v", approved)
	}

	again, err := env.Engine.Approve(env.Ctx, task.ID, "admin")
	if err != nil {
		t.Fatalf("re-approve: %v", err)
	}
	if *again.ApprovedBy != "manager" {
		t.Fatalf("re-approve changed approver to %s", *again.ApprovedBy)
	}

	var conflict engine.ConflictError
	if _, _, err := env.Engine.GenerateTask(env.Ctx, task.ID, "agent"); !errors.As(err, &conflict) {
		t.Fatalf("expected conflict on generate after approval, got %v", err)
	}
	if _, err := env.Engine.SaveFinal(env.Ctx, task.ID, []engine.SectionFinal{{SectionType: "pricing", ContentFinal: "x"}}, "agent"); !errors.As(err, &conflict) {
		t.Fatalf("expected conflict on save after approval, got %v", err)
	}

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "", "task", task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 3 {
		t.Fatalf("expected create, generate and approve events, got %d", len(evts))
	}
}

func TestDeletePriceListReferencedByOffer(t *testing.T) {
	env := newTestEnv(t)
	lists := make([]domain.PriceList, 0, 2)
	for _, name := range []string{"2024", "2025"} {
		pl, err := env.Engine.CreatePriceList(env.Ctx, domain.PriceList{Name: name, Currency: "EUR", VATPercent: 20}, "manager")
		if err != nil {
			t.Fatalf("create list %s: %v", name, err)
		}
		if _, err := env.Engine.CreatePriceItem(env.Ctx, domain.PriceItem{PriceListID: pl.ID, ServiceKey: "website", UnitPrice: 1000, IsActive: true}, "manager"); err != nil {
			t.Fatalf("create item: %v", err)
		}
		lists = append(lists, pl)
	}
	if _, err := env.Engine.ActivatePriceList(env.Ctx, lists[0].ID, "manager"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.Engine.CreateOffer(env.Ctx, engine.OfferCreateOptions{
		ClientName: "Smile Dental",
		Request:    pricing.Request{Items: []pricing.LineRequest{{ServiceKey: "website", Quantity: 1}}},
		ActorID:    "agent",
	}); err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if _, err := env.Engine.ActivatePriceList(env.Ctx, lists[1].ID, "manager"); err != nil {
		t.Fatal(err)
	}

	var conflict engine.ConflictError
	if err := env.Engine.DeletePriceList(env.Ctx, lists[0].ID, "manager"); !errors.As(err, &conflict) {
		t.Fatalf("expected conflict deleting a referenced list, got %v", err)
	}
	if _, err := env.Engine.Repo.GetPriceList(env.Ctx, lists[0].ID); err != nil {
		t.Fatalf("referenced list should survive: %v", err)
	}

	unused, err := env.Engine.CreatePriceList(env.Ctx, domain.PriceList{Name: "draft", Currency: "EUR"}, "manager")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeletePriceList(env.Ctx, unused.ID, "manager"); err != nil {
		t.Fatalf("delete unused list: %v", err)
	}
}

func TestGenerateTwiceReplacesDrafts(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, engine.TaskCreateOptions{})
	_, first, err := env.Engine.GenerateTask(env.Ctx, task.ID, "agent")
	if err != nil {
		t.Fatal(err)
	}
	_, second, err := env.Engine.GenerateTask(env.Ctx, task.ID, "manager")
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != len(second) {
		t.Fatalf("section count changed: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].SectionType != second[i].SectionType || first[i].ContentDraft != second[i].ContentDraft {
			t.Fatalf("section %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
	if env.Gen.calls != 2 {
		t.Fatalf("expected 2 generator calls, got %d", env.Gen.calls)
	}
}

func TestSaveFinalTouchesOnlyListedSections(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, engine.TaskCreateOptions{})
	if _, _, err := env.Engine.GenerateTask(env.Ctx, task.ID, "agent"); err != nil {
		t.Fatal(err)
	}
	sections, err := env.Engine.SaveFinal(env.Ctx, task.ID, []engine.SectionFinal{{SectionType: "pricing", ContentFinal: "1200 EUR"}}, "agent")
	if err != nil {
		t.Fatalf("save final: %v", err)
	}
	for _, s := range sections {
		switch s.SectionType {
		case "pricing":
			if s.ContentFinal == nil || *s.ContentFinal != "1200 EUR" || s.Rendered() != "1200 EUR" {
				t.Fatalf("pricing final not stored: %+v", s)
			}
			if !strings.HasPrefix(s.ContentDraft, "pricing for") {
				t.Fatalf("draft overwritten: %q", s.ContentDraft)
			}
		default:
			if s.ContentFinal != nil {
				t.Fatalf("section %s unexpectedly has a final", s.SectionType)
			}
		}
	}

	// regeneration keeps human edits
	_, sections, err = env.Engine.GenerateTask(env.Ctx, task.ID, "agent")
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range sections {
		if s.SectionType == "pricing" && (s.ContentFinal == nil || *s.ContentFinal != "1200 EUR") {
			t.Fatalf("regenerate dropped final: %+v", s)
		}
	}

	var verr engine.ValidationError
	if _, err := env.Engine.SaveFinal(env.Ctx, task.ID, []engine.SectionFinal{{SectionType: "reply_short", ContentFinal: "x"}}, "agent"); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for foreign section, got %v", err)
	}
	if _, err := env.Engine.SaveFinal(env.Ctx, task.ID, nil, "agent"); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for empty save, got %v", err)
	}
}

func TestGenerateFailureLeavesTaskUntouched(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, engine.TaskCreateOptions{})
	env.Gen.err = &generation.ModelError{Op: "parse", Err: errors.New("model did not return valid JSON output")}
	_, _, err := env.Engine.GenerateTask(env.Ctx, task.ID, "agent")
	var merr *generation.ModelError
	if !errors.As(err, &merr) {
		t.Fatalf("expected model error, got %v", err)
	}
	got, sections, err := env.Engine.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.TaskStatusDraft || len(sections) != 0 {
		t.Fatalf("task changed after failed generate: %+v, %d sections", got, len(sections))
	}
}

func TestApproveRequiresGeneratedTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, engine.TaskCreateOptions{})
	var conflict engine.ConflictError
	if _, err := env.Engine.Approve(env.Ctx, task.ID, "manager"); !errors.As(err, &conflict) {
		t.Fatalf("expected conflict approving a draft, got %v", err)
	}
	if _, err := env.Engine.Approve(env.Ctx, "missing", "manager"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGenerateChecksRoleBeforeStatus(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, engine.TaskCreateOptions{})
	if _, _, err := env.Engine.GenerateTask(env.Ctx, task.ID, "agent"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Approve(env.Ctx, task.ID, "manager"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	calls := env.Gen.calls
	var forbidden auth.ForbiddenError
	if _, _, err := env.Engine.GenerateTask(env.Ctx, task.ID, "viewer"); !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden for viewer on approved task, got %v", err)
	}
	var conflict engine.ConflictError
	if _, _, err := env.Engine.GenerateTask(env.Ctx, task.ID, "agent"); !errors.As(err, &conflict) {
		t.Fatalf("expected conflict regenerating an approved task, got %v", err)
	}
	if env.Gen.calls != calls {
		t.Fatalf("generator ran for rejected calls")
	}
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := map[string]engine.TaskCreateOptions{
		"unknown module":  {Module: "nope", InputText: "hello", ActorID: "agent"},
		"internal module": {Module: "admin", InputText: "hello", ActorID: "agent"},
		"empty input":     {Module: "offers", InputText: "   ", ActorID: "agent"},
		"long input":      {Module: "offers", InputText: strings.Repeat("а", 8001), ActorID: "agent"},
		"bad language":    {Module: "offers", InputText: "hello", Language: "de", ActorID: "agent"},
	}
	for name, opts := range cases {
		var verr engine.ValidationError
		if _, err := env.Engine.CreateTask(env.Ctx, opts); !errors.As(err, &verr) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
	for _, actor := range []string{"viewer", "retired", "ghost"} {
		var forbidden auth.ForbiddenError
		_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Module: "email", InputText: "hello", ActorID: actor})
		if !errors.As(err, &forbidden) {
			t.Fatalf("%s: expected forbidden, got %v", actor, err)
		}
	}
}

func TestPromptVersionsSingleActive(t *testing.T) {
	env := newTestEnv(t)
	v1, err := env.Engine.CreatePrompt(env.Ctx, engine.PromptCreateOptions{Scope: "offers", Language: "bg", Content: "first", Activate: true, ActorID: "manager"})
	if err != nil {
		t.Fatalf("create v1: %v", err)
	}
	v2, err := env.Engine.CreatePrompt(env.Ctx, engine.PromptCreateOptions{Scope: "offers", Language: "bg", Content: "second", ActorID: "manager"})
	if err != nil {
		t.Fatalf("create v2: %v", err)
	}
	if v1.Version != 1 || v2.Version != 2 || !v1.IsActive || v2.IsActive {
		t.Fatalf("unexpected versions: %+v %+v", v1, v2)
	}
	if _, err := env.Engine.ActivatePrompt(env.Ctx, v2.ID, "admin"); err != nil {
		t.Fatalf("activate v2: %v", err)
	}
	n, err := env.Engine.Repo.CountActivePrompts(env.Ctx, "offers", "bg", "system")
	if err != nil || n != 1 {
		t.Fatalf("expected one active prompt, got %d (%v)", n, err)
	}
	active, err := env.Engine.Repo.ActivePrompt(env.Ctx, "offers", "bg", "system")
	if err != nil || active.ID != v2.ID {
		t.Fatalf("expected v2 active, got %+v (%v)", active, err)
	}

	var forbidden auth.ForbiddenError
	if _, err := env.Engine.ActivatePrompt(env.Ctx, v1.ID, "agent"); !errors.As(err, &forbidden) {
		t.Fatalf("expected agent activation forbidden, got %v", err)
	}
	var verr engine.ValidationError
	if _, err := env.Engine.CreatePrompt(env.Ctx, engine.PromptCreateOptions{Scope: "offers", Kind: "tone", Content: "x", ActorID: "manager"}); !errors.As(err, &verr) {
		t.Fatalf("expected invalid kind, got %v", err)
	}
}

func TestPriceListAndOffer(t *testing.T) {
	env := newTestEnv(t)
	quote, err := env.Engine.Quote(env.Ctx, pricing.Request{Items: []pricing.LineRequest{{ServiceKey: "website", Quantity: 1}}})
	if err != nil {
		t.Fatal(err)
	}
	if quote.PricingConfigured || quote.Breakdown != pricing.Unconfigured {
		t.Fatalf("expected unconfigured quote, got %+v", quote)
	}

	pl, err := env.Engine.CreatePriceList(env.Ctx, domain.PriceList{Name: "2024", Currency: "EUR", VATPercent: 20}, "manager")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	if _, err := env.Engine.CreatePriceItem(env.Ctx, domain.PriceItem{PriceListID: pl.ID, ServiceKey: "website", TierMin: 0, UnitPrice: 1000, IsActive: true}, "manager"); err != nil {
		t.Fatalf("create item: %v", err)
	}
	if _, err := env.Engine.ActivatePriceList(env.Ctx, pl.ID, "manager"); err != nil {
		t.Fatalf("activate: %v", err)
	}

	task := env.createTask(t, engine.TaskCreateOptions{})
	offer, res, err := env.Engine.CreateOffer(env.Ctx, engine.OfferCreateOptions{
		TaskID:     task.ID,
		ClientName: "Smile Dental",
		Request:    pricing.Request{Items: []pricing.LineRequest{{ServiceKey: "website", Quantity: 2}}},
		ActorID:    "agent",
	})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if !res.PricingConfigured || res.Total == nil || *res.Total != 2400 {
		t.Fatalf("unexpected pricing: %+v", res)
	}
	stored, err := env.Engine.Repo.GetOffer(env.Ctx, offer.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.PriceListID == nil || *stored.PriceListID != pl.ID || stored.TaskID == nil || *stored.TaskID != task.ID || stored.Breakdown != res.Breakdown {
		t.Fatalf("offer snapshot mismatch: %+v", stored)
	}

	var conflict engine.ConflictError
	if err := env.Engine.DeletePriceList(env.Ctx, pl.ID, "manager"); !errors.As(err, &conflict) {
		t.Fatalf("expected conflict deleting active list, got %v", err)
	}
	var verr engine.ValidationError
	if _, _, err := env.Engine.CreateOffer(env.Ctx, engine.OfferCreateOptions{TaskID: "missing", Request: pricing.Request{Items: []pricing.LineRequest{{ServiceKey: "website", Quantity: 1}}}, ActorID: "agent"}); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for unknown task, got %v", err)
	}
	if _, err := env.Engine.Quote(env.Ctx, pricing.Request{}); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for empty quote, got %v", err)
	}
}

func TestUserManagement(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.Engine.CreateUser(env.Ctx, engine.UserCreateOptions{Email: " New@Example.com ", Password: "correct horse", Role: "agent", ActorID: "admin"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.Email != "new@example.com" || u.PasswordHash == "correct horse" {
		t.Fatalf("unexpected user: %+v", u)
	}
	var conflict engine.ConflictError
	if _, err := env.Engine.CreateUser(env.Ctx, engine.UserCreateOptions{Email: "new@example.com", Password: "correct horse", ActorID: "admin"}); !errors.As(err, &conflict) {
		t.Fatalf("expected duplicate conflict, got %v", err)
	}
	var forbidden auth.ForbiddenError
	if _, err := env.Engine.CreateUser(env.Ctx, engine.UserCreateOptions{Email: "x@example.com", Password: "correct horse", ActorID: "manager"}); !errors.As(err, &forbidden) {
		t.Fatalf("expected manager forbidden, got %v", err)
	}

	if _, err := env.Engine.Authenticate(env.Ctx, "new@example.com", "correct horse"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if _, err := env.Engine.Authenticate(env.Ctx, "new@example.com", "wrong"); !errors.Is(err, engine.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}

	inactive := false
	if _, err := env.Engine.UpdateUser(env.Ctx, engine.UserUpdateOptions{ID: u.ID, IsActive: &inactive, ActorID: "admin"}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := env.Engine.Authenticate(env.Ctx, "new@example.com", "correct horse"); !errors.Is(err, engine.ErrInvalidCredentials) {
		t.Fatalf("expected inactive user rejected, got %v", err)
	}
	var verr engine.ValidationError
	if _, err := env.Engine.UpdateUser(env.Ctx, engine.UserUpdateOptions{ID: "admin", IsActive: &inactive, ActorID: "admin"}); !errors.As(err, &verr) {
		t.Fatalf("expected self-deactivation rejected, got %v", err)
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Seed(env.Ctx, "owner@example.com", "owner-password", "Owner")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !res.AdminCreated || len(res.PromptsSeeded) != 2 {
		t.Fatalf("unexpected first seed: %+v", res)
	}
	res, err = env.Engine.Seed(env.Ctx, "owner@example.com", "owner-password", "Owner")
	if err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if res.AdminCreated || len(res.PromptsSeeded) != 0 {
		t.Fatalf("expected no-op reseed, got %+v", res)
	}
	u, err := env.Engine.Repo.GetUserByEmail(env.Ctx, "owner@example.com")
	if err != nil || u.Role != auth.RoleAdmin {
		t.Fatalf("seeded admin: %+v (%v)", u, err)
	}
}
