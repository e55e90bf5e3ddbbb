package prompt

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"anagami/internal/config"
	"anagami/internal/db"
	"anagami/internal/domain"
	"anagami/internal/migrate"
	"anagami/internal/repo"
)

func newResolver(t *testing.T) Resolver {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatal(err)
	}
	return Resolver{Repo: repo.Repo{DB: conn}, Catalog: config.DefaultCatalog()}
}

func insertActive(t *testing.T, r Resolver, p domain.Prompt) {
	t.Helper()
	ctx := context.Background()
	p.CreatedAt = "2024-01-01T00:00:00Z"
	if err := r.Repo.InsertPrompt(ctx, nil, p); err != nil {
		t.Fatal(err)
	}
	tx, err := r.Repo.DB.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer func(tx *sql.Tx) { _ = tx.Rollback() }(tx)
	if err := r.Repo.ActivatePrompt(ctx, tx, p.ID); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestResolveFallsBackToCatalogThenDefault(t *testing.T) {
	r := newResolver(t)
	ctx := context.Background()
	email, _ := r.Catalog.Module("email")
	if got := r.Resolve(ctx, "email", "en"); got != email.DefaultPrompt("en") {
		t.Fatalf("expected catalog prompt, got %q", got)
	}
	if got := r.Resolve(ctx, "unknown", "bg"); got != Default("bg") {
		t.Fatalf("expected built-in bg prompt, got %q", got)
	}
	if got := r.Resolve(ctx, "unknown", "de"); got == "" || got != Default("en") {
		t.Fatalf("expected built-in en prompt, got %q", got)
	}
}

func TestResolvePrefersActivePrompt(t *testing.T) {
	r := newResolver(t)
	ctx := context.Background()
	insertActive(t, r, domain.Prompt{ID: "p1", Scope: "email", Language: "bg", Kind: KindSystem, Version: 1, Content: "  custom bg  "})
	if got := r.Resolve(ctx, "email", "bg"); got != "custom bg" {
		t.Fatalf("resolve = %q", got)
	}
	if got := r.Resolve(ctx, "email", "en"); strings.Contains(got, "custom") {
		t.Fatalf("language partition leaked: %q", got)
	}
}

func TestResolveSystemAppendsSubPrompts(t *testing.T) {
	r := newResolver(t)
	ctx := context.Background()
	insertActive(t, r, domain.Prompt{ID: "s", Scope: "offers", Language: "en", Kind: KindSystem, Version: 1, Content: "SYS"})
	insertActive(t, r, domain.Prompt{ID: "r", Scope: "offers", Language: "en", Kind: KindRules, Version: 1, Content: "RULES"})
	insertActive(t, r, domain.Prompt{ID: "st", Scope: "offers", Language: "en", Kind: KindStyle, Version: 1, Content: "STYLE"})
	if got := r.ResolveSystem(ctx, "offers", "en"); got != "SYS\n\nSTYLE\n\nRULES" {
		t.Fatalf("resolve system = %q", got)
	}
}

func TestResolveSurvivesStorageFailure(t *testing.T) {
	r := newResolver(t)
	r.Repo.DB.Close()
	if got := r.Resolve(context.Background(), "offers", "bg"); got == "" {
		t.Fatalf("resolver returned empty prompt on storage failure")
	}
}
