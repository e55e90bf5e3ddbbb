package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"anagami/internal/config"
	"anagami/internal/llm"
	"anagami/internal/server"
)

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	s := config.Default()
	s.DB.Workspace = t.TempDir()
	s.Auth.JWTSecret = "secret"
	s.Admin.Email = "admin@example.com"
	s.Admin.Password = "password123"
	return s
}

func stubLLM() llm.Client {
	return llm.ClientFunc(func(context.Context, llm.Request) (llm.Response, error) {
		return llm.Response{Text: "{}"}, nil
	})
}

func TestOpenSeedsOnce(t *testing.T) {
	a, err := Open(testSettings(t), nil, Options{LLM: stubLLM()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	ctx := context.Background()

	res, err := a.Seed(ctx)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !res.AdminCreated || len(res.PromptsSeeded) != 2 {
		t.Fatalf("unexpected first seed: %+v", res)
	}
	res, err = a.Seed(ctx)
	if err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if res.AdminCreated || len(res.PromptsSeeded) != 0 {
		t.Fatalf("second seed should be a no-op: %+v", res)
	}
	u, err := a.Engine.Repo.GetUserByEmail(ctx, "admin@example.com")
	if err != nil || u.Role != "admin" {
		t.Fatalf("admin not stored: %+v (%v)", u, err)
	}
}

func TestServerConfigBuildsHandler(t *testing.T) {
	a, err := Open(testSettings(t), nil, Options{LLM: stubLLM()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	cfg := a.ServerConfig()
	if cfg.BasePath != "/api" || cfg.Public.RatePerHour != 10 || cfg.Public.MaxInput != 4000 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	h, err := server.New(cfg)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rec.Code)
	}
	if a.Notifier() == nil {
		t.Fatal("expected dispatcher")
	}
}

func TestOpenRejectsBadCatalog(t *testing.T) {
	s := testSettings(t)
	s.Catalog.File = s.DB.Workspace + "/missing.yaml"
	if _, err := Open(s, nil, Options{LLM: stubLLM()}); err == nil {
		t.Fatal("expected catalog error")
	}
}
