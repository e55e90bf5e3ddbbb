// Package prompt resolves the effective system prompt for a module and language.
package prompt

import (
	"context"
	"errors"
	"strings"

	"anagami/internal/config"
	"anagami/internal/platform/logger"
	"anagami/internal/repo"
)

const (
	KindSystem = "system"
	KindStyle  = "style"
	KindRules  = "rules"
)

// Built-in sales prompts used when neither storage nor the catalog has one.
var salesDefaults = map[string]string{
	"bg": "Ти си Anagami Sales Proposal Agent. Създаваш практични, етични и прозрачни оферти. Не обещавай гарантирани резултати. При несигурност добавяй дисклеймър за цената.",
	"en": "You are Anagami Sales Proposal Agent. Produce practical, ethical and transparent sales drafts. Never promise guaranteed outcomes. Include pricing uncertainty disclaimer if needed.",
}

type Resolver struct {
	Repo    repo.Repo
	Catalog *config.Catalog
	Log     *logger.Logger
}

// Resolve returns the active system prompt for scope and language. It never
// returns an empty string and never fails.
func (r Resolver) Resolve(ctx context.Context, scope, language string) string {
	if content := r.active(ctx, scope, language, KindSystem); content != "" {
		return content
	}
	if m, ok := r.Catalog.Module(scope); ok {
		if p := m.DefaultPrompt(language); p != "" {
			return p
		}
	}
	return Default(language)
}

// ResolveSystem returns the system prompt followed by any active style and rules prompts.
func (r Resolver) ResolveSystem(ctx context.Context, scope, language string) string {
	parts := []string{r.Resolve(ctx, scope, language)}
	for _, kind := range []string{KindStyle, KindRules} {
		if content := r.active(ctx, scope, language, kind); content != "" {
			parts = append(parts, content)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (r Resolver) active(ctx context.Context, scope, language, kind string) string {
	p, err := r.Repo.ActivePrompt(ctx, scope, language, kind)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			logger.OrNop(r.Log).Warn("prompt lookup failed", "scope", scope, "language", language, "kind", kind, "error", err)
		}
		return ""
	}
	return strings.TrimSpace(p.Content)
}

// Default returns the built-in prompt for the language, English when unknown.
func Default(language string) string {
	if p, ok := salesDefaults[language]; ok {
		return p
	}
	return salesDefaults["en"]
}
