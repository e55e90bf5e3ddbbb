// Package retrieval selects bounded, best-effort context for model prompts.
package retrieval

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"anagami/internal/platform/logger"
	"anagami/internal/repo"
)

const (
	maxTokens      = 10
	minTokenRunes  = 3
	knowledgeLimit = 5
	templateLimit  = 3
	ruleLimit      = 8
)

type Retriever struct {
	Repo repo.Repo
	Log  *logger.Logger
}

// Bundle groups rendered context blocks for one generation.
type Bundle struct {
	Knowledge    []string
	Templates    []string
	PricingRules []string
}

func (b Bundle) Empty() bool {
	return len(b.Knowledge) == 0 && len(b.Templates) == 0 && len(b.PricingRules) == 0
}

// Tokens lowercases and splits free text, dropping short tokens and keeping at most ten.
func Tokens(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, f := range strings.Fields(strings.ToLower(text)) {
		f = strings.Trim(f, ".,;:!?\"'()[]{}«»„“”")
		if utf8.RuneCountInString(f) < minTokenRunes || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
		if len(out) == maxTokens {
			break
		}
	}
	return out
}

func (r Retriever) Knowledge(ctx context.Context, scope, language, freeText string) []string {
	rows, err := r.Repo.SearchKnowledge(ctx, scope, language, Tokens(freeText), knowledgeLimit)
	if err != nil {
		r.warn("knowledge", scope, err)
		return []string{}
	}
	out := make([]string, 0, len(rows))
	for _, k := range rows {
		out = append(out, fmt.Sprintf("%s: %s", k.Title, k.Body))
	}
	return out
}

func (r Retriever) Templates(ctx context.Context, scope, language string) []string {
	rows, err := r.Repo.ListTemplates(ctx, scope, language, true, templateLimit)
	if err != nil {
		r.warn("templates", scope, err)
		return []string{}
	}
	out := make([]string, 0, len(rows))
	for _, t := range rows {
		out = append(out, fmt.Sprintf("%s:\n%s", t.Name, t.Body))
	}
	return out
}

func (r Retriever) PricingRules(ctx context.Context, scope string) []string {
	rows, err := r.Repo.ListPricingRules(ctx, scope, ruleLimit)
	if err != nil {
		r.warn("pricing_rules", scope, err)
		return []string{}
	}
	out := make([]string, 0, len(rows))
	for _, pr := range rows {
		line := fmt.Sprintf("%s: %s-%s %s", pr.Service, amount(pr.MinPrice), amount(pr.MaxPrice), pr.Currency)
		if notes := strings.TrimSpace(pr.Notes); notes != "" {
			line += ". " + notes
		}
		out = append(out, line)
	}
	return out
}

// Context runs the three reads concurrently.
func (r Retriever) Context(ctx context.Context, scope, language, freeText string) Bundle {
	var b Bundle
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b.Knowledge = r.Knowledge(gctx, scope, language, freeText)
		return nil
	})
	g.Go(func() error {
		b.Templates = r.Templates(gctx, scope, language)
		return nil
	})
	g.Go(func() error {
		b.PricingRules = r.PricingRules(gctx, scope)
		return nil
	})
	_ = g.Wait()
	return b
}

func (r Retriever) warn(source, scope string, err error) {
	logger.OrNop(r.Log).Warn("context retrieval failed", "source", source, "scope", scope, "error", err)
}

func amount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
