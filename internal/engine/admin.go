package engine

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"anagami/internal/domain"
	"anagami/internal/engine/auth"
	"anagami/internal/events"
)

var promptKinds = map[string]bool{"system": true, "style": true, "rules": true}

// mutate runs fn in a transaction after checking the actor's role.
func (e Engine) mutate(ctx context.Context, actorID, role string, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Auth.Require(ctx, tx, actorID, role); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) validScope(scope string) (string, error) {
	scope = strings.ToLower(strings.TrimSpace(scope))
	if scope == "" {
		return "", invalid("scope", "scope is required")
	}
	if _, ok := e.Catalog.Module(scope); !ok {
		return "", invalid("scope", "invalid scope %q", scope)
	}
	return scope, nil
}

type PromptCreateOptions struct {
	Scope    string
	Language string
	Kind     string
	Content  string
	Activate bool
	ActorID  string
}

// CreatePrompt stores a new prompt version. Existing versions are never changed.
func (e Engine) CreatePrompt(ctx context.Context, opts PromptCreateOptions) (domain.Prompt, error) {
	scope, err := e.validScope(opts.Scope)
	if err != nil {
		return domain.Prompt{}, err
	}
	lang, err := normalizeLanguage(opts.Language)
	if err != nil {
		return domain.Prompt{}, err
	}
	kind := strings.ToLower(strings.TrimSpace(opts.Kind))
	if kind == "" {
		kind = "system"
	}
	if !promptKinds[kind] {
		return domain.Prompt{}, invalid("kind", "invalid prompt kind %q", opts.Kind)
	}
	content := strings.TrimSpace(opts.Content)
	if content == "" {
		return domain.Prompt{}, invalid("content", "content is required")
	}
	p := domain.Prompt{
		ID:        uuid.NewString(),
		Scope:     scope,
		Language:  lang,
		Kind:      kind,
		Content:   content,
		CreatedBy: opts.ActorID,
		CreatedAt: e.stamp(),
	}
	err = e.mutate(ctx, opts.ActorID, auth.RoleManager, func(tx *sql.Tx) error {
		v, err := e.Repo.NextPromptVersion(ctx, tx, scope, lang, kind)
		if err != nil {
			return err
		}
		p.Version = v
		if err := e.Repo.InsertPrompt(ctx, tx, p); err != nil {
			return fmt.Errorf("insert prompt: %w", err)
		}
		if err := e.audit(ctx, tx, events.PromptCreate, "prompt", p.ID, opts.ActorID, events.EventPayload{
			"scope": scope, "language": lang, "kind": kind, "version": v,
		}); err != nil {
			return err
		}
		if !opts.Activate {
			return nil
		}
		p.IsActive = true
		return e.activatePrompt(ctx, tx, p.ID, opts.ActorID)
	})
	return p, err
}

// ActivatePrompt makes the prompt the only active one in its scope, language and kind.
func (e Engine) ActivatePrompt(ctx context.Context, id, actorID string) (domain.Prompt, error) {
	var p domain.Prompt
	err := e.mutate(ctx, actorID, auth.RoleManager, func(tx *sql.Tx) error {
		if err := e.activatePrompt(ctx, tx, id, actorID); err != nil {
			return err
		}
		var err error
		p, err = e.Repo.GetPromptTx(ctx, tx, id)
		return err
	})
	return p, err
}

func (e Engine) activatePrompt(ctx context.Context, tx *sql.Tx, id, actorID string) error {
	if err := e.Repo.ActivatePrompt(ctx, tx, id); err != nil {
		return err
	}
	return e.audit(ctx, tx, events.PromptActivate, "prompt", id, actorID, nil)
}

// normalizeTags lowercases and dedupes comma separated tags.
func normalizeTags(tags string) string {
	seen := map[string]bool{}
	var out []string
	for _, t := range strings.Split(tags, ",") {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return strings.Join(out, ",")
}

func (e Engine) CreateKnowledge(ctx context.Context, k domain.KnowledgeSnippet, actorID string) (domain.KnowledgeSnippet, error) {
	scope, err := e.validScope(k.Scope)
	if err != nil {
		return k, err
	}
	if k.Language, err = normalizeLanguage(k.Language); err != nil {
		return k, err
	}
	k.Scope = scope
	k.Title = strings.TrimSpace(k.Title)
	k.Body = strings.TrimSpace(k.Body)
	k.Tags = normalizeTags(k.Tags)
	if k.Title == "" || k.Body == "" {
		return k, invalid("title", "title and body are required")
	}
	k.ID = uuid.NewString()
	k.CreatedAt = e.stamp()
	k.UpdatedAt = k.CreatedAt
	err = e.mutate(ctx, actorID, auth.RoleManager, func(tx *sql.Tx) error {
		if err := e.Repo.InsertKnowledge(ctx, tx, k); err != nil {
			return err
		}
		return e.audit(ctx, tx, events.KnowledgeCreate, "knowledge", k.ID, actorID, events.EventPayload{"scope": k.Scope, "title": k.Title})
	})
	return k, err
}

type KnowledgeUpdateOptions struct {
	ID       string
	Title    *string
	Body     *string
	Tags     *string
	Language *string
	ActorID  string
}

func (e Engine) UpdateKnowledge(ctx context.Context, opts KnowledgeUpdateOptions) (domain.KnowledgeSnippet, error) {
	k, err := e.Repo.GetKnowledge(ctx, opts.ID)
	if err != nil {
		return k, err
	}
	if opts.Title != nil {
		k.Title = strings.TrimSpace(*opts.Title)
	}
	if opts.Body != nil {
		k.Body = strings.TrimSpace(*opts.Body)
	}
	if opts.Tags != nil {
		k.Tags = normalizeTags(*opts.Tags)
	}
	if opts.Language != nil {
		if k.Language, err = normalizeLanguage(*opts.Language); err != nil {
			return k, err
		}
	}
	if k.Title == "" || k.Body == "" {
		return k, invalid("title", "title and body are required")
	}
	k.UpdatedAt = e.stamp()
	err = e.mutate(ctx, opts.ActorID, auth.RoleManager, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateKnowledge(ctx, tx, k); err != nil {
			return err
		}
		return e.audit(ctx, tx, events.KnowledgeUpdate, "knowledge", k.ID, opts.ActorID, nil)
	})
	return k, err
}

func (e Engine) DeleteKnowledge(ctx context.Context, id, actorID string) error {
	return e.mutate(ctx, actorID, auth.RoleManager, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteKnowledge(ctx, tx, id); err != nil {
			return err
		}
		return e.audit(ctx, tx, events.KnowledgeDelete, "knowledge", id, actorID, nil)
	})
}

func (e Engine) CreateTemplate(ctx context.Context, t domain.Template, actorID string) (domain.Template, error) {
	scope, err := e.validScope(t.Scope)
	if err != nil {
		return t, err
	}
	if t.Language, err = normalizeLanguage(t.Language); err != nil {
		return t, err
	}
	t.Scope = scope
	t.Name = strings.TrimSpace(t.Name)
	t.Body = strings.TrimSpace(t.Body)
	if t.Name == "" || t.Body == "" {
		return t, invalid("name", "name and body are required")
	}
	t.ID = uuid.NewString()
	t.CreatedAt = e.stamp()
	t.UpdatedAt = t.CreatedAt
	err = e.mutate(ctx, actorID, auth.RoleManager, func(tx *sql.Tx) error {
		if err := e.Repo.InsertTemplate(ctx, tx, t); err != nil {
			return err
		}
		return e.audit(ctx, tx, events.TemplateCreate, "template", t.ID, actorID, events.EventPayload{"scope": t.Scope, "name": t.Name})
	})
	return t, err
}

type TemplateUpdateOptions struct {
	ID       string
	Name     *string
	Body     *string
	IsActive *bool
	ActorID  string
}

func (e Engine) UpdateTemplate(ctx context.Context, opts TemplateUpdateOptions) (domain.Template, error) {
	t, err := e.Repo.GetTemplate(ctx, opts.ID)
	if err != nil {
		return t, err
	}
	if opts.Name != nil {
		t.Name = strings.TrimSpace(*opts.Name)
	}
	if opts.Body != nil {
		t.Body = strings.TrimSpace(*opts.Body)
	}
	if opts.IsActive != nil {
		t.IsActive = *opts.IsActive
	}
	if t.Name == "" || t.Body == "" {
		return t, invalid("name", "name and body are required")
	}
	t.UpdatedAt = e.stamp()
	err = e.mutate(ctx, opts.ActorID, auth.RoleManager, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateTemplate(ctx, tx, t); err != nil {
			return err
		}
		return e.audit(ctx, tx, events.TemplateUpdate, "template", t.ID, opts.ActorID, events.EventPayload{"is_active": t.IsActive})
	})
	return t, err
}

func (e Engine) DeleteTemplate(ctx context.Context, id, actorID string) error {
	return e.mutate(ctx, actorID, auth.RoleManager, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteTemplate(ctx, tx, id); err != nil {
			return err
		}
		return e.audit(ctx, tx, events.TemplateDelete, "template", id, actorID, nil)
	})
}

func validAmount(v float64) bool {
	return v >= 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (e Engine) CreatePricingRule(ctx context.Context, pr domain.PricingRule, actorID string) (domain.PricingRule, error) {
	scope, err := e.validScope(pr.Scope)
	if err != nil {
		return pr, err
	}
	pr.Scope = scope
	pr.Service = strings.TrimSpace(pr.Service)
	pr.Currency = strings.ToUpper(strings.TrimSpace(pr.Currency))
	pr.Notes = strings.TrimSpace(pr.Notes)
	if pr.Service == "" {
		return pr, invalid("service", "service is required")
	}
	if pr.Currency == "" {
		pr.Currency = "EUR"
	}
	if !validAmount(pr.MinPrice) || !validAmount(pr.MaxPrice) || pr.MaxPrice < pr.MinPrice {
		return pr, invalid("max_price", "invalid price range %v-%v", pr.MinPrice, pr.MaxPrice)
	}
	pr.ID = uuid.NewString()
	pr.CreatedAt = e.stamp()
	err = e.mutate(ctx, actorID, auth.RoleManager, func(tx *sql.Tx) error {
		if err := e.Repo.InsertPricingRule(ctx, tx, pr); err != nil {
			return err
		}
		return e.audit(ctx, tx, events.RuleCreate, "pricing_rule", pr.ID, actorID, events.EventPayload{"scope": pr.Scope, "service": pr.Service})
	})
	return pr, err
}

func (e Engine) DeletePricingRule(ctx context.Context, id, actorID string) error {
	return e.mutate(ctx, actorID, auth.RoleManager, func(tx *sql.Tx) error {
		if err := e.Repo.DeletePricingRule(ctx, tx, id); err != nil {
			return err
		}
		return e.audit(ctx, tx, events.RuleDelete, "pricing_rule", id, actorID, nil)
	})
}

// CreatePriceList stores an inactive list.
func (e Engine) CreatePriceList(ctx context.Context, pl domain.PriceList, actorID string) (domain.PriceList, error) {
	pl.Name = strings.TrimSpace(pl.Name)
	pl.Currency = strings.ToUpper(strings.TrimSpace(pl.Currency))
	if pl.Name == "" {
		return pl, invalid("name", "name is required")
	}
	if pl.Currency == "" {
		pl.Currency = "EUR"
	}
	if !validAmount(pl.VATPercent) || pl.VATPercent > 100 {
		return pl, invalid("vat_percent", "invalid vat_percent %v", pl.VATPercent)
	}
	pl.ID = uuid.NewString()
	pl.IsActive = false
	pl.CreatedAt = e.stamp()
	err := e.mutate(ctx, actorID, auth.RoleManager, func(tx *sql.Tx) error {
		if err := e.Repo.InsertPriceList(ctx, tx, pl); err != nil {
			return err
		}
		return e.audit(ctx, tx, events.ListCreate, "price_list", pl.ID, actorID, events.EventPayload{"name": pl.Name, "currency": pl.Currency})
	})
	return pl, err
}

// ActivatePriceList makes the list the single active one.
func (e Engine) ActivatePriceList(ctx context.Context, id, actorID string) (domain.PriceList, error) {
	var pl domain.PriceList
	err := e.mutate(ctx, actorID, auth.RoleManager, func(tx *sql.Tx) error {
		if err := e.Repo.ActivatePriceList(ctx, tx, id); err != nil {
			return err
		}
		var err error
		if pl, err = e.Repo.GetPriceListTx(ctx, tx, id); err != nil {
			return err
		}
		return e.audit(ctx, tx, events.ListActivate, "price_list", id, actorID, nil)
	})
	return pl, err
}

// DeletePriceList removes an inactive list and its items. Lists that offers
// were priced against are kept.
func (e Engine) DeletePriceList(ctx context.Context, id, actorID string) error {
	return e.mutate(ctx, actorID, auth.RoleManager, func(tx *sql.Tx) error {
		pl, err := e.Repo.GetPriceListTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if pl.IsActive {
			return ConflictError{Message: "cannot delete the active price list"}
		}
		referenced, err := e.Repo.PriceListReferenced(ctx, tx, id)
		if err != nil {
			return err
		}
		if referenced {
			return ConflictError{Message: "price list is referenced by offers"}
		}
		if err := e.Repo.DeletePriceList(ctx, tx, id); err != nil {
			return err
		}
		return e.audit(ctx, tx, events.ListDelete, "price_list", id, actorID, nil)
	})
}

func (e Engine) CreatePriceItem(ctx context.Context, it domain.PriceItem, actorID string) (domain.PriceItem, error) {
	it.ServiceKey = strings.TrimSpace(it.ServiceKey)
	if it.ServiceKey == "" {
		return it, invalid("service_key", "service_key is required")
	}
	if !validAmount(it.TierMin) || !validAmount(it.UnitPrice) {
		return it, invalid("tier_min", "tier_min and unit_price must be non-negative")
	}
	if it.TierMax != nil && (!validAmount(*it.TierMax) || *it.TierMax < it.TierMin) {
		return it, invalid("tier_max", "tier_max must be >= tier_min")
	}
	it.ID = uuid.NewString()
	it.CreatedAt = e.stamp()
	err := e.mutate(ctx, actorID, auth.RoleManager, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetPriceListTx(ctx, tx, it.PriceListID); err != nil {
			return err
		}
		if err := e.Repo.InsertPriceItem(ctx, tx, it); err != nil {
			return err
		}
		return e.audit(ctx, tx, events.ItemCreate, "price_item", it.ID, actorID, events.EventPayload{
			"price_list_id": it.PriceListID, "service_key": it.ServiceKey, "tier_min": it.TierMin, "unit_price": it.UnitPrice,
		})
	})
	return it, err
}

func (e Engine) DeletePriceItem(ctx context.Context, id, actorID string) error {
	return e.mutate(ctx, actorID, auth.RoleManager, func(tx *sql.Tx) error {
		if err := e.Repo.DeletePriceItem(ctx, tx, id); err != nil {
			return err
		}
		return e.audit(ctx, tx, events.ItemDelete, "price_item", id, actorID, nil)
	})
}
