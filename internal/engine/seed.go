package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"anagami/internal/domain"
	"anagami/internal/engine/auth"
	"anagami/internal/events"
	"anagami/internal/prompt"
	"anagami/internal/repo"
)

// SeedResult reports what a seed run created.
type SeedResult struct {
	AdminCreated  bool     `json:"admin_created"`
	PromptsSeeded []string `json:"prompts_seeded"`
}

// EnsureAdmin creates an admin user when the email is unknown. It is a no-op otherwise.
func (e Engine) EnsureAdmin(ctx context.Context, email, password, name string) (bool, error) {
	if email == "" {
		return false, nil
	}
	if _, err := e.Repo.GetUserByEmail(ctx, email); err == nil {
		return false, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return false, err
	}
	_, err := e.BootstrapUser(ctx, UserCreateOptions{Email: email, Password: password, Name: name, Role: auth.RoleAdmin})
	return err == nil, err
}

// SeedDefaultPrompts stores version 1 of the built-in offers prompt for each
// language that has no active system prompt yet.
func (e Engine) SeedDefaultPrompts(ctx context.Context) ([]string, error) {
	var seeded []string
	for _, lang := range []string{"bg", "en"} {
		n, err := e.Repo.CountActivePrompts(ctx, "offers", lang, prompt.KindSystem)
		if err != nil {
			return seeded, err
		}
		if n > 0 {
			continue
		}
		if err := e.seedPrompt(ctx, lang); err != nil {
			return seeded, err
		}
		seeded = append(seeded, "offers/"+lang)
	}
	return seeded, nil
}

func (e Engine) seedPrompt(ctx context.Context, lang string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	v, err := e.Repo.NextPromptVersion(ctx, tx, "offers", lang, prompt.KindSystem)
	if err != nil {
		return err
	}
	p := domain.Prompt{
		ID:        uuid.NewString(),
		Scope:     "offers",
		Language:  lang,
		Kind:      prompt.KindSystem,
		Version:   v,
		Content:   prompt.Default(lang),
		CreatedAt: e.stamp(),
	}
	if err := e.Repo.InsertPrompt(ctx, tx, p); err != nil {
		return err
	}
	if err := e.Repo.ActivatePrompt(ctx, tx, p.ID); err != nil {
		return err
	}
	if err := e.audit(ctx, tx, events.PromptCreate, "prompt", p.ID, "", events.EventPayload{"scope": "offers", "language": lang, "seeded": true}); err != nil {
		return err
	}
	return tx.Commit()
}

// Seed creates the bootstrap admin and the default prompts.
func (e Engine) Seed(ctx context.Context, email, password, name string) (SeedResult, error) {
	var res SeedResult
	var err error
	if res.AdminCreated, err = e.EnsureAdmin(ctx, email, password, name); err != nil {
		return res, err
	}
	res.PromptsSeeded, err = e.SeedDefaultPrompts(ctx)
	return res, err
}
