package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"anagami/internal/domain"
	"anagami/internal/engine"
	"anagami/internal/engine/auth"
	"anagami/internal/pricing"
	"anagami/internal/repo"
)

type bodyOutput[T any] struct {
	Body T `json:"body"`
}

type idPath struct {
	ID string `path:"id"`
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

var adminErrors = []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict}

func registerPrompts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-prompts",
		Method:      http.MethodGet,
		Path:        "/admin/prompts",
		Summary:     "List prompt versions",
	}, func(ctx context.Context, input *struct {
		Scope    string `query:"scope"`
		Language string `query:"language"`
		Kind     string `query:"kind"`
	}) (*bodyOutput[[]domain.Prompt], error) {
		if err := requireRole(ctx, auth.RoleManager); err != nil {
			return nil, err
		}
		items, err := e.Repo.ListPrompts(ctx, repo.PromptFilters{Scope: input.Scope, Language: input.Language, Kind: input.Kind})
		if err != nil {
			return nil, handleError(err)
		}
		return &bodyOutput[[]domain.Prompt]{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-prompt",
		Method:        http.MethodPost,
		Path:          "/admin/prompts",
		Summary:       "Create prompt version",
		DefaultStatus: http.StatusCreated,
		Errors:        adminErrors,
	}, func(ctx context.Context, input *struct {
		Body CreatePromptRequest `json:"body"`
	}) (*bodyOutput[domain.Prompt], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreatePrompt(ctx, engine.PromptCreateOptions{
			Scope:    input.Body.Scope,
			Language: input.Body.Language,
			Kind:     input.Body.Kind,
			Content:  input.Body.Content,
			Activate: input.Body.Activate,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &bodyOutput[domain.Prompt]{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "activate-prompt",
		Method:      http.MethodPost,
		Path:        "/admin/prompts/{id}/activate",
		Summary:     "Activate prompt version",
		Errors:      adminErrors,
	}, func(ctx context.Context, input *idPath) (*bodyOutput[domain.Prompt], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.ActivatePrompt(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &bodyOutput[domain.Prompt]{Body: p}, nil
	})
}

func registerKnowledge(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-knowledge",
		Method:      http.MethodGet,
		Path:        "/admin/knowledge",
		Summary:     "List knowledge snippets",
	}, func(ctx context.Context, input *struct {
		Scope    string `query:"scope"`
		Language string `query:"language"`
		Limit    int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*bodyOutput[[]domain.KnowledgeSnippet], error) {
		if err := requireRole(ctx, auth.RoleManager); err != nil {
			return nil, err
		}
		items, err := e.Repo.ListKnowledge(ctx, input.Scope, input.Language, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &bodyOutput[[]domain.KnowledgeSnippet]{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-knowledge",
		Method:        http.MethodPost,
		Path:          "/admin/knowledge",
		Summary:       "Create knowledge snippet",
		DefaultStatus: http.StatusCreated,
		Errors:        adminErrors,
	}, func(ctx context.Context, input *struct {
		Body KnowledgeRequest `json:"body"`
	}) (*bodyOutput[domain.KnowledgeSnippet], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		k, err := e.CreateKnowledge(ctx, domain.KnowledgeSnippet{
			Scope:    input.Body.Scope,
			Language: input.Body.Language,
			Title:    input.Body.Title,
			Body:     input.Body.Body,
			Tags:     input.Body.Tags,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &bodyOutput[domain.KnowledgeSnippet]{Body: k}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-knowledge",
		Method:      http.MethodPatch,
		Path:        "/admin/knowledge/{id}",
		Summary:     "Update knowledge snippet",
		Errors:      adminErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body KnowledgeUpdateRequest `json:"body"`
	}) (*bodyOutput[domain.KnowledgeSnippet], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		k, err := e.UpdateKnowledge(ctx, engine.KnowledgeUpdateOptions{
			ID:       input.ID,
			Title:    input.Body.Title,
			Body:     input.Body.Body,
			Tags:     input.Body.Tags,
			Language: input.Body.Language,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &bodyOutput[domain.KnowledgeSnippet]{Body: k}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-knowledge",
		Method:        http.MethodDelete,
		Path:          "/admin/knowledge/{id}",
		Summary:       "Delete knowledge snippet",
		DefaultStatus: http.StatusNoContent,
		Errors:        adminErrors,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteKnowledge(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-templates",
		Method:      http.MethodGet,
		Path:        "/admin/templates",
		Summary:     "List templates",
	}, func(ctx context.Context, input *struct {
		Scope      string `query:"scope"`
		Language   string `query:"language"`
		ActiveOnly bool   `query:"active_only"`
		Limit      int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*bodyOutput[[]domain.Template], error) {
		if err := requireRole(ctx, auth.RoleManager); err != nil {
			return nil, err
		}
		items, err := e.Repo.ListTemplates(ctx, input.Scope, input.Language, input.ActiveOnly, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &bodyOutput[[]domain.Template]{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-template",
		Method:        http.MethodPost,
		Path:          "/admin/templates",
		Summary:       "Create template",
		DefaultStatus: http.StatusCreated,
		Errors:        adminErrors,
	}, func(ctx context.Context, input *struct {
		Body TemplateRequest `json:"body"`
	}) (*bodyOutput[domain.Template], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		active := true
		if input.Body.IsActive != nil {
			active = *input.Body.IsActive
		}
		t, err := e.CreateTemplate(ctx, domain.Template{
			Scope:    input.Body.Scope,
			Language: input.Body.Language,
			Name:     input.Body.Name,
			Body:     input.Body.Body,
			IsActive: active,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &bodyOutput[domain.Template]{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-template",
		Method:      http.MethodPatch,
		Path:        "/admin/templates/{id}",
		Summary:     "Update template",
		Errors:      adminErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body TemplateUpdateRequest `json:"body"`
	}) (*bodyOutput[domain.Template], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UpdateTemplate(ctx, engine.TemplateUpdateOptions{
			ID:       input.ID,
			Name:     input.Body.Name,
			Body:     input.Body.Body,
			IsActive: input.Body.IsActive,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &bodyOutput[domain.Template]{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-template",
		Method:        http.MethodDelete,
		Path:          "/admin/templates/{id}",
		Summary:       "Delete template",
		DefaultStatus: http.StatusNoContent,
		Errors:        adminErrors,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTemplate(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerPricingAdmin(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-pricing-rules",
		Method:      http.MethodGet,
		Path:        "/admin/pricing-rules",
		Summary:     "List pricing rules",
	}, func(ctx context.Context, input *struct {
		Scope string `query:"scope"`
		Limit int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*bodyOutput[[]domain.PricingRule], error) {
		if err := requireRole(ctx, auth.RoleManager); err != nil {
			return nil, err
		}
		items, err := e.Repo.ListPricingRules(ctx, input.Scope, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &bodyOutput[[]domain.PricingRule]{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-pricing-rule",
		Method:        http.MethodPost,
		Path:          "/admin/pricing-rules",
		Summary:       "Create pricing rule",
		DefaultStatus: http.StatusCreated,
		Errors:        adminErrors,
	}, func(ctx context.Context, input *struct {
		Body PricingRuleRequest `json:"body"`
	}) (*bodyOutput[domain.PricingRule], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pr, err := e.CreatePricingRule(ctx, domain.PricingRule{
			Scope:    input.Body.Scope,
			Service:  input.Body.Service,
			MinPrice: input.Body.MinPrice,
			MaxPrice: input.Body.MaxPrice,
			Currency: input.Body.Currency,
			Notes:    input.Body.Notes,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &bodyOutput[domain.PricingRule]{Body: pr}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-pricing-rule",
		Method:        http.MethodDelete,
		Path:          "/admin/pricing-rules/{id}",
		Summary:       "Delete pricing rule",
		DefaultStatus: http.StatusNoContent,
		Errors:        adminErrors,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeletePricingRule(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-price-lists",
		Method:      http.MethodGet,
		Path:        "/admin/price-lists",
		Summary:     "List price lists",
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[[]domain.PriceList], error) {
		if err := requireRole(ctx, auth.RoleManager); err != nil {
			return nil, err
		}
		items, err := e.Repo.ListPriceLists(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &bodyOutput[[]domain.PriceList]{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-price-list",
		Method:        http.MethodPost,
		Path:          "/admin/price-lists",
		Summary:       "Create price list",
		DefaultStatus: http.StatusCreated,
		Errors:        adminErrors,
	}, func(ctx context.Context, input *struct {
		Body PriceListRequest `json:"body"`
	}) (*bodyOutput[domain.PriceList], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		vat := float64(pricing.DefaultVATPercent)
		if input.Body.VATPercent != nil {
			vat = *input.Body.VATPercent
		}
		pl, err := e.CreatePriceList(ctx, domain.PriceList{
			Name:       input.Body.Name,
			Currency:   input.Body.Currency,
			VATPercent: vat,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &bodyOutput[domain.PriceList]{Body: pl}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "activate-price-list",
		Method:      http.MethodPost,
		Path:        "/admin/price-lists/{id}/activate",
		Summary:     "Activate price list",
		Errors:      adminErrors,
	}, func(ctx context.Context, input *idPath) (*bodyOutput[domain.PriceList], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pl, err := e.ActivatePriceList(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &bodyOutput[domain.PriceList]{Body: pl}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-price-list",
		Method:        http.MethodDelete,
		Path:          "/admin/price-lists/{id}",
		Summary:       "Delete inactive price list",
		DefaultStatus: http.StatusNoContent,
		Errors:        adminErrors,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeletePriceList(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-price-items",
		Method:      http.MethodGet,
		Path:        "/admin/price-lists/{id}/items",
		Summary:     "List price items",
	}, func(ctx context.Context, input *struct {
		ID         string `path:"id"`
		ActiveOnly bool   `query:"active_only"`
	}) (*bodyOutput[[]domain.PriceItem], error) {
		if err := requireRole(ctx, auth.RoleManager); err != nil {
			return nil, err
		}
		if _, err := e.Repo.GetPriceList(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListPriceItems(ctx, input.ID, input.ActiveOnly)
		if err != nil {
			return nil, handleError(err)
		}
		return &bodyOutput[[]domain.PriceItem]{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-price-item",
		Method:        http.MethodPost,
		Path:          "/admin/price-lists/{id}/items",
		Summary:       "Create price item",
		DefaultStatus: http.StatusCreated,
		Errors:        adminErrors,
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body PriceItemRequest `json:"body"`
	}) (*bodyOutput[domain.PriceItem], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		active := true
		if input.Body.IsActive != nil {
			active = *input.Body.IsActive
		}
		it, err := e.CreatePriceItem(ctx, domain.PriceItem{
			PriceListID: input.ID,
			ServiceKey:  input.Body.ServiceKey,
			TierMin:     input.Body.TierMin,
			TierMax:     input.Body.TierMax,
			UnitPrice:   input.Body.UnitPrice,
			IsActive:    active,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &bodyOutput[domain.PriceItem]{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-price-item",
		Method:        http.MethodDelete,
		Path:          "/admin/price-items/{id}",
		Summary:       "Delete price item",
		DefaultStatus: http.StatusNoContent,
		Errors:        adminErrors,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeletePriceItem(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/admin/users",
		Summary:     "List users",
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[[]domain.User], error) {
		if err := requireRole(ctx, auth.RoleAdmin); err != nil {
			return nil, err
		}
		items, err := e.Repo.ListUsers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &bodyOutput[[]domain.User]{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/admin/users",
		Summary:       "Create user",
		DefaultStatus: http.StatusCreated,
		Errors:        adminErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*bodyOutput[domain.User], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.CreateUser(ctx, engine.UserCreateOptions{
			Email:    input.Body.Email,
			Name:     input.Body.Name,
			Role:     input.Body.Role,
			Password: input.Body.Password,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &bodyOutput[domain.User]{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-user",
		Method:      http.MethodPatch,
		Path:        "/admin/users/{id}",
		Summary:     "Update user role, status or password",
		Errors:      adminErrors,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateUserRequest `json:"body"`
	}) (*bodyOutput[domain.User], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.UpdateUser(ctx, engine.UserUpdateOptions{
			ID:       input.ID,
			Name:     input.Body.Name,
			Role:     input.Body.Role,
			IsActive: input.Body.IsActive,
			Password: input.Body.Password,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &bodyOutput[domain.User]{Body: u}, nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-usage",
		Method:      http.MethodGet,
		Path:        "/admin/usage",
		Summary:     "Recent model usage",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"0" maximum:"500"`
	}) (*bodyOutput[[]domain.UsageEntry], error) {
		if err := requireRole(ctx, auth.RoleAdmin); err != nil {
			return nil, err
		}
		items, err := e.Repo.ListUsage(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &bodyOutput[[]domain.UsageEntry]{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/admin/events",
		Summary:     "Recent audit events",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" minimum:"0" maximum:"500"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*bodyOutput[[]domain.Event], error) {
		if err := requireRole(ctx, auth.RoleAdmin); err != nil {
			return nil, err
		}
		items, err := e.Repo.LatestEvents(ctx, input.Limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &bodyOutput[[]domain.Event]{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-request-logs",
		Method:      http.MethodGet,
		Path:        "/admin/request-logs",
		Summary:     "Recent public request logs",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"0" maximum:"500"`
	}) (*bodyOutput[[]domain.RequestLog], error) {
		if err := requireRole(ctx, auth.RoleAdmin); err != nil {
			return nil, err
		}
		items, err := e.Repo.ListRequestLogs(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &bodyOutput[[]domain.RequestLog]{Body: nonNil(items)}, nil
	})
}
