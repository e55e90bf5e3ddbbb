package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"anagami/internal/engine"
	"anagami/internal/engine/auth"
	"anagami/internal/platform/logger"
	"anagami/internal/pricing"
)

func registerOffers(api huma.API, e engine.Engine, log *logger.Logger) {
	huma.Register(api, huma.Operation{
		OperationID: "quote",
		Method:      http.MethodPost,
		Path:        "/pricing/quote",
		Summary:     "Preview offer pricing",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body pricing.Request `json:"body"`
	}) (*bodyOutput[pricing.Result], error) {
		if err := requireRole(ctx, auth.RoleViewer); err != nil {
			return nil, err
		}
		res, err := e.Quote(ctx, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &bodyOutput[pricing.Result]{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-offer",
		Method:        http.MethodPost,
		Path:          "/offers",
		Summary:       "Create priced offer snapshot",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateOfferRequest `json:"body"`
	}) (*bodyOutput[OfferResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, _, err := e.CreateOffer(ctx, engine.OfferCreateOptions{
			TaskID:     input.Body.TaskID,
			ClientName: input.Body.ClientName,
			Request: pricing.Request{
				Currency: input.Body.Currency,
				VATMode:  input.Body.VATMode,
				Items:    input.Body.Items,
			},
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &bodyOutput[OfferResponse]{Body: offerResponse(o, log)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-offers",
		Method:      http.MethodGet,
		Path:        "/offers",
		Summary:     "List offers",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"0" maximum:"500"`
	}) (*bodyOutput[[]OfferResponse], error) {
		if err := requireRole(ctx, auth.RoleViewer); err != nil {
			return nil, err
		}
		items, err := e.Repo.ListOffers(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &bodyOutput[[]OfferResponse]{Body: offerResponses(items, log)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-offer",
		Method:      http.MethodGet,
		Path:        "/offers/{id}",
		Summary:     "Get offer",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*bodyOutput[OfferResponse], error) {
		if err := requireRole(ctx, auth.RoleViewer); err != nil {
			return nil, err
		}
		o, err := e.Repo.GetOffer(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &bodyOutput[OfferResponse]{Body: offerResponse(o, log)}, nil
	})
}
