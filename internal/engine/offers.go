package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"anagami/internal/domain"
	"anagami/internal/engine/auth"
	"anagami/internal/events"
	"anagami/internal/pricing"
	"anagami/internal/repo"
)

// Quote previews offer pricing without writing anything.
func (e Engine) Quote(ctx context.Context, req pricing.Request) (pricing.Result, error) {
	if err := pricing.Validate(req); err != nil {
		return pricing.Result{}, ValidationError{Field: "items", Message: err.Error()}
	}
	return e.Pricing.Quote(ctx, req)
}

type OfferCreateOptions struct {
	TaskID     string
	ClientName string
	Request    pricing.Request
	ActorID    string
}

// CreateOffer prices the request and stores the result as an immutable snapshot.
func (e Engine) CreateOffer(ctx context.Context, opts OfferCreateOptions) (domain.Offer, pricing.Result, error) {
	res, err := e.Quote(ctx, opts.Request)
	if err != nil {
		return domain.Offer{}, res, err
	}
	items, err := json.Marshal(res.Items)
	if err != nil {
		return domain.Offer{}, res, fmt.Errorf("marshal offer items: %w", err)
	}
	vatMode := strings.ToLower(opts.Request.VATMode)
	if vatMode == "" {
		vatMode = pricing.VATModeStandard
	}
	o := domain.Offer{
		ID:                uuid.NewString(),
		ClientName:        strings.TrimSpace(opts.ClientName),
		Currency:          res.Currency,
		VATMode:           vatMode,
		PricingConfigured: res.PricingConfigured,
		Subtotal:          res.Subtotal,
		VATAmount:         res.VATAmount,
		Total:             res.Total,
		Breakdown:         res.Breakdown,
		ItemsJSON:         string(items),
		CreatedBy:         opts.ActorID,
		CreatedAt:         e.stamp(),
	}
	if taskID := strings.TrimSpace(opts.TaskID); taskID != "" {
		o.TaskID = &taskID
	}
	if res.PriceListID != "" {
		id := res.PriceListID
		o.PriceListID = &id
	}
	if o.Currency == "" {
		o.Currency = strings.ToUpper(strings.TrimSpace(opts.Request.Currency))
	}
	err = e.mutate(ctx, opts.ActorID, auth.RoleAgent, func(tx *sql.Tx) error {
		if o.TaskID != nil {
			if _, err := e.Repo.GetTaskTx(ctx, tx, *o.TaskID); errors.Is(err, repo.ErrNotFound) {
				return invalid("task_id", "task %s not found", *o.TaskID)
			} else if err != nil {
				return err
			}
		}
		if err := e.Repo.InsertOffer(ctx, tx, o); err != nil {
			return fmt.Errorf("insert offer: %w", err)
		}
		return e.audit(ctx, tx, events.OfferCreate, "offer", o.ID, opts.ActorID, events.EventPayload{
			"pricing_configured": o.PricingConfigured,
			"total":              o.Total,
			"price_list_id":      o.PriceListID,
		})
	})
	return o, res, err
}
