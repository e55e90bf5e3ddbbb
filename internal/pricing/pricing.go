// Package pricing resolves tiered unit prices and renders offer breakdowns.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"anagami/internal/domain"
	"anagami/internal/repo"
)

const (
	// Unconfigured is the breakdown returned when no price list is active.
	Unconfigured      = "requires admin pricing setup"
	VATModeNone       = "none"
	VATModeStandard   = "standard"
	DefaultVATPercent = 20
)

type LineRequest struct {
	ServiceKey string  `json:"service_key"`
	Quantity   float64 `json:"quantity"`
}

type Request struct {
	Currency string        `json:"currency,omitempty"`
	VATMode  string        `json:"vat_mode,omitempty" enum:"none,standard"`
	Items    []LineRequest `json:"items"`
}

type ResolvedItem struct {
	ServiceKey string  `json:"service_key"`
	Quantity   float64 `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	LineTotal  float64 `json:"line_total"`
	Matched    bool    `json:"matched"`
}

type Result struct {
	PricingConfigured bool           `json:"pricing_configured"`
	PriceListID       string         `json:"price_list_id,omitempty"`
	Currency          string         `json:"currency,omitempty"`
	Subtotal          *float64       `json:"subtotal"`
	VATPercent        float64        `json:"vat_percent"`
	VATAmount         *float64       `json:"vat_amount"`
	Total             *float64       `json:"total"`
	Breakdown         string         `json:"breakdown"`
	Items             []ResolvedItem `json:"items"`
}

// Compute prices the request against the given list. A nil list yields the
// unconfigured result. It has no side effects.
func Compute(list *domain.PriceList, items []domain.PriceItem, req Request) Result {
	if list == nil {
		return Result{PricingConfigured: false, Breakdown: Unconfigured, Items: []ResolvedItem{}}
	}
	currency := strings.TrimSpace(req.Currency)
	if currency == "" {
		currency = list.Currency
	}
	tiers := groupTiers(items)
	res := Result{
		PricingConfigured: true,
		PriceListID:       list.ID,
		Currency:          currency,
		Items:             make([]ResolvedItem, 0, len(req.Items)),
	}
	subtotal := 0.0
	for _, line := range req.Items {
		key := strings.TrimSpace(line.ServiceKey)
		ri := ResolvedItem{ServiceKey: key, Quantity: line.Quantity}
		if tier, ok := selectTier(tiers[key], line.Quantity); ok {
			ri.UnitPrice = tier.UnitPrice
			ri.Matched = true
		}
		ri.LineTotal = round2(line.Quantity * ri.UnitPrice)
		subtotal = round2(subtotal + ri.LineTotal)
		res.Items = append(res.Items, ri)
	}
	pct := list.VATPercent
	if strings.EqualFold(req.VATMode, VATModeNone) {
		pct = 0
	}
	vat := round2(subtotal * pct / 100)
	total := round2(subtotal + vat)
	res.VATPercent = pct
	res.Subtotal = &subtotal
	res.VATAmount = &vat
	res.Total = &total
	res.Breakdown = renderBreakdown(list.Name, currency, res)
	return res
}

func groupTiers(items []domain.PriceItem) map[string][]domain.PriceItem {
	out := map[string][]domain.PriceItem{}
	for _, it := range items {
		if !it.IsActive {
			continue
		}
		key := strings.TrimSpace(it.ServiceKey)
		out[key] = append(out[key], it)
	}
	for key := range out {
		sort.SliceStable(out[key], func(i, j int) bool { return out[key][i].TierMin < out[key][j].TierMin })
	}
	return out
}

// selectTier returns the first tier, in ascending tier_min order, whose range contains qty.
func selectTier(tiers []domain.PriceItem, qty float64) (domain.PriceItem, bool) {
	for _, t := range tiers {
		if t.TierMin <= qty && (t.TierMax == nil || qty <= *t.TierMax) {
			return t, true
		}
	}
	return domain.PriceItem{}, false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func quantity(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func renderBreakdown(listName, currency string, res Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Price list: %s\n", listName)
	for _, it := range res.Items {
		fmt.Fprintf(&b, "- %s x %s @ %s %s = %s %s", it.ServiceKey, quantity(it.Quantity), money(it.UnitPrice), currency, money(it.LineTotal), currency)
		if !it.Matched {
			b.WriteString(" (no matching tier)")
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Subtotal: %s %s\n", money(*res.Subtotal), currency)
	fmt.Fprintf(&b, "VAT (%s%%): %s %s\n", quantity(res.VATPercent), money(*res.VATAmount), currency)
	fmt.Fprintf(&b, "Total: %s %s", money(*res.Total), currency)
	return b.String()
}

// Service loads the active price list from storage and prices requests against it.
type Service struct {
	Repo repo.Repo
}

// Quote computes offer pricing against the active list. A missing list is not an error.
func (s Service) Quote(ctx context.Context, req Request) (Result, error) {
	if err := Validate(req); err != nil {
		return Result{}, err
	}
	list, err := s.Repo.ActivePriceList(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		return Compute(nil, nil, req), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load active price list: %w", err)
	}
	items, err := s.Repo.ListPriceItems(ctx, list.ID, true)
	if err != nil {
		return Result{}, fmt.Errorf("load price items: %w", err)
	}
	return Compute(&list, items, req), nil
}

// Validate rejects malformed requests.
func Validate(req Request) error {
	if len(req.Items) == 0 {
		return errors.New("items are required")
	}
	for i, it := range req.Items {
		if strings.TrimSpace(it.ServiceKey) == "" {
			return fmt.Errorf("items[%d].service_key is required", i)
		}
		if it.Quantity < 0 || math.IsNaN(it.Quantity) || math.IsInf(it.Quantity, 0) {
			return fmt.Errorf("items[%d].quantity is invalid", i)
		}
	}
	switch strings.ToLower(req.VATMode) {
	case "", VATModeNone, VATModeStandard:
	default:
		return fmt.Errorf("invalid vat_mode %q", req.VATMode)
	}
	return nil
}
