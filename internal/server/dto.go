package server

import (
	"encoding/json"

	"anagami/internal/domain"
	"anagami/internal/platform/logger"
	"anagami/internal/pricing"
)

// Request payloads

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type CreateTaskRequest struct {
	Module    string `json:"module"`
	Language  string `json:"language,omitempty" enum:"bg,en"`
	InputText string `json:"input_text"`
	Company   string `json:"company,omitempty"`
	Industry  string `json:"industry,omitempty"`
	Budget    string `json:"budget,omitempty"`
	Timeline  string `json:"timeline,omitempty"`
}

type SectionFinalRequest struct {
	SectionType  string `json:"section_type"`
	ContentFinal string `json:"content_final"`
}

type SaveSectionsRequest struct {
	Sections []SectionFinalRequest `json:"sections"`
}

type CreatePromptRequest struct {
	Scope    string `json:"scope"`
	Language string `json:"language,omitempty" enum:"bg,en"`
	Kind     string `json:"kind,omitempty" enum:"system,style,rules"`
	Content  string `json:"content"`
	Activate bool   `json:"activate,omitempty"`
}

type KnowledgeRequest struct {
	Scope    string `json:"scope"`
	Language string `json:"language,omitempty" enum:"bg,en"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Tags     string `json:"tags,omitempty"`
}

type KnowledgeUpdateRequest struct {
	Title    *string `json:"title,omitempty"`
	Body     *string `json:"body,omitempty"`
	Tags     *string `json:"tags,omitempty"`
	Language *string `json:"language,omitempty" enum:"bg,en"`
}

type TemplateRequest struct {
	Scope    string `json:"scope"`
	Language string `json:"language,omitempty" enum:"bg,en"`
	Name     string `json:"name"`
	Body     string `json:"body"`
	IsActive *bool  `json:"is_active,omitempty"`
}

type TemplateUpdateRequest struct {
	Name     *string `json:"name,omitempty"`
	Body     *string `json:"body,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

type PricingRuleRequest struct {
	Scope    string  `json:"scope"`
	Service  string  `json:"service"`
	MinPrice float64 `json:"min_price"`
	MaxPrice float64 `json:"max_price"`
	Currency string  `json:"currency,omitempty"`
	Notes    string  `json:"notes,omitempty"`
}

type PriceListRequest struct {
	Name       string   `json:"name"`
	Currency   string   `json:"currency,omitempty"`
	VATPercent *float64 `json:"vat_percent,omitempty" doc:"Defaults to 20 when omitted"`
}

type PriceItemRequest struct {
	ServiceKey string   `json:"service_key"`
	TierMin    float64  `json:"tier_min,omitempty"`
	TierMax    *float64 `json:"tier_max,omitempty"`
	UnitPrice  float64  `json:"unit_price"`
	IsActive   *bool    `json:"is_active,omitempty"`
}

type CreateOfferRequest struct {
	TaskID     string                `json:"task_id,omitempty"`
	ClientName string                `json:"client_name,omitempty"`
	Currency   string                `json:"currency,omitempty"`
	VATMode    string                `json:"vat_mode,omitempty" enum:"none,standard"`
	Items      []pricing.LineRequest `json:"items"`
}

type CreateUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Role     string `json:"role,omitempty" enum:"viewer,agent,manager,admin"`
	Password string `json:"password"`
}

type UpdateUserRequest struct {
	Name     *string `json:"name,omitempty"`
	Role     *string `json:"role,omitempty" enum:"viewer,agent,manager,admin"`
	IsActive *bool   `json:"is_active,omitempty"`
	Password *string `json:"password,omitempty"`
}

// PublicGenerateRequest keeps the field names used by the public intake form.
type PublicGenerateRequest struct {
	LeadText          string `json:"leadText,omitempty"`
	CompanyName       string `json:"company_name,omitempty"`
	Industry          string `json:"industry,omitempty"`
	ApproximateBudget string `json:"approximate_budget,omitempty"`
	ExpectedTimeline  string `json:"expected_timeline,omitempty"`
	TurnstileToken    string `json:"turnstileToken,omitempty"`
}

// Response payloads

type LoginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt string      `json:"expires_at" format:"date-time"`
	User      domain.User `json:"user"`
}

type SectionResponse struct {
	SectionType  string  `json:"section_type"`
	Position     int     `json:"position"`
	ContentDraft string  `json:"content_draft"`
	ContentFinal *string `json:"content_final"`
	Content      string  `json:"content"`
	UpdatedAt    string  `json:"updated_at"`
}

type TaskResponse struct {
	Task     domain.Task       `json:"task"`
	Sections []SectionResponse `json:"sections"`
}

type OfferResponse struct {
	domain.Offer
	Items []pricing.ResolvedItem `json:"items"`
}

// Mapping helpers

func sectionResponses(sections []domain.TaskSection) []SectionResponse {
	out := make([]SectionResponse, 0, len(sections))
	for _, s := range sections {
		out = append(out, SectionResponse{
			SectionType:  s.SectionType,
			Position:     s.Position,
			ContentDraft: s.ContentDraft,
			ContentFinal: s.ContentFinal,
			Content:      s.Rendered(),
			UpdatedAt:    s.UpdatedAt,
		})
	}
	return out
}

func taskResponse(t domain.Task, sections []domain.TaskSection) TaskResponse {
	return TaskResponse{Task: t, Sections: sectionResponses(sections)}
}

// offerResponse decodes the stored item snapshot. A corrupt snapshot is
// logged and rendered as an empty item list.
func offerResponse(o domain.Offer, log *logger.Logger) OfferResponse {
	items := []pricing.ResolvedItem{}
	if o.ItemsJSON != "" {
		if err := json.Unmarshal([]byte(o.ItemsJSON), &items); err != nil {
			logger.OrNop(log).Warn("offer items snapshot unreadable", "offer_id", o.ID, "error", err)
			items = []pricing.ResolvedItem{}
		}
	}
	return OfferResponse{Offer: o, Items: items}
}

func offerResponses(offers []domain.Offer, log *logger.Logger) []OfferResponse {
	out := make([]OfferResponse, 0, len(offers))
	for _, o := range offers {
		out = append(out, offerResponse(o, log))
	}
	return out
}
