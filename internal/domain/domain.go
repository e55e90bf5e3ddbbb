package domain

const (
	TaskStatusDraft    = "draft"
	TaskStatusReviewed = "reviewed"
	TaskStatusApproved = "approved"
)

type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	Role         string `json:"role" enum:"viewer,agent,manager,admin"`
	IsActive     bool   `json:"is_active"`
	PasswordHash string `json:"-"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

type Task struct {
	ID         string  `json:"id"`
	Module     string  `json:"module"`
	Language   string  `json:"language" enum:"bg,en"`
	InputText  string  `json:"input_text"`
	Company    string  `json:"company,omitempty"`
	Industry   string  `json:"industry,omitempty"`
	Budget     string  `json:"budget,omitempty"`
	Timeline   string  `json:"timeline,omitempty"`
	Status     string  `json:"status" enum:"draft,reviewed,approved"`
	CreatedBy  string  `json:"created_by"`
	ApprovedBy *string `json:"approved_by,omitempty"`
	ApprovedAt *string `json:"approved_at,omitempty" format:"date-time"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	UpdatedAt  string  `json:"updated_at" format:"date-time"`
}

type TaskSection struct {
	TaskID       string  `json:"task_id"`
	SectionType  string  `json:"section_type"`
	Position     int     `json:"position"`
	ContentDraft string  `json:"content_draft"`
	ContentFinal *string `json:"content_final"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

// Rendered returns the human-edited final when one was saved, else the draft.
func (s TaskSection) Rendered() string {
	if s.ContentFinal != nil {
		return *s.ContentFinal
	}
	return s.ContentDraft
}

type Prompt struct {
	ID        string `json:"id"`
	Scope     string `json:"scope"`
	Language  string `json:"language"`
	Kind      string `json:"kind" enum:"system,style,rules"`
	Version   int    `json:"version"`
	Content   string `json:"content"`
	IsActive  bool   `json:"is_active"`
	CreatedBy string `json:"created_by,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type KnowledgeSnippet struct {
	ID        string `json:"id"`
	Scope     string `json:"scope"`
	Language  string `json:"language"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Tags      string `json:"tags"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Template struct {
	ID        string `json:"id"`
	Scope     string `json:"scope"`
	Language  string `json:"language"`
	Name      string `json:"name"`
	Body      string `json:"body"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type PricingRule struct {
	ID        string  `json:"id"`
	Scope     string  `json:"scope"`
	Service   string  `json:"service"`
	MinPrice  float64 `json:"min_price"`
	MaxPrice  float64 `json:"max_price"`
	Currency  string  `json:"currency"`
	Notes     string  `json:"notes,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type PriceList struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Currency   string  `json:"currency"`
	VATPercent float64 `json:"vat_percent"`
	IsActive   bool    `json:"is_active"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

type PriceItem struct {
	ID          string   `json:"id"`
	PriceListID string   `json:"price_list_id"`
	ServiceKey  string   `json:"service_key"`
	TierMin     float64  `json:"tier_min"`
	TierMax     *float64 `json:"tier_max,omitempty"`
	UnitPrice   float64  `json:"unit_price"`
	IsActive    bool     `json:"is_active"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
}

type Offer struct {
	ID                string   `json:"id"`
	TaskID            *string  `json:"task_id,omitempty"`
	ClientName        string   `json:"client_name,omitempty"`
	Currency          string   `json:"currency"`
	VATMode           string   `json:"vat_mode"`
	PricingConfigured bool     `json:"pricing_configured"`
	Subtotal          *float64 `json:"subtotal"`
	VATAmount         *float64 `json:"vat_amount"`
	Total             *float64 `json:"total"`
	Breakdown         string   `json:"breakdown"`
	ItemsJSON         string   `json:"items_json"`
	PriceListID       *string  `json:"price_list_id,omitempty"`
	CreatedBy         string   `json:"created_by"`
	CreatedAt         string   `json:"created_at" format:"date-time"`
}

type UsageEntry struct {
	ID        int64   `json:"id"`
	Endpoint  string  `json:"endpoint"`
	ActorID   *string `json:"actor_id,omitempty"`
	Model     string  `json:"model,omitempty"`
	TokensIn  int     `json:"tokens_in"`
	TokensOut int     `json:"tokens_out"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type RequestLog struct {
	ID         int64  `json:"id"`
	IP         string `json:"ip"`
	Endpoint   string `json:"endpoint"`
	StatusCode int    `json:"status_code"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
