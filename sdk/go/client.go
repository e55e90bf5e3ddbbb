package anagamisdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Client is a minimal Anagami HTTP API client. BaseURL includes the API base
// path, e.g. http://127.0.0.1:8787/api.
type Client struct {
	BaseURL    string
	Token      string
	SiteAPIKey string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 90 * time.Second,
	}
}

type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	IsActive bool   `json:"is_active"`
}

type Task struct {
	ID        string `json:"id"`
	Module    string `json:"module"`
	Language  string `json:"language"`
	InputText string `json:"input_text"`
	Company   string `json:"company,omitempty"`
	Industry  string `json:"industry,omitempty"`
	Budget    string `json:"budget,omitempty"`
	Timeline  string `json:"timeline,omitempty"`
	Status    string `json:"status"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at"`
}

// Section is a labeled part of a task. Content is the final text when set, else the draft.
type Section struct {
	SectionType  string  `json:"section_type"`
	Position     int     `json:"position"`
	ContentDraft string  `json:"content_draft"`
	ContentFinal *string `json:"content_final"`
	Content      string  `json:"content"`
}

type TaskWithSections struct {
	Task     Task      `json:"task"`
	Sections []Section `json:"sections"`
}

// TaskInput describes a new task. Empty Language means bg.
type TaskInput struct {
	Module    string `json:"module"`
	Language  string `json:"language,omitempty"`
	InputText string `json:"input_text"`
	Company   string `json:"company,omitempty"`
	Industry  string `json:"industry,omitempty"`
	Budget    string `json:"budget,omitempty"`
	Timeline  string `json:"timeline,omitempty"`
}

type QuoteItem struct {
	ServiceKey string  `json:"service_key"`
	Quantity   float64 `json:"quantity"`
}

type QuoteRequest struct {
	Currency string      `json:"currency,omitempty"`
	VATMode  string      `json:"vat_mode,omitempty"`
	Items    []QuoteItem `json:"items"`
}

type Quote struct {
	PricingConfigured bool     `json:"pricing_configured"`
	PriceListID       string   `json:"price_list_id,omitempty"`
	Currency          string   `json:"currency,omitempty"`
	Subtotal          *float64 `json:"subtotal"`
	VATPercent        float64  `json:"vat_percent"`
	VATAmount         *float64 `json:"vat_amount"`
	Total             *float64 `json:"total"`
	Breakdown         string   `json:"breakdown"`
}

// Lead is the public lead form payload.
type Lead struct {
	LeadText          string `json:"leadText"`
	CompanyName       string `json:"company_name,omitempty"`
	Industry          string `json:"industry,omitempty"`
	ApproximateBudget string `json:"approximate_budget,omitempty"`
	ExpectedTimeline  string `json:"expected_timeline,omitempty"`
	TurnstileToken    string `json:"turnstileToken,omitempty"`
}

// APIError wraps non-2xx responses. Code and Message come from the error envelope when present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login exchanges credentials for a token and stores it on the client.
func (c *Client) Login(ctx context.Context, email, password string) (User, error) {
	var resp struct {
		Token string `json:"token"`
		User  User   `json:"user"`
	}
	body := map[string]any{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "auth/login", body, &resp, nil); err != nil {
		return User{}, err
	}
	c.Token = resp.Token
	return resp.User, nil
}

func (c *Client) CreateTask(ctx context.Context, in TaskInput) (Task, error) {
	var resp TaskWithSections
	err := c.do(ctx, http.MethodPost, "tasks", in, &resp, nil)
	return resp.Task, err
}

func (c *Client) GetTask(ctx context.Context, id string) (TaskWithSections, error) {
	var resp TaskWithSections
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp, nil)
	return resp, err
}

// GenerateTask runs the model and replaces section drafts.
func (c *Client) GenerateTask(ctx context.Context, id string) (TaskWithSections, error) {
	var resp TaskWithSections
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/generate", url.PathEscape(id)), nil, &resp, nil)
	return resp, err
}

// SaveFinal stores human-edited content keyed by section type.
func (c *Client) SaveFinal(ctx context.Context, id string, finals map[string]string) (TaskWithSections, error) {
	sections := make([]map[string]string, 0, len(finals))
	for k, v := range finals {
		sections = append(sections, map[string]string{"section_type": k, "content_final": v})
	}
	var resp TaskWithSections
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("tasks/%s/sections", url.PathEscape(id)), map[string]any{"sections": sections}, &resp, nil)
	return resp, err
}

func (c *Client) ApproveTask(ctx context.Context, id string) (TaskWithSections, error) {
	var resp TaskWithSections
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/approve", url.PathEscape(id)), nil, &resp, nil)
	return resp, err
}

func (c *Client) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	var resp Quote
	err := c.do(ctx, http.MethodPost, "pricing/quote", req, &resp, nil)
	return resp, err
}

// PublicGenerate calls the public lead endpoint with SiteAPIKey. The result
// maps output keys (analysis, proposalDraft, ...) to text; "labels" is dropped.
func (c *Client) PublicGenerate(ctx context.Context, lead Lead) (map[string]string, error) {
	var raw map[string]json.RawMessage
	headers := map[string]string{"x-site-api-key": c.SiteAPIKey}
	if err := c.do(ctx, http.MethodPost, "public/generate", lead, &raw, headers); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if k == "labels" {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, fmt.Errorf("decode %s: %w", k, err)
		}
		out[k] = s
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any, headers map[string]string) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{
			StatusCode: resp.StatusCode,
			Code:       gjson.GetBytes(b, "error.code").String(),
			Message:    gjson.GetBytes(b, "error.message").String(),
			Body:       string(b),
		}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
