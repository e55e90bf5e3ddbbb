package llm

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"anagami/internal/config"
)

const defaultAnthropicMaxTokens = 2000

type Anthropic struct {
	client anthropic.Client
	model  anthropic.Model
}

func NewAnthropic(s config.LLMSettings) *Anthropic {
	opts := []option.RequestOption{option.WithAPIKey(s.APIKey)}
	if s.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(s.BaseURL))
	}
	model := anthropic.Model(s.Model)
	if model == "" || strings.HasPrefix(s.Model, "gpt-") {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	return &Anthropic{client: anthropic.NewClient(opts...), model: model}
}

// Complete sends one user turn. Anthropic has no response_format, so a schema
// request is appended to the system prompt as an instruction.
func (c *Anthropic) Complete(ctx context.Context, req Request) (Response, error) {
	system := req.System
	if req.Schema != nil {
		system += "\n\nReturn only a JSON object with exactly these string keys: " + strings.Join(req.Schema.Keys, ", ") + "."
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(req.Temperature),
		System:      []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
	})
	if err != nil {
		return Response{}, err
	}
	var b strings.Builder
	for _, block := range resp.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			b.WriteString(v.Text)
		}
	}
	return Response{
		Text:      b.String(),
		Model:     string(resp.Model),
		TokensIn:  int(resp.Usage.InputTokens),
		TokensOut: int(resp.Usage.OutputTokens),
	}, nil
}
