// Package llm is a small provider-agnostic chat completion layer.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"anagami/internal/config"
)

var ErrDisabled = errors.New("llm provider is disabled")

// Schema asks the provider for a strict JSON object with the given string keys.
type Schema struct {
	Name string
	Keys []string
}

// JSONSchema renders the schema as a JSON Schema document.
func (s Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Keys))
	for _, k := range s.Keys {
		props[k] = map[string]any{"type": "string"}
	}
	required := make([]string, len(s.Keys))
	copy(required, s.Keys)
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             required,
	}
}

type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
	Schema      *Schema
}

type Response struct {
	Text      string
	Model     string
	TokensIn  int
	TokensOut int
}

type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (Response, error)

func (f ClientFunc) Complete(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

type disabled struct{}

func (disabled) Complete(context.Context, Request) (Response, error) {
	return Response{}, ErrDisabled
}

// New builds the client for the configured provider.
func New(s config.LLMSettings) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(s.Provider)) {
	case config.ProviderOpenAI, "":
		if s.APIKey == "" {
			return nil, fmt.Errorf("llm.api_key is required for provider %s", config.ProviderOpenAI)
		}
		return NewOpenAI(s), nil
	case config.ProviderAnthropic:
		if s.APIKey == "" {
			return nil, fmt.Errorf("llm.api_key is required for provider %s", config.ProviderAnthropic)
		}
		return NewAnthropic(s), nil
	case config.ProviderDisabled:
		return disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", s.Provider)
	}
}
