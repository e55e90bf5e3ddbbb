// Package generation turns a task into model output sections.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"anagami/internal/config"
	"anagami/internal/llm"
	"anagami/internal/metrics"
	"anagami/internal/platform/logger"
	"anagami/internal/prompt"
	"anagami/internal/retrieval"
	"anagami/internal/usage"
)

const schemaName = "sales_proposal"

var ErrUnknownModule = errors.New("unknown module")

// ModelError covers every failure of the model step: transport, timeout and
// unusable output.
type ModelError struct {
	Op  string
	Err error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model %s: %v", e.Op, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

type Input struct {
	Module     string
	Language   string
	InputText  string
	Company    string
	Industry   string
	Budget     string
	Timeline   string
	ActorID    string
	Endpoint   string
	Structured bool
}

type Section struct {
	Type    string `json:"section_type"`
	Content string `json:"content"`
}

type Usage struct {
	Model     string `json:"model"`
	TokensIn  int    `json:"tokens_in"`
	TokensOut int    `json:"tokens_out"`
}

type Output struct {
	Module   string
	Mode     string
	Sections []Section
	Usage    Usage
}

// Value returns the content of the named section.
func (o Output) Value(sectionType string) string {
	for _, s := range o.Sections {
		if s.Type == sectionType {
			return s.Content
		}
	}
	return ""
}

type Orchestrator struct {
	Catalog   *config.Catalog
	Prompts   prompt.Resolver
	Retriever retrieval.Retriever
	LLM       llm.Client
	Usage     *usage.Logger
	Metrics   *metrics.Metrics
	Log       *logger.Logger
	Settings  config.LLMSettings
}

// Generate resolves prompt and context, calls the model and normalizes its
// output to the module's labels. It writes nothing except usage telemetry.
func (o Orchestrator) Generate(ctx context.Context, in Input) (Output, error) {
	m, ok := o.Catalog.Module(in.Module)
	if !ok || m.Internal {
		return Output{}, fmt.Errorf("%w: %s", ErrUnknownModule, in.Module)
	}
	if in.Language == "" {
		in.Language = "bg"
	}
	mode := m.Mode
	if in.Structured {
		mode = config.ModeStructured
	}
	log := logger.OrNop(o.Log).With("module", m.Code, "language", in.Language, "mode", mode)
	o.Metrics.RecordGeneration(m.Code)

	system := o.Prompts.ResolveSystem(ctx, m.Code, in.Language)
	bundle := o.Retriever.Context(ctx, m.Code, in.Language, in.InputText)
	req := llm.Request{
		System:      system,
		User:        BuildUserMessage(in, m, mode, bundle),
		Temperature: o.Settings.Temperature,
		MaxTokens:   o.Settings.MaxTokens,
	}
	if mode == config.ModeStructured {
		keys := make([]string, 0, len(m.Labels))
		for _, l := range m.Labels {
			keys = append(keys, l.JSONKey())
		}
		req.Schema = &llm.Schema{Name: schemaName, Keys: keys}
	}

	resp, err := o.complete(ctx, req)
	if err != nil {
		o.Metrics.RecordGenerationError(m.Code, "model")
		log.Error("model call failed", "error", err)
		return Output{}, err
	}

	var values map[string]string
	if mode == config.ModeStructured {
		values, err = ParseStructured(resp.Text, m.Labels)
		if err != nil {
			o.Metrics.RecordGenerationError(m.Code, "parse")
			log.Error("model output rejected", "error", err)
			return Output{}, &ModelError{Op: "parse", Err: err}
		}
		if m.HasLabel("pricing") && (strings.TrimSpace(in.Budget) == "" || strings.TrimSpace(in.Timeline) == "") {
			values["pricing"] = AppendDisclaimer(values["pricing"], in.Language)
		}
	} else {
		values = ParseLabeled(resp.Text, m.Labels)
	}

	out := Output{
		Module:   m.Code,
		Mode:     mode,
		Sections: make([]Section, 0, len(m.Labels)),
		Usage:    Usage{Model: resp.Model, TokensIn: resp.TokensIn, TokensOut: resp.TokensOut},
	}
	for _, l := range m.Labels {
		out.Sections = append(out.Sections, Section{Type: l.Key, Content: strings.TrimSpace(values[l.Key])})
	}
	o.Usage.Record(ctx, usage.Entry{
		Endpoint:  in.Endpoint,
		ActorID:   in.ActorID,
		Model:     resp.Model,
		TokensIn:  resp.TokensIn,
		TokensOut: resp.TokensOut,
	})
	log.Debug("generation complete", "tokens_in", resp.TokensIn, "tokens_out", resp.TokensOut)
	return out, nil
}

func (o Orchestrator) complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if o.LLM == nil {
		return llm.Response{}, &ModelError{Op: "complete", Err: llm.ErrDisabled}
	}
	callCtx := ctx
	if o.Settings.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.Settings.Timeout)
		defer cancel()
	}
	start := time.Now()
	resp, err := o.LLM.Complete(callCtx, req)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("timed out after %s: %w", o.Settings.Timeout, err)
		}
		return llm.Response{}, &ModelError{Op: "complete", Err: err}
	}
	o.Metrics.RecordModelCall(time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)
	if strings.TrimSpace(resp.Text) == "" {
		return llm.Response{}, &ModelError{Op: "complete", Err: errors.New("no model output")}
	}
	if resp.Model == "" {
		resp.Model = o.Settings.Model
	}
	return resp, nil
}
