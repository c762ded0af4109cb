// Package retriever runs the tool-invocation loop: one tool-calling model turn,
// sequential fail-fast execution and a persisted dataset artifact.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/chainlens-core/server/internal/agent/model"
	"github.com/chainlens-core/server/internal/agent/normalize"
	"github.com/chainlens-core/server/internal/agent/prompts"
	"github.com/chainlens-core/server/internal/agent/providers"
	errx "github.com/chainlens-core/server/internal/core/error"
	logx "github.com/chainlens-core/server/pkg/logger"
)

// NoToolMessage is the error reported when the model answers without a tool call.
const NoToolMessage = "no tool was invoked"

// SystemPromptFunc renders the system instruction for a provider.
type SystemPromptFunc func(ctx context.Context, provider string) (string, error)

type Config struct {
	// Store persists datasets; nil disables persistence.
	Store *DatasetStore
	// Filter restricts the tools offered to the model; nil offers all.
	Filter func(name string) bool
	// SystemPrompt defaults to the retriever instruction.
	SystemPrompt SystemPromptFunc
	Now          func() time.Time
}

type Retriever struct {
	chat     einomodel.ToolCallingChatModel
	provider providers.Provider
	cfg      Config
	log      zerolog.Logger
}

// New snapshots provider; later provider switches do not affect this Retriever.
func New(chat einomodel.ToolCallingChatModel, provider providers.Provider, cfg Config) (*Retriever, error) {
	if chat == nil {
		return nil, errors.New("retriever: chat model is nil")
	}
	if provider == nil {
		return nil, errors.New("retriever: provider is nil")
	}
	if cfg.SystemPrompt == nil {
		cfg.SystemPrompt = prompts.RenderRetrieverSystem
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Retriever{
		chat:     chat,
		provider: provider,
		cfg:      cfg,
		log:      logx.Component("retriever").With().Str("provider", provider.Name()).Logger(),
	}, nil
}

func (r *Retriever) Provider() string { return r.provider.Name() }

// Tools lists the tools the model is offered.
func (r *Retriever) Tools(ctx context.Context) ([]model.ToolDescriptor, error) {
	all, err := r.provider.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	if r.cfg.Filter == nil {
		return all, nil
	}
	out := make([]model.ToolDescriptor, 0, len(all))
	for _, d := range all {
		if r.cfg.Filter(d.Name) {
			out = append(out, d)
		}
	}
	return out, nil
}

type parsedCall struct {
	name string
	args map[string]any
}

// Retrieve never returns a Go error: failures are reported in the result with
// Err holding the typed cause.
func (r *Retriever) Retrieve(ctx context.Context, prompt string, history []model.ConversationTurn) *model.RetrievalResult {
	start := r.cfg.Now()

	tools, err := r.Tools(ctx)
	if err != nil {
		return r.fail(err, "list tools")
	}

	msgs, err := r.buildMessages(ctx, prompt, history)
	if err != nil {
		return r.fail(err, "build messages")
	}

	chat := r.chat
	if len(tools) > 0 {
		if chat, err = r.chat.WithTools(providers.ToolInfos(tools)); err != nil {
			return r.fail(fmt.Errorf("bind tools: %w", err), "bind tools")
		}
	}

	resp, err := chat.Generate(ctx, msgs)
	if err != nil {
		return r.fail(fmt.Errorf("tool selection: %w", err), "tool selection")
	}
	if resp == nil || len(resp.ToolCalls) == 0 {
		content := ""
		if resp != nil {
			content = strings.TrimSpace(resp.Content)
		}
		r.log.Info().Str("prompt", prompt).Msg("Model answered without calling a tool")
		return &model.RetrievalResult{Success: false, Error: NoToolMessage, Message: content}
	}

	calls, err := parseCalls(resp.ToolCalls)
	if err != nil {
		return r.fail(err, "parse arguments")
	}

	offered := make(map[string]bool, len(tools))
	for _, d := range tools {
		offered[d.Name] = true
	}

	results := make([]model.ToolInvocationResult, 0, len(calls))
	var records []map[string]any
	for i, c := range calls {
		var raw any
		if !offered[c.name] {
			// only offered tools run, whatever the provider itself serves
			err = errx.ToolNotFound(c.name)
		} else {
			r.log.Info().Int("index", i).Str("tool", c.name).Interface("arguments", c.args).Msg("Executing tool")
			raw, err = r.provider.CallTool(ctx, c.name, c.args)
		}
		if err != nil {
			r.log.Error().Err(err).
				Str("tool", c.name).
				Interface("arguments", c.args).
				Int("index", i).
				Int("skipped", len(calls)-i-1).
				Msg("Tool call failed, aborting remaining calls")
			return &model.RetrievalResult{
				Success: false,
				Error:   err.Error(),
				Results: append(results, model.ToolInvocationResult{ToolName: c.name, Arguments: c.args, Error: err.Error()}),
				Err:     err,
			}
		}
		value := normalize.CoerceNumericStrings(raw)
		results = append(results, model.ToolInvocationResult{ToolName: c.name, Arguments: c.args, Result: value})
		records = append(records, normalize.Records(c.name, value)...)
	}

	ds := &model.RetrievedDataset{
		Prompt:      prompt,
		Timestamp:   start,
		ToolResults: results,
		Records:     records,
	}
	out := &model.RetrievalResult{Success: true, Results: results, Dataset: ds}

	if r.cfg.Store != nil {
		path, err := r.cfg.Store.Save(ds)
		if err != nil {
			return r.fail(err, "persist dataset")
		}
		ds.FilePath = path
		out.FilePath = path
	}

	r.log.Info().
		Int("tool_calls", len(results)).
		Int("records", len(records)).
		Str("file_path", out.FilePath).
		Dur("elapsed", r.cfg.Now().Sub(start)).
		Msg("Retrieval complete")
	return out
}

func (r *Retriever) buildMessages(ctx context.Context, prompt string, history []model.ConversationTurn) ([]*schema.Message, error) {
	sys, err := r.cfg.SystemPrompt(ctx, r.provider.Name())
	if err != nil {
		return nil, err
	}
	// working copy: the caller's history is never modified
	working := append(model.LastTurns(history, 0), model.ConversationTurn{Role: model.RoleUser, Content: prompt})
	msgs := make([]*schema.Message, 0, len(working)+1)
	msgs = append(msgs, schema.SystemMessage(sys))
	msgs = append(msgs, model.ToMessages(working)...)
	return msgs, nil
}

// parseCalls decodes every call's arguments before anything runs.
func parseCalls(calls []schema.ToolCall) ([]parsedCall, error) {
	out := make([]parsedCall, 0, len(calls))
	for _, tc := range calls {
		name := strings.TrimSpace(tc.Function.Name)
		raw := strings.TrimSpace(tc.Function.Arguments)
		if raw == "" {
			out = append(out, parsedCall{name: name, args: map[string]any{}})
			continue
		}
		v, err := normalize.DecodeJSONBytes([]byte(raw))
		if err != nil {
			return nil, errx.ArgumentParse(name, err)
		}
		args, ok := v.(map[string]any)
		if !ok {
			return nil, errx.ArgumentParse(name, fmt.Errorf("arguments must be a JSON object, got %T", v))
		}
		out = append(out, parsedCall{name: name, args: args})
	}
	return out, nil
}

func (r *Retriever) fail(err error, stage string) *model.RetrievalResult {
	r.log.Error().Err(err).Str("stage", stage).Msg("Retrieval failed")
	return &model.RetrievalResult{Success: false, Error: err.Error(), Err: err}
}
