package observers

import (
	"context"
	"strings"

	einocb "github.com/cloudwego/eino/callbacks"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	"github.com/chainlens-core/server/internal/agent/model"
	logx "github.com/chainlens-core/server/pkg/logger"
)

const maxLoggedContent = 500

// newModelHandler logs model calls at debug level, with token usage and cost.
func newModelHandler() *callbackHelper.ModelCallbackHandler {
	return &callbackHelper.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *einomodel.CallbackInput) context.Context {
			evt := logx.Debug().Str("component", info.Type).Str("name", info.Name)
			if input != nil {
				evt = evt.Int("messages", len(input.Messages)).
					Int("tools", len(input.Tools)).
					Str("user", truncate(lastUserContent(input.Messages)))
			}
			evt.Msg("Model start")
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *einomodel.CallbackOutput) context.Context {
			if output == nil || output.Message == nil {
				return ctx
			}
			msg := output.Message
			evt := logx.Debug().Str("component", info.Type).Str("name", info.Name).
				Int("tool_calls", len(msg.ToolCalls)).
				Str("assistant", truncate(msg.Content))
			if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
				name := info.Name
				if output.Config != nil && output.Config.Model != "" {
					name = output.Config.Model
				}
				_, _, total := model.ComputeCost(msg.ResponseMeta.Usage, model.ResolvePricing(name))
				evt = evt.Str("model", name).
					Int("prompt_tokens", msg.ResponseMeta.Usage.PromptTokens).
					Int("completion_tokens", msg.ResponseMeta.Usage.CompletionTokens).
					Float64("total_cost_usd", total)
			}
			evt.Msg("Model end")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Error().Err(err).Str("component", info.Type).Str("name", info.Name).Msg("Model error")
			return ctx
		},
	}
}

func lastUserContent(msgs []*schema.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m == nil || m.Role != schema.User {
			continue
		}
		if m.Content != "" {
			return strings.TrimSpace(m.Content)
		}
		for _, p := range m.MultiContent {
			if p.Type == schema.ChatMessagePartTypeText {
				return strings.TrimSpace(p.Text)
			}
		}
	}
	return ""
}

func truncate(s string) string {
	if len(s) <= maxLoggedContent {
		return s
	}
	return s[:maxLoggedContent] + "..."
}
