package pipeline

import (
	"context"
	"fmt"

	"github.com/chainlens-core/server/internal/agent/model"
	"github.com/chainlens-core/server/internal/agent/prompts"
	"github.com/chainlens-core/server/internal/agent/providers"
	"github.com/chainlens-core/server/internal/agent/retriever"
	logx "github.com/chainlens-core/server/pkg/logger"
)

// WebhookPipeline manages webhook subscriptions through the provider's
// webhook tools. Nothing is persisted.
type WebhookPipeline struct {
	lifecycle
	deps Deps

	retriever *retriever.Retriever
	tools     []model.ToolDescriptor
}

func NewWebhookPipeline(deps Deps) *WebhookPipeline {
	return &WebhookPipeline{lifecycle: lifecycle{name: "webhook pipeline"}, deps: deps}
}

func (p *WebhookPipeline) Initialize(ctx context.Context) error {
	return p.initialize(ctx, func(ctx context.Context) error {
		if err := requireModel("tool model", p.deps.ToolModel); err != nil {
			return err
		}
		provider, tools, err := resolveProvider(ctx, p.deps.Providers)
		if err != nil {
			return err
		}
		r, err := retriever.New(p.deps.ToolModel, provider, retriever.Config{
			Filter:       providers.IsWebhookTool,
			SystemPrompt: prompts.RenderWebhookSystem,
			Now:          p.deps.now(),
		})
		if err != nil {
			return err
		}
		p.retriever = r
		p.tools = nil
		for _, t := range tools {
			if providers.IsWebhookTool(t.Name) {
				p.tools = append(p.tools, t)
			}
		}
		logx.Info().Str("provider", provider.Name()).Int("webhook_tools", len(p.tools)).Msg("Webhook tools loaded")
		return nil
	})
}

// Available reports whether the snapshotted provider has webhook tools.
func (p *WebhookPipeline) Available() bool {
	n := 0
	_ = p.ready(func() { n = len(p.tools) })
	return n > 0
}

func (p *WebhookPipeline) HandleWebhook(ctx context.Context, prompt string, history []model.ConversationTurn) (*model.WebhookResult, error) {
	var (
		r     *retriever.Retriever
		tools int
	)
	if err := p.ready(func() { r, tools = p.retriever, len(p.tools) }); err != nil {
		return nil, err
	}
	if tools == 0 {
		return &model.WebhookResult{
			Success: false,
			Message: fmt.Sprintf("The %s provider has no webhook tools.", r.Provider()),
		}, nil
	}

	res := r.Retrieve(ctx, prompt, model.LastTurns(history, p.deps.ContextTurns))
	if res.Success {
		return &model.WebhookResult{Success: true, Results: res.Results}, nil
	}
	msg := res.Message
	if msg == "" {
		msg = res.Error
	}
	return &model.WebhookResult{Success: false, Results: res.Results, Message: msg}, nil
}
