package main

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/chainlens-core/server/internal/agent/graph"
	"github.com/chainlens-core/server/internal/agent/graph/conversations"
	"github.com/chainlens-core/server/internal/agent/graph/nodes"
	"github.com/chainlens-core/server/internal/agent/model"
	"github.com/chainlens-core/server/internal/agent/pipeline"
	"github.com/chainlens-core/server/internal/agent/providers"
	"github.com/chainlens-core/server/internal/agent/repo"
	"github.com/chainlens-core/server/internal/agent/router"
	"github.com/chainlens-core/server/internal/agent/sandbox"
	"github.com/chainlens-core/server/internal/webhook"
	logx "github.com/chainlens-core/server/pkg/logger"
)

// stores are the persistence backends: Redis when REDIS_URL is set,
// in-memory otherwise.
type stores struct {
	conversations model.ConversationRepository
	events        webhook.EventLog
	rdb           *goredis.Client
}

func openStores(ctx context.Context, cfg AppConfig) (*stores, error) {
	if !cfg.Redis.Enabled() {
		logx.Info().Msg("REDIS_URL not set; using in-memory stores")
		return &stores{
			conversations: repo.NewMemoryConversationRepository(cfg.Conversation),
			events:        webhook.NewMemoryEventLog(cfg.Webhook.MaxEvents),
		}, nil
	}
	rdb, err := cfg.Redis.New(ctx)
	if err != nil {
		logx.Error().Err(err).Msg("Failed to initialise Redis client")
		return nil, fmt.Errorf("failed to initialise Redis client: %w", err)
	}
	logx.Info().Msg("Connected to Redis successfully")
	return &stores{
		conversations: repo.NewRedisConversationRepository(rdb, cfg.Conversation),
		events:        webhook.NewRedisEventLog(rdb, cfg.Webhook.MaxEvents),
		rdb:           rdb,
	}, nil
}

func (s *stores) Close() error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

// agent is the fully wired query runner. provider is the selection it was
// built on.
type agent struct {
	runner   graph.Runner
	provider string
	webhooks bool
}

// initializer is satisfied by every pipeline.
type initializer interface {
	Initialize(ctx context.Context) error
}

// newAgent builds models, pipelines and the graph on the provider currently
// chosen by selector. A pipeline that fails to initialize is logged and left
// uninitialized; its action then answers with an apology instead of taking the
// whole agent down.
func newAgent(ctx context.Context, cfg AppConfig, st *stores, selector *providers.Selector) (*agent, error) {
	models, err := nodes.NewChatModels(ctx, nodes.ChatModelConfig{
		LLM:        cfg.LLM,
		Router:     cfg.Router,
		Retriever:  cfg.Retriever,
		Visualizer: cfg.Visualizer,
		Analyzer:   cfg.Analyzer,
	})
	if err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Providers:     selector,
		ToolModel:     models.Retriever,
		PlotModel:     models.Visualizer,
		VisionModel:   models.Analyzer,
		ImageUploader: models.ImageUploader,
		Executor:      sandbox.NewRunner(cfg.Sandbox),
		Artifacts:     cfg.Artifacts,
		Visualizer:    cfg.Visualize,
		ContextTurns:  cfg.Conversation.ContextTurns,
	}
	vis := pipeline.NewVisualizationPipeline(deps)
	analysis := pipeline.NewAnalysisPipeline(deps)
	modifier := pipeline.NewModifierPipeline(deps)
	wh := pipeline.NewWebhookPipeline(deps)

	for name, p := range map[string]initializer{
		"visualization": vis,
		"analysis":      analysis,
		"modifier":      modifier,
		"webhook":       wh,
	} {
		if err := p.Initialize(ctx); err != nil {
			logx.Error().Err(err).Str("pipeline", name).Str("provider", selector.Current()).Msg("Pipeline initialization failed")
		}
	}

	r, err := router.New(models.Router, router.Config{
		WebhookEnabled: wh.Available(),
		ContextTurns:   cfg.Conversation.ContextTurns,
	})
	if err != nil {
		return nil, err
	}

	runner, err := graph.New(ctx, &graph.GraphConfig{
		Router:                r,
		RouterModelName:       models.RouterModelName,
		MessagesManager:       conversations.NewMessagesManager(st.conversations, cfg.Conversation),
		Visualization:         vis,
		Analysis:              analysis,
		Modifier:              modifier,
		Webhook:               wh,
		AnalyzeAfterVisualize: cfg.Visualize.AnalyzeAfterVisualize,
	})
	if err != nil {
		return nil, err
	}
	return &agent{runner: runner, provider: selector.Current(), webhooks: wh.Available()}, nil
}
