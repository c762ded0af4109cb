// Package router selects the action for a user message with a single
// function-calling model turn over the closed set of actions.
package router

import (
	"context"
	"errors"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/chainlens-core/server/internal/agent/graph/parsers"
	"github.com/chainlens-core/server/internal/agent/model"
	"github.com/chainlens-core/server/internal/agent/prompts"
	logx "github.com/chainlens-core/server/pkg/logger"
)

type Config struct {
	// WebhookEnabled offers USE_WEBHOOK; only set it when the provider has webhook tools.
	WebhookEnabled bool
	// ContextTurns is how many trailing turns the instruction quotes. 0 keeps all.
	ContextTurns int
}

type Router struct {
	chat einomodel.ToolCallingChatModel
	cfg  Config
	log  zerolog.Logger
}

func New(chat einomodel.ToolCallingChatModel, cfg Config) (*Router, error) {
	if chat == nil {
		return nil, errors.New("router: chat model is nil")
	}
	bound, err := chat.WithTools(ActionTools(cfg.WebhookEnabled))
	if err != nil {
		return nil, fmt.Errorf("router: bind actions: %w", err)
	}
	return &Router{chat: bound, cfg: cfg, log: logx.Component("router")}, nil
}

// Messages builds the router input: the instruction and the latest message.
func (r *Router) Messages(ctx context.Context, message string, history []model.ConversationTurn, mentioned []model.MentionedVisualization) ([]*schema.Message, error) {
	sys, err := prompts.RenderRouterSystem(ctx, prompts.RouterVars{
		Mentioned:      mentioned,
		History:        model.LastTurns(history, r.cfg.ContextTurns),
		WebhookEnabled: r.cfg.WebhookEnabled,
	})
	if err != nil {
		return nil, err
	}
	return []*schema.Message{schema.SystemMessage(sys), schema.UserMessage(message)}, nil
}

// Route returns the chosen action. A reply without a function call becomes
// general chat with the reply text.
func (r *Router) Route(ctx context.Context, message string, history []model.ConversationTurn, mentioned []model.MentionedVisualization) (model.Action, error) {
	msgs, err := r.Messages(ctx, message, history, mentioned)
	if err != nil {
		return model.Action{}, err
	}
	resp, err := r.chat.Generate(ctx, msgs)
	if err != nil {
		r.log.Error().Err(err).Msg("Router model call failed")
		return model.Action{}, fmt.Errorf("route message: %w", err)
	}
	return r.Parse(resp, message, mentioned)
}

// Parse converts a router reply. Exposed for the graph, which runs the model
// as its own node.
func (r *Router) Parse(resp *schema.Message, message string, mentioned []model.MentionedVisualization) (model.Action, error) {
	action, err := parsers.ParseAction(resp, message, mentioned)
	if err != nil {
		r.log.Error().Err(err).Msg("Error parsing router response")
		return model.Action{}, err
	}
	if action.Kind == model.ActionUseWebhook && !r.cfg.WebhookEnabled {
		r.log.Warn().Msg("Webhook action chosen without webhook tools")
		return model.NewGeneralChat("Webhooks are not supported by the current data provider."), nil
	}
	r.log.Debug().Str("action", string(action.Kind)).Int("mentioned", len(mentioned)).Msg("Action routed")
	return action, nil
}

// Chat returns the bound model, for wiring it as a graph node.
func (r *Router) Chat() einomodel.ToolCallingChatModel { return r.chat }

// ActionTools returns one function schema per action.
func ActionTools(webhook bool) []*schema.ToolInfo {
	tools := []*schema.ToolInfo{
		{
			Name: string(model.ActionAnalyzeGraph),
			Desc: "Analyze or explain one or more existing visualizations the user mentioned.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"img_paths": {
					Type:     schema.Array,
					Desc:     "Image paths of the visualizations to analyze.",
					ElemInfo: &schema.ParameterInfo{Type: schema.String},
					Required: true,
				},
				"aspect_to_cover": {
					Type:     schema.String,
					Desc:     "What the analysis should focus on.",
					Required: true,
				},
			}),
		},
		{
			Name: string(model.ActionRetrieveAndVisualize),
			Desc: "Fetch new on-chain or portfolio data and visualize it.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"information_needed": {
					Type:     schema.Array,
					Desc:     "Self-contained descriptions of each piece of data to retrieve, including addresses and chains.",
					ElemInfo: &schema.ParameterInfo{Type: schema.String},
					Required: true,
				},
			}),
		},
		{
			Name: string(model.ActionModifyVisualization),
			Desc: "Change an existing visualization the user mentioned without fetching new data.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"file_path": {
					Type:     schema.String,
					Desc:     "Data file of the visualization to modify.",
					Required: true,
				},
				"task": {
					Type:     schema.String,
					Desc:     "The change to make.",
					Required: true,
				},
			}),
		},
	}
	if webhook {
		tools = append(tools, &schema.ToolInfo{
			Name: string(model.ActionUseWebhook),
			Desc: "Create, inspect, update or delete webhook subscriptions, or read their notification history.",
		})
	}
	return append(tools, &schema.ToolInfo{
		Name: string(model.ActionGeneralChat),
		Desc: "Reply directly: small talk, questions unrelated to web3, or asking the user for missing details.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"message": {
				Type:     schema.String,
				Desc:     "The reply to the user.",
				Required: true,
			},
		}),
	})
}
