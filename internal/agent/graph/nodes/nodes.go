package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/chainlens-core/server/internal/agent/graph/conversations"
	"github.com/chainlens-core/server/internal/agent/model"
	"github.com/chainlens-core/server/internal/agent/pipeline"
	"github.com/chainlens-core/server/internal/agent/router"
	logx "github.com/chainlens-core/server/pkg/logger"
)

// Pipelines the action nodes call into. *pipeline.VisualizationPipeline and
// friends implement them.
type (
	Visualizer interface {
		GenerateVisualization(ctx context.Context, prompt string, history []model.ConversationTurn) (*model.PipelineResult, error)
	}
	Analyst interface {
		AnalyzeGraph(ctx context.Context, imagePaths []string, prompt, aspect string, history []model.ConversationTurn) (string, error)
	}
	Modifier interface {
		ModifyVisualization(ctx context.Context, req pipeline.ModifyRequest) (*model.PipelineResult, error)
	}
	WebhookHandler interface {
		HandleWebhook(ctx context.Context, prompt string, history []model.ConversationTurn) (*model.WebhookResult, error)
	}
)

// turnContext is the slice of AppState an action node needs.
type turnContext struct {
	query     string
	history   []model.ConversationTurn
	mentioned []model.MentionedVisualization
}

func loadTurn(ctx context.Context) (turnContext, error) {
	var tc turnContext
	err := compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
		tc = turnContext{query: state.Query, history: state.History, mentioned: state.Mentioned}
		return nil
	})
	if err != nil {
		return tc, fmt.Errorf("failed to access state: %w", err)
	}
	return tc, nil
}

// NewInputConverterPreHandler creates the pre-handler for InputConverter node
func NewInputConverterPreHandler() func(context.Context, model.QueryInput, *model.AppState) (model.QueryInput, error) {
	return func(ctx context.Context, in model.QueryInput, s *model.AppState) (model.QueryInput, error) {
		s.ConversationID = in.ConversationID
		s.Query = in.Query
		s.Mentioned = in.Mentioned
		s.Action = nil
		// Reset accumulated total cost for each new query
		s.TotalCostUSD = 0
		return in, nil
	}
}

// NewInputConverterNode stores the user turn and builds the router context.
func NewInputConverterNode(mm *conversations.MessagesManager, r *router.Router) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, input model.QueryInput) ([]*schema.Message, error) {
		history, err := mm.BeginTurn(ctx, input.ConversationID, input.Query)
		if err != nil {
			return nil, fmt.Errorf("error getting conversation context: %w", err)
		}
		if err := compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
			state.History = history
			return nil
		}); err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}

		messages, err := r.Messages(ctx, input.Query, history, input.Mentioned)
		if err != nil {
			return nil, fmt.Errorf("render router messages: %w", err)
		}
		return messages, nil
	})
}

// NewUsagePostHandler computes and logs usage cost for a chat model node.
func NewUsagePostHandler(node, modelName string) func(context.Context, *schema.Message, *model.AppState) (*schema.Message, error) {
	return func(ctx context.Context, out *schema.Message, state *model.AppState) (*schema.Message, error) {
		if out != nil && out.ResponseMeta != nil && out.ResponseMeta.Usage != nil {
			pricing := model.ResolvePricing(modelName)
			inC, outC, totalC := model.ComputeCost(out.ResponseMeta.Usage, pricing)
			if out.Extra == nil {
				out.Extra = map[string]any{}
			}
			out.Extra["usage_cost"] = map[string]any{
				"currency":          "USD",
				"model":             modelName,
				"prompt_tokens":     out.ResponseMeta.Usage.PromptTokens,
				"completion_tokens": out.ResponseMeta.Usage.CompletionTokens,
				"total_tokens":      out.ResponseMeta.Usage.TotalTokens,
				"input_cost":        inC,
				"output_cost":       outC,
				"total_cost":        totalC,
			}
			logx.Debug().
				Str("conversation_id", state.ConversationID).
				Str("node", node).
				Str("model", modelName).
				Int("prompt_tokens", out.ResponseMeta.Usage.PromptTokens).
				Int("completion_tokens", out.ResponseMeta.Usage.CompletionTokens).
				Int("total_tokens", out.ResponseMeta.Usage.TotalTokens).
				Float64("input_cost_usd", inC).
				Float64("output_cost_usd", outC).
				Float64("total_cost_usd", totalC).
				Msg("LLM usage")

			state.TotalCostUSD += totalC
			out.Extra["usage_cost_total_usd"] = state.TotalCostUSD
		}
		return out, nil
	}
}

// NewActionParserNode turns the router reply into an Action. A reply that
// cannot be parsed becomes a general chat explaining the problem.
func NewActionParserNode(r *router.Router) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, resp *schema.Message) (model.Action, error) {
		tc, err := loadTurn(ctx)
		if err != nil {
			return model.Action{}, err
		}
		action, err := r.Parse(resp, tc.query, tc.mentioned)
		if err != nil {
			logx.Error().Err(err).Msg("Error parsing router response")
			return model.NewGeneralChat(ErrorText(err)), nil
		}
		return action, nil
	})
}

// NewActionParserPostHandler records the chosen action in state.
func NewActionParserPostHandler() func(context.Context, model.Action, *model.AppState) (model.Action, error) {
	return func(ctx context.Context, out model.Action, state *model.AppState) (model.Action, error) {
		action := out
		state.Action = &action
		logx.Debug().
			Str("conversation_id", state.ConversationID).
			Str("action", string(out.Kind)).
			Msg("Action selected")
		return out, nil
	}
}

// NewActionCondition routes to the node serving the action kind.
func NewActionCondition() func(context.Context, model.Action) (string, error) {
	return func(ctx context.Context, input model.Action) (string, error) {
		node, ok := actionNodes[input.Kind]
		if !ok {
			logx.Warn().Str("action", string(input.Kind)).Msg("Unknown action - routing to general chat")
			return NodeChat, nil
		}
		logx.Debug().Str("action", string(input.Kind)).Str("node", node).Msg("Routing action")
		return node, nil
	}
}

func NewChatNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, a model.Action) (*model.Reply, error) {
		text := ""
		if a.GeneralChat != nil {
			text = a.GeneralChat.Message
		}
		return &model.Reply{Action: model.ActionGeneralChat, Text: text, Success: true}, nil
	})
}

// NewVisualizeNode builds one visualization per requested piece of
// information. With analyzeAfter set, the rendered figures are then analyzed
// together and the analysis becomes the reply text.
func NewVisualizeNode(vis Visualizer, analyst Analyst, analyzeAfter bool) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, a model.Action) (*model.Reply, error) {
		tc, err := loadTurn(ctx)
		if err != nil {
			return nil, err
		}
		var items []string
		if a.RetrieveAndVisualize != nil {
			for _, s := range a.RetrieveAndVisualize.InformationNeeded {
				if s = strings.TrimSpace(s); s != "" {
					items = append(items, s)
				}
			}
		}
		if len(items) == 0 {
			items = []string{tc.query}
		}

		reply := &model.Reply{Action: model.ActionRetrieveAndVisualize}
		var pngs []string
		for _, item := range items {
			res, err := vis.GenerateVisualization(ctx, item, tc.history)
			if err != nil {
				return errorReply(model.ActionRetrieveAndVisualize, err), nil
			}
			reply.Visualizations = append(reply.Visualizations, *res)
			if res.Success {
				pngs = append(pngs, res.OutputPNGPath)
			} else if reply.Error == "" {
				reply.Error = res.Error
			}
		}
		reply.Success = len(pngs) > 0
		reply.Text = summarizeVisualizations(items, reply.Visualizations)

		if !analyzeAfter || analyst == nil || len(pngs) == 0 {
			return reply, nil
		}
		analysis, err := analyst.AnalyzeGraph(ctx, pngs, tc.query, "", tc.history)
		if err != nil {
			logx.Warn().Err(err).Int("figures", len(pngs)).Msg("Analysis after visualization failed")
			return reply, nil
		}
		reply.Text = analysis
		return reply, nil
	})
}

func NewAnalyzeNode(analyst Analyst) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, a model.Action) (*model.Reply, error) {
		tc, err := loadTurn(ctx)
		if err != nil {
			return nil, err
		}
		var paths []string
		aspect := tc.query
		if a.AnalyzeGraph != nil {
			paths = a.AnalyzeGraph.ImagePaths
			if a.AnalyzeGraph.Aspect != "" {
				aspect = a.AnalyzeGraph.Aspect
			}
		}
		text, err := analyst.AnalyzeGraph(ctx, paths, tc.query, aspect, tc.history)
		if err != nil {
			logx.Error().Err(err).Strs("img_paths", paths).Msg("Error analyzing graph")
			return errorReply(model.ActionAnalyzeGraph, err), nil
		}
		return &model.Reply{Action: model.ActionAnalyzeGraph, Text: text, Success: true}, nil
	})
}

// NewModifyNode looks up the mentioned visualization the action points at so
// the modifier sees the original figure.
func NewModifyNode(mod Modifier) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, a model.Action) (*model.Reply, error) {
		tc, err := loadTurn(ctx)
		if err != nil {
			return nil, err
		}
		req := pipeline.ModifyRequest{Prompt: tc.query, Task: tc.query, History: tc.history}
		if a.ModifyVisualization != nil {
			req.FilePath = a.ModifyVisualization.FilePath
			if a.ModifyVisualization.Task != "" {
				req.Task = a.ModifyVisualization.Task
			}
		}
		if m := findMentioned(tc.mentioned, req.FilePath); m != nil {
			if m.FilePath != "" {
				req.FilePath = m.FilePath
			}
			req.OriginalFigJSON = m.JSONData
			req.OriginalPNGPath = m.PNGPath
		}

		res, err := mod.ModifyVisualization(ctx, req)
		if err != nil {
			return errorReply(model.ActionModifyVisualization, err), nil
		}
		reply := &model.Reply{
			Action:         model.ActionModifyVisualization,
			Success:        res.Success,
			Error:          res.Error,
			Visualizations: []model.PipelineResult{*res},
		}
		if res.Success {
			reply.Text = fmt.Sprintf("Updated the visualization: %s", req.Task)
		} else {
			reply.Text = "Sorry, I couldn't modify the visualization. " + res.Error
		}
		return reply, nil
	})
}

func NewWebhookNode(wh WebhookHandler) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, a model.Action) (*model.Reply, error) {
		tc, err := loadTurn(ctx)
		if err != nil {
			return nil, err
		}
		res, err := wh.HandleWebhook(ctx, tc.query, tc.history)
		if err != nil {
			return errorReply(model.ActionUseWebhook, err), nil
		}
		reply := &model.Reply{
			Action:      model.ActionUseWebhook,
			Success:     res.Success,
			ToolResults: res.Results,
			Text:        summarizeWebhook(res),
		}
		if !res.Success {
			reply.Error = res.Message
		}
		return reply, nil
	})
}

// NewReplyFinalizerNode passes the reply through; its post handler persists it.
func NewReplyFinalizerNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, r *model.Reply) (*model.Reply, error) {
		return r, nil
	})
}

// NewReplyFinalizerPostHandler saves the assistant turn and stamps the cost.
func NewReplyFinalizerPostHandler(mm *conversations.MessagesManager) func(context.Context, *model.Reply, *model.AppState) (*model.Reply, error) {
	return func(ctx context.Context, out *model.Reply, state *model.AppState) (*model.Reply, error) {
		if out == nil {
			return out, nil
		}
		out.CostUSD = state.TotalCostUSD
		if err := mm.SaveResponse(ctx, state.ConversationID, out.Text); err != nil {
			logx.Error().
				Str("conversation_id", state.ConversationID).
				Err(err).
				Msg("Error saving assistant response")
		} else {
			logx.Debug().
				Str("conversation_id", state.ConversationID).
				Str("action", string(out.Action)).
				Msg("Saved assistant response")
		}
		return out, nil
	}
}
