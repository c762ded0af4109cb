package graph

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/cloudwego/eino/compose"

	"github.com/chainlens-core/server/internal/agent/graph/conversations"
	"github.com/chainlens-core/server/internal/agent/graph/nodes"
	"github.com/chainlens-core/server/internal/agent/graph/observers"
	"github.com/chainlens-core/server/internal/agent/model"
	"github.com/chainlens-core/server/internal/agent/router"
	logx "github.com/chainlens-core/server/pkg/logger"
)

// maxRunSteps covers input, router, parser, one action and the finalizer.
const maxRunSteps = 20

// Runner executes the compiled graph for one user query.
type Runner interface {
	Invoke(ctx context.Context, in model.QueryInput) (*model.Reply, error)
}

// GraphConfig holds all configuration needed to build the graph
type GraphConfig struct {
	Router          *router.Router
	RouterModelName string
	MessagesManager *conversations.MessagesManager

	Visualization nodes.Visualizer
	Analysis      nodes.Analyst
	Modifier      nodes.Modifier
	Webhook       nodes.WebhookHandler

	AnalyzeAfterVisualize bool
}

// GraphBuilder handles the construction of the agent conversation graph
type GraphBuilder struct {
	config *GraphConfig
	graph  *compose.Graph[model.QueryInput, *model.Reply]
}

type graphRunner struct {
	runnable compose.Runnable[model.QueryInput, *model.Reply]
	mm       *conversations.MessagesManager
}

// Invoke runs the graph. Failures inside the graph come back as a chat-style
// reply; the error is still returned for the caller to log.
func (r *graphRunner) Invoke(ctx context.Context, in model.QueryInput) (*model.Reply, error) {
	out, err := r.runnable.Invoke(ctx, in, compose.WithCallbacks(observers.NewAllCallbacks()))
	if err != nil {
		logx.Error().Err(err).Str("conversation_id", in.ConversationID).Msg("Graph invocation failed")
		reply := &model.Reply{Action: model.ActionGeneralChat, Text: nodes.ErrorText(err), Error: err.Error()}
		if ctx.Err() == nil {
			if saveErr := r.mm.SaveResponse(ctx, in.ConversationID, reply.Text); saveErr != nil {
				logx.Error().Err(saveErr).Str("conversation_id", in.ConversationID).Msg("Error saving assistant response")
			}
		}
		return reply, err
	}
	if out == nil {
		return nil, fmt.Errorf("graph returned no reply")
	}
	logx.Debug().
		Str("conversation_id", in.ConversationID).
		Str("action", string(out.Action)).
		Bool("success", out.Success).
		Float64("total_cost_usd", out.CostUSD).
		Msg("Query answered")
	return out, nil
}

// New builds the graph and wraps it in a Runner.
func New(ctx context.Context, config *GraphConfig) (Runner, error) {
	runnable, err := BuildGraph(ctx, config)
	if err != nil {
		return nil, err
	}
	logx.Debug().Msg("Agent graph built successfully")
	return &graphRunner{runnable: runnable, mm: config.MessagesManager}, nil
}

// BuildGraph constructs and returns the compiled agent graph
func BuildGraph(ctx context.Context, config *GraphConfig) (compose.Runnable[model.QueryInput, *model.Reply], error) {
	if config == nil {
		return nil, fmt.Errorf("graph config is nil")
	}
	if config.Router == nil {
		return nil, fmt.Errorf("router is nil")
	}
	if config.MessagesManager == nil {
		return nil, fmt.Errorf("messages manager is nil")
	}
	if config.Visualization == nil || config.Analysis == nil || config.Modifier == nil || config.Webhook == nil {
		return nil, fmt.Errorf("pipelines are not properly initialized")
	}

	builder := &GraphBuilder{
		config: config,
		graph: compose.NewGraph[model.QueryInput, *model.Reply](
			compose.WithGenLocalState(func(ctx context.Context) *model.AppState {
				return &model.AppState{}
			}),
		),
	}

	if err := builder.addNodes(); err != nil {
		return nil, err
	}
	if err := builder.addEdges(); err != nil {
		return nil, err
	}
	if err := builder.addBranches(); err != nil {
		return nil, err
	}
	return builder.compile(ctx)
}

// addNodes adds all processing nodes to the graph
func (b *GraphBuilder) addNodes() error {
	c := b.config
	add := []func() error{
		func() error {
			return b.graph.AddLambdaNode(nodes.NodeInputConverter,
				nodes.NewInputConverterNode(c.MessagesManager, c.Router),
				compose.WithStatePreHandler(nodes.NewInputConverterPreHandler()),
			)
		},
		func() error {
			return b.graph.AddChatModelNode(nodes.NodeRouterChatModel,
				c.Router.Chat(),
				compose.WithStatePostHandler(nodes.NewUsagePostHandler(nodes.NodeRouterChatModel, c.RouterModelName)),
			)
		},
		func() error {
			return b.graph.AddLambdaNode(nodes.NodeActionParser,
				nodes.NewActionParserNode(c.Router),
				compose.WithStatePostHandler(nodes.NewActionParserPostHandler()),
			)
		},
		func() error { return b.graph.AddLambdaNode(nodes.NodeChat, nodes.NewChatNode()) },
		func() error {
			return b.graph.AddLambdaNode(nodes.NodeVisualize,
				nodes.NewVisualizeNode(c.Visualization, c.Analysis, c.AnalyzeAfterVisualize))
		},
		func() error { return b.graph.AddLambdaNode(nodes.NodeAnalyze, nodes.NewAnalyzeNode(c.Analysis)) },
		func() error { return b.graph.AddLambdaNode(nodes.NodeModify, nodes.NewModifyNode(c.Modifier)) },
		func() error { return b.graph.AddLambdaNode(nodes.NodeWebhook, nodes.NewWebhookNode(c.Webhook)) },
		func() error {
			return b.graph.AddLambdaNode(nodes.NodeReplyFinalizer,
				nodes.NewReplyFinalizerNode(),
				compose.WithStatePostHandler(nodes.NewReplyFinalizerPostHandler(c.MessagesManager)),
			)
		},
	}
	for _, f := range add {
		if err := f(); err != nil {
			logx.Error().Err(err).Msg("Error adding graph node")
			return fmt.Errorf("error adding graph node: %w", err)
		}
	}
	return nil
}

// addEdges creates the main flow connections between nodes
func (b *GraphBuilder) addEdges() error {
	edges := [][2]string{
		{compose.START, nodes.NodeInputConverter},
		{nodes.NodeInputConverter, nodes.NodeRouterChatModel},
		{nodes.NodeRouterChatModel, nodes.NodeActionParser},
		{nodes.NodeReplyFinalizer, compose.END},
	}
	for _, node := range slices.Sorted(maps.Keys(nodes.ActionNodes())) {
		edges = append(edges, [2]string{node, nodes.NodeReplyFinalizer})
	}

	for _, edge := range edges {
		if err := b.graph.AddEdge(edge[0], edge[1]); err != nil {
			logx.Error().Err(err).Str("from", edge[0]).Str("to", edge[1]).Msg("Error adding edge")
			return fmt.Errorf("error adding edge %s -> %s: %w", edge[0], edge[1], err)
		}
	}
	return nil
}

// addBranches creates conditional routing branches
func (b *GraphBuilder) addBranches() error {
	actionBranch := compose.NewGraphBranch(nodes.NewActionCondition(), nodes.ActionNodes())
	if err := b.graph.AddBranch(nodes.NodeActionParser, actionBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding action branch")
		return fmt.Errorf("error adding action branch: %w", err)
	}
	return nil
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[model.QueryInput, *model.Reply], error) {
	runnable, err := b.graph.Compile(ctx, compose.WithMaxRunSteps(maxRunSteps))
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Msg("Graph compiled successfully")
	return runnable, nil
}
