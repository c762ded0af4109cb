package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainlens-core/server/internal/agent/graph/conversations"
	"github.com/chainlens-core/server/internal/agent/graph/nodes"
	"github.com/chainlens-core/server/internal/agent/llmtest"
	"github.com/chainlens-core/server/internal/agent/model"
	"github.com/chainlens-core/server/internal/agent/pipeline"
	"github.com/chainlens-core/server/internal/agent/repo"
	"github.com/chainlens-core/server/internal/agent/router"
	errx "github.com/chainlens-core/server/internal/core/error"
)

type stubVisualizer struct {
	prompts []string
	fail    map[string]string
}

func (s *stubVisualizer) GenerateVisualization(_ context.Context, prompt string, _ []model.ConversationTurn) (*model.PipelineResult, error) {
	s.prompts = append(s.prompts, prompt)
	if msg, ok := s.fail[prompt]; ok {
		return &model.PipelineResult{Success: false, Error: msg}, nil
	}
	return &model.PipelineResult{
		Success:       true,
		FilePath:      "data/" + prompt + ".json",
		FigJSON:       `{"data":[]}`,
		OutputPNGPath: "vis/" + prompt + ".png",
	}, nil
}

type stubAnalyst struct {
	paths  []string
	aspect string
	reply  string
	err    error
}

func (s *stubAnalyst) AnalyzeGraph(_ context.Context, paths []string, _, aspect string, _ []model.ConversationTurn) (string, error) {
	s.paths, s.aspect = paths, aspect
	return s.reply, s.err
}

type stubModifier struct {
	req pipeline.ModifyRequest
}

func (s *stubModifier) ModifyVisualization(_ context.Context, req pipeline.ModifyRequest) (*model.PipelineResult, error) {
	s.req = req
	return &model.PipelineResult{Success: true, FilePath: req.FilePath, OutputPNGPath: "vis/modified.png", FigJSON: "{}"}, nil
}

type stubWebhook struct {
	res *model.WebhookResult
	err error
}

func (s *stubWebhook) HandleWebhook(context.Context, string, []model.ConversationTurn) (*model.WebhookResult, error) {
	return s.res, s.err
}

type fixture struct {
	chat     *llmtest.ChatModel
	repo     *repo.MemoryConversationRepository
	vis      *stubVisualizer
	analyst  *stubAnalyst
	modifier *stubModifier
	webhook  *stubWebhook
	runner   Runner
}

func newFixture(t *testing.T, replies ...*schema.Message) *fixture {
	t.Helper()
	f := &fixture{
		chat:     &llmtest.ChatModel{Replies: replies},
		repo:     repo.NewMemoryConversationRepository(model.ConversationConfig{MaxTurns: 20}),
		vis:      &stubVisualizer{},
		analyst:  &stubAnalyst{reply: "Balances rose steadily."},
		modifier: &stubModifier{},
		webhook:  &stubWebhook{res: &model.WebhookResult{Success: true}},
	}
	f.build(t, nil)
	return f
}

func (f *fixture) build(t *testing.T, vis nodes.Visualizer) {
	t.Helper()
	r, err := router.New(f.chat, router.Config{WebhookEnabled: true, ContextTurns: 3})
	require.NoError(t, err)
	var v nodes.Visualizer = f.vis
	if vis != nil {
		v = vis
	}
	runner, err := New(context.Background(), &GraphConfig{
		Router:                r,
		RouterModelName:       "gemini-2.5-flash",
		MessagesManager:       conversations.NewMessagesManager(f.repo, model.ConversationConfig{MaxTurns: 20}),
		Visualization:         v,
		Analysis:              f.analyst,
		Modifier:              f.modifier,
		Webhook:               f.webhook,
		AnalyzeAfterVisualize: true,
	})
	require.NoError(t, err)
	f.runner = runner
}

func (f *fixture) history(t *testing.T, id string) []model.ConversationTurn {
	t.Helper()
	h, err := f.repo.History(context.Background(), id)
	require.NoError(t, err)
	return h
}

func TestGeneralChatStoresBothTurns(t *testing.T) {
	f := newFixture(t, schema.AssistantMessage("Hi! Ask me about any wallet.", nil))

	reply, err := f.runner.Invoke(context.Background(), model.QueryInput{ConversationID: "c1", Query: "hello"})
	require.NoError(t, err)
	assert.Equal(t, model.ActionGeneralChat, reply.Action)
	assert.True(t, reply.Success)
	assert.Equal(t, "Hi! Ask me about any wallet.", reply.Text)

	assert.Equal(t, []model.ConversationTurn{
		{Role: model.RoleUser, Content: "hello"},
		{Role: model.RoleAssistant, Content: "Hi! Ask me about any wallet."},
	}, f.history(t, "c1"))
}

func TestRouterSeesEarlierTurns(t *testing.T) {
	f := newFixture(t,
		schema.AssistantMessage("Which chain?", nil),
		schema.AssistantMessage("Got it.", nil),
	)
	ctx := context.Background()
	_, err := f.runner.Invoke(ctx, model.QueryInput{ConversationID: "c1", Query: "show my USDC balance"})
	require.NoError(t, err)
	_, err = f.runner.Invoke(ctx, model.QueryInput{ConversationID: "c1", Query: "ethereum"})
	require.NoError(t, err)

	calls := f.chat.Calls()
	require.Len(t, calls, 2)
	sys := calls[1][0].Content
	assert.Contains(t, sys, "user: show my USDC balance")
	assert.Contains(t, sys, "assistant: Which chain?")
	assert.Equal(t, "ethereum", llmtest.LastUserText(calls[1]))
	assert.Len(t, f.history(t, "c1"), 4)
}

func TestVisualizeEachItemThenAnalyze(t *testing.T) {
	f := newFixture(t, llmtest.ToolCalls(string(model.ActionRetrieveAndVisualize),
		`{"information_needed":["USDC balance of 0x1","USDC transfers of 0x1"]}`))

	reply, err := f.runner.Invoke(context.Background(), model.QueryInput{ConversationID: "c1", Query: "chart my USDC"})
	require.NoError(t, err)
	assert.Equal(t, model.ActionRetrieveAndVisualize, reply.Action)
	assert.True(t, reply.Success)
	assert.Equal(t, []string{"USDC balance of 0x1", "USDC transfers of 0x1"}, f.vis.prompts)
	require.Len(t, reply.Visualizations, 2)
	assert.Equal(t, []string{"vis/USDC balance of 0x1.png", "vis/USDC transfers of 0x1.png"}, f.analyst.paths)
	assert.Equal(t, "Balances rose steadily.", reply.Text)

	h := f.history(t, "c1")
	assert.Equal(t, "Balances rose steadily.", h[len(h)-1].Content)
}

func TestVisualizeKeepsFailuresAndSkipsAnalysis(t *testing.T) {
	f := newFixture(t, llmtest.ToolCalls(string(model.ActionRetrieveAndVisualize), `{"information_needed":["gas"]}`))
	f.vis.fail = map[string]string{"gas": "plot generation failed after 3 attempt(s)"}

	reply, err := f.runner.Invoke(context.Background(), model.QueryInput{ConversationID: "c1", Query: "gas"})
	require.NoError(t, err)
	assert.False(t, reply.Success)
	assert.Equal(t, "plot generation failed after 3 attempt(s)", reply.Error)
	assert.Contains(t, reply.Text, `Could not visualize "gas"`)
	assert.Nil(t, f.analyst.paths)
}

func TestAnalyzeUsesMentionedImages(t *testing.T) {
	f := newFixture(t, llmtest.ToolCalls(string(model.ActionAnalyzeGraph), `{"img_paths":[],"aspect_to_cover":"trend"}`))

	reply, err := f.runner.Invoke(context.Background(), model.QueryInput{
		ConversationID: "c1",
		Query:          "what does this show?",
		Mentioned:      []model.MentionedVisualization{{VisualizationID: "v1", PNGPath: "vis/a.png", FilePath: "data/a.json"}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.ActionAnalyzeGraph, reply.Action)
	assert.Equal(t, []string{"vis/a.png"}, f.analyst.paths)
	assert.Equal(t, "trend", f.analyst.aspect)
	assert.Equal(t, "Balances rose steadily.", reply.Text)
}

func TestModifyPassesOriginalFigure(t *testing.T) {
	f := newFixture(t, llmtest.ToolCalls(string(model.ActionModifyVisualization), `{"file_path":"data/a.json","task":"use a log scale"}`))

	reply, err := f.runner.Invoke(context.Background(), model.QueryInput{
		ConversationID: "c1",
		Query:          "log scale please",
		Mentioned: []model.MentionedVisualization{
			{VisualizationID: "v1", PNGPath: "vis/a.png", FilePath: "data/a.json", JSONData: `{"layout":{}}`},
			{VisualizationID: "v2", PNGPath: "vis/b.png", FilePath: "data/b.json"},
		},
	})
	require.NoError(t, err)
	assert.True(t, reply.Success)
	assert.Equal(t, pipeline.ModifyRequest{
		Prompt:          "log scale please",
		Task:            "use a log scale",
		FilePath:        "data/a.json",
		OriginalFigJSON: `{"layout":{}}`,
		OriginalPNGPath: "vis/a.png",
		History:         []model.ConversationTurn{},
	}, f.modifier.req)
	require.Len(t, reply.Visualizations, 1)
	assert.Equal(t, "vis/modified.png", reply.Visualizations[0].OutputPNGPath)
}

func TestWebhookReply(t *testing.T) {
	f := newFixture(t, llmtest.ToolCalls(string(model.ActionUseWebhook), `{}`))
	f.webhook.res = &model.WebhookResult{Success: true, Results: []model.ToolInvocationResult{
		{ToolName: "create_webhook", Arguments: map[string]any{"event_type": "ADDRESS_ACTIVITY"}, Result: map[string]any{"subscriptionId": "s1"}},
	}}

	reply, err := f.runner.Invoke(context.Background(), model.QueryInput{ConversationID: "c1", Query: "watch 0x1"})
	require.NoError(t, err)
	assert.Equal(t, model.ActionUseWebhook, reply.Action)
	assert.True(t, reply.Success)
	assert.Len(t, reply.ToolResults, 1)
	assert.Contains(t, reply.Text, "create_webhook succeeded")
}

func TestUninitializedPipelineBecomesChatReply(t *testing.T) {
	f := newFixture(t, llmtest.ToolCalls(string(model.ActionRetrieveAndVisualize), `{"information_needed":["tvl"]}`))
	f.build(t, pipeline.NewVisualizationPipeline(pipeline.Deps{}))

	reply, err := f.runner.Invoke(context.Background(), model.QueryInput{ConversationID: "c1", Query: "tvl"})
	require.NoError(t, err)
	assert.False(t, reply.Success)
	assert.Contains(t, reply.Error, "not initialized")
	assert.Equal(t, nodes.ErrorText(errx.NotInitialized("visualization pipeline")), reply.Text)

	h := f.history(t, "c1")
	assert.Equal(t, reply.Text, h[len(h)-1].Content)
}

func TestRouterFailureStillAnswers(t *testing.T) {
	f := newFixture(t)
	f.chat.Respond = func(int, []*schema.Message) (*schema.Message, error) {
		return nil, errors.New("quota exceeded")
	}

	reply, err := f.runner.Invoke(context.Background(), model.QueryInput{ConversationID: "c1", Query: "hi"})
	require.Error(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, model.ActionGeneralChat, reply.Action)
	assert.False(t, reply.Success)
	assert.Contains(t, reply.Text, "Sorry")

	h := f.history(t, "c1")
	require.Len(t, h, 2)
	assert.Equal(t, reply.Text, h[1].Content)
}

func TestBuildGraphValidatesConfig(t *testing.T) {
	_, err := BuildGraph(context.Background(), nil)
	assert.Error(t, err)
	_, err = BuildGraph(context.Background(), &GraphConfig{})
	assert.Error(t, err)
}
