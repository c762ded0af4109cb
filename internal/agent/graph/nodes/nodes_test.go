package nodes

import (
	"context"
	"errors"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainlens-core/server/internal/agent/llmtest"
	"github.com/chainlens-core/server/internal/agent/model"
	errx "github.com/chainlens-core/server/internal/core/error"
)

func TestErrorText(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "not initialized",
			err:  errx.NotInitialized("analysis pipeline"),
			want: "Sorry, that feature is not available right now. Please try again later.",
		},
		{
			name: "provider unavailable",
			err:  errx.ProviderUnavailable("etherscan", errors.New("unknown provider")),
			want: "Sorry, the data provider is unavailable right now. Please try again later.",
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: "Sorry, something went wrong: boom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorText(tt.err))
		})
	}

	got := ErrorText(errx.PlotGeneration(3, errors.New("KeyError: 'value'")))
	assert.Contains(t, got, "Sorry, I couldn't produce a chart for that.")
	assert.Contains(t, got, "KeyError")
}

func TestFindMentioned(t *testing.T) {
	mentioned := []model.MentionedVisualization{
		{VisualizationID: "v1", PNGPath: "vis/a.png", FilePath: "data/a.json"},
		{VisualizationID: "v2", PNGPath: "vis/b.png", FilePath: "data/b.json"},
	}
	for _, key := range []string{"data/b.json", "vis/b.png", "v2"} {
		m := findMentioned(mentioned, key)
		require.NotNil(t, m, key)
		assert.Equal(t, "v2", m.VisualizationID)
	}
	assert.Nil(t, findMentioned(mentioned, ""))
	assert.Nil(t, findMentioned(mentioned, "data/c.json"))
}

func TestSummarizeWebhook(t *testing.T) {
	res := &model.WebhookResult{Success: true, Results: []model.ToolInvocationResult{
		{ToolName: "create_webhook"},
		{ToolName: "delete_webhook", Error: "404 not found"},
	}}
	assert.Equal(t, "Webhook request completed.\n- create_webhook succeeded\n- delete_webhook failed: 404 not found",
		summarizeWebhook(res))

	assert.Equal(t, "no tool was invoked",
		summarizeWebhook(&model.WebhookResult{Success: false, Message: "no tool was invoked"}))
}

func TestActionNodesCoverEveryKind(t *testing.T) {
	targets := ActionNodes()
	assert.Len(t, targets, 5)
	for _, n := range []string{NodeChat, NodeVisualize, NodeAnalyze, NodeModify, NodeWebhook} {
		assert.True(t, targets[n], n)
	}
}

type deadlineModel struct {
	llmtest.ChatModel
	deadline time.Time
	ok       bool
}

func (m *deadlineModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	m.deadline, m.ok = ctx.Deadline()
	return schema.AssistantMessage("ok", nil), nil
}

func TestWithTimeout(t *testing.T) {
	inner := &deadlineModel{}
	assert.Same(t, einomodel.ToolCallingChatModel(inner), WithTimeout(inner, 0))

	wrapped := WithTimeout(inner, time.Minute)
	start := time.Now()
	_, err := wrapped.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	require.True(t, inner.ok)
	assert.WithinDuration(t, start.Add(time.Minute), inner.deadline, 5*time.Second)

	bound, err := wrapped.WithTools(nil)
	require.NoError(t, err)
	assert.IsType(t, &timeoutModel{}, bound)

	tm := wrapped.(*timeoutModel)
	assert.False(t, tm.IsCallbacksEnabled())
	assert.Equal(t, "ChatModel", tm.GetType())
}
