// Package prompts renders the instruction templates through eino's prompt
// component so prompt callbacks see every rendered message.
package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/chainlens-core/server/internal/agent/model"
)

var (
	//go:embed template/router.txt
	routerSystemPrompt string
	//go:embed template/retriever.txt
	retrieverSystemPrompt string
	//go:embed template/webhook.txt
	webhookSystemPrompt string
	//go:embed template/visualizer.txt
	visualizerSystemPrompt string
	//go:embed template/visualizer_request.txt
	visualizerRequestPrompt string
	//go:embed template/visualizer_feedback.txt
	visualizerFeedbackPrompt string
	//go:embed template/analyzer.txt
	analyzerPrompt string
)

// RouterVars feeds the router system prompt.
type RouterVars struct {
	Mentioned      []model.MentionedVisualization
	History        []model.ConversationTurn
	WebhookEnabled bool
}

func RenderRouterSystem(ctx context.Context, v RouterVars) (string, error) {
	return renderSystem(ctx, "router", routerSystemPrompt, map[string]any{
		"Mentioned":      v.Mentioned,
		"History":        FormatHistory(v.History),
		"WebhookEnabled": v.WebhookEnabled,
	})
}

func RenderRetrieverSystem(ctx context.Context, provider string) (string, error) {
	return renderSystem(ctx, "retriever", retrieverSystemPrompt, map[string]any{"Provider": provider})
}

func RenderWebhookSystem(ctx context.Context, provider string) (string, error) {
	return renderSystem(ctx, "webhook", webhookSystemPrompt, map[string]any{"Provider": provider})
}

// VisualizerSystem holds the fixed plotting rules.
func VisualizerSystem() string {
	return visualizerSystemPrompt
}

// VisualizerRequestVars feeds the first generation request.
type VisualizerRequestVars struct {
	Prompt       string
	Task         string
	FilePath     string
	Columns      string
	Sample       string
	SampleRows   int
	ExtraContext string
	History      []model.ConversationTurn
}

func RenderVisualizerRequest(ctx context.Context, v VisualizerRequestVars) (string, error) {
	return renderUser(ctx, "visualizer_request", visualizerRequestPrompt, map[string]any{
		"Prompt":       v.Prompt,
		"Task":         v.Task,
		"FilePath":     v.FilePath,
		"Columns":      v.Columns,
		"Sample":       v.Sample,
		"SampleRows":   v.SampleRows,
		"ExtraContext": strings.TrimSpace(v.ExtraContext),
		"History":      FormatHistory(v.History),
	})
}

// FeedbackVars describes a failed attempt.
type FeedbackVars struct {
	Attempt     int
	MaxAttempts int
	Code        string
	Error       string
	Traceback   string
}

func RenderVisualizerFeedback(ctx context.Context, v FeedbackVars) (string, error) {
	return renderUser(ctx, "visualizer_feedback", visualizerFeedbackPrompt, map[string]any{
		"Attempt":     v.Attempt,
		"MaxAttempts": v.MaxAttempts,
		"Code":        strings.TrimSpace(v.Code),
		"Error":       strings.TrimSpace(v.Error),
		"Traceback":   strings.TrimSpace(v.Traceback),
	})
}

func RenderAnalyzer(ctx context.Context, promptText, aspect string, history []model.ConversationTurn) (string, error) {
	return renderUser(ctx, "analyzer", analyzerPrompt, map[string]any{
		"Prompt":  strings.TrimSpace(promptText),
		"Aspect":  strings.TrimSpace(aspect),
		"History": FormatHistory(history),
	})
}

// FormatHistory folds turns into "role: content" lines.
func FormatHistory(turns []model.ConversationTurn) string {
	if len(turns) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, t := range turns {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(string(t.Role))
		sb.WriteString(": ")
		sb.WriteString(strings.TrimSpace(t.Content))
	}
	return sb.String()
}

func renderSystem(ctx context.Context, name, tmpl string, vars map[string]any) (string, error) {
	return render(ctx, name, schema.SystemMessage(tmpl), vars)
}

func renderUser(ctx context.Context, name, tmpl string, vars map[string]any) (string, error) {
	return render(ctx, name, schema.UserMessage(tmpl), vars)
}

func render(ctx context.Context, name string, msg *schema.Message, vars map[string]any) (string, error) {
	tpl := prompt.FromMessages(schema.GoTemplate, msg)
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("%s prompt render: %w", name, err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("%s prompt render: empty result", name)
	}
	return msgs[0].Content, nil
}
