package nodes

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chainlens-core/server/internal/agent/model"
	errx "github.com/chainlens-core/server/internal/core/error"
)

// Graph node keys.
const (
	NodeInputConverter  = "InputConverter"
	NodeRouterChatModel = "RouterChatModel"
	NodeActionParser    = "ActionParser"
	NodeChat            = "GeneralChat"
	NodeVisualize       = "RetrieveAndVisualize"
	NodeAnalyze         = "AnalyzeGraph"
	NodeModify          = "ModifyVisualization"
	NodeWebhook         = "UseWebhook"
	NodeReplyFinalizer  = "ReplyFinalizer"
)

// actionNodes maps every action kind to the node that serves it.
var actionNodes = map[model.ActionKind]string{
	model.ActionGeneralChat:          NodeChat,
	model.ActionRetrieveAndVisualize: NodeVisualize,
	model.ActionAnalyzeGraph:         NodeAnalyze,
	model.ActionModifyVisualization:  NodeModify,
	model.ActionUseWebhook:           NodeWebhook,
}

// ActionNodes returns the branch targets of the action parser.
func ActionNodes() map[string]bool {
	out := make(map[string]bool, len(actionNodes))
	for _, n := range actionNodes {
		out[n] = true
	}
	return out
}

// ErrorText turns err into the reply shown to the user.
func ErrorText(err error) string {
	switch {
	case errors.Is(err, errx.ErrNotInitialized):
		return "Sorry, that feature is not available right now. Please try again later."
	case errors.Is(err, errx.ErrProviderUnavailable):
		return "Sorry, the data provider is unavailable right now. Please try again later."
	case errors.Is(err, errx.ErrPlotGeneration):
		return "Sorry, I couldn't produce a chart for that. " + err.Error()
	}
	if appErr, ok := errx.As(err); ok && appErr.Message != "" {
		return "Sorry, something went wrong: " + appErr.Message
	}
	return "Sorry, something went wrong: " + err.Error()
}

// errorReply reports a failed action as a chat-style reply.
func errorReply(kind model.ActionKind, err error) *model.Reply {
	return &model.Reply{Action: kind, Text: ErrorText(err), Success: false, Error: err.Error()}
}

func summarizeVisualizations(items []string, results []model.PipelineResult) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		switch {
		case r.Success:
			fmt.Fprintf(&b, "Created a visualization for %q.", items[i])
		case r.Message != "":
			b.WriteString(r.Message)
		default:
			fmt.Fprintf(&b, "Could not visualize %q: %s", items[i], r.Error)
		}
	}
	return b.String()
}

func summarizeWebhook(res *model.WebhookResult) string {
	if res.Message != "" && !res.Success {
		return res.Message
	}
	var b strings.Builder
	b.WriteString("Webhook request completed.")
	for _, r := range res.Results {
		if r.Error != "" {
			fmt.Fprintf(&b, "\n- %s failed: %s", r.ToolName, r.Error)
			continue
		}
		fmt.Fprintf(&b, "\n- %s succeeded", r.ToolName)
	}
	return b.String()
}

func findMentioned(mentioned []model.MentionedVisualization, path string) *model.MentionedVisualization {
	for i := range mentioned {
		m := &mentioned[i]
		if path != "" && (m.FilePath == path || m.PNGPath == path || m.VisualizationID == path) {
			return m
		}
	}
	return nil
}
