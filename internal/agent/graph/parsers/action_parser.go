package parsers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"

	"github.com/chainlens-core/server/internal/agent/model"
	errx "github.com/chainlens-core/server/internal/core/error"
	logx "github.com/chainlens-core/server/pkg/logger"
)

// basic safety limits to avoid pathological inputs
const (
	maxArgsLen    = 16 * 1024 // 16KB of function arguments
	maxListItems  = 20        // image paths or information items
	maxErrSnippet = 200       // limit error snippet size
)

// ParseAction turns the router model reply into an Action. The first function
// call wins; a reply without one is general chat carrying the reply text.
// Missing visualization arguments fall back to the mentioned visualizations.
func ParseAction(resp *schema.Message, message string, mentioned []model.MentionedVisualization) (action model.Action, err error) {
	// panic safety
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "action_parser").Msgf("panic recovered: %v", r)
			err = errx.New(fmt.Errorf("action parser panic"), http.StatusInternalServerError, errx.SystemErrorMessage)
			action = model.Action{}
		}
	}()

	if resp == nil {
		return model.Action{}, errx.New(fmt.Errorf("empty router response"), http.StatusBadGateway, errx.SystemErrorMessage)
	}
	if len(resp.ToolCalls) == 0 {
		return model.NewGeneralChat(strings.TrimSpace(resp.Content)), nil
	}
	if len(resp.ToolCalls) > 1 {
		logx.Warn().
			Str("component", "action_parser").
			Int("calls", len(resp.ToolCalls)).
			Msg("router returned several actions, using the first")
	}

	call := resp.ToolCalls[0].Function
	raw := strings.TrimSpace(call.Arguments)
	if raw == "" {
		raw = "{}"
	}
	if len(raw) > maxArgsLen {
		return model.Action{}, errx.ArgumentParse(call.Name, fmt.Errorf("arguments too large (%d bytes)", len(raw)))
	}
	if !utf8.ValidString(raw) {
		return model.Action{}, errx.ArgumentParse(call.Name, fmt.Errorf("arguments invalid utf8"))
	}

	decode := func(dst any) error {
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			return errx.ArgumentParse(call.Name, fmt.Errorf("%w: %s", err, safeSnippet(raw)))
		}
		return nil
	}

	switch model.ActionKind(strings.TrimSpace(call.Name)) {
	case model.ActionAnalyzeGraph:
		var p model.AnalyzeGraph
		if err := decode(&p); err != nil {
			return model.Action{}, err
		}
		paths := cleanList(p.ImagePaths)
		if len(paths) == 0 {
			for _, m := range mentioned {
				if m.PNGPath != "" {
					paths = append(paths, m.PNGPath)
				}
			}
		}
		if len(paths) == 0 {
			return model.NewGeneralChat("Which chart would you like me to analyze? Please attach or mention it."), nil
		}
		aspect := strings.TrimSpace(p.Aspect)
		if aspect == "" {
			aspect = message
		}
		action = model.NewAnalyzeGraph(paths, aspect)

	case model.ActionRetrieveAndVisualize:
		var p model.RetrieveAndVisualize
		if err := decode(&p); err != nil {
			return model.Action{}, err
		}
		info := cleanList(p.InformationNeeded)
		if len(info) == 0 {
			info = []string{message}
		}
		action = model.NewRetrieveAndVisualize(info)

	case model.ActionModifyVisualization:
		var p model.ModifyVisualization
		if err := decode(&p); err != nil {
			return model.Action{}, err
		}
		path := strings.TrimSpace(p.FilePath)
		if path == "" && len(mentioned) == 1 {
			path = mentioned[0].FilePath
		}
		if path == "" {
			return model.NewGeneralChat("Which visualization would you like me to modify? Please mention it."), nil
		}
		task := strings.TrimSpace(p.Task)
		if task == "" {
			task = message
		}
		action = model.NewModifyVisualization(path, task)

	case model.ActionUseWebhook:
		action = model.NewUseWebhook()

	case model.ActionGeneralChat:
		var p model.GeneralChat
		if err := decode(&p); err != nil {
			return model.Action{}, err
		}
		msg := strings.TrimSpace(p.Message)
		if msg == "" {
			msg = strings.TrimSpace(resp.Content)
		}
		action = model.NewGeneralChat(msg)

	default:
		return model.Action{}, errx.ToolNotFound(call.Name)
	}

	if err := action.Validate(); err != nil {
		return model.Action{}, errx.New(err, http.StatusInternalServerError, errx.SystemErrorMessage)
	}
	return action, nil
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
		if len(out) == maxListItems {
			break
		}
	}
	return out
}

func safeSnippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrSnippet {
		return s
	}
	return s[:maxErrSnippet]
}
