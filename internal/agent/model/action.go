package model

import "fmt"

// ActionKind is the tag of the closed set of actions the router can select.
type ActionKind string

const (
	ActionAnalyzeGraph         ActionKind = "ANALYZE_GRAPH"
	ActionRetrieveAndVisualize ActionKind = "RETRIEVE_AND_VISUALIZE_INFORMATION"
	ActionModifyVisualization  ActionKind = "MODIFY_VISUALIZATION"
	ActionUseWebhook           ActionKind = "USE_WEBHOOK"
	ActionGeneralChat          ActionKind = "GENERAL_CHAT"
)

// AllActionKinds lists every action in router presentation order.
var AllActionKinds = []ActionKind{
	ActionAnalyzeGraph,
	ActionRetrieveAndVisualize,
	ActionModifyVisualization,
	ActionUseWebhook,
	ActionGeneralChat,
}

type AnalyzeGraph struct {
	ImagePaths []string `json:"img_paths"`
	Aspect     string   `json:"aspect_to_cover"`
}

type RetrieveAndVisualize struct {
	InformationNeeded []string `json:"information_needed"`
}

type ModifyVisualization struct {
	FilePath string `json:"file_path"`
	Task     string `json:"task"`
}

type UseWebhook struct{}

type GeneralChat struct {
	Message string `json:"message"`
}

// Action is a tagged variant: exactly the payload matching Kind is non-nil.
type Action struct {
	Kind                 ActionKind            `json:"action"`
	AnalyzeGraph         *AnalyzeGraph         `json:"analyze_graph,omitempty"`
	RetrieveAndVisualize *RetrieveAndVisualize `json:"retrieve_and_visualize,omitempty"`
	ModifyVisualization  *ModifyVisualization  `json:"modify_visualization,omitempty"`
	UseWebhook           *UseWebhook           `json:"use_webhook,omitempty"`
	GeneralChat          *GeneralChat          `json:"general_chat,omitempty"`
}

func NewAnalyzeGraph(paths []string, aspect string) Action {
	return Action{Kind: ActionAnalyzeGraph, AnalyzeGraph: &AnalyzeGraph{ImagePaths: paths, Aspect: aspect}}
}

func NewRetrieveAndVisualize(info []string) Action {
	return Action{Kind: ActionRetrieveAndVisualize, RetrieveAndVisualize: &RetrieveAndVisualize{InformationNeeded: info}}
}

func NewModifyVisualization(filePath, task string) Action {
	return Action{Kind: ActionModifyVisualization, ModifyVisualization: &ModifyVisualization{FilePath: filePath, Task: task}}
}

func NewUseWebhook() Action {
	return Action{Kind: ActionUseWebhook, UseWebhook: &UseWebhook{}}
}

func NewGeneralChat(message string) Action {
	return Action{Kind: ActionGeneralChat, GeneralChat: &GeneralChat{Message: message}}
}

// Validate checks that exactly one payload is set and that it matches Kind.
func (a Action) Validate() error {
	set := 0
	matches := false
	if a.AnalyzeGraph != nil {
		set++
		matches = matches || a.Kind == ActionAnalyzeGraph
	}
	if a.RetrieveAndVisualize != nil {
		set++
		matches = matches || a.Kind == ActionRetrieveAndVisualize
	}
	if a.ModifyVisualization != nil {
		set++
		matches = matches || a.Kind == ActionModifyVisualization
	}
	if a.UseWebhook != nil {
		set++
		matches = matches || a.Kind == ActionUseWebhook
	}
	if a.GeneralChat != nil {
		set++
		matches = matches || a.Kind == ActionGeneralChat
	}
	if set != 1 {
		return fmt.Errorf("action %q must carry exactly one payload, got %d", a.Kind, set)
	}
	if !matches {
		return fmt.Errorf("action %q carries a payload for a different action", a.Kind)
	}
	return nil
}
