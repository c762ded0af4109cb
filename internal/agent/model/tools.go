package model

import "time"

// ToolDescriptor describes one provider tool. InputSchema is a JSON Schema object.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolInvocationResult is the outcome of a single tool call.
type ToolInvocationResult struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
	Result    any            `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// RetrievedDataset is the persisted form of a retrieval. FilePath is its identity.
type RetrievedDataset struct {
	FilePath    string                 `json:"-"`
	Prompt      string                 `json:"prompt"`
	Timestamp   time.Time              `json:"timestamp"`
	ToolResults []ToolInvocationResult `json:"tools_results"`
	Records     []map[string]any       `json:"records"`
}

// RetrievalResult is what the tool-invocation loop reports upward.
type RetrievalResult struct {
	Success  bool                   `json:"success"`
	FilePath string                 `json:"file_path,omitempty"`
	Results  []ToolInvocationResult `json:"results,omitempty"`
	Dataset  *RetrievedDataset      `json:"-"`
	Error    string                 `json:"error,omitempty"`
	Message  string                 `json:"message,omitempty"`
	Err      error                  `json:"-"`
}
