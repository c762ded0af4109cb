package model

// VisualizationArtifact is immutable once returned. A modification yields a new one.
type VisualizationArtifact struct {
	FigJSON       string `json:"fig_json"`
	OutputPNGPath string `json:"output_png_path"`
}

// RetryState lives for a single generation call.
type RetryState struct {
	AttemptCount int
	LastError    string
	LastCode     string
}

// PipelineResult is returned by the visualization and modifier pipelines.
type PipelineResult struct {
	Success       bool                   `json:"success"`
	FilePath      string                 `json:"file_path,omitempty"`
	FigJSON       string                 `json:"fig_json,omitempty"`
	OutputPNGPath string                 `json:"output_png_path,omitempty"`
	Error         string                 `json:"error,omitempty"`
	Message       string                 `json:"message,omitempty"` // model reply when retrieval called no tool
	ToolResults   []ToolInvocationResult `json:"tool_results,omitempty"`
}

// WebhookResult is returned by the webhook pipeline.
type WebhookResult struct {
	Success bool                   `json:"success"`
	Results []ToolInvocationResult `json:"results,omitempty"`
	Message string                 `json:"message,omitempty"`
}
