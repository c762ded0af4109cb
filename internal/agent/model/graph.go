package model

// AppState stores per-invocation state for the Eino Graph.
// Concurrency model:
//   - Registered as Graph Local State via compose.WithGenLocalState.
//   - Read and written only inside state handlers or compose.ProcessState,
//     which Eino serializes, so no extra locking is needed.
type AppState struct {
	ConversationID string
	Query          string
	History        []ConversationTurn       // prior turns, excluding Query
	Mentioned      []MentionedVisualization // supplied by the caller for this query
	Action         *Action                  // set after routing

	// Accumulated total LLM cost (USD) across model invocations for this query
	TotalCostUSD float64
}

// QueryInput represents the input for processing user queries.
type QueryInput struct {
	ConversationID string                   `json:"conversation_id"`
	Query          string                   `json:"query"`
	Mentioned      []MentionedVisualization `json:"mentioned_visualizations,omitempty"`
}

// Reply is the graph output. Text is what the user sees and what is stored
// as the assistant turn.
type Reply struct {
	Action  ActionKind `json:"action"`
	Text    string     `json:"text"`
	Success bool       `json:"success"`
	Error   string     `json:"error,omitempty"`
	// Visualizations holds one result per requested piece of information,
	// failed ones included.
	Visualizations []PipelineResult       `json:"visualizations,omitempty"`
	ToolResults    []ToolInvocationResult `json:"tool_results,omitempty"`
	CostUSD        float64                `json:"cost_usd,omitempty"`
}
