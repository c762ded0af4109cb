package model

import "time"

// ================ Config ================

type LLMConfig struct {
	Backend       string        `envconfig:"LLM_BACKEND" default:"gemini"`
	GeminiAPIKey  string        `envconfig:"GEMINI_API_KEY"`
	GeminiBaseURL string        `envconfig:"GEMINI_BASE_URL"`
	OpenAIAPIKey  string        `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL string        `envconfig:"OPENAI_BASE_URL"`
	Timeout       time.Duration `envconfig:"LLM_TIMEOUT" default:"30s"`
}

type RouterModelConfig struct {
	Model       string  `envconfig:"ROUTER_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"ROUTER_MAX_TOKENS" default:"1500"`
	Temperature float32 `envconfig:"ROUTER_TEMPERATURE" default:"0.1"`
}

type RetrieverModelConfig struct {
	Model       string  `envconfig:"RETRIEVER_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"RETRIEVER_MAX_TOKENS" default:"2000"`
	Temperature float32 `envconfig:"RETRIEVER_TEMPERATURE" default:"0.1"`
}

type VisualizerModelConfig struct {
	Model       string  `envconfig:"VISUALIZER_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"VISUALIZER_MAX_TOKENS" default:"4000"`
	Temperature float32 `envconfig:"VISUALIZER_TEMPERATURE" default:"0.2"`
}

type AnalyzerModelConfig struct {
	Model       string  `envconfig:"ANALYZER_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"ANALYZER_MAX_TOKENS" default:"1000"`
	Temperature float32 `envconfig:"ANALYZER_TEMPERATURE" default:"0.4"`
}

type ConversationConfig struct {
	TTL          time.Duration `envconfig:"CONVERSATION_TTL" default:"30m"`
	ContextTurns int           `envconfig:"CONVERSATION_CONTEXT_TURNS" default:"3"`
	MaxTurns     int           `envconfig:"CONVERSATION_MAX_TURNS" default:"20"`
}

type ProviderConfig struct {
	Server         string        `envconfig:"MCP_SERVER" default:"nodit"`
	NoditAPIKey    string        `envconfig:"NODIT_API_KEY"`
	NoditBaseURL   string        `envconfig:"NODIT_BASE_URL" default:"https://web3.nodit.io/v1"`
	OneInchAPIKey  string        `envconfig:"ONEINCH_API_KEY"`
	OneInchBaseURL string        `envconfig:"ONEINCH_BASE_URL" default:"https://api.1inch.dev"`
	ZircuitBaseURL string        `envconfig:"ZIRCUIT_BASE_URL" default:"https://api.mainnet.zircuit.com/v1"`
	Timeout        time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"30s"`
}

type ArtifactConfig struct {
	ResultsDir       string `envconfig:"RESULTS_DIR" default:"data/retriever_results"`
	VisualizationDir string `envconfig:"VISUALIZATION_DIR" default:"data/visualization_results"`
}

type SandboxConfig struct {
	PythonBin     string        `envconfig:"PYTHON_BIN" default:"python3"`
	Timeout       time.Duration `envconfig:"SANDBOX_TIMEOUT" default:"60s"`
	MemoryLimitMB int           `envconfig:"SANDBOX_MEMORY_MB" default:"2048"`
}

type VisualizerConfig struct {
	MaxAttempts           int  `envconfig:"VISUALIZER_MAX_ATTEMPTS" default:"3"`
	SampleRows            int  `envconfig:"VISUALIZER_SAMPLE_ROWS" default:"5"`
	AnalyzeAfterVisualize bool `envconfig:"ANALYZE_AFTER_VISUALIZE" default:"true"`
}

type WebhookConfig struct {
	Addr      string `envconfig:"WEBHOOK_ADDR" default:":8081"`
	MaxEvents int    `envconfig:"WEBHOOK_MAX_EVENTS" default:"100"`
}
