package nodes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/chainlens-core/server/internal/agent/analyzer"
	"github.com/chainlens-core/server/internal/agent/model"
	logx "github.com/chainlens-core/server/pkg/logger"
)

const (
	BackendGemini = "gemini"
	BackendOpenAI = "openai"
)

// ChatModelConfig holds the configuration for chat model creation
type ChatModelConfig struct {
	LLM        model.LLMConfig
	Router     model.RouterModelConfig
	Retriever  model.RetrieverModelConfig
	Visualizer model.VisualizerModelConfig
	Analyzer   model.AnalyzerModelConfig
}

// ChatModels holds one chat model per agent role.
type ChatModels struct {
	Router     einomodel.ToolCallingChatModel
	Retriever  einomodel.ToolCallingChatModel
	Visualizer einomodel.ToolCallingChatModel
	Analyzer   einomodel.ToolCallingChatModel

	// ImageUploader is non-nil on backends that reference images by file URI.
	ImageUploader analyzer.ImageUploader

	RouterModelName string
}

type roleSpec struct {
	role        string
	model       string
	temperature float32
	maxTokens   int
}

// NewChatModels creates the role models on the configured backend.
func NewChatModels(ctx context.Context, config ChatModelConfig) (*ChatModels, error) {
	specs := []roleSpec{
		{"router", config.Router.Model, config.Router.Temperature, config.Router.MaxTokens},
		{"retriever", config.Retriever.Model, config.Retriever.Temperature, config.Retriever.MaxTokens},
		{"visualizer", config.Visualizer.Model, config.Visualizer.Temperature, config.Visualizer.MaxTokens},
		{"analyzer", config.Analyzer.Model, config.Analyzer.Temperature, config.Analyzer.MaxTokens},
	}

	var (
		build    func(roleSpec) (einomodel.ToolCallingChatModel, error)
		uploader analyzer.ImageUploader
	)
	switch strings.ToLower(strings.TrimSpace(config.LLM.Backend)) {
	case "", BackendGemini:
		client, err := newGeminiClient(ctx, config.LLM)
		if err != nil {
			return nil, err
		}
		build = newGeminiBuilder(ctx, client)
		uploader = &GeminiFiles{client: client}
	case BackendOpenAI:
		build = newOpenAIBuilder(ctx, config.LLM)
	default:
		return nil, fmt.Errorf("unknown LLM backend %q", config.LLM.Backend)
	}

	built := make([]einomodel.ToolCallingChatModel, len(specs))
	for i, s := range specs {
		cm, err := build(s)
		if err != nil {
			logx.Error().Err(err).Str("role", s.role).Str("model", s.model).Msg("Error creating chat model")
			return nil, fmt.Errorf("error creating %s model: %w", s.role, err)
		}
		built[i] = WithTimeout(cm, config.LLM.Timeout)
	}

	logx.Debug().Str("backend", config.LLM.Backend).Msg("Chat models created")
	return &ChatModels{
		Router:          built[0],
		Retriever:       built[1],
		Visualizer:      built[2],
		Analyzer:        built[3],
		ImageUploader:   uploader,
		RouterModelName: config.Router.Model,
	}, nil
}

func newGeminiClient(ctx context.Context, cfg model.LLMConfig) (*genai.Client, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required for the gemini backend")
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.GeminiBaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.GeminiBaseURL
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}
	return client, nil
}

func newGeminiBuilder(ctx context.Context, client *genai.Client) func(roleSpec) (einomodel.ToolCallingChatModel, error) {
	return func(s roleSpec) (einomodel.ToolCallingChatModel, error) {
		temperature, maxTokens := s.temperature, s.maxTokens
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client:      client,
			Model:       s.model,
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
		})
	}
}

// GeminiFiles uploads images through the Gemini Files API. The gemini chat
// model only forwards image parts that carry a file URI.
type GeminiFiles struct {
	client *genai.Client
}

func (g *GeminiFiles) UploadImage(ctx context.Context, path, mimeType string) (string, error) {
	f, err := g.client.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{MIMEType: mimeType})
	if err != nil {
		logx.Error().Err(err).Str("path", path).Msg("Error uploading file to Gemini")
		return "", fmt.Errorf("error uploading %s: %w", path, err)
	}
	if f.URI == "" {
		return "", fmt.Errorf("gemini returned no URI for %s", path)
	}
	logx.Debug().Str("path", path).Str("uri", f.URI).Msg("Image uploaded")
	return f.URI, nil
}

func newOpenAIBuilder(ctx context.Context, cfg model.LLMConfig) func(roleSpec) (einomodel.ToolCallingChatModel, error) {
	return func(s roleSpec) (einomodel.ToolCallingChatModel, error) {
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai backend")
		}
		temperature, maxTokens := s.temperature, s.maxTokens
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Timeout:     cfg.Timeout,
			Model:       s.model,
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
		})
	}
}

// timeoutModel bounds every Generate call. Streams are bounded by the caller.
type timeoutModel struct {
	inner   einomodel.ToolCallingChatModel
	timeout time.Duration
}

// WithTimeout wraps m so each Generate call gets its own deadline. A
// non-positive timeout returns m unchanged.
func WithTimeout(m einomodel.ToolCallingChatModel, timeout time.Duration) einomodel.ToolCallingChatModel {
	if timeout <= 0 {
		return m
	}
	return &timeoutModel{inner: m, timeout: timeout}
}

func (t *timeoutModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Generate(ctx, input, opts...)
}

func (t *timeoutModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return t.inner.Stream(ctx, input, opts...)
}

func (t *timeoutModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	bound, err := t.inner.WithTools(tools)
	if err != nil {
		return nil, err
	}
	return &timeoutModel{inner: bound, timeout: t.timeout}, nil
}

// IsCallbacksEnabled and GetType forward to the wrapped model so the graph
// neither duplicates its callbacks nor loses its type name.
func (t *timeoutModel) IsCallbacksEnabled() bool {
	if c, ok := t.inner.(components.Checker); ok {
		return c.IsCallbacksEnabled()
	}
	return false
}

func (t *timeoutModel) GetType() string {
	if typer, ok := t.inner.(components.Typer); ok {
		return typer.GetType()
	}
	return "ChatModel"
}
