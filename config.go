package main

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/chainlens-core/server/internal/agent/model"
	"github.com/chainlens-core/server/internal/core"
	logx "github.com/chainlens-core/server/pkg/logger"
	pkgredis "github.com/chainlens-core/server/pkg/redis"
)

// AppConfig defines all configurable parameters, sourced from environment
// variables (loaded from .env for local runs).
type AppConfig struct {
	Env      core.Environment `envconfig:"APP_ENV" default:"development"`
	LogLevel string           `envconfig:"LOG_LEVEL"`

	// Infrastructure
	Redis pkgredis.Config

	// LLM provider
	LLM        model.LLMConfig
	Router     model.RouterModelConfig
	Retriever  model.RetrieverModelConfig
	Visualizer model.VisualizerModelConfig
	Analyzer   model.AnalyzerModelConfig

	// Agent configs
	Conversation model.ConversationConfig
	Provider     model.ProviderConfig
	Artifacts    model.ArtifactConfig
	Sandbox      model.SandboxConfig
	Visualize    model.VisualizerConfig
	Webhook      model.WebhookConfig
}

// loadConfig reads envFile when present, then the environment.
func loadConfig(envFile string) (AppConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			logx.Debug().Err(err).Str("file", envFile).Msg("No env file loaded")
		}
	}
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}
