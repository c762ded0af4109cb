package pipeline

import (
	"context"

	"github.com/chainlens-core/server/internal/agent/model"
	"github.com/chainlens-core/server/internal/agent/retriever"
	"github.com/chainlens-core/server/internal/agent/visualizer"
	logx "github.com/chainlens-core/server/pkg/logger"
)

// VisualizationPipeline retrieves data for a prompt and plots it.
type VisualizationPipeline struct {
	lifecycle
	deps Deps

	retriever  *retriever.Retriever
	visualizer *visualizer.Generator
}

func NewVisualizationPipeline(deps Deps) *VisualizationPipeline {
	return &VisualizationPipeline{lifecycle: lifecycle{name: "visualization pipeline"}, deps: deps}
}

// Initialize snapshots the selected provider. Calling it again is a no-op.
func (p *VisualizationPipeline) Initialize(ctx context.Context) error {
	return p.initialize(ctx, func(ctx context.Context) error {
		if err := requireModel("tool model", p.deps.ToolModel); err != nil {
			return err
		}
		if err := requireModel("plot model", p.deps.PlotModel); err != nil {
			return err
		}
		provider, _, err := resolveProvider(ctx, p.deps.Providers)
		if err != nil {
			return err
		}
		r, err := retriever.New(p.deps.ToolModel, provider, retriever.Config{
			Store: retriever.NewDatasetStore(p.deps.Artifacts.ResultsDir),
			Now:   p.deps.now(),
		})
		if err != nil {
			return err
		}
		g, err := visualizer.New(p.deps.PlotModel, p.deps.Executor, p.deps.Visualizer)
		if err != nil {
			return err
		}
		p.retriever, p.visualizer = r, g
		return nil
	})
}

// GenerateVisualization returns an error only when the pipeline is not
// initialized; every other failure is reported in the result.
func (p *VisualizationPipeline) GenerateVisualization(ctx context.Context, prompt string, history []model.ConversationTurn) (*model.PipelineResult, error) {
	var (
		r *retriever.Retriever
		g *visualizer.Generator
	)
	if err := p.ready(func() { r, g = p.retriever, p.visualizer }); err != nil {
		return nil, err
	}
	log := logx.Component("visualization_pipeline").With().Str("provider", r.Provider()).Logger()

	retrieved := r.Retrieve(ctx, prompt, history)
	if !retrieved.Success {
		log.Warn().Str("error", retrieved.Error).Msg("Failed to retrieve data")
		return &model.PipelineResult{
			Success:     false,
			Error:       retrieved.Error,
			Message:     retrieved.Message,
			ToolResults: retrieved.Results,
		}, nil
	}

	out := &model.PipelineResult{FilePath: retrieved.FilePath, ToolResults: retrieved.Results}
	png, err := reservePNG(p.deps.Artifacts.VisualizationDir, stem(retrieved.FilePath))
	if err != nil {
		out.Error = err.Error()
		return out, nil
	}

	// the prompt doubles as the task: retrieval already scoped it
	art, err := g.Generate(ctx, visualizer.Request{
		Prompt:        prompt,
		Task:          prompt,
		DatasetPath:   retrieved.FilePath,
		OutputPNGPath: png,
		History:       model.LastTurns(history, p.deps.ContextTurns),
	})
	if err != nil {
		release(png)
		log.Error().Err(err).Str("file_path", retrieved.FilePath).Msg("Failed to generate visualization")
		out.Error = err.Error()
		return out, nil
	}

	out.Success = true
	out.FigJSON = art.FigJSON
	out.OutputPNGPath = art.OutputPNGPath
	log.Info().Str("file_path", out.FilePath).Str("output_png_path", out.OutputPNGPath).Msg("Successfully generated visualization")
	return out, nil
}
