package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/chainlens-core/server/internal/agent/model"
	"github.com/chainlens-core/server/internal/agent/visualizer"
	logx "github.com/chainlens-core/server/pkg/logger"
)

// maxOriginalFigure bounds how much of the prior figure JSON is quoted back.
const maxOriginalFigure = 8000

// ModifyRequest changes an existing figure without new retrieval.
type ModifyRequest struct {
	Prompt          string
	Task            string
	FilePath        string // dataset the original figure was drawn from
	OriginalFigJSON string
	OriginalPNGPath string
	History         []model.ConversationTurn
}

// ModifierPipeline regenerates a figure from its dataset with the requested change.
type ModifierPipeline struct {
	lifecycle
	deps Deps

	visualizer *visualizer.Generator
}

func NewModifierPipeline(deps Deps) *ModifierPipeline {
	return &ModifierPipeline{lifecycle: lifecycle{name: "modifier pipeline"}, deps: deps}
}

func (p *ModifierPipeline) Initialize(ctx context.Context) error {
	return p.initialize(ctx, func(context.Context) error {
		if err := requireModel("plot model", p.deps.PlotModel); err != nil {
			return err
		}
		g, err := visualizer.New(p.deps.PlotModel, p.deps.Executor, p.deps.Visualizer)
		if err != nil {
			return err
		}
		p.visualizer = g
		return nil
	})
}

// ModifyVisualization writes to modified_{dataset}.png, versioned when taken.
// The original artifact is never touched.
func (p *ModifierPipeline) ModifyVisualization(ctx context.Context, req ModifyRequest) (*model.PipelineResult, error) {
	var g *visualizer.Generator
	if err := p.ready(func() { g = p.visualizer }); err != nil {
		return nil, err
	}
	log := logx.Component("modifier_pipeline").With().Str("file_path", req.FilePath).Logger()

	out := &model.PipelineResult{FilePath: req.FilePath}
	png, err := reservePNG(p.deps.Artifacts.VisualizationDir, "modified_"+stem(req.FilePath))
	if err != nil {
		out.Error = err.Error()
		return out, nil
	}

	task := req.Task
	if strings.TrimSpace(task) == "" {
		task = req.Prompt
	}
	art, err := g.Generate(ctx, visualizer.Request{
		Prompt:        req.Prompt,
		Task:          task,
		DatasetPath:   req.FilePath,
		OutputPNGPath: png,
		History:       model.LastTurns(req.History, p.deps.ContextTurns),
		ExtraContext:  originalContext(req),
	})
	if err != nil {
		release(png)
		log.Error().Err(err).Msg("Failed to modify visualization")
		out.Error = fmt.Sprintf("failed to modify visualization: %v", err)
		return out, nil
	}

	out.Success = true
	out.FigJSON = art.FigJSON
	out.OutputPNGPath = art.OutputPNGPath
	log.Info().Str("output_png_path", png).Str("original_png_path", req.OriginalPNGPath).Msg("Successfully modified visualization")
	return out, nil
}

func originalContext(req ModifyRequest) string {
	var sb strings.Builder
	sb.WriteString("Please modify the visualization based on the data.")
	if req.OriginalPNGPath != "" {
		sb.WriteString("\nThe original visualization is available at: ")
		sb.WriteString(req.OriginalPNGPath)
	}
	if fig := strings.TrimSpace(req.OriginalFigJSON); fig != "" {
		if len(fig) > maxOriginalFigure {
			fig = fig[:maxOriginalFigure] + "..."
		}
		sb.WriteString("\nThe original visualization data: ")
		sb.WriteString(fig)
	}
	return sb.String()
}
