package pipeline

import (
	"context"

	"github.com/chainlens-core/server/internal/agent/analyzer"
	"github.com/chainlens-core/server/internal/agent/model"
)

// AnalysisPipeline answers questions about existing figures.
type AnalysisPipeline struct {
	lifecycle
	deps Deps

	analyzer *analyzer.Analyzer
}

func NewAnalysisPipeline(deps Deps) *AnalysisPipeline {
	return &AnalysisPipeline{lifecycle: lifecycle{name: "analysis pipeline"}, deps: deps}
}

func (p *AnalysisPipeline) Initialize(ctx context.Context) error {
	return p.initialize(ctx, func(context.Context) error {
		if err := requireModel("vision model", p.deps.VisionModel); err != nil {
			return err
		}
		a, err := analyzer.New(p.deps.VisionModel, p.deps.ContextTurns, p.deps.ImageUploader)
		if err != nil {
			return err
		}
		p.analyzer = a
		return nil
	})
}

func (p *AnalysisPipeline) AnalyzeGraph(ctx context.Context, imagePaths []string, prompt, aspect string, history []model.ConversationTurn) (string, error) {
	var a *analyzer.Analyzer
	if err := p.ready(func() { a = p.analyzer }); err != nil {
		return "", err
	}
	return a.Analyze(ctx, imagePaths, prompt, history, analyzer.WithAspect(aspect))
}
