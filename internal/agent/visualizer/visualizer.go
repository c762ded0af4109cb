// Package visualizer turns a persisted dataset into a plotly figure by asking
// a model for plotting code and running it in the sandbox, with bounded retries.
package visualizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/chainlens-core/server/internal/agent/model"
	"github.com/chainlens-core/server/internal/agent/prompts"
	"github.com/chainlens-core/server/internal/agent/retriever"
	"github.com/chainlens-core/server/internal/agent/sandbox"
	errx "github.com/chainlens-core/server/internal/core/error"
	logx "github.com/chainlens-core/server/pkg/logger"
)

const (
	DefaultMaxAttempts = 3
	DefaultSampleRows  = 5
)

var (
	fencedBlock = regexp.MustCompile("(?s)```(?:python|py)?[ \t]*\r?\n(.*?)```")
	fenceMarker = regexp.MustCompile("```(?:python|py)?")
)

// Request describes one figure to produce.
type Request struct {
	Prompt        string
	Task          string
	DatasetPath   string
	OutputPNGPath string
	History       []model.ConversationTurn
	// ExtraContext is appended to the first request, e.g. the figure being modified.
	ExtraContext string
}

type Generator struct {
	chat        einomodel.BaseChatModel
	exec        sandbox.Executor
	maxAttempts int
	sampleRows  int
	log         zerolog.Logger
}

func New(chat einomodel.BaseChatModel, exec sandbox.Executor, cfg model.VisualizerConfig) (*Generator, error) {
	if chat == nil {
		return nil, errors.New("visualizer: chat model is nil")
	}
	if exec == nil {
		return nil, errors.New("visualizer: executor is nil")
	}
	g := &Generator{
		chat:        chat,
		exec:        exec,
		maxAttempts: cfg.MaxAttempts,
		sampleRows:  cfg.SampleRows,
		log:         logx.Component("visualizer"),
	}
	if g.maxAttempts <= 0 {
		g.maxAttempts = DefaultMaxAttempts
	}
	if g.sampleRows <= 0 {
		g.sampleRows = DefaultSampleRows
	}
	return g, nil
}

func (g *Generator) MaxAttempts() int { return g.maxAttempts }

// Generate runs at most MaxAttempts generate-and-execute rounds. Each retry
// shows the model its previous code, the error and the traceback.
func (g *Generator) Generate(ctx context.Context, req Request) (*model.VisualizationArtifact, error) {
	ds, err := retriever.Load(req.DatasetPath)
	if err != nil {
		return nil, errx.PlotGeneration(0, err)
	}
	columns, sample, err := sampleRecords(ds.Records, g.sampleRows)
	if err != nil {
		return nil, errx.PlotGeneration(0, err)
	}

	first, err := prompts.RenderVisualizerRequest(ctx, prompts.VisualizerRequestVars{
		Prompt:       req.Prompt,
		Task:         req.Task,
		FilePath:     req.DatasetPath,
		Columns:      strings.Join(columns, ", "),
		Sample:       sample,
		SampleRows:   g.sampleRows,
		ExtraContext: req.ExtraContext,
		History:      req.History,
	})
	if err != nil {
		return nil, errx.PlotGeneration(0, err)
	}
	msgs := []*schema.Message{
		schema.SystemMessage(prompts.VisualizerSystem()),
		schema.UserMessage(first),
	}

	log := g.log.With().Str("dataset", req.DatasetPath).Str("output_png_path", req.OutputPNGPath).Logger()
	state := model.RetryState{}
	var lastErr error

	for state.AttemptCount < g.maxAttempts {
		state.AttemptCount++
		start := time.Now()

		resp, err := g.chat.Generate(ctx, msgs)
		if err != nil {
			log.Error().Err(err).Int("attempt", state.AttemptCount).Msg("Plot code generation failed")
			return nil, errx.PlotGeneration(state.AttemptCount, fmt.Errorf("generate plot code: %w", err))
		}
		var content string
		if resp != nil {
			content = resp.Content
		}
		code := ExtractCode(content)
		state.LastCode = code

		res, err := g.exec.Run(ctx, sandbox.Job{Code: code, DataPath: req.DatasetPath, OutputPNGPath: req.OutputPNGPath})
		if err == nil {
			log.Info().
				Int("attempt", state.AttemptCount).
				Dur("elapsed", time.Since(start)).
				Msg("Visualization generated")
			return &model.VisualizationArtifact{FigJSON: res.FigJSON, OutputPNGPath: req.OutputPNGPath}, nil
		}
		if ctx.Err() != nil {
			return nil, errx.PlotGeneration(state.AttemptCount, err)
		}

		lastErr = err
		state.LastError = err.Error()
		traceback := ""
		var ee *sandbox.ExecError
		if errors.As(err, &ee) {
			traceback = ee.Traceback
		}
		log.Warn().
			Err(err).
			Int("attempt", state.AttemptCount).
			Int("max_attempts", g.maxAttempts).
			Str("code", code).
			Str("traceback", traceback).
			Msg("Plot attempt failed")

		if state.AttemptCount == g.maxAttempts {
			break
		}
		feedback, ferr := prompts.RenderVisualizerFeedback(ctx, prompts.FeedbackVars{
			Attempt:     state.AttemptCount,
			MaxAttempts: g.maxAttempts,
			Code:        code,
			Error:       state.LastError,
			Traceback:   traceback,
		})
		if ferr != nil {
			return nil, errx.PlotGeneration(state.AttemptCount, ferr)
		}
		msgs = append(msgs, schema.AssistantMessage(content, nil), schema.UserMessage(feedback))
	}

	log.Error().Err(lastErr).Int("attempts", state.AttemptCount).Str("code", state.LastCode).Msg("Plot generation exhausted")
	return nil, errx.PlotGeneration(state.AttemptCount, lastErr)
}

// ExtractCode returns the first fenced python block, or the reply with any
// stray fence markers removed.
func ExtractCode(reply string) string {
	if m := fencedBlock.FindStringSubmatch(reply); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(fenceMarker.ReplaceAllString(reply, ""))
}

// sampleRecords returns the sorted column set of all records and the first n
// records as JSON.
func sampleRecords(records []map[string]any, n int) ([]string, string, error) {
	seen := map[string]struct{}{}
	for _, r := range records {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	columns := make([]string, 0, len(seen))
	for k := range seen {
		columns = append(columns, k)
	}
	sort.Strings(columns)

	head := records
	if len(head) > n {
		head = head[:n]
	}
	if head == nil {
		head = []map[string]any{}
	}
	b, err := json.MarshalIndent(head, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("encode sample: %w", err)
	}
	return columns, string(b), nil
}
