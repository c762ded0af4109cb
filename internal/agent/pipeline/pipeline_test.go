package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/chainlens-core/server/internal/agent/llmtest"
	"github.com/chainlens-core/server/internal/agent/model"
	"github.com/chainlens-core/server/internal/agent/providers"
	"github.com/chainlens-core/server/internal/agent/sandbox"
	errx "github.com/chainlens-core/server/internal/core/error"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fixedNow = time.Date(2025, 4, 5, 2, 12, 46, 0, time.Local)

type countingSource struct {
	provider providers.Provider
	err      error
	calls    atomic.Int32
}

func (s *countingSource) Resolve() (providers.Provider, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.provider, nil
}

func testTool(name string, result any) providers.Tool {
	return providers.Tool{
		ToolDescriptor: model.ToolDescriptor{
			Name:        name,
			Description: name,
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		},
		Invoke: func(context.Context, providers.Args) (any, error) { return result, nil },
	}
}

func catalog() *providers.Catalog {
	return providers.NewCatalog("fake",
		testTool("get_balance", map[string]any{"balance": "1000000000000000000", "decimals": "18"}),
		testTool("create_webhook", map[string]any{"subscriptionId": "sub-1"}),
	)
}

// pngExecutor writes a placeholder PNG for every job.
type pngExecutor struct {
	mu   sync.Mutex
	jobs []sandbox.Job
	fail bool
}

func (e *pngExecutor) Run(_ context.Context, job sandbox.Job) (*sandbox.Result, error) {
	e.mu.Lock()
	e.jobs = append(e.jobs, job)
	e.mu.Unlock()
	if e.fail {
		return nil, &sandbox.ExecError{Message: "KeyError: 'balanse'"}
	}
	if err := os.WriteFile(job.OutputPNGPath, []byte("png"), 0o644); err != nil {
		return nil, err
	}
	return &sandbox.Result{FigJSON: `{"data":[]}`}, nil
}

func plotReply() *schema.Message {
	return schema.AssistantMessage("```python\nfig = go.Figure()\n```", nil)
}

type fixture struct {
	deps   Deps
	source *countingSource
	exec   *pngExecutor
	tool   *llmtest.ChatModel
	plot   *llmtest.ChatModel
	vision *llmtest.ChatModel
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		source: &countingSource{provider: catalog()},
		exec:   &pngExecutor{},
		tool:   &llmtest.ChatModel{},
		plot: &llmtest.ChatModel{Respond: func(int, []*schema.Message) (*schema.Message, error) {
			return plotReply(), nil
		}},
		vision: &llmtest.ChatModel{Replies: []*schema.Message{schema.AssistantMessage("Upward trend.", nil)}},
	}
	f.deps = Deps{
		Providers:   f.source,
		ToolModel:   f.tool,
		PlotModel:   f.plot,
		VisionModel: f.vision,
		Executor:    f.exec,
		Artifacts: model.ArtifactConfig{
			ResultsDir:       filepath.Join(root, "retriever_results"),
			VisualizationDir: filepath.Join(root, "visualization_results"),
		},
		Visualizer:   model.VisualizerConfig{MaxAttempts: 3, SampleRows: 5},
		ContextTurns: 3,
		Now:          func() time.Time { return fixedNow },
	}
	return f
}

func TestMethodsFailBeforeInitialize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := NewVisualizationPipeline(f.deps).GenerateVisualization(ctx, "balance", nil)
	assert.ErrorIs(t, err, errx.ErrNotInitialized)

	_, err = NewAnalysisPipeline(f.deps).AnalyzeGraph(ctx, []string{"a.png"}, "x", "", nil)
	assert.ErrorIs(t, err, errx.ErrNotInitialized)

	_, err = NewModifierPipeline(f.deps).ModifyVisualization(ctx, ModifyRequest{FilePath: "a.json"})
	assert.ErrorIs(t, err, errx.ErrNotInitialized)

	_, err = NewWebhookPipeline(f.deps).HandleWebhook(ctx, "x", nil)
	assert.ErrorIs(t, err, errx.ErrNotInitialized)

	assert.Empty(t, f.tool.Calls())
	assert.Empty(t, f.plot.Calls())
	assert.Zero(t, f.source.calls.Load())
}

func TestInitializeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	p := NewVisualizationPipeline(f.deps)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Initialize(context.Background()))
		}()
	}
	wg.Wait()
	require.NoError(t, p.Initialize(context.Background()))

	assert.True(t, p.Initialized())
	assert.Equal(t, int32(1), f.source.calls.Load())
}

func TestInitializeCanBeRetriedAfterFailure(t *testing.T) {
	f := newFixture(t)
	f.source.err = errx.ProviderUnavailable("nodit", errors.New("NODIT_API_KEY is not set"))
	p := NewWebhookPipeline(f.deps)

	err := p.Initialize(context.Background())
	assert.ErrorIs(t, err, errx.ErrProviderUnavailable)
	assert.False(t, p.Initialized())

	f.source.err = nil
	require.NoError(t, p.Initialize(context.Background()))
	assert.True(t, p.Initialized())
}

func TestInitializeRequiresModels(t *testing.T) {
	f := newFixture(t)
	f.deps.PlotModel = nil
	assert.Error(t, NewModifierPipeline(f.deps).Initialize(context.Background()))
	f.deps.VisionModel = nil
	assert.Error(t, NewAnalysisPipeline(f.deps).Initialize(context.Background()))
}

func TestGenerateVisualization(t *testing.T) {
	f := newFixture(t)
	f.tool.Replies = []*schema.Message{llmtest.ToolCalls("get_balance", `{"address":"0x1"}`)}
	p := NewVisualizationPipeline(f.deps)
	require.NoError(t, p.Initialize(context.Background()))

	res, err := p.GenerateVisualization(context.Background(), "get_balance 0x1", nil)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)

	assert.Equal(t, "20250405_021246_get_balance_0x1.json", filepath.Base(res.FilePath))
	assert.Equal(t, filepath.Join(f.deps.Artifacts.VisualizationDir, "20250405_021246_get_balance_0x1.png"), res.OutputPNGPath)
	assert.FileExists(t, res.OutputPNGPath)
	assert.Equal(t, `{"data":[]}`, res.FigJSON)
	require.Len(t, res.ToolResults, 1)

	require.Len(t, f.exec.jobs, 1)
	assert.Equal(t, res.FilePath, f.exec.jobs[0].DataPath)

	req := llmtest.LastUserText(f.plot.Calls()[0])
	assert.Contains(t, req, "User's prompt: get_balance 0x1")
	assert.Contains(t, req, "The current task split from the user's prompt: get_balance 0x1")
}

func TestGenerateVisualizationRetrievalFailure(t *testing.T) {
	f := newFixture(t)
	f.tool.Replies = []*schema.Message{schema.AssistantMessage("Which address?", nil)}
	p := NewVisualizationPipeline(f.deps)
	require.NoError(t, p.Initialize(context.Background()))

	res, err := p.GenerateVisualization(context.Background(), "my balance", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "no tool was invoked", res.Error)
	assert.Equal(t, "Which address?", res.Message)
	assert.Empty(t, f.plot.Calls())
}

func TestGenerateVisualizationPlotFailureKeepsDataset(t *testing.T) {
	f := newFixture(t)
	f.exec.fail = true
	f.tool.Replies = []*schema.Message{llmtest.ToolCalls("get_balance", `{}`)}
	p := NewVisualizationPipeline(f.deps)
	require.NoError(t, p.Initialize(context.Background()))

	res, err := p.GenerateVisualization(context.Background(), "balance", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.FileExists(t, res.FilePath)
	assert.Contains(t, res.Error, "plot generation failed after 3 attempt(s)")
	assert.Len(t, f.exec.jobs, 3)

	entries, err := os.ReadDir(f.deps.Artifacts.VisualizationDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "the reserved png is released")
}

func TestModifyVisualizationNeverOverwrites(t *testing.T) {
	f := newFixture(t)
	f.tool.Replies = []*schema.Message{llmtest.ToolCalls("get_balance", `{}`)}
	vis := NewVisualizationPipeline(f.deps)
	mod := NewModifierPipeline(f.deps)
	require.NoError(t, vis.Initialize(context.Background()))
	require.NoError(t, mod.Initialize(context.Background()))

	orig, err := vis.GenerateVisualization(context.Background(), "balance", nil)
	require.NoError(t, err)
	require.True(t, orig.Success, orig.Error)

	req := ModifyRequest{
		Prompt:          "make the bars red",
		Task:            "make the bars red",
		FilePath:        orig.FilePath,
		OriginalFigJSON: orig.FigJSON,
		OriginalPNGPath: orig.OutputPNGPath,
	}
	first, err := mod.ModifyVisualization(context.Background(), req)
	require.NoError(t, err)
	require.True(t, first.Success, first.Error)
	second, err := mod.ModifyVisualization(context.Background(), req)
	require.NoError(t, err)
	require.True(t, second.Success, second.Error)

	dir := f.deps.Artifacts.VisualizationDir
	assert.Equal(t, filepath.Join(dir, "modified_20250405_021246_balance.png"), first.OutputPNGPath)
	assert.Equal(t, filepath.Join(dir, "modified_20250405_021246_balance_v2.png"), second.OutputPNGPath)
	assert.FileExists(t, orig.OutputPNGPath)
	assert.Len(t, f.tool.Calls(), 1, "no retrieval on modify")

	text := llmtest.LastUserText(f.plot.Calls()[1])
	assert.Contains(t, text, "The original visualization is available at: "+orig.OutputPNGPath)
	assert.Contains(t, text, `The original visualization data: {"data":[]}`)
}

func TestWebhookPipeline(t *testing.T) {
	f := newFixture(t)
	f.tool.Replies = []*schema.Message{llmtest.ToolCalls("create_webhook", `{"eventType":"ADDRESS_ACTIVITY"}`)}
	p := NewWebhookPipeline(f.deps)
	require.NoError(t, p.Initialize(context.Background()))
	assert.True(t, p.Available())

	res, err := p.HandleWebhook(context.Background(), "notify me about 0x1", nil)
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "create_webhook", res.Results[0].ToolName)

	require.Len(t, f.tool.Tools(), 1)
	assert.Equal(t, "create_webhook", f.tool.Tools()[0].Name)
	assert.Contains(t, f.tool.Calls()[0][0].Content, "webhook management assistant")

	entries, _ := os.ReadDir(f.deps.Artifacts.ResultsDir)
	assert.Empty(t, entries, "webhook results are not persisted")
}

func TestWebhookPipelineWithoutTools(t *testing.T) {
	f := newFixture(t)
	f.source.provider = providers.NewCatalog("zircuit", testTool("get_daily_metrics", nil))
	p := NewWebhookPipeline(f.deps)
	require.NoError(t, p.Initialize(context.Background()))
	assert.False(t, p.Available())

	res, err := p.HandleWebhook(context.Background(), "create a webhook", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, strings.Contains(res.Message, "zircuit"))
	assert.Empty(t, f.tool.Calls())
}

func TestAnalysisPipeline(t *testing.T) {
	f := newFixture(t)
	p := NewAnalysisPipeline(f.deps)
	require.NoError(t, p.Initialize(context.Background()))

	img := filepath.Join(t.TempDir(), "a.png")
	require.NoError(t, os.WriteFile(img, []byte("png"), 0o644))

	out, err := p.AnalyzeGraph(context.Background(), []string{img}, "what is the trend?", "direction", nil)
	require.NoError(t, err)
	assert.Equal(t, "Upward trend.", out)
}

func TestReservePNG(t *testing.T) {
	dir := t.TempDir()
	a, err := reservePNG(dir, "x")
	require.NoError(t, err)
	b, err := reservePNG(dir, "x")
	require.NoError(t, err)
	c, err := reservePNG(dir, "x")
	require.NoError(t, err)
	assert.Equal(t, []string{"x.png", "x_v2.png", "x_v3.png"}, []string{filepath.Base(a), filepath.Base(b), filepath.Base(c)})

	release(b)
	assert.NoFileExists(t, b)
}
