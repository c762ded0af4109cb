// Package pipeline composes the retriever, visualizer and analyzer into the
// operations the agent exposes. Every pipeline must be initialized once with
// Initialize; until then its methods fail with ErrNotInitialized.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"

	"github.com/chainlens-core/server/internal/agent/analyzer"
	"github.com/chainlens-core/server/internal/agent/model"
	"github.com/chainlens-core/server/internal/agent/providers"
	"github.com/chainlens-core/server/internal/agent/sandbox"
	errx "github.com/chainlens-core/server/internal/core/error"
	logx "github.com/chainlens-core/server/pkg/logger"
)

// ProviderSource hands out the provider a pipeline snapshots at Initialize.
// *providers.Selector implements it.
type ProviderSource interface {
	Resolve() (providers.Provider, error)
}

// Deps are the shared building blocks. Pipelines only use the fields they need.
type Deps struct {
	Providers ProviderSource
	// ToolModel selects tools during retrieval.
	ToolModel einomodel.ToolCallingChatModel
	// PlotModel writes plotting code.
	PlotModel einomodel.BaseChatModel
	// VisionModel reads rendered figures.
	VisionModel einomodel.BaseChatModel
	// ImageUploader is set for backends that reference images by URI.
	ImageUploader analyzer.ImageUploader
	Executor      sandbox.Executor

	Artifacts    model.ArtifactConfig
	Visualizer   model.VisualizerConfig
	ContextTurns int
	Now          func() time.Time
}

func (d Deps) now() func() time.Time {
	if d.Now == nil {
		return time.Now
	}
	return d.Now
}

// lifecycle guards one-time initialization. A failed Initialize can be retried.
type lifecycle struct {
	name string

	mu          sync.RWMutex
	initialized bool
}

func (l *lifecycle) initialize(ctx context.Context, build func(ctx context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.initialized {
		logx.Debug().Str("pipeline", l.name).Msg("Pipeline already initialized")
		return nil
	}
	start := time.Now()
	if err := build(ctx); err != nil {
		logx.Error().Err(err).Str("pipeline", l.name).Msg("Failed to initialize pipeline")
		return fmt.Errorf("initialize %s: %w", l.name, err)
	}
	l.initialized = true
	logx.Info().Str("pipeline", l.name).Dur("elapsed", time.Since(start)).Msg("Pipeline initialized")
	return nil
}

// ready runs fn under the read lock once initialized.
func (l *lifecycle) ready(fn func()) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.initialized {
		return errx.NotInitialized(l.name)
	}
	fn()
	return nil
}

func (l *lifecycle) Initialized() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.initialized
}

func requireModel(name string, m any) error {
	if m == nil {
		return fmt.Errorf("%s is not configured", name)
	}
	return nil
}

func resolveProvider(ctx context.Context, src ProviderSource) (providers.Provider, []model.ToolDescriptor, error) {
	if src == nil {
		return nil, nil, errors.New("provider source is not configured")
	}
	p, err := src.Resolve()
	if err != nil {
		return nil, nil, err
	}
	tools, err := p.ListTools(ctx)
	if err != nil {
		return nil, nil, err
	}
	logx.Info().Str("provider", p.Name()).Int("tools", len(tools)).Msg("Tool provider resolved")
	return p, tools, nil
}

// reservePNG creates an empty file at dir/base.png, or base_v2.png and so on
// when taken, so that no artifact is ever overwritten.
func reservePNG(dir, base string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create visualization dir: %w", err)
	}
	path := filepath.Join(dir, base+".png")
	for v := 2; ; v++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			path = filepath.Join(dir, fmt.Sprintf("%s_v%d.png", base, v))
			continue
		}
		if err != nil {
			return "", fmt.Errorf("reserve png: %w", err)
		}
		return path, f.Close()
	}
}

// release drops a reservation the sandbox never filled.
func release(path string) {
	if fi, err := os.Stat(path); err == nil && fi.Size() == 0 {
		_ = os.Remove(path)
	}
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
