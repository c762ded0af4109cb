// Package analyzer answers questions about rendered figures with a
// vision-capable model.
package analyzer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/chainlens-core/server/internal/agent/model"
	"github.com/chainlens-core/server/internal/agent/prompts"
	logx "github.com/chainlens-core/server/pkg/logger"
)

// ImageUploader stores an image with the model provider and returns the URI
// the model can reference. Backends that read inline data URLs need none.
type ImageUploader interface {
	UploadImage(ctx context.Context, path, mimeType string) (string, error)
}

type Analyzer struct {
	chat         einomodel.BaseChatModel
	uploader     ImageUploader
	contextTurns int
	log          zerolog.Logger
}

// New keeps the last contextTurns turns of history as prompt context.
// uploader may be nil.
func New(chat einomodel.BaseChatModel, contextTurns int, uploader ImageUploader) (*Analyzer, error) {
	if chat == nil {
		return nil, errors.New("analyzer: chat model is nil")
	}
	return &Analyzer{chat: chat, uploader: uploader, contextTurns: contextTurns, log: logx.Component("analyzer")}, nil
}

type options struct {
	aspect string
}

type Option func(*options)

// WithAspect narrows the answer to one aspect of the figures.
func WithAspect(aspect string) Option {
	return func(o *options) { o.aspect = aspect }
}

// Analyze sends every image with the prompt in a single user message. No retry.
func (a *Analyzer) Analyze(ctx context.Context, imagePaths []string, prompt string, history []model.ConversationTurn, opts ...Option) (string, error) {
	if len(imagePaths) == 0 {
		return "", errors.New("analyzer: no images to analyze")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	text, err := prompts.RenderAnalyzer(ctx, prompt, o.aspect, model.LastTurns(history, a.contextTurns))
	if err != nil {
		return "", err
	}

	parts := []schema.ChatMessagePart{{Type: schema.ChatMessagePartTypeText, Text: text}}
	for _, p := range imagePaths {
		url, mime, err := DataURL(p)
		if err != nil {
			a.log.Error().Err(err).Str("image_path", p).Msg("Failed to read image")
			return "", err
		}
		img := &schema.ChatMessageImageURL{URL: url, MIMEType: mime, Detail: schema.ImageURLDetailAuto}
		if a.uploader != nil {
			uri, err := a.uploader.UploadImage(ctx, p, mime)
			if err != nil {
				a.log.Error().Err(err).Str("image_path", p).Msg("Failed to upload image")
				return "", fmt.Errorf("upload image %s: %w", p, err)
			}
			img.URI = uri
		}
		parts = append(parts, schema.ChatMessagePart{Type: schema.ChatMessagePartTypeImageURL, ImageURL: img})
	}

	msg := &schema.Message{Role: schema.User, MultiContent: parts}
	resp, err := a.chat.Generate(ctx, []*schema.Message{msg})
	if err != nil {
		a.log.Error().Err(err).Strs("image_paths", imagePaths).Msg("Figure analysis failed")
		return "", fmt.Errorf("analyze figures: %w", err)
	}
	if resp == nil {
		return "", errors.New("analyze figures: empty response")
	}
	a.log.Info().Int("images", len(imagePaths)).Int("answer_len", len(resp.Content)).Msg("Figures analyzed")
	return strings.TrimSpace(resp.Content), nil
}

// DataURL reads an image file and encodes it as a base64 data URL.
func DataURL(path string) (url, mime string, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("read image %s: %w", path, err)
	}
	mime = http.DetectContentType(b)
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(b), mime, nil
}
