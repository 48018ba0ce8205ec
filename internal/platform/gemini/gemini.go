// Package gemini implements the "nlp" engine: it asks a Gemini model to
// describe an image as Markdown, preserving text and layout and describing
// illustrations in place.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/phrazzld/mediascribe/internal/engine"
)

// DefaultModel is used when the configuration leaves the model empty.
const DefaultModel = "gemini-2.0-flash"

// DescribePrompt asks for a Markdown rendition of the image.
const DescribePrompt = "请以Markdown格式反馈图片内容给我，尽量还原图片中的信息内容和文章结构，" +
	"如果有插图，则请用语言描述插图内容、放在插图所在段落位置。"

const artifactSuffix = "nlp"

// ErrInvalidConfig is returned when the engine cannot be constructed.
var ErrInvalidConfig = errors.New("invalid gemini configuration")

// contentGenerator is the subset of *genai.Models the engine uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content,
		config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Config configures the engine.
type Config struct {
	APIKey    string
	Model     string
	ResultDir string
}

// Engine is the Gemini-backed image description engine.
type Engine struct {
	models    contentGenerator
	model     string
	resultDir string
	logger    *slog.Logger
}

var _ engine.Engine = (*Engine)(nil)

// New creates a Gemini client for cfg. It fails when no API key is set.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Engine, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}

	return newEngine(client.Models, cfg, logger), nil
}

func newEngine(models contentGenerator, cfg Config, logger *slog.Logger) *Engine {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Engine{
		models:    models,
		model:     model,
		resultDir: cfg.ResultDir,
		logger:    logger.With("engine", string(engine.IDNLP), "model", model),
	}
}

// ID implements engine.Engine.
func (e *Engine) ID() engine.ID { return engine.IDNLP }

// CheckAvailability implements engine.Engine.
func (e *Engine) CheckAvailability(context.Context) bool { return e.models != nil }

// Process sends the image at input inline with DescribePrompt.
func (e *Engine) Process(ctx context.Context, input string, timeout time.Duration) (*engine.Output, error) {
	data, err := os.ReadFile(input)
	if err != nil {
		return nil, fmt.Errorf("%w: read input: %v", engine.ErrTerminal, err)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: DescribePrompt},
			{InlineData: &genai.Blob{Data: data, MIMEType: mimeType(input)}},
		},
	}}

	start := time.Now()
	resp, err := e.models.GenerateContent(ctx, e.model, contents, nil)
	if err != nil {
		return nil, classify(err)
	}

	text := strings.TrimSpace(responseText(resp))
	if text == "" {
		return nil, fmt.Errorf("%w: %w", engine.ErrTerminal, engine.ErrEmptyOutput)
	}

	artifact, err := engine.WriteArtifact(e.resultDir, input, artifactSuffix, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrTerminal, err)
	}

	e.logger.Info("image described", "input", input, "chars", len(text), "duration", time.Since(start))
	return &engine.Output{Text: text, ArtifactPath: artifact}, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func mimeType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".jpg", ".jpeg", "":
		return "image/jpeg"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return strings.SplitN(t, ";", 2)[0]
	}
	return "image/jpeg"
}

var (
	transientMarkers = []string{"resource_exhausted", "unavailable", "internal", "429", "500", "503", "deadline"}
	terminalMarkers  = []string{"invalid_argument", "permission_denied", "unauthenticated", "not_found", "400", "401", "403", "404"}
)

// classify wraps API errors with the engine taxonomy based on the status
// text the API reports.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := strings.ToLower(err.Error())
	for _, m := range terminalMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %v", engine.ErrTerminal, err)
		}
	}
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %v", engine.ErrTransient, err)
		}
	}
	return err
}
