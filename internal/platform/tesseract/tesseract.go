// Package tesseract implements the "local" OCR engine by running the
// tesseract command line tool on the host.
package tesseract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/phrazzld/mediascribe/internal/engine"
)

const (
	DefaultBinary   = "tesseract"
	DefaultLanguage = "chi_sim+eng"

	artifactSuffix = "local"
)

// Config configures the engine.
type Config struct {
	// Binary is a name resolved on PATH or an absolute path.
	Binary    string
	Language  string
	ResultDir string
}

// Engine shells out to tesseract, reading text from its stdout.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

var _ engine.Engine = (*Engine)(nil)

// New creates the engine, applying defaults for empty fields.
func New(cfg Config, logger *slog.Logger) *Engine {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	return &Engine{cfg: cfg, logger: logger.With("engine", string(engine.IDLocal))}
}

// ID implements engine.Engine.
func (e *Engine) ID() engine.ID { return engine.IDLocal }

// CheckAvailability reports whether the binary can be found.
func (e *Engine) CheckAvailability(context.Context) bool {
	_, err := exec.LookPath(e.cfg.Binary)
	return err == nil
}

// Process runs `tesseract <input> stdout -l <lang>`.
func (e *Engine) Process(ctx context.Context, input string, timeout time.Duration) (*engine.Output, error) {
	if _, err := os.Stat(input); err != nil {
		return nil, fmt.Errorf("%w: input: %v", engine.ErrTerminal, err)
	}
	bin, err := exec.LookPath(e.cfg.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrUnavailable, err)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, bin, input, "stdout", "-l", e.cfg.Language)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("tesseract interrupted: %w", ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: tesseract exited with %d: %s",
				engine.ErrTerminal, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("%w: %v", engine.ErrTerminal, err)
	}

	text := strings.TrimSpace(stdout.String())
	artifact, err := engine.WriteArtifact(e.cfg.ResultDir, input, artifactSuffix, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrTerminal, err)
	}

	e.logger.Info("ocr completed", "input", input, "chars", len(text), "duration", time.Since(start))
	return &engine.Output{Text: text, ArtifactPath: artifact}, nil
}
