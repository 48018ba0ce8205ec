// Package mistral implements the "mistral" OCR engine on top of the Mistral
// document OCR HTTP API.
package mistral

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/phrazzld/mediascribe/internal/engine"
)

const (
	// DefaultBaseURL is the public Mistral API endpoint.
	DefaultBaseURL = "https://api.mistral.ai"

	// Model is the OCR model requested for every document.
	Model = "mistral-ocr-latest"

	artifactSuffix = "mistral"
)

// Config configures the engine.
type Config struct {
	APIKey    string
	BaseURL   string
	ResultDir string
}

// Engine sends images inline as data URIs and PDFs via an uploaded file's
// signed URL.
type Engine struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

var _ engine.Engine = (*Engine)(nil)

// New creates the engine. A nil client gets http.DefaultClient's transport.
func New(cfg Config, client *http.Client, logger *slog.Logger) *Engine {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		client = &http.Client{}
	}
	return &Engine{
		cfg:    cfg,
		client: client,
		logger: logger.With("engine", string(engine.IDMistral)),
	}
}

// ID implements engine.Engine.
func (e *Engine) ID() engine.ID { return engine.IDMistral }

// CheckAvailability reports whether an API key is configured.
func (e *Engine) CheckAvailability(context.Context) bool {
	return e.cfg.APIKey != ""
}

type document struct {
	Type        string `json:"type"`
	ImageURL    string `json:"image_url,omitempty"`
	DocumentURL string `json:"document_url,omitempty"`
}

type ocrRequest struct {
	Model    string   `json:"model"`
	Document document `json:"document"`
}

type ocrResponse struct {
	Pages []struct {
		Index    int    `json:"index"`
		Markdown string `json:"markdown"`
	} `json:"pages"`
}

// Process runs OCR on the local file at input.
func (e *Engine) Process(ctx context.Context, input string, timeout time.Duration) (*engine.Output, error) {
	if !e.CheckAvailability(ctx) {
		return nil, fmt.Errorf("%w: mistral API key not configured", engine.ErrUnavailable)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	doc, err := e.document(ctx, input)
	if err != nil {
		return nil, err
	}

	var resp ocrResponse
	if err := e.postJSON(ctx, "/v1/ocr", ocrRequest{Model: Model, Document: *doc}, &resp); err != nil {
		return nil, fmt.Errorf("ocr request: %w", err)
	}

	var sb strings.Builder
	for _, p := range resp.Pages {
		sb.WriteString(p.Markdown)
		sb.WriteString("\n\n")
	}
	text := strings.TrimSpace(sb.String())

	artifact, err := engine.WriteArtifact(e.cfg.ResultDir, input, artifactSuffix, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrTerminal, err)
	}

	e.logger.Info("ocr completed",
		"input", input,
		"pages", len(resp.Pages),
		"duration", time.Since(start))

	return &engine.Output{Text: text, ArtifactPath: artifact}, nil
}

func (e *Engine) document(ctx context.Context, input string) (*document, error) {
	data, err := os.ReadFile(input)
	if err != nil {
		return nil, fmt.Errorf("%w: read input: %v", engine.ErrTerminal, err)
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(input), "."))
	if ext == "pdf" {
		url, err := e.uploadPDF(ctx, filepath.Base(input), data)
		if err != nil {
			return nil, err
		}
		return &document{Type: "document_url", DocumentURL: url}, nil
	}

	if ext == "" || ext == "jpg" {
		ext = "jpeg"
	}
	return &document{
		Type:     "image_url",
		ImageURL: "data:image/" + ext + ";base64," + base64.StdEncoding.EncodeToString(data),
	}, nil
}

func (e *Engine) uploadPDF(ctx context.Context, name string, data []byte) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("purpose", "ocr"); err != nil {
		return "", fmt.Errorf("%w: %v", engine.ErrTerminal, err)
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", engine.ErrTerminal, err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("%w: %v", engine.ErrTerminal, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", engine.ErrTerminal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/v1/files", &body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", engine.ErrTerminal, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var uploaded struct {
		ID string `json:"id"`
	}
	if err := e.do(req, &uploaded); err != nil {
		return "", fmt.Errorf("upload pdf: %w", err)
	}

	var signed struct {
		SignedURL string `json:"signed_url"`
	}
	if err := e.postJSON(ctx, "/v1/files/signed_url", map[string]string{"file_id": uploaded.ID}, &signed); err != nil {
		return "", fmt.Errorf("signed url: %w", err)
	}
	if signed.SignedURL == "" {
		return "", fmt.Errorf("%w: empty signed url", engine.ErrTerminal)
	}
	return signed.SignedURL, nil
}

func (e *Engine) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrTerminal, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrTerminal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return e.do(req, out)
}

func (e *Engine) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", engine.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", engine.ErrTransient, err)
	}

	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", engine.ErrTerminal, err)
	}
	return nil
}

func statusError(code int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 300 {
		msg = msg[:300]
	}
	kind := engine.ErrTerminal
	if code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500 {
		kind = engine.ErrTransient
	}
	return fmt.Errorf("%w: status %d: %s", kind, code, msg)
}
