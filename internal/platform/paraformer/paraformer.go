// Package paraformer implements the "ali_paraformer_v2" engine: speech
// transcription of audio or video through DashScope's asynchronous file
// transcription API. Local files are uploaded to DashScope's temporary
// storage first.
package paraformer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/phrazzld/mediascribe/internal/engine"
)

const (
	DefaultBaseURL      = "https://dashscope.aliyuncs.com"
	DefaultPollInterval = 2 * time.Second
	Model               = "paraformer-v2"

	submitPath = "/api/v1/services/audio/asr/transcription"
	taskPath   = "/api/v1/tasks/"

	statusSucceeded = "SUCCEEDED"
	statusFailed    = "FAILED"
)

// Config configures the engine.
type Config struct {
	APIKey        string
	BaseURL       string
	ResultDir     string
	LanguageHints []string
	PollInterval  time.Duration
}

// Engine submits a transcription job, polls it to completion and downloads
// the transcript.
type Engine struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

var (
	_ engine.Engine        = (*Engine)(nil)
	_ engine.RemoteFetcher = (*Engine)(nil)
)

// New creates the engine, applying defaults for empty fields.
func New(cfg Config, client *http.Client, logger *slog.Logger) *Engine {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if len(cfg.LanguageHints) == 0 {
		cfg.LanguageHints = []string{"zh", "en"}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Engine{cfg: cfg, client: client, logger: logger.With("engine", string(engine.IDParaformer))}
}

// ID implements engine.Engine.
func (e *Engine) ID() engine.ID { return engine.IDParaformer }

// CheckAvailability reports whether an API key is configured.
func (e *Engine) CheckAvailability(context.Context) bool { return e.cfg.APIKey != "" }

// AcceptsURL implements engine.RemoteFetcher. DashScope fetches media itself.
func (e *Engine) AcceptsURL(raw string) bool {
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type taskOutput struct {
	TaskID     string `json:"task_id"`
	TaskStatus string `json:"task_status"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Results    []struct {
		FileURL          string `json:"file_url"`
		TranscriptionURL string `json:"transcription_url"`
		SubtaskStatus    string `json:"subtask_status"`
		Code             string `json:"code"`
		Message          string `json:"message"`
	} `json:"results"`
}

type taskResponse struct {
	RequestID string     `json:"request_id"`
	Output    taskOutput `json:"output"`
}

type transcription struct {
	Transcripts []struct {
		ChannelID int    `json:"channel_id"`
		Text      string `json:"text"`
	} `json:"transcripts"`
}

// Process transcribes the media at input, an http(s) URL or a local path.
func (e *Engine) Process(ctx context.Context, input string, timeout time.Duration) (*engine.Output, error) {
	if !e.CheckAvailability(ctx) {
		return nil, fmt.Errorf("%w: paraformer API key not configured", engine.ErrUnavailable)
	}
	if strings.Contains(input, "://") && !e.AcceptsURL(input) {
		return nil, fmt.Errorf("%w: unsupported media URL %q", engine.ErrTerminal, input)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	fileURL, uploaded := input, false
	if !e.AcceptsURL(input) {
		var err error
		if fileURL, err = e.upload(ctx, input); err != nil {
			return nil, err
		}
		uploaded = true
	}

	taskID, err := e.submit(ctx, fileURL, uploaded)
	if err != nil {
		return nil, err
	}
	e.logger.Info("transcription submitted", "task_id", taskID, "input", input)

	out, err := e.wait(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if len(out.Results) == 0 || out.Results[0].TranscriptionURL == "" {
		return nil, fmt.Errorf("%w: job %s returned no transcription", engine.ErrTerminal, taskID)
	}

	raw, err := e.fetch(ctx, out.Results[0].TranscriptionURL)
	if err != nil {
		return nil, err
	}
	var tr transcription
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, fmt.Errorf("%w: decode transcription: %v", engine.ErrTerminal, err)
	}

	parts := make([]string, 0, len(tr.Transcripts))
	for _, t := range tr.Transcripts {
		if s := strings.TrimSpace(t.Text); s != "" {
			parts = append(parts, s)
		}
	}
	text := strings.Join(parts, "\n\n")

	if _, err := engine.WriteArtifactExt(e.cfg.ResultDir, input, "full", ".json", raw); err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrTerminal, err)
	}
	artifact, err := engine.WriteArtifact(e.cfg.ResultDir, input, "text", text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrTerminal, err)
	}

	e.logger.Info("transcription completed", "task_id", taskID, "chars", len(text), "duration", time.Since(start))
	return &engine.Output{Text: text, ArtifactPath: artifact}, nil
}

// submit starts the job. Uploaded files are oss:// URLs that DashScope only
// resolves when asked to.
func (e *Engine) submit(ctx context.Context, fileURL string, uploaded bool) (string, error) {
	payload := map[string]any{
		"model": Model,
		"input": map[string]any{"file_urls": []string{fileURL}},
		"parameters": map[string]any{
			"language_hints": e.cfg.LanguageHints,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", engine.ErrTerminal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+submitPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", engine.ErrTerminal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-DashScope-Async", "enable")
	if uploaded {
		req.Header.Set("X-DashScope-OssResourceResolve", "enable")
	}

	var resp taskResponse
	if err := e.doJSON(req, &resp); err != nil {
		return "", fmt.Errorf("submit transcription: %w", err)
	}
	if resp.Output.TaskID == "" {
		return "", fmt.Errorf("%w: submit returned no task id", engine.ErrTerminal)
	}
	return resp.Output.TaskID, nil
}

func (e *Engine) wait(ctx context.Context, taskID string) (*taskOutput, error) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.BaseURL+taskPath+taskID, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", engine.ErrTerminal, err)
		}
		var resp taskResponse
		if err := e.doJSON(req, &resp); err != nil {
			return nil, fmt.Errorf("poll transcription %s: %w", taskID, err)
		}

		switch resp.Output.TaskStatus {
		case statusSucceeded:
			return &resp.Output, nil
		case statusFailed:
			return nil, jobError(resp.Output)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for transcription %s: %w", taskID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// jobError classifies a failed job. DashScope reports throttling and
// overload as job failures too.
func jobError(out taskOutput) error {
	code, msg := out.Code, out.Message
	for _, r := range out.Results {
		if r.Code != "" {
			code, msg = r.Code, r.Message
			break
		}
	}
	kind := engine.ErrTerminal
	lc := strings.ToLower(code + " " + msg)
	if strings.Contains(lc, "throttl") || strings.Contains(lc, "rate limit") || strings.Contains(lc, "internalerror") ||
		strings.Contains(lc, "频率限制") || strings.Contains(lc, "请求过于频繁") {
		kind = engine.ErrTransient
	}
	return fmt.Errorf("%w: transcription job failed: %s %s", kind, code, msg)
}

func (e *Engine) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrTerminal, err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read transcription: %v", engine.ErrTransient, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, data)
	}
	return data, nil
}

func (e *Engine) doJSON(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	data, err := e.fetchRequest(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", engine.ErrTerminal, err)
	}
	return nil
}

func (e *Engine) fetchRequest(req *http.Request) ([]byte, error) {
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", engine.ErrTransient, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, data)
	}
	return data, nil
}

func statusError(code int, body []byte) error {
	var ae apiError
	_ = json.Unmarshal(body, &ae)
	kind := engine.ErrTerminal
	if code == http.StatusTooManyRequests || code >= 500 || strings.EqualFold(ae.Code, "Throttling") {
		kind = engine.ErrTransient
	}
	if ae.Code != "" || ae.Message != "" {
		return fmt.Errorf("%w: status %d: %s %s", kind, code, ae.Code, ae.Message)
	}
	return fmt.Errorf("%w: status %d", kind, code)
}
