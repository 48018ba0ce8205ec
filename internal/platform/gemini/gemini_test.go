package gemini

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/phrazzld/mediascribe/internal/engine"
)

type fakeModels struct {
	resp     *genai.GenerateContentResponse
	err      error
	model    string
	contents []*genai.Content
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content,
	_ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.contents = contents
	return f.resp, f.err
}

func textResponse(parts ...string) *genai.GenerateContentResponse {
	content := &genai.Content{Role: "model"}
	for _, p := range parts {
		content.Parts = append(content.Parts, &genai.Part{Text: p})
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: content}}}
}

func setup(t *testing.T, fake *fakeModels) (*Engine, string) {
	t.Helper()
	input := filepath.Join(t.TempDir(), "slide.png")
	require.NoError(t, os.WriteFile(input, []byte("PNG"), 0o600))
	e := newEngine(fake, Config{ResultDir: t.TempDir()}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return e, input
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()
	_, err := New(context.Background(), Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestProcess_Success(t *testing.T) {
	t.Parallel()

	fake := &fakeModels{resp: textResponse("# Heading\n", "Paragraph")}
	e, input := setup(t, fake)

	out, err := e.Process(context.Background(), input, time.Second)
	require.NoError(t, err)

	assert.Equal(t, "# Heading\nParagraph", out.Text)
	assert.Equal(t, DefaultModel, fake.model)
	require.Len(t, fake.contents, 1)
	parts := fake.contents[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, DescribePrompt, parts[0].Text)
	assert.Equal(t, "image/png", parts[1].InlineData.MIMEType)
	assert.Equal(t, []byte("PNG"), parts[1].InlineData.Data)
	assert.FileExists(t, out.ArtifactPath)
	assert.Equal(t, "slide_nlp.txt", filepath.Base(out.ArtifactPath))
}

func TestProcess_EmptyResponse(t *testing.T) {
	t.Parallel()

	e, input := setup(t, &fakeModels{resp: &genai.GenerateContentResponse{}})
	_, err := e.Process(context.Background(), input, time.Second)
	assert.ErrorIs(t, err, engine.ErrTerminal)
	assert.ErrorIs(t, err, engine.ErrEmptyOutput)
}

func TestProcess_ErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"quota", errors.New("Error 429, Message: quota, Status: RESOURCE_EXHAUSTED"), engine.ErrTransient},
		{"overloaded", errors.New("Error 503, Status: UNAVAILABLE"), engine.ErrTransient},
		{"bad key", errors.New("Error 400, Status: INVALID_ARGUMENT"), engine.ErrTerminal},
		{"deadline", context.DeadlineExceeded, context.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, input := setup(t, &fakeModels{err: tt.err})
			_, err := e.Process(context.Background(), input, time.Second)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestProcess_MissingFile(t *testing.T) {
	t.Parallel()

	fake := &fakeModels{resp: textResponse("x")}
	e, _ := setup(t, fake)
	_, err := e.Process(context.Background(), "/nonexistent/file.jpg", time.Second)
	assert.ErrorIs(t, err, engine.ErrTerminal)
	assert.Nil(t, fake.contents)
}

func TestMimeType(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "image/jpeg", mimeType("a.JPG"))
	assert.Equal(t, "image/png", mimeType("a.png"))
	assert.Equal(t, "image/jpeg", mimeType("noext"))
}
