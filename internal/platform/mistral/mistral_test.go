package mistral

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/mediascribe/internal/engine"
)

const testBase = "https://mistral.test"

func newTestEngine(t *testing.T, apiKey string) (*Engine, *httpmock.MockTransport, string) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	resultDir := t.TempDir()
	e := New(Config{APIKey: apiKey, BaseURL: testBase + "/", ResultDir: resultDir},
		&http.Client{Transport: transport},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return e, transport, resultDir
}

func writeInput(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestProcess_Image(t *testing.T) {
	t.Parallel()

	e, transport, resultDir := newTestEngine(t, "mk-123")
	input := writeInput(t, "note_1700000000.png", "PNG")

	transport.RegisterResponder(http.MethodPost, testBase+"/v1/ocr",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer mk-123", req.Header.Get("Authorization"))
			var body ocrRequest
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, Model, body.Model)
			assert.Equal(t, "image_url", body.Document.Type)
			assert.True(t, strings.HasPrefix(body.Document.ImageURL, "data:image/png;base64,"))
			return httpmock.NewStringResponse(http.StatusOK,
				`{"pages":[{"index":0,"markdown":"# Title"},{"index":1,"markdown":"body text"}]}`), nil
		})

	out, err := e.Process(context.Background(), input, time.Second)
	require.NoError(t, err)

	assert.Equal(t, "# Title\n\nbody text", out.Text)
	assert.Equal(t, filepath.Join(resultDir, "note_1700000000_mistral.txt"), out.ArtifactPath)
	saved, err := os.ReadFile(out.ArtifactPath)
	require.NoError(t, err)
	assert.Equal(t, out.Text, string(saved))
}

func TestProcess_PDFUsesSignedURL(t *testing.T) {
	t.Parallel()

	e, transport, _ := newTestEngine(t, "mk-123")
	input := writeInput(t, "scan.pdf", "%PDF-1.4")

	transport.RegisterResponder(http.MethodPost, testBase+"/v1/files",
		httpmock.NewStringResponder(http.StatusOK, `{"id":"file-1"}`))
	transport.RegisterResponder(http.MethodPost, testBase+"/v1/files/signed_url",
		httpmock.NewStringResponder(http.StatusOK, `{"signed_url":"https://signed.test/file-1"}`))
	transport.RegisterResponder(http.MethodPost, testBase+"/v1/ocr",
		func(req *http.Request) (*http.Response, error) {
			var body ocrRequest
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, "document_url", body.Document.Type)
			assert.Equal(t, "https://signed.test/file-1", body.Document.DocumentURL)
			return httpmock.NewStringResponse(http.StatusOK, `{"pages":[{"markdown":"pdf text"}]}`), nil
		})

	out, err := e.Process(context.Background(), input, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "pdf text", out.Text)
	assert.Equal(t, 3, transport.GetTotalCallCount())
}

func TestProcess_ErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, engine.ErrTransient},
		{"server error", http.StatusBadGateway, engine.ErrTransient},
		{"unauthorized", http.StatusUnauthorized, engine.ErrTerminal},
		{"bad request", http.StatusBadRequest, engine.ErrTerminal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, transport, _ := newTestEngine(t, "mk-123")
			input := writeInput(t, "a.jpg", "JPG")
			transport.RegisterResponder(http.MethodPost, testBase+"/v1/ocr",
				httpmock.NewStringResponder(tt.status, `{"message":"nope"}`))

			_, err := e.Process(context.Background(), input, time.Second)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestProcess_MissingInputAndKey(t *testing.T) {
	t.Parallel()

	e, transport, _ := newTestEngine(t, "mk-123")
	_, err := e.Process(context.Background(), filepath.Join(t.TempDir(), "absent.jpg"), time.Second)
	assert.ErrorIs(t, err, engine.ErrTerminal)
	assert.Equal(t, 0, transport.GetTotalCallCount())

	noKey, _, _ := newTestEngine(t, "")
	assert.False(t, noKey.CheckAvailability(context.Background()))
	_, err = noKey.Process(context.Background(), "a.jpg", time.Second)
	assert.ErrorIs(t, err, engine.ErrUnavailable)
}
