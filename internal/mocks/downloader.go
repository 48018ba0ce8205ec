package mocks

import (
	"context"
	"path"
	"sync"
)

// MockDownloader implements the orchestrator's Downloader for testing.
type MockDownloader struct {
	// DownloadFn overrides the default behavior when set.
	DownloadFn func(ctx context.Context, url string) (string, error)

	// Dir is prefixed to the URL base name in the default behavior.
	Dir string
	Err error

	mu   sync.Mutex
	urls []string
}

// Download implements the Downloader interface.
func (m *MockDownloader) Download(ctx context.Context, url string) (string, error) {
	m.mu.Lock()
	m.urls = append(m.urls, url)
	m.mu.Unlock()

	if m.DownloadFn != nil {
		return m.DownloadFn(ctx, url)
	}
	if m.Err != nil {
		return "", m.Err
	}
	return path.Join(m.Dir, path.Base(url)), nil
}

// URLs returns the URLs passed to Download, in call order.
func (m *MockDownloader) URLs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.urls...)
}
