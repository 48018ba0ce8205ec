// Package fetch downloads remote resources into the local download directory
// so engines that only read files can process them.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultTimeout bounds a single download.
const DefaultTimeout = 30 * time.Second

// ErrDownload wraps every failure to acquire a resource.
var ErrDownload = errors.New("download failed")

var (
	contentTypeExtensions = map[string]string{
		"image/jpeg":      ".jpg",
		"image/jpg":       ".jpg",
		"image/png":       ".png",
		"image/gif":       ".gif",
		"image/webp":      ".webp",
		"image/bmp":       ".bmp",
		"application/pdf": ".pdf",
		"video/mp4":       ".mp4",
		"video/quicktime": ".mov",
		"audio/mpeg":      ".mp3",
		"audio/mp4":       ".m4a",
		"audio/wav":       ".wav",
		"audio/x-wav":     ".wav",
		"audio/ogg":       ".ogg",
	}

	knownPathExtensions = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".webp": true,
		".pdf": true, ".mp4": true, ".mov": true, ".mp3": true, ".m4a": true, ".wav": true,
	}

	// CDNs often encode the format as "..._jpg_..." in extension-less URLs.
	formatMarker = regexp.MustCompile(`(?i)_(jpg|jpeg|png|gif|bmp|webp|pdf)_`)

	unsafeFilenameChars = regexp.MustCompile(`[\\/*?:"<>|\s]`)
)

// HTTPDownloader fetches URLs over HTTP into a directory. Successful
// downloads are remembered for an hour so a URL shared by several tasks in
// one batch is fetched once.
type HTTPDownloader struct {
	client *http.Client
	dir    string
	cache  *cache.Cache
	logger *slog.Logger
	now    func() time.Time
}

// NewHTTPDownloader creates a downloader writing into dir. A nil client gets
// one with DefaultTimeout.
func NewHTTPDownloader(dir string, client *http.Client, logger *slog.Logger) *HTTPDownloader {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &HTTPDownloader{
		client: client,
		dir:    dir,
		cache:  cache.New(time.Hour, 10*time.Minute),
		logger: logger.With("component", "downloader"),
		now:    time.Now,
	}
}

// Download fetches rawURL and returns the local file path.
func (d *HTTPDownloader) Download(ctx context.Context, rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("%w: empty URL", ErrDownload)
	}

	if cached, ok := d.cache.Get(rawURL); ok {
		p := cached.(string)
		if _, err := os.Stat(p); err == nil {
			d.logger.Debug("reusing downloaded file", "url", rawURL, "path", p)
			return p, nil
		}
		d.cache.Delete(rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownload, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownload, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: unexpected status %d", ErrDownload, resp.StatusCode)
	}

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create download directory: %v", ErrDownload, err)
	}

	ext := Extension(rawURL, resp.Header.Get("Content-Type"))
	f, p, err := d.create(rawURL, ext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownload, err)
	}

	n, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(p)
		return "", fmt.Errorf("%w: write %s: %v", ErrDownload, p, errors.Join(copyErr, closeErr))
	}

	d.cache.SetDefault(rawURL, p)
	d.logger.Info("download completed", "url", rawURL, "path", p, "bytes", n)
	return p, nil
}

// create opens a new file named "<base>_<unix><ext>", adding a counter
// suffix when a concurrent download already claimed the name.
func (d *HTTPDownloader) create(rawURL, ext string) (*os.File, string, error) {
	stem := fmt.Sprintf("%s_%d", baseName(rawURL, ext), d.now().Unix())
	for i := 0; i < 100; i++ {
		name := stem + ext
		if i > 0 {
			name = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}
		p := filepath.Join(d.dir, name)
		f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return f, p, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("no free file name for %s", stem)
}

// Extension picks a file extension for a download: Content-Type first, then
// a "_jpg_" style marker in the URL, then the URL path, defaulting to .jpg.
func Extension(rawURL, contentType string) string {
	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err == nil {
			if ext, ok := contentTypeExtensions[mediaType]; ok {
				return ext
			}
			if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
				return exts[0]
			}
		}
	}

	if m := formatMarker.FindStringSubmatch(rawURL); m != nil {
		return "." + strings.ToLower(m[1])
	}

	if u, err := url.Parse(rawURL); err == nil {
		ext := strings.ToLower(path.Ext(u.Path))
		if knownPathExtensions[ext] {
			return ext
		}
	}

	return ".jpg"
}

func baseName(rawURL, ext string) string {
	base := ""
	if u, err := url.Parse(rawURL); err == nil {
		base = path.Base(u.Path)
	}
	if base == "" || base == "." || base == "/" || base == ext {
		return "file"
	}
	base = strings.TrimSuffix(base, path.Ext(base))
	base = unsafeFilenameChars.ReplaceAllString(base, "_")
	if len(base) > 80 {
		base = base[:80]
	}
	if base == "" {
		return "file"
	}
	return base
}
