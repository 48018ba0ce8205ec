package paraformer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/phrazzld/mediascribe/internal/engine"
)

const uploadPath = "/api/v1/uploads"

// uploadPolicy is the signed form DashScope hands out for its temporary
// file storage.
type uploadPolicy struct {
	Policy          string `json:"policy"`
	Signature       string `json:"signature"`
	UploadDir       string `json:"upload_dir"`
	UploadHost      string `json:"upload_host"`
	MaxFileSizeMB   int64  `json:"max_file_size_mb"`
	AccessKeyID     string `json:"oss_access_key_id"`
	ObjectACL       string `json:"x_oss_object_acl"`
	ForbidOverwrite string `json:"x_oss_forbid_overwrite"`
}

// upload copies a local media file into DashScope's temporary storage and
// returns the oss:// URL the transcription API resolves.
func (e *Engine) upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: open media: %v", engine.ErrTerminal, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("%w: stat media: %v", engine.ErrTerminal, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", engine.ErrTerminal, path)
	}

	policy, err := e.getPolicy(ctx)
	if err != nil {
		return "", fmt.Errorf("upload policy: %w", err)
	}
	if limit := policy.MaxFileSizeMB << 20; limit > 0 && info.Size() > limit {
		return "", fmt.Errorf("%w: media is %d bytes, upload limit is %d MB",
			engine.ErrTerminal, info.Size(), policy.MaxFileSizeMB)
	}

	key := policy.UploadDir + "/" + filepath.Base(path)
	head, tail, contentType, err := uploadForm(policy, key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", engine.ErrTerminal, err)
	}

	body := io.MultiReader(bytes.NewReader(head), f, bytes.NewReader(tail))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, policy.UploadHost, body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", engine.ErrTerminal, err)
	}
	req.ContentLength = int64(len(head)) + info.Size() + int64(len(tail))
	req.Header.Set("Content-Type", contentType)

	if _, err := e.fetchRequest(req); err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}
	e.logger.Info("media uploaded", "path", path, "bytes", info.Size(), "key", key)
	return "oss://" + key, nil
}

func (e *Engine) getPolicy(ctx context.Context) (*uploadPolicy, error) {
	q := url.Values{"action": {"getPolicy"}, "model": {Model}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.BaseURL+uploadPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrTerminal, err)
	}

	var resp struct {
		Data uploadPolicy `json:"data"`
	}
	if err := e.doJSON(req, &resp); err != nil {
		return nil, err
	}
	if resp.Data.UploadHost == "" || resp.Data.UploadDir == "" {
		return nil, fmt.Errorf("%w: upload policy has no destination", engine.ErrTerminal)
	}
	return &resp.Data, nil
}

// uploadForm renders the OSS post-object form around the file bytes, which
// go between head and tail. The file part must come last.
func uploadForm(p *uploadPolicy, key string) (head, tail []byte, contentType string, err error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"OSSAccessKeyId", p.AccessKeyID},
		{"Signature", p.Signature},
		{"policy", p.Policy},
		{"key", key},
		{"x-oss-object-acl", p.ObjectACL},
		{"x-oss-forbid-overwrite", p.ForbidOverwrite},
		{"success_action_status", "200"},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, nil, "", err
		}
	}
	if _, err := w.CreateFormFile("file", filepath.Base(key)); err != nil {
		return nil, nil, "", err
	}
	n := buf.Len()
	if err := w.Close(); err != nil {
		return nil, nil, "", err
	}

	out := buf.Bytes()
	return out[:n], out[n:], w.FormDataContentType(), nil
}
