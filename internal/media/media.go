// Package media classifies resource URLs: whether a string is a fetchable
// image, a video or audio stream, or a page on a known video platform.
package media

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

var (
	imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp"}

	avExtensions = []string{
		".mp4", ".avi", ".mov", ".flv", ".mkv", ".wmv",
		".mp3", ".wav", ".aac", ".flac", ".m4a", ".ogg", ".opus",
	}

	// imageCDNHosts serve images without file extensions.
	imageCDNHosts = []string{"xhscdn.com", "xiaohongshu.com"}

	// noteHosts serve note videos addressed by opaque ids.
	noteHosts = []string{"xiaohongshu.com", "xhscdn.com"}

	// videoPlatforms are matched against host, or host+path for entries
	// with a path component.
	videoPlatforms = []string{
		"youtube.com", "youtu.be",
		"vimeo.com",
		"bilibili.com", "b23.tv",
		"douyin.com",
		"kuaishou.com",
		"ixigua.com",
		"weibo.com",
		"qq.com/video",
		"iqiyi.com",
	}

	streamQueryHints = []string{"video", "stream", "media", "play", "watch", "v=", "mp4", "hls", "dash"}

	guidPattern = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
)

// parseHTTP returns the parsed URL when raw is an absolute http(s) URL.
func parseHTTP(raw string) (*url.URL, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	return u, true
}

func hostHasAny(host string, candidates []string) bool {
	host = strings.ToLower(host)
	for _, c := range candidates {
		if strings.Contains(host, c) {
			return true
		}
	}
	return false
}

// IsValidImageURL reports whether raw points at an image: an http(s) URL
// whose path has an image extension, or any URL on a known image CDN.
func IsValidImageURL(raw string) bool {
	u, ok := parseHTTP(raw)
	if !ok {
		return false
	}
	if hostHasAny(u.Host, imageCDNHosts) {
		return true
	}
	ext := strings.ToLower(path.Ext(u.Path))
	for _, e := range imageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// IsPlatformVideoURL reports whether raw is a page on a known video platform,
// which engines must fetch themselves rather than via a plain download.
func IsPlatformVideoURL(raw string) bool {
	u, ok := parseHTTP(raw)
	if !ok {
		return false
	}
	host := strings.ToLower(u.Host)
	hostPath := host + strings.ToLower(u.Path)
	for _, p := range videoPlatforms {
		target := host
		if strings.Contains(p, "/") {
			target = hostPath
		}
		if strings.Contains(target, p) {
			return true
		}
	}
	return false
}

// IsValidVideoURL reports whether raw plausibly addresses video or audio.
// Note-platform URLs qualify when they carry a GUID or any path segment;
// otherwise the URL must be on a known platform, have a media extension in
// its path, or carry a streaming hint in its query.
func IsValidVideoURL(raw string) bool {
	u, ok := parseHTTP(raw)
	if !ok {
		return false
	}

	if hostHasAny(u.Host, noteHosts) {
		if guidPattern.MatchString(raw) {
			return true
		}
		return strings.Trim(u.Path, "/") != ""
	}

	if IsPlatformVideoURL(raw) {
		return true
	}

	p := strings.ToLower(u.Path)
	for _, ext := range avExtensions {
		if strings.Contains(p, ext) {
			return true
		}
	}

	q := strings.ToLower(u.RawQuery)
	for _, hint := range streamQueryHints {
		if strings.Contains(q, hint) {
			return true
		}
	}
	return false
}

// SplitList splits a comma separated cell into trimmed, non-empty entries.
// Full-width commas are accepted as separators too.
func SplitList(cell string) []string {
	cell = strings.ReplaceAll(cell, "，", ",")
	parts := strings.Split(cell, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
