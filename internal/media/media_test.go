package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidImageURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/a.jpg", true},
		{"https://example.com/a.JPEG", true},
		{"http://example.com/dir/b.webp", true},
		{"https://sns-img-qc.xhscdn.com/1040g2sg31abc", true},
		{"https://example.com/page.html", false},
		{"https://example.com/noext", false},
		{"ftp://example.com/a.jpg", false},
		{"example.com/a.jpg", false},
		{"", false},
		{"   ", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidImageURL(tt.url))
		})
	}
}

func TestIsValidVideoURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		want bool
	}{
		{"https://sns-video-bd.xhscdn.com/stream/110/258/01e5c3", true},
		{"https://www.xiaohongshu.com/", false},
		{"https://www.xiaohongshu.com/video/3f2a9c1e-1b2c-4d5e-8f90-a1b2c3d4e5f6", true},
		{"https://www.youtube.com/watch?v=abc", true},
		{"https://b23.tv/xyz", true},
		{"https://v.qq.com/x/cover/abc.html", false},
		{"https://qq.com/video/abc", true},
		{"https://cdn.example.com/clip.MP4", true},
		{"https://cdn.example.com/audio/track.opus?sig=1", true},
		{"https://cdn.example.com/asset?type=hls", true},
		{"https://cdn.example.com/asset?id=1", false},
		{"mailto:someone@example.com", false},
		{"not a url", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidVideoURL(tt.url))
		})
	}
}

func TestIsPlatformVideoURL(t *testing.T) {
	t.Parallel()

	assert.True(t, IsPlatformVideoURL("https://www.bilibili.com/video/BV1xx"))
	assert.True(t, IsPlatformVideoURL("https://www.douyin.com/video/123"))
	assert.False(t, IsPlatformVideoURL("https://cdn.example.com/clip.mp4"))
	assert.False(t, IsPlatformVideoURL(""))
}

func TestSplitList(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		[]string{"https://a/1.jpg", "https://a/2.jpg", "https://a/3.jpg"},
		SplitList(" https://a/1.jpg, ,https://a/2.jpg，https://a/3.jpg "))
	assert.Empty(t, SplitList(""))
	assert.Empty(t, SplitList(" , "))
}
