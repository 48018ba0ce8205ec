package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ArtifactName returns "<base>_<suffix><ext>" for input, where base is the
// input file name without its extension.
func ArtifactName(input, suffix, ext string) string {
	base := filepath.Base(input)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == "/" {
		base = "output"
	}
	return fmt.Sprintf("%s_%s%s", base, suffix, ext)
}

// WriteArtifact writes content to dir/ArtifactName(input, suffix, ".txt")
// and returns the path.
func WriteArtifact(dir, input, suffix, content string) (string, error) {
	return WriteArtifactExt(dir, input, suffix, ".txt", []byte(content))
}

// WriteArtifactExt is WriteArtifact with an explicit extension and raw bytes.
func WriteArtifactExt(dir, input, suffix, ext string, content []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create result directory: %w", err)
	}
	path := filepath.Join(dir, ArtifactName(input, suffix, ext))
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact %s: %w", path, err)
	}
	return path, nil
}
