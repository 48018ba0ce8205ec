package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/mediascribe/internal/store"
	"github.com/phrazzld/mediascribe/internal/store/storetest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "test.db")
	s, err := Open(context.Background(), path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return openTestStore(t) })
}

func TestOpen_Reopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "re.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := Open(context.Background(), path, logger)
	require.NoError(t, err)
	note, err := s.GetOrCreateNote(context.Background(), "https://www.xiaohongshu.com/explore/abc")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), path, logger)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	got, err := s.GetNote(context.Background(), note.NoteURL)
	require.NoError(t, err)
	assert.Equal(t, note.ID, got.ID)
}
