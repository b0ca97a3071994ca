package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go2tv.app/render-bridge/internal/renderer"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRecordAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordLaunch(ctx, renderer.Launch{URI: "http://x/a.mp4", At: base}))
	require.NoError(t, s.RecordLaunch(ctx, renderer.Launch{URI: "http://x/b.mp4", MetaData: "meta", At: base.Add(time.Minute)}))

	entries, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "http://x/b.mp4", entries[0].URI)
	assert.Equal(t, "meta", entries[0].MetaData)
	assert.True(t, entries[0].At.Equal(base.Add(time.Minute)))
	assert.Equal(t, "http://x/a.mp4", entries[1].URI)
}

func TestStoreRecentHonorsLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordLaunch(ctx, renderer.Launch{URI: "http://x/a.mp4"}))
	}

	entries, err := s.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestStorePrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.RecordLaunch(ctx, renderer.Launch{URI: "old", At: now.Add(-48 * time.Hour)}))
	require.NoError(t, s.RecordLaunch(ctx, renderer.Launch{URI: "new", At: now}))

	removed, err := s.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	entries, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].URI)
}

func TestStoreReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.RecordLaunch(context.Background(), renderer.Launch{URI: "http://x/a.mp4"}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	entries, err := s.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
