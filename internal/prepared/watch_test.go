package prepared

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcher_IndexFollowsDisk(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("rename semantics differ on windows")
	}

	store := newTestStore(t)
	watcher, err := NewWatcher(store, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go watcher.Run(ctx)

	// Stage a complete folder elsewhere and move it in, the way an
	// operator drops one over scp.
	staging := filepath.Join(t.TempDir(), "dropped")
	require.NoError(t, os.MkdirAll(staging, 0o750))
	doc := `{"title":"Dropped In","playlists":["alpha"],"status":"ready","created_at":"2026-08-20T10:00:00Z","video_count":2,"is_fallback":false}`
	require.NoError(t, os.WriteFile(filepath.Join(staging, MetadataFile), []byte(doc), 0o644))
	require.NoError(t, os.Rename(staging, filepath.Join(store.BaseDir(), "dropped")))

	require.Eventually(t, func() bool {
		list := store.List()
		return len(list) == 1 && list[0].Slug == "dropped"
	}, 2*time.Second, 10*time.Millisecond, "index should pick up the new folder")

	// Removing the folder by hand empties the index again.
	require.NoError(t, os.RemoveAll(filepath.Join(store.BaseDir(), "dropped")))

	require.Eventually(t, func() bool {
		return len(store.List()) == 0
	}, 2*time.Second, 10*time.Millisecond, "index should drop the removed folder")
}

func TestWatcher_SeesDescriptorEdits(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("rename semantics differ on windows")
	}

	store := newTestStore(t)
	_, err := store.Create("weekend", "t", nil, false)
	require.NoError(t, err)

	watcher, err := NewWatcher(store, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go watcher.Run(ctx)

	// Rewrite the descriptor directly, bypassing the store.
	path := filepath.Join(store.BaseDir(), "weekend", MetadataFile)
	doc := `{"title":"t","playlists":[],"status":"ready","created_at":"2026-08-20T10:00:00Z","video_count":0,"is_fallback":false}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	require.Eventually(t, func() bool {
		list := store.List()
		return len(list) == 1 && list[0].Status == StatusReady
	}, 2*time.Second, 10*time.Millisecond, "index should reflect the edited descriptor")
}
