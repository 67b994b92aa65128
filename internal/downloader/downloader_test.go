package downloader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/rotarr/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeStubTool writes a shell script standing in for yt-dlp. Each
// invocation drops the given files into dir and exits with the given code.
func writeStubTool(t *testing.T, dir string, exitCode int, files ...string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub download tool requires a POSIX shell")
	}

	script := "#!/bin/sh\n"
	for _, f := range files {
		script += fmt.Sprintf("echo fake-video > %q\n", filepath.Join(dir, f))
	}
	script += fmt.Sprintf("exit %d\n", exitCode)

	path := filepath.Join(t.TempDir(), "yt-dlp-stub.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestWorker(t *testing.T, binary string) (*Worker, context.CancelFunc) {
	t.Helper()
	w := NewWorker(config.DownloaderConfig{
		Binary:                binary,
		FFprobeBinary:         "ffprobe-not-installed",
		Timeout:               time.Minute,
		RegistrationQueueSize: 32,
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	t.Cleanup(func() {
		cancel()
		w.Shutdown()
	})
	return w, cancel
}

func TestWorkerSuccessfulBatch(t *testing.T) {
	target := t.TempDir()
	stub := writeStubTool(t, target, 0, "MyList_01_first.mp4", "MyList_02_second.mp4")
	w, _ := newTestWorker(t, stub)

	ok := w.TryEnqueue(Batch{
		Playlists: []PlaylistJob{{Name: "MyList", URL: "https://example.com/list"}},
		TargetDir: target,
		Retries:   1,
	})
	require.True(t, ok)

	require.Eventually(t, func() bool {
		return w.ToComplete.Len() == 1 && !w.Busy()
	}, 10*time.Second, 20*time.Millisecond)

	assert.Equal(t, []string{"MyList"}, w.ToInitialize.Take())
	assert.Equal(t, []string{"MyList"}, w.ToComplete.Take())

	regs := w.Registrations.Drain(0)
	require.Len(t, regs, 2)
	assert.Equal(t, "MyList", regs[0].PlaylistName)
	assert.Equal(t, "MyList_01_first.mp4", regs[0].Filename)
	// ffprobe is unavailable in the test, size still comes from the stat.
	assert.Greater(t, regs[0].FileSizeMB, 0.0)

	assert.Equal(t, 0, w.ConsecutiveFailures())
}

func TestWorkerFailureIncrementsCounter(t *testing.T) {
	target := t.TempDir()
	stub := writeStubTool(t, target, 1)
	w, _ := newTestWorker(t, stub)

	require.True(t, w.TryEnqueue(Batch{
		Playlists: []PlaylistJob{
			{Name: "ListA", URL: "https://example.com/a"},
			{Name: "ListB", URL: "https://example.com/b"},
		},
		TargetDir: target,
		Retries:   2,
	}))

	require.Eventually(t, func() bool {
		return !w.Busy() && w.ToInitialize.Len() == 2
	}, 10*time.Second, 20*time.Millisecond)

	// Each exhausted playlist counts one failure; none completed.
	assert.Equal(t, 2, w.ConsecutiveFailures())
	assert.Equal(t, 0, w.ToComplete.Len())
	assert.Empty(t, w.Registrations.Drain(0))
}

func TestWorkerSuccessResetsFailures(t *testing.T) {
	target := t.TempDir()
	failing := writeStubTool(t, target, 1)
	w, _ := newTestWorker(t, failing)

	require.True(t, w.TryEnqueue(Batch{
		Playlists: []PlaylistJob{{Name: "Bad", URL: "https://example.com/bad"}},
		TargetDir: target,
		Retries:   1,
	}))
	require.Eventually(t, func() bool {
		return w.ConsecutiveFailures() == 1 && !w.Busy()
	}, 10*time.Second, 20*time.Millisecond)

	// Swap in a succeeding stub by overwriting the script.
	good := fmt.Sprintf("#!/bin/sh\necho fake-video > %q\nexit 0\n",
		filepath.Join(target, "Good_01_video.mp4"))
	require.NoError(t, os.WriteFile(failing, []byte(good), 0o755))

	require.True(t, w.TryEnqueue(Batch{
		Playlists: []PlaylistJob{{Name: "Good", URL: "https://example.com/good"}},
		TargetDir: target,
		Retries:   1,
	}))
	require.Eventually(t, func() bool {
		return w.ConsecutiveFailures() == 0 && w.ToComplete.Len() == 1
	}, 10*time.Second, 20*time.Millisecond)
}

func TestWorkerPartialOutputCountsAsSuccess(t *testing.T) {
	// yt-dlp exits non-zero when one playlist entry fails even though the
	// rest downloaded; files on disk mean the playlist is usable.
	target := t.TempDir()
	stub := writeStubTool(t, target, 1, "Part_01_video.mp4")
	w, _ := newTestWorker(t, stub)

	require.True(t, w.TryEnqueue(Batch{
		Playlists: []PlaylistJob{{Name: "Part", URL: "https://example.com/part"}},
		TargetDir: target,
		Retries:   1,
	}))

	require.Eventually(t, func() bool {
		return w.ToComplete.Len() == 1
	}, 10*time.Second, 20*time.Millisecond)

	assert.Equal(t, 0, w.ConsecutiveFailures())
	regs := w.Registrations.Drain(0)
	require.Len(t, regs, 1)
	assert.Equal(t, "Part_01_video.mp4", regs[0].Filename)
}

func TestWorkerRejectsEmptyBatch(t *testing.T) {
	target := t.TempDir()
	stub := writeStubTool(t, target, 0)
	w, _ := newTestWorker(t, stub)

	assert.False(t, w.TryEnqueue(Batch{TargetDir: target}))
}
